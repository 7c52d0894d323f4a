package config

import "time"

// SchedulerConfig tunes the notification scheduler. Zero values fall
// back to the scheduler package defaults.
type SchedulerConfig struct {
	// PoolSize is the number of concurrent dispatch workers.
	PoolSize int `env:"FLOW7_SCHEDULER_POOL_SIZE"`

	// PollInterval caps how long the pump sleeps between due-job scans.
	PollInterval time.Duration `env:"FLOW7_SCHEDULER_POLL_INTERVAL"`

	// GraceWindow is how far past its instant a pending plan is still
	// dispatched at startup recovery.
	GraceWindow time.Duration `env:"FLOW7_SCHEDULER_GRACE_WINDOW"`

	// OperationTimeout bounds each background scheduling operation.
	OperationTimeout time.Duration `env:"FLOW7_SCHEDULER_OPERATION_TIMEOUT"`
}
