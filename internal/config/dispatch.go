package config

import "time"

// DispatchConfig tunes notification delivery. Zero values fall back to
// the dispatch package defaults.
type DispatchConfig struct {
	// Retries is the number of delivery attempts per device token.
	Retries int `env:"FLOW7_DISPATCH_RETRIES"`

	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration `env:"FLOW7_DISPATCH_BACKOFF_BASE"`

	// AttemptTimeout bounds a single delivery attempt.
	AttemptTimeout time.Duration `env:"FLOW7_DISPATCH_ATTEMPT_TIMEOUT"`
}
