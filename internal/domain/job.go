package domain

import "time"

// JobIDPrefix keys scheduler jobs to their plan.
const JobIDPrefix = "plan_"

// DefaultMisfireGrace is how far past run_at a job may still fire under
// normal operation. Recovery extends it to RecoveryMisfireGrace for jobs
// rescheduled after a restart.
const (
	DefaultMisfireGrace  = 60 * time.Second
	RecoveryMisfireGrace = 3600 * time.Second
)

// SchedulerJob is a persisted one-shot dispatch intent, 1:1 with a plan.
type SchedulerJob struct {
	JobID        string
	RunAt        time.Time
	PlanID       string
	MisfireGrace time.Duration
	AcquiredBy   *string
	AcquiredAt   *time.Time
}

// PlanJobID returns the job id for a plan.
func PlanJobID(planID string) string {
	return JobIDPrefix + planID
}
