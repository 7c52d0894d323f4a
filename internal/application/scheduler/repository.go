package scheduler

import (
	"context"
	"time"

	"github.com/rezkam/flow7/internal/domain"
)

// JobStore persists one-shot dispatch jobs keyed by plan identity.
type JobStore interface {
	// UpsertJob inserts or replaces a job. Idempotent.
	UpsertJob(ctx context.Context, job *domain.SchedulerJob) error

	// RemoveJob deletes a job. Silent when absent.
	RemoveJob(ctx context.Context, jobID string) error

	// DueJobs returns unacquired jobs with run_at <= before, ordered by
	// run_at ascending.
	DueJobs(ctx context.Context, before time.Time) ([]*domain.SchedulerJob, error)

	// NextRunAt returns the earliest run_at among unacquired jobs, or nil
	// when the store is empty.
	NextRunAt(ctx context.Context) (*time.Time, error)

	// AcquireJob atomically marks a job in-flight for workerID. Returns
	// false when the job is absent or already acquired, so no two workers
	// dispatch the same plan.
	AcquireJob(ctx context.Context, jobID, workerID string) (bool, error)

	// CompleteJob removes a job after dispatch finished or was
	// deliberately suppressed.
	CompleteJob(ctx context.Context, jobID string) error

	// ReleaseStaleJobs clears the acquired marker from jobs whose
	// acquisition is older than olderThan, returning how many were
	// released. Heals jobs orphaned by a crashed worker.
	ReleaseStaleJobs(ctx context.Context, olderThan time.Time) (int, error)
}

// PlanStore is the slice of plan persistence the scheduler drives.
type PlanStore interface {
	FindPlanByID(ctx context.Context, id string) (*domain.Plan, error)

	// ListPendingForUser returns the user's plans with notified=false and
	// date in [from, to].
	ListPendingForUser(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error)

	// ListPendingInRange returns pending plans across all users, used by
	// startup recovery.
	ListPendingInRange(ctx context.Context, from, to domain.Date) ([]*domain.Plan, error)

	// SetNotifySchedule persists the instant dispatch is scheduled for.
	SetNotifySchedule(ctx context.Context, planID string, notifyAt *time.Time) error

	// MarkNotified finalizes a plan without dispatching.
	MarkNotified(ctx context.Context, planID string) error
}

// ZoneResolver maps a user to their effective IANA zone.
type ZoneResolver interface {
	EffectiveZone(ctx context.Context, uid string) *time.Location
}

// Dispatcher delivers the notification for a plan. Implementations
// consult the plan's notified flag before emitting.
type Dispatcher interface {
	Dispatch(ctx context.Context, planID string) error
}
