package plan

import (
	"context"
	"time"

	"github.com/rezkam/flow7/internal/domain"
)

// Repository defines storage operations for plan management.
type Repository interface {
	// CreatePlan persists a new plan.
	CreatePlan(ctx context.Context, p *domain.Plan) error

	// FindPlanByID retrieves a plan by its id.
	// Returns domain.ErrPlanNotFound if the plan doesn't exist.
	FindPlanByID(ctx context.Context, id string) (*domain.Plan, error)

	// ListPlansByRange retrieves a user's plans with date in [from, to],
	// ordered by (date, start_time).
	ListPlansByRange(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error)

	// UpdatePlan replaces the mutable fields of an existing plan.
	// Returns domain.ErrPlanNotFound if the plan doesn't exist.
	UpdatePlan(ctx context.Context, p *domain.Plan) error

	// DeletePlan removes a plan.
	// Returns domain.ErrPlanNotFound if the plan doesn't exist.
	DeletePlan(ctx context.Context, id string) error

	// FindOverlapping returns the user's plans on date whose [start, end)
	// interval strictly overlaps [start, end), excluding excludeID when
	// non-empty. Inside Atomic the check serializes per (user, date) slot,
	// so two concurrent inserts cannot both see a clear slot.
	FindOverlapping(ctx context.Context, uid string, date domain.Date, start, end domain.TimeOfDay, excludeID string) ([]*domain.Plan, error)

	// ListPendingForUser returns the user's plans with notified=false and
	// date in [from, to], ordered by (date, start_time).
	ListPendingForUser(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error)

	// SetNotifySchedule persists the UTC instant dispatch is scheduled for
	// (nil clears it).
	SetNotifySchedule(ctx context.Context, planID string, notifyAt *time.Time) error

	// MarkNotified sets notified=true.
	MarkNotified(ctx context.Context, planID string) error

	// Atomic runs fn inside a single transaction. The Repository passed to
	// fn executes against that transaction.
	Atomic(ctx context.Context, fn func(Repository) error) error
}

// SettingsReader provides the settings fields the plan service consults.
type SettingsReader interface {
	// GetSettings retrieves a user's settings row.
	// Returns domain.ErrSettingsNotFound if the user has none yet.
	GetSettings(ctx context.Context, uid string) (*domain.UserSettings, error)
}

// Notifier is the scheduler surface the plan service drives. Failures are
// logged by the service, never surfaced to the API caller.
type Notifier interface {
	// Schedule computes and persists the plan's notify instant and inserts
	// the dispatch job when the instant is in the future.
	Schedule(ctx context.Context, p *domain.Plan) error

	// Cancel removes the plan's dispatch job if one exists.
	Cancel(ctx context.Context, planID string) error
}
