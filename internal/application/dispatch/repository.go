package dispatch

import (
	"context"
	"time"

	"github.com/rezkam/flow7/internal/domain"
)

// PlanStore is the slice of plan persistence the dispatcher touches.
type PlanStore interface {
	// FindPlanByID retrieves a plan by id.
	// Returns domain.ErrPlanNotFound if the plan doesn't exist.
	FindPlanByID(ctx context.Context, id string) (*domain.Plan, error)

	// MarkNotified sets notified=true after delivery or deliberate
	// suppression.
	MarkNotified(ctx context.Context, planID string) error
}

// SettingsReader provides the notification switch and timezone fields.
type SettingsReader interface {
	// GetSettings retrieves a user's settings row.
	// Returns domain.ErrSettingsNotFound if the user has none yet.
	GetSettings(ctx context.Context, uid string) (*domain.UserSettings, error)
}

// DeviceReader enumerates a user's push endpoints.
type DeviceReader interface {
	ListDevices(ctx context.Context, uid string) ([]*domain.DeviceEndpoint, error)
}

// ZoneResolver maps a user to their effective IANA zone.
type ZoneResolver interface {
	EffectiveZone(ctx context.Context, uid string) *time.Location
}
