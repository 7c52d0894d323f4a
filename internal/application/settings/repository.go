package settings

import (
	"context"

	"github.com/rezkam/flow7/internal/domain"
)

// Repository defines storage operations for user settings and device
// endpoints.
type Repository interface {
	// GetSettings retrieves a user's settings row.
	// Returns domain.ErrSettingsNotFound if the user has none yet.
	GetSettings(ctx context.Context, uid string) (*domain.UserSettings, error)

	// UpsertSettings inserts or fully replaces a settings row.
	UpsertSettings(ctx context.Context, s *domain.UserSettings) error

	// RegisterDevice inserts a device endpoint. Tokens are globally
	// unique; re-registering an existing token moves it to the new uid.
	RegisterDevice(ctx context.Context, d *domain.DeviceEndpoint) error

	// RemoveDevice deletes a token registered to uid.
	// Returns domain.ErrDeviceNotFound if no such registration exists.
	RemoveDevice(ctx context.Context, uid, token string) error

	// ListDevices returns the user's registered endpoints.
	ListDevices(ctx context.Context, uid string) ([]*domain.DeviceEndpoint, error)
}

// Rescheduler re-binds a user's pending notification jobs after a change
// that moves their effective timezone or re-enables notifications. Runs
// off the request path.
type Rescheduler interface {
	RescheduleUserAsync(uid string)
}
