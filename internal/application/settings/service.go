package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rezkam/flow7/internal/domain"
	"github.com/rezkam/flow7/internal/tz"
)

// DefaultProvider is assumed when a device registers without naming one.
const DefaultProvider = "fcm"

// ProfileUpdate carries optional profile fields; nil means unchanged.
type ProfileUpdate struct {
	Language *string
	Theme    *string
	Country  *string
	City     *string
}

// Service provides business logic for user settings and device
// registration.
type Service struct {
	repo        Repository
	rescheduler Rescheduler
	clock       tz.Clock
}

// NewService creates a new settings service.
func NewService(repo Repository, rescheduler Rescheduler, clock tz.Clock) *Service {
	return &Service{
		repo:        repo,
		rescheduler: rescheduler,
		clock:       clock,
	}
}

// Ensure returns the user's settings, creating the defaults row on first
// touch.
func (s *Service) Ensure(ctx context.Context, uid string) (*domain.UserSettings, error) {
	existing, err := s.repo.GetSettings(ctx, uid)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrSettingsNotFound) {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	created := domain.NewUserSettings(uid, s.clock.NowUTC())
	if err := s.repo.UpsertSettings(ctx, created); err != nil {
		return nil, fmt.Errorf("failed to create settings: %w", err)
	}
	return created, nil
}

// SetTimezone validates the zone against the IANA database and stores it
// either persistently or as a session override with a TTL. Pending
// notifications are rescheduled in the background.
func (s *Service) SetTimezone(ctx context.Context, uid, zone string, persist bool, ttlHours int) error {
	if err := tz.Validate(zone); err != nil {
		return err
	}

	settings, err := s.Ensure(ctx, uid)
	if err != nil {
		return err
	}

	now := s.clock.NowUTC()
	if persist {
		settings.Timezone = zone
		settings.SessionTimezone = nil
		settings.SessionTZExpiresAt = nil
	} else {
		ttl := domain.DefaultSessionTTL
		if ttlHours > 0 {
			ttl = time.Duration(ttlHours) * time.Hour
		}
		expires := now.Add(ttl)
		settings.SessionTimezone = &zone
		settings.SessionTZExpiresAt = &expires
	}
	settings.UpdatedAt = now

	if err := s.repo.UpsertSettings(ctx, settings); err != nil {
		return fmt.Errorf("failed to store timezone: %w", err)
	}

	s.rescheduler.RescheduleUserAsync(uid)
	return nil
}

// SetNotificationsEnabled flips the global notification switch. Turning
// it back on reschedules pending plans that have no job.
func (s *Service) SetNotificationsEnabled(ctx context.Context, uid string, enabled bool) error {
	settings, err := s.Ensure(ctx, uid)
	if err != nil {
		return err
	}

	settings.NotificationsEnabled = enabled
	settings.UpdatedAt = s.clock.NowUTC()
	if err := s.repo.UpsertSettings(ctx, settings); err != nil {
		return fmt.Errorf("failed to store notification setting: %w", err)
	}

	if enabled {
		s.rescheduler.RescheduleUserAsync(uid)
	}
	return nil
}

// UpdateProfile applies the non-nil profile fields.
func (s *Service) UpdateProfile(ctx context.Context, uid string, update ProfileUpdate) (*domain.UserSettings, error) {
	settings, err := s.Ensure(ctx, uid)
	if err != nil {
		return nil, err
	}

	if update.Language != nil {
		settings.Language = *update.Language
	}
	if update.Theme != nil {
		settings.Theme = *update.Theme
	}
	if update.Country != nil {
		settings.Country = *update.Country
	}
	if update.City != nil {
		settings.City = *update.City
	}
	settings.UpdatedAt = s.clock.NowUTC()

	if err := s.repo.UpsertSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to store profile: %w", err)
	}
	return settings, nil
}

// SetSubscription stores a subscription level with optional expiry and
// score.
func (s *Service) SetSubscription(ctx context.Context, uid, level string, expiresAt *time.Time, score *int) (*domain.UserSettings, error) {
	parsed, err := domain.ParseSubscriptionLevel(level)
	if err != nil {
		return nil, err
	}

	settings, err := s.Ensure(ctx, uid)
	if err != nil {
		return nil, err
	}

	settings.Subscription = parsed
	settings.SubscriptionExpires = expiresAt
	if score != nil {
		settings.SubscriptionScore = *score
	}
	settings.UpdatedAt = s.clock.NowUTC()

	if err := s.repo.UpsertSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to store subscription: %w", err)
	}
	return settings, nil
}

// RegisterDevice records a push endpoint for the user. Registering a
// token already held by another user moves it.
func (s *Service) RegisterDevice(ctx context.Context, uid, token, provider string) error {
	if token == "" {
		return domain.ErrTokenRequired
	}
	if provider == "" {
		provider = DefaultProvider
	}

	d := &domain.DeviceEndpoint{
		UID:       uid,
		Token:     token,
		Provider:  provider,
		CreatedAt: s.clock.NowUTC(),
	}
	if err := s.repo.RegisterDevice(ctx, d); err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

// UnregisterDevice removes a push endpoint owned by the user.
func (s *Service) UnregisterDevice(ctx context.Context, uid, token string) error {
	return s.repo.RemoveDevice(ctx, uid, token)
}

// ListDevices returns the user's registered endpoints.
func (s *Service) ListDevices(ctx context.Context, uid string) ([]*domain.DeviceEndpoint, error) {
	return s.repo.ListDevices(ctx, uid)
}
