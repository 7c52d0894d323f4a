package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rezkam/flow7/internal/domain"
)

const settingsColumns = `uid, language, theme, country, city, timezone, session_timezone, session_tz_expires_at,
	notifications_enabled, subscription_level, subscription_expires_at, subscription_score, created_at, updated_at`

// GetSettings retrieves a user's settings row.
func (s *Store) GetSettings(ctx context.Context, uid string) (*domain.UserSettings, error) {
	row := s.db.QueryRow(ctx, `SELECT `+settingsColumns+` FROM user_settings WHERE uid = $1`, uid)
	settings, err := scanSettings(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	return settings, nil
}

// UpsertSettings inserts or fully replaces a settings row. Writes are
// last-writer-wins per row.
func (s *Store) UpsertSettings(ctx context.Context, u *domain.UserSettings) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_settings (uid, language, theme, country, city, timezone, session_timezone, session_tz_expires_at,
			notifications_enabled, subscription_level, subscription_expires_at, subscription_score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (uid) DO UPDATE SET
			language = EXCLUDED.language,
			theme = EXCLUDED.theme,
			country = EXCLUDED.country,
			city = EXCLUDED.city,
			timezone = EXCLUDED.timezone,
			session_timezone = EXCLUDED.session_timezone,
			session_tz_expires_at = EXCLUDED.session_tz_expires_at,
			notifications_enabled = EXCLUDED.notifications_enabled,
			subscription_level = EXCLUDED.subscription_level,
			subscription_expires_at = EXCLUDED.subscription_expires_at,
			subscription_score = EXCLUDED.subscription_score,
			updated_at = EXCLUDED.updated_at`,
		u.UID, u.Language, u.Theme, u.Country, u.City, u.Timezone, u.SessionTimezone, u.SessionTZExpiresAt,
		u.NotificationsEnabled, string(u.Subscription), u.SubscriptionExpires, u.SubscriptionScore,
		u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert settings: %w", err)
	}
	return nil
}

// RegisterDevice inserts a device endpoint; an existing token moves to
// the registering uid.
func (s *Store) RegisterDevice(ctx context.Context, d *domain.DeviceEndpoint) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO device_tokens (token, uid, provider, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token) DO UPDATE SET
			uid = EXCLUDED.uid,
			provider = EXCLUDED.provider`,
		d.Token, d.UID, d.Provider, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

// RemoveDevice deletes a token registered to uid.
func (s *Store) RemoveDevice(ctx context.Context, uid, token string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM device_tokens WHERE token = $1 AND uid = $2`, token, uid)
	if err != nil {
		return fmt.Errorf("failed to remove device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDeviceNotFound
	}
	return nil
}

// ListDevices returns the user's registered endpoints ordered by
// registration time.
func (s *Store) ListDevices(ctx context.Context, uid string) ([]*domain.DeviceEndpoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT token, uid, provider, created_at FROM device_tokens
		WHERE uid = $1 ORDER BY created_at`, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []*domain.DeviceEndpoint
	for rows.Next() {
		var d domain.DeviceEndpoint
		if err := rows.Scan(&d.Token, &d.UID, &d.Provider, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		d.CreatedAt = d.CreatedAt.UTC()
		devices = append(devices, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read device rows: %w", err)
	}
	return devices, nil
}

func scanSettings(row rowScanner) (*domain.UserSettings, error) {
	var (
		u     domain.UserSettings
		level string
	)
	if err := row.Scan(&u.UID, &u.Language, &u.Theme, &u.Country, &u.City, &u.Timezone,
		&u.SessionTimezone, &u.SessionTZExpiresAt, &u.NotificationsEnabled,
		&level, &u.SubscriptionExpires, &u.SubscriptionScore, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Subscription = domain.SubscriptionLevel(level)
	if u.SessionTZExpiresAt != nil {
		utc := u.SessionTZExpiresAt.UTC()
		u.SessionTZExpiresAt = &utc
	}
	if u.SubscriptionExpires != nil {
		utc := u.SubscriptionExpires.UTC()
		u.SubscriptionExpires = &utc
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}
