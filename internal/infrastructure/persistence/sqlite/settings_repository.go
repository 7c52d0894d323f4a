package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rezkam/flow7/internal/domain"
)

const settingsColumns = `uid, language, theme, country, city, timezone, session_timezone, session_tz_expires_at,
	notifications_enabled, subscription_level, subscription_expires_at, subscription_score, created_at, updated_at`

// GetSettings retrieves a user's settings row.
func (s *Store) GetSettings(ctx context.Context, uid string) (*domain.UserSettings, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+settingsColumns+` FROM user_settings WHERE uid = ?`, uid)
	settings, err := scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_settings (uid, language, theme, country, city, timezone, session_timezone, session_tz_expires_at,
			notifications_enabled, subscription_level, subscription_expires_at, subscription_score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		u.UID, u.Language, u.Theme, u.Country, u.City, u.Timezone,
		u.SessionTimezone, encodeTimePtr(u.SessionTZExpiresAt),
		u.NotificationsEnabled, string(u.Subscription), encodeTimePtr(u.SubscriptionExpires), u.SubscriptionScore,
		encodeTime(u.CreatedAt), encodeTime(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert settings: %w", err)
	}
	return nil
}

// RegisterDevice inserts a device endpoint; an existing token moves to
// the registering uid.
func (s *Store) RegisterDevice(ctx context.Context, d *domain.DeviceEndpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_tokens (token, uid, provider, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (token) DO UPDATE SET
			uid = EXCLUDED.uid,
			provider = EXCLUDED.provider`,
		d.Token, d.UID, d.Provider, encodeTime(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

// RemoveDevice deletes a token registered to uid.
func (s *Store) RemoveDevice(ctx context.Context, uid, token string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM device_tokens WHERE token = ? AND uid = ?`, token, uid)
	if err != nil {
		return fmt.Errorf("failed to remove device: %w", err)
	}
	return requireRow(res, domain.ErrDeviceNotFound)
}

// ListDevices returns the user's registered endpoints ordered by
// registration time.
func (s *Store) ListDevices(ctx context.Context, uid string) ([]*domain.DeviceEndpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, uid, provider, created_at FROM device_tokens
		WHERE uid = ? ORDER BY created_at`, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []*domain.DeviceEndpoint
	for rows.Next() {
		var (
			d          domain.DeviceEndpoint
			createdStr string
		)
		if err := rows.Scan(&d.Token, &d.UID, &d.Provider, &createdStr); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		if d.CreatedAt, err = decodeTime(createdStr); err != nil {
			return nil, fmt.Errorf("corrupt created_at for device: %w", err)
		}
		devices = append(devices, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read device rows: %w", err)
	}
	return devices, nil
}

func scanSettings(row rowScanner) (*domain.UserSettings, error) {
	var (
		u             domain.UserSettings
		level         string
		sessionExpStr *string
		subExpStr     *string
		createdStr    string
		updatedStr    string
	)
	if err := row.Scan(&u.UID, &u.Language, &u.Theme, &u.Country, &u.City, &u.Timezone,
		&u.SessionTimezone, &sessionExpStr, &u.NotificationsEnabled,
		&level, &subExpStr, &u.SubscriptionScore, &createdStr, &updatedStr); err != nil {
		return nil, err
	}
	u.Subscription = domain.SubscriptionLevel(level)

	var err error
	if u.SessionTZExpiresAt, err = decodeTimePtr(sessionExpStr); err != nil {
		return nil, fmt.Errorf("corrupt session_tz_expires_at for %s: %w", u.UID, err)
	}
	if u.SubscriptionExpires, err = decodeTimePtr(subExpStr); err != nil {
		return nil, fmt.Errorf("corrupt subscription_expires_at for %s: %w", u.UID, err)
	}
	if u.CreatedAt, err = decodeTime(createdStr); err != nil {
		return nil, fmt.Errorf("corrupt created_at for %s: %w", u.UID, err)
	}
	if u.UpdatedAt, err = decodeTime(updatedStr); err != nil {
		return nil, fmt.Errorf("corrupt updated_at for %s: %w", u.UID, err)
	}
	return &u, nil
}
