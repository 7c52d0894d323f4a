package tz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rezkam/flow7/internal/domain"
)

// SettingsReader is the slice of the settings store the resolver needs.
type SettingsReader interface {
	GetSettings(ctx context.Context, uid string) (*domain.UserSettings, error)
}

// Resolver maps a user to their effective IANA zone and converts civil
// values to UTC instants. Resolution order: unexpired session zone, then
// persistent zone, then the default. A stored zone that fails to load
// degrades silently to the default so a corrupt setting can never block
// dispatch.
type Resolver struct {
	settings SettingsReader
	clock    Clock
}

// NewResolver creates a Resolver backed by the given settings reader.
func NewResolver(settings SettingsReader, clock Clock) *Resolver {
	return &Resolver{settings: settings, clock: clock}
}

// EffectiveZone resolves the user's zone. It never fails; lookup or parse
// errors fall back to the default zone.
func (r *Resolver) EffectiveZone(ctx context.Context, uid string) *time.Location {
	settings, err := r.settings.GetSettings(ctx, uid)
	if err != nil {
		slog.WarnContext(ctx, "settings lookup failed, using default zone", "uid", uid, "error", err)
		return defaultLocation()
	}
	return ZoneFromSettings(ctx, settings, r.clock.NowUTC())
}

// ZoneFromSettings applies the resolution order to an already-loaded
// settings row.
func ZoneFromSettings(ctx context.Context, settings *domain.UserSettings, now time.Time) *time.Location {
	if settings.SessionTimezone != nil && settings.SessionTZExpiresAt != nil && !now.After(*settings.SessionTZExpiresAt) {
		if loc, err := time.LoadLocation(*settings.SessionTimezone); err == nil {
			return loc
		}
		slog.WarnContext(ctx, "stored session timezone failed to load", "uid", settings.UID, "zone", *settings.SessionTimezone)
	}
	if settings.Timezone != "" {
		if loc, err := time.LoadLocation(settings.Timezone); err == nil {
			return loc
		}
		slog.WarnContext(ctx, "stored timezone failed to load", "uid", settings.UID, "zone", settings.Timezone)
	}
	return defaultLocation()
}

// Validate checks a zone string against the platform IANA database.
// Used at the ingress; stored zones are never re-validated on the
// dispatch path.
func Validate(zone string) error {
	if zone == "" {
		return domain.ErrInvalidTimezone
	}
	if _, err := time.LoadLocation(zone); err != nil {
		return fmt.Errorf("%w: %q", domain.ErrInvalidTimezone, zone)
	}
	return nil
}

// LocalToUTC composes a civil date and time in the given zone and returns
// the UTC instant. time.Date normalizes DST-nonexistent values forward to
// the next valid instant.
func LocalToUTC(loc *time.Location, date domain.Date, t domain.TimeOfDay) time.Time {
	return time.Date(date.Year, date.Month, date.Day, t.Hour, t.Minute, 0, 0, loc).UTC()
}

// UTCToLocal splits a UTC instant into the civil date and time it reads
// as in the given zone.
func UTCToLocal(loc *time.Location, instant time.Time) (domain.Date, domain.TimeOfDay) {
	local := instant.In(loc)
	date := domain.Date{Year: local.Year(), Month: local.Month(), Day: local.Day()}
	return date, domain.TimeOfDay{Hour: local.Hour(), Minute: local.Minute()}
}

func defaultLocation() *time.Location {
	loc, err := time.LoadLocation(domain.DefaultTimezone)
	if err != nil {
		// The embedded tzdata for the default zone is expected to exist;
		// UTC keeps dispatch alive if the platform database is broken.
		return time.UTC
	}
	return loc
}
