package domain

import "time"

// DefaultTimezone is used when a user has no stored zone or the stored
// zone fails to load.
const DefaultTimezone = "Europe/Istanbul"

// DefaultSessionTTL bounds how long a session timezone override stays in
// effect when the caller does not supply a TTL.
const DefaultSessionTTL = 168 * time.Hour

// SubscriptionLevel determines how far into the future a user may plan.
type SubscriptionLevel string

const (
	SubscriptionFree  SubscriptionLevel = "FREE"
	SubscriptionPro   SubscriptionLevel = "PRO"
	SubscriptionUltra SubscriptionLevel = "ULTRA"
)

// ParseSubscriptionLevel validates a caller-supplied level string.
func ParseSubscriptionLevel(s string) (SubscriptionLevel, error) {
	switch SubscriptionLevel(s) {
	case SubscriptionFree, SubscriptionPro, SubscriptionUltra:
		return SubscriptionLevel(s), nil
	default:
		return "", ErrInvalidSubscription
	}
}

// HorizonDays returns how many days past today the level allows plans for.
func (l SubscriptionLevel) HorizonDays() int {
	switch l {
	case SubscriptionPro:
		return 60
	case SubscriptionUltra:
		return 365
	default:
		return 14
	}
}

// UserSettings holds per-user preferences and subscription state.
// The session timezone overrides the persistent one until it expires.
type UserSettings struct {
	UID                  string
	Language             string
	Theme                string
	Country              string
	City                 string
	Timezone             string
	SessionTimezone      *string
	SessionTZExpiresAt   *time.Time
	NotificationsEnabled bool
	Subscription         SubscriptionLevel
	SubscriptionExpires  *time.Time
	SubscriptionScore    int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewUserSettings returns the defaults row created on a user's first touch.
func NewUserSettings(uid string, now time.Time) *UserSettings {
	return &UserSettings{
		UID:                  uid,
		Language:             "en",
		Theme:                "system",
		Timezone:             DefaultTimezone,
		NotificationsEnabled: true,
		Subscription:         SubscriptionFree,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// EffectiveSubscription degrades an expired paid subscription to FREE.
func (s *UserSettings) EffectiveSubscription(now time.Time) SubscriptionLevel {
	if s.Subscription == SubscriptionFree {
		return SubscriptionFree
	}
	if s.SubscriptionExpires != nil && now.After(*s.SubscriptionExpires) {
		return SubscriptionFree
	}
	return s.Subscription
}
