package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across services and repository implementations.

var (
	// ErrPlanNotFound indicates the requested plan does not exist.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrDeviceNotFound indicates the device token is not registered.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrSettingsNotFound indicates the user has no settings row yet.
	ErrSettingsNotFound = errors.New("settings not found")

	// ErrForbidden indicates the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthenticated indicates the bearer token could not be resolved to a uid.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidDate indicates a malformed civil date string.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidTime indicates a malformed civil time string.
	ErrInvalidTime = errors.New("invalid time")

	// ErrInvalidTimeRange indicates end_time is not after start_time.
	ErrInvalidTimeRange = errors.New("end_time must be after start_time")

	// ErrTitleRequired indicates an empty plan title.
	ErrTitleRequired = errors.New("title is required")

	// ErrTitleTooLong indicates the title exceeds the allowed length.
	ErrTitleTooLong = errors.New("title too long")

	// ErrDescriptionTooLong indicates the description exceeds the allowed length.
	ErrDescriptionTooLong = errors.New("description too long")

	// ErrTokenRequired indicates an empty device token.
	ErrTokenRequired = errors.New("device token is required")

	// ErrInvalidTimezone indicates a zone string not present in the IANA database.
	ErrInvalidTimezone = errors.New("invalid timezone")

	// ErrInvalidRange indicates a malformed list range (from after to).
	ErrInvalidRange = errors.New("invalid date range")

	// ErrInvalidSubscription indicates an unknown subscription level.
	ErrInvalidSubscription = errors.New("invalid subscription level")
)

// ConflictError reports plans that overlap the requested interval.
type ConflictError struct {
	PlanIDs []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("plan overlaps existing plans: %s", strings.Join(e.PlanIDs, ", "))
}

// TierLimitError reports a plan date beyond the subscription horizon.
type TierLimitError struct {
	Level     SubscriptionLevel
	LimitDate Date
}

func (e *TierLimitError) Error() string {
	return fmt.Sprintf("%s tier allows planning up to %s", e.Level, e.LimitDate)
}
