package domain

import (
	"time"
	"unicode/utf8"
)

const (
	maxTitleLength       = 100
	maxDescriptionLength = 500
)

// Plan is a single calendar entry owned by a user. Times are civil values
// in the user's wall clock; NotifyAt is the UTC instant dispatch was
// scheduled for, persisted so restart recovery does not depend on the
// timezone in effect at recovery time.
type Plan struct {
	ID          string
	UserID      string
	Date        Date
	StartTime   TimeOfDay
	EndTime     *TimeOfDay
	Title       string
	Description string
	Notified    bool
	NotifyAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PlanDraft carries the caller-supplied fields for create and update.
type PlanDraft struct {
	Date        Date
	StartTime   TimeOfDay
	EndTime     *TimeOfDay
	Title       string
	Description string
}

// Validate checks field lengths and time ordering. A missing end time is
// allowed; when present it must be strictly after the start.
func (d PlanDraft) Validate() error {
	if d.Title == "" {
		return ErrTitleRequired
	}
	if utf8.RuneCountInString(d.Title) > maxTitleLength {
		return ErrTitleTooLong
	}
	if utf8.RuneCountInString(d.Description) > maxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if d.EndTime != nil && d.EndTime.Compare(d.StartTime) <= 0 {
		return ErrInvalidTimeRange
	}
	return nil
}

// EffectiveEnd returns the end of the plan's half-open interval. A plan
// without an end time occupies the zero-length interval [start, start):
// under the strict rule it conflicts only when its start lies strictly
// inside another plan's interval, never at a shared boundary.
func (p *Plan) EffectiveEnd() TimeOfDay {
	if p.EndTime == nil {
		return p.StartTime
	}
	return *p.EndTime
}

// Overlaps reports whether the [start, end) intervals of p and other
// intersect. Touching boundaries do not overlap.
func (p *Plan) Overlaps(other *Plan) bool {
	if p.Date != other.Date || p.UserID != other.UserID {
		return false
	}
	return p.StartTime.Compare(other.EffectiveEnd()) < 0 &&
		p.EffectiveEnd().Compare(other.StartTime) > 0
}
