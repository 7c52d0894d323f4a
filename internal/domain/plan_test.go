package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func tod(h, m int) TimeOfDay { return TimeOfDay{Hour: h, Minute: m} }

func todPtr(h, m int) *TimeOfDay {
	t := tod(h, m)
	return &t
}

func TestPlanDraftValidate(t *testing.T) {
	base := PlanDraft{
		Date:      Date{Year: 2025, Month: time.January, Day: 20},
		StartTime: tod(9, 0),
		EndTime:   todPtr(10, 0),
		Title:     "Dentist",
	}

	assert.NoError(t, base.Validate())

	noTitle := base
	noTitle.Title = ""
	assert.ErrorIs(t, noTitle.Validate(), ErrTitleRequired)

	longTitle := base
	longTitle.Title = strings.Repeat("x", 101)
	assert.ErrorIs(t, longTitle.Validate(), ErrTitleTooLong)

	longDesc := base
	longDesc.Description = strings.Repeat("x", 501)
	assert.ErrorIs(t, longDesc.Validate(), ErrDescriptionTooLong)

	endBeforeStart := base
	endBeforeStart.EndTime = todPtr(8, 0)
	assert.ErrorIs(t, endBeforeStart.Validate(), ErrInvalidTimeRange)

	endEqualsStart := base
	endEqualsStart.EndTime = todPtr(9, 0)
	assert.ErrorIs(t, endEqualsStart.Validate(), ErrInvalidTimeRange)

	noEnd := base
	noEnd.EndTime = nil
	assert.NoError(t, noEnd.Validate())
}

func TestPlanOverlaps(t *testing.T) {
	date := Date{Year: 2025, Month: time.January, Day: 20}
	mk := func(start, end TimeOfDay) *Plan {
		return &Plan{UserID: "u1", Date: date, StartTime: start, EndTime: &end}
	}

	a := mk(tod(9, 0), tod(10, 0))

	assert.True(t, a.Overlaps(mk(tod(9, 30), tod(10, 30))))
	assert.True(t, a.Overlaps(mk(tod(8, 0), tod(9, 30))))
	assert.True(t, a.Overlaps(mk(tod(8, 0), tod(11, 0))))

	// Touching boundaries do not conflict
	assert.False(t, a.Overlaps(mk(tod(10, 0), tod(11, 0))))
	assert.False(t, a.Overlaps(mk(tod(8, 0), tod(9, 0))))

	// Different date or owner never conflicts
	other := mk(tod(9, 30), tod(10, 30))
	other.Date = date.AddDays(1)
	assert.False(t, a.Overlaps(other))

	foreign := mk(tod(9, 30), tod(10, 30))
	foreign.UserID = "u2"
	assert.False(t, a.Overlaps(foreign))

	// A plan without an end occupies a zero-length interval
	point := &Plan{UserID: "u1", Date: date, StartTime: tod(9, 0)}
	assert.False(t, point.Overlaps(point))
	assert.True(t, a.Overlaps(&Plan{UserID: "u1", Date: date, StartTime: tod(9, 30)}))
}

func TestSubscriptionLevel(t *testing.T) {
	assert.Equal(t, 14, SubscriptionFree.HorizonDays())
	assert.Equal(t, 60, SubscriptionPro.HorizonDays())
	assert.Equal(t, 365, SubscriptionUltra.HorizonDays())

	level, err := ParseSubscriptionLevel("PRO")
	assert.NoError(t, err)
	assert.Equal(t, SubscriptionPro, level)

	_, err = ParseSubscriptionLevel("PLATINUM")
	assert.ErrorIs(t, err, ErrInvalidSubscription)
}

func TestEffectiveSubscription(t *testing.T) {
	now := time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)

	s := NewUserSettings("u1", now)
	assert.Equal(t, SubscriptionFree, s.EffectiveSubscription(now))

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	s.Subscription = SubscriptionPro
	s.SubscriptionExpires = &future
	assert.Equal(t, SubscriptionPro, s.EffectiveSubscription(now))

	s.SubscriptionExpires = &past
	assert.Equal(t, SubscriptionFree, s.EffectiveSubscription(now))

	// No expiry recorded means the level stands
	s.SubscriptionExpires = nil
	assert.Equal(t, SubscriptionPro, s.EffectiveSubscription(now))
}
