package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-01-20")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2025, Month: time.January, Day: 20}, d)
	assert.Equal(t, "2025-01-20", d.String())

	_, err = ParseDate("2025-1-20")
	assert.ErrorIs(t, err, ErrInvalidDate)

	_, err = ParseDate("not-a-date")
	assert.ErrorIs(t, err, ErrInvalidDate)

	_, err = ParseDate("2025-02-30")
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestDateAddDays(t *testing.T) {
	d := Date{Year: 2025, Month: time.January, Day: 30}
	assert.Equal(t, "2025-02-01", d.AddDays(2).String())
	assert.Equal(t, "2025-01-29", d.AddDays(-1).String())

	// Leap day normalization
	leap := Date{Year: 2024, Month: time.February, Day: 28}
	assert.Equal(t, "2024-02-29", leap.AddDays(1).String())
}

func TestDateCompare(t *testing.T) {
	a := Date{Year: 2025, Month: time.January, Day: 20}
	b := Date{Year: 2025, Month: time.January, Day: 21}
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.True(t, b.After(a))
	assert.True(t, a.Before(b))
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("09:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 9, Minute: 30}, tod)
	assert.Equal(t, "09:30", tod.String())

	_, err = ParseTimeOfDay("9:30")
	assert.ErrorIs(t, err, ErrInvalidTime)

	_, err = ParseTimeOfDay("25:00")
	assert.ErrorIs(t, err, ErrInvalidTime)
}

func TestTimeOfDayCompare(t *testing.T) {
	a := TimeOfDay{Hour: 9, Minute: 0}
	b := TimeOfDay{Hour: 9, Minute: 30}
	c := TimeOfDay{Hour: 10, Minute: 0}
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, -1, b.Compare(c))
	assert.Equal(t, 1, c.Compare(a))
	assert.Equal(t, 0, b.Compare(b))
}
