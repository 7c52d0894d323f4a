package tz

import "time"

// Clock provides the current UTC instant. Injectable so scheduler and
// recovery logic can be driven with a fixed time in tests.
type Clock interface {
	NowUTC() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) NowUTC() time.Time { return time.Now().UTC() }
