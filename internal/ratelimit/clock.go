package ratelimit

import "time"

// Clock supplies the current time. Tests inject a fixed or stepping clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock. Values returned by time.Now carry a
// monotonic reading, so comparisons within one process never go backwards.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time {
	return f()
}
