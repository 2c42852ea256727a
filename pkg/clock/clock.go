// Package clock provides an injectable time source.
//
// Engine code never calls time.Now directly; it asks a Clock, so tests can
// pin time and the undo window and usage periods stay deterministic.
package clock

import "time"

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// FixedClock always returns a fixed time.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed time.
func (c FixedClock) Now() time.Time {
	return c.T
}

// FuncClock wraps a function as a Clock.
type FuncClock func() time.Time

// Now calls the wrapped function.
func (f FuncClock) Now() time.Time {
	return f()
}

// NewReal returns a Clock that uses the real system time.
func NewReal() Clock {
	return RealClock{}
}

// NewFixed returns a Clock that always returns the given time.
func NewFixed(t time.Time) Clock {
	return FixedClock{T: t}
}

// Period returns the usage period (YYYY-MM, UTC) that c currently falls in.
func Period(c Clock) string {
	return c.Now().UTC().Format("2006-01")
}

// Today returns the start of the current UTC day according to c.
func Today(c Clock) time.Time {
	now := c.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// LastDays returns the half-open range [start, end) covering the n days up
// to and including today.
func LastDays(c Clock, n int) (start, end time.Time) {
	end = Today(c).AddDate(0, 0, 1)
	return end.AddDate(0, 0, -n), end
}
