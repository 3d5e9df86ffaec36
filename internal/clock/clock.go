// Package clock abstracts the wall clock so rule evaluation and expiry
// handling can be pinned to a fixed instant in tests.
package clock

import "time"

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock in UTC.
type Real struct{}

// Now returns the current system time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always returns T.
type Fixed struct {
	T time.Time
}

// Now returns the fixed time.
func (c Fixed) Now() time.Time {
	return c.T
}

// Func adapts a function to Clock.
type Func func() time.Time

// Now calls the wrapped function.
func (f Func) Now() time.Time {
	return f()
}

// NewReal returns the system clock.
func NewReal() Clock {
	return Real{}
}

// NewFixed returns a Clock pinned to t.
func NewFixed(t time.Time) Clock {
	return Fixed{T: t}
}
