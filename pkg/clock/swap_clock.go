// Package clock provides the wall clock abstraction used by time-dependent services.
package clock

import "time"

// Clock returns the current instant. All times in the system are UTC.
type Clock interface {
	Now() time.Time
}

// System is the production clock.
type System struct{}

func NewSystem() *System {
	return &System{}
}

func (*System) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a clock frozen at a given instant. Tests advance it explicitly.
type Fixed struct {
	t time.Time
}

func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t.UTC()}
}

func (f *Fixed) Now() time.Time {
	return f.t
}

// Advance moves the frozen clock forward.
func (f *Fixed) Advance(d time.Duration) {
	f.t = f.t.Add(d)
}

// Set repositions the frozen clock.
func (f *Fixed) Set(t time.Time) {
	f.t = t.UTC()
}
