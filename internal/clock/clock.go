// Package clock provides the single injectable time source used throughout
// the scheduler. All "now" calls in the scheduler go through a Clock so
// tests can supply deterministic time, and so the Asia/Tokyo timezone
// convention is enforced in exactly one place.
package clock

import "time"

// Tokyo is the timezone every scheduler timestamp is expressed in.
var Tokyo = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		return time.FixedZone("Asia/Tokyo", 9*60*60)
	}
	return loc
}()

// Clock is the time source the rest of the scheduler depends on instead of
// calling time.Now directly.
type Clock interface {
	Now() time.Time
}

// Real returns the wall clock, localized to Asia/Tokyo.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().In(Tokyo) }

// Fixed returns a Clock that always reports t, useful for deterministic
// unit tests.
func Fixed(t time.Time) Clock { return fixedClock{t: t.In(Tokyo)} }

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

// Mutable is a Clock whose reported time can be advanced by tests without
// constructing a new Clock value each time.
type Mutable struct {
	t time.Time
}

// NewMutable returns a Mutable clock starting at t.
func NewMutable(t time.Time) *Mutable {
	return &Mutable{t: t.In(Tokyo)}
}

// Now implements Clock.
func (m *Mutable) Now() time.Time { return m.t }

// Advance moves the clock forward by d.
func (m *Mutable) Advance(d time.Duration) { m.t = m.t.Add(d) }

// Set pins the clock to t.
func (m *Mutable) Set(t time.Time) { m.t = t.In(Tokyo) }
