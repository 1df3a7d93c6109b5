// Package system provides the wall clock.
package system

import "time"

// Clock implements comic.Clock. Times are UTC so provider dates do not depend on
// the host time zone.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
