// Package system supplies the wall clock wired into production builds.
// Tests substitute fixed clocks through the scrape.Clock seam.
package system

import "time"

// Clock reads the wall clock in UTC so stored timestamps compare cleanly
// across backends.
type Clock struct{}

// New returns the wall clock.
func New() *Clock {
	return &Clock{}
}

// Now reports the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
