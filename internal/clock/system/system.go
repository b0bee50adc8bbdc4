// Package system is the wall clock used outside tests.
package system

import "time"

// Clock reports UTC wall time. Job timestamps, rate-limit windows and error
// history buckets all read it, so every component agrees on the zone.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
