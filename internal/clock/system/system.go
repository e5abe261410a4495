// Package system provides the wall clock used for run bookkeeping.
package system

import (
	"time"

	"github.com/Evian-Zhang/udiab/internal/crawler"
)

// Clock reports UTC wall time.
type Clock struct{}

var _ crawler.Clock = Clock{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
