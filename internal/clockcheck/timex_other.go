//go:build !linux

package clockcheck

import (
	"errors"
	"time"
)

// SystemClock is unavailable outside linux; every check reports an error.
type SystemClock struct {
	MaxError time.Duration
}

// Status implements TimeService.
func (s SystemClock) Status() (bool, time.Duration, bool, error) {
	return false, 0, false, errors.New("clock discipline not available on this platform")
}
