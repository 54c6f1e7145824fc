//go:build linux

package clockcheck

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// SystemClock reads the kernel clock discipline through adjtimex.
type SystemClock struct {
	MaxError time.Duration
}

// Status implements TimeService.
func (s SystemClock) Status() (bool, time.Duration, bool, error) {
	var tx unix.Timex
	clockState, err := unix.Adjtimex(&tx)
	if err != nil {
		return false, 0, false, fmt.Errorf("adjtimex: %w", err)
	}
	synced, off := evaluate(clockState, tx.Status, int64(tx.Maxerror), int64(tx.Offset), s.MaxError)
	return synced, off, true, nil
}
