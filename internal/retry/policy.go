// Package retry provides the backoff policy used when reconnecting listeners
// and retrying failed saves.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Mode is the backoff growth mode.
type Mode string

const (
	Fixed       Mode = "fixed"
	Linear      Mode = "linear"
	Exponential Mode = "exponential"
)

// Policy encapsulates backoff settings. It is immutable after construction.
type Policy struct {
	Mode    Mode
	Initial time.Duration
	Max     time.Duration
}

// DefaultPolicy is exponential, 1s initial, 30s cap.
func DefaultPolicy() Policy {
	return Policy{Mode: Exponential, Initial: time.Second, Max: 30 * time.Second}
}

// NewPolicy builds a policy; zero or invalid values fall back to defaults.
func NewPolicy(mode Mode, initial, maxDelay time.Duration) Policy {
	p := DefaultPolicy()
	if initial > 0 {
		p.Initial = initial
	}
	if maxDelay > 0 {
		p.Max = maxDelay
	}
	switch mode {
	case Fixed, Linear, Exponential:
		p.Mode = mode
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the delay before retry attempt n (1-based).
func (p Policy) Delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case Fixed:
		return p.Initial
	case Exponential:
		if n > 32 {
			return p.Max
		}
		d = p.Initial * (1 << (n - 1))
	default:
		d = time.Duration(n) * p.Initial
	}
	if d > p.Max || d <= 0 {
		return p.Max
	}
	return d
}

// Validate reports a policy that cannot be applied.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	return nil
}

// OrDefault returns p, or DefaultPolicy when p cannot be applied.
func (p Policy) OrDefault() Policy {
	if p.Validate() != nil {
		return DefaultPolicy()
	}
	return p
}

// Wait sleeps for the delay of attempt n or until ctx is done.
func (p Policy) Wait(ctx context.Context, n int) error {
	t := time.NewTimer(p.Delay(n))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
