package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, Exponential, p.Mode)
	assert.Equal(t, time.Second, p.Initial)
	assert.Equal(t, 30*time.Second, p.Max)
	assert.NoError(t, p.Validate())
}

func TestNewPolicyClampsInitial(t *testing.T) {
	p := NewPolicy(Fixed, 5*time.Second, 2*time.Second)
	assert.Equal(t, 2*time.Second, p.Initial)
	assert.Equal(t, Fixed, p.Mode)

	p = NewPolicy("bogus", 0, 0)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestDelayModes(t *testing.T) {
	fixed := NewPolicy(Fixed, 100*time.Millisecond, time.Second)
	linear := NewPolicy(Linear, 100*time.Millisecond, 250*time.Millisecond)
	exp := NewPolicy(Exponential, 100*time.Millisecond, 500*time.Millisecond)

	assert.Equal(t, time.Duration(0), fixed.Delay(0))
	assert.Equal(t, 100*time.Millisecond, fixed.Delay(3))

	assert.Equal(t, 200*time.Millisecond, linear.Delay(2))
	assert.Equal(t, 250*time.Millisecond, linear.Delay(3))

	assert.Equal(t, 100*time.Millisecond, exp.Delay(1))
	assert.Equal(t, 400*time.Millisecond, exp.Delay(3))
	assert.Equal(t, 500*time.Millisecond, exp.Delay(4))
	assert.Equal(t, 500*time.Millisecond, exp.Delay(80))
}

func TestWaitHonorsContext(t *testing.T) {
	p := NewPolicy(Fixed, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Wait(ctx, 1), context.Canceled)
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, DefaultPolicy(), Policy{}.OrDefault())
	assert.Equal(t, DefaultPolicy(), Policy{Mode: Fixed, Initial: time.Second}.OrDefault())

	p := NewPolicy(Linear, 200*time.Millisecond, time.Second)
	assert.Equal(t, p, p.OrDefault())
}
