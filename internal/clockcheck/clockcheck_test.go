package clockcheck

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onairsync/internal/dispatch"
	"onairsync/internal/logger"
	"onairsync/internal/settings"
	"onairsync/internal/state"
)

type fakeClock struct {
	synced bool
	offset time.Duration
	known  bool
	err    error
	calls  atomic.Int32
}

func (f *fakeClock) Status() (bool, time.Duration, bool, error) {
	f.calls.Add(1)
	return f.synced, f.offset, f.known, f.err
}

func newDispatcher() *dispatch.Dispatcher {
	schema := settings.NewSchema(2, 1)
	store := state.NewStore(state.New(state.Layout{LEDs: 2, Timers: 1}, schema.Defaults()))
	return dispatch.New(store, schema, logger.Discard())
}

func TestCheckRecordsSynchronizedClock(t *testing.T) {
	d := newDispatcher()
	svc := &fakeClock{synced: true, offset: 1500 * time.Microsecond, known: true}
	New(svc, d, time.Minute, logger.Discard()).Check(context.Background())

	st := d.Store().Snapshot()
	assert.True(t, st.Clock.Synchronized)
	assert.True(t, st.Clock.OffsetKnown)
	assert.Equal(t, 1500*time.Microsecond, st.Clock.Offset)
	assert.False(t, st.Clock.LastCheckedAt.IsZero())
	assert.Equal(t, uint64(1), st.Revision)
}

func TestCheckTreatsFailureAsUnsynchronized(t *testing.T) {
	d := newDispatcher()
	ok := &fakeClock{synced: true, known: true}
	New(ok, d, time.Minute, logger.Discard()).Check(context.Background())
	require.True(t, d.Store().Snapshot().Clock.Synchronized)

	broken := &fakeClock{synced: true, known: true, err: errors.New("no adjtimex")}
	New(broken, d, time.Minute, logger.Discard()).Check(context.Background())

	st := d.Store().Snapshot()
	assert.False(t, st.Clock.Synchronized)
	assert.False(t, st.Clock.OffsetKnown)
}

func TestRunChecksImmediately(t *testing.T) {
	d := newDispatcher()
	svc := &fakeClock{synced: true, known: true}
	c := New(svc, d, time.Hour, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return d.Store().Snapshot().Clock.Synchronized
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), svc.calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("checker did not stop")
	}
}

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name       string
		clockState int
		status     int32
		maxErrUs   int64
		offset     int64
		wantSynced bool
		wantOffset time.Duration
	}{
		{"ok", 0, 0, 1000, 250, true, 250 * time.Microsecond},
		{"time error", timeError, 0, 1000, 0, false, 0},
		{"unsync flag", 0, staUnsync, 1000, 0, false, 0},
		{"nano offset", 0, staNano, 1000, 250, true, 250 * time.Nanosecond},
		{"max error too large", 0, 0, 900000, -40, false, -40 * time.Microsecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			synced, off := evaluate(tc.clockState, tc.status, tc.maxErrUs, tc.offset, 500*time.Millisecond)
			assert.Equal(t, tc.wantSynced, synced)
			assert.Equal(t, tc.wantOffset, off)
		})
	}
}
