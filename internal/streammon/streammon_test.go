package streammon

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
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

type icecast struct {
	up     atomic.Bool
	badUA  atomic.Bool
	served atomic.Int32
}

func (s *icecast) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("User-Agent") != userAgent {
		s.badUA.Store(true)
	}
	switch r.URL.Path {
	case "/stream.m3u":
		fmt.Fprintf(w, "#EXTM3U\n# Radio X\n\nhttp://%s/live\n", r.Host)
	case "/live":
		if !s.up.Load() {
			http.Error(w, "source offline", http.StatusServiceUnavailable)
			return
		}
		s.served.Add(1)
		flusher := w.(http.Flusher)
		for s.up.Load() {
			if _, err := w.Write([]byte("ID3 audio frame")); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	default:
		http.NotFound(w, r)
	}
}

func newRig(t *testing.T, enabled bool, url string) (*dispatch.Dispatcher, *Monitor) {
	t.Helper()
	schema := settings.NewSchema(4, 4)
	cfg := schema.Defaults()
	cfg.Set(settings.SectionStream, settings.KeyStreamOn, fmt.Sprint(enabled))
	cfg.Set(settings.SectionStream, settings.KeyStreamURL, url)
	cfg.Set(settings.SectionStream, settings.KeyStreamOffline, "4")
	cfg.Set(settings.SectionStream, settings.KeyStreamDelay, "1")
	store := state.NewStore(state.New(state.Layout{LEDs: 4, Timers: 4}, cfg))
	d := dispatch.New(store, schema, logger.Discard())

	m := New(store, d, logger.Discard())
	m.unit = 50 * time.Millisecond
	m.stall = 300 * time.Millisecond
	return d, m
}

func run(t *testing.T, m *Monitor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func timer4(d *dispatch.Dispatcher) state.Timer {
	return d.Store().Snapshot().Timers[state.TimerID(4)]
}

func TestFirstEntry(t *testing.T) {
	got, err := firstEntry(strings.NewReader("#EXTM3U\r\n  \r\n# title\r\n http://radio.example/live \r\nhttp://second\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "http://radio.example/live", got)

	_, err = firstEntry(strings.NewReader("#EXTM3U\n# nothing\n"))
	assert.Error(t, err)
}

func TestSettingsFrom(t *testing.T) {
	v := settings.NewSchema(4, 4).Defaults()
	s := settingsFrom(v, time.Second)
	assert.False(t, s.Enabled)
	assert.Equal(t, 10*time.Second, s.Offline)
	assert.Equal(t, 5*time.Second, s.Delay)
	assert.Equal(t, 4, s.Timer)
	assert.False(t, s.active())

	v.Set(settings.SectionStream, settings.KeyStreamOn, "true")
	v.Set(settings.SectionStream, settings.KeyStreamURL, " http://radio.example/live ")
	s = settingsFrom(v, time.Second)
	assert.Equal(t, "http://radio.example/live", s.URL)
	assert.True(t, s.active())
}

func TestOnlineThenOffline(t *testing.T) {
	srv := &icecast{}
	srv.up.Store(true)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.up.Store(false)

	d, m := newRig(t, true, ts.URL+"/stream.m3u")
	// A running count down must be reset before it starts again.
	_, _, err := d.Store().Apply(func(s *state.State) error {
		tm := s.Timers[state.TimerID(4)]
		tm.Base = 42 * time.Second
		s.Timers[state.TimerID(4)] = tm
		return nil
	})
	require.NoError(t, err)
	run(t, m)

	require.Eventually(t, func() bool { return timer4(d).Running }, 3*time.Second, 10*time.Millisecond)
	assert.Less(t, timer4(d).Value(time.Now()), 42*time.Second)

	srv.up.Store(false)
	require.Eventually(t, func() bool { return !timer4(d).Running }, 3*time.Second, 10*time.Millisecond)
	assert.False(t, srv.badUA.Load())
}

func TestShortDropoutKeepsTimerRunning(t *testing.T) {
	srv := &icecast{}
	srv.up.Store(true)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.up.Store(false)

	d, m := newRig(t, true, ts.URL+"/live")
	m.unit = 200 * time.Millisecond // offline threshold 800ms, reconnect every 200ms
	run(t, m)

	require.Eventually(t, func() bool { return timer4(d).Running }, 3*time.Second, 10*time.Millisecond)
	rev := d.Store().Revision()

	// The handler loop exits, the client reconnects to a live source.
	srv.up.Store(false)
	time.Sleep(50 * time.Millisecond)
	srv.up.Store(true)
	require.Eventually(t, func() bool { return srv.served.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)

	assert.True(t, timer4(d).Running)
	assert.Equal(t, rev, d.Store().Revision())
}

func TestSettingsChangeStartsMonitor(t *testing.T) {
	srv := &icecast{}
	srv.up.Store(true)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.up.Store(false)

	d, m := newRig(t, false, ts.URL+"/live")
	run(t, m)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, srv.served.Load())
	assert.False(t, timer4(d).Running)

	_, _, err := d.Store().Apply(func(s *state.State) error {
		s.Config.Set(settings.SectionStream, settings.KeyStreamOn, "true")
		return nil
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return timer4(d).Running }, 3*time.Second, 10*time.Millisecond)
}
