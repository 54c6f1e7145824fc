// Package streammon watches an Icecast stream and drives a display timer:
// the timer restarts when the stream comes online and stops after the stream
// has been gone for the configured threshold.
package streammon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"onairsync/internal/command"
	"onairsync/internal/dispatch"
	"onairsync/internal/logger"
	"onairsync/internal/settings"
	"onairsync/internal/state"
)

const (
	userAgent      = "OnAirScreen/1.0 StreamMonitor"
	headerTimeout  = 5 * time.Second
	minStall       = 5 * time.Second
	playlistLimit  = 64 * 1024
	readBufferSize = 4096
)

// Dispatcher applies internal commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) (dispatch.Result, error)
}

// Settings is the StreamMonitoring section in typed form.
type Settings struct {
	Enabled bool
	URL     string
	Offline time.Duration
	Delay   time.Duration
	Timer   int
}

func settingsFrom(v settings.Values, unit time.Duration) Settings {
	sec := settings.SectionStream
	return Settings{
		Enabled: v.Bool(sec, settings.KeyStreamOn),
		URL:     strings.TrimSpace(v.String(sec, settings.KeyStreamURL)),
		Offline: time.Duration(v.Int(sec, settings.KeyStreamOffline)) * unit,
		Delay:   time.Duration(v.Int(sec, settings.KeyStreamDelay)) * unit,
		Timer:   v.Int(sec, settings.KeyStreamTimer),
	}
}

func (s Settings) active() bool { return s.Enabled && s.URL != "" && s.Timer > 0 }

// Monitor follows the StreamMonitoring settings in the store and runs one
// watch session at a time.
type Monitor struct {
	store  *state.Store
	disp   Dispatcher
	client *http.Client
	log    *logger.Log
	unit   time.Duration
	stall  time.Duration
}

// New creates a monitor.
func New(store *state.Store, disp Dispatcher, log *logger.Log) *Monitor {
	return &Monitor{
		store: store,
		disp:  disp,
		client: &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: headerTimeout,
		}},
		log:  log.Module("stream"),
		unit: time.Second,
	}
}

// Run restarts the watch session whenever the StreamMonitoring settings
// change, until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	states, unsubscribe := m.store.Subscribe()
	defer unsubscribe()

	var (
		cur    Settings
		cancel context.CancelFunc = func() {}
		done   chan struct{}
	)
	stop := func() {
		cancel()
		if done != nil {
			<-done
			done = nil
		}
	}
	start := func(s Settings) {
		cur = s
		if !s.active() {
			if s.Enabled {
				m.log.Warn("stream monitoring enabled but no url configured")
			}
			return
		}
		var sctx context.Context
		sctx, cancel = context.WithCancel(ctx)
		done = make(chan struct{})
		go func(done chan struct{}) {
			defer close(done)
			m.session(sctx, s)
		}(done)
	}
	defer stop()

	start(settingsFrom(m.store.Snapshot().Config, m.unit))
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-states:
			if !ok {
				return nil
			}
			next := settingsFrom(st.Config, m.unit)
			if next == cur {
				continue
			}
			m.log.With(logger.Fields{"enabled": next.Enabled, "url": next.URL}).Info("stream monitor settings changed, restarting")
			stop()
			start(next)
		}
	}
}

// session is one monitoring run with fixed settings.
func (m *Monitor) session(ctx context.Context, s Settings) {
	log := m.log.With(logger.Fields{"url": s.URL, "timer": s.Timer})
	log.Info("stream monitoring started")
	defer log.Info("stream monitoring stopped")

	stall := m.stall
	if stall <= 0 {
		stall = s.Delay * 2
		if stall < minStall {
			stall = minStall
		}
	}

	var (
		online bool
		lostAt time.Time
		url    string
	)
	checkOffline := func() {
		if online && !lostAt.IsZero() && time.Since(lostAt) >= s.Offline {
			log.With(logger.Fields{"offline": time.Since(lostAt).Round(time.Second).String()}).Info("stream offline, stopping timer")
			online = false
			m.timer(ctx, s.Timer, command.VerbStop)
		}
	}

	for {
		if url == "" {
			resolved, err := m.resolve(ctx, s.URL)
			if err != nil {
				log.With(logger.Fields{"error": err.Error()}).Warn("failed to resolve stream url")
			} else {
				url = resolved
			}
		}
		if url != "" {
			err := m.stream(ctx, url, stall, func() {
				lostAt = time.Time{}
				if !online {
					online = true
					log.Info("stream came online, restarting timer")
					m.timer(ctx, s.Timer, command.VerbReset)
					m.timer(ctx, s.Timer, command.VerbStart)
				}
			})
			if ctx.Err() != nil {
				return
			}
			log.With(logger.Fields{"error": fmt.Sprint(err)}).Debug("stream disconnected")
			if online && lostAt.IsZero() {
				lostAt = time.Now()
			}
			// A playlist may point somewhere else next time.
			if isPlaylist(s.URL) {
				url = ""
			}
		}
		checkOffline()

		wait := s.Delay
		if online && !lostAt.IsZero() {
			if left := s.Offline - time.Since(lostAt); left > 0 && left < wait {
				wait = left
			}
		}
		if wait <= 0 {
			wait = m.unit
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		checkOffline()
	}
}

func (m *Monitor) timer(ctx context.Context, n int, verb string) {
	cmd := command.Internal(command.NsTimer, n, verb, "", false)
	if _, err := m.disp.Dispatch(ctx, cmd); err != nil {
		m.log.With(logger.Fields{"cmd": cmd.String(), "error": err.Error()}).Warn("timer command rejected")
	}
}

// stream reads url until it ends, fails or stalls longer than stall. onData
// runs after every successful read.
func (m *Monitor) stream(ctx context.Context, url string, stall time.Duration, onData func()) error {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchdog := time.AfterFunc(stall, cancel)
	defer watchdog.Stop()

	resp, err := m.get(rctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf := make([]byte, readBufferSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			watchdog.Reset(stall)
			onData()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("stream ended")
			}
			return err
		}
	}
}

func (m *Monitor) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return resp, nil
}

func isPlaylist(url string) bool {
	return strings.HasSuffix(strings.ToLower(url), ".m3u")
}

// resolve returns url itself, or for an .m3u playlist its first entry.
func (m *Monitor) resolve(ctx context.Context, url string) (string, error) {
	if !isPlaylist(url) {
		return url, nil
	}
	rctx, cancel := context.WithTimeout(ctx, headerTimeout)
	defer cancel()
	resp, err := m.get(rctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	return firstEntry(io.LimitReader(resp.Body, playlistLimit))
}

func firstEntry(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			return line, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", errors.New("no stream url in playlist")
}
