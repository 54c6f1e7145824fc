package persist

import (
	"context"
	"time"

	"onairsync/internal/logger"
	"onairsync/internal/metrics"
	"onairsync/internal/settings"
	"onairsync/internal/state"
)

// Writer saves the config part of the state after it stops changing for the
// quiet window, and at the latest maxDelay after the first unsaved change.
// A failed save is retried on the next quiet window. Run flushes on exit.
type Writer struct {
	store    *state.Store
	saver    Saver
	log      *logger.Log
	recorder metrics.Recorder
	quiet    time.Duration
	maxDelay time.Duration

	saved   settings.Values
	pending settings.Values
	ready   chan struct{}
}

func NewWriter(store *state.Store, saver Saver, log *logger.Log, quiet, maxDelay time.Duration) *Writer {
	if maxDelay < quiet {
		maxDelay = quiet
	}
	return &Writer{
		store:    store,
		saver:    saver,
		log:      log.Module("persist"),
		recorder: metrics.NoopRecorder{},
		quiet:    quiet,
		maxDelay: maxDelay,
		saved:    store.Snapshot().Config.Clone(),
		ready:    make(chan struct{}),
	}
}

func (w *Writer) WithRecorder(r metrics.Recorder) *Writer {
	if r != nil {
		w.recorder = r
	}
	return w
}

// Ready is closed once Run has subscribed to the store.
func (w *Writer) Ready() <-chan struct{} { return w.ready }

func (w *Writer) Run(ctx context.Context) error {
	states, unsubscribe := w.store.Subscribe()
	defer unsubscribe()
	close(w.ready)

	quietTimer := stoppedTimer()
	maxTimer := stoppedTimer()
	var quietC, maxC <-chan time.Time

	observe := func(cfg settings.Values) {
		if cfg.Equal(w.saved) {
			w.pending = nil
			quietTimer.Stop()
			maxTimer.Stop()
			quietC, maxC = nil, nil
			return
		}
		w.pending = cfg
		resetTimer(quietTimer, w.quiet)
		quietC = quietTimer.C
		if maxC == nil {
			resetTimer(maxTimer, w.maxDelay)
			maxC = maxTimer.C
		}
	}
	flush := func() {
		if w.pending == nil {
			return
		}
		if err := w.saver.Save(w.pending); err != nil {
			w.recorder.IncSettingsSave(metrics.ResultFailed)
			w.log.With(logger.Fields{"error": err.Error()}).Error("settings save failed, will retry")
			resetTimer(quietTimer, w.quiet)
			quietC = quietTimer.C
			return
		}
		w.recorder.IncSettingsSave(metrics.ResultSuccess)
		w.log.Debug("settings saved")
		w.saved = w.pending
		w.pending = nil
		quietTimer.Stop()
		maxTimer.Stop()
		quietC, maxC = nil, nil
	}

	observe(w.store.Snapshot().Config)

	for {
		select {
		case <-ctx.Done():
			// the last revision may still sit in the subscription
			observe(w.store.Snapshot().Config)
			flush()
			return nil
		case st, ok := <-states:
			if !ok {
				flush()
				return nil
			}
			observe(st.Config)
		case <-quietC:
			quietC = nil
			flush()
		case <-maxC:
			maxC = nil
			flush()
		}
	}
}

func stoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

func resetTimer(t *time.Timer, after time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(after)
}
