// Package dispatch interprets parsed commands against the display state. It is
// the only writer of the state store.
package dispatch

import (
	"context"
	"strings"
	"time"

	"onairsync/internal/apperr"
	"onairsync/internal/command"
	"onairsync/internal/logger"
	"onairsync/internal/metrics"
	"onairsync/internal/settings"
	"onairsync/internal/state"
)

// ProcessControl performs the CMD:* system verbs.
type ProcessControl interface {
	Reboot(ctx context.Context) error
	Shutdown(ctx context.Context) error
	// Quit asks the process to exit; a supervisor restarts it.
	Quit() error
	// Restart asks the process to exit and re-exec itself.
	Restart() error
}

// Result describes the outcome of one accepted command.
type Result struct {
	Revision uint64
	Changed  bool
	// Value holds the answer of a GET query.
	Value interface{}
	// State is the snapshot right after the command.
	State *state.State
}

// Dispatcher applies commands to the store.
type Dispatcher struct {
	store    *state.Store
	schema   *settings.Schema
	proc     ProcessControl
	log      *logger.Log
	recorder metrics.Recorder
	now      func() time.Time
}

// New returns a dispatcher without process control and with metrics disabled.
func New(store *state.Store, schema *settings.Schema, log *logger.Log) *Dispatcher {
	return &Dispatcher{
		store:    store,
		schema:   schema,
		log:      log.Module("dispatch"),
		recorder: metrics.NoopRecorder{},
		now:      time.Now,
	}
}

// WithProcessControl sets the collaborator for CMD verbs.
func (d *Dispatcher) WithProcessControl(pc ProcessControl) *Dispatcher {
	d.proc = pc
	return d
}

// WithRecorder sets the metrics recorder.
func (d *Dispatcher) WithRecorder(r metrics.Recorder) *Dispatcher {
	if r != nil {
		d.recorder = r
	}
	return d
}

// Store returns the state store the dispatcher writes to.
func (d *Dispatcher) Store() *state.Store { return d.store }

// Schema returns the display settings schema.
func (d *Dispatcher) Schema() *settings.Schema { return d.schema }

// Submit parses raw and dispatches it. Rejections are logged and counted.
func (d *Dispatcher) Submit(ctx context.Context, raw []byte, src command.Source) (Result, error) {
	cmd, err := command.Parse(raw, src)
	if err != nil {
		d.reject(src, "-", string(raw), err)
		return Result{Revision: d.store.Revision(), State: d.store.Snapshot()}, err
	}
	return d.Dispatch(ctx, cmd)
}

// Dispatch applies one parsed command. A rejected command leaves the state
// untouched and returns a classified error.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd command.Command) (Result, error) {
	if cmd.ReceivedAt.IsZero() {
		cmd.ReceivedAt = d.now()
	}
	res, err := d.dispatch(ctx, cmd)
	if res.State == nil {
		res.State = d.store.Snapshot()
		res.Revision = res.State.Revision
	}
	ns := cmd.Namespace.String()
	if err != nil {
		d.reject(cmd.Source, ns, cmd.Raw, err)
		return res, err
	}

	switch {
	case cmd.Namespace == command.NsGet:
		d.recorder.IncCommand(cmd.Source.String(), ns, metrics.ResultQuery)
		d.log.With(logger.Fields{
			"source":  cmd.Source.String(),
			"command": cmd.String(),
			"value":   res.Value,
		}).Debug("query answered")
	case res.Changed:
		d.recorder.IncCommand(cmd.Source.String(), ns, metrics.ResultApplied)
		d.recorder.SetRevision(res.Revision)
		d.log.With(logger.Fields{
			"source":   cmd.Source.String(),
			"command":  cmd.String(),
			"revision": res.Revision,
		}).Debug("command applied")
	default:
		d.recorder.IncCommand(cmd.Source.String(), ns, metrics.ResultNoop)
	}
	return res, nil
}

func (d *Dispatcher) reject(src command.Source, ns, raw string, err error) {
	d.recorder.IncCommand(src.String(), ns, metrics.ResultRejected)
	if len(raw) > 256 {
		raw = raw[:256] + "..."
	}
	d.log.With(logger.Fields{
		"source": src.String(),
		"raw":    raw,
		"error":  err.Error(),
	}).Warn("command rejected")
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd command.Command) (Result, error) {
	switch cmd.Namespace {
	case command.NsLED:
		return d.apply(func(st *state.State) error { return d.applyLED(st, cmd) })
	case command.NsTimer:
		return d.apply(func(st *state.State) error { return applyTimer(st, cmd) })
	case command.NsNow, command.NsNext, command.NsWarn:
		return d.apply(func(st *state.State) error {
			st.Text[cmd.Namespace.String()] = cmd.Value
			return nil
		})
	case command.NsConf:
		return d.applyConf(cmd)
	case command.NsCmd:
		return Result{}, d.system(ctx, cmd)
	case command.NsGet:
		return d.query(cmd)
	case command.NsClock:
		if cmd.Source != command.SourceInternal {
			return Result{}, apperr.UnknownNamespace(cmd.Target())
		}
		return d.apply(func(st *state.State) error { return applyClock(st, cmd) })
	}
	return Result{}, apperr.UnknownNamespace(cmd.Target())
}

func (d *Dispatcher) apply(mutate func(*state.State) error) (Result, error) {
	rev, changed, err := d.store.Apply(mutate)
	if err != nil {
		return Result{}, err
	}
	return Result{Revision: rev, Changed: changed, State: d.store.Snapshot()}, nil
}

func (d *Dispatcher) applyLED(st *state.State, cmd command.Command) error {
	if cmd.Index < 1 || cmd.Index > len(st.LEDs) {
		return apperr.OutOfRange("LED%d: %d slots configured", cmd.Index, len(st.LEDs)).With("target", cmd.Target())
	}
	led := &st.LEDs[cmd.Index-1]
	switch cmd.Key {
	case command.VerbOn:
		led.Enabled = true
	case command.VerbOff:
		led.Enabled = false
	case command.VerbLabel:
		led.Label = cmd.Value
		st.Config.Set(settings.LEDSection(cmd.Index), settings.KeyLEDText, cmd.Value)
	default:
		if !command.IsColor(cmd.Key) {
			return apperr.Malformed("unknown LED action %q", cmd.Key)
		}
		led.Color = state.Color(cmd.Key)
	}
	return nil
}

func (d *Dispatcher) applyConf(cmd command.Command) (Result, error) {
	entry, err := d.schema.Validate(cmd.Key, cmd.Subkey, cmd.Value)
	if err != nil {
		return Result{}, err
	}
	return d.apply(func(st *state.State) error {
		st.Config.Set(entry.Section, entry.Key, entry.Value)
		syncLabels(st, entry)
		return nil
	})
}

// syncLabels mirrors label settings into the LED and timer records.
func syncLabels(st *state.State, e settings.Entry) {
	if e.Section == settings.SectionTimers {
		for i := 1; i <= len(st.Timers); i++ {
			if e.Key != settings.TimerKey(i) {
				continue
			}
			id := state.TimerID(i)
			t := st.Timers[id]
			t.Label = e.Value
			st.Timers[id] = t
			return
		}
		return
	}
	if e.Key != settings.KeyLEDText {
		return
	}
	for i := range st.LEDs {
		if e.Section == settings.LEDSection(i+1) {
			st.LEDs[i].Label = e.Value
			return
		}
	}
}

func (d *Dispatcher) system(ctx context.Context, cmd command.Command) error {
	if d.proc == nil {
		return apperr.ProcessFailed(nil, "process control is not available")
	}
	d.log.With(logger.Fields{"source": cmd.Source.String(), "verb": cmd.Key}).Info("system command")
	var err error
	switch cmd.Key {
	case command.VerbReboot:
		err = d.proc.Reboot(ctx)
	case command.VerbShutdown:
		err = d.proc.Shutdown(ctx)
	case command.VerbQuit:
		err = d.proc.Quit()
	case command.VerbRestart:
		err = d.proc.Restart()
	default:
		return apperr.Malformed("unknown system verb %q", cmd.Key)
	}
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.ProcessFailed(err, "CMD:%s", cmd.Key)
}

func applyClock(st *state.State, cmd command.Command) error {
	h := state.ClockHealth{
		Synchronized:  cmd.Key == command.VerbSynced,
		LastCheckedAt: cmd.ReceivedAt,
	}
	if cmd.HasValue && strings.TrimSpace(cmd.Value) != "" {
		off, err := time.ParseDuration(strings.TrimSpace(cmd.Value))
		if err != nil {
			return apperr.BadArgument("clock offset %q: %v", cmd.Value, err)
		}
		h.Offset = off
		h.OffsetKnown = true
	}
	st.Clock = h
	return nil
}
