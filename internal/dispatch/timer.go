package dispatch

import (
	"strings"
	"time"

	"onairsync/internal/apperr"
	"onairsync/internal/command"
	"onairsync/internal/state"
)

func applyTimer(st *state.State, cmd command.Command) error {
	id := state.TimerID(cmd.Index)
	t, ok := st.Timers[id]
	if !ok {
		return apperr.OutOfRange("%s: %d timers configured", cmd.Target(), len(st.Timers)).With("target", cmd.Target())
	}
	now := cmd.ReceivedAt

	switch cmd.Key {
	case command.VerbStart:
		if !t.Running {
			t.Running = true
			t.StartedAt = now
		}
	case command.VerbStop:
		if t.Running {
			t.Base = t.Value(now)
			t.Running = false
			t.StartedAt = time.Time{}
		}
	case command.VerbReset:
		if t.Mode == state.CountDown {
			t.Base = t.Preset
		} else {
			t.Base = 0
		}
		if t.Running {
			t.StartedAt = now
		}
	case command.VerbSet:
		if t.Running {
			return apperr.InvalidTransition("%s: SET requires a stopped timer", id)
		}
		d, err := command.ParseDuration(cmd.Value)
		if err != nil {
			return err
		}
		t.Base = d
		t.Preset = d
	case command.VerbMode:
		if t.Running {
			return apperr.InvalidTransition("%s: MODE requires a stopped timer", id)
		}
		switch state.TimerMode(strings.ToUpper(strings.TrimSpace(cmd.Value))) {
		case state.CountUp:
			t.Mode = state.CountUp
		case state.CountDown:
			t.Mode = state.CountDown
		default:
			return apperr.BadArgument("%s: mode must be UP or DOWN, got %q", id, cmd.Value)
		}
	default:
		return apperr.Malformed("unknown timer action %q", cmd.Key)
	}
	st.Timers[id] = t
	return nil
}
