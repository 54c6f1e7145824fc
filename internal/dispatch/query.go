package dispatch

import (
	"strings"

	"onairsync/internal/apperr"
	"onairsync/internal/command"
	"onairsync/internal/state"
)

// query answers GET:<target> from a snapshot. It never writes.
func (d *Dispatcher) query(cmd command.Command) (Result, error) {
	st := d.store.Snapshot()
	res := Result{Revision: st.Revision, State: st}
	now := cmd.ReceivedAt

	switch strings.ToUpper(cmd.Key) {
	case "STATUS", "ALL":
		res.Value = st.View(now)
		return res, nil
	case "CONF":
		if cmd.Subkey == "" {
			res.Value = st.Config.Clone()
			return res, nil
		}
		if section, key, ok := strings.Cut(cmd.Subkey, ":"); ok {
			sec, k, err := d.schema.Resolve(section, key)
			if err != nil {
				return Result{}, err
			}
			res.Value = st.Config.String(sec, k.Name)
			return res, nil
		}
		section, ok := d.schema.Section(cmd.Subkey)
		if !ok {
			return Result{}, apperr.UnknownKey(cmd.Subkey, "*")
		}
		out := make(map[string]string, len(st.Config[section]))
		for k, v := range st.Config[section] {
			out[k] = v
		}
		res.Value = out
		return res, nil
	}

	ns, index, err := command.ParseTarget(cmd.Key)
	if err != nil {
		return Result{}, err
	}
	view := st.View(now)
	switch ns {
	case command.NsNow, command.NsNext, command.NsWarn:
		res.Value = st.Text[ns.String()]
	case command.NsClock:
		res.Value = view.Clock
	case command.NsLED:
		if index == 0 {
			res.Value = view.LEDs
			break
		}
		if index > len(view.LEDs) {
			return Result{}, apperr.OutOfRange("LED%d: %d slots configured", index, len(view.LEDs))
		}
		res.Value = view.LEDs[index-1]
	case command.NsTimer:
		if index == 0 {
			res.Value = view.Timers
			break
		}
		tv, ok := view.Timers[state.TimerID(index)]
		if !ok {
			return Result{}, apperr.OutOfRange("TIMER%d: %d timers configured", index, len(view.Timers))
		}
		res.Value = tv
	default:
		return Result{}, apperr.UnknownNamespace(cmd.Key)
	}
	return res, nil
}
