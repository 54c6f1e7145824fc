package state

import (
	"time"

	"onairsync/internal/settings"
)

// View is the serialized snapshot handed to HTTP, WebSocket and MQTT clients.
type View struct {
	Revision uint64               `json:"revision" yaml:"revision"`
	LEDs     []LEDView            `json:"leds" yaml:"leds"`
	Timers   map[string]TimerView `json:"timers" yaml:"timers"`
	Text     map[string]string    `json:"text" yaml:"text"`
	Config   settings.Values      `json:"config" yaml:"config"`
	Clock    ClockView            `json:"clock" yaml:"clock"`
}

type LEDView struct {
	Slot    int    `json:"slot" yaml:"slot"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Label   string `json:"label" yaml:"label"`
	Color   Color  `json:"color" yaml:"color"`
}

type TimerView struct {
	Running bool      `json:"running" yaml:"running"`
	Mode    TimerMode `json:"mode" yaml:"mode"`
	Seconds int64     `json:"seconds" yaml:"seconds"`
	Label   string    `json:"label" yaml:"label"`
}

type ClockView struct {
	Synchronized  bool       `json:"synchronized" yaml:"synchronized"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty" yaml:"lastCheckedAt,omitempty"`
	// OffsetMillis is nil while the offset is unknown.
	OffsetMillis *float64 `json:"offsetMillis" yaml:"offsetMillis"`
}

// View renders the state as seen at now.
func (s *State) View(now time.Time) View {
	v := View{
		Revision: s.Revision,
		LEDs:     make([]LEDView, len(s.LEDs)),
		Timers:   make(map[string]TimerView, len(s.Timers)),
		Text:     make(map[string]string, len(s.Text)),
		Config:   s.Config.Clone(),
	}
	for i, l := range s.LEDs {
		v.LEDs[i] = LEDView{Slot: i + 1, Enabled: l.Enabled, Label: l.Label, Color: l.Color}
	}
	for id, t := range s.Timers {
		v.Timers[id] = t.View(now)
	}
	for k, val := range s.Text {
		v.Text[k] = val
	}
	v.Clock.Synchronized = s.Clock.Synchronized
	if !s.Clock.LastCheckedAt.IsZero() {
		at := s.Clock.LastCheckedAt
		v.Clock.LastCheckedAt = &at
	}
	if s.Clock.OffsetKnown {
		ms := float64(s.Clock.Offset) / float64(time.Millisecond)
		v.Clock.OffsetMillis = &ms
	}
	return v
}

// View renders one timer at now.
func (t Timer) View(now time.Time) TimerView {
	return TimerView{
		Running: t.Running,
		Mode:    t.Mode,
		Seconds: int64(t.Value(now) / time.Second),
		Label:   t.Label,
	}
}
