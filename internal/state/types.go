package state

import (
	"fmt"
	"sort"
	"time"

	"onairsync/internal/settings"
)

// Color is an LED color.
type Color string

const (
	ColorOff    Color = "OFF"
	ColorRed    Color = "RED"
	ColorGreen  Color = "GREEN"
	ColorYellow Color = "YELLOW"
	ColorBlue   Color = "BLUE"
	ColorWhite  Color = "WHITE"
	ColorOrange Color = "ORANGE"
	ColorPurple Color = "PURPLE"
)

// LED is one fixed slot.
type LED struct {
	Enabled bool
	Label   string
	Color   Color
}

// TimerMode selects the counting direction.
type TimerMode string

const (
	CountUp   TimerMode = "UP"
	CountDown TimerMode = "DOWN"
)

// Timer is time based: it stores the value at StartedAt instead of ticking.
type Timer struct {
	Running bool
	Mode    TimerMode
	// Base is the elapsed (UP) or remaining (DOWN) time at StartedAt, or the
	// frozen value when stopped.
	Base time.Duration
	// Preset is the count-down start value restored by RESET.
	Preset    time.Duration
	StartedAt time.Time
	Label     string
}

// Value is the elapsed or remaining time at now.
func (t Timer) Value(now time.Time) time.Duration {
	if !t.Running {
		return t.Base
	}
	since := now.Sub(t.StartedAt)
	if since < 0 {
		since = 0
	}
	if t.Mode == CountDown {
		if rem := t.Base - since; rem > 0 {
			return rem
		}
		return 0
	}
	return t.Base + since
}

func (t Timer) equal(o Timer) bool {
	return t.Running == o.Running && t.Mode == o.Mode && t.Base == o.Base &&
		t.Preset == o.Preset && t.StartedAt.Equal(o.StartedAt) && t.Label == o.Label
}

// ClockHealth is the last time-source sample.
type ClockHealth struct {
	Synchronized  bool
	LastCheckedAt time.Time
	Offset        time.Duration
	OffsetKnown   bool
}

// Text field names.
const (
	FieldNow  = "NOW"
	FieldNext = "NEXT"
	FieldWarn = "WARN"
)

// Layout fixes the LED slot count and timer ids for the process lifetime.
type Layout struct {
	LEDs   int
	Timers int
}

// TimerID names timer n.
func TimerID(n int) string { return fmt.Sprintf("TIMER%d", n) }

// State is the display state. A *State obtained from the Store is immutable;
// mutations happen on clones inside Store.Apply.
type State struct {
	Revision uint64
	LEDs     []LED
	Timers   map[string]Timer
	Text     map[string]string
	Config   settings.Values
	Clock    ClockHealth
}

// New builds the initial state for layout from settings.
func New(layout Layout, cfg settings.Values) *State {
	s := &State{
		LEDs:   make([]LED, layout.LEDs),
		Timers: make(map[string]Timer, layout.Timers),
		Text:   map[string]string{FieldNow: "", FieldNext: "", FieldWarn: ""},
		Config: cfg.Clone(),
	}
	for i := range s.LEDs {
		s.LEDs[i] = LED{
			Label: cfg.String(settings.LEDSection(i+1), settings.KeyLEDText),
			Color: ColorRed,
		}
	}
	for i := 1; i <= layout.Timers; i++ {
		s.Timers[TimerID(i)] = Timer{
			Mode:  CountUp,
			Label: cfg.String(settings.SectionTimers, settings.TimerKey(i)),
		}
	}
	return s
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := &State{
		Revision: s.Revision,
		LEDs:     append([]LED(nil), s.LEDs...),
		Timers:   make(map[string]Timer, len(s.Timers)),
		Text:     make(map[string]string, len(s.Text)),
		Config:   s.Config.Clone(),
		Clock:    s.Clock,
	}
	for k, v := range s.Timers {
		c.Timers[k] = v
	}
	for k, v := range s.Text {
		c.Text[k] = v
	}
	return c
}

// Layout reports the slot count and timer count.
func (s *State) Layout() Layout {
	return Layout{LEDs: len(s.LEDs), Timers: len(s.Timers)}
}

// TimerIDs returns the timer ids in numeric order.
func (s *State) TimerIDs() []string {
	ids := make([]string, 0, len(s.Timers))
	for i := 1; i <= len(s.Timers); i++ {
		ids = append(ids, TimerID(i))
	}
	return ids
}

// Topology is the part of the state that discovery metadata depends on.
func (s *State) Topology() string {
	labels := make([]string, 0, len(s.LEDs)+len(s.Timers))
	for _, l := range s.LEDs {
		labels = append(labels, l.Label)
	}
	ids := make([]string, 0, len(s.Timers))
	for id := range s.Timers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		labels = append(labels, id+"="+s.Timers[id].Label)
	}
	return fmt.Sprintf("%d/%d/%q", len(s.LEDs), len(s.Timers), labels)
}

// equal compares everything except Revision.
func (s *State) equal(o *State) bool {
	if len(s.LEDs) != len(o.LEDs) || len(s.Timers) != len(o.Timers) || len(s.Text) != len(o.Text) {
		return false
	}
	for i := range s.LEDs {
		if s.LEDs[i] != o.LEDs[i] {
			return false
		}
	}
	for k, v := range s.Timers {
		ov, ok := o.Timers[k]
		if !ok || !v.equal(ov) {
			return false
		}
	}
	for k, v := range s.Text {
		if ov, ok := o.Text[k]; !ok || ov != v {
			return false
		}
	}
	c, oc := s.Clock, o.Clock
	if c.Synchronized != oc.Synchronized || !c.LastCheckedAt.Equal(oc.LastCheckedAt) ||
		c.Offset != oc.Offset || c.OffsetKnown != oc.OffsetKnown {
		return false
	}
	return s.Config.Equal(o.Config)
}

func (s *State) sameLayout(o *State) bool {
	if len(s.LEDs) != len(o.LEDs) || len(s.Timers) != len(o.Timers) {
		return false
	}
	for k := range s.Timers {
		if _, ok := o.Timers[k]; !ok {
			return false
		}
	}
	return true
}
