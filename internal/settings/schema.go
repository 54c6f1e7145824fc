// Package settings describes the display settings the core reads and persists:
// which sections and keys exist, their kinds, defaults and validation.
package settings

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"onairsync/internal/apperr"
)

// Kind is the value type of a setting.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindColor
	KindURL
)

// Key describes one setting.
type Key struct {
	Name    string
	Kind    Kind
	Default string
}

// Section is an ordered group of keys.
type Section struct {
	Name string
	Keys []Key
}

// Well known section and key names referenced by code.
const (
	SectionGeneral = "General"
	SectionClock   = "Clock"
	SectionTimers  = "Timers"
	SectionStream  = "StreamMonitoring"

	KeyStationName   = "stationname"
	KeyLEDText       = "text"
	KeyStreamOn      = "streamMonitorEnabled"
	KeyStreamURL     = "streamMonitorUrl"
	KeyStreamOffline = "streamMonitorOfflineThreshold"
	KeyStreamDelay   = "streamMonitorReconnectDelay"
	KeyStreamTimer   = "streamMonitorTimer"
)

var colorRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Schema is the closed set of known settings. It is immutable after NewSchema.
type Schema struct {
	sections []Section
	index    map[string]map[string]ref
	names    map[string]string
}

type ref struct {
	section string
	key     Key
}

// LEDSection is the settings section name for LED slot n.
func LEDSection(n int) string { return fmt.Sprintf("LED%d", n) }

// TimerKey is the Timers section key carrying the label of timer n.
func TimerKey(n int) string { return fmt.Sprintf("TIMER%d", n) }

// NewSchema builds the schema for the given layout.
func NewSchema(ledCount, timerCount int) *Schema {
	sections := []Section{
		{Name: SectionGeneral, Keys: []Key{
			{Name: KeyStationName, Kind: KindString, Default: "Radio Eriwan"},
			{Name: "slogan", Kind: KindString, Default: "Your question is our motivation"},
			{Name: "stationcolor", Kind: KindColor, Default: "#FFAA00"},
			{Name: "slogancolor", Kind: KindColor, Default: "#FFAA00"},
			{Name: "replacenow", Kind: KindBool, Default: "false"},
			{Name: "replacenowtext", Kind: KindString, Default: ""},
		}},
		{Name: SectionClock, Keys: []Key{
			{Name: "digital", Kind: KindBool, Default: "true"},
			{Name: "showseconds", Kind: KindBool, Default: "false"},
			{Name: "ntpcheck", Kind: KindBool, Default: "true"},
			{Name: "ntpcheckserver", Kind: KindString, Default: "pool.ntp.org"},
		}},
	}

	defaultLabels := []string{"ON AIR", "PHONE", "DOORBELL", "EAS ACTIVE"}
	for i := 1; i <= ledCount; i++ {
		label := fmt.Sprintf("LED%d", i)
		if i <= len(defaultLabels) {
			label = defaultLabels[i-1]
		}
		sections = append(sections, Section{Name: LEDSection(i), Keys: []Key{
			{Name: KeyLEDText, Kind: KindString, Default: label},
			{Name: "activebgcolor", Kind: KindColor, Default: "#FF0000"},
			{Name: "activetextcolor", Kind: KindColor, Default: "#FFFFFF"},
			{Name: "autoflash", Kind: KindBool, Default: "false"},
		}})
	}

	timerLabels := []string{"Mic", "Phone", "Timer", "Stream"}
	timers := Section{Name: SectionTimers}
	for i := 1; i <= timerCount; i++ {
		label := fmt.Sprintf("Timer %d", i)
		if i <= len(timerLabels) {
			label = timerLabels[i-1]
		}
		timers.Keys = append(timers.Keys, Key{Name: TimerKey(i), Kind: KindString, Default: label})
	}
	sections = append(sections, timers)

	streamTimer := timerCount
	if streamTimer > 4 {
		streamTimer = 4
	}
	sections = append(sections, Section{Name: SectionStream, Keys: []Key{
		{Name: KeyStreamOn, Kind: KindBool, Default: "false"},
		{Name: KeyStreamURL, Kind: KindURL, Default: ""},
		{Name: KeyStreamOffline, Kind: KindInt, Default: "10"},
		{Name: KeyStreamDelay, Kind: KindInt, Default: "5"},
		{Name: KeyStreamTimer, Kind: KindInt, Default: strconv.Itoa(streamTimer)},
	}})

	s := &Schema{
		sections: sections,
		index:    make(map[string]map[string]ref),
		names:    make(map[string]string),
	}
	for _, sec := range sections {
		keys := make(map[string]ref, len(sec.Keys))
		for _, k := range sec.Keys {
			keys[strings.ToLower(k.Name)] = ref{section: sec.Name, key: k}
		}
		s.index[strings.ToLower(sec.Name)] = keys
		s.names[strings.ToLower(sec.Name)] = sec.Name
	}
	return s
}

// Sections returns the schema sections in declaration order.
func (s *Schema) Sections() []Section {
	return s.sections
}

// Section resolves a section name case-insensitively.
func (s *Schema) Section(name string) (string, bool) {
	canonical, ok := s.names[strings.ToLower(name)]
	return canonical, ok
}

// Resolve finds a setting case-insensitively and returns its canonical names.
func (s *Schema) Resolve(section, key string) (string, Key, error) {
	keys, ok := s.index[strings.ToLower(section)]
	if !ok {
		return "", Key{}, apperr.UnknownKey(section, key)
	}
	r, ok := keys[strings.ToLower(key)]
	if !ok {
		return "", Key{}, apperr.UnknownKey(section, key)
	}
	return r.section, r.key, nil
}

// Validate resolves the setting and checks value against its kind. It returns
// the canonical section, key and the normalized value.
func (s *Schema) Validate(section, key, value string) (Entry, error) {
	sec, k, err := s.Resolve(section, key)
	if err != nil {
		return Entry{}, err
	}
	norm, err := normalize(k.Kind, value)
	if err != nil {
		return Entry{}, apperr.InvalidValue(sec, k.Name, value, err.Error())
	}
	return Entry{Section: sec, Key: k.Name, Value: norm}, nil
}

// Defaults returns a fresh Values holding every default.
func (s *Schema) Defaults() Values {
	v := make(Values, len(s.sections))
	for _, sec := range s.sections {
		for _, k := range sec.Keys {
			v.Set(sec.Name, k.Name, k.Default)
		}
	}
	return v
}

// Merge overlays loaded values on the defaults. Unknown keys are dropped and
// invalid values keep the default; each is reported in the returned slice.
func (s *Schema) Merge(loaded Values) (Values, []error) {
	out := s.Defaults()
	var problems []error
	for section, keys := range loaded {
		for key, value := range keys {
			e, err := s.Validate(section, key, value)
			if err != nil {
				problems = append(problems, err)
				continue
			}
			out.Set(e.Section, e.Key, e.Value)
		}
	}
	return out, problems
}

func normalize(kind Kind, value string) (string, error) {
	switch kind {
	case KindBool:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return "true", nil
		case "false", "0", "no", "off":
			return "false", nil
		}
		return "", fmt.Errorf("expected a boolean")
	case KindInt:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return "", fmt.Errorf("expected a non-negative integer")
		}
		return strconv.Itoa(n), nil
	case KindColor:
		v := strings.TrimSpace(value)
		if !colorRe.MatchString(v) {
			return "", fmt.Errorf("expected #RRGGBB")
		}
		return strings.ToUpper(v), nil
	case KindURL:
		v := strings.TrimSpace(value)
		if v == "" {
			return "", nil
		}
		u, err := url.Parse(v)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", fmt.Errorf("expected an http(s) URL")
		}
		return v, nil
	default:
		return value, nil
	}
}
