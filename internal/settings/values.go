package settings

import (
	"sort"
	"strconv"
	"time"
)

// Values is the section -> key -> value mapping of display settings.
// Values are always stored as strings; typed accessors coerce at use.
type Values map[string]map[string]string

// Get returns the value and whether it is present.
func (v Values) Get(section, key string) (string, bool) {
	s, ok := v[section]
	if !ok {
		return "", false
	}
	val, ok := s[key]
	return val, ok
}

// String returns the value or "".
func (v Values) String(section, key string) string {
	val, _ := v.Get(section, key)
	return val
}

// Bool coerces a normalized bool value.
func (v Values) Bool(section, key string) bool {
	return v.String(section, key) == "true"
}

// Int coerces an int value, 0 when absent or malformed.
func (v Values) Int(section, key string) int {
	n, _ := strconv.Atoi(v.String(section, key))
	return n
}

// Seconds coerces an int value to a duration in seconds.
func (v Values) Seconds(section, key string) time.Duration {
	return time.Duration(v.Int(section, key)) * time.Second
}

// Set stores a value, creating the section when needed.
func (v Values) Set(section, key, value string) {
	s, ok := v[section]
	if !ok {
		s = make(map[string]string)
		v[section] = s
	}
	s[key] = value
}

// Clone returns a deep copy.
func (v Values) Clone() Values {
	c := make(Values, len(v))
	for section, keys := range v {
		sc := make(map[string]string, len(keys))
		for k, val := range keys {
			sc[k] = val
		}
		c[section] = sc
	}
	return c
}

// Equal reports whether both mappings hold exactly the same entries.
func (v Values) Equal(o Values) bool {
	if len(v) != len(o) {
		return false
	}
	for section, keys := range v {
		other, ok := o[section]
		if !ok || len(other) != len(keys) {
			return false
		}
		for k, val := range keys {
			if ov, ok := other[k]; !ok || ov != val {
				return false
			}
		}
	}
	return true
}

// SectionEqual compares a single section.
func (v Values) SectionEqual(o Values, section string) bool {
	return Values{section: v[section]}.Equal(Values{section: o[section]})
}

// Diff lists the entries of o that differ from v.
func (v Values) Diff(o Values) []Entry {
	var out []Entry
	for section, keys := range o {
		for k, val := range keys {
			if cur, ok := v.Get(section, k); !ok || cur != val {
				out = append(out, Entry{Section: section, Key: k, Value: val})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Section != out[j].Section {
			return out[i].Section < out[j].Section
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Entry is one section/key/value triple.
type Entry struct {
	Section string
	Key     string
	Value   string
}
