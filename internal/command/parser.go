// Package command implements the NAMESPACE:KEY[:SUBKEY][=VALUE] grammar shared by
// every transport.
package command

import (
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"onairsync/internal/apperr"
)

// MaxPayload is the largest message the parser accepts.
const MaxPayload = 64 * 1024

const maxIndex = 999

var colors = map[string]struct{}{
	"RED": {}, "GREEN": {}, "YELLOW": {}, "BLUE": {}, "WHITE": {}, "ORANGE": {}, "PURPLE": {},
}

// IsColor reports whether s (upper case) names an LED color.
func IsColor(s string) bool {
	_, ok := colors[s]
	return ok
}

// Parse turns one raw message into a Command. It never panics; every
// rejection is an *apperr.Error with category parse.
func Parse(raw []byte, src Source) (Command, error) {
	return parseAt(raw, src, time.Now())
}

func parseAt(raw []byte, src Source, now time.Time) (Command, error) {
	if len(raw) > MaxPayload {
		return Command{}, apperr.Malformed("payload of %d bytes exceeds %d", len(raw), MaxPayload)
	}
	s := strings.TrimRight(string(raw), "\r\n")
	if s == "" {
		return Command{}, apperr.Malformed("empty command")
	}
	if !utf8.ValidString(s) {
		return Command{}, apperr.Malformed("payload is not valid UTF-8")
	}
	for _, r := range s {
		if r != '\t' && unicode.IsControl(r) {
			return Command{}, apperr.Malformed("payload contains control character %U", r)
		}
	}

	sep := strings.IndexByte(s, ':')
	if sep < 0 {
		return Command{}, apperr.Malformed("missing ':' separator in %q", s)
	}
	token, rest := s[:sep], s[sep+1:]

	ns, index, err := lookupNamespace(token, src)
	if err != nil {
		return Command{}, err
	}

	cmd := Command{
		Namespace:  ns,
		Index:      index,
		Source:     src,
		ReceivedAt: now,
		Raw:        s,
	}

	if ns.IsText() {
		cmd.Value = rest
		cmd.HasValue = true
		return cmd, nil
	}

	head := rest
	if eq := strings.IndexByte(rest, '='); eq >= 0 {
		head = rest[:eq]
		cmd.Value = rest[eq+1:]
		cmd.HasValue = true
	}
	parts := strings.Split(head, ":")
	if len(parts) == 3 && ns == NsGet && strings.EqualFold(strings.TrimSpace(parts[0]), "CONF") {
		// GET:CONF:<section>:<key> keeps "section:key" in Subkey.
		parts = []string{parts[0], strings.TrimSpace(parts[1]) + ":" + strings.TrimSpace(parts[2])}
	}
	if len(parts) > 2 {
		return Command{}, apperr.Malformed("too many ':' segments in %q", s)
	}
	cmd.Key = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		cmd.Subkey = strings.TrimSpace(parts[1])
		if cmd.Subkey == "" {
			return Command{}, apperr.Malformed("empty subkey in %q", s)
		}
	}
	if cmd.Key == "" {
		return Command{}, apperr.Malformed("empty key in %q", s)
	}
	if ns != NsConf {
		cmd.Key = strings.ToUpper(cmd.Key)
	}

	if err := validateShape(&cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// ParseTarget resolves a bare namespace token such as "LED2", "AIR1" or "NOW".
// Indexed namespaces without a number ("LED") resolve with index 0.
func ParseTarget(token string) (Namespace, int, error) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "LED":
		return NsLED, 0, nil
	case "TIMER", "AIR":
		return NsTimer, 0, nil
	}
	return lookupNamespace(token, SourceInternal)
}

func lookupNamespace(token string, src Source) (Namespace, int, error) {
	t := strings.ToUpper(strings.TrimSpace(token))
	switch t {
	case "NOW":
		return NsNow, 0, nil
	case "NEXT":
		return NsNext, 0, nil
	case "WARN":
		return NsWarn, 0, nil
	case "CONF":
		return NsConf, 0, nil
	case "CMD":
		return NsCmd, 0, nil
	case "GET":
		return NsGet, 0, nil
	case "CLOCK":
		if src != SourceInternal {
			return 0, 0, apperr.UnknownNamespace(token)
		}
		return NsClock, 0, nil
	}

	for _, p := range []struct {
		prefix string
		ns     Namespace
	}{{"LED", NsLED}, {"TIMER", NsTimer}, {"AIR", NsTimer}} {
		if !strings.HasPrefix(t, p.prefix) {
			continue
		}
		n, ok := parseIndex(t[len(p.prefix):])
		if !ok {
			break
		}
		return p.ns, n, nil
	}
	return 0, 0, apperr.UnknownNamespace(token)
}

func parseIndex(s string) (int, bool) {
	if s == "" || len(s) > 3 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > maxIndex {
		return 0, false
	}
	return n, true
}

func validateShape(cmd *Command) error {
	noValue := func() error {
		if cmd.HasValue || cmd.Subkey != "" {
			return apperr.Malformed("%s:%s takes no argument", cmd.Target(), cmd.Key)
		}
		return nil
	}
	needValue := func() error {
		if !cmd.HasValue || cmd.Subkey != "" {
			return apperr.Malformed("%s:%s requires '=<value>'", cmd.Target(), cmd.Key)
		}
		return nil
	}

	switch cmd.Namespace {
	case NsLED:
		switch {
		case cmd.Key == VerbOn || cmd.Key == VerbOff || IsColor(cmd.Key):
			return noValue()
		case cmd.Key == VerbLabel:
			return needValue()
		}
		return apperr.Malformed("unknown LED action %q", cmd.Key)

	case NsTimer:
		switch cmd.Key {
		case VerbOn:
			cmd.Key = VerbStart
			return noValue()
		case VerbOff:
			cmd.Key = VerbStop
			return noValue()
		case VerbStart, VerbStop, VerbReset:
			return noValue()
		case VerbSet, VerbMode:
			return needValue()
		}
		return apperr.Malformed("unknown timer action %q", cmd.Key)

	case NsConf:
		if cmd.Subkey == "" || !cmd.HasValue {
			return apperr.Malformed("CONF requires <section>:<key>=<value>")
		}
		return nil

	case NsCmd:
		switch cmd.Key {
		case VerbReboot, VerbShutdown, VerbQuit, VerbRestart:
			return noValue()
		}
		return apperr.Malformed("unknown system verb %q", cmd.Key)

	case NsGet:
		if cmd.HasValue {
			return apperr.Malformed("GET takes no value")
		}
		if cmd.Subkey != "" && cmd.Key != "CONF" {
			return apperr.Malformed("GET:%s takes no subkey", cmd.Key)
		}
		if section, key, ok := strings.Cut(cmd.Subkey, ":"); ok && (section == "" || key == "") {
			return apperr.Malformed("GET:CONF requires <section>[:<key>]")
		}
		return nil

	case NsClock:
		switch cmd.Key {
		case VerbSynced, VerbUnsynced:
			return nil
		}
		return apperr.Malformed("unknown clock state %q", cmd.Key)
	}
	return apperr.Malformed("unhandled namespace %s", cmd.Namespace)
}
