package command

import (
	"math"
	"strconv"
	"strings"
	"time"

	"onairsync/internal/apperr"
)

// ParseSeconds parses a seconds value such as "312" or "312.38" and rounds it
// to whole seconds, half to even.
func ParseSeconds(value string) (int64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, apperr.BadArgument("%q is not a number of seconds", value)
	}
	return int64(math.RoundToEven(f)), nil
}

// ParseDuration accepts seconds ("90", "90.5"), Go durations ("1m30s") and
// clock notation ("01:30", "1:00:00"). Negative values are rejected.
func ParseDuration(value string) (time.Duration, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, apperr.BadArgument("empty duration")
	}

	var d time.Duration
	switch {
	case strings.Contains(v, ":"):
		parts := strings.Split(v, ":")
		if len(parts) > 3 {
			return 0, apperr.BadArgument("%q is not [hh:]mm:ss", value)
		}
		var total int64
		for i, p := range parts {
			n, err := strconv.ParseInt(p, 10, 64)
			if err != nil || n < 0 || (i > 0 && n > 59) {
				return 0, apperr.BadArgument("%q is not [hh:]mm:ss", value)
			}
			total = total*60 + n
		}
		d = time.Duration(total) * time.Second
	default:
		if secs, err := ParseSeconds(v); err == nil {
			d = time.Duration(secs) * time.Second
			break
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, apperr.BadArgument("%q is not a duration", value)
		}
		d = parsed
	}

	if d < 0 {
		return 0, apperr.BadArgument("negative duration %q", value)
	}
	return d, nil
}
