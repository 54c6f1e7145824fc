package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onairsync/internal/apperr"
)

func TestParseSeconds(t *testing.T) {
	cases := map[string]int64{
		"312":     312,
		"312.38":  312,
		"312.78":  313,
		"312.5":   312,
		"313.5":   314,
		"0":       0,
		"0.5":     0,
		"86400.4": 86400,
		"-5.5":    -6,
	}
	for in, want := range cases {
		got, err := ParseSeconds(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"abc", "", "12.34.56", "NaN"} {
		_, err := ParseSeconds(in)
		assert.ErrorIs(t, err, apperr.ErrBadArgument, in)
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"90":      90 * time.Second,
		"90.5":    90 * time.Second,
		"1m30s":   90 * time.Second,
		"05:00":   5 * time.Minute,
		"1:00:00": time.Hour,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "-5", "-1m", "1:60", "1:2:3:4", "soon"} {
		_, err := ParseDuration(in)
		assert.Error(t, err, in)
	}
}
