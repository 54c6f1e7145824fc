package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onairsync/internal/apperr"
)

func TestValidateCanonicalizes(t *testing.T) {
	s := NewSchema(4, 4)

	e, err := s.Validate("general", "StationName", "Radio X")
	require.NoError(t, err)
	assert.Equal(t, Entry{Section: "General", Key: "stationname", Value: "Radio X"}, e)

	e, err = s.Validate("LED2", "autoflash", "YES")
	require.NoError(t, err)
	assert.Equal(t, "true", e.Value)

	e, err = s.Validate("General", "stationcolor", "#ff00aa")
	require.NoError(t, err)
	assert.Equal(t, "#FF00AA", e.Value)
}

func TestValidateRejects(t *testing.T) {
	s := NewSchema(4, 4)

	_, err := s.Validate("General", "unknownkey", "x")
	assert.ErrorIs(t, err, apperr.ErrUnknownKey)

	_, err = s.Validate("Nope", "stationname", "x")
	assert.ErrorIs(t, err, apperr.ErrUnknownKey)

	_, err = s.Validate("LED5", "text", "x")
	assert.ErrorIs(t, err, apperr.ErrUnknownKey, "only configured LED slots have sections")

	_, err = s.Validate("General", "stationcolor", "red")
	assert.ErrorIs(t, err, apperr.ErrInvalidValue)

	_, err = s.Validate("StreamMonitoring", "streamMonitorOfflineThreshold", "-1")
	assert.ErrorIs(t, err, apperr.ErrInvalidValue)

	_, err = s.Validate("StreamMonitoring", "streamMonitorUrl", "ftp://example.com/x")
	assert.ErrorIs(t, err, apperr.ErrInvalidValue)
}

func TestMergeDropsUnknownAndInvalid(t *testing.T) {
	s := NewSchema(2, 2)
	loaded := Values{
		"general": {"stationname": "Radio X", "bogus": "1"},
		"Clock":   {"digital": "maybe"},
		"Extra":   {"a": "b"},
	}

	merged, problems := s.Merge(loaded)
	assert.Len(t, problems, 3)
	assert.Equal(t, "Radio X", merged.String("General", "stationname"))
	assert.Equal(t, "true", merged.String("Clock", "digital"))
	_, ok := merged["Extra"]
	assert.False(t, ok)
}

func TestDefaultsCoverLayout(t *testing.T) {
	s := NewSchema(3, 5)
	d := s.Defaults()
	assert.Equal(t, "ON AIR", d.String("LED1", "text"))
	assert.Equal(t, "Timer 5", d.String("Timers", "TIMER5"))
	assert.Equal(t, 4, d.Int("StreamMonitoring", "streamMonitorTimer"))
	_, ok := d["LED4"]
	assert.False(t, ok)
}

func TestValuesDiffAndEqual(t *testing.T) {
	a := Values{"General": {"stationname": "A", "slogan": "s"}}
	b := a.Clone()
	assert.True(t, a.Equal(b))

	b.Set("General", "stationname", "B")
	b.Set("Clock", "digital", "false")
	assert.False(t, a.Equal(b))
	assert.Equal(t, []Entry{
		{Section: "Clock", Key: "digital", Value: "false"},
		{Section: "General", Key: "stationname", Value: "B"},
	}, a.Diff(b))
	assert.True(t, a.SectionEqual(Values{"General": {"stationname": "A", "slogan": "s"}}, "General"))
}
