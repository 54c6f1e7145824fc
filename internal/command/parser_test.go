package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onairsync/internal/apperr"
)

func TestParseAccepted(t *testing.T) {
	cases := []struct {
		raw  string
		want Command
	}{
		{"LED1:ON", Command{Namespace: NsLED, Index: 1, Key: VerbOn}},
		{"led2:off\r\n", Command{Namespace: NsLED, Index: 2, Key: VerbOff}},
		{"LED3:green", Command{Namespace: NsLED, Index: 3, Key: "GREEN"}},
		{"LED1:LABEL=On Air", Command{Namespace: NsLED, Index: 1, Key: VerbLabel, Value: "On Air", HasValue: true}},
		{"NOW:Current Song", Command{Namespace: NsNow, Value: "Current Song", HasValue: true}},
		{"NEXT:Artist: Title = Remix", Command{Namespace: NsNext, Value: "Artist: Title = Remix", HasValue: true}},
		{"WARN:", Command{Namespace: NsWarn, Value: "", HasValue: true}},
		{"CONF:General:stationname=MyStation", Command{Namespace: NsConf, Key: "General", Subkey: "stationname", Value: "MyStation", HasValue: true}},
		{"CONF:General:slogan=a=b:c", Command{Namespace: NsConf, Key: "General", Subkey: "slogan", Value: "a=b:c", HasValue: true}},
		{"CMD:REBOOT", Command{Namespace: NsCmd, Key: VerbReboot}},
		{"cmd:quit", Command{Namespace: NsCmd, Key: VerbQuit}},
		{"TIMER2:START", Command{Namespace: NsTimer, Index: 2, Key: VerbStart}},
		{"AIR1:ON", Command{Namespace: NsTimer, Index: 1, Key: VerbStart}},
		{"TIMER1:SET=05:00", Command{Namespace: NsTimer, Index: 1, Key: VerbSet, Value: "05:00", HasValue: true}},
		{"GET:NOW", Command{Namespace: NsGet, Key: "NOW"}},
		{"GET:CONF:General", Command{Namespace: NsGet, Key: "CONF", Subkey: "General"}},
		{"GET:CONF:General:stationname", Command{Namespace: NsGet, Key: "CONF", Subkey: "General:stationname"}},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := Parse([]byte(tc.raw), SourceUDP)
			require.NoError(t, err)
			assert.Equal(t, tc.want.Namespace, got.Namespace)
			assert.Equal(t, tc.want.Index, got.Index)
			assert.Equal(t, tc.want.Key, got.Key)
			assert.Equal(t, tc.want.Subkey, got.Subkey)
			assert.Equal(t, tc.want.Value, got.Value)
			assert.Equal(t, tc.want.HasValue, got.HasValue)
			assert.Equal(t, SourceUDP, got.Source)
		})
	}
}

func TestParseRejected(t *testing.T) {
	cases := []struct {
		raw  string
		want error
	}{
		{"", apperr.ErrMalformed},
		{"\r\n", apperr.ErrMalformed},
		{"LED1", apperr.ErrMalformed},
		{"LED1:", apperr.ErrMalformed},
		{"LED1:ON=1", apperr.ErrMalformed},
		{"LED1:BLINKY", apperr.ErrMalformed},
		{"LED1:LABEL", apperr.ErrMalformed},
		{"CONF:General", apperr.ErrMalformed},
		{"CONF:General:stationname", apperr.ErrMalformed},
		{"CONF:a:b:c=d", apperr.ErrMalformed},
		{"GET:CONF:General:", apperr.ErrMalformed},
		{"GET:CONF::slogan", apperr.ErrMalformed},
		{"GET:CONF:a:b:c", apperr.ErrMalformed},
		{"GET:NOW:x:y", apperr.ErrMalformed},
		{"CMD:DANCE", apperr.ErrMalformed},
		{"TIMER1:SET", apperr.ErrMalformed},
		{"NOW:bell\x07", apperr.ErrMalformed},
		{"NOW:\xff\xfe", apperr.ErrMalformed},
		{"FOO:BAR", apperr.ErrUnknownNamespace},
		{"LED0:ON", apperr.ErrUnknownNamespace},
		{"LEDX:ON", apperr.ErrUnknownNamespace},
		{"LED1000:ON", apperr.ErrUnknownNamespace},
		{"CLOCK:SYNCED", apperr.ErrUnknownNamespace},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw), SourceMQTT)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParseOversized(t *testing.T) {
	raw := make([]byte, MaxPayload+1)
	for i := range raw {
		raw[i] = 'a'
	}
	_, err := Parse(raw, SourceUDP)
	assert.ErrorIs(t, err, apperr.ErrMalformed)
}

func TestParseOutOfRangeSlotStillParses(t *testing.T) {
	cmd, err := Parse([]byte("LED99:ON"), SourceUDP)
	require.NoError(t, err)
	assert.Equal(t, 99, cmd.Index)
}

func TestParseClockInternalOnly(t *testing.T) {
	cmd, err := Parse([]byte("CLOCK:SYNCED=15ms"), SourceInternal)
	require.NoError(t, err)
	assert.Equal(t, NsClock, cmd.Namespace)
	assert.Equal(t, "15ms", cmd.Value)
}

func TestParseStampsReceivedAt(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cmd, err := parseAt([]byte("NOW:x"), SourceHTTP, now)
	require.NoError(t, err)
	assert.Equal(t, now, cmd.ReceivedAt)
	assert.Equal(t, "NOW:x", cmd.Raw)
}

func TestCommandString(t *testing.T) {
	for _, raw := range []string{"LED1:ON", "TIMER2:SET=90", "CONF:General:stationname=X", "NOW:a:b", "GET:CONF:General", "GET:CONF:General:slogan"} {
		cmd, err := Parse([]byte(raw), SourceUDP)
		require.NoError(t, err)
		assert.Equal(t, raw, cmd.String())
	}
}

func TestParseNeverPanics(t *testing.T) {
	inputs := []string{":", "::", "=", ":=", "LED:ON", "TIMER:", "GET:", "GET:=x", "CONF::=", "CONF:a:=b", "AIR", "NOW"}
	for _, in := range inputs {
		assert.NotPanics(t, func() { _, _ = Parse([]byte(in), SourceUDP) }, in)
	}
}
