// Package metrics exposes counters and gauges for command processing and
// client connectivity. Components take a Recorder; NoopRecorder is the default.
package metrics

// Result labels for the commands and saves counters.
const (
	ResultApplied  = "applied"
	ResultNoop     = "noop"
	ResultQuery    = "query"
	ResultRejected = "rejected"

	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// Recorder is the set of observation hooks used across the process.
type Recorder interface {
	IncCommand(source, namespace, result string)
	SetRevision(rev uint64)
	SetViewers(n int)
	SetMQTTConnected(connected bool)
	IncSettingsSave(result string)
}

// NoopRecorder discards every observation.
type NoopRecorder struct{}

func (NoopRecorder) IncCommand(string, string, string) {}
func (NoopRecorder) SetRevision(uint64)                {}
func (NoopRecorder) SetViewers(int)                    {}
func (NoopRecorder) SetMQTTConnected(bool)             {}
func (NoopRecorder) IncSettingsSave(string)            {}
