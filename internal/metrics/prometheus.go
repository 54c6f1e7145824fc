package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	commands      *prom.CounterVec
	revision      prom.Gauge
	viewers       prom.Gauge
	mqttConnected prom.Gauge
	saves         *prom.CounterVec
}

// NewPrometheusRecorder registers the metrics on reg. A nil reg gets a fresh
// registry with the Go and process collectors.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = NewRegistry()
	}
	pr := &PrometheusRecorder{
		commands: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "onair",
			Name:      "commands_total",
			Help:      "Commands processed by source, namespace and result",
		}, []string{"source", "namespace", "result"}),
		revision: prom.NewGauge(prom.GaugeOpts{
			Namespace: "onair",
			Name:      "state_revision",
			Help:      "Current display state revision",
		}),
		viewers: prom.NewGauge(prom.GaugeOpts{
			Namespace: "onair",
			Name:      "ws_viewers",
			Help:      "Connected WebSocket viewers",
		}),
		mqttConnected: prom.NewGauge(prom.GaugeOpts{
			Namespace: "onair",
			Name:      "mqtt_connected",
			Help:      "1 while the MQTT broker connection is up",
		}),
		saves: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "onair",
			Name:      "settings_saves_total",
			Help:      "Settings file saves by result",
		}, []string{"result"}),
	}
	reg.MustRegister(pr.commands, pr.revision, pr.viewers, pr.mqttConnected, pr.saves)
	return pr
}

// NewRegistry returns a registry preloaded with the runtime collectors.
func NewRegistry() *prom.Registry {
	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// HTTPHandler serves reg in the Prometheus exposition format.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (p *PrometheusRecorder) IncCommand(source, namespace, result string) {
	if p == nil {
		return
	}
	p.commands.WithLabelValues(source, namespace, result).Inc()
}

func (p *PrometheusRecorder) SetRevision(rev uint64) {
	if p == nil {
		return
	}
	p.revision.Set(float64(rev))
}

func (p *PrometheusRecorder) SetViewers(n int) {
	if p == nil {
		return
	}
	p.viewers.Set(float64(n))
}

func (p *PrometheusRecorder) SetMQTTConnected(connected bool) {
	if p == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	p.mqttConnected.Set(v)
}

func (p *PrometheusRecorder) IncSettingsSave(result string) {
	if p == nil {
		return
	}
	p.saves.WithLabelValues(result).Inc()
}
