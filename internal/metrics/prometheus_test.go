package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.IncCommand("UDP", "LED", ResultApplied)
	pr.IncCommand("UDP", "LED", ResultApplied)
	pr.IncCommand("MQTT", "CONF", ResultRejected)
	pr.SetRevision(42)
	pr.SetMQTTConnected(true)
	pr.IncSettingsSave(ResultFailed)

	assert.Equal(t, 2.0, testutil.ToFloat64(pr.commands.WithLabelValues("UDP", "LED", ResultApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.commands.WithLabelValues("MQTT", "CONF", ResultRejected)))
	assert.Equal(t, 42.0, testutil.ToFloat64(pr.revision))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.mqttConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.saves.WithLabelValues(ResultFailed)))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	assert.NotPanics(t, func() {
		pr.IncCommand("UDP", "LED", ResultApplied)
		pr.SetRevision(1)
		pr.SetViewers(3)
		pr.SetMQTTConnected(false)
		pr.IncSettingsSave(ResultSuccess)
	})
}

func TestHTTPHandlerExposesMetrics(t *testing.T) {
	reg := NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.SetViewers(2)

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "onair_ws_viewers 2"))
}
