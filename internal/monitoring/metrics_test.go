package monitoring

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// BASIC METRICS
// =============================================================================

func TestMetrics_StatsStartAtZero(t *testing.T) {
	mc := NewMetricsCollector()
	for name, v := range mc.Stats() {
		assert.Equal(t, int64(0), v, name)
	}
}

func TestMetrics_RecordRequest(t *testing.T) {
	mc := NewMetricsCollector()

	for i := 0; i < 4; i++ {
		mc.RequestStarted()
	}
	mc.RecordRequest("POST", "streamed", OutcomeOK)
	mc.RecordRequest("POST", "buffered", OutcomeOK)
	mc.RecordRequest("POST", "", OutcomeUpstreamError)

	stats := mc.Stats()
	assert.Equal(t, int64(3), stats["requests"])
	assert.Equal(t, int64(2), stats["successes"])
	assert.Equal(t, int64(1), stats["upstream_errors"])
	assert.Equal(t, int64(1), stats["in_flight"])

	assert.Equal(t, float64(1), testutil.ToFloat64(mc.requestsTotal.WithLabelValues("POST", "streamed", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.requestsTotal.WithLabelValues("POST", "none", "upstream_error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.inFlightGauge))
}

func TestMetrics_RecordBytes(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordBytes(DirectionRequest, 100)
	mc.RecordBytes(DirectionResponse, 250)
	mc.RecordBytes(DirectionResponse, 0)

	full := mc.FullStats()
	assert.Equal(t, int64(100), full.Bytes.Request)
	assert.Equal(t, int64(250), full.Bytes.Response)
	assert.Equal(t, float64(250), testutil.ToFloat64(mc.relayedBytes.WithLabelValues(DirectionResponse)))
}

func TestMetrics_CaptureObserver(t *testing.T) {
	mc := NewMetricsCollector()

	mc.CaptureWritten("request", 10)
	mc.CaptureWritten("transcript", 20)
	mc.CaptureFailed("response")
	mc.CaptureDropped("response")
	mc.CaptureDropped("response")

	c := mc.FullStats().Capture
	assert.Equal(t, int64(2), c.Written)
	assert.Equal(t, int64(1), c.Transcripts)
	assert.Equal(t, int64(1), c.Failed)
	assert.Equal(t, int64(2), c.Dropped)
	assert.Equal(t, float64(2), testutil.ToFloat64(mc.captureTotal.WithLabelValues("response", "dropped")))
}

func TestMetrics_FullStats(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RequestStarted()
	mc.RecordRequest("GET", "buffered", OutcomeClientDisconnected)

	full := mc.FullStats()
	assert.Equal(t, int64(1), full.Requests.Total)
	assert.Equal(t, int64(1), full.Requests.Failed)
	assert.Equal(t, int64(1), full.Requests.ClientDisconnects)
	assert.Equal(t, int64(1), full.Requests.BufferedResponses)
	assert.Equal(t, "0m", full.Uptime)
	assert.NotEmpty(t, full.StartedAt)
}

func TestMetrics_Handler(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RecordUpstreamLatency("POST", 120*time.Millisecond)
	mc.RecordBytes(DirectionRequest, 5)

	rec := httptest.NewRecorder()
	mc.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ai_req_proxy_upstream_latency_seconds")
	assert.Contains(t, string(body), `ai_req_proxy_relayed_bytes_total{direction="request"} 5`)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5m", formatDuration(5*time.Minute))
	assert.Equal(t, "2h 3m", formatDuration(2*time.Hour+3*time.Minute))
	assert.Equal(t, "1d 1h 0m", formatDuration(25*time.Hour))
}
