// Package monitoring - metrics.go provides operational counters.
//
// DESIGN: Every recording updates two views of the same numbers:
//   - atomic counters:  cheap snapshot for the /stats JSON endpoint
//   - Prometheus:       request/byte/capture series served on /metrics
//
// MetricsCollector also satisfies capture.Observer, so the persistor reports
// written, failed and dropped artifacts without importing this package.
package monitoring

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "ai_req_proxy"

// Relay directions used as metric labels.
const (
	DirectionRequest  = "request"
	DirectionResponse = "response"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time
	registry  *prometheus.Registry

	// Request counters
	requests           atomic.Int64
	successes          atomic.Int64
	upstreamErrors     atomic.Int64
	clientDisconnects  atomic.Int64
	streamedResponses  atomic.Int64
	bufferedResponses  atomic.Int64
	requestBytes       atomic.Int64
	responseBytes      atomic.Int64
	inFlight           atomic.Int64
	captureWrites      atomic.Int64
	captureFailures    atomic.Int64
	captureDrops       atomic.Int64
	transcriptsWritten atomic.Int64

	requestsTotal   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	relayedBytes    *prometheus.CounterVec
	inFlightGauge   prometheus.Gauge
	captureTotal    *prometheus.CounterVec
}

// NewMetricsCollector creates a collector with its own Prometheus registry.
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		startedAt: time.Now(),
		registry:  prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Proxied requests by method, transfer mode and outcome",
			},
			[]string{"method", "mode", "outcome"},
		),
		upstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "upstream_latency_seconds",
				Help:      "Time until the upstream returned response headers",
				// LLM first-token latencies range from ~100ms to tens of seconds.
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"method"},
		),
		relayedBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "relayed_bytes_total",
				Help:      "Body bytes relayed by direction",
			},
			[]string{"direction"},
		),
		inFlightGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "requests_in_flight",
				Help:      "Requests currently being relayed",
			},
		),
		captureTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "capture_artifacts_total",
				Help:      "Capture artifacts by kind and result (written, failed, dropped)",
			},
			[]string{"kind", "result"},
		),
	}

	mc.registry.MustRegister(
		mc.requestsTotal,
		mc.upstreamLatency,
		mc.relayedBytes,
		mc.inFlightGauge,
		mc.captureTotal,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return mc
}

// Registry exposes the Prometheus registry (tests, extra collectors).
func (mc *MetricsCollector) Registry() *prometheus.Registry { return mc.registry }

// Handler serves the Prometheus exposition format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// RequestStarted marks a request as in flight.
func (mc *MetricsCollector) RequestStarted() {
	mc.inFlight.Add(1)
	mc.inFlightGauge.Inc()
}

// RecordRequest records a finished exchange and takes it out of flight.
func (mc *MetricsCollector) RecordRequest(method, mode string, outcome Outcome) {
	mc.inFlight.Add(-1)
	mc.inFlightGauge.Dec()

	mc.requests.Add(1)
	switch outcome {
	case OutcomeOK:
		mc.successes.Add(1)
	case OutcomeUpstreamError:
		mc.upstreamErrors.Add(1)
	case OutcomeClientDisconnected:
		mc.clientDisconnects.Add(1)
	}
	switch mode {
	case "streamed":
		mc.streamedResponses.Add(1)
	case "buffered":
		mc.bufferedResponses.Add(1)
	}
	if mode == "" {
		mode = "none"
	}
	mc.requestsTotal.WithLabelValues(method, mode, string(outcome)).Inc()
}

// RecordUpstreamLatency records time to upstream response headers.
func (mc *MetricsCollector) RecordUpstreamLatency(method string, d time.Duration) {
	mc.upstreamLatency.WithLabelValues(method).Observe(d.Seconds())
}

// RecordBytes records relayed body bytes for a direction.
func (mc *MetricsCollector) RecordBytes(direction string, n int64) {
	if n <= 0 {
		return
	}
	switch direction {
	case DirectionRequest:
		mc.requestBytes.Add(n)
	case DirectionResponse:
		mc.responseBytes.Add(n)
	}
	mc.relayedBytes.WithLabelValues(direction).Add(float64(n))
}

// CaptureWritten records a persisted artifact.
func (mc *MetricsCollector) CaptureWritten(kind string, _ int) {
	mc.captureWrites.Add(1)
	if kind == "transcript" {
		mc.transcriptsWritten.Add(1)
	}
	mc.captureTotal.WithLabelValues(kind, "written").Inc()
}

// CaptureFailed records an artifact that could not be written.
func (mc *MetricsCollector) CaptureFailed(kind string) {
	mc.captureFailures.Add(1)
	mc.captureTotal.WithLabelValues(kind, "failed").Inc()
}

// CaptureDropped records an artifact dropped because the queue was full.
func (mc *MetricsCollector) CaptureDropped(kind string) {
	mc.captureDrops.Add(1)
	mc.captureTotal.WithLabelValues(kind, "dropped").Inc()
}

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// Stats returns current metrics as a flat map.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"requests":           mc.requests.Load(),
		"successes":          mc.successes.Load(),
		"upstream_errors":    mc.upstreamErrors.Load(),
		"client_disconnects": mc.clientDisconnects.Load(),
		"in_flight":          mc.inFlight.Load(),
		"capture_writes":     mc.captureWrites.Load(),
		"capture_failures":   mc.captureFailures.Load(),
		"capture_drops":      mc.captureDrops.Load(),
	}
}

// FullStats returns all metrics in a structured format for the /stats endpoint.
func (mc *MetricsCollector) FullStats() StatsResponse {
	uptime := time.Since(mc.startedAt)
	requests := mc.requests.Load()
	successes := mc.successes.Load()

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Requests: RequestStats{
			Total:             requests,
			Successful:        successes,
			Failed:            requests - successes,
			UpstreamErrors:    mc.upstreamErrors.Load(),
			ClientDisconnects: mc.clientDisconnects.Load(),
			InFlight:          mc.inFlight.Load(),
			StreamedResponses: mc.streamedResponses.Load(),
			BufferedResponses: mc.bufferedResponses.Load(),
		},
		Bytes: ByteStats{
			Request:  mc.requestBytes.Load(),
			Response: mc.responseBytes.Load(),
		},
		Capture: CaptureStats{
			Written:     mc.captureWrites.Load(),
			Transcripts: mc.transcriptsWritten.Load(),
			Failed:      mc.captureFailures.Load(),
			Dropped:     mc.captureDrops.Load(),
		},
	}
}

// StatsResponse is the structured response for the /stats endpoint.
type StatsResponse struct {
	Uptime        string       `json:"uptime"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartedAt     string       `json:"started_at"`
	Requests      RequestStats `json:"requests"`
	Bytes         ByteStats    `json:"bytes"`
	Capture       CaptureStats `json:"capture"`
}

// RequestStats holds request count metrics.
type RequestStats struct {
	Total             int64 `json:"total"`
	Successful        int64 `json:"successful"`
	Failed            int64 `json:"failed"`
	UpstreamErrors    int64 `json:"upstream_errors"`
	ClientDisconnects int64 `json:"client_disconnects"`
	InFlight          int64 `json:"in_flight"`
	StreamedResponses int64 `json:"streamed_responses"`
	BufferedResponses int64 `json:"buffered_responses"`
}

// ByteStats holds relayed body byte totals.
type ByteStats struct {
	Request  int64 `json:"request"`
	Response int64 `json:"response"`
}

// CaptureStats holds persistence metrics.
type CaptureStats struct {
	Written     int64 `json:"written"`
	Transcripts int64 `json:"transcripts"`
	Failed      int64 `json:"failed"`
	Dropped     int64 `json:"dropped"`
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
