// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by the gateway, the CLI and monitoring itself.
// Defined here ONCE to avoid duplication and circular imports.
//
// TYPES:
//   - Outcome:        How an exchange ended (metrics label, telemetry field)
//   - ExchangeEvent:  Telemetry data for each proxied exchange
//   - InitEvent:      Proxy startup configuration
//   - Config types:   TelemetryConfig, LoggerConfig
package monitoring

import "time"

// =============================================================================
// OUTCOMES - Used by metrics and telemetry
// =============================================================================

// Outcome classifies how an exchange ended.
type Outcome string

const (
	OutcomeOK                 Outcome = "ok"
	OutcomeUpstreamError      Outcome = "upstream_error"
	OutcomeClientDisconnected Outcome = "client_disconnected"
	OutcomeRelayError         Outcome = "relay_error"
)

// =============================================================================
// EVENT TYPES - Structured data for telemetry recording
// =============================================================================

// ExchangeEvent captures one request/response pair through the proxy.
type ExchangeEvent struct {
	RunID             string    `json:"run_id"`
	RequestID         int64     `json:"request_id"`
	Timestamp         time.Time `json:"timestamp"`
	Method            string    `json:"method"`
	Path              string    `json:"path"`
	TargetURL         string    `json:"target_url"`
	ClientIP          string    `json:"client_ip"`
	StatusCode        int       `json:"status_code"`
	Mode              string    `json:"mode,omitempty"` // streamed, buffered
	RequestBodySize   int64     `json:"request_body_size"`
	ResponseBodySize  int64     `json:"response_body_size"`
	ResponseChunks    int       `json:"response_chunks,omitempty"`
	Outcome           Outcome   `json:"outcome"`
	Error             string    `json:"error,omitempty"`
	Captured          bool      `json:"captured"`
	CaptureTruncated  bool      `json:"capture_truncated,omitempty"`
	UpstreamLatencyMs int64     `json:"upstream_latency_ms"`
	TotalLatencyMs    int64     `json:"total_latency_ms"`
}

// InitEvent captures proxy startup configuration.
type InitEvent struct {
	Timestamp            time.Time `json:"timestamp"`
	Event                string    `json:"event"`
	RunID                string    `json:"run_id"`
	Version              string    `json:"version,omitempty"`
	ListenAddr           string    `json:"listen_addr"`
	UpstreamURL          string    `json:"upstream_url"`
	CaptureEnabled       bool      `json:"capture_enabled"`
	CaptureDir           string    `json:"capture_dir,omitempty"`
	CaptureIndex         bool      `json:"capture_index"`
	RetentionDays        int       `json:"retention_days,omitempty"`
	ServerReadTimeoutMs  int64     `json:"server_read_timeout_ms"`
	ServerWriteTimeoutMs int64     `json:"server_write_timeout_ms"`
	AdminAddr            string    `json:"admin_addr,omitempty"`
	TelemetryPath        string    `json:"telemetry_path,omitempty"`
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// TelemetryConfig contains telemetry configuration.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogPath     string `yaml:"log_path"`
	LogToStdout bool   `yaml:"log_to_stdout"`
}

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console, auto
	Output string `yaml:"output"` // stdout, stderr, or file path
}
