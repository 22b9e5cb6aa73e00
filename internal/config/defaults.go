// Package config - defaults.go holds the proxy's default values.
//
// DESIGN: DefaultConfig and the CLI both read these; nothing else hardcodes them.
package config

import "time"

// =============================================================================
// LISTENER
// =============================================================================

// DefaultListenAddr is the interface the proxy binds to.
const DefaultListenAddr = "127.0.0.1"

// DefaultPort is the proxy port.
const DefaultPort = 8080

// DefaultServerReadHeaderTimeout bounds reading the request headers.
const DefaultServerReadHeaderTimeout = 30 * time.Second

// DefaultServerReadTimeout covers the whole request including the body. It must
// stay 0 for streaming: net/http cancels the request context when the read
// deadline expires while a response is still being relayed.
const DefaultServerReadTimeout time.Duration = 0

// DefaultServerWriteTimeout is 0 so long streamed responses are never cut.
const DefaultServerWriteTimeout time.Duration = 0

// DefaultServerIdleTimeout closes idle keep-alive connections.
const DefaultServerIdleTimeout = 2 * time.Minute

// DefaultShutdownTimeout is how long in-flight exchanges may finish on shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// =============================================================================
// UPSTREAM
// =============================================================================

// DefaultDialTimeout is the TCP dial timeout.
const DefaultDialTimeout = 30 * time.Second

// DefaultTLSHandshakeTimeout bounds the upstream TLS handshake.
const DefaultTLSHandshakeTimeout = 10 * time.Second

// DefaultMaxIdleConnsPerHost keeps upstream connections warm.
const DefaultMaxIdleConnsPerHost = 32

// =============================================================================
// RELAY
// =============================================================================

// DefaultBufferSize is the pump read size.
const DefaultBufferSize = 4096

// DefaultStreamQueueSize is the number of chunks buffered between the upstream
// reader and a slow client on streamed responses.
const DefaultStreamQueueSize = 5

// =============================================================================
// CAPTURE
// =============================================================================

// DefaultCaptureDir is where day directories are created.
const DefaultCaptureDir = "data/req"

// DefaultCaptureWorkers is the number of goroutines writing artifacts.
const DefaultCaptureWorkers = 2

// DefaultCaptureQueueSize is how many artifacts may wait for a worker.
const DefaultCaptureQueueSize = 256

// DefaultPruneSchedule runs retention daily at 3 AM.
const DefaultPruneSchedule = "0 3 * * *"

// =============================================================================
// MONITORING
// =============================================================================

// DefaultTelemetryPath is the exchange JSONL log.
const DefaultTelemetryPath = "logs/exchanges.jsonl"
