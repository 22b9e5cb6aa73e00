// Package gateway is the forwarding proxy.
//
// DESIGN: One catch-all handler relays every inbound request to a single
// upstream and copies the response back:
//   - New():          wires allocator, HTTP client, capture persistor, metrics, telemetry
//   - handleProxy():  per-request pipeline (see handler.go)
//   - AdminHandler(): /health, /stats, /metrics on a separate listener
//
// The proxy port is path-agnostic, so administrative endpoints never share it.
package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/heqingpan/ai-req-proxy/internal/capture"
	"github.com/heqingpan/ai-req-proxy/internal/config"
	"github.com/heqingpan/ai-req-proxy/internal/monitoring"
	"github.com/heqingpan/ai-req-proxy/internal/reqid"
)

// Version is reported by /health and the init telemetry event.
var Version = "0.1.0"

// Gateway relays requests to the upstream and captures the bodies.
type Gateway struct {
	config   *config.Config
	upstream *url.URL
	runID    string

	ids       *reqid.Allocator
	client    *http.Client
	persistor *capture.Persistor
	index     *capture.Index
	metrics   *monitoring.MetricsCollector
	tracker   *monitoring.Tracker

	server *http.Server
	admin  *http.Server
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithAllocator replaces the request id allocator.
func WithAllocator(a *reqid.Allocator) Option {
	return func(g *Gateway) { g.ids = a }
}

// WithHTTPClient replaces the upstream client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithMetrics replaces the metrics collector.
func WithMetrics(m *monitoring.MetricsCollector) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithTracker replaces the telemetry tracker.
func WithTracker(t *monitoring.Tracker) Option {
	return func(g *Gateway) { g.tracker = t }
}

// WithRunID sets the id tagging index rows and telemetry of this process.
func WithRunID(id string) Option {
	return func(g *Gateway) { g.runID = id }
}

// New creates a gateway from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	upstream, err := url.Parse(cfg.Upstream.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q: scheme and host required", cfg.Upstream.URL)
	}

	g := &Gateway{
		config:   cfg,
		upstream: upstream,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.runID == "" {
		g.runID = uuid.NewString()
	}
	if g.ids == nil {
		g.ids = reqid.New(0)
	}
	if g.client == nil {
		g.client = newUpstreamClient(cfg.Upstream)
	}
	if g.metrics == nil {
		g.metrics = monitoring.NewMetricsCollector()
	}
	if g.tracker == nil {
		tracker, err := monitoring.NewTracker(cfg.TelemetryConfig())
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		g.tracker = tracker
	}

	if cfg.Capture.Enabled {
		if err := g.setupCapture(); err != nil {
			_ = g.tracker.Close()
			return nil, err
		}
	}

	g.server = &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           g.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	if cfg.Monitoring.AdminAddr != "" {
		g.admin = &http.Server{
			Addr:              cfg.Monitoring.AdminAddr,
			Handler:           g.AdminHandler(),
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		}
	}
	return g, nil
}

func (g *Gateway) setupCapture() error {
	var opts []capture.Option
	if g.config.Capture.Index {
		idx, err := capture.OpenIndex(filepath.Join(g.config.Capture.Dir, capture.IndexFileName))
		if err != nil {
			return fmt.Errorf("capture index: %w", err)
		}
		g.index = idx
		opts = append(opts, capture.WithIndex(idx))
	}
	opts = append(opts, capture.WithObserver(g.metrics))
	g.persistor = capture.NewPersistor(capture.Config{
		Dir:       g.config.Capture.Dir,
		Workers:   g.config.Capture.Workers,
		QueueSize: g.config.Capture.QueueSize,
		RunID:     g.runID,
	}, opts...)
	return nil
}

// newUpstreamClient builds the client used for every outbound request.
// Redirects are returned to the client as-is and bodies are never decoded.
func newUpstreamClient(cfg config.UpstreamConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS}, //nolint:gosec // configurable, off by default
		TLSHandshakeTimeout:   config.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		MaxIdleConnsPerHost:   config.DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    true,
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Handler returns the catch-all proxy handler.
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(g.handleProxy)
}

// AdminHandler returns the handler for the admin listener.
func (g *Gateway) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /stats", g.handleStats)
	mux.Handle("GET /metrics", g.metrics.Handler())
	return mux
}

// Start serves the proxy (and the admin listener when configured). It blocks
// until the proxy server stops.
func (g *Gateway) Start() error {
	g.tracker.RecordInit(buildInitEvent(g.config, g.runID))

	if g.admin != nil {
		go func() {
			log.Info().Str("addr", g.admin.Addr).Msg("admin listener started")
			if err := g.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("admin listener failed")
			}
		}()
	}

	log.Info().
		Str("addr", g.server.Addr).
		Str("upstream", g.upstream.String()).
		Bool("capture", g.persistor != nil).
		Str("run_id", g.runID).
		Msg("proxy listening")
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listeners, waits for in-flight exchanges, then drains the
// capture queue.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error
	if err := g.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("proxy server: %w", err))
	}
	if g.admin != nil {
		if err := g.admin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin server: %w", err))
		}
	}
	errs = append(errs, g.Close())
	return errors.Join(errs...)
}

// Close releases the capture and telemetry resources without touching the
// listeners. Queued captures are written before it returns.
func (g *Gateway) Close() error {
	var errs []error
	if g.persistor != nil {
		errs = append(errs, g.persistor.Close())
	}
	if g.index != nil {
		errs = append(errs, g.index.Close())
	}
	errs = append(errs, g.tracker.Close())
	return errors.Join(errs...)
}

// CaptureIndex returns the capture index, or nil when indexing is off.
func (g *Gateway) CaptureIndex() *capture.Index { return g.index }

// RunID returns the id of this process run.
func (g *Gateway) RunID() string { return g.runID }

// Metrics returns the metrics collector.
func (g *Gateway) Metrics() *monitoring.MetricsCollector { return g.metrics }
