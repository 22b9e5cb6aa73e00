// Package monitoring - telemetry.go records events to JSONL files.
//
// DESIGN: Tracker writes structured events as JSONL (one JSON object per line):
//   - ExchangeEvent: Every request/response pair through the proxy
//   - InitEvent:     Startup configuration, in init.jsonl next to the log
//
// Events are appended to files immediately after each event for real-time logging.
package monitoring

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/heqingpan/ai-req-proxy/internal/utils"
)

// Tracker handles telemetry event recording to file and stdout.
type Tracker struct {
	config        TelemetryConfig
	exchangePath  string
	initLogPath   string
	exchangeCount int
	mu            sync.Mutex
}

// NewTracker creates a new telemetry tracker.
func NewTracker(cfg TelemetryConfig) (*Tracker, error) {
	t := &Tracker{
		config: cfg,
	}

	if !cfg.Enabled || cfg.LogPath == "" {
		return t, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0750); err != nil {
		return nil, err
	}
	t.exchangePath = cfg.LogPath
	t.initLogPath = filepath.Join(filepath.Dir(cfg.LogPath), "init.jsonl")
	for _, path := range []string{t.exchangePath, t.initLogPath} {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, err
		}
		_ = f.Close()
	}
	return t, nil
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := utils.MarshalNoEscape(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Write(data)
	return err
}

// RecordExchange records a finished exchange.
func (t *Tracker) RecordExchange(event *ExchangeEvent) {
	if t == nil || !t.config.Enabled || event == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.config.LogToStdout {
		log.Info().
			Int64("req_id", event.RequestID).
			Int("status", event.StatusCode).
			Str("mode", event.Mode).
			Str("outcome", string(event.Outcome)).
			Int64("total_ms", event.TotalLatencyMs).
			Msg("telemetry")
	}

	if t.exchangePath != "" {
		if err := appendJSONL(t.exchangePath, event); err != nil {
			log.Error().Err(err).Str("path", t.exchangePath).Msg("telemetry: failed to write exchange event")
		} else {
			t.exchangeCount++
		}
	}
}

// RecordInit records a startup event to a dedicated init JSONL.
func (t *Tracker) RecordInit(event *InitEvent) {
	if t == nil || !t.config.Enabled || t.initLogPath == "" || event == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := appendJSONL(t.initLogPath, event); err != nil {
		log.Error().Err(err).Str("path", t.initLogPath).Msg("telemetry: failed to write init event")
	}
}

// Close logs a session summary.
func (t *Tracker) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.exchangePath != "" && t.exchangeCount > 0 {
		log.Info().
			Str("path", t.exchangePath).
			Int("events", t.exchangeCount).
			Msg("telemetry: session complete")
	}
	return nil
}
