package gateway

import (
	"time"

	"github.com/heqingpan/ai-req-proxy/internal/config"
	"github.com/heqingpan/ai-req-proxy/internal/monitoring"
)

func buildInitEvent(cfg *config.Config, runID string) *monitoring.InitEvent {
	ev := &monitoring.InitEvent{
		Timestamp:            time.Now(),
		Event:                "proxy_init",
		RunID:                runID,
		Version:              Version,
		ListenAddr:           cfg.ListenAddress(),
		UpstreamURL:          cfg.Upstream.URL,
		CaptureEnabled:       cfg.Capture.Enabled,
		ServerReadTimeoutMs:  cfg.Server.ReadTimeout.Milliseconds(),
		ServerWriteTimeoutMs: cfg.Server.WriteTimeout.Milliseconds(),
		AdminAddr:            cfg.Monitoring.AdminAddr,
	}

	if cfg.Capture.Enabled {
		ev.CaptureDir = cfg.Capture.Dir
		ev.CaptureIndex = cfg.Capture.Index
		ev.RetentionDays = cfg.Capture.RetentionDays
	}
	if cfg.Monitoring.TelemetryEnabled {
		ev.TelemetryPath = cfg.Monitoring.TelemetryPath
	}

	return ev
}
