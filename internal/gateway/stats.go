// Package gateway - stats.go serves the admin endpoints.
//
// GET /health reports liveness, GET /stats returns operational counters as JSON.
package gateway

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/heqingpan/ai-req-proxy/internal/monitoring"
)

// StatsResponse is the JSON response for GET /stats.
type StatsResponse struct {
	RunID    string                   `json:"run_id"`
	Upstream string                   `json:"upstream"`
	Capture  bool                     `json:"capture_enabled"`
	LastID   int64                    `json:"last_request_id"`
	Metrics  monitoring.StatsResponse `json:"metrics"`
}

// handleHealth returns proxy health status.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":  "ok",
		"time":    time.Now().Format(time.RFC3339),
		"version": Version,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

// handleStats returns aggregated metrics as JSON.
// Restricted to localhost to prevent external access to operational metrics.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	resp := StatsResponse{
		RunID:    g.runID,
		Upstream: g.upstream.String(),
		Capture:  g.persistor != nil,
		LastID:   g.ids.Last(),
		Metrics:  g.metrics.FullStats(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
