package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmin_Health(t *testing.T) {
	p := startProxy(t, testConfig(t, "http://127.0.0.1:1", false))

	rec := httptest.NewRecorder()
	p.gw.AdminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, Version, body["version"])
}

func TestAdmin_StatsIsLoopbackOnly(t *testing.T) {
	p := startProxy(t, testConfig(t, "http://127.0.0.1:1", true))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	p.gw.AdminHandler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	p.gw.AdminHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, p.gw.RunID(), stats.RunID)
	assert.True(t, stats.Capture)
	assert.Equal(t, int64(-1), stats.LastID)
}

func TestAdmin_MetricsAfterExchange(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer upstream.Close()

	p := startProxy(t, testConfig(t, upstream.URL, false))
	resp, err := http.Get(p.srv.URL + "/v1/models")
	require.NoError(t, err)
	_ = resp.Body.Close()
	p.waitExchanges(t, 1)

	rec := httptest.NewRecorder()
	p.gw.AdminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `ai_req_proxy_requests_total{method="GET",mode="buffered",outcome="ok"} 1`), body)
	assert.Contains(t, body, "ai_req_proxy_upstream_latency_seconds")
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("127.0.0.1:80"))
	assert.True(t, isLoopback("[::1]:80"))
	assert.False(t, isLoopback("10.0.0.1:80"))
	assert.False(t, isLoopback("garbage"))
}
