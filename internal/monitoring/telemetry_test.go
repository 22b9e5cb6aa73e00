package monitoring

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readJSONL(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestTracker_RecordExchange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "exchanges.jsonl")
	tr, err := NewTracker(TelemetryConfig{Enabled: true, LogPath: path})
	require.NoError(t, err)

	tr.RecordExchange(&ExchangeEvent{
		RunID:      "run",
		RequestID:  0,
		Timestamp:  time.Now(),
		Method:     "POST",
		Path:       "/v1/chat/completions",
		TargetURL:  "http://up/v1/chat/completions?a=<b>",
		StatusCode: 200,
		Mode:       "streamed",
		Outcome:    OutcomeOK,
	})
	tr.RecordExchange(&ExchangeEvent{RequestID: 1, Outcome: OutcomeUpstreamError, Error: "refused"})
	require.NoError(t, tr.Close())

	events := readJSONL(t, path)
	require.Len(t, events, 2)
	assert.Equal(t, "streamed", events[0]["mode"])
	assert.Equal(t, "http://up/v1/chat/completions?a=<b>", events[0]["target_url"])
	assert.Equal(t, "upstream_error", events[1]["outcome"])
	assert.Equal(t, "refused", events[1]["error"])

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "a=<b>", "HTML characters are not escaped")
}

func TestTracker_RecordInit(t *testing.T) {
	dir := t.TempDir()
	tr, err := NewTracker(TelemetryConfig{Enabled: true, LogPath: filepath.Join(dir, "exchanges.jsonl")})
	require.NoError(t, err)

	tr.RecordInit(&InitEvent{Event: "proxy_init", RunID: "r", UpstreamURL: "http://up"})

	events := readJSONL(t, filepath.Join(dir, "init.jsonl"))
	require.Len(t, events, 1)
	assert.Equal(t, "proxy_init", events[0]["event"])
}

func TestTracker_DisabledIsNoop(t *testing.T) {
	tr, err := NewTracker(TelemetryConfig{Enabled: false, LogPath: filepath.Join(t.TempDir(), "x.jsonl")})
	require.NoError(t, err)
	tr.RecordExchange(&ExchangeEvent{RequestID: 1})
	assert.Equal(t, 0, tr.exchangeCount)

	var nilTracker *Tracker
	nilTracker.RecordExchange(&ExchangeEvent{})
	nilTracker.RecordInit(&InitEvent{})
	assert.NoError(t, nilTracker.Close())
}
