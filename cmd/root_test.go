package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heqingpan/ai-req-proxy/internal/capture"
)

// resetFlags restores every flag variable; cobra keeps parsed values between
// executions.
func resetFlags(t *testing.T) {
	t.Helper()
	reset := func() {
		cfgFile = ""
		envFile = ".env"
		rootFlags.saveAll = false
		rootFlags.debug = false
		rootFlags.captureDir = ""
		rootFlags.adminAddr = ""
		capturesFlags.dir = ""
		capturesFlags.date = ""
		capturesFlags.format = "table"
		pruneFlags.dir = ""
		pruneFlags.days = 0
	}
	reset()
	t.Cleanup(reset)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--env-file", ""))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

func TestValidateRootArgs(t *testing.T) {
	assert.NoError(t, validateRootArgs(rootCmd, nil))
	assert.NoError(t, validateRootArgs(rootCmd, []string{"127.0.0.1", "8080", "http://up"}))
	assert.Error(t, validateRootArgs(rootCmd, []string{"127.0.0.1"}))
	assert.Error(t, validateRootArgs(rootCmd, []string{"a", "b", "c", "d"}))
}

func TestBuildConfig_PositionalArgs(t *testing.T) {
	resetFlags(t)

	cfg, err := buildConfig([]string{"0.0.0.0", "9090", "https://api.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.ListenAddr)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://api.example.com", cfg.Upstream.URL)
	assert.False(t, cfg.Capture.Enabled)
	assert.Equal(t, "info", cfg.Monitoring.LogLevel)
}

func TestBuildConfig_FlagsOverride(t *testing.T) {
	resetFlags(t)
	rootFlags.saveAll = true
	rootFlags.debug = true
	rootFlags.captureDir = "/tmp/captures"
	rootFlags.adminAddr = "127.0.0.1:9100"

	cfg, err := buildConfig([]string{"127.0.0.1", "8080", "http://up:1234"})
	require.NoError(t, err)
	assert.True(t, cfg.Capture.Enabled)
	assert.Equal(t, "debug", cfg.Monitoring.LogLevel)
	assert.Equal(t, "/tmp/captures", cfg.Capture.Dir)
	assert.Equal(t, "127.0.0.1:9100", cfg.Monitoring.AdminAddr)
}

func TestBuildConfig_Errors(t *testing.T) {
	resetFlags(t)

	_, err := buildConfig(nil)
	assert.Error(t, err, "arguments are required without a config file")

	_, err = buildConfig([]string{"127.0.0.1", "http", "http://up"})
	assert.ErrorContains(t, err, "listen_port")

	_, err = buildConfig([]string{"127.0.0.1", "8080", "ftp://up"})
	assert.ErrorContains(t, err, "scheme")
}

func TestBuildConfig_ConfigFileWithDotenv(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()

	const key = "AI_REQ_PROXY_TEST_UPSTREAM"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte(key+"=http://from-dotenv:7000\n"), 0600))
	cfgPath := filepath.Join(dir, "proxy.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
server:
  port: 18080
upstream:
  url: ${`+key+`}
capture:
  enabled: true
  dir: `+filepath.Join(dir, "req")+`
`), 0600))

	envFile = envPath
	cfgFile = cfgPath
	require.NoError(t, loadEnvFile(rootCmd, nil))

	cfg, err := buildConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://from-dotenv:7000", cfg.Upstream.URL)
	assert.Equal(t, 18080, cfg.Server.Port)
	assert.True(t, cfg.Capture.Enabled)

	// Positional arguments win over the file.
	cfg, err = buildConfig([]string{"127.0.0.1", "8081", "http://cli:1"})
	require.NoError(t, err)
	assert.Equal(t, "http://cli:1", cfg.Upstream.URL)
	assert.Equal(t, 8081, cfg.Server.Port)
}

func TestLoadEnvFile_MissingIsIgnored(t *testing.T) {
	resetFlags(t)
	envFile = filepath.Join(t.TempDir(), "absent.env")
	assert.NoError(t, loadEnvFile(rootCmd, nil))
}

// =============================================================================
// SUBCOMMANDS
// =============================================================================

func TestCapturesCommand(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()

	idx, err := capture.OpenIndex(filepath.Join(dir, capture.IndexFileName))
	require.NoError(t, err)
	at := time.Date(2025, 3, 9, 14, 5, 7, 0, time.Local)
	require.NoError(t, idx.Add(context.Background(), capture.Entry{
		RunID: "run", ReqID: 3, Kind: capture.KindResponse, Date: "20250309", ReceivedAt: at,
		Method: "POST", URL: "http://up/v1/chat", Status: 200, Mode: "streamed", Path: "p", Size: 42,
	}))
	require.NoError(t, idx.Close())

	out, err := execute(t, "captures", "--dir", dir, "--date", "20250309")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "streamed")
	assert.Contains(t, lines[1], "14:05:07")
	assert.Contains(t, lines[1], "http://up/v1/chat")

	out, err = execute(t, "captures", "--dir", dir, "--date", "20250309", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"req_id": 3`)
	assert.Contains(t, out, `"kind": "response"`)
}

func TestCapturesCommand_RejectsBadDate(t *testing.T) {
	resetFlags(t)
	_, err := execute(t, "captures", "--dir", t.TempDir(), "--date", "2025-03-09")
	assert.ErrorContains(t, err, "YYYYMMDD")
}

func TestPruneCommand(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	old := filepath.Join(dir, "20000101")
	today := filepath.Join(dir, time.Now().Format(capture.DateLayout))
	require.NoError(t, os.MkdirAll(old, 0755))
	require.NoError(t, os.MkdirAll(today, 0755))

	out, err := execute(t, "prune", "--dir", dir, "--days", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 day(s)")
	assert.NoDirExists(t, old)
	assert.DirExists(t, today)
}

func TestPruneCommand_RequiresDays(t *testing.T) {
	resetFlags(t)
	_, err := execute(t, "prune", "--dir", t.TempDir())
	assert.ErrorContains(t, err, "retention days")
}
