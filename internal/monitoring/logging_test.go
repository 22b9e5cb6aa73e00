package monitoring

import (
	"bytes"
	stdlog "log"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"loud", zerolog.NoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatWriter(t *testing.T) {
	var buf bytes.Buffer

	assert.Equal(t, &buf, formatWriter("json", &buf))
	assert.Equal(t, &buf, formatWriter("auto", &buf), "non-terminal writers get JSON")

	cw, ok := formatWriter("console", &buf).(zerolog.ConsoleWriter)
	require.True(t, ok)
	assert.True(t, cw.NoColor)
}

func TestSetupLogging_FileOutput(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
		stdlog.SetOutput(os.Stderr)
	})

	path := filepath.Join(t.TempDir(), "proxy.log")
	closer, err := SetupLogging(LoggerConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	log.Debug().Int64("req_id", 3).Msg("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"req_id":3`)
	assert.Contains(t, string(data), `"message":"hello"`)
}

func TestSetupLogging_BadLevel(t *testing.T) {
	_, err := SetupLogging(LoggerConfig{Level: "chatty"})
	assert.Error(t, err)
}
