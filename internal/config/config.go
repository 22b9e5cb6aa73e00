// Package config loads the proxy configuration.
//
// DESIGN: Configuration is layered:
//   - DefaultConfig():        values from defaults.go
//   - YAML file:              overrides defaults, ${VAR} / ${VAR:-default} expanded first
//   - CLI flags:              applied by cmd/ after loading
//
// Validate() is called by the caller once every layer has been applied.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/heqingpan/ai-req-proxy/internal/monitoring"
)

// Config is the complete proxy configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Relay      RelayConfig      `yaml:"relay"`
	Capture    CaptureConfig    `yaml:"capture"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig configures the inbound listener.
type ServerConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`  // 0 = none, required for long streams
	WriteTimeout      time.Duration `yaml:"write_timeout"` // 0 = none, required for long streams
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig configures the single forwarding target.
type UpstreamConfig struct {
	URL string `yaml:"url"`
	// VerifyTLS enables upstream certificate verification. Off by default so
	// the proxy works against self-signed and intercepting endpoints.
	VerifyTLS             bool          `yaml:"verify_tls"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"` // 0 = none
}

// RelayConfig tunes how bodies are moved.
type RelayConfig struct {
	BufferSize      int `yaml:"buffer_size"`
	StreamQueueSize int `yaml:"stream_queue_size"`
}

// CaptureConfig configures persistence of relayed bodies.
type CaptureConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	Workers       int    `yaml:"workers"`
	QueueSize     int    `yaml:"queue_size"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes"` // 0 = unlimited
	Index         bool   `yaml:"index"`
	RetentionDays int    `yaml:"retention_days"` // 0 = keep forever
	PruneSchedule string `yaml:"prune_schedule"`
}

// MonitoringConfig configures logging, telemetry and the admin listener.
type MonitoringConfig struct {
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`
	LogOutput        string `yaml:"log_output"`
	LogBodies        bool   `yaml:"log_bodies"`
	MaxBodyLogLen    int    `yaml:"max_body_log_len"` // 0 = no truncation
	TelemetryEnabled bool   `yaml:"telemetry_enabled"`
	TelemetryPath    string `yaml:"telemetry_path"`
	LogToStdout      bool   `yaml:"log_to_stdout"`
	AdminAddr        string `yaml:"admin_addr"` // empty = disabled
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:        DefaultListenAddr,
			Port:              DefaultPort,
			ReadHeaderTimeout: DefaultServerReadHeaderTimeout,
			ReadTimeout:       DefaultServerReadTimeout,
			WriteTimeout:      DefaultServerWriteTimeout,
			IdleTimeout:       DefaultServerIdleTimeout,
			ShutdownTimeout:   DefaultShutdownTimeout,
		},
		Upstream: UpstreamConfig{
			DialTimeout: DefaultDialTimeout,
		},
		Relay: RelayConfig{
			BufferSize:      DefaultBufferSize,
			StreamQueueSize: DefaultStreamQueueSize,
		},
		Capture: CaptureConfig{
			Dir:           DefaultCaptureDir,
			Workers:       DefaultCaptureWorkers,
			QueueSize:     DefaultCaptureQueueSize,
			Index:         true,
			PruneSchedule: DefaultPruneSchedule,
		},
		Monitoring: MonitoringConfig{
			LogLevel:      "info",
			LogFormat:     "auto",
			LogOutput:     "stdout",
			LogBodies:     true,
			TelemetryPath: DefaultTelemetryPath,
		},
	}
}

// Load reads a YAML file. Load does NOT call Validate(): callers apply CLI
// overrides first, then validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromBytes parses YAML on top of DefaultConfig(). Unknown keys are errors.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	expanded := ExpandEnvWithDefaults(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config parse error: %w", err)
	}
	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvWithDefaults replaces ${VAR} with the variable's value and
// ${VAR:-default} with the value, or default when VAR is unset or empty.
func ExpandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		parts := envPattern.FindStringSubmatch(m)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[3]
	})
}

// ListenAddress returns host:port for the proxy listener.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Server.ListenAddr, strconv.Itoa(c.Server.Port))
}

// LoggerConfig returns the logging section in monitoring's form.
func (c *Config) LoggerConfig() monitoring.LoggerConfig {
	return monitoring.LoggerConfig{
		Level:  c.Monitoring.LogLevel,
		Format: c.Monitoring.LogFormat,
		Output: c.Monitoring.LogOutput,
	}
}

// TelemetryConfig returns the telemetry section in monitoring's form.
func (c *Config) TelemetryConfig() monitoring.TelemetryConfig {
	return monitoring.TelemetryConfig{
		Enabled:     c.Monitoring.TelemetryEnabled,
		LogPath:     c.Monitoring.TelemetryPath,
		LogToStdout: c.Monitoring.LogToStdout,
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadHeaderTimeout < 0 || c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.IdleTimeout < 0 {
		errs = append(errs, "server timeouts must not be negative")
	}

	if c.Upstream.URL == "" {
		errs = append(errs, "upstream.url is required")
	} else if u, err := url.Parse(c.Upstream.URL); err != nil {
		errs = append(errs, fmt.Sprintf("upstream.url is invalid: %v", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Sprintf("upstream.url scheme must be http or https, got %q", u.Scheme))
	} else if u.Host == "" {
		errs = append(errs, "upstream.url must include a host")
	}

	if c.Relay.BufferSize <= 0 {
		errs = append(errs, "relay.buffer_size must be positive")
	}
	if c.Relay.StreamQueueSize <= 0 {
		errs = append(errs, "relay.stream_queue_size must be positive")
	}

	if c.Capture.Enabled {
		if c.Capture.Dir == "" {
			errs = append(errs, "capture.dir is required when capture is enabled")
		}
		if c.Capture.Workers <= 0 {
			errs = append(errs, "capture.workers must be positive")
		}
		if c.Capture.QueueSize <= 0 {
			errs = append(errs, "capture.queue_size must be positive")
		}
	}
	if c.Capture.MaxBodyBytes < 0 {
		errs = append(errs, "capture.max_body_bytes must not be negative")
	}
	if c.Capture.RetentionDays < 0 {
		errs = append(errs, "capture.retention_days must not be negative")
	}
	if c.Capture.RetentionDays > 0 && c.Capture.PruneSchedule != "" {
		if _, err := cron.ParseStandard(c.Capture.PruneSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("capture.prune_schedule is invalid: %v", err))
		}
	}

	if c.Monitoring.MaxBodyLogLen < 0 {
		errs = append(errs, "monitoring.max_body_log_len must not be negative")
	}
	if c.Monitoring.AdminAddr != "" {
		if _, _, err := net.SplitHostPort(c.Monitoring.AdminAddr); err != nil {
			errs = append(errs, fmt.Sprintf("monitoring.admin_addr is invalid: %v", err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("config validation failed:\n")
	for i, e := range errs {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e)
	}
	return errors.New(sb.String())
}
