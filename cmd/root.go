package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/heqingpan/ai-req-proxy/internal/capture"
	"github.com/heqingpan/ai-req-proxy/internal/config"
	"github.com/heqingpan/ai-req-proxy/internal/gateway"
	"github.com/heqingpan/ai-req-proxy/internal/monitoring"
)

var (
	// Global flags
	cfgFile string
	envFile string
)

var rootFlags struct {
	saveAll    bool
	debug      bool
	captureDir string
	adminAddr  string
}

var rootCmd = &cobra.Command{
	Use:   "ai-req-proxy [listen_addr listen_port forward_url]",
	Short: "Forwarding proxy that records AI API traffic",
	Long: `ai-req-proxy listens on listen_addr:listen_port and forwards every request
to forward_url, keeping the inbound path and query.

Request and response bodies are logged as they pass. With -s every exchange
is also saved to the capture directory:

  <dir>/<YYYYMMDD>/<YYYYMMDD>_<HHMMSS>_<id>.json            raw request
  <dir>/<YYYYMMDD>/<YYYYMMDD>_<HHMMSS>_<id>.struct_req.txt  chat transcript
  <dir>/<YYYYMMDD>/<YYYYMMDD>_<HHMMSS>_<id>.resp.json       raw response

The positional arguments override the config file; without a config file
all three are required.`,
	Args:              validateRootArgs,
	PersistentPreRunE: loadEnvFile,
	RunE:              runProxy,
	Version:           gateway.Version,
	SilenceUsage:      true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config (ignored when missing)")

	rootCmd.Flags().BoolVarP(&rootFlags.saveAll, "save-all-requests", "s", false, "save every request and response to the capture directory")
	rootCmd.Flags().BoolVar(&rootFlags.debug, "debug", false, "log at debug level, including every relayed chunk")
	rootCmd.Flags().StringVar(&rootFlags.captureDir, "capture-dir", "", "override capture directory")
	rootCmd.Flags().StringVar(&rootFlags.adminAddr, "admin-addr", "", "serve /health, /stats and /metrics on this address")
}

func validateRootArgs(cmd *cobra.Command, args []string) error {
	switch len(args) {
	case 0, 3:
		return nil
	default:
		return fmt.Errorf("expected listen_addr listen_port forward_url, got %d argument(s)", len(args))
	}
}

// loadEnvFile exports the dotenv file so ${VAR} references in the config
// resolve. Variables already set in the environment win.
func loadEnvFile(cmd *cobra.Command, args []string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return nil
}

// buildConfig loads the config file (or defaults), then applies positional
// arguments and flags, then validates.
func buildConfig(args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if len(args) == 0 {
		return nil, errors.New("listen_addr, listen_port and forward_url are required without --config")
	}

	if len(args) == 3 {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("invalid listen_port %q: %w", args[1], err)
		}
		cfg.Server.ListenAddr = args[0]
		cfg.Server.Port = port
		cfg.Upstream.URL = args[2]
	}
	if rootFlags.saveAll {
		cfg.Capture.Enabled = true
	}
	if rootFlags.debug {
		cfg.Monitoring.LogLevel = "debug"
	}
	if rootFlags.captureDir != "" {
		cfg.Capture.Dir = rootFlags.captureDir
	}
	if rootFlags.adminAddr != "" {
		cfg.Monitoring.AdminAddr = rootFlags.adminAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runProxy(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(args)
	if err != nil {
		return err
	}

	logCloser, err := monitoring.SetupLogging(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	gw, err := gateway.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var scheduler *capture.Scheduler
	if cfg.Capture.Enabled && cfg.Capture.RetentionDays > 0 && cfg.Capture.PruneSchedule != "" {
		pruner := capture.NewPruner(cfg.Capture.Dir, cfg.Capture.RetentionDays, gw.CaptureIndex())
		scheduler = capture.NewScheduler(pruner, cfg.Capture.PruneSchedule)
		if err := scheduler.Start(ctx); err != nil {
			_ = gw.Close()
			return fmt.Errorf("failed to start capture pruning: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start() }()

	var serveErr error
	select {
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error().Err(serveErr).Msg("proxy stopped")
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received, draining")
	}

	if scheduler != nil {
		scheduler.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	log.Info().Msg("proxy stopped")
	return serveErr
}
