package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/heqingpan/ai-req-proxy/internal/capture"
	"github.com/heqingpan/ai-req-proxy/internal/config"
)

var pruneFlags struct {
	dir  string
	days int
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete capture days older than the retention window",
	Long: `Delete day directories older than --days (or capture.retention_days from
the config) and drop their rows from the capture index.

Examples:
  ai-req-proxy prune --days 14
  ai-req-proxy prune --config proxy.yaml`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().StringVar(&pruneFlags.dir, "dir", "", "capture directory (default from config)")
	pruneCmd.Flags().IntVar(&pruneFlags.days, "days", 0, "days to keep (default capture.retention_days)")
}

func runPrune(cmd *cobra.Command, args []string) error {
	dir, err := captureDir(pruneFlags.dir)
	if err != nil {
		return err
	}
	days := pruneFlags.days
	if days == 0 && cfgFile != "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		days = cfg.Capture.RetentionDays
	}
	if days <= 0 {
		return fmt.Errorf("retention days must be positive, got %d", days)
	}

	var idx *capture.Index
	indexPath := filepath.Join(dir, capture.IndexFileName)
	if _, err := os.Stat(indexPath); err == nil {
		idx, err = capture.OpenIndex(indexPath)
		if err != nil {
			return err
		}
		defer func() { _ = idx.Close() }()
	}

	pruner := capture.NewPruner(dir, days, idx)
	removed, err := pruner.Prune(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d day(s) before %s from %s\n", removed, pruner.Cutoff(), dir)
	return nil
}
