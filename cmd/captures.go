package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/heqingpan/ai-req-proxy/internal/capture"
	"github.com/heqingpan/ai-req-proxy/internal/config"
	"github.com/heqingpan/ai-req-proxy/internal/utils"
)

var capturesFlags struct {
	dir    string
	date   string
	format string
}

var capturesCmd = &cobra.Command{
	Use:   "captures",
	Short: "List captured exchanges of one day",
	Long: `List the artifacts recorded in the capture index for one day.

The index (captures.db) lives in the capture directory and is written while
the proxy runs with capture enabled and capture.index on.

Examples:
  # Today
  ai-req-proxy captures

  # A given day as JSON
  ai-req-proxy captures --date 20250309 --format json`,
	Args: cobra.NoArgs,
	RunE: runCaptures,
}

func init() {
	rootCmd.AddCommand(capturesCmd)

	capturesCmd.Flags().StringVar(&capturesFlags.dir, "dir", "", "capture directory (default from config)")
	capturesCmd.Flags().StringVar(&capturesFlags.date, "date", "", "day to list as YYYYMMDD (default today)")
	capturesCmd.Flags().StringVar(&capturesFlags.format, "format", "table", "output format: table or json")
}

func runCaptures(cmd *cobra.Command, args []string) error {
	date := capturesFlags.date
	if date == "" {
		date = time.Now().Format(capture.DateLayout)
	}
	if _, err := time.Parse(capture.DateLayout, date); err != nil {
		return fmt.Errorf("invalid --date %q, expected YYYYMMDD", date)
	}

	dir, err := captureDir(capturesFlags.dir)
	if err != nil {
		return err
	}
	idx, err := capture.OpenIndex(filepath.Join(dir, capture.IndexFileName))
	if err != nil {
		return err
	}
	defer func() { _ = idx.Close() }()

	entries, err := idx.List(cmd.Context(), date)
	if err != nil {
		return err
	}
	return printEntries(cmd.OutOrStdout(), entries, capturesFlags.format)
}

func printEntries(w io.Writer, entries []capture.Entry, format string) error {
	switch format {
	case "json":
		if entries == nil {
			entries = []capture.Entry{}
		}
		data, err := utils.MarshalIndentNoEscape(entries)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tTIME\tMETHOD\tSTATUS\tMODE\tSIZE\tURL")
		for _, e := range entries {
			status := "-"
			if e.Status > 0 {
				status = fmt.Sprint(e.Status)
			}
			size := fmt.Sprint(e.Size)
			if e.Truncated {
				size += "+"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				e.ReqID, e.Kind, e.ReceivedAt.Local().Format(time.TimeOnly), e.Method, status, dash(e.Mode), size, e.URL)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown --format %q (table, json)", format)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// captureDir resolves the capture directory: flag, then config file, then default.
func captureDir(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if cfgFile == "" {
		return config.DefaultCaptureDir, nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return "", err
	}
	if cfg.Capture.Dir == "" {
		return "", errors.New("capture.dir is empty in config")
	}
	return cfg.Capture.Dir, nil
}
