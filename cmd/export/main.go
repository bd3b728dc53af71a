// Command export writes ledger rows of a time window as CSV.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/your-org/adx-trend-bot/internal/config"
	"github.com/your-org/adx-trend-bot/internal/csvwriter"
	"github.com/your-org/adx-trend-bot/internal/datastore"
	"github.com/your-org/adx-trend-bot/internal/ledger"
	"github.com/your-org/adx-trend-bot/pkg/logger"
)

func main() {
	// --- Argument Parsing ---
	configPath := flag.String("config", "config/config.yaml", "Path to the configuration file")
	startStr := flag.String("start", "", "Start of the export window (e.g. 2024-06-01 or RFC3339)")
	endStr := flag.String("end", "", "End of the export window, exclusive (default: now)")
	symbol := flag.String("symbol", "", "Only export this symbol")
	status := flag.String("status", "", "Only export rows with this status (NEW, FILLED, ...)")
	outPath := flag.String("out", "", "Output file (default: stdout)")
	flag.Parse()

	if *startStr == "" {
		logger.Fatal("The --start flag is required.")
	}
	start, err := parseTime(*startStr)
	if err != nil {
		logger.Fatalf("Invalid --start: %v", err)
	}
	end := time.Now().UTC()
	if *endStr != "" {
		if end, err = parseTime(*endStr); err != nil {
			logger.Fatalf("Invalid --end: %v", err)
		}
	}
	if !start.Before(end) {
		logger.Fatalf("--start %s must be before --end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	// --- Config and Logger Setup ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load configuration to get DB settings: %v", err)
	}
	logger.SetGlobalLogLevel(cfg.App.LogLevel)

	filter := datastore.ExecutionFilter{
		Symbol: strings.ToUpper(*symbol),
		Status: ledger.Status(strings.ToUpper(*status)),
		Since:  start,
		Until:  end,
	}
	n, err := export(context.Background(), cfg, filter, *outPath)
	if err != nil {
		logger.Fatalf("Export failed: %v", err)
	}
	logger.Infof("Successfully exported %d rows.", n)
}

func export(ctx context.Context, cfg *config.Config, filter datastore.ExecutionFilter, outPath string) (int, error) {
	store, err := datastore.Open(ctx, cfg.Database, logger.Zap())
	if err != nil {
		return 0, err
	}
	defer store.Close()

	rows, err := store.ListExecutions(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("list executions: %w", err)
	}

	var w *csvwriter.Writer
	if outPath == "" {
		w = csvwriter.NewStreamWriter(os.Stdout, logger.Zap())
	} else if w, err = csvwriter.NewWriter(outPath, logger.Zap()); err != nil {
		return 0, err
	}
	if err := w.WriteHeader(); err != nil {
		_ = w.Close()
		return 0, err
	}
	// Rows arrive newest first; the export is chronological.
	for i := len(rows) - 1; i >= 0; i-- {
		if err := w.WriteExecution(rows[i]); err != nil {
			_ = w.Close()
			return 0, err
		}
	}
	return len(rows), w.Close()
}

// parseTime accepts dates, RFC3339 and the other layouts cast understands,
// interpreted as UTC when no zone is given.
func parseTime(s string) (time.Time, error) {
	t, err := cast.ToTimeInDefaultLocationE(s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
