// Command optimizer tunes the strategy parameters once and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/your-org/adx-trend-bot/internal/config"
	"github.com/your-org/adx-trend-bot/internal/datastore"
	"github.com/your-org/adx-trend-bot/internal/exchange"
	"github.com/your-org/adx-trend-bot/internal/optimizer"
	"github.com/your-org/adx-trend-bot/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to the configuration file")
	symbolsFlag := flag.String("symbols", "", "Comma-separated symbols (default: optimizer.symbols or every stored strategy)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(logger.Options{Level: cfg.App.LogLevel, File: cfg.App.LogFile})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, splitSymbols(*symbolsFlag)); err != nil {
		logger.Errorf("Optimizer failed: %v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, symbols []string) error {
	store, err := datastore.Open(ctx, cfg.Database, logger.Zap())
	if err != nil {
		return err
	}
	defer store.Close()

	b, err := exchange.Open(cfg.Broker)
	if err != nil {
		return err
	}
	ocfg, err := optimizer.NewConfig(cfg)
	if err != nil {
		return err
	}

	if len(symbols) == 0 {
		symbols = cfg.Optimizer.Symbols
	}
	if len(symbols) == 0 {
		list, err := store.Strategies(ctx)
		if err != nil {
			return fmt.Errorf("list strategies: %w", err)
		}
		for _, s := range list {
			symbols = append(symbols, s.Symbol)
		}
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to optimize")
	}

	results := optimizer.New(b, store, ocfg).RunAll(ctx, symbols)
	printResults(results)
	return nil
}

func splitSymbols(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.ToUpper(strings.TrimSpace(f)); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func printResults(results []optimizer.Result) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tOUTCOME\tTRIALS\tSCORE\tBUY&HOLD\tTRADES\tPARAMS")
	for _, r := range results {
		if r.Trials == 0 {
			fmt.Fprintf(tw, "%s\t%s\t0\t-\t-\t-\t-\n", r.Symbol, r.Outcome)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.4f\t%.4f\t%d\t%s\n",
			r.Symbol, r.Outcome, r.Trials, r.Best.Score, r.BuyHoldReturn, len(r.Best.Trades), r.Best.Params)
	}
	_ = tw.Flush()
}
