// Package main is the entry point of the ADX trend bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/your-org/adx-trend-bot/internal/alert"
	"github.com/your-org/adx-trend-bot/internal/config"
	"github.com/your-org/adx-trend-bot/internal/datastore"
	"github.com/your-org/adx-trend-bot/internal/dbwriter"
	"github.com/your-org/adx-trend-bot/internal/engine"
	"github.com/your-org/adx-trend-bot/internal/exchange"
	"github.com/your-org/adx-trend-bot/internal/http/handler"
	"github.com/your-org/adx-trend-bot/internal/optimizer"
	"github.com/your-org/adx-trend-bot/internal/reconciler"
	"github.com/your-org/adx-trend-bot/internal/scheduler"
	"github.com/your-org/adx-trend-bot/pkg/logger"
)

func main() {
	// --- Configuration ---
	configPath := flag.String("config", "config/config.yaml", "Path to the configuration file")
	noOptimizer := flag.Bool("no-optimizer", false, "Do not run the background optimizer")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger ---
	logger.Init(logger.Options{
		Level:      cfg.App.LogLevel,
		File:       cfg.App.LogFile,
		MaxSizeMB:  cfg.App.LogMaxSizeMB,
		MaxBackups: cfg.App.LogMaxBackups,
	})
	defer func() { _ = logger.Sync() }()
	logger.Info("ADX trend bot starting...")
	logger.Infof("Loaded configuration from: %s", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, !*noOptimizer); err != nil {
		logger.Errorf("Bot exited with error: %v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("ADX trend bot shut down gracefully.")
}

func run(ctx context.Context, cfg *config.Config, withOptimizer bool) (err error) {
	zl := logger.Zap()

	// --- Storage ---
	store, writer, err := openStorage(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer func() {
		writer.Close()
		err = multierr.Append(err, store.Close())
	}()
	if err := store.InitEngineRunning(ctx, bool(cfg.Engine.StartRunning)); err != nil {
		return fmt.Errorf("init engine_running: %w", err)
	}

	// --- Broker and notifier ---
	b, err := exchange.Open(cfg.Broker)
	if err != nil {
		return err
	}
	notifier := alert.New(cfg.Alert, zl)
	defer func() { err = multierr.Append(err, notifier.Close()) }()

	// --- Engine, reconciler, optimizer ---
	ecfg, err := engine.NewConfig(cfg)
	if err != nil {
		return err
	}
	eng := engine.New(b, store, writer, notifier, ecfg)
	rec := reconciler.New(b, store, cfg.Broker.CallTimeout)

	var jobs []scheduler.Background
	if withOptimizer {
		ocfg, err := optimizer.NewConfig(cfg)
		if err != nil {
			return err
		}
		opt := optimizer.New(b, store, ocfg)
		jobs = append(jobs, optimizer.NewWorker(opt, symbolSource(cfg, store), cfg.Optimizer.Interval))
	}

	// --- HTTP server ---
	router := chi.NewRouter()
	handler.NewStatusHandler(store).RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("HTTP server starting on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("HTTP server failed: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = multierr.Append(err, srv.Shutdown(shutdownCtx))
	}()

	// --- Scheduler ---
	sched := scheduler.New(b, eng, rec, store, writer, scheduler.Config{
		TickInterval: cfg.Engine.TickInterval,
		CycleTimeout: cfg.Engine.CycleTimeout,
		CallTimeout:  cfg.Broker.CallTimeout,
	}, jobs...)
	sched.Run(ctx)

	logger.Info("Shutdown signal received, flushing...")
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	writer.Flush(flushCtx)
	return nil
}

// openStorage connects the store and a signal/equity writer sharing its
// connection.
func openStorage(ctx context.Context, cfg *config.Config, zl *zap.Logger) (datastore.Store, dbwriter.DBWriter, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := datastore.OpenPostgres(ctx, cfg.Database, zl)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("Connected to postgres %s:%d/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
		return datastore.NewRepository(pool, zl), dbwriter.NewPostgresWriter(pool, cfg.DBWriter, zl), nil
	case "sqlite":
		s, err := datastore.OpenSQLite(cfg.Database.Path, zl)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("Using sqlite database %s", cfg.Database.Path)
		return s, dbwriter.NewSQLWriter(s.DB(), cfg.DBWriter, zl), nil
	default:
		logger.Warn("Using in-memory store; nothing survives a restart")
		return datastore.NewInMemRepository(), dbwriter.NewDummyWriter(logger.NewLogger(cfg.App.LogLevel)), nil
	}
}

// symbolSource tunes the configured symbols, or every stored strategy when
// none are configured.
func symbolSource(cfg *config.Config, store datastore.StrategyStore) optimizer.SymbolSource {
	if len(cfg.Optimizer.Symbols) > 0 {
		return optimizer.StaticSymbols(cfg.Optimizer.Symbols...)
	}
	return func(ctx context.Context) ([]string, error) {
		list, err := store.Strategies(ctx)
		if err != nil {
			return nil, err
		}
		symbols := make([]string, 0, len(list))
		for _, s := range list {
			symbols = append(symbols, s.Symbol)
		}
		return symbols, nil
	}
}
