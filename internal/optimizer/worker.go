package optimizer

import (
	"context"
	"sync"
	"time"

	"github.com/your-org/adx-trend-bot/pkg/logger"
)

// SymbolSource lists the symbols to tune on each pass.
type SymbolSource func(ctx context.Context) ([]string, error)

// StaticSymbols always returns symbols.
func StaticSymbols(symbols ...string) SymbolSource {
	return func(context.Context) ([]string, error) { return symbols, nil }
}

// Worker runs the optimizer on a coarse interval, off the trading tick.
type Worker struct {
	optimizer *Optimizer
	symbols   SymbolSource
	interval  time.Duration
	running   sync.Mutex
}

// NewWorker creates a Worker.
func NewWorker(o *Optimizer, symbols SymbolSource, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Worker{optimizer: o, symbols: symbols, interval: interval}
}

// Start runs a pass immediately and then every interval until ctx is done.
// It is meant to run on its own goroutine.
func (w *Worker) Start(ctx context.Context) {
	logger.Infof("[Optimizer] worker started, interval %s", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			logger.Info("[Optimizer] worker stopped")
			return
		}
	}
}

// RunOnce tunes every symbol once. It returns false without doing anything
// when a previous pass is still running.
func (w *Worker) RunOnce(ctx context.Context) bool {
	if !w.running.TryLock() {
		logger.Warn("[Optimizer] previous pass still running, skipping")
		return false
	}
	defer w.running.Unlock()

	symbols, err := w.symbols(ctx)
	if err != nil {
		logger.Errorf("[Optimizer] failed to list symbols: %v", err)
		return true
	}
	if len(symbols) == 0 {
		logger.Info("[Optimizer] no symbols to tune")
		return true
	}

	start := time.Now()
	results := w.optimizer.RunAll(ctx, symbols)
	counts := map[string]int{}
	for _, r := range results {
		counts[r.Outcome]++
	}
	logger.Infof("[Optimizer] pass finished in %s: %v", time.Since(start).Round(time.Millisecond), counts)
	return true
}
