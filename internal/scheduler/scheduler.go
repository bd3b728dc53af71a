// Package scheduler drives the trading cycle: engine tick, order
// reconciliation and equity snapshot, once per interval and never
// overlapping.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/your-org/adx-trend-bot/internal/broker"
	"github.com/your-org/adx-trend-bot/internal/dbwriter"
	"github.com/your-org/adx-trend-bot/internal/engine"
	"github.com/your-org/adx-trend-bot/internal/metrics"
	"github.com/your-org/adx-trend-bot/internal/reconciler"
	"github.com/your-org/adx-trend-bot/pkg/logger"
)

const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthError    = "error"
)

// Ticker evaluates the active instruments.
type Ticker interface {
	Tick(ctx context.Context, marketOpen bool) (engine.TickSummary, error)
}

// Reconciler settles pending ledger rows.
type Reconciler interface {
	Reconcile(ctx context.Context) (reconciler.Summary, error)
}

// Broker is what the cycle asks the broker directly.
type Broker interface {
	broker.Clock
	GetAccount(ctx context.Context) (broker.Account, error)
}

// HealthStore persists the health string.
type HealthStore interface {
	SetHealth(ctx context.Context, health string) error
}

// Background is a job started alongside the cycle loop, such as the
// optimizer worker. Start blocks until ctx is done.
type Background interface {
	Start(ctx context.Context)
}

// Config controls the loop.
type Config struct {
	TickInterval time.Duration
	CycleTimeout time.Duration
	CallTimeout  time.Duration
}

// CycleResult describes one cycle.
type CycleResult struct {
	Started    time.Time
	Skipped    bool
	MarketOpen bool
	Health     string
	Tick       engine.TickSummary
	Reconcile  reconciler.Summary
	Err        error
}

// Scheduler owns the tick loop.
type Scheduler struct {
	broker     Broker
	engine     Ticker
	reconciler Reconciler
	health     HealthStore
	writer     dbwriter.DBWriter
	background []Background
	cfg        Config
	now        func() time.Time

	running sync.Mutex
}

// New creates a Scheduler. A nil writer disables equity snapshots.
func New(b Broker, e Ticker, r Reconciler, health HealthStore, writer dbwriter.DBWriter, cfg Config, background ...Background) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if writer == nil {
		writer = dbwriter.NewDummyWriter(logger.NewLogger("error"))
	}
	return &Scheduler{
		broker:     b,
		engine:     e,
		reconciler: r,
		health:     health,
		writer:     writer,
		background: background,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Run starts the background jobs, runs a cycle immediately and then one per
// tick interval until ctx is done. It returns after the background jobs
// have stopped.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.background {
		wg.Add(1)
		go func(job Background) {
			defer wg.Done()
			job.Start(ctx)
		}(job)
	}
	defer wg.Wait()

	logger.Infof("[Scheduler] started, tick interval %s", s.cfg.TickInterval)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.launch(ctx)
	for {
		select {
		case <-ticker.C:
			s.launch(ctx)
		case <-ctx.Done():
			logger.Info("[Scheduler] stopping")
			s.running.Lock()
			s.running.Unlock()
			return
		}
	}
}

// launch runs a cycle on its own goroutine. A tick that fires while a cycle
// is still running is skipped by RunCycle.
func (s *Scheduler) launch(ctx context.Context) {
	go s.RunCycle(ctx)
}

// RunCycle runs one cycle unless another is still in progress.
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	res := CycleResult{Started: s.now()}
	if !s.running.TryLock() {
		res.Skipped = true
		metrics.IncTick("skipped_overlap")
		logger.Warn("[Scheduler] previous cycle still running, skipping tick")
		return res
	}
	defer s.running.Unlock()

	if s.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CycleTimeout)
		defer cancel()
	}
	defer func() {
		metrics.ObserveTickDuration(s.now().Sub(res.Started).Seconds())
	}()

	s.cycle(ctx, &res)
	metrics.IncTick(res.Health)
	s.storeHealth(res)
	return res
}

// storeHealth writes the cycle's health on its own deadline, so a cycle that
// ran out of time still reports why.
func (s *Scheduler) storeHealth(res CycleResult) {
	ctx, cancel := broker.WithTimeout(context.Background(), s.cfg.CallTimeout)
	defer cancel()
	if err := s.health.SetHealth(ctx, healthString(res)); err != nil {
		logger.Errorf("[Scheduler] failed to store health: %v", err)
	}
}

func (s *Scheduler) cycle(ctx context.Context, res *CycleResult) {
	callCtx, cancel := broker.WithTimeout(ctx, s.cfg.CallTimeout)
	open, err := s.broker.MarketIsOpen(callCtx)
	cancel()
	if err != nil {
		res.Health = HealthDegraded
		res.Err = fmt.Errorf("market clock: %w", err)
		logger.Errorf("[Scheduler] broker unreachable, aborting cycle: %v", err)
		return
	}
	res.MarketOpen = open
	res.Health = HealthOK

	res.Tick, err = s.engine.Tick(ctx, open)
	if err != nil {
		res.Health = HealthError
		res.Err = fmt.Errorf("engine tick: %w", err)
		logger.Errorf("[Scheduler] engine tick failed: %v", err)
	}

	// Reconciliation runs even when the engine is paused or failed.
	res.Reconcile, err = s.reconciler.Reconcile(ctx)
	if err != nil {
		res.Health = HealthError
		if res.Err == nil {
			res.Err = fmt.Errorf("reconcile: %w", err)
		}
		logger.Errorf("[Scheduler] reconcile failed: %v", err)
	}

	s.snapshotEquity(ctx)
	logger.Infof("[Scheduler] cycle done: market_open=%t entries=%d exits=%d errors=%d reconciled=%d/%d",
		open, res.Tick.Entries, res.Tick.Exits, res.Tick.Errors,
		res.Reconcile.Checked-res.Reconcile.Pending-res.Reconcile.Errors, res.Reconcile.Checked)
}

func (s *Scheduler) snapshotEquity(ctx context.Context) {
	callCtx, cancel := broker.WithTimeout(ctx, s.cfg.CallTimeout)
	acct, err := s.broker.GetAccount(callCtx)
	cancel()
	if err != nil {
		logger.Warnf("[Scheduler] equity snapshot skipped: %v", err)
		return
	}
	metrics.SetEquity(acct.Equity)
	s.writer.SaveEquitySnapshot(dbwriter.EquitySnapshot{Time: s.now().UTC(), Equity: acct.Equity, Cash: acct.Cash})
}

func healthString(res CycleResult) string {
	if res.Err == nil {
		return res.Health
	}
	return fmt.Sprintf("%s: %v", res.Health, res.Err)
}
