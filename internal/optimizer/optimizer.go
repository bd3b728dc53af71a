// Package optimizer tunes the per-symbol thresholds of the trend rule by
// simulating it over trailing history and persisting the best set found.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/adx-trend-bot/internal/backtest"
	"github.com/your-org/adx-trend-bot/internal/benchmark"
	"github.com/your-org/adx-trend-bot/internal/broker"
	"github.com/your-org/adx-trend-bot/internal/config"
	"github.com/your-org/adx-trend-bot/internal/datastore"
	"github.com/your-org/adx-trend-bot/internal/indicator"
	"github.com/your-org/adx-trend-bot/internal/market"
	"github.com/your-org/adx-trend-bot/internal/metrics"
	"github.com/your-org/adx-trend-bot/internal/strategy"
	"github.com/your-org/adx-trend-bot/pkg/logger"
)

// ErrDataInsufficient means the history was empty or too short to simulate.
// Previously persisted parameters are left in place.
var ErrDataInsufficient = errors.New("optimizer: insufficient data")

// Source is what the optimizer needs from the broker.
type Source interface {
	broker.PositionReader
	broker.BarSource
}

// Store is what the optimizer needs from the datastore.
type Store interface {
	UpsertStrategy(ctx context.Context, s strategy.Strategy) error
	RecordOptimizationRun(ctx context.Context, run datastore.OptimizationRun) error
	AverageSlippage(ctx context.Context, symbol string, since time.Time) (float64, int, error)
}

// Config controls one optimizer.
type Config struct {
	Trials              int
	Seed                uint64
	Workers             int
	HistoryDays         int
	UseObservedSlippage bool
	Bounds              strategy.Bounds
	Periods             indicator.Periods
	Backtest            backtest.Config
	BaseBarSize         time.Duration
	Timeframe           time.Duration
	Session             market.Session
	CallTimeout         time.Duration
}

// NewConfig derives the optimizer settings from the application config.
func NewConfig(cfg *config.Config) (Config, error) {
	session, err := market.NewSession(cfg.Engine.SessionOrigin, cfg.Engine.Timezone)
	if err != nil {
		return Config{}, err
	}
	b := cfg.Optimizer.Bounds
	return Config{
		Trials:              cfg.Optimizer.Trials,
		Seed:                cfg.Optimizer.Seed,
		Workers:             cfg.Optimizer.Workers,
		HistoryDays:         cfg.Optimizer.HistoryDays,
		UseObservedSlippage: bool(cfg.Optimizer.UseObservedSlippage),
		Bounds: strategy.Bounds{
			ADXMin: b.ADXMin, ADXMax: b.ADXMax,
			RSIMin: b.RSIMin, RSIMax: b.RSIMax,
			TPMin: b.TPMin, TPMax: b.TPMax,
			SLMin: b.SLMin, SLMax: b.SLMax,
		},
		Periods: indicator.Periods{RSI: cfg.Strategy.RSIPeriod, ADX: cfg.Strategy.ADXPeriod},
		Backtest: backtest.Config{
			InitialBalance: cfg.Strategy.InitialBalance,
			PanicRSI:       cfg.Strategy.PanicRSI,
			SlippagePct:    cfg.Strategy.SlippagePct,
		},
		BaseBarSize: cfg.Engine.BaseBarSize,
		Timeframe:   cfg.Engine.Timeframe,
		Session:     session,
		CallTimeout: cfg.Broker.CallTimeout,
	}, nil
}

func (c Config) withDefaults() Config {
	if c.Trials <= 0 {
		c.Trials = 60
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.HistoryDays <= 0 {
		c.HistoryDays = 365
	}
	if c.Bounds == (strategy.Bounds{}) {
		c.Bounds = strategy.DefaultBounds
	}
	if c.Periods == (indicator.Periods{}) {
		c.Periods = indicator.DefaultPeriods
	}
	if c.BaseBarSize <= 0 {
		c.BaseBarSize = time.Hour
	}
	if c.Timeframe < c.BaseBarSize {
		c.Timeframe = c.BaseBarSize
	}
	if c.Session.Location == nil {
		c.Session = market.UTCSession()
	}
	return c
}

// Result is the outcome of tuning one symbol.
type Result struct {
	RunID         string
	Symbol        string
	Best          backtest.Result
	Trials        int
	BuyHoldReturn float64
	Outcome       string
}

// Optimizer searches parameter sets per symbol.
type Optimizer struct {
	source Source
	store  Store
	cfg    Config
	now    func() time.Time
}

// New creates an Optimizer.
func New(source Source, store Store, cfg Config) *Optimizer {
	return &Optimizer{source: source, store: store, cfg: cfg.withDefaults(), now: time.Now}
}

// Optimize tunes one symbol and persists the winner unless the symbol
// currently holds a position. Every attempt is recorded as a run.
func (o *Optimizer) Optimize(ctx context.Context, symbol string) (Result, error) {
	started := o.now().UTC()
	res := Result{RunID: ulid.Make().String(), Symbol: symbol}

	res, err := o.optimize(ctx, symbol, res)
	switch {
	case errors.Is(err, ErrDataInsufficient):
		res.Outcome = datastore.OutcomeInsufficientData
		logger.Warnf("[Optimizer] %s: %v, keeping previous parameters", symbol, err)
	case err != nil:
		res.Outcome = datastore.OutcomeFailed
		logger.Errorf("[Optimizer] %s: %v", symbol, err)
	}
	metrics.IncOptimizerRun(res.Outcome)

	run := datastore.OptimizationRun{
		RunID:      res.RunID,
		Symbol:     symbol,
		Trials:     res.Trials,
		Outcome:    res.Outcome,
		StartedAt:  started,
		FinishedAt: o.now().UTC(),
	}
	if err != nil {
		run.Error = err.Error()
	}
	if res.Trials > 0 {
		params, score, bh := res.Best.Params, res.Best.Score, res.BuyHoldReturn
		run.Params, run.Score, run.BuyHoldReturn = &params, &score, &bh
	}
	if rerr := o.store.RecordOptimizationRun(ctx, run); rerr != nil {
		logger.Errorf("[Optimizer] %s: failed to record run %s: %v", symbol, res.RunID, rerr)
	}
	return res, err
}

func (o *Optimizer) optimize(ctx context.Context, symbol string, res Result) (Result, error) {
	frame, bars, err := o.prepare(ctx, symbol)
	if err != nil {
		return res, err
	}
	res.BuyHoldReturn = benchmark.BuyAndHold(bars)

	btCfg := o.cfg.Backtest
	if o.cfg.UseObservedSlippage {
		since := o.now().AddDate(0, 0, -o.cfg.HistoryDays)
		avg, n, err := o.store.AverageSlippage(ctx, symbol, since)
		switch {
		case err != nil:
			logger.Warnf("[Optimizer] %s: observed slippage unavailable: %v", symbol, err)
		case n > 0 && avg > 0:
			btCfg.SlippagePct = avg
			logger.Infof("[Optimizer] %s: charging observed slippage %.4f%% over %d fills", symbol, avg*100, n)
		}
	}

	best, trials, err := search(frame, btCfg, newSampler(o.cfg.Seed, symbol, o.cfg.Bounds), o.cfg.Trials)
	res.Trials = trials
	if err != nil {
		return res, fmt.Errorf("search %s: %w", symbol, err)
	}
	res.Best = best
	metrics.SetBestScore(symbol, best.Score)
	logger.Infof("[Optimizer] %s: best %s score=%.4f buy&hold=%.4f excess=%.4f trades=%d",
		symbol, best.Params, best.Score, res.BuyHoldReturn, benchmark.Excess(best.Score, bars), len(best.Trades))

	// Parameters of a held symbol are never replaced.
	held, err := o.holding(ctx, symbol)
	if err != nil {
		return res, fmt.Errorf("position check %s: %w", symbol, err)
	}
	if held {
		res.Outcome = datastore.OutcomeSkippedOpenPosition
		logger.Warnf("[Optimizer] %s: open position, not updating parameters", symbol)
		return res, nil
	}

	err = o.store.UpsertStrategy(ctx, strategy.Strategy{Symbol: symbol, Params: best.Params, Active: true, RunID: res.RunID})
	if err != nil {
		return res, fmt.Errorf("persist %s: %w", symbol, err)
	}
	res.Outcome = datastore.OutcomePersisted
	return res, nil
}

// prepare fetches the trailing history, aggregates it to the strategy
// timeframe and computes the shifted indicator frame once.
func (o *Optimizer) prepare(ctx context.Context, symbol string) (backtest.Frame, []market.Bar, error) {
	lookback := int(time.Duration(o.cfg.HistoryDays) * 24 * time.Hour / o.cfg.BaseBarSize)

	callCtx, cancel := broker.WithTimeout(ctx, o.cfg.CallTimeout)
	raw, err := o.source.GetBars(callCtx, symbol, o.cfg.BaseBarSize, lookback)
	cancel()
	switch {
	case errors.Is(err, market.ErrDataUnavailable):
		return backtest.Frame{}, nil, fmt.Errorf("%w: %v", ErrDataInsufficient, err)
	case err != nil:
		return backtest.Frame{}, nil, fmt.Errorf("fetch bars %s: %w", symbol, err)
	case len(raw) == 0:
		return backtest.Frame{}, nil, fmt.Errorf("%w: no bars for %s", ErrDataInsufficient, symbol)
	}

	bars := market.Confirmed(market.Aggregate(raw, o.cfg.Timeframe, o.cfg.Session), o.cfg.Timeframe, o.cfg.BaseBarSize, o.now())
	frame, err := backtest.Prepare(bars, o.cfg.Periods)
	if errors.Is(err, backtest.ErrNotEnoughData) {
		return backtest.Frame{}, nil, fmt.Errorf("%w: %d bars for %s", ErrDataInsufficient, len(bars), symbol)
	}
	if err != nil {
		return backtest.Frame{}, nil, err
	}
	return frame, bars, nil
}

func (o *Optimizer) holding(ctx context.Context, symbol string) (bool, error) {
	callCtx, cancel := broker.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	pos, err := o.source.GetPosition(callCtx, symbol)
	if err != nil {
		return false, err
	}
	return pos != nil && pos.Qty != 0, nil
}

// RunAll tunes symbols concurrently, at most cfg.Workers at a time. A
// symbol's failure is logged and recorded; it never stops the others.
func (o *Optimizer) RunAll(ctx context.Context, symbols []string) []Result {
	results := make([]Result, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, symbol := range symbols {
		g.Go(func() error {
			res, _ := o.Optimize(gctx, symbol)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
