// Package engine evaluates the trend rule on every active instrument once
// per tick and submits idempotent orders for the resulting decisions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/your-org/adx-trend-bot/internal/alert"
	"github.com/your-org/adx-trend-bot/internal/broker"
	"github.com/your-org/adx-trend-bot/internal/config"
	"github.com/your-org/adx-trend-bot/internal/dbwriter"
	"github.com/your-org/adx-trend-bot/internal/indicator"
	"github.com/your-org/adx-trend-bot/internal/ledger"
	"github.com/your-org/adx-trend-bot/internal/market"
	"github.com/your-org/adx-trend-bot/internal/metrics"
	"github.com/your-org/adx-trend-bot/internal/signal"
	"github.com/your-org/adx-trend-bot/internal/strategy"
	"github.com/your-org/adx-trend-bot/pkg/logger"
)

const (
	orderTypeBracket = "market_bracket"
	orderTypeClose   = "market_close"
)

// Store is what the engine needs from the datastore.
type Store interface {
	EngineRunning(ctx context.Context) (bool, error)
	ActiveStrategies(ctx context.Context) ([]strategy.Strategy, error)
	ExecutionExists(ctx context.Context, dedupeKey string) (bool, error)
	InsertExecution(ctx context.Context, e ledger.Execution) (bool, error)
}

// Config controls the live evaluation.
type Config struct {
	BaseBarSize time.Duration
	Timeframe   time.Duration
	Session     market.Session
	FetchBars   int
	Periods     indicator.Periods
	PanicRSI    float64
	CallTimeout time.Duration
}

// NewConfig derives the engine settings from the application config.
func NewConfig(cfg *config.Config) (Config, error) {
	session, err := market.NewSession(cfg.Engine.SessionOrigin, cfg.Engine.Timezone)
	if err != nil {
		return Config{}, err
	}
	return Config{
		BaseBarSize: cfg.Engine.BaseBarSize,
		Timeframe:   cfg.Engine.Timeframe,
		Session:     session,
		FetchBars:   cfg.Engine.FetchBars,
		Periods:     indicator.Periods{RSI: cfg.Strategy.RSIPeriod, ADX: cfg.Strategy.ADXPeriod},
		PanicRSI:    cfg.Strategy.PanicRSI,
		CallTimeout: cfg.Broker.CallTimeout,
	}, nil
}

func (c Config) withDefaults() Config {
	if c.BaseBarSize <= 0 {
		c.BaseBarSize = time.Hour
	}
	if c.Timeframe < c.BaseBarSize {
		c.Timeframe = c.BaseBarSize
	}
	if c.Session.Location == nil {
		c.Session = market.UTCSession()
	}
	if c.FetchBars <= 0 {
		c.FetchBars = 400
	}
	if c.Periods == (indicator.Periods{}) {
		c.Periods = indicator.DefaultPeriods
	}
	if c.PanicRSI == 0 {
		c.PanicRSI = signal.DefaultPanicRSI
	}
	return c
}

// TickSummary counts what one tick did.
type TickSummary struct {
	Paused       bool
	MarketClosed bool
	Instruments  int
	Evaluated    int
	Skipped      int
	Entries      int
	Exits        int
	Errors       int
}

// Engine is the live signal and order engine.
type Engine struct {
	broker   broker.Broker
	store    Store
	writer   dbwriter.DBWriter
	notifier alert.Notifier
	cfg      Config
	now      func() time.Time

	mu            sync.Mutex
	lastProcessed map[string]time.Time
}

// New creates an Engine. A nil writer or notifier disables that output.
func New(b broker.Broker, store Store, writer dbwriter.DBWriter, notifier alert.Notifier, cfg Config) *Engine {
	if writer == nil {
		writer = dbwriter.NewDummyWriter(logger.NewLogger("error"))
	}
	if notifier == nil {
		notifier = alert.Discard
	}
	return &Engine{
		broker:        b,
		store:         store,
		writer:        writer,
		notifier:      notifier,
		cfg:           cfg.withDefaults(),
		now:           time.Now,
		lastProcessed: make(map[string]time.Time),
	}
}

// Tick evaluates every active instrument once. Failures of one instrument
// are classified, logged and counted; they never stop the others. Errors
// reading the run flag, the strategies or the account abort the tick.
func (e *Engine) Tick(ctx context.Context, marketOpen bool) (TickSummary, error) {
	var sum TickSummary

	running, err := e.store.EngineRunning(ctx)
	if err != nil {
		return sum, fmt.Errorf("read engine_running: %w", err)
	}
	metrics.SetEngineRunning(running)
	if !running {
		sum.Paused = true
		logger.Info("[Engine] engine_running is false, not evaluating")
		return sum, nil
	}
	if !marketOpen {
		sum.MarketClosed = true
		logger.Debug("[Engine] market closed, not evaluating")
		return sum, nil
	}

	strategies, err := e.store.ActiveStrategies(ctx)
	if err != nil {
		return sum, fmt.Errorf("load active strategies: %w", err)
	}
	sum.Instruments = len(strategies)
	if len(strategies) == 0 {
		logger.Info("[Engine] no active strategies")
		return sum, nil
	}

	callCtx, cancel := broker.WithTimeout(ctx, e.cfg.CallTimeout)
	acct, err := e.broker.GetAccount(callCtx)
	cancel()
	if err != nil {
		return sum, fmt.Errorf("get account: %w", err)
	}
	t := &tick{cash: acct.Cash, allocation: acct.Equity / float64(len(strategies))}
	logger.Infof("[Engine] tick: %d instruments, equity=%.2f cash=%.2f allocation=%.2f",
		len(strategies), acct.Equity, acct.Cash, t.allocation)

	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("tick interrupted before %s: %w", s.Symbol, err)
		}
		out, err := e.evaluate(ctx, s, t)
		if err != nil {
			kind := Classify(err)
			metrics.IncInstrumentError(kind.String())
			logger.Errorf("[Engine] %s: %s: %v", s.Symbol, kind, err)
			sum.Errors++
			continue
		}
		switch {
		case out.skipped:
			sum.Skipped++
			continue
		case out.entered:
			sum.Entries++
		case out.exited:
			sum.Exits++
		}
		sum.Evaluated++
	}
	return sum, nil
}

// tick carries the state shared by the instruments of one tick.
type tick struct {
	cash       float64
	allocation float64
}

type outcome struct {
	skipped bool
	entered bool
	exited  bool
}

func (e *Engine) processed(symbol string, bar time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastProcessed[symbol]
	return ok && last.Equal(bar)
}

func (e *Engine) markProcessed(symbol string, bar time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastProcessed[symbol] = bar
}

// LastProcessed returns the last confirmed bar decided for symbol.
func (e *Engine) LastProcessed(symbol string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.lastProcessed[symbol]
	return t, ok
}

func (e *Engine) evaluate(ctx context.Context, s strategy.Strategy, t *tick) (outcome, error) {
	symbol := s.Symbol

	callCtx, cancel := broker.WithTimeout(ctx, e.cfg.CallTimeout)
	raw, err := e.broker.GetBars(callCtx, symbol, e.cfg.BaseBarSize, e.cfg.FetchBars)
	cancel()
	if err != nil {
		return outcome{}, fmt.Errorf("fetch bars: %w", err)
	}

	bars := market.Confirmed(market.Aggregate(raw, e.cfg.Timeframe, e.cfg.Session), e.cfg.Timeframe, e.cfg.BaseBarSize, e.now())
	if len(bars) < e.cfg.Periods.Lookback() {
		return outcome{}, fmt.Errorf("%d confirmed bars, need %d: %w", len(bars), e.cfg.Periods.Lookback(), market.ErrDataUnavailable)
	}
	rsi, adx, ok := indicator.Compute(bars, e.cfg.Periods).Last()
	if !ok {
		return outcome{}, fmt.Errorf("indicators undefined on %d bars: %w", len(bars), market.ErrDataUnavailable)
	}
	last := bars[len(bars)-1]
	if e.processed(symbol, last.Time) {
		return outcome{skipped: true}, nil
	}

	pos, err := e.position(ctx, symbol)
	if err != nil {
		return outcome{}, err
	}
	var openOrder bool
	if pos == nil {
		callCtx, cancel := broker.WithTimeout(ctx, e.cfg.CallTimeout)
		openOrder, err = e.broker.HasOpenOrder(callCtx, symbol)
		cancel()
		if err != nil {
			return outcome{}, fmt.Errorf("open orders: %w", err)
		}
	}

	decision := signal.Evaluate(signal.State{
		Holding:      pos != nil,
		OpenOrder:    openOrder,
		PanicRSI:     e.cfg.PanicRSI,
		Parameters:   s.Params,
		IndicatorsAt: signal.Snapshot{ADX: adx, RSI: rsi},
	})
	metrics.IncSignal(decision.String())
	e.writer.SaveSignalEvaluation(dbwriter.SignalEvaluation{
		Time: last.Time, Symbol: symbol, ADX: adx, RSI: rsi, Decision: decision.String(),
	})
	logger.Infof("[Engine] %s bar=%s adx=%.2f rsi=%.2f (%s) -> %s",
		symbol, last.Time.Format(time.RFC3339), adx, rsi, s.Params, decision)

	var out outcome
	switch decision {
	case signal.DecisionEnter:
		out.entered, err = e.enter(ctx, s, last, t)
	case signal.DecisionPanicExit:
		out.exited, err = e.exit(ctx, symbol, pos, last)
	}
	if err != nil {
		var se *submitError
		if errors.As(err, &se) && !Classify(err).Retryable() {
			logger.Warnf("[Engine] %s: %s for bar %s failed permanently, not retrying", symbol, se.intent, last.Time.Format(time.RFC3339))
			e.markProcessed(symbol, last.Time)
		}
		return outcome{}, err
	}
	e.markProcessed(symbol, last.Time)
	return out, nil
}

func (e *Engine) position(ctx context.Context, symbol string) (*broker.Position, error) {
	callCtx, cancel := broker.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	pos, err := e.broker.GetPosition(callCtx, symbol)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	if pos == nil || pos.Qty <= 0 {
		return nil, nil
	}
	return pos, nil
}

// alreadySubmitted checks the ledger for the decision's dedupe key.
func (e *Engine) alreadySubmitted(ctx context.Context, intent ledger.Intent, symbol, key string) (bool, error) {
	exists, err := e.store.ExecutionExists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	if exists {
		metrics.IncOrder(string(intent), "duplicate")
		logger.Infof("[Engine] %s: %s %s already in the ledger, not resubmitting", symbol, intent, key)
	}
	return exists, nil
}

func (e *Engine) enter(ctx context.Context, s strategy.Strategy, bar market.Bar, t *tick) (bool, error) {
	symbol := s.Symbol
	key := ledger.DedupeKey(ledger.IntentEntry, symbol, bar.Time)
	if done, err := e.alreadySubmitted(ctx, ledger.IntentEntry, symbol, key); err != nil || done {
		return false, err
	}

	callCtx, cancel := broker.WithTimeout(ctx, e.cfg.CallTimeout)
	price, err := e.broker.LatestPrice(callCtx, symbol)
	cancel()
	if err != nil {
		return false, fmt.Errorf("snapshot price: %w", err)
	}

	qty := Size(t.cash, t.allocation, price)
	if qty < 1 {
		logger.Warnf("[Engine] %s: allocation %.2f / cash %.2f buys no share at %.2f", symbol, t.allocation, t.cash, price)
		return false, nil
	}
	tp, sl := BracketPrices(price, s.Params)

	req := broker.BracketOrderRequest{
		Symbol:          symbol,
		Qty:             qty,
		Side:            ledger.SideBuy,
		TakeProfitPrice: tp,
		StopLossPrice:   sl,
		ClientOrderID:   key,
	}
	start := e.now()
	callCtx, cancel = broker.WithTimeout(ctx, e.cfg.CallTimeout)
	ack, err := e.broker.SubmitBracketOrder(callCtx, req)
	cancel()
	latency := e.now().Sub(start)

	status, err := e.settle(ledger.IntentEntry, symbol, ack, err)
	if err != nil || status == "" {
		return false, err
	}
	if status == ledger.StatusNew {
		t.cash -= float64(qty) * price
	}
	if err := e.record(ctx, ack, key, symbol, status, ledger.SideBuy, float64(qty), orderTypeBracket, price, latency); err != nil {
		return false, err
	}
	if status != ledger.StatusNew {
		return false, nil
	}
	e.notify(alert.Event{Kind: "ENTRY", Symbol: symbol, OrderID: ack.OrderID,
		Fields: []alert.Field{alert.F("qty", qty), alert.F("snapshot", price), alert.F("tp", tp), alert.F("sl", sl)}})
	return true, nil
}

func (e *Engine) exit(ctx context.Context, symbol string, pos *broker.Position, bar market.Bar) (bool, error) {
	key := ledger.DedupeKey(ledger.IntentExit, symbol, bar.Time)
	if done, err := e.alreadySubmitted(ctx, ledger.IntentExit, symbol, key); err != nil || done {
		return false, err
	}

	callCtx, cancel := broker.WithTimeout(ctx, e.cfg.CallTimeout)
	price, err := e.broker.LatestPrice(callCtx, symbol)
	cancel()
	if err != nil {
		logger.Warnf("[Engine] %s: no snapshot price for exit (%v), using bar close %.2f", symbol, err, bar.Close)
		price = bar.Close
	}

	start := e.now()
	callCtx, cancel = broker.WithTimeout(ctx, e.cfg.CallTimeout)
	ack, err := e.broker.ClosePosition(callCtx, broker.CloseRequest{Symbol: symbol, Qty: pos.Qty, ClientOrderID: key})
	cancel()
	latency := e.now().Sub(start)

	status, err := e.settle(ledger.IntentExit, symbol, ack, err)
	if err != nil || status == "" {
		return false, err
	}
	if err := e.record(ctx, ack, key, symbol, status, ledger.SideSell, pos.Qty, orderTypeClose, price, latency); err != nil {
		return false, err
	}
	if status != ledger.StatusNew {
		return false, nil
	}
	e.notify(alert.Event{Kind: "PANIC EXIT", Symbol: symbol, OrderID: ack.OrderID,
		Fields: []alert.Field{alert.F("qty", pos.Qty), alert.F("snapshot", price)}})
	return true, nil
}

// settle interprets a submission result and returns the ledger status of
// the broker order behind the decision, or "" when there is none. A
// duplicate is success. A rejection is never counted as a trade: with an
// order id it is recorded as REJECTED, without one the intent is dropped.
// Anything else is returned as a *submitError.
func (e *Engine) settle(intent ledger.Intent, symbol string, ack broker.OrderAck, err error) (ledger.Status, error) {
	switch Classify(err) {
	case KindNone:
		metrics.IncOrder(string(intent), "submitted")
		return ledger.StatusNew, nil
	case KindDuplicateSubmission:
		metrics.IncOrder(string(intent), "duplicate")
		logger.Infof("[Engine] %s: broker already holds %s order %s", symbol, intent, ack.OrderID)
		if ack.OrderID == "" {
			return "", nil
		}
		return ledger.StatusNew, nil
	case KindBrokerRejection:
		metrics.IncOrder(string(intent), "rejected")
		metrics.IncInstrumentError(KindBrokerRejection.String())
		logger.Warnf("[Engine] %s: %s rejected, dropping intent: %v", symbol, intent, err)
		e.notify(alert.Event{Kind: "REJECTED", Symbol: symbol, OrderID: ack.OrderID,
			Fields: []alert.Field{alert.F("intent", intent)}, Err: err})
		if ack.OrderID == "" {
			return "", nil
		}
		return ledger.StatusRejected, nil
	default:
		metrics.IncOrder(string(intent), "failed")
		return "", &submitError{intent: intent, err: err}
	}
}

func (e *Engine) record(ctx context.Context, ack broker.OrderAck, key, symbol string, status ledger.Status, side ledger.Side, qty float64, orderType string, snapshot float64, latency time.Duration) error {
	if ack.OrderID == "" {
		logger.Errorf("[Engine] %s: broker acknowledged %s without an order id, not recording", symbol, key)
		return nil
	}
	submittedAt := ack.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = e.now()
	}
	inserted, err := e.store.InsertExecution(ctx, ledger.Execution{
		OrderID:         ack.OrderID,
		DedupeKey:       key,
		Symbol:          symbol,
		Side:            side,
		Qty:             qty,
		OrderType:       orderType,
		SnapshotPrice:   snapshot,
		SubmitLatencyMs: float64(latency) / float64(time.Millisecond),
		SubmittedAt:     submittedAt,
		Status:          status,
	})
	if err != nil {
		return fmt.Errorf("ledger insert %s: %w", ack.OrderID, err)
	}
	if !inserted {
		logger.Infof("[Engine] %s: ledger already has order %s", symbol, ack.OrderID)
	}
	return nil
}

func (e *Engine) notify(ev alert.Event) {
	if err := e.notifier.Send(ev.String()); err != nil {
		logger.Warnf("[Engine] notify failed: %v", err)
	}
}
