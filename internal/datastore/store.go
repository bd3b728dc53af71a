// Package datastore persists strategies, the execution ledger, system status
// and optimizer runs. Postgres, SQLite and in-memory implementations share
// the Store interface.
package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/your-org/adx-trend-bot/internal/ledger"
	"github.com/your-org/adx-trend-bot/internal/strategy"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("datastore: not found")

const (
	statusKeyEngineRunning = "engine_running"
	statusKeyHealth        = "health"
)

// Optimization run outcomes.
const (
	OutcomePersisted           = "persisted"
	OutcomeSkippedOpenPosition = "skipped_open_position"
	OutcomeInsufficientData    = "insufficient_data"
	OutcomeFailed              = "failed"
)

// StrategyStore holds the per-symbol parameters.
type StrategyStore interface {
	// UpsertStrategy writes params and run id in one statement. An existing
	// row keeps its active flag.
	UpsertStrategy(ctx context.Context, s strategy.Strategy) error
	ActiveStrategies(ctx context.Context) ([]strategy.Strategy, error)
	Strategies(ctx context.Context) ([]strategy.Strategy, error)
	GetStrategy(ctx context.Context, symbol string) (strategy.Strategy, bool, error)
	SetStrategyActive(ctx context.Context, symbol string, active bool) error
}

// ExecutionFilter narrows ListExecutions. Zero fields do not filter.
type ExecutionFilter struct {
	Symbol string
	Status ledger.Status
	Since  time.Time
	Until  time.Time
	Limit  int
}

// Ledger is the trade_execution table.
type Ledger interface {
	// InsertExecution returns false when the order id or dedupe key exists.
	InsertExecution(ctx context.Context, e ledger.Execution) (bool, error)
	ExecutionExists(ctx context.Context, dedupeKey string) (bool, error)
	PendingExecutions(ctx context.Context) ([]ledger.Execution, error)
	// MarkFilled and MarkTerminal only touch rows still NEW and report
	// whether a row changed.
	MarkFilled(ctx context.Context, orderID string, fill ledger.Fill) (bool, error)
	MarkTerminal(ctx context.Context, orderID string, status ledger.Status) (bool, error)
	ListExecutions(ctx context.Context, f ExecutionFilter) ([]ledger.Execution, error)
	// AverageSlippage is the mean slippage_pct of filled rows since the
	// given time; an empty symbol covers all symbols.
	AverageSlippage(ctx context.Context, symbol string, since time.Time) (float64, int, error)
}

// SystemStatus is the system_status table.
type SystemStatus struct {
	EngineRunning bool      `json:"engine_running"`
	Health        string    `json:"health"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StatusStore holds the operator switch and health string.
type StatusStore interface {
	// EngineRunning is false until a value has been stored.
	EngineRunning(ctx context.Context) (bool, error)
	// InitEngineRunning stores running only when no value exists yet.
	InitEngineRunning(ctx context.Context, running bool) error
	SetEngineRunning(ctx context.Context, running bool) error
	SetHealth(ctx context.Context, health string) error
	SystemStatus(ctx context.Context) (SystemStatus, error)
}

// OptimizationRun records one optimizer pass over a symbol.
type OptimizationRun struct {
	RunID         string               `json:"run_id"`
	Symbol        string               `json:"symbol"`
	Params        *strategy.Parameters `json:"params,omitempty"`
	Score         *float64             `json:"score,omitempty"`
	BuyHoldReturn *float64             `json:"buy_hold_return,omitempty"`
	Trials        int                  `json:"trials"`
	Outcome       string               `json:"outcome"`
	Error         string               `json:"error,omitempty"`
	StartedAt     time.Time            `json:"started_at"`
	FinishedAt    time.Time            `json:"finished_at"`
}

// RunStore is the optimization_runs table.
type RunStore interface {
	RecordOptimizationRun(ctx context.Context, run OptimizationRun) error
	OptimizationRuns(ctx context.Context, symbol string, limit int) ([]OptimizationRun, error)
}

// Store is the full persistence surface.
type Store interface {
	StrategyStore
	Ledger
	StatusStore
	RunStore
	Close() error
}

type scanner interface {
	Scan(dest ...interface{}) error
}

const executionColumns = `order_id, dedupe_key, symbol, side, qty, order_type, snapshot_price,
        submit_latency_ms, submitted_at, status, fill_price, filled_at, slippage_pct, fill_latency_ms`

func scanExecution(row scanner) (ledger.Execution, error) {
	var e ledger.Execution
	var side, status string
	err := row.Scan(&e.OrderID, &e.DedupeKey, &e.Symbol, &side, &e.Qty, &e.OrderType, &e.SnapshotPrice,
		&e.SubmitLatencyMs, &e.SubmittedAt, &status, &e.FillPrice, &e.FilledAt, &e.SlippagePct, &e.FillLatencyMs)
	if err != nil {
		return ledger.Execution{}, err
	}
	e.Side = ledger.Side(side)
	e.Status = ledger.Status(status)
	e.SubmittedAt = e.SubmittedAt.UTC()
	if e.FilledAt != nil {
		t := e.FilledAt.UTC()
		e.FilledAt = &t
	}
	return e, nil
}

func checkTerminal(status ledger.Status) error {
	switch status {
	case ledger.StatusCanceled, ledger.StatusRejected, ledger.StatusExpired:
		return nil
	}
	return errors.New("datastore: MarkTerminal needs CANCELED, REJECTED or EXPIRED, got " + string(status))
}

func decodeStrategy(symbol string, params []byte, active bool, runID string) (strategy.Strategy, error) {
	p, err := strategy.Decode(params)
	if err != nil {
		return strategy.Strategy{}, err
	}
	return strategy.Strategy{Symbol: symbol, Params: p, Active: active, RunID: runID}, nil
}
