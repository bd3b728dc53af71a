package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/your-org/adx-trend-bot/internal/ledger"
	"github.com/your-org/adx-trend-bot/internal/strategy"
)

// SQLiteSchema is the single-file equivalent of the Postgres migrations.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS strategies (
    symbol      TEXT PRIMARY KEY,
    params      TEXT NOT NULL,
    is_active   BOOLEAN NOT NULL DEFAULT 1,
    run_id      TEXT,
    updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_execution (
    order_id          TEXT PRIMARY KEY,
    dedupe_key        TEXT NOT NULL UNIQUE,
    symbol            TEXT NOT NULL,
    side              TEXT NOT NULL,
    qty               REAL NOT NULL,
    order_type        TEXT NOT NULL,
    snapshot_price    REAL NOT NULL,
    submit_latency_ms REAL NOT NULL,
    submitted_at      DATETIME NOT NULL,
    status            TEXT NOT NULL DEFAULT 'NEW',
    fill_price        REAL,
    filled_at         DATETIME,
    slippage_pct      REAL,
    fill_latency_ms   REAL
);
CREATE INDEX IF NOT EXISTS idx_trade_execution_status ON trade_execution (status);

CREATE TABLE IF NOT EXISTS system_status (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS optimization_runs (
    run_id           TEXT PRIMARY KEY,
    symbol           TEXT NOT NULL,
    params           TEXT,
    score            REAL,
    buy_hold_return  REAL,
    trials           INTEGER NOT NULL,
    outcome          TEXT NOT NULL,
    error            TEXT,
    started_at       DATETIME NOT NULL,
    finished_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS signal_evaluations (
    time        DATETIME NOT NULL,
    symbol      TEXT NOT NULL,
    adx         REAL,
    rsi         REAL,
    decision    TEXT NOT NULL,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS equity_snapshots (
    time    DATETIME NOT NULL,
    equity  REAL NOT NULL,
    cash    REAL NOT NULL
);
`

// SQLiteStore is the SQLite Store, used for single-host deployments.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database file at path and
// applies SQLiteSchema.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// One writer; the tick and the optimizer worker serialise here.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

// DB exposes the handle for the signal writer.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// UpsertStrategy implements StrategyStore.
func (s *SQLiteStore) UpsertStrategy(ctx context.Context, st strategy.Strategy) error {
	if err := st.Params.Validate(); err != nil {
		return fmt.Errorf("strategy %s: %w", st.Symbol, err)
	}
	params, err := st.Params.Encode()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO strategies (symbol, params, is_active, run_id, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (symbol) DO UPDATE
        SET params = excluded.params, run_id = excluded.run_id, updated_at = excluded.updated_at`,
		st.Symbol, string(params), st.Active, st.RunID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert strategy %s: %w", st.Symbol, err)
	}
	return nil
}

// ActiveStrategies implements StrategyStore.
func (s *SQLiteStore) ActiveStrategies(ctx context.Context) ([]strategy.Strategy, error) {
	return s.queryStrategies(ctx, `SELECT symbol, params, is_active, COALESCE(run_id, '') FROM strategies WHERE is_active = 1 ORDER BY symbol`)
}

// Strategies implements StrategyStore.
func (s *SQLiteStore) Strategies(ctx context.Context) ([]strategy.Strategy, error) {
	return s.queryStrategies(ctx, `SELECT symbol, params, is_active, COALESCE(run_id, '') FROM strategies ORDER BY symbol`)
}

func (s *SQLiteStore) queryStrategies(ctx context.Context, query string) ([]strategy.Strategy, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	var out []strategy.Strategy
	for rows.Next() {
		var symbol, runID string
		var params []byte
		var active bool
		if err := rows.Scan(&symbol, &params, &active, &runID); err != nil {
			return nil, err
		}
		st, err := decodeStrategy(symbol, params, active, runID)
		if err != nil {
			s.logger.Warn("skipping strategy with unreadable params", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetStrategy implements StrategyStore.
func (s *SQLiteStore) GetStrategy(ctx context.Context, symbol string) (strategy.Strategy, bool, error) {
	var params []byte
	var active bool
	var runID string
	err := s.db.QueryRowContext(ctx, `SELECT params, is_active, COALESCE(run_id, '') FROM strategies WHERE symbol = ?`, symbol).
		Scan(&params, &active, &runID)
	if errors.Is(err, sql.ErrNoRows) {
		return strategy.Strategy{}, false, nil
	}
	if err != nil {
		return strategy.Strategy{}, false, fmt.Errorf("failed to get strategy %s: %w", symbol, err)
	}
	st, err := decodeStrategy(symbol, params, active, runID)
	if err != nil {
		return strategy.Strategy{}, false, err
	}
	return st, true, nil
}

// SetStrategyActive implements StrategyStore.
func (s *SQLiteStore) SetStrategyActive(ctx context.Context, symbol string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE strategies SET is_active = ?, updated_at = ? WHERE symbol = ?`, active, s.now().UTC(), symbol)
	if err != nil {
		return fmt.Errorf("failed to update strategy %s: %w", symbol, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("strategy %s: %w", symbol, ErrNotFound)
	}
	return nil
}

// InsertExecution implements Ledger.
func (s *SQLiteStore) InsertExecution(ctx context.Context, e ledger.Execution) (bool, error) {
	status := e.Status
	if status == "" {
		status = ledger.StatusNew
	}
	var filledAt interface{}
	if e.FilledAt != nil {
		filledAt = e.FilledAt.UTC()
	}
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO trade_execution (`+executionColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT DO NOTHING`,
		e.OrderID, e.DedupeKey, e.Symbol, string(e.Side), e.Qty, e.OrderType, e.SnapshotPrice,
		e.SubmitLatencyMs, e.SubmittedAt.UTC(), string(status), e.FillPrice, filledAt, e.SlippagePct, e.FillLatencyMs)
	if err != nil {
		return false, fmt.Errorf("failed to insert execution %s: %w", e.OrderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExecutionExists implements Ledger.
func (s *SQLiteStore) ExecutionExists(ctx context.Context, dedupeKey string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM trade_execution WHERE dedupe_key = ?`, dedupeKey).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check dedupe key: %w", err)
	}
	return n > 0, nil
}

// PendingExecutions implements Ledger.
func (s *SQLiteStore) PendingExecutions(ctx context.Context) ([]ledger.Execution, error) {
	return s.queryExecutions(ctx, `SELECT `+executionColumns+` FROM trade_execution WHERE status = 'NEW' ORDER BY submitted_at ASC`)
}

// MarkFilled implements Ledger.
func (s *SQLiteStore) MarkFilled(ctx context.Context, orderID string, fill ledger.Fill) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE trade_execution
        SET status = 'FILLED', fill_price = ?, filled_at = ?, slippage_pct = ?, fill_latency_ms = ?
        WHERE order_id = ? AND status = 'NEW'`,
		fill.Price, fill.FilledAt.UTC(), fill.SlippagePct, fill.LatencyMs, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to mark %s filled: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkTerminal implements Ledger.
func (s *SQLiteStore) MarkTerminal(ctx context.Context, orderID string, status ledger.Status) (bool, error) {
	if err := checkTerminal(status); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE trade_execution SET status = ? WHERE order_id = ? AND status = 'NEW'`, string(status), orderID)
	if err != nil {
		return false, fmt.Errorf("failed to mark %s %s: %w", orderID, status, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListExecutions implements Ledger. Rows are newest first.
func (s *SQLiteStore) ListExecutions(ctx context.Context, f ExecutionFilter) ([]ledger.Execution, error) {
	var where []string
	var args []interface{}
	if f.Symbol != "" {
		where, args = append(where, "symbol = ?"), append(args, f.Symbol)
	}
	if f.Status != "" {
		where, args = append(where, "status = ?"), append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		where, args = append(where, "submitted_at >= ?"), append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		where, args = append(where, "submitted_at < ?"), append(args, f.Until.UTC())
	}
	query := "SELECT " + executionColumns + " FROM trade_execution"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY submitted_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.queryExecutions(ctx, query, args...)
}

func (s *SQLiteStore) queryExecutions(ctx context.Context, query string, args ...interface{}) ([]ledger.Execution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AverageSlippage implements Ledger.
func (s *SQLiteStore) AverageSlippage(ctx context.Context, symbol string, since time.Time) (float64, int, error) {
	var avg float64
	var n int
	err := s.db.QueryRowContext(ctx, `
        SELECT COALESCE(AVG(slippage_pct), 0), COUNT(slippage_pct)
        FROM trade_execution
        WHERE status = 'FILLED' AND slippage_pct IS NOT NULL
          AND submitted_at >= ? AND (? = '' OR symbol = ?)`,
		since.UTC(), symbol, symbol).Scan(&avg, &n)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to average slippage: %w", err)
	}
	return avg, n, nil
}

// EngineRunning implements StatusStore.
func (s *SQLiteStore) EngineRunning(ctx context.Context) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM system_status WHERE key = ?`, statusKeyEngineRunning).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read engine_running: %w", err)
	}
	return cast.ToBoolE(value)
}

// InitEngineRunning implements StatusStore.
func (s *SQLiteStore) InitEngineRunning(ctx context.Context, running bool) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO system_status (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT (key) DO NOTHING`,
		statusKeyEngineRunning, cast.ToString(running), s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to initialise engine_running: %w", err)
	}
	return nil
}

// SetEngineRunning implements StatusStore.
func (s *SQLiteStore) SetEngineRunning(ctx context.Context, running bool) error {
	return s.setStatus(ctx, statusKeyEngineRunning, cast.ToString(running))
}

// SetHealth implements StatusStore.
func (s *SQLiteStore) SetHealth(ctx context.Context, health string) error {
	return s.setStatus(ctx, statusKeyHealth, health)
}

func (s *SQLiteStore) setStatus(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO system_status (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// SystemStatus implements StatusStore.
func (s *SQLiteStore) SystemStatus(ctx context.Context) (SystemStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, updated_at FROM system_status WHERE key IN (?, ?)`,
		statusKeyEngineRunning, statusKeyHealth)
	if err != nil {
		return SystemStatus{}, fmt.Errorf("failed to read system_status: %w", err)
	}
	defer rows.Close()

	var st SystemStatus
	for rows.Next() {
		var key, value string
		var updated time.Time
		if err := rows.Scan(&key, &value, &updated); err != nil {
			return SystemStatus{}, err
		}
		st.apply(key, value, updated)
	}
	return st, rows.Err()
}

// RecordOptimizationRun implements RunStore.
func (s *SQLiteStore) RecordOptimizationRun(ctx context.Context, run OptimizationRun) error {
	params, err := encodeOptional(run.Params)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO optimization_runs (run_id, symbol, params, score, buy_hold_return, trials, outcome, error, started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Symbol, params, run.Score, run.BuyHoldReturn, run.Trials, run.Outcome, run.Error,
		run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record optimization run %s: %w", run.RunID, err)
	}
	return nil
}

// OptimizationRuns implements RunStore. Rows are newest first.
func (s *SQLiteStore) OptimizationRuns(ctx context.Context, symbol string, limit int) ([]OptimizationRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT run_id, symbol, params, score, buy_hold_return, trials, outcome, COALESCE(error, ''), started_at, finished_at
        FROM optimization_runs
        WHERE (? = '' OR symbol = ?)
        ORDER BY finished_at DESC
        LIMIT ?`, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query optimization runs: %w", err)
	}
	defer rows.Close()

	var out []OptimizationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
