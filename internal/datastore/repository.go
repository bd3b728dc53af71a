package datastore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx5:// driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/spf13/cast"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/your-org/adx-trend-bot/db/schema"
	"github.com/your-org/adx-trend-bot/internal/ledger"
	"github.com/your-org/adx-trend-bot/internal/strategy"
)

// Pool is an interface that abstracts the pgxpool.Pool for testability.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Close()
}

// Repository is the Postgres Store.
type Repository struct {
	db     Pool
	logger *zap.Logger
	now    func() time.Time
}

var _ Store = (*Repository)(nil)

// NewRepository creates a new Repository.
func NewRepository(db Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, logger: logger, now: time.Now}
}

// Migrate applies the embedded migrations to the database at url
// (postgres:// or pgx5://).
func Migrate(url string, logger *zap.Logger) (err error) {
	src, err := iofs.New(schema.Migrations, ".")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	dbURL := url
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dbURL, prefix) {
			dbURL = "pgx5://" + strings.TrimPrefix(dbURL, prefix)
		}
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return fmt.Errorf("failed to initialise migrations: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		err = multierr.Combine(err, srcErr, dbErr)
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	version, dirty, verr := m.Version()
	if verr == nil {
		logger.Info("database schema ready", zap.Uint("version", version), zap.Bool("dirty", dirty))
	}
	return nil
}

// UpsertStrategy implements StrategyStore.
func (r *Repository) UpsertStrategy(ctx context.Context, s strategy.Strategy) error {
	if err := s.Params.Validate(); err != nil {
		return fmt.Errorf("strategy %s: %w", s.Symbol, err)
	}
	params, err := s.Params.Encode()
	if err != nil {
		return err
	}
	query := `
        INSERT INTO strategies (symbol, params, is_active, run_id, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (symbol) DO UPDATE
        SET params = EXCLUDED.params, run_id = EXCLUDED.run_id, updated_at = EXCLUDED.updated_at;
    `
	if _, err := r.db.Exec(ctx, query, s.Symbol, string(params), s.Active, s.RunID, r.now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert strategy %s: %w", s.Symbol, err)
	}
	return nil
}

// ActiveStrategies implements StrategyStore.
func (r *Repository) ActiveStrategies(ctx context.Context) ([]strategy.Strategy, error) {
	return r.queryStrategies(ctx, `
        SELECT symbol, params, is_active, COALESCE(run_id, '')
        FROM strategies
        WHERE is_active
        ORDER BY symbol;
    `)
}

// Strategies implements StrategyStore.
func (r *Repository) Strategies(ctx context.Context) ([]strategy.Strategy, error) {
	return r.queryStrategies(ctx, `
        SELECT symbol, params, is_active, COALESCE(run_id, '')
        FROM strategies
        ORDER BY symbol;
    `)
}

func (r *Repository) queryStrategies(ctx context.Context, query string) ([]strategy.Strategy, error) {
	rows, err := r.db.Query(ctx, query)
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
		s, err := decodeStrategy(symbol, params, active, runID)
		if err != nil {
			r.logger.Warn("skipping strategy with unreadable params", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetStrategy implements StrategyStore.
func (r *Repository) GetStrategy(ctx context.Context, symbol string) (strategy.Strategy, bool, error) {
	query := `
        SELECT params, is_active, COALESCE(run_id, '')
        FROM strategies
        WHERE symbol = $1;
    `
	var params []byte
	var active bool
	var runID string
	err := r.db.QueryRow(ctx, query, symbol).Scan(&params, &active, &runID)
	if errors.Is(err, pgx.ErrNoRows) {
		return strategy.Strategy{}, false, nil
	}
	if err != nil {
		return strategy.Strategy{}, false, fmt.Errorf("failed to get strategy %s: %w", symbol, err)
	}
	s, err := decodeStrategy(symbol, params, active, runID)
	if err != nil {
		return strategy.Strategy{}, false, err
	}
	return s, true, nil
}

// SetStrategyActive implements StrategyStore.
func (r *Repository) SetStrategyActive(ctx context.Context, symbol string, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE strategies SET is_active = $2, updated_at = $3 WHERE symbol = $1;`, symbol, active, r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update strategy %s: %w", symbol, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("strategy %s: %w", symbol, ErrNotFound)
	}
	return nil
}

// InsertExecution implements Ledger.
func (r *Repository) InsertExecution(ctx context.Context, e ledger.Execution) (bool, error) {
	query := `
        INSERT INTO trade_execution (` + executionColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        ON CONFLICT DO NOTHING;
    `
	status := e.Status
	if status == "" {
		status = ledger.StatusNew
	}
	tag, err := r.db.Exec(ctx, query,
		e.OrderID, e.DedupeKey, e.Symbol, string(e.Side), e.Qty, e.OrderType, e.SnapshotPrice,
		e.SubmitLatencyMs, e.SubmittedAt.UTC(), string(status), e.FillPrice, e.FilledAt, e.SlippagePct, e.FillLatencyMs,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert execution %s: %w", e.OrderID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExecutionExists implements Ledger.
func (r *Repository) ExecutionExists(ctx context.Context, dedupeKey string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trade_execution WHERE dedupe_key = $1);`, dedupeKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check dedupe key: %w", err)
	}
	return exists, nil
}

// PendingExecutions implements Ledger.
func (r *Repository) PendingExecutions(ctx context.Context) ([]ledger.Execution, error) {
	return r.queryExecutions(ctx, `
        SELECT `+executionColumns+`
        FROM trade_execution
        WHERE status = 'NEW'
        ORDER BY submitted_at ASC;
    `)
}

// MarkFilled implements Ledger.
func (r *Repository) MarkFilled(ctx context.Context, orderID string, fill ledger.Fill) (bool, error) {
	query := `
        UPDATE trade_execution
        SET status = 'FILLED', fill_price = $2, filled_at = $3, slippage_pct = $4, fill_latency_ms = $5
        WHERE order_id = $1 AND status = 'NEW';
    `
	tag, err := r.db.Exec(ctx, query, orderID, fill.Price, fill.FilledAt.UTC(), fill.SlippagePct, fill.LatencyMs)
	if err != nil {
		return false, fmt.Errorf("failed to mark %s filled: %w", orderID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkTerminal implements Ledger.
func (r *Repository) MarkTerminal(ctx context.Context, orderID string, status ledger.Status) (bool, error) {
	if err := checkTerminal(status); err != nil {
		return false, err
	}
	tag, err := r.db.Exec(ctx, `UPDATE trade_execution SET status = $2 WHERE order_id = $1 AND status = 'NEW';`, orderID, string(status))
	if err != nil {
		return false, fmt.Errorf("failed to mark %s %s: %w", orderID, status, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListExecutions implements Ledger. Rows are newest first.
func (r *Repository) ListExecutions(ctx context.Context, f ExecutionFilter) ([]ledger.Execution, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Symbol != "" {
		add("symbol = $%d", f.Symbol)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.Since.IsZero() {
		add("submitted_at >= $%d", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		add("submitted_at < $%d", f.Until.UTC())
	}
	query := "SELECT " + executionColumns + " FROM trade_execution"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY submitted_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return r.queryExecutions(ctx, query, args...)
}

func (r *Repository) queryExecutions(ctx context.Context, query string, args ...interface{}) ([]ledger.Execution, error) {
	rows, err := r.db.Query(ctx, query, args...)
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
func (r *Repository) AverageSlippage(ctx context.Context, symbol string, since time.Time) (float64, int, error) {
	query := `
        SELECT COALESCE(AVG(slippage_pct), 0), COUNT(slippage_pct)
        FROM trade_execution
        WHERE status = 'FILLED' AND slippage_pct IS NOT NULL
          AND submitted_at >= $1 AND ($2 = '' OR symbol = $2);
    `
	var avg float64
	var n int64
	if err := r.db.QueryRow(ctx, query, since.UTC(), symbol).Scan(&avg, &n); err != nil {
		return 0, 0, fmt.Errorf("failed to average slippage: %w", err)
	}
	return avg, int(n), nil
}

// EngineRunning implements StatusStore.
func (r *Repository) EngineRunning(ctx context.Context) (bool, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT value FROM system_status WHERE key = $1;`, statusKeyEngineRunning).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read engine_running: %w", err)
	}
	return cast.ToBoolE(value)
}

// InitEngineRunning implements StatusStore.
func (r *Repository) InitEngineRunning(ctx context.Context, running bool) error {
	query := `
        INSERT INTO system_status (key, value, updated_at) VALUES ($1, $2, $3)
        ON CONFLICT (key) DO NOTHING;
    `
	if _, err := r.db.Exec(ctx, query, statusKeyEngineRunning, cast.ToString(running), r.now().UTC()); err != nil {
		return fmt.Errorf("failed to initialise engine_running: %w", err)
	}
	return nil
}

// SetEngineRunning implements StatusStore.
func (r *Repository) SetEngineRunning(ctx context.Context, running bool) error {
	return r.setStatus(ctx, statusKeyEngineRunning, cast.ToString(running))
}

// SetHealth implements StatusStore.
func (r *Repository) SetHealth(ctx context.Context, health string) error {
	return r.setStatus(ctx, statusKeyHealth, health)
}

func (r *Repository) setStatus(ctx context.Context, key, value string) error {
	query := `
        INSERT INTO system_status (key, value, updated_at) VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at;
    `
	if _, err := r.db.Exec(ctx, query, key, value, r.now().UTC()); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// SystemStatus implements StatusStore.
func (r *Repository) SystemStatus(ctx context.Context) (SystemStatus, error) {
	rows, err := r.db.Query(ctx, `SELECT key, value, updated_at FROM system_status WHERE key IN ($1, $2);`,
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

func (st *SystemStatus) apply(key, value string, updated time.Time) {
	switch key {
	case statusKeyEngineRunning:
		st.EngineRunning = cast.ToBool(value)
	case statusKeyHealth:
		st.Health = value
	}
	if updated.After(st.UpdatedAt) {
		st.UpdatedAt = updated.UTC()
	}
}

// RecordOptimizationRun implements RunStore.
func (r *Repository) RecordOptimizationRun(ctx context.Context, run OptimizationRun) error {
	params, err := encodeOptional(run.Params)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO optimization_runs (run_id, symbol, params, score, buy_hold_return, trials, outcome, error, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
    `
	_, err = r.db.Exec(ctx, query, run.RunID, run.Symbol, params, run.Score, run.BuyHoldReturn,
		run.Trials, run.Outcome, run.Error, run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record optimization run %s: %w", run.RunID, err)
	}
	return nil
}

// OptimizationRuns implements RunStore. Rows are newest first.
func (r *Repository) OptimizationRuns(ctx context.Context, symbol string, limit int) ([]OptimizationRun, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
        SELECT run_id, symbol, params, score, buy_hold_return, trials, outcome, COALESCE(error, ''), started_at, finished_at
        FROM optimization_runs
        WHERE ($1 = '' OR symbol = $1)
        ORDER BY finished_at DESC
        LIMIT $2;
    `
	rows, err := r.db.Query(ctx, query, symbol, limit)
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

func encodeOptional(p *strategy.Parameters) (interface{}, error) {
	if p == nil {
		return nil, nil
	}
	b, err := p.Encode()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanRun(row scanner) (OptimizationRun, error) {
	var run OptimizationRun
	var params []byte
	err := row.Scan(&run.RunID, &run.Symbol, &params, &run.Score, &run.BuyHoldReturn, &run.Trials,
		&run.Outcome, &run.Error, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return OptimizationRun{}, err
	}
	if len(params) > 0 {
		p, err := strategy.Decode(params)
		if err != nil {
			return OptimizationRun{}, err
		}
		run.Params = &p
	}
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = run.FinishedAt.UTC()
	return run, nil
}

// Close implements Store.
func (r *Repository) Close() error {
	r.db.Close()
	return nil
}
