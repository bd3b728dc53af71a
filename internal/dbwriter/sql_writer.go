package dbwriter

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/your-org/adx-trend-bot/internal/config"
)

// SQLWriter writes batches through database/sql with one transaction per
// batch. It targets the SQLite store, so placeholders are '?'.
type SQLWriter struct {
	*batchWriter
	db *sql.DB
}

var _ DBWriter = (*SQLWriter)(nil)

// NewSQLWriter starts a batch writer on db. The handle is owned by the caller.
func NewSQLWriter(db *sql.DB, writerConfig config.DBWriterConfig, logger *zap.Logger) *SQLWriter {
	w := &SQLWriter{db: db}
	w.batchWriter = newBatchWriter(w, writerConfig, logger)
	return w
}

func (w *SQLWriter) insertSignals(ctx context.Context, rows []SignalEvaluation) error {
	return w.inTx(ctx, `INSERT INTO signal_evaluations (time, symbol, adx, rsi, decision) VALUES (?, ?, ?, ?, ?)`,
		len(rows), func(stmt *sql.Stmt, i int) error {
			r := rows[i]
			_, err := stmt.ExecContext(ctx, r.Time.UTC(), r.Symbol, nullable(r.ADX), nullable(r.RSI), r.Decision)
			return err
		})
}

func (w *SQLWriter) insertEquity(ctx context.Context, rows []EquitySnapshot) error {
	return w.inTx(ctx, `INSERT INTO equity_snapshots (time, equity, cash) VALUES (?, ?, ?)`,
		len(rows), func(stmt *sql.Stmt, i int) error {
			r := rows[i]
			_, err := stmt.ExecContext(ctx, r.Time.UTC(), r.Equity, r.Cash)
			return err
		})
}

func (w *SQLWriter) inTx(ctx context.Context, query string, n int, exec func(*sql.Stmt, int) error) (err error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err = exec(stmt, i); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}
