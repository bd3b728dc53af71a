package dbwriter

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/your-org/adx-trend-bot/internal/config"
)

// SignalEvaluation is one confirmed-bar decision of the live engine.
type SignalEvaluation struct {
	Time     time.Time `db:"time"`
	Symbol   string    `db:"symbol"`
	ADX      float64   `db:"adx"` // NaN is stored as NULL
	RSI      float64   `db:"rsi"`
	Decision string    `db:"decision"`
}

// EquitySnapshot is the account value at the end of a cycle.
type EquitySnapshot struct {
	Time   time.Time `db:"time"`
	Equity float64   `db:"equity"`
	Cash   float64   `db:"cash"`
}

var (
	signalColumns = []string{"time", "symbol", "adx", "rsi", "decision"}
	equityColumns = []string{"time", "equity", "cash"}
)

// Pool is an interface that abstracts the pgxpool.Pool for testability.
type Pool interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// sink persists one flushed batch.
type sink interface {
	insertSignals(ctx context.Context, rows []SignalEvaluation) error
	insertEquity(ctx context.Context, rows []EquitySnapshot) error
}

// batchWriter buffers rows and hands them to a sink on a ticker or when a
// buffer reaches the batch size.
type batchWriter struct {
	sink          sink
	logger        *zap.Logger
	config        config.DBWriterConfig
	signalBuffer  []SignalEvaluation
	equityBuffer  []EquitySnapshot
	bufferMutex   sync.Mutex
	flushMutex    sync.Mutex
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

func newBatchWriter(s sink, writerConfig config.DBWriterConfig, logger *zap.Logger) *batchWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if writerConfig.WriteIntervalSeconds <= 0 {
		logger.Warn("WriteIntervalSeconds is zero or negative, defaulting to 1s.", zap.Int("originalValue", writerConfig.WriteIntervalSeconds))
		writerConfig.WriteIntervalSeconds = 1
	}
	if writerConfig.BatchSize <= 0 {
		logger.Warn("BatchSize is zero or negative, defaulting to 100.", zap.Int("originalValue", writerConfig.BatchSize))
		writerConfig.BatchSize = 100
	}
	w := &batchWriter{
		sink:         s,
		logger:       logger,
		config:       writerConfig,
		signalBuffer: make([]SignalEvaluation, 0, writerConfig.BatchSize),
		equityBuffer: make([]EquitySnapshot, 0, writerConfig.BatchSize),
		flushTicker:  time.NewTicker(time.Duration(writerConfig.WriteIntervalSeconds) * time.Second),
		shutdownChan: make(chan struct{}),
		done:         make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *batchWriter) run() {
	defer close(w.done)
	for {
		select {
		case <-w.flushTicker.C:
			w.Flush(context.Background())
		case <-w.shutdownChan:
			return
		}
	}
}

// SaveSignalEvaluation buffers a signal row.
func (w *batchWriter) SaveSignalEvaluation(ev SignalEvaluation) {
	w.bufferMutex.Lock()
	w.signalBuffer = append(w.signalBuffer, ev)
	shouldFlush := len(w.signalBuffer) >= w.config.BatchSize
	w.bufferMutex.Unlock()

	if shouldFlush {
		w.Flush(context.Background())
	}
}

// SaveEquitySnapshot buffers an equity row.
func (w *batchWriter) SaveEquitySnapshot(s EquitySnapshot) {
	w.bufferMutex.Lock()
	w.equityBuffer = append(w.equityBuffer, s)
	shouldFlush := len(w.equityBuffer) >= w.config.BatchSize
	w.bufferMutex.Unlock()

	if shouldFlush {
		w.Flush(context.Background())
	}
}

// Flush writes everything buffered so far. Failed batches are logged and
// dropped; the signal log is diagnostic and never blocks trading.
func (w *batchWriter) Flush(ctx context.Context) {
	w.flushMutex.Lock()
	defer w.flushMutex.Unlock()

	w.bufferMutex.Lock()
	signals := w.signalBuffer
	equity := w.equityBuffer
	w.signalBuffer = make([]SignalEvaluation, 0, w.config.BatchSize)
	w.equityBuffer = make([]EquitySnapshot, 0, w.config.BatchSize)
	w.bufferMutex.Unlock()

	if len(signals) > 0 {
		w.logger.Debug("Flushing signal evaluations", zap.Int("count", len(signals)))
		if err := w.sink.insertSignals(ctx, signals); err != nil {
			w.logger.Error("Failed to batch insert signal evaluations", zap.Error(err), zap.Int("count", len(signals)))
		}
	}
	if len(equity) > 0 {
		w.logger.Debug("Flushing equity snapshots", zap.Int("count", len(equity)))
		if err := w.sink.insertEquity(ctx, equity); err != nil {
			w.logger.Error("Failed to batch insert equity snapshots", zap.Error(err), zap.Int("count", len(equity)))
		}
	}
}

// Close stops the background flusher and writes what is left.
func (w *batchWriter) Close() {
	w.closeOnce.Do(func() {
		close(w.shutdownChan)
		<-w.done
		w.flushTicker.Stop()
		w.Flush(context.Background())
		w.logger.Info("DB writer closed")
	})
}

// PostgresWriter writes batches with COPY. The pool is owned by the caller.
type PostgresWriter struct {
	*batchWriter
	pool Pool
}

var _ DBWriter = (*PostgresWriter)(nil)

// NewPostgresWriter starts a batch writer on pool.
func NewPostgresWriter(pool Pool, writerConfig config.DBWriterConfig, logger *zap.Logger) *PostgresWriter {
	w := &PostgresWriter{pool: pool}
	w.batchWriter = newBatchWriter(w, writerConfig, logger)
	w.logger.Info("Started Postgres batch writer")
	return w
}

func (w *PostgresWriter) insertSignals(ctx context.Context, rows []SignalEvaluation) error {
	_, err := w.pool.CopyFrom(ctx, pgx.Identifier{"signal_evaluations"}, signalColumns,
		pgx.CopyFromRows(toSignalInterfaces(rows)))
	return err
}

func (w *PostgresWriter) insertEquity(ctx context.Context, rows []EquitySnapshot) error {
	_, err := w.pool.CopyFrom(ctx, pgx.Identifier{"equity_snapshots"}, equityColumns,
		pgx.CopyFromRows(toEquityInterfaces(rows)))
	return err
}

func toSignalInterfaces(rows []SignalEvaluation) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, r := range rows {
		out[i] = []interface{}{r.Time.UTC(), r.Symbol, nullable(r.ADX), nullable(r.RSI), r.Decision}
	}
	return out
}

func toEquityInterfaces(rows []EquitySnapshot) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, r := range rows {
		out[i] = []interface{}{r.Time.UTC(), r.Equity, r.Cash}
	}
	return out
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
