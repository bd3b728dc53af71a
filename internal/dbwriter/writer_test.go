package dbwriter

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/adx-trend-bot/internal/config"
)

func TestPostgresWriter_ImplementsDBWriter(t *testing.T) {
	assert.Implements(t, (*DBWriter)(nil), new(PostgresWriter))
	assert.Implements(t, (*DBWriter)(nil), new(SQLWriter))
}

func TestPostgresWriter_FlushesOnBatchSize(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	writer := NewPostgresWriter(mock, config.DBWriterConfig{BatchSize: 2, WriteIntervalSeconds: 3600}, zap.NewNop())

	mock.ExpectCopyFrom(pgx.Identifier{"signal_evaluations"}, signalColumns).WillReturnResult(2)

	at := time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)
	writer.SaveSignalEvaluation(SignalEvaluation{Time: at, Symbol: "AAPL", ADX: 27.1, RSI: 58.2, Decision: "enter"})
	writer.SaveSignalEvaluation(SignalEvaluation{Time: at, Symbol: "MSFT", ADX: math.NaN(), RSI: 40, Decision: "none"})

	require.NoError(t, mock.ExpectationsWereMet(), "second row should trigger a flush")
	writer.Close()
}

func TestPostgresWriter_CloseFlushesRemainder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	writer := NewPostgresWriter(mock, config.DBWriterConfig{BatchSize: 100, WriteIntervalSeconds: 3600}, zap.NewNop())

	mock.ExpectCopyFrom(pgx.Identifier{"equity_snapshots"}, equityColumns).WillReturnResult(1)

	writer.SaveEquitySnapshot(EquitySnapshot{Time: time.Now(), Equity: 10500, Cash: 2500})
	writer.Close()
	writer.Close()

	require.NoError(t, mock.ExpectationsWereMet(), "there were unfulfilled expectations")
}

func TestPostgresWriter_FailedBatchIsDropped(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	writer := NewPostgresWriter(mock, config.DBWriterConfig{BatchSize: 1, WriteIntervalSeconds: 3600}, zap.NewNop())
	defer writer.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"equity_snapshots"}, equityColumns).WillReturnError(assert.AnError)
	writer.SaveEquitySnapshot(EquitySnapshot{Time: time.Now(), Equity: 1, Cash: 1})
	require.NoError(t, mock.ExpectationsWereMet())

	// Nothing is retried on the next flush.
	writer.Flush(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestToSignalInterfaces_NaNIsNull(t *testing.T) {
	rows := toSignalInterfaces([]SignalEvaluation{{Symbol: "AAPL", ADX: math.NaN(), RSI: 51.5, Decision: "none"}})
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0][2])
	require.NotNil(t, rows[0][3])
	assert.Equal(t, 51.5, *rows[0][3].(*float64))
}

func TestInMemWriter(t *testing.T) {
	w := NewInMemWriter()
	w.SaveSignalEvaluation(SignalEvaluation{Symbol: "AAPL", Decision: "enter"})
	w.SaveSignalEvaluation(SignalEvaluation{Symbol: "MSFT", Decision: "none"})
	w.SaveEquitySnapshot(EquitySnapshot{Equity: 10})

	assert.Len(t, w.SignalsFor("AAPL"), 1)
	assert.Len(t, w.EquitySnapshots(), 1)

	w.Close()
	assert.True(t, w.IsClosed)
	w.Clear()
	assert.Empty(t, w.Signals)
}
