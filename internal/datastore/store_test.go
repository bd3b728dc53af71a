package datastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/adx-trend-bot/internal/ledger"
	"github.com/your-org/adx-trend-bot/internal/strategy"
)

var testParams = strategy.Parameters{ADXEntryThreshold: 25, RSIEntryThreshold: 50, TakeProfitPct: 0.2, StopLossPct: 0.05}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "trading.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"inmem":  NewInMemRepository(),
		"sqlite": sqlite,
	}
}

func execution(orderID, key, symbol string, at time.Time) ledger.Execution {
	return ledger.Execution{
		OrderID:         orderID,
		DedupeKey:       key,
		Symbol:          symbol,
		Side:            ledger.SideBuy,
		Qty:             10,
		OrderType:       "market_bracket",
		SnapshotPrice:   50,
		SubmitLatencyMs: 120,
		SubmittedAt:     at,
		Status:          ledger.StatusNew,
	}
}

func TestStore_Strategies(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, st.UpsertStrategy(ctx, strategy.Strategy{Symbol: "AAPL", Params: testParams, Active: true, RunID: "run-1"}))
			require.NoError(t, st.UpsertStrategy(ctx, strategy.Strategy{Symbol: "MSFT", Params: testParams, Active: true}))

			got, ok, err := st.GetStrategy(ctx, "AAPL")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, testParams, got.Params)
			assert.Equal(t, "run-1", got.RunID)

			_, ok, err = st.GetStrategy(ctx, "TSLA")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.SetStrategyActive(ctx, "MSFT", false))
			active, err := st.ActiveStrategies(ctx)
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, "AAPL", active[0].Symbol)

			// Re-tuning keeps the operator's active flag.
			updated := testParams
			updated.ADXEntryThreshold = 28
			require.NoError(t, st.UpsertStrategy(ctx, strategy.Strategy{Symbol: "MSFT", Params: updated, Active: true, RunID: "run-2"}))
			got, _, err = st.GetStrategy(ctx, "MSFT")
			require.NoError(t, err)
			assert.False(t, got.Active)
			assert.Equal(t, 28, got.Params.ADXEntryThreshold)

			all, err := st.Strategies(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			assert.ErrorIs(t, st.SetStrategyActive(ctx, "TSLA", true), ErrNotFound)
			assert.Error(t, st.UpsertStrategy(ctx, strategy.Strategy{Symbol: "BAD", Params: strategy.Parameters{}}))
		})
	}
}

func TestStore_LedgerDedupe(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

			inserted, err := st.InsertExecution(ctx, execution("o-1", "k-1", "AAPL", at))
			require.NoError(t, err)
			assert.True(t, inserted)

			inserted, err = st.InsertExecution(ctx, execution("o-2", "k-1", "AAPL", at))
			require.NoError(t, err)
			assert.False(t, inserted, "same dedupe key is not inserted twice")

			inserted, err = st.InsertExecution(ctx, execution("o-1", "k-9", "AAPL", at))
			require.NoError(t, err)
			assert.False(t, inserted, "same order id is not inserted twice")

			exists, err := st.ExecutionExists(ctx, "k-1")
			require.NoError(t, err)
			assert.True(t, exists)
			exists, err = st.ExecutionExists(ctx, "k-2")
			require.NoError(t, err)
			assert.False(t, exists)

			rows, err := st.ListExecutions(ctx, ExecutionFilter{})
			require.NoError(t, err)
			assert.Len(t, rows, 1)
		})
	}
}

func TestStore_LedgerLifecycle(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

			for i, id := range []string{"o-1", "o-2", "o-3"} {
				_, err := st.InsertExecution(ctx, execution(id, "k-"+id, "AAPL", at.Add(time.Duration(i)*time.Minute)))
				require.NoError(t, err)
			}

			pending, err := st.PendingExecutions(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 3)
			assert.Equal(t, "o-1", pending[0].OrderID, "oldest first")

			fill := ledger.NewFill(pending[0], 50.5, at.Add(2*time.Second))
			changed, err := st.MarkFilled(ctx, "o-1", fill)
			require.NoError(t, err)
			assert.True(t, changed)

			changed, err = st.MarkTerminal(ctx, "o-1", ledger.StatusCanceled)
			require.NoError(t, err)
			assert.False(t, changed, "terminal rows are never updated")

			changed, err = st.MarkTerminal(ctx, "o-2", ledger.StatusExpired)
			require.NoError(t, err)
			assert.True(t, changed)

			_, err = st.MarkTerminal(ctx, "o-3", ledger.StatusFilled)
			assert.Error(t, err)

			pending, err = st.PendingExecutions(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, "o-3", pending[0].OrderID)

			filled, err := st.ListExecutions(ctx, ExecutionFilter{Status: ledger.StatusFilled})
			require.NoError(t, err)
			require.Len(t, filled, 1)
			row := filled[0]
			require.NotNil(t, row.FillPrice)
			assert.Equal(t, 50.5, *row.FillPrice)
			require.NotNil(t, row.SlippagePct)
			assert.InDelta(t, 0.01, *row.SlippagePct, 1e-12)
			require.NotNil(t, row.FillLatencyMs)
			assert.InDelta(t, 2000.0, *row.FillLatencyMs, 1e-9)
			require.NotNil(t, row.FilledAt)
			assert.True(t, row.FilledAt.Equal(at.Add(2*time.Second)))

			avg, n, err := st.AverageSlippage(ctx, "", at.Add(-time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			assert.InDelta(t, 0.01, avg, 1e-12)

			_, n, err = st.AverageSlippage(ctx, "MSFT", at.Add(-time.Hour))
			require.NoError(t, err)
			assert.Zero(t, n)

			window, err := st.ListExecutions(ctx, ExecutionFilter{Since: at.Add(30 * time.Second), Until: at.Add(90 * time.Second)})
			require.NoError(t, err)
			require.Len(t, window, 1)
			assert.Equal(t, "o-2", window[0].OrderID)

			limited, err := st.ListExecutions(ctx, ExecutionFilter{Symbol: "AAPL", Limit: 2})
			require.NoError(t, err)
			require.Len(t, limited, 2)
			assert.Equal(t, "o-3", limited[0].OrderID, "newest first")
		})
	}
}

func TestStore_SystemStatus(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			running, err := st.EngineRunning(ctx)
			require.NoError(t, err)
			assert.False(t, running, "unset flag reads as stopped")

			require.NoError(t, st.InitEngineRunning(ctx, true))
			running, _ = st.EngineRunning(ctx)
			assert.True(t, running)

			require.NoError(t, st.SetEngineRunning(ctx, false))
			require.NoError(t, st.InitEngineRunning(ctx, true))
			running, _ = st.EngineRunning(ctx)
			assert.False(t, running, "init never overrides the operator")

			require.NoError(t, st.SetHealth(ctx, "ok"))
			status, err := st.SystemStatus(ctx)
			require.NoError(t, err)
			assert.False(t, status.EngineRunning)
			assert.Equal(t, "ok", status.Health)
			assert.False(t, status.UpdatedAt.IsZero())
		})
	}
}

func TestStore_OptimizationRuns(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
			score, bh := 0.12, 0.08
			p := testParams

			require.NoError(t, st.RecordOptimizationRun(ctx, OptimizationRun{
				RunID: "r1", Symbol: "AAPL", Params: &p, Score: &score, BuyHoldReturn: &bh,
				Trials: 60, Outcome: OutcomePersisted, StartedAt: start, FinishedAt: start.Add(time.Minute),
			}))
			require.NoError(t, st.RecordOptimizationRun(ctx, OptimizationRun{
				RunID: "r2", Symbol: "AAPL", Outcome: OutcomeInsufficientData, Error: "no bars",
				StartedAt: start.Add(time.Hour), FinishedAt: start.Add(time.Hour + time.Second),
			}))

			runs, err := st.OptimizationRuns(ctx, "AAPL", 10)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, "r2", runs[0].RunID)
			assert.Nil(t, runs[0].Params)
			assert.Equal(t, "no bars", runs[0].Error)
			require.NotNil(t, runs[1].Params)
			assert.Equal(t, testParams, *runs[1].Params)
			require.NotNil(t, runs[1].Score)
			assert.Equal(t, 0.12, *runs[1].Score)

			none, err := st.OptimizationRuns(ctx, "MSFT", 10)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}
