package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/adx-trend-bot/internal/datastore"
	"github.com/your-org/adx-trend-bot/internal/ledger"
	"github.com/your-org/adx-trend-bot/internal/report"
	"github.com/your-org/adx-trend-bot/internal/strategy"
)

func execute(t *testing.T, store *datastore.InMemRepository, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(func(context.Context, string) (datastore.Store, error) { return store, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func filled(orderID, symbol string, side ledger.Side, snap, fill float64, at time.Time) ledger.Execution {
	e := ledger.Execution{
		OrderID: orderID, DedupeKey: "k-" + orderID, Symbol: symbol, Side: side, Qty: 10,
		OrderType: "market", SnapshotPrice: snap, SubmittedAt: at, Status: ledger.StatusFilled,
	}
	f := ledger.NewFill(e, fill, at.Add(time.Second))
	e.FillPrice, e.FilledAt, e.SlippagePct, e.FillLatencyMs = &f.Price, &f.FilledAt, f.SlippagePct, f.LatencyMs
	return e
}

func TestSummary(t *testing.T) {
	store := datastore.NewInMemRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	out, err := execute(t, store, "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "No executions in window.")

	for _, e := range []ledger.Execution{
		filled("o-1", "AAPL", ledger.SideBuy, 100, 100, now.Add(-2*time.Hour)),
		filled("o-2", "AAPL", ledger.SideSell, 110, 110, now.Add(-time.Hour)),
	} {
		_, err := store.InsertExecution(ctx, e)
		require.NoError(t, err)
	}

	out, err = execute(t, store, "summary", "--days", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Fill rate:         100.00%")
	assert.Contains(t, out, "Realized PnL:      100.00")

	out, err = execute(t, store, "summary", "--json")
	require.NoError(t, err)
	var r report.Report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, 2, r.Filled)
	assert.Equal(t, 1, r.RoundTrips)
}

func TestStrategies(t *testing.T) {
	store := datastore.NewInMemRepository()
	store.SeedStrategies(strategy.Strategy{
		Symbol: "MSFT", Active: true, RunID: "run-9",
		Params: strategy.Parameters{ADXEntryThreshold: 22, RSIEntryThreshold: 60, TakeProfitPct: 0.08, StopLossPct: 0.04},
	})
	score := 0.12
	require.NoError(t, store.RecordOptimizationRun(context.Background(), datastore.OptimizationRun{
		RunID: "run-9", Symbol: "MSFT", Trials: 60, Outcome: datastore.OutcomePersisted, Score: &score,
		FinishedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}))

	out, err := execute(t, store, "strategies")
	require.NoError(t, err)
	assert.Contains(t, out, "MSFT")
	assert.Contains(t, out, "run-9")
	assert.Contains(t, out, "persisted")
	assert.Contains(t, out, "0.1200")

	out, err = execute(t, store, "strategies", "--runs", "0")
	require.NoError(t, err)
	assert.NotContains(t, out, "OUTCOME")
}

func TestEngineSwitch(t *testing.T) {
	store := datastore.NewInMemRepository()
	ctx := context.Background()

	_, err := execute(t, store, "engine", "on")
	require.NoError(t, err)
	running, err := store.EngineRunning(ctx)
	require.NoError(t, err)
	assert.True(t, running)

	out, err := execute(t, store, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "engine_running: true")
	assert.Contains(t, out, "health:         unknown")

	_, err = execute(t, store, "engine", "off")
	require.NoError(t, err)
	running, err = store.EngineRunning(ctx)
	require.NoError(t, err)
	assert.False(t, running)

	_, err = execute(t, store, "engine", "maybe")
	assert.Error(t, err)
}
