package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/adx-trend-bot/internal/datastore"
	"github.com/your-org/adx-trend-bot/internal/ledger"
)

var t0 = time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func fill(id, symbol string, side ledger.Side, qty, snapshot, price float64, at time.Time) ledger.Execution {
	return ledger.Execution{
		OrderID:         id,
		DedupeKey:       "k-" + id,
		Symbol:          symbol,
		Side:            side,
		Qty:             qty,
		SnapshotPrice:   snapshot,
		SubmitLatencyMs: 100,
		SubmittedAt:     at,
		Status:          ledger.StatusFilled,
		FillPrice:       ptr(price),
		FilledAt:        ptr(at.Add(time.Second)),
		SlippagePct:     ledger.Slippage(side, snapshot, price),
		FillLatencyMs:   ptr(1000.0),
	}
}

func TestAnalyze_Empty(t *testing.T) {
	_, err := Analyze(nil)
	assert.ErrorIs(t, err, ErrNoExecutions)
}

func TestAnalyze_WinningRoundTrip(t *testing.T) {
	rows := []ledger.Execution{
		fill("2", "AAPL", ledger.SideSell, 10, 110, 110, t0.Add(48*time.Hour)),
		fill("1", "AAPL", ledger.SideBuy, 10, 100, 101, t0),
	}
	r, err := Analyze(rows)
	require.NoError(t, err)

	assert.Equal(t, 2, r.Submitted)
	assert.Equal(t, 2, r.Filled)
	assert.Equal(t, 1.0, r.FillRate)
	assert.Equal(t, 1, r.RoundTrips)
	assert.Equal(t, 1, r.WinningTrades)
	assert.Equal(t, "90.00", r.RealizedPnL.StringFixed(2))
	assert.Equal(t, 48*3600.0, r.AverageHoldingSeconds)
	assert.InDelta(t, 0.005, r.MeanSlippagePct, 1e-12)
	assert.InDelta(t, 0.01, r.WorstSlippagePct, 1e-12)
	assert.Equal(t, 1000.0, r.MeanFillLatencyMs)
	assert.Equal(t, t0, r.StartDate)
}

func TestAnalyze_PartialExitsAndLosses(t *testing.T) {
	rows := []ledger.Execution{
		fill("1", "AAPL", ledger.SideBuy, 10, 100, 100, t0),
		fill("2", "AAPL", ledger.SideSell, 5, 120, 120, t0.Add(time.Hour)),
		fill("3", "AAPL", ledger.SideSell, 5, 90, 90, t0.Add(2*time.Hour)),
		fill("4", "MSFT", ledger.SideBuy, 2, 50, 50, t0.Add(3*time.Hour)),
		fill("5", "MSFT", ledger.SideSell, 2, 40, 40, t0.Add(4*time.Hour)),
	}
	r, err := Analyze(rows)
	require.NoError(t, err)

	assert.Equal(t, 3, r.RoundTrips)
	assert.Equal(t, 1, r.WinningTrades)
	assert.Equal(t, 2, r.LosingTrades)
	assert.Equal(t, "30.00", r.RealizedPnL.StringFixed(2), "100 - 50 - 20")
	assert.InDelta(t, 100.0/70.0, r.ProfitFactor, 1e-9)
	assert.Equal(t, "70.00", r.MaxDrawdown.StringFixed(2))

	require.Len(t, r.BySymbol, 2)
	assert.Equal(t, "AAPL", r.BySymbol[0].Symbol)
	assert.Equal(t, 3, r.BySymbol[0].Submitted)
}

func TestAnalyze_FillRateIgnoresPending(t *testing.T) {
	rows := []ledger.Execution{
		fill("1", "AAPL", ledger.SideBuy, 1, 100, 100, t0),
		{OrderID: "2", Symbol: "AAPL", Side: ledger.SideBuy, SubmittedAt: t0.Add(time.Hour), Status: ledger.StatusCanceled},
		{OrderID: "3", Symbol: "AAPL", Side: ledger.SideBuy, SubmittedAt: t0.Add(2 * time.Hour), Status: ledger.StatusRejected},
		{OrderID: "4", Symbol: "AAPL", Side: ledger.SideBuy, SubmittedAt: t0.Add(3 * time.Hour), Status: ledger.StatusNew},
	}
	r, err := Analyze(rows)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Pending)
	assert.InDelta(t, 1.0/3.0, r.FillRate, 1e-12)
	assert.Zero(t, r.RoundTrips)

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	assert.Contains(t, buf.String(), "Fill rate:         33.33%")
}

func TestService_Generate(t *testing.T) {
	store := datastore.NewInMemRepository()
	for _, e := range []ledger.Execution{
		fill("1", "AAPL", ledger.SideBuy, 1, 100, 100, t0),
		fill("2", "AAPL", ledger.SideSell, 1, 105, 105, t0.Add(24*time.Hour)),
	} {
		_, err := store.InsertExecution(context.Background(), e)
		require.NoError(t, err)
	}

	r, err := NewService(store).Generate(context.Background(), t0.Add(time.Hour), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Submitted, "window starts after the buy")

	_, err = NewService(store).Generate(context.Background(), t0.Add(48*time.Hour), time.Time{})
	assert.ErrorIs(t, err, ErrNoExecutions)
}
