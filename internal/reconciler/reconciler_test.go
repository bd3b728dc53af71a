package reconciler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/adx-trend-bot/internal/broker"
	"github.com/your-org/adx-trend-bot/internal/datastore"
	"github.com/your-org/adx-trend-bot/internal/ledger"
)

var submitted = time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)

// stubBroker answers GetOrderStatus from a map.
type stubBroker struct {
	statuses map[string]broker.OrderStatus
	errs     map[string]error
}

func (s *stubBroker) GetOrderStatus(_ context.Context, id string) (broker.OrderStatus, error) {
	if err, ok := s.errs[id]; ok {
		return broker.OrderStatus{}, err
	}
	st, ok := s.statuses[id]
	if !ok {
		return broker.OrderStatus{}, fmt.Errorf("order %s: %w", id, broker.ErrNotFound)
	}
	return st, nil
}

func filled(price float64, after time.Duration) broker.OrderStatus {
	at := submitted.Add(after)
	return broker.OrderStatus{State: broker.OrderFilled, FillPrice: &price, FilledAt: &at}
}

func insert(t *testing.T, store *datastore.InMemRepository, id string, side ledger.Side, snapshot float64) {
	t.Helper()
	ok, err := store.InsertExecution(context.Background(), ledger.Execution{
		OrderID:       id,
		DedupeKey:     "key-" + id,
		Symbol:        "AAPL",
		Side:          side,
		Qty:           10,
		OrderType:     "market_bracket",
		SnapshotPrice: snapshot,
		SubmittedAt:   submitted,
		Status:        ledger.StatusNew,
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func find(t *testing.T, store *datastore.InMemRepository, id string) ledger.Execution {
	t.Helper()
	rows, err := store.ListExecutions(context.Background(), datastore.ExecutionFilter{})
	require.NoError(t, err)
	for _, r := range rows {
		if r.OrderID == id {
			return r
		}
	}
	t.Fatalf("order %s not in ledger", id)
	return ledger.Execution{}
}

func TestReconcile(t *testing.T) {
	store := datastore.NewInMemRepository()
	insert(t, store, "buy", ledger.SideBuy, 100)
	insert(t, store, "sell", ledger.SideSell, 100)
	insert(t, store, "canceled", ledger.SideBuy, 100)
	insert(t, store, "expired", ledger.SideBuy, 100)
	insert(t, store, "open", ledger.SideBuy, 100)
	insert(t, store, "broken", ledger.SideBuy, 100)

	b := &stubBroker{
		statuses: map[string]broker.OrderStatus{
			"buy":      filled(101, 1500*time.Millisecond),
			"sell":     filled(99, 2*time.Second),
			"canceled": {State: broker.OrderCanceled},
			"expired":  {State: broker.OrderExpired},
			"open":     {State: broker.OrderOpen},
		},
		errs: map[string]error{"broken": broker.ErrTransient},
	}

	sum, err := New(b, store, time.Second).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{
		Checked:            6,
		Filled:             2,
		Canceled:           1,
		Expired:            1,
		Pending:            1,
		Errors:             1,
		MeanAbsSlippagePct: 0.01,
	}, roundSummary(sum))

	buy := find(t, store, "buy")
	assert.Equal(t, ledger.StatusFilled, buy.Status)
	require.NotNil(t, buy.SlippagePct)
	assert.InDelta(t, 0.01, *buy.SlippagePct, 1e-12, "buy filled higher is worse")
	require.NotNil(t, buy.FillLatencyMs)
	assert.Equal(t, 1500.0, *buy.FillLatencyMs)

	sell := find(t, store, "sell")
	require.NotNil(t, sell.SlippagePct)
	assert.InDelta(t, 0.01, *sell.SlippagePct, 1e-12, "sell filled lower is worse")

	assert.Equal(t, ledger.StatusCanceled, find(t, store, "canceled").Status)
	assert.Nil(t, find(t, store, "canceled").SlippagePct)
	assert.Equal(t, ledger.StatusExpired, find(t, store, "expired").Status)
	assert.Equal(t, ledger.StatusNew, find(t, store, "open").Status)
	assert.Equal(t, ledger.StatusNew, find(t, store, "broken").Status)

	pending, err := store.PendingExecutions(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 2, "open and broken are retried next pass")
}

func roundSummary(s Summary) Summary {
	s.MeanAbsSlippagePct = float64(int(s.MeanAbsSlippagePct*1e6+0.5)) / 1e6
	return s
}

func TestReconcile_TerminalRowsAreNotTouchedAgain(t *testing.T) {
	store := datastore.NewInMemRepository()
	insert(t, store, "o-1", ledger.SideBuy, 50)
	b := &stubBroker{statuses: map[string]broker.OrderStatus{"o-1": filled(50.5, time.Second)}}
	r := New(b, store, 0)

	first, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Filled)

	b.statuses["o-1"] = broker.OrderStatus{State: broker.OrderCanceled}
	second, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Checked)
	assert.Equal(t, ledger.StatusFilled, find(t, store, "o-1").Status)
}

func TestReconcile_FillWithoutPriceStaysNew(t *testing.T) {
	store := datastore.NewInMemRepository()
	insert(t, store, "o-1", ledger.SideBuy, 50)
	b := &stubBroker{statuses: map[string]broker.OrderStatus{"o-1": {State: broker.OrderFilled}}}

	sum, err := New(b, store, 0).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Pending)
	assert.Equal(t, ledger.StatusNew, find(t, store, "o-1").Status)
}

func TestReconcile_UnknownSnapshotHasNoSlippage(t *testing.T) {
	store := datastore.NewInMemRepository()
	insert(t, store, "o-1", ledger.SideBuy, 0)
	b := &stubBroker{statuses: map[string]broker.OrderStatus{"o-1": filled(50, time.Second)}}

	sum, err := New(b, store, 0).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Filled)
	assert.Zero(t, sum.MeanAbsSlippagePct)
	row := find(t, store, "o-1")
	assert.Equal(t, ledger.StatusFilled, row.Status)
	assert.Nil(t, row.SlippagePct)
}
