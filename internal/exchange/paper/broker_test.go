package paper

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/adx-trend-bot/internal/broker"
	"github.com/your-org/adx-trend-bot/internal/market"
)

func newBroker(t *testing.T, cash float64) *Broker {
	t.Helper()
	b, err := NewBroker(cash)
	require.NoError(t, err)
	return b
}

func bracket(cid string, qty int64, tp, sl float64) broker.BracketOrderRequest {
	return broker.BracketOrderRequest{Symbol: "AAPL", Qty: qty, Side: "buy", TakeProfitPrice: tp, StopLossPrice: sl, ClientOrderID: cid}
}

func TestSubmitBracketOrder_FillsEntryAndRestsLegs(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, 10000)
	b.UpdatePrice("AAPL", 50)

	ack, err := b.SubmitBracketOrder(ctx, bracket("cid-1", 100, 60, 45))
	require.NoError(t, err)
	assert.NotEmpty(t, ack.OrderID)

	st, err := b.GetOrderStatus(ctx, ack.OrderID)
	require.NoError(t, err)
	assert.Equal(t, broker.OrderFilled, st.State)
	require.NotNil(t, st.FillPrice)
	assert.Equal(t, 50.0, *st.FillPrice)

	pos, err := b.GetPosition(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 100.0, pos.Qty)

	open, err := b.HasOpenOrder(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, open, "bracket legs rest")

	acct, err := b.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 5000.0, acct.Cash, 1e-9)
	assert.InDelta(t, 10000.0, acct.Equity, 1e-9)
}

func TestSubmitBracketOrder_DuplicateClientID(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, 10000)
	b.UpdatePrice("AAPL", 50)

	first, err := b.SubmitBracketOrder(ctx, bracket("same", 10, 60, 45))
	require.NoError(t, err)
	second, err := b.SubmitBracketOrder(ctx, bracket("same", 10, 60, 45))
	assert.ErrorIs(t, err, broker.ErrDuplicateOrder)
	assert.Equal(t, first.OrderID, second.OrderID)

	pos, _ := b.GetPosition(ctx, "AAPL")
	assert.Equal(t, 10.0, pos.Qty, "only one entry filled")
}

func TestSubmitBracketOrder_Rejections(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, 100)

	_, err := b.SubmitBracketOrder(ctx, bracket("no-price", 1, 60, 45))
	assert.ErrorIs(t, err, broker.ErrRejected)

	b.UpdatePrice("AAPL", 50)
	_, err = b.SubmitBracketOrder(ctx, bracket("too-big", 3, 60, 45))
	assert.ErrorIs(t, err, broker.ErrRejected)

	_, err = b.SubmitBracketOrder(ctx, bracket("zero", 0, 60, 45))
	assert.ErrorIs(t, err, broker.ErrRejected)
}

func TestUpdatePrice_TriggersLegs(t *testing.T) {
	testCases := []struct {
		name     string
		price    float64
		wantCash float64
		wantKind OrderKind
	}{
		{"take profit", 61, 10000 - 500 + 610, KindLimit},
		{"stop loss", 44, 10000 - 500 + 440, KindStop},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			b := newBroker(t, 10000)
			b.UpdatePrice("AAPL", 50)
			_, err := b.SubmitBracketOrder(ctx, bracket("cid", 10, 60, 45))
			require.NoError(t, err)

			b.UpdatePrice("AAPL", tc.price)

			pos, err := b.GetPosition(ctx, "AAPL")
			require.NoError(t, err)
			assert.Nil(t, pos)
			open, _ := b.HasOpenOrder(ctx, "AAPL")
			assert.False(t, open, "sibling leg is cancelled")

			acct, _ := b.GetAccount(ctx)
			assert.InDelta(t, tc.wantCash, acct.Cash, 1e-9)

			var filled []Order
			for _, o := range b.Orders("AAPL") {
				if o.ParentID != "" && o.State == broker.OrderFilled {
					filled = append(filled, o)
				}
			}
			require.Len(t, filled, 1)
			assert.Equal(t, tc.wantKind, filled[0].Kind)
		})
	}
}

func TestClosePosition(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, 10000)
	b.UpdatePrice("AAPL", 50)
	_, err := b.SubmitBracketOrder(ctx, bracket("entry", 10, 60, 45))
	require.NoError(t, err)

	b.UpdatePrice("AAPL", 52)
	ack, err := b.ClosePosition(ctx, broker.CloseRequest{Symbol: "AAPL", Qty: 10, ClientOrderID: "exit"})
	require.NoError(t, err)

	st, err := b.GetOrderStatus(ctx, ack.OrderID)
	require.NoError(t, err)
	assert.Equal(t, broker.OrderFilled, st.State)

	open, _ := b.HasOpenOrder(ctx, "AAPL")
	assert.False(t, open)
	pos, _ := b.GetPosition(ctx, "AAPL")
	assert.Nil(t, pos)

	_, err = b.ClosePosition(ctx, broker.CloseRequest{Symbol: "AAPL", Qty: 10, ClientOrderID: "exit"})
	assert.ErrorIs(t, err, broker.ErrDuplicateOrder)

	_, err = b.ClosePosition(ctx, broker.CloseRequest{Symbol: "AAPL", Qty: 10, ClientOrderID: "exit-2"})
	assert.ErrorIs(t, err, broker.ErrRejected, "nothing to close")
}

func TestGetBars_Window(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, 0)
	now := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })

	var bars []market.Bar
	for i := 0; i < 10; i++ {
		bars = append(bars, market.Bar{Time: now.Add(time.Duration(i-8) * time.Hour), Close: float64(i + 1)})
	}
	b.SetBars("AAPL", bars)

	got, err := b.GetBars(ctx, "AAPL", time.Hour, 4)
	require.NoError(t, err)
	require.Len(t, got, 5, "window start inclusive, future bars excluded")
	assert.Equal(t, now.Add(-4*time.Hour), got[0].Time)
	assert.Equal(t, now, got[4].Time)

	p, err := b.LatestPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 9.0, p, "latest bar at or before now")

	_, err = b.LatestPrice(ctx, "MSFT")
	assert.ErrorIs(t, err, market.ErrDataUnavailable)
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aapl.csv")
	content := "time,open,high,low,close,volume\n" +
		"2024-03-01T14:00:00Z,10,11,9,10.5,100\n" +
		"2024-03-01T15:00:00Z,10.5,12,10,11.5,200\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	b := newBroker(t, 0)
	b.SetClock(func() time.Time { return time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC) })
	require.NoError(t, b.LoadCSV("AAPL", path))

	p, err := b.LatestPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 11.5, p)
}

func TestMarketIsOpen(t *testing.T) {
	b := newBroker(t, 0)
	open, err := b.MarketIsOpen(context.Background())
	require.NoError(t, err)
	assert.True(t, open)

	b.SetMarketOpen(false)
	open, _ = b.MarketIsOpen(context.Background())
	assert.False(t, open)
}
