// Package broker defines the brokerage capabilities the bot depends on and
// the error taxonomy adapters map their failures onto.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/your-org/adx-trend-bot/internal/ledger"
	"github.com/your-org/adx-trend-bot/internal/market"
)

var (
	// ErrTransient covers timeouts, rate limits and 5xx responses. Retry next tick.
	ErrTransient = errors.New("broker: transient failure")
	// ErrRejected means the broker refused the request, e.g. insufficient funds.
	ErrRejected = errors.New("broker: request rejected")
	// ErrDuplicateOrder means an order with the same client id already exists.
	ErrDuplicateOrder = errors.New("broker: duplicate client order id")
	// ErrNotFound means the order or position does not exist.
	ErrNotFound = errors.New("broker: not found")
)

// Position is a held quantity.
type Position struct {
	Symbol        string
	Qty           float64
	AvgEntryPrice float64
}

// Account is the buying capacity used for sizing.
type Account struct {
	Equity float64
	Cash   float64
}

// BracketOrderRequest is a market entry with attached take-profit and
// stop-loss legs.
type BracketOrderRequest struct {
	Symbol          string
	Qty             int64
	Side            ledger.Side
	TakeProfitPrice float64
	StopLossPrice   float64
	ClientOrderID   string
}

// CloseRequest liquidates a full position at market. Adapters cancel any
// open bracket legs for the symbol first.
type CloseRequest struct {
	Symbol        string
	Qty           float64
	ClientOrderID string
}

// OrderAck is the broker's acknowledgement of a submission.
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	SubmittedAt   time.Time
}

// OrderState is the broker-side lifecycle of an order.
type OrderState string

const (
	OrderOpen     OrderState = "open"
	OrderFilled   OrderState = "filled"
	OrderCanceled OrderState = "canceled"
	OrderExpired  OrderState = "expired"
	OrderRejected OrderState = "rejected"
)

// OrderStatus is what GetOrderStatus reports.
type OrderStatus struct {
	OrderID   string
	State     OrderState
	FillPrice *float64
	FilledAt  *time.Time
}

// PositionReader reports holdings.
type PositionReader interface {
	GetPosition(ctx context.Context, symbol string) (*Position, error)
}

// BarSource serves historical bars.
type BarSource interface {
	GetBars(ctx context.Context, symbol string, barSize time.Duration, lookback int) ([]market.Bar, error)
}

// OrderStatusReader reports order outcomes.
type OrderStatusReader interface {
	GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error)
}

// Clock reports whether the market is trading.
type Clock interface {
	MarketIsOpen(ctx context.Context) (bool, error)
}

// Broker is the full capability set used by the live engine.
type Broker interface {
	PositionReader
	BarSource
	OrderStatusReader
	Clock
	HasOpenOrder(ctx context.Context, symbol string) (bool, error)
	LatestPrice(ctx context.Context, symbol string) (float64, error)
	SubmitBracketOrder(ctx context.Context, req BracketOrderRequest) (OrderAck, error)
	ClosePosition(ctx context.Context, req CloseRequest) (OrderAck, error)
	GetAccount(ctx context.Context) (Account, error)
}

// WithTimeout bounds a single broker call. A zero timeout leaves ctx as is.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
