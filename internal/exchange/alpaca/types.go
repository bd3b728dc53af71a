package alpaca

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/your-org/adx-trend-bot/internal/broker"
)

// Order is the subset of the order entity the bot reads.
type Order struct {
	ID             string     `json:"id"`
	ClientOrderID  string     `json:"client_order_id"`
	Symbol         string     `json:"symbol"`
	Side           string     `json:"side"`
	Type           string     `json:"type"`
	OrderClass     string     `json:"order_class"`
	Qty            *string    `json:"qty"`
	FilledQty      string     `json:"filled_qty"`
	FilledAvgPrice *string    `json:"filled_avg_price"`
	Status         string     `json:"status"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FilledAt       *time.Time `json:"filled_at"`
	Legs           []Order    `json:"legs"`
}

// OrderRequest is the body of POST /v2/orders.
type OrderRequest struct {
	Symbol        string      `json:"symbol"`
	Qty           string      `json:"qty"`
	Side          string      `json:"side"`
	Type          string      `json:"type"`
	TimeInForce   string      `json:"time_in_force"`
	OrderClass    string      `json:"order_class,omitempty"`
	TakeProfit    *TakeProfit `json:"take_profit,omitempty"`
	StopLoss      *StopLoss   `json:"stop_loss,omitempty"`
	ClientOrderID string      `json:"client_order_id,omitempty"`
}

// TakeProfit is the limit leg of a bracket.
type TakeProfit struct {
	LimitPrice string `json:"limit_price"`
}

// StopLoss is the stop leg of a bracket.
type StopLoss struct {
	StopPrice string `json:"stop_price"`
}

// PositionResponse is GET /v2/positions/{symbol}.
type PositionResponse struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	Side          string `json:"side"`
}

// AccountResponse is GET /v2/account.
type AccountResponse struct {
	Equity      string `json:"equity"`
	Cash        string `json:"cash"`
	BuyingPower string `json:"buying_power"`
	Status      string `json:"status"`
}

// ClockResponse is GET /v2/clock.
type ClockResponse struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// Bar is one element of the market data bars response.
type Bar struct {
	T time.Time `json:"t"`
	O float64   `json:"o"`
	H float64   `json:"h"`
	L float64   `json:"l"`
	C float64   `json:"c"`
	V float64   `json:"v"`
}

// BarsResponse is GET /v2/stocks/{symbol}/bars.
type BarsResponse struct {
	Symbol        string  `json:"symbol"`
	Bars          []Bar   `json:"bars"`
	NextPageToken *string `json:"next_page_token"`
}

// LatestTradeResponse is GET /v2/stocks/{symbol}/trades/latest.
type LatestTradeResponse struct {
	Symbol string `json:"symbol"`
	Trade  struct {
		T time.Time `json:"t"`
		P float64   `json:"p"`
		S float64   `json:"s"`
	} `json:"trade"`
}

func parseDecimal(field, s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	f, _ := d.Float64()
	return f, nil
}

// formatPrice renders a limit/stop price with the precision Alpaca accepts:
// cents at or above $1, four decimals below.
func formatPrice(p float64) string {
	d := decimal.NewFromFloat(p)
	if d.LessThan(decimal.NewFromInt(1)) {
		return d.StringFixed(4)
	}
	return d.StringFixed(2)
}

func orderState(status string) broker.OrderState {
	switch status {
	case "filled":
		return broker.OrderFilled
	case "canceled", "done_for_day":
		return broker.OrderCanceled
	case "expired":
		return broker.OrderExpired
	case "rejected":
		return broker.OrderRejected
	default:
		return broker.OrderOpen
	}
}

func (o Order) status() (broker.OrderStatus, error) {
	st := broker.OrderStatus{OrderID: o.ID, State: orderState(o.Status), FilledAt: o.FilledAt}
	if o.FilledAvgPrice != nil && *o.FilledAvgPrice != "" {
		p, err := parseDecimal("filled_avg_price", *o.FilledAvgPrice)
		if err != nil {
			return st, err
		}
		st.FillPrice = &p
	}
	return st, nil
}

// timeframe renders a bar size in the API's notation, e.g. 1Hour or 15Min.
func timeframe(d time.Duration) (string, error) {
	switch {
	case d <= 0:
		return "", fmt.Errorf("invalid bar size %s", d)
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dDay", d/(24*time.Hour)), nil
	case d%time.Hour == 0:
		return fmt.Sprintf("%dHour", d/time.Hour), nil
	case d%time.Minute == 0:
		return fmt.Sprintf("%dMin", d/time.Minute), nil
	default:
		return "", fmt.Errorf("bar size %s is not a whole number of minutes", d)
	}
}
