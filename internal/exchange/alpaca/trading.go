package alpaca

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/your-org/adx-trend-bot/internal/broker"
	"github.com/your-org/adx-trend-bot/pkg/logger"
)

// GetAccount retrieves equity and cash.
func (c *Client) GetAccount(ctx context.Context) (broker.Account, error) {
	var resp AccountResponse
	if err := c.trading(ctx, http.MethodGet, "/v2/account", nil, nil, &resp); err != nil {
		return broker.Account{}, err
	}
	equity, err := parseDecimal("equity", resp.Equity)
	if err != nil {
		return broker.Account{}, err
	}
	cash, err := parseDecimal("cash", resp.Cash)
	if err != nil {
		return broker.Account{}, err
	}
	return broker.Account{Equity: equity, Cash: cash}, nil
}

// GetPosition returns nil when the symbol is not held.
func (c *Client) GetPosition(ctx context.Context, symbol string) (*broker.Position, error) {
	var resp PositionResponse
	err := c.trading(ctx, http.MethodGet, "/v2/positions/"+url.PathEscape(symbol), nil, nil, &resp)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	qty, err := parseDecimal("qty", resp.Qty)
	if err != nil {
		return nil, err
	}
	if qty == 0 {
		return nil, nil
	}
	avg, err := parseDecimal("avg_entry_price", resp.AvgEntryPrice)
	if err != nil {
		return nil, err
	}
	return &broker.Position{Symbol: resp.Symbol, Qty: qty, AvgEntryPrice: avg}, nil
}

func (c *Client) openOrders(ctx context.Context, symbol string) ([]Order, error) {
	q := url.Values{}
	q.Set("status", "open")
	q.Set("symbols", symbol)
	q.Set("nested", "false")
	var orders []Order
	if err := c.trading(ctx, http.MethodGet, "/v2/orders", q, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// HasOpenOrder reports any unfilled order for symbol, bracket legs included.
func (c *Client) HasOpenOrder(ctx context.Context, symbol string) (bool, error) {
	orders, err := c.openOrders(ctx, symbol)
	if err != nil {
		return false, err
	}
	return len(orders) > 0, nil
}

// SubmitBracketOrder places a market entry with take-profit and stop-loss
// legs. A duplicate client order id returns the existing order's ack
// together with broker.ErrDuplicateOrder.
func (c *Client) SubmitBracketOrder(ctx context.Context, req broker.BracketOrderRequest) (broker.OrderAck, error) {
	body := OrderRequest{
		Symbol:        req.Symbol,
		Qty:           strconv.FormatInt(req.Qty, 10),
		Side:          string(req.Side),
		Type:          "market",
		TimeInForce:   "gtc",
		OrderClass:    "bracket",
		TakeProfit:    &TakeProfit{LimitPrice: formatPrice(req.TakeProfitPrice)},
		StopLoss:      &StopLoss{StopPrice: formatPrice(req.StopLossPrice)},
		ClientOrderID: req.ClientOrderID,
	}
	return c.submit(ctx, body)
}

// ClosePosition cancels the symbol's open orders, waits for the cancels to
// settle, then sells the full quantity at market.
func (c *Client) ClosePosition(ctx context.Context, req broker.CloseRequest) (broker.OrderAck, error) {
	orders, err := c.openOrders(ctx, req.Symbol)
	if err != nil {
		return broker.OrderAck{}, err
	}
	for _, o := range orders {
		err := c.trading(ctx, http.MethodDelete, "/v2/orders/"+url.PathEscape(o.ID), nil, nil, nil)
		if err != nil && !IsNotFound(err) {
			return broker.OrderAck{}, fmt.Errorf("cancel leg %s of %s: %w", o.ID, req.Symbol, err)
		}
	}
	if len(orders) > 0 {
		if err := c.waitNoOpenOrders(ctx, req.Symbol); err != nil {
			return broker.OrderAck{}, err
		}
	}

	body := OrderRequest{
		Symbol:        req.Symbol,
		Qty:           strconv.FormatFloat(req.Qty, 'f', -1, 64),
		Side:          "sell",
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: req.ClientOrderID,
	}
	return c.submit(ctx, body)
}

func (c *Client) waitNoOpenOrders(ctx context.Context, symbol string) error {
	deadline := time.NewTimer(c.cancelSettle)
	defer deadline.Stop()
	tick := time.NewTicker(c.cancelSettle / 10)
	defer tick.Stop()
	for {
		open, err := c.HasOpenOrder(ctx, symbol)
		if err != nil {
			return err
		}
		if !open {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s cancels: %w: %w", symbol, broker.ErrTransient, ctx.Err())
		case <-deadline.C:
			return fmt.Errorf("open orders for %s still pending cancel: %w", symbol, broker.ErrTransient)
		case <-tick.C:
		}
	}
}

func (c *Client) submit(ctx context.Context, body OrderRequest) (broker.OrderAck, error) {
	var o Order
	err := c.trading(ctx, http.MethodPost, "/v2/orders", nil, body, &o)
	if errors.Is(err, broker.ErrDuplicateOrder) {
		existing, lookupErr := c.orderByClientID(ctx, body.ClientOrderID)
		if lookupErr != nil {
			logger.Warnf("[Alpaca] duplicate %s but lookup failed: %v", body.ClientOrderID, lookupErr)
			return broker.OrderAck{ClientOrderID: body.ClientOrderID}, err
		}
		return ack(existing), err
	}
	if err != nil {
		return broker.OrderAck{}, err
	}
	return ack(o), nil
}

func (c *Client) orderByClientID(ctx context.Context, clientOrderID string) (Order, error) {
	q := url.Values{}
	q.Set("client_order_id", clientOrderID)
	var o Order
	err := c.trading(ctx, http.MethodGet, "/v2/orders:by_client_order_id", q, nil, &o)
	return o, err
}

func ack(o Order) broker.OrderAck {
	return broker.OrderAck{OrderID: o.ID, ClientOrderID: o.ClientOrderID, SubmittedAt: o.SubmittedAt}
}

// GetOrderStatus retrieves the order's lifecycle state and fill.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (broker.OrderStatus, error) {
	var o Order
	if err := c.trading(ctx, http.MethodGet, "/v2/orders/"+url.PathEscape(orderID), nil, nil, &o); err != nil {
		return broker.OrderStatus{}, err
	}
	return o.status()
}

// MarketIsOpen reads the exchange clock.
func (c *Client) MarketIsOpen(ctx context.Context) (bool, error) {
	var clock ClockResponse
	if err := c.trading(ctx, http.MethodGet, "/v2/clock", nil, nil, &clock); err != nil {
		return false, err
	}
	return clock.IsOpen, nil
}
