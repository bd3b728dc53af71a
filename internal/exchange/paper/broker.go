// Package paper is an in-memory broker for dry runs and tests. Entries fill
// immediately at the current price; bracket legs fill when UpdatePrice
// crosses them.
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/your-org/adx-trend-bot/internal/broker"
	"github.com/your-org/adx-trend-bot/internal/ledger"
	"github.com/your-org/adx-trend-bot/internal/market"
	"github.com/your-org/adx-trend-bot/internal/position"
	"github.com/your-org/adx-trend-bot/pkg/logger"
)

// OrderKind is how a paper order triggers.
type OrderKind string

const (
	KindMarket OrderKind = "market"
	KindLimit  OrderKind = "limit"
	KindStop   OrderKind = "stop"
)

// Order is a paper order. Bracket legs carry their parent id.
type Order struct {
	ID            string
	ClientOrderID string
	ParentID      string
	Symbol        string
	Side          ledger.Side
	Kind          OrderKind
	Qty           float64
	Price         float64
	State         broker.OrderState
	FillPrice     *float64
	FilledAt      *time.Time
	SubmittedAt   time.Time
}

// Broker implements broker.Broker in memory.
type Broker struct {
	mu       sync.Mutex
	node     *snowflake.Node
	book     *position.Book
	cash     float64
	bars     map[string][]market.Bar
	prices   map[string]float64
	orders   map[string]*Order
	byClient map[string]string
	seq      []string
	open     bool
	now      func() time.Time
}

var _ broker.Broker = (*Broker)(nil)

// NewBroker creates a paper broker holding cash. The market starts open.
func NewBroker(cash float64) (*Broker, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &Broker{
		node:     node,
		book:     position.NewBook(),
		cash:     cash,
		bars:     make(map[string][]market.Bar),
		prices:   make(map[string]float64),
		orders:   make(map[string]*Order),
		byClient: make(map[string]string),
		open:     true,
		now:      time.Now,
	}, nil
}

// SetClock overrides the broker's notion of now.
func (b *Broker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// SetMarketOpen toggles what MarketIsOpen reports.
func (b *Broker) SetMarketOpen(open bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = open
}

// SetBars replaces symbol's bar history.
func (b *Broker) SetBars(symbol string, bars []market.Bar) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bars[symbol] = market.SortBars(append([]market.Bar(nil), bars...))
}

// LoadCSV reads symbol's bar history from a CSV file.
func (b *Broker) LoadCSV(symbol, path string) error {
	bars, err := market.ReadBarsCSVFile(path)
	if err != nil {
		return fmt.Errorf("load %s bars: %w", symbol, err)
	}
	b.SetBars(symbol, bars)
	logger.Infof("[Paper] Loaded %d bars for %s from %s", len(bars), symbol, path)
	return nil
}

// UpdatePrice sets the last trade price of symbol and triggers any bracket
// legs it crosses. Stops are checked before take-profits.
func (b *Broker) UpdatePrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price

	for _, kind := range []OrderKind{KindStop, KindLimit} {
		for _, id := range b.seq {
			o := b.orders[id]
			if o.Symbol != symbol || o.State != broker.OrderOpen || o.Kind != kind {
				continue
			}
			hit := (kind == KindStop && price <= o.Price) || (kind == KindLimit && price >= o.Price)
			if !hit {
				continue
			}
			b.fill(o, price)
			b.cancelSiblings(o)
		}
	}
}

func (b *Broker) cancelSiblings(o *Order) {
	if o.ParentID == "" {
		return
	}
	for _, id := range b.seq {
		s := b.orders[id]
		if s.ID != o.ID && s.ParentID == o.ParentID && s.State == broker.OrderOpen {
			s.State = broker.OrderCanceled
		}
	}
}

func (b *Broker) fill(o *Order, price float64) {
	now := b.now().UTC()
	qty := o.Qty
	if o.Side == ledger.SideSell {
		qty = -qty
	}
	b.book.Apply(o.Symbol, qty, price)
	b.cash -= qty * price
	o.State = broker.OrderFilled
	o.FillPrice = &price
	o.FilledAt = &now
}

func (b *Broker) priceLocked(symbol string) (float64, bool) {
	if p, ok := b.prices[symbol]; ok && p > 0 {
		return p, true
	}
	bars := b.bars[symbol]
	now := b.now()
	for i := len(bars) - 1; i >= 0; i-- {
		if !bars[i].Time.After(now) {
			return bars[i].Close, bars[i].Close > 0
		}
	}
	return 0, false
}

func (b *Broker) add(o *Order) {
	o.ID = b.node.Generate().String()
	o.SubmittedAt = b.now().UTC()
	o.State = broker.OrderOpen
	b.orders[o.ID] = o
	b.seq = append(b.seq, o.ID)
	if o.ClientOrderID != "" {
		b.byClient[o.ClientOrderID] = o.ID
	}
}

func (b *Broker) duplicate(clientOrderID string) (broker.OrderAck, bool) {
	if clientOrderID == "" {
		return broker.OrderAck{}, false
	}
	id, ok := b.byClient[clientOrderID]
	if !ok {
		return broker.OrderAck{}, false
	}
	o := b.orders[id]
	return broker.OrderAck{OrderID: o.ID, ClientOrderID: o.ClientOrderID, SubmittedAt: o.SubmittedAt}, true
}

// SubmitBracketOrder fills the entry at the current price and rests the
// take-profit and stop-loss legs.
func (b *Broker) SubmitBracketOrder(ctx context.Context, req broker.BracketOrderRequest) (broker.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return broker.OrderAck{}, fmt.Errorf("paper submit: %w: %w", broker.ErrTransient, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if ack, dup := b.duplicate(req.ClientOrderID); dup {
		return ack, fmt.Errorf("paper submit %s: %w", req.ClientOrderID, broker.ErrDuplicateOrder)
	}
	if req.Qty <= 0 {
		return broker.OrderAck{}, fmt.Errorf("paper submit: qty %d: %w", req.Qty, broker.ErrRejected)
	}
	if req.Side != ledger.SideBuy {
		return broker.OrderAck{}, fmt.Errorf("paper submit: side %q: %w", req.Side, broker.ErrRejected)
	}
	price, ok := b.priceLocked(req.Symbol)
	if !ok {
		return broker.OrderAck{}, fmt.Errorf("paper submit: no price for %s: %w", req.Symbol, broker.ErrRejected)
	}
	qty := float64(req.Qty)
	if qty*price > b.cash {
		return broker.OrderAck{}, fmt.Errorf("paper submit: insufficient cash %.2f for %s: %w", b.cash, req.Symbol, broker.ErrRejected)
	}

	parent := &Order{ClientOrderID: req.ClientOrderID, Symbol: req.Symbol, Side: ledger.SideBuy, Kind: KindMarket, Qty: qty, Price: price}
	b.add(parent)
	b.fill(parent, price)

	b.add(&Order{ParentID: parent.ID, Symbol: req.Symbol, Side: ledger.SideSell, Kind: KindLimit, Qty: qty, Price: req.TakeProfitPrice})
	b.add(&Order{ParentID: parent.ID, Symbol: req.Symbol, Side: ledger.SideSell, Kind: KindStop, Qty: qty, Price: req.StopLossPrice})

	return broker.OrderAck{OrderID: parent.ID, ClientOrderID: parent.ClientOrderID, SubmittedAt: parent.SubmittedAt}, nil
}

// ClosePosition cancels symbol's open orders and sells the position at the
// current price.
func (b *Broker) ClosePosition(ctx context.Context, req broker.CloseRequest) (broker.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return broker.OrderAck{}, fmt.Errorf("paper close: %w: %w", broker.ErrTransient, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if ack, dup := b.duplicate(req.ClientOrderID); dup {
		return ack, fmt.Errorf("paper close %s: %w", req.ClientOrderID, broker.ErrDuplicateOrder)
	}
	pos, held := b.book.Get(req.Symbol)
	if !held {
		return broker.OrderAck{}, fmt.Errorf("paper close: no position in %s: %w", req.Symbol, broker.ErrRejected)
	}
	price, ok := b.priceLocked(req.Symbol)
	if !ok {
		return broker.OrderAck{}, fmt.Errorf("paper close: no price for %s: %w", req.Symbol, broker.ErrRejected)
	}
	for _, id := range b.seq {
		o := b.orders[id]
		if o.Symbol == req.Symbol && o.State == broker.OrderOpen {
			o.State = broker.OrderCanceled
		}
	}
	qty := pos.Qty
	if req.Qty > 0 && req.Qty < qty {
		qty = req.Qty
	}
	o := &Order{ClientOrderID: req.ClientOrderID, Symbol: req.Symbol, Side: ledger.SideSell, Kind: KindMarket, Qty: qty, Price: price}
	b.add(o)
	b.fill(o, price)
	return broker.OrderAck{OrderID: o.ID, ClientOrderID: o.ClientOrderID, SubmittedAt: o.SubmittedAt}, nil
}

// GetPosition returns nil when symbol is flat.
func (b *Broker) GetPosition(_ context.Context, symbol string) (*broker.Position, error) {
	pos, held := b.book.Get(symbol)
	if !held {
		return nil, nil
	}
	return &broker.Position{Symbol: symbol, Qty: pos.Qty, AvgEntryPrice: pos.AvgEntryPrice}, nil
}

// HasOpenOrder reports any resting order for symbol.
func (b *Broker) HasOpenOrder(_ context.Context, symbol string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range b.orders {
		if o.Symbol == symbol && o.State == broker.OrderOpen {
			return true, nil
		}
	}
	return false, nil
}

// GetBars returns the stored bars starting inside the trailing
// lookback*barSize window. Bars are served at their stored resolution.
func (b *Broker) GetBars(ctx context.Context, symbol string, barSize time.Duration, lookback int) ([]market.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("paper bars: %w: %w", broker.ErrTransient, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	start := now.Add(-time.Duration(lookback) * barSize)
	var out []market.Bar
	for _, bar := range b.bars[symbol] {
		if bar.Time.Before(start) || bar.Time.After(now) {
			continue
		}
		out = append(out, bar)
	}
	return out, nil
}

// LatestPrice returns the last UpdatePrice value, else the latest bar close.
func (b *Broker) LatestPrice(_ context.Context, symbol string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.priceLocked(symbol)
	if !ok {
		return 0, fmt.Errorf("paper price for %s: %w", symbol, market.ErrDataUnavailable)
	}
	return p, nil
}

// GetOrderStatus reports an order's state.
func (b *Broker) GetOrderStatus(_ context.Context, orderID string) (broker.OrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return broker.OrderStatus{}, fmt.Errorf("paper order %s: %w", orderID, broker.ErrNotFound)
	}
	return broker.OrderStatus{OrderID: o.ID, State: o.State, FillPrice: o.FillPrice, FilledAt: o.FilledAt}, nil
}

// Cancel cancels a resting order.
func (b *Broker) Cancel(orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("paper order %s: %w", orderID, broker.ErrNotFound)
	}
	if o.State == broker.OrderOpen {
		o.State = broker.OrderCanceled
	}
	return nil
}

// GetAccount values open positions at the current price.
func (b *Broker) GetAccount(_ context.Context) (broker.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	equity := b.cash
	for _, p := range b.book.Open() {
		price, ok := b.priceLocked(p.Symbol)
		if !ok {
			price = p.AvgEntryPrice
		}
		equity += p.Qty * price
	}
	return broker.Account{Equity: equity, Cash: b.cash}, nil
}

// MarketIsOpen reports the flag set by SetMarketOpen.
func (b *Broker) MarketIsOpen(_ context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open, nil
}

// Orders returns every order for symbol, oldest first. An empty symbol
// returns all orders.
func (b *Broker) Orders(symbol string) []Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Order
	for _, id := range b.seq {
		o := b.orders[id]
		if symbol == "" || o.Symbol == symbol {
			out = append(out, *o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}
