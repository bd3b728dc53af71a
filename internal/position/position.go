// Package position keeps per-symbol holdings for the paper broker.
package position

import (
	"fmt"
	"sort"
	"sync"
)

// Position is the holding of one symbol.
type Position struct {
	Symbol        string
	Qty           float64
	AvgEntryPrice float64
	RealizedPnL   float64
}

// apply books a fill and returns the realized PnL of the closed quantity.
// Buys are positive qty, sells negative.
func (p *Position) apply(qty, price float64) float64 {
	if p.Qty == 0 {
		p.Qty = qty
		p.AvgEntryPrice = price
		return 0
	}

	// Same direction: average in.
	if (p.Qty > 0) == (qty > 0) {
		newQty := p.Qty + qty
		p.AvgEntryPrice = (p.Qty*p.AvgEntryPrice + qty*price) / newQty
		p.Qty = newQty
		return 0
	}

	closed := min(abs(qty), abs(p.Qty))
	realized := (price - p.AvgEntryPrice) * closed
	if p.Qty < 0 {
		realized = -realized
	}
	p.RealizedPnL += realized

	remaining := p.Qty + qty
	switch {
	case remaining == 0:
		p.AvgEntryPrice = 0
	case (remaining > 0) != (p.Qty > 0):
		// Flipped through zero: the excess opens at the fill price.
		p.AvgEntryPrice = price
	}
	p.Qty = remaining
	return realized
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func (p Position) String() string {
	return fmt.Sprintf("Position{Symbol: %s, Qty: %.4f, AvgEntryPrice: %.2f}", p.Symbol, p.Qty, p.AvgEntryPrice)
}

// Book is a concurrency-safe set of positions keyed by symbol.
type Book struct {
	mu        sync.RWMutex
	positions map[string]*Position
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{positions: make(map[string]*Position)}
}

// Apply books a fill for symbol and returns the realized PnL.
func (b *Book) Apply(symbol string, qty, price float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[symbol]
	if !ok {
		p = &Position{Symbol: symbol}
		b.positions[symbol] = p
	}
	return p.apply(qty, price)
}

// Get returns a copy of symbol's position and whether it is non-zero.
func (b *Book) Get(symbol string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[symbol]
	if !ok || p.Qty == 0 {
		return Position{Symbol: symbol}, false
	}
	return *p, true
}

// Open returns every non-zero position sorted by symbol.
func (b *Book) Open() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		if p.Qty != 0 {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
