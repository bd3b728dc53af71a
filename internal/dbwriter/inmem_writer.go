package dbwriter

import (
	"context"
	"sync"
)

// InMemWriter is an in-memory implementation of the DBWriter interface for testing.
type InMemWriter struct {
	mu       sync.RWMutex
	Signals  []SignalEvaluation
	Equity   []EquitySnapshot
	IsClosed bool
}

var _ DBWriter = (*InMemWriter)(nil)

// NewInMemWriter creates a new InMemWriter.
func NewInMemWriter() *InMemWriter {
	return &InMemWriter{}
}

// SaveSignalEvaluation appends a signal row.
func (w *InMemWriter) SaveSignalEvaluation(ev SignalEvaluation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Signals = append(w.Signals, ev)
}

// SaveEquitySnapshot appends an equity row.
func (w *InMemWriter) SaveEquitySnapshot(s EquitySnapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Equity = append(w.Equity, s)
}

// Flush does nothing; rows are visible immediately.
func (w *InMemWriter) Flush(context.Context) {}

// SignalsFor returns a copy of the rows written for symbol.
func (w *InMemWriter) SignalsFor(symbol string) []SignalEvaluation {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []SignalEvaluation
	for _, s := range w.Signals {
		if s.Symbol == symbol {
			out = append(out, s)
		}
	}
	return out
}

// EquitySnapshots returns a copy of the equity rows.
func (w *InMemWriter) EquitySnapshots() []EquitySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]EquitySnapshot(nil), w.Equity...)
}

// Close marks the writer as closed.
func (w *InMemWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.IsClosed = true
}

// Clear resets all the in-memory slices.
func (w *InMemWriter) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Signals = nil
	w.Equity = nil
	w.IsClosed = false
}
