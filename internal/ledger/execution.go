// Package ledger defines the durable record of every order the engine submits.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a ledger row.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusFilled   Status = "FILLED"
	StatusCanceled Status = "CANCELED"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Intent distinguishes the two kinds of order the engine can place per bar.
type Intent string

const (
	IntentEntry Intent = "entry"
	IntentExit  Intent = "exit"
)

// Execution is one row of the trade_execution table.
type Execution struct {
	OrderID         string     `json:"order_id"`
	DedupeKey       string     `json:"dedupe_key"`
	Symbol          string     `json:"symbol"`
	Side            Side       `json:"side"`
	Qty             float64    `json:"qty"`
	OrderType       string     `json:"order_type"`
	SnapshotPrice   float64    `json:"snapshot_price"`
	SubmitLatencyMs float64    `json:"submit_latency_ms"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	Status          Status     `json:"status"`
	FillPrice       *float64   `json:"fill_price,omitempty"`
	FilledAt        *time.Time `json:"filled_at,omitempty"`
	SlippagePct     *float64   `json:"slippage_pct,omitempty"`
	FillLatencyMs   *float64   `json:"fill_latency_ms,omitempty"`
}

// Fill carries what the reconciler learned about a filled order.
type Fill struct {
	Price       float64
	FilledAt    time.Time
	SlippagePct *float64
	LatencyMs   *float64
}

// NewFill derives slippage and fill latency for e.
func NewFill(e Execution, price float64, filledAt time.Time) Fill {
	f := Fill{Price: price, FilledAt: filledAt, SlippagePct: Slippage(e.Side, e.SnapshotPrice, price)}
	if !e.SubmittedAt.IsZero() && !filledAt.IsZero() {
		ms := float64(filledAt.Sub(e.SubmittedAt)) / float64(time.Millisecond)
		f.LatencyMs = &ms
	}
	return f
}

// Slippage is the signed relative difference between the fill and the
// price observed at submission. Positive is always worse for us: a buy that
// filled higher, or a sell that filled lower. Nil when snapshot is unknown.
func Slippage(side Side, snapshot, fill float64) *float64 {
	if snapshot <= 0 {
		return nil
	}
	s := (fill - snapshot) / snapshot
	if side == SideSell {
		s = -s
	}
	return &s
}

var dedupeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/your-org/adx-trend-bot/dedupe"))

// DedupeKey is deterministic in (intent, symbol, bar timestamp), so repeated
// attempts on the same confirmed bar carry the same client order id.
func DedupeKey(intent Intent, symbol string, bar time.Time) string {
	name := fmt.Sprintf("%s|%s|%d", intent, symbol, bar.Unix())
	return uuid.NewSHA1(dedupeNamespace, []byte(name)).String()
}
