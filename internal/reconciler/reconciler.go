// Package reconciler moves ledger rows out of NEW once the broker reports
// their outcome.
package reconciler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/your-org/adx-trend-bot/internal/broker"
	"github.com/your-org/adx-trend-bot/internal/ledger"
	"github.com/your-org/adx-trend-bot/internal/metrics"
	"github.com/your-org/adx-trend-bot/pkg/logger"
)

// Store is the part of the ledger the reconciler mutates.
type Store interface {
	PendingExecutions(ctx context.Context) ([]ledger.Execution, error)
	MarkFilled(ctx context.Context, orderID string, fill ledger.Fill) (bool, error)
	MarkTerminal(ctx context.Context, orderID string, status ledger.Status) (bool, error)
}

// Summary counts one reconciliation pass.
type Summary struct {
	Checked  int
	Filled   int
	Canceled int
	Expired  int
	Rejected int
	Pending  int
	Errors   int
	// MeanAbsSlippagePct is over the fills of this pass that carry a
	// slippage value; zero when there are none.
	MeanAbsSlippagePct float64
}

// Reconciler polls the broker for every NEW ledger row.
type Reconciler struct {
	broker      broker.OrderStatusReader
	store       Store
	callTimeout time.Duration
	now         func() time.Time
}

// New creates a Reconciler.
func New(b broker.OrderStatusReader, store Store, callTimeout time.Duration) *Reconciler {
	return &Reconciler{broker: b, store: store, callTimeout: callTimeout, now: time.Now}
}

// Reconcile checks every NEW row once. A failure on one order is logged and
// counted and the rest continue; only failing to list the pending rows is
// returned.
func (r *Reconciler) Reconcile(ctx context.Context) (Summary, error) {
	var sum Summary
	pending, err := r.store.PendingExecutions(ctx)
	if err != nil {
		return sum, fmt.Errorf("list pending executions: %w", err)
	}

	var slipTotal float64
	var slipN int
	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("reconcile interrupted at %s: %w", e.OrderID, err)
		}
		sum.Checked++
		status, slip, err := r.reconcileOne(ctx, e)
		if err != nil {
			sum.Errors++
			metrics.IncInstrumentError("reconcile")
			logger.Errorf("[Reconciler] %s %s: %v", e.Symbol, e.OrderID, err)
			continue
		}
		switch status {
		case ledger.StatusFilled:
			sum.Filled++
			if slip != nil {
				slipTotal += math.Abs(*slip)
				slipN++
			}
		case ledger.StatusCanceled:
			sum.Canceled++
		case ledger.StatusExpired:
			sum.Expired++
		case ledger.StatusRejected:
			sum.Rejected++
		default:
			sum.Pending++
		}
	}
	if slipN > 0 {
		sum.MeanAbsSlippagePct = slipTotal / float64(slipN)
	}
	if sum.Checked > sum.Pending {
		logger.Infof("[Reconciler] %d checked: %d filled, %d canceled, %d expired, %d rejected, %d pending, %d errors; mean |slippage| %.4f%%",
			sum.Checked, sum.Filled, sum.Canceled, sum.Expired, sum.Rejected, sum.Pending, sum.Errors, sum.MeanAbsSlippagePct*100)
	}
	return sum, nil
}

// reconcileOne returns the status the row moved to, StatusNew when it
// stays, and the fill's slippage.
func (r *Reconciler) reconcileOne(ctx context.Context, e ledger.Execution) (ledger.Status, *float64, error) {
	callCtx, cancel := broker.WithTimeout(ctx, r.callTimeout)
	st, err := r.broker.GetOrderStatus(callCtx, e.OrderID)
	cancel()
	if err != nil {
		return "", nil, fmt.Errorf("order status: %w", err)
	}

	switch st.State {
	case broker.OrderFilled:
		if st.FillPrice == nil || *st.FillPrice <= 0 {
			logger.Warnf("[Reconciler] %s %s filled without a price, leaving NEW", e.Symbol, e.OrderID)
			return ledger.StatusNew, nil, nil
		}
		filledAt := r.now().UTC()
		if st.FilledAt != nil {
			filledAt = *st.FilledAt
		}
		fill := ledger.NewFill(e, *st.FillPrice, filledAt)
		changed, err := r.store.MarkFilled(ctx, e.OrderID, fill)
		if err != nil {
			return "", nil, fmt.Errorf("mark filled: %w", err)
		}
		if !changed {
			return ledger.StatusNew, nil, nil
		}
		metrics.IncReconciled(string(ledger.StatusFilled))
		if fill.SlippagePct != nil {
			metrics.ObserveSlippage(*fill.SlippagePct)
			logger.Infof("[Reconciler] %s %s %s filled at %.2f (snapshot %.2f, slippage %.4f%%)",
				e.Symbol, e.Side, e.OrderID, fill.Price, e.SnapshotPrice, *fill.SlippagePct*100)
		}
		return ledger.StatusFilled, fill.SlippagePct, nil

	case broker.OrderCanceled, broker.OrderExpired, broker.OrderRejected:
		status := terminal(st.State)
		changed, err := r.store.MarkTerminal(ctx, e.OrderID, status)
		if err != nil {
			return "", nil, fmt.Errorf("mark %s: %w", status, err)
		}
		if !changed {
			return ledger.StatusNew, nil, nil
		}
		metrics.IncReconciled(string(status))
		logger.Infof("[Reconciler] %s %s %s", e.Symbol, e.OrderID, status)
		return status, nil, nil

	default:
		return ledger.StatusNew, nil, nil
	}
}

func terminal(s broker.OrderState) ledger.Status {
	switch s {
	case broker.OrderCanceled:
		return ledger.StatusCanceled
	case broker.OrderExpired:
		return ledger.StatusExpired
	default:
		return ledger.StatusRejected
	}
}
