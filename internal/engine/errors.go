package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/your-org/adx-trend-bot/internal/broker"
	"github.com/your-org/adx-trend-bot/internal/ledger"
	"github.com/your-org/adx-trend-bot/internal/market"
)

// Kind is the class of a per-instrument failure.
type Kind int

const (
	KindNone Kind = iota
	KindDataUnavailable
	KindBrokerTransient
	KindBrokerRejection
	KindDuplicateSubmission
	KindInternal
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindDataUnavailable:
		return "data_unavailable"
	case KindBrokerTransient:
		return "broker_transient"
	case KindBrokerRejection:
		return "broker_rejection"
	case KindDuplicateSubmission:
		return "duplicate_submission"
	default:
		return "internal"
	}
}

// Retryable reports whether the same decision should be attempted again on
// the next tick.
func (k Kind) Retryable() bool {
	return k == KindBrokerTransient || k == KindDataUnavailable
}

// Classify maps err onto the failure taxonomy.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, broker.ErrDuplicateOrder):
		return KindDuplicateSubmission
	case errors.Is(err, broker.ErrRejected):
		return KindBrokerRejection
	case errors.Is(err, broker.ErrTransient),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindBrokerTransient
	case errors.Is(err, market.ErrDataUnavailable):
		return KindDataUnavailable
	default:
		return KindInternal
	}
}

// submitError is a failed order submission. Whether the bar is attempted
// again depends on the Kind of the wrapped error.
type submitError struct {
	intent ledger.Intent
	err    error
}

func (e *submitError) Error() string { return fmt.Sprintf("submit %s: %v", e.intent, e.err) }

func (e *submitError) Unwrap() error { return e.err }
