// Package signal provides the entry and exit predicates of the trend rule.
// The simulator and the live engine share these so both trade the same rule.
package signal

import (
	"github.com/your-org/adx-trend-bot/internal/indicator"
	"github.com/your-org/adx-trend-bot/internal/strategy"
)

// DefaultPanicRSI is the momentum floor below which a held position is dumped.
const DefaultPanicRSI = 30.0

// Decision is the outcome of evaluating one confirmed bar.
type Decision int

const (
	// DecisionNone means nothing to do.
	DecisionNone Decision = iota
	// DecisionEnter opens a long position.
	DecisionEnter
	// DecisionPanicExit liquidates a held position.
	DecisionPanicExit
	// DecisionHold keeps a held position; bracket legs manage the exit.
	DecisionHold
	// DecisionPending waits on an unfilled entry order.
	DecisionPending
)

// String returns the label used in logs, metrics and the signal log.
func (d Decision) String() string {
	switch d {
	case DecisionNone:
		return "none"
	case DecisionEnter:
		return "enter"
	case DecisionPanicExit:
		return "panic_exit"
	case DecisionHold:
		return "hold"
	case DecisionPending:
		return "pending"
	default:
		return "unknown"
	}
}

// Snapshot is the indicator state of one bar.
type Snapshot struct {
	ADX float64
	RSI float64
}

// Defined reports whether both values can be traded on.
func (s Snapshot) Defined() bool {
	return indicator.Defined(s.ADX) && indicator.Defined(s.RSI)
}

// Entry reports a trend-with-momentum breakout: ADX and RSI both strictly
// above their thresholds.
func Entry(p strategy.Parameters, s Snapshot) bool {
	return s.Defined() &&
		s.ADX > float64(p.ADXEntryThreshold) &&
		s.RSI > float64(p.RSIEntryThreshold)
}

// PanicExit reports a momentum collapse.
func PanicExit(rsi, threshold float64) bool {
	return indicator.Defined(rsi) && rsi < threshold
}

// State is what the broker says about a symbol.
type State struct {
	Holding      bool
	OpenOrder    bool
	PanicRSI     float64
	Parameters   strategy.Parameters
	IndicatorsAt Snapshot
}

// Evaluate decides what to do for one confirmed bar.
func Evaluate(st State) Decision {
	switch {
	case st.Holding:
		if PanicExit(st.IndicatorsAt.RSI, st.PanicRSI) {
			return DecisionPanicExit
		}
		return DecisionHold
	case st.OpenOrder:
		return DecisionPending
	case Entry(st.Parameters, st.IndicatorsAt):
		return DecisionEnter
	default:
		return DecisionNone
	}
}
