package signal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/adx-trend-bot/internal/strategy"
)

var params = strategy.Parameters{ADXEntryThreshold: 25, RSIEntryThreshold: 55, TakeProfitPct: 0.2, StopLossPct: 0.05}

func TestEntry(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		want bool
	}{
		{"both above", Snapshot{ADX: 30, RSI: 60}, true},
		{"thresholds are strict", Snapshot{ADX: 25, RSI: 60}, false},
		{"rsi at threshold", Snapshot{ADX: 30, RSI: 55}, false},
		{"weak trend", Snapshot{ADX: 10, RSI: 90}, false},
		{"undefined adx", Snapshot{ADX: math.NaN(), RSI: 90}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Entry(params, tt.snap))
		})
	}
}

func TestPanicExit(t *testing.T) {
	assert.True(t, PanicExit(29.9, DefaultPanicRSI))
	assert.False(t, PanicExit(30, DefaultPanicRSI))
	assert.False(t, PanicExit(math.NaN(), DefaultPanicRSI))
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		st   State
		want Decision
	}{
		{"flat breakout", State{Parameters: params, PanicRSI: 30, IndicatorsAt: Snapshot{ADX: 40, RSI: 70}}, DecisionEnter},
		{"flat quiet", State{Parameters: params, PanicRSI: 30, IndicatorsAt: Snapshot{ADX: 10, RSI: 40}}, DecisionNone},
		{"pending entry", State{OpenOrder: true, Parameters: params, PanicRSI: 30, IndicatorsAt: Snapshot{ADX: 40, RSI: 70}}, DecisionPending},
		{"holding collapse", State{Holding: true, Parameters: params, PanicRSI: 30, IndicatorsAt: Snapshot{ADX: 40, RSI: 20}}, DecisionPanicExit},
		{"holding healthy", State{Holding: true, Parameters: params, PanicRSI: 30, IndicatorsAt: Snapshot{ADX: 40, RSI: 50}}, DecisionHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.st)
			assert.Equal(t, tt.want, got)
			assert.NotEqual(t, "unknown", got.String())
		})
	}
}
