// Package backtest replays the trend rule over historical bars.
//
// Decisions for bar i use bar i-1's indicators and execute at bar i's open,
// so a bar's own high, low and close never influence its decision.
package backtest

import (
	"errors"
	"math"
	"time"

	"github.com/your-org/adx-trend-bot/internal/indicator"
	"github.com/your-org/adx-trend-bot/internal/market"
	"github.com/your-org/adx-trend-bot/internal/signal"
	"github.com/your-org/adx-trend-bot/internal/strategy"
)

// ErrNotEnoughData is returned for series too short to produce any decision.
var ErrNotEnoughData = errors.New("backtest: not enough data")

// ExitReason records which rule closed a trade.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitPanicRSI   ExitReason = "panic_rsi"
	ExitEndOfData  ExitReason = "end_of_data"
)

// Config holds the simulation settings that are not tuned.
type Config struct {
	InitialBalance float64
	PanicRSI       float64
	// SlippagePct is charged against every fill: entries pay more, exits
	// receive less.
	SlippagePct float64
}

// DefaultConfig is a 10,000 balance, panic RSI 30, frictionless fills.
func DefaultConfig() Config {
	return Config{InitialBalance: 10000, PanicRSI: signal.DefaultPanicRSI}
}

// Frame is a bar series with the previous bar's indicators aligned to each
// index.
type Frame struct {
	Bars    []market.Bar
	PrevADX []float64
	PrevRSI []float64
}

// Len is the number of bars.
func (f Frame) Len() int { return len(f.Bars) }

func (f Frame) snapshot(i int) signal.Snapshot {
	return signal.Snapshot{ADX: f.PrevADX[i], RSI: f.PrevRSI[i]}
}

// Prepare computes indicators over bars and shifts them one bar forward.
func Prepare(bars []market.Bar, p indicator.Periods) (Frame, error) {
	if len(bars) < p.Lookback() {
		return Frame{}, ErrNotEnoughData
	}
	s := indicator.Compute(bars, p)
	f := Frame{
		Bars:    bars,
		PrevADX: make([]float64, len(bars)),
		PrevRSI: make([]float64, len(bars)),
	}
	f.PrevADX[0], f.PrevRSI[0] = math.NaN(), math.NaN()
	usable := false
	for i := 1; i < len(bars); i++ {
		f.PrevADX[i] = s.ADX[i-1]
		f.PrevRSI[i] = s.RSI[i-1]
		if f.snapshot(i).Defined() {
			usable = true
		}
	}
	if !usable {
		return Frame{}, ErrNotEnoughData
	}
	return f, nil
}

// Trade is one completed round trip.
type Trade struct {
	EntryIndex int
	ExitIndex  int
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	Size       float64
	Reason     ExitReason
}

// Return is the fractional gain of the trade.
func (t Trade) Return() float64 {
	return t.ExitPrice/t.EntryPrice - 1
}

// Result is the outcome of one simulation.
type Result struct {
	Params       strategy.Parameters
	Score        float64
	FinalBalance float64
	Trades       []Trade
}

// Run simulates one long-only, fully invested position at a time.
func Run(p strategy.Parameters, f Frame, cfg Config) (Result, error) {
	if f.Len() == 0 || len(f.PrevADX) != f.Len() || len(f.PrevRSI) != f.Len() {
		return Result{Params: p}, ErrNotEnoughData
	}
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = DefaultConfig().InitialBalance
	}
	if cfg.PanicRSI == 0 {
		cfg.PanicRSI = signal.DefaultPanicRSI
	}

	balance := cfg.InitialBalance
	res := Result{Params: p}

	var (
		open      bool
		cur       Trade
		stopPrice float64
		tpPrice   float64
	)
	closeTrade := func(i int, price float64, reason ExitReason) {
		if reason != ExitEndOfData {
			price *= 1 - cfg.SlippagePct
		}
		cur.ExitIndex = i
		cur.ExitTime = f.Bars[i].Time
		cur.ExitPrice = price
		cur.Reason = reason
		balance = cur.Size * price
		res.Trades = append(res.Trades, cur)
		open = false
	}

	for i, bar := range f.Bars {
		if !open {
			if signal.Entry(p, f.snapshot(i)) && bar.Open > 0 {
				entry := bar.Open * (1 + cfg.SlippagePct)
				cur = Trade{
					EntryIndex: i,
					EntryTime:  bar.Time,
					EntryPrice: entry,
					Size:       balance / entry,
				}
				stopPrice = entry * (1 - p.StopLossPct)
				tpPrice = entry * (1 + p.TakeProfitPct)
				open = true
			}
			continue
		}

		// Stop is checked first: when both levels sit inside one bar the
		// intra-bar order is unknown and the loss is assumed.
		switch {
		case bar.Low <= stopPrice:
			closeTrade(i, math.Min(bar.Open, stopPrice), ExitStopLoss)
		case bar.High >= tpPrice:
			closeTrade(i, math.Max(bar.Open, tpPrice), ExitTakeProfit)
		case signal.PanicExit(f.PrevRSI[i], cfg.PanicRSI):
			closeTrade(i, bar.Open, ExitPanicRSI)
		}
	}

	if open {
		closeTrade(f.Len()-1, f.Bars[f.Len()-1].Close, ExitEndOfData)
	}

	res.FinalBalance = balance
	res.Score = (balance - cfg.InitialBalance) / cfg.InitialBalance
	return res, nil
}

// Simulate prepares the frame and runs p over it.
func Simulate(p strategy.Parameters, bars []market.Bar, periods indicator.Periods, cfg Config) (Result, error) {
	f, err := Prepare(bars, periods)
	if err != nil {
		return Result{Params: p}, err
	}
	return Run(p, f, cfg)
}
