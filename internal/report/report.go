// Package report summarizes the execution ledger: how often orders filled,
// how far fills slipped from the submission snapshot, and the realized
// result of closed round trips.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/your-org/adx-trend-bot/internal/datastore"
	"github.com/your-org/adx-trend-bot/internal/ledger"
)

// ErrNoExecutions is returned when the window holds no ledger rows.
var ErrNoExecutions = errors.New("no executions to analyze")

// SymbolQuality is the per-symbol slice of a Report.
type SymbolQuality struct {
	Symbol          string  `json:"symbol"`
	Submitted       int     `json:"submitted"`
	Filled          int     `json:"filled"`
	MeanSlippagePct float64 `json:"mean_slippage_pct"`
}

// Report is the execution-quality summary of a window.
type Report struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`

	Submitted int     `json:"submitted"`
	Filled    int     `json:"filled"`
	Canceled  int     `json:"canceled"`
	Rejected  int     `json:"rejected"`
	Expired   int     `json:"expired"`
	Pending   int     `json:"pending"`
	FillRate  float64 `json:"fill_rate"`

	SlippageSamples     int     `json:"slippage_samples"`
	MeanSlippagePct     float64 `json:"mean_slippage_pct"`
	MeanAbsSlippagePct  float64 `json:"mean_abs_slippage_pct"`
	WorstSlippagePct    float64 `json:"worst_slippage_pct"`
	SlippageStdDevPct   float64 `json:"slippage_std_dev_pct"`
	MeanSubmitLatencyMs float64 `json:"mean_submit_latency_ms"`
	MeanFillLatencyMs   float64 `json:"mean_fill_latency_ms"`

	RoundTrips            int             `json:"round_trips"`
	WinningTrades         int             `json:"winning_trades"`
	LosingTrades          int             `json:"losing_trades"`
	WinRate               float64         `json:"win_rate"`
	RealizedPnL           decimal.Decimal `json:"realized_pnl"`
	ProfitFactor          float64         `json:"profit_factor"`
	MaxDrawdown           decimal.Decimal `json:"max_drawdown"`
	AverageHoldingSeconds float64         `json:"average_holding_seconds"`

	BySymbol []SymbolQuality `json:"by_symbol"`
}

// ExecutionLister reads ledger rows.
type ExecutionLister interface {
	ListExecutions(ctx context.Context, f datastore.ExecutionFilter) ([]ledger.Execution, error)
}

// Service builds reports from the ledger.
type Service struct {
	ledger ExecutionLister
}

// NewService creates a new report service.
func NewService(l ExecutionLister) *Service {
	return &Service{ledger: l}
}

// Generate reports on rows submitted in [since, until). Zero bounds are open.
func (s *Service) Generate(ctx context.Context, since, until time.Time) (Report, error) {
	rows, err := s.ledger.ListExecutions(ctx, datastore.ExecutionFilter{Since: since, Until: until})
	if err != nil {
		return Report{}, fmt.Errorf("list executions: %w", err)
	}
	return Analyze(rows)
}

// Analyze computes the report over execs in any order.
func Analyze(execs []ledger.Execution) (Report, error) {
	if len(execs) == 0 {
		return Report{}, ErrNoExecutions
	}
	rows := append([]ledger.Execution(nil), execs...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].SubmittedAt.Before(rows[j].SubmittedAt) })

	r := Report{
		StartDate: rows[0].SubmittedAt,
		EndDate:   rows[len(rows)-1].SubmittedAt,
		Submitted: len(rows),
	}

	var slips []float64
	var submitLatency, fillLatency []float64
	bySymbol := map[string]*symbolAcc{}
	for _, e := range rows {
		acc := bySymbol[e.Symbol]
		if acc == nil {
			acc = &symbolAcc{}
			bySymbol[e.Symbol] = acc
		}
		acc.submitted++
		submitLatency = append(submitLatency, e.SubmitLatencyMs)

		switch e.Status {
		case ledger.StatusFilled:
			r.Filled++
			acc.filled++
			if e.SlippagePct != nil {
				slips = append(slips, *e.SlippagePct)
				acc.slips = append(acc.slips, *e.SlippagePct)
			}
			if e.FillLatencyMs != nil {
				fillLatency = append(fillLatency, *e.FillLatencyMs)
			}
		case ledger.StatusCanceled:
			r.Canceled++
		case ledger.StatusRejected:
			r.Rejected++
		case ledger.StatusExpired:
			r.Expired++
		default:
			r.Pending++
		}
	}

	if settled := r.Submitted - r.Pending; settled > 0 {
		r.FillRate = float64(r.Filled) / float64(settled)
	}

	r.SlippageSamples = len(slips)
	if len(slips) > 0 {
		r.MeanSlippagePct = mean(slips)
		abs := make([]float64, len(slips))
		r.WorstSlippagePct = slips[0]
		for i, s := range slips {
			abs[i] = math.Abs(s)
			if s > r.WorstSlippagePct {
				r.WorstSlippagePct = s
			}
		}
		r.MeanAbsSlippagePct = mean(abs)
		r.SlippageStdDevPct = stdDev(slips, r.MeanSlippagePct)
	}
	r.MeanSubmitLatencyMs = mean(submitLatency)
	r.MeanFillLatencyMs = mean(fillLatency)

	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		acc := bySymbol[s]
		r.BySymbol = append(r.BySymbol, SymbolQuality{
			Symbol: s, Submitted: acc.submitted, Filled: acc.filled, MeanSlippagePct: mean(acc.slips),
		})
	}

	roundTrips(rows, &r)
	return r, nil
}

type symbolAcc struct {
	submitted int
	filled    int
	slips     []float64
}

type lot struct {
	price decimal.Decimal
	qty   decimal.Decimal
	at    time.Time
}

// roundTrips matches filled sells against earlier filled buys of the same
// symbol, first in first out.
func roundTrips(rows []ledger.Execution, r *Report) {
	fills := make([]ledger.Execution, 0, len(rows))
	for _, e := range rows {
		if e.Status == ledger.StatusFilled && e.FillPrice != nil && e.FilledAt != nil {
			fills = append(fills, e)
		}
	}
	sort.SliceStable(fills, func(i, j int) bool { return fills[i].FilledAt.Before(*fills[j].FilledAt) })

	open := map[string][]lot{}
	var pnls []decimal.Decimal
	var holding []float64
	var profit, loss decimal.Decimal
	for _, e := range fills {
		price := decimal.NewFromFloat(*e.FillPrice)
		qty := decimal.NewFromFloat(e.Qty)
		if e.Side == ledger.SideBuy {
			open[e.Symbol] = append(open[e.Symbol], lot{price: price, qty: qty, at: *e.FilledAt})
			continue
		}
		lots := open[e.Symbol]
		if len(lots) == 0 {
			continue
		}
		var pnl decimal.Decimal
		for len(lots) > 0 && qty.IsPositive() {
			buy := lots[0]
			match := decimal.Min(buy.qty, qty)
			pnl = pnl.Add(price.Sub(buy.price).Mul(match))
			holding = append(holding, e.FilledAt.Sub(buy.at).Seconds())
			buy.qty = buy.qty.Sub(match)
			qty = qty.Sub(match)
			if buy.qty.IsZero() {
				lots = lots[1:]
			} else {
				lots[0] = buy
			}
		}
		open[e.Symbol] = lots

		pnls = append(pnls, pnl)
		r.RealizedPnL = r.RealizedPnL.Add(pnl)
		switch {
		case pnl.IsPositive():
			r.WinningTrades++
			profit = profit.Add(pnl)
		case pnl.IsNegative():
			r.LosingTrades++
			loss = loss.Add(pnl)
		}
	}

	r.RoundTrips = len(pnls)
	if decided := r.WinningTrades + r.LosingTrades; decided > 0 {
		r.WinRate = float64(r.WinningTrades) / float64(decided)
	}
	if loss.IsNegative() {
		r.ProfitFactor = profit.Div(loss.Abs()).InexactFloat64()
	}

	var equity, peak decimal.Decimal
	for _, p := range pnls {
		equity = equity.Add(p)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity); dd.GreaterThan(r.MaxDrawdown) {
			r.MaxDrawdown = dd
		}
	}
	r.AverageHoldingSeconds = mean(holding)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdDev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// WriteText prints r in the layout used by the report command.
func (r Report) WriteText(w io.Writer) error {
	lines := []string{
		fmt.Sprintf("Window:            %s .. %s", r.StartDate.Format(time.RFC3339), r.EndDate.Format(time.RFC3339)),
		fmt.Sprintf("Orders:            %d submitted, %d filled, %d canceled, %d rejected, %d expired, %d pending",
			r.Submitted, r.Filled, r.Canceled, r.Rejected, r.Expired, r.Pending),
		fmt.Sprintf("Fill rate:         %.2f%%", r.FillRate*100),
		fmt.Sprintf("Slippage:          mean %.4f%%, mean |x| %.4f%%, worst %.4f%%, sd %.4f%% (n=%d)",
			r.MeanSlippagePct*100, r.MeanAbsSlippagePct*100, r.WorstSlippagePct*100, r.SlippageStdDevPct*100, r.SlippageSamples),
		fmt.Sprintf("Latency:           submit %.1f ms, fill %.1f ms", r.MeanSubmitLatencyMs, r.MeanFillLatencyMs),
		fmt.Sprintf("Round trips:       %d (%d won, %d lost, win rate %.2f%%)", r.RoundTrips, r.WinningTrades, r.LosingTrades, r.WinRate*100),
		fmt.Sprintf("Realized PnL:      %s (profit factor %.2f, max drawdown %s)", r.RealizedPnL.StringFixed(2), r.ProfitFactor, r.MaxDrawdown.StringFixed(2)),
		fmt.Sprintf("Avg holding:       %s", (time.Duration(r.AverageHoldingSeconds) * time.Second).String()),
	}
	for _, s := range r.BySymbol {
		lines = append(lines, fmt.Sprintf("  %-8s %3d submitted, %3d filled, mean slippage %.4f%%", s.Symbol, s.Submitted, s.Filled, s.MeanSlippagePct*100))
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
