// Command backtest replays one parameter set over a CSV of bars.
package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/your-org/adx-trend-bot/internal/backtest"
	"github.com/your-org/adx-trend-bot/internal/benchmark"
	"github.com/your-org/adx-trend-bot/internal/indicator"
	"github.com/your-org/adx-trend-bot/internal/market"
	"github.com/your-org/adx-trend-bot/internal/strategy"
	"github.com/your-org/adx-trend-bot/pkg/logger"
)

func main() {
	def := backtest.DefaultConfig()
	csvPath := flag.String("csv", "", "CSV file of time,open,high,low,close,volume bars")
	adx := flag.Int("adx", 25, "ADX entry threshold")
	rsi := flag.Int("rsi", 55, "RSI entry threshold")
	tp := flag.Float64("tp", 0.10, "Take-profit fraction")
	sl := flag.Float64("sl", 0.05, "Stop-loss fraction")
	timeframe := flag.Duration("timeframe", 0, "Aggregate bars to this timeframe before simulating (0 keeps the file's bars)")
	origin := flag.String("session-origin", "00:00", "Bucket origin for aggregation (HH:MM)")
	tz := flag.String("timezone", "UTC", "Bucket timezone for aggregation")
	rsiPeriod := flag.Int("rsi-period", indicator.DefaultPeriods.RSI, "RSI period")
	adxPeriod := flag.Int("adx-period", indicator.DefaultPeriods.ADX, "ADX period")
	balance := flag.Float64("balance", def.InitialBalance, "Initial balance")
	panicRSI := flag.Float64("panic-rsi", def.PanicRSI, "Exit when RSI falls below this")
	slippage := flag.Float64("slippage", def.SlippagePct, "Slippage fraction charged on every fill")
	showTrades := flag.Bool("trades", false, "Print every trade")
	flag.Parse()

	if *csvPath == "" {
		logger.Fatal("The --csv flag is required.")
	}
	params := strategy.Parameters{ADXEntryThreshold: *adx, RSIEntryThreshold: *rsi, TakeProfitPct: *tp, StopLossPct: *sl}
	if err := params.Validate(); err != nil {
		logger.Fatalf("Invalid parameters: %v", err)
	}

	bars, err := market.ReadBarsCSVFile(*csvPath)
	if err != nil {
		logger.Fatalf("Failed to read bars: %v", err)
	}
	if *timeframe > 0 {
		session, err := market.NewSession(*origin, *tz)
		if err != nil {
			logger.Fatalf("Invalid session: %v", err)
		}
		bars = market.Aggregate(bars, *timeframe, session)
	}

	cfg := backtest.Config{InitialBalance: *balance, PanicRSI: *panicRSI, SlippagePct: *slippage}
	res, err := backtest.Simulate(params, bars, indicator.Periods{RSI: *rsiPeriod, ADX: *adxPeriod}, cfg)
	if err != nil {
		logger.Fatalf("Backtest failed: %v", err)
	}
	bh := benchmark.BuyAndHold(bars)

	fmt.Printf("Bars:            %d (%s .. %s)\n", len(bars),
		bars[0].Time.Format(time.RFC3339), bars[len(bars)-1].Time.Format(time.RFC3339))
	fmt.Printf("Parameters:      %s\n", params)
	fmt.Printf("Final balance:   %.2f\n", res.FinalBalance)
	fmt.Printf("Return:          %.2f%%\n", res.Score*100)
	fmt.Printf("Buy & hold:      %.2f%%\n", bh*100)
	fmt.Printf("Excess:          %.2f%%\n", benchmark.Excess(res.Score, bars)*100)
	fmt.Printf("Trades:          %d\n", len(res.Trades))

	if *showTrades && len(res.Trades) > 0 {
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ENTRY\tEXIT\tENTRY_PX\tEXIT_PX\tRETURN\tREASON")
		for _, t := range res.Trades {
			fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%.2f%%\t%s\n",
				t.EntryTime.Format(time.RFC3339), t.ExitTime.Format(time.RFC3339),
				t.EntryPrice, t.ExitPrice, t.Return()*100, t.Reason)
		}
		_ = tw.Flush()
	}
}
