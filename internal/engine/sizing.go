package engine

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/your-org/adx-trend-bot/internal/strategy"
)

// Size is the whole-share quantity affordable from the smaller of the cash
// left this tick and the equal-weight allocation.
func Size(cash, allocation, price float64) int64 {
	if price <= 0 {
		return 0
	}
	budget := math.Min(cash, allocation)
	if budget <= 0 {
		return 0
	}
	return int64(math.Floor(budget / price))
}

// BracketPrices returns the take-profit and stop-loss levels around price,
// rounded to cents.
func BracketPrices(price float64, p strategy.Parameters) (takeProfit, stopLoss float64) {
	d := decimal.NewFromFloat(price)
	one := decimal.NewFromInt(1)
	takeProfit, _ = d.Mul(one.Add(decimal.NewFromFloat(p.TakeProfitPct))).Round(2).Float64()
	stopLoss, _ = d.Mul(one.Sub(decimal.NewFromFloat(p.StopLossPct))).Round(2).Float64()
	return takeProfit, stopLoss
}
