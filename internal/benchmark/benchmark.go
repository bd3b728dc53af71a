// Package benchmark measures passive returns so tuned strategies can be
// judged against simply holding the instrument.
package benchmark

import (
	"github.com/shopspring/decimal"

	"github.com/your-org/adx-trend-bot/internal/market"
)

// BuyAndHold は期間の最初の始値で買い、最後の終値まで保有した場合のリターンです。
// Returns zero for fewer than two bars or a non-positive first open.
func BuyAndHold(bars []market.Bar) float64 {
	if len(bars) < 2 || bars[0].Open <= 0 {
		return 0
	}
	first := decimal.NewFromFloat(bars[0].Open)
	last := decimal.NewFromFloat(bars[len(bars)-1].Close)
	r, _ := last.Sub(first).Div(first).Float64()
	return r
}

// Excess は戦略スコアからバイ・アンド・ホールドを差し引いた超過リターンです。
func Excess(score float64, bars []market.Bar) float64 {
	return score - BuyAndHold(bars)
}
