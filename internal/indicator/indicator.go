// Copyright (c) 2024 OBI-Scalp-Bot
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package indicator computes the trend and momentum indicators used for
// entry and exit decisions.
package indicator

import (
	"math"

	"github.com/your-org/adx-trend-bot/internal/market"
)

// Periods are the smoothing windows of the indicators.
type Periods struct {
	RSI int
	ADX int
}

// DefaultPeriods is 14/14.
var DefaultPeriods = Periods{RSI: 14, ADX: 14}

// Lookback is the minimum number of bars for any output to be defined.
func (p Periods) Lookback() int {
	return max(p.RSI, p.ADX) + 1
}

// Series holds indicator values aligned index-for-index with the input bars.
// Warm-up entries are NaN.
type Series struct {
	RSI []float64
	ADX []float64
}

// Len is the number of aligned values.
func (s Series) Len() int { return len(s.RSI) }

// Compute returns RSI and ADX for bars. Fewer than p.Lookback() bars yields
// an empty Series.
func Compute(bars []market.Bar, p Periods) Series {
	if len(bars) < p.Lookback() {
		return Series{}
	}
	highs, lows, closes := market.HLC(bars)
	return Series{
		RSI: RSI(closes, p.RSI),
		ADX: ADX(highs, lows, closes, p.ADX),
	}
}

// Last returns the final RSI and ADX and whether both are defined.
func (s Series) Last() (rsi, adx float64, ok bool) {
	n := s.Len()
	if n == 0 || len(s.ADX) != n {
		return math.NaN(), math.NaN(), false
	}
	rsi, adx = s.RSI[n-1], s.ADX[n-1]
	return rsi, adx, Defined(rsi) && Defined(adx)
}

// Defined reports whether v is a usable value.
func Defined(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// mask replaces the first warmup entries of a talib result with NaN.
func mask(values []float64, warmup int) []float64 {
	for i := 0; i < warmup && i < len(values); i++ {
		values[i] = math.NaN()
	}
	return values
}
