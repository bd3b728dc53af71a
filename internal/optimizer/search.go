package optimizer

import (
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/your-org/adx-trend-bot/internal/backtest"
	"github.com/your-org/adx-trend-bot/internal/strategy"
)

// sampler draws parameter sets from the search bounds.
type sampler struct {
	rng    *rand.Rand
	bounds strategy.Bounds
}

// newSampler seeds a PCG stream from seed and symbol, so each instrument
// explores its own reproducible sequence.
func newSampler(seed uint64, symbol string, bounds strategy.Bounds) *sampler {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	return &sampler{rng: rand.New(rand.NewPCG(seed, h.Sum64())), bounds: bounds}
}

func (s *sampler) intIn(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.rng.IntN(hi-lo+1)
}

func (s *sampler) floatIn(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return round4(lo + s.rng.Float64()*(hi-lo))
}

// uniform samples every dimension independently.
func (s *sampler) uniform() strategy.Parameters {
	b := s.bounds
	return strategy.Parameters{
		ADXEntryThreshold: s.intIn(b.ADXMin, b.ADXMax),
		RSIEntryThreshold: s.intIn(b.RSIMin, b.RSIMax),
		TakeProfitPct:     s.floatIn(b.TPMin, b.TPMax),
		StopLossPct:       s.floatIn(b.SLMin, b.SLMax),
	}
}

// perturb moves every dimension of center by up to radius times its range.
func (s *sampler) perturb(center strategy.Parameters, radius float64) strategy.Parameters {
	b := s.bounds
	jitterInt := func(v, lo, hi int) int {
		span := int(math.Ceil(float64(hi-lo) * radius))
		return v + s.intIn(-span, span)
	}
	jitterFloat := func(v, lo, hi float64) float64 {
		span := (hi - lo) * radius
		return round4(v + (s.rng.Float64()*2-1)*span)
	}
	return b.Clamp(strategy.Parameters{
		ADXEntryThreshold: jitterInt(center.ADXEntryThreshold, b.ADXMin, b.ADXMax),
		RSIEntryThreshold: jitterInt(center.RSIEntryThreshold, b.RSIMin, b.RSIMax),
		TakeProfitPct:     jitterFloat(center.TakeProfitPct, b.TPMin, b.TPMax),
		StopLossPct:       jitterFloat(center.StopLossPct, b.SLMin, b.SLMax),
	})
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// search runs trials simulations over one prepared frame and returns the
// best result. The first third of the budget explores uniformly; after that
// uniform draws alternate with perturbations of the incumbent whose radius
// shrinks towards the end of the budget. Ties keep the earlier trial.
func search(f backtest.Frame, cfg backtest.Config, s *sampler, trials int) (backtest.Result, int, error) {
	explore := max(1, trials/3)

	var (
		best backtest.Result
		have bool
		ran  int
	)
	for i := 0; i < trials; i++ {
		var p strategy.Parameters
		switch {
		case !have || i < explore || (i-explore)%2 == 1:
			p = s.uniform()
		default:
			progress := float64(i-explore) / float64(max(1, trials-explore))
			p = s.perturb(best.Params, 0.25*(1-progress)+0.02)
		}

		res, err := backtest.Run(p, f, cfg)
		if err != nil {
			return backtest.Result{}, ran, err
		}
		ran++
		if !have || res.Score > best.Score {
			best, have = res, true
		}
	}
	return best, ran, nil
}
