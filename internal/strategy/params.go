// Package strategy defines the tunable parameters of the ADX/RSI trend rule
// and the space the optimizer searches.
package strategy

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
)

// Parameters are the per-symbol thresholds of the rule.
type Parameters struct {
	ADXEntryThreshold int     `json:"adx_entry_threshold"`
	RSIEntryThreshold int     `json:"rsi_entry_threshold"`
	TakeProfitPct     float64 `json:"take_profit_pct"`
	StopLossPct       float64 `json:"stop_loss_pct"`
}

// Strategy is a persisted parameter set for one symbol.
type Strategy struct {
	Symbol string
	Params Parameters
	Active bool
	RunID  string
}

// Validate rejects parameters the engine cannot trade with.
func (p Parameters) Validate() error {
	switch {
	case p.ADXEntryThreshold < 0 || p.ADXEntryThreshold > 100:
		return fmt.Errorf("adx_entry_threshold %d out of [0,100]", p.ADXEntryThreshold)
	case p.RSIEntryThreshold < 0 || p.RSIEntryThreshold > 100:
		return fmt.Errorf("rsi_entry_threshold %d out of [0,100]", p.RSIEntryThreshold)
	case p.TakeProfitPct <= 0:
		return errors.New("take_profit_pct must be positive")
	case p.StopLossPct <= 0 || p.StopLossPct >= 1:
		return errors.New("stop_loss_pct must be in (0,1)")
	}
	return nil
}

func (p Parameters) String() string {
	return fmt.Sprintf("adx>%d rsi>%d tp=%.2f%% sl=%.2f%%",
		p.ADXEntryThreshold, p.RSIEntryThreshold, p.TakeProfitPct*100, p.StopLossPct*100)
}

// Encode serialises p for the strategies table.
func (p Parameters) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// aliases maps accepted keys onto canonical ones. The short keys are how
// parameter sets were stored before the rename.
var aliases = map[string][]string{
	"adx_entry_threshold": {"adx_entry_threshold", "adx_trend"},
	"rsi_entry_threshold": {"rsi_entry_threshold", "rsi_trend"},
	"take_profit_pct":     {"take_profit_pct", "target"},
	"stop_loss_pct":       {"stop_loss_pct", "stop"},
}

// Decode parses a stored parameter document. Legacy key names and numbers
// encoded as strings are accepted.
func Decode(data []byte) (Parameters, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Parameters{}, fmt.Errorf("decode parameters: %w", err)
	}
	return FromMap(raw)
}

// FromMap builds Parameters from a loosely typed map.
func FromMap(raw map[string]interface{}) (Parameters, error) {
	lookup := func(key string) (interface{}, error) {
		for _, k := range aliases[key] {
			if v, ok := raw[k]; ok {
				return v, nil
			}
		}
		return nil, fmt.Errorf("missing parameter %q", key)
	}

	var p Parameters
	var err error
	var v interface{}

	if v, err = lookup("adx_entry_threshold"); err != nil {
		return p, err
	}
	if p.ADXEntryThreshold, err = cast.ToIntE(v); err != nil {
		return p, fmt.Errorf("adx_entry_threshold: %w", err)
	}
	if v, err = lookup("rsi_entry_threshold"); err != nil {
		return p, err
	}
	if p.RSIEntryThreshold, err = cast.ToIntE(v); err != nil {
		return p, fmt.Errorf("rsi_entry_threshold: %w", err)
	}
	if v, err = lookup("take_profit_pct"); err != nil {
		return p, err
	}
	if p.TakeProfitPct, err = cast.ToFloat64E(v); err != nil {
		return p, fmt.Errorf("take_profit_pct: %w", err)
	}
	if v, err = lookup("stop_loss_pct"); err != nil {
		return p, err
	}
	if p.StopLossPct, err = cast.ToFloat64E(v); err != nil {
		return p, fmt.Errorf("stop_loss_pct: %w", err)
	}
	return p, p.Validate()
}

// Bounds is the inclusive search space of the optimizer.
type Bounds struct {
	ADXMin, ADXMax int
	RSIMin, RSIMax int
	TPMin, TPMax   float64
	SLMin, SLMax   float64
}

// DefaultBounds is the search space used when none is configured.
var DefaultBounds = Bounds{
	ADXMin: 20, ADXMax: 30,
	RSIMin: 45, RSIMax: 60,
	TPMin: 0.10, TPMax: 0.30,
	SLMin: 0.05, SLMax: 0.10,
}

// Contains reports whether p lies inside b.
func (b Bounds) Contains(p Parameters) bool {
	return p.ADXEntryThreshold >= b.ADXMin && p.ADXEntryThreshold <= b.ADXMax &&
		p.RSIEntryThreshold >= b.RSIMin && p.RSIEntryThreshold <= b.RSIMax &&
		p.TakeProfitPct >= b.TPMin && p.TakeProfitPct <= b.TPMax &&
		p.StopLossPct >= b.SLMin && p.StopLossPct <= b.SLMax
}

// Clamp moves p onto the nearest point inside b.
func (b Bounds) Clamp(p Parameters) Parameters {
	p.ADXEntryThreshold = min(max(p.ADXEntryThreshold, b.ADXMin), b.ADXMax)
	p.RSIEntryThreshold = min(max(p.RSIEntryThreshold, b.RSIMin), b.RSIMax)
	p.TakeProfitPct = min(max(p.TakeProfitPct, b.TPMin), b.TPMax)
	p.StopLossPct = min(max(p.StopLossPct, b.SLMin), b.SLMax)
	return p
}
