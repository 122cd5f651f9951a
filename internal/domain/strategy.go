package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TieBreak orders signals of equal strength.
type TieBreak string

const (
	// TieBreakLexical orders equal-strength signals by strategy id ascending.
	TieBreakLexical TieBreak = "lexical"
	// TieBreakDeclared keeps the order strategies are declared in the config.
	TieBreakDeclared TieBreak = "declared"
)

// StrategySpec binds one strategy kind to its parameters.
type StrategySpec struct {
	ID     string             `json:"id" toml:"id"`
	Kind   string             `json:"kind" toml:"kind"`
	Params map[string]float64 `json:"params" toml:"params"`
}

// TradingParams drive order sizing and protective exits.
type TradingParams struct {
	MinStrength  float64 `json:"min_strength" toml:"min_strength"`
	RiskFraction float64 `json:"risk_fraction" toml:"risk_fraction"`
	LotSize      float64 `json:"lot_size" toml:"lot_size"`
	AllowShort   bool    `json:"allow_short" toml:"allow_short"`
	StopLoss     float64 `json:"stop_loss" toml:"stop_loss"`
	TakeProfit   float64 `json:"take_profit" toml:"take_profit"`
}

// ResearchParams tune signal generation.
type ResearchParams struct {
	TieBreak TieBreak `json:"tie_break" toml:"tie_break"`
}

// StrategyConfig is an immutable, versioned set of strategy parameters.
// Revision is assigned when the config is published.
type StrategyConfig struct {
	Name       string         `json:"name" toml:"name"`
	Revision   int64          `json:"revision" toml:"-"`
	Strategies []StrategySpec `json:"strategies" toml:"strategies"`
	Trading    TradingParams  `json:"trading" toml:"trading"`
	Research   ResearchParams `json:"research" toml:"research"`
	Seed       uint64         `json:"seed" toml:"seed"`
	// CreatedAt is stamped by the publisher, never by the backtest path.
	CreatedAt time.Time `json:"created_at,omitempty" toml:"-"`
}

// Clone returns a deep copy.
func (c StrategyConfig) Clone() StrategyConfig {
	out := c
	out.Strategies = make([]StrategySpec, len(c.Strategies))
	for i, s := range c.Strategies {
		params := make(map[string]float64, len(s.Params))
		for k, v := range s.Params {
			params[k] = v
		}
		out.Strategies[i] = StrategySpec{ID: s.ID, Kind: s.Kind, Params: params}
	}
	return out
}

// Trading parameter keys exposed to the optimizer.
const (
	KeyMinStrength  = "trading.min_strength"
	KeyRiskFraction = "trading.risk_fraction"
	KeyStopLoss     = "trading.stop_loss"
	KeyTakeProfit   = "trading.take_profit"
)

// Values flattens every numeric parameter into "<strategy id>.<param>" and
// "trading.<field>" keys.
func (c StrategyConfig) Values() map[string]float64 {
	out := map[string]float64{
		KeyMinStrength:  c.Trading.MinStrength,
		KeyRiskFraction: c.Trading.RiskFraction,
		KeyStopLoss:     c.Trading.StopLoss,
		KeyTakeProfit:   c.Trading.TakeProfit,
	}
	for _, s := range c.Strategies {
		for k, v := range s.Params {
			out[s.ID+"."+k] = v
		}
	}
	return out
}

// WithValues returns a copy with the given flattened values applied. Unknown
// strategy ids are an error; unknown params of a known strategy are added.
func (c StrategyConfig) WithValues(values map[string]float64) (StrategyConfig, error) {
	out := c.Clone()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		v := values[key]
		switch key {
		case KeyMinStrength:
			out.Trading.MinStrength = v
			continue
		case KeyRiskFraction:
			out.Trading.RiskFraction = v
			continue
		case KeyStopLoss:
			out.Trading.StopLoss = v
			continue
		case KeyTakeProfit:
			out.Trading.TakeProfit = v
			continue
		}
		id, param, ok := strings.Cut(key, ".")
		if !ok || param == "" {
			return StrategyConfig{}, fmt.Errorf("%w: malformed parameter key %q", ErrInvalidConfig, key)
		}
		idx := out.strategyIndex(id)
		if idx < 0 {
			return StrategyConfig{}, fmt.Errorf("%w: no strategy %q for key %q", ErrInvalidConfig, id, key)
		}
		if out.Strategies[idx].Params == nil {
			out.Strategies[idx].Params = map[string]float64{}
		}
		out.Strategies[idx].Params[param] = v
	}
	return out, nil
}

func (c StrategyConfig) strategyIndex(id string) int {
	for i, s := range c.Strategies {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// ParamRange is one dimension of an optimizer search space.
type ParamRange struct {
	Key     string  `json:"key" toml:"key"`
	Min     float64 `json:"min" toml:"min"`
	Max     float64 `json:"max" toml:"max"`
	Integer bool    `json:"integer" toml:"integer"`
}

// SearchSpace is the set of parameter ranges the optimizer explores.
type SearchSpace []ParamRange

// Validate checks bounds and that every key resolves against base.
func (s SearchSpace) Validate(base StrategyConfig) error {
	if len(s) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidSearchSpace)
	}
	known := base.Values()
	seen := make(map[string]bool, len(s))
	var errs []string
	for _, r := range s {
		if seen[r.Key] {
			errs = append(errs, fmt.Sprintf("duplicate key %q", r.Key))
		}
		seen[r.Key] = true
		if !(r.Min < r.Max) {
			errs = append(errs, fmt.Sprintf("%s: min %.6g must be < max %.6g", r.Key, r.Min, r.Max))
		}
		if _, ok := known[r.Key]; !ok {
			id, _, _ := strings.Cut(r.Key, ".")
			if base.strategyIndex(id) < 0 {
				errs = append(errs, fmt.Sprintf("%s: unknown parameter", r.Key))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSearchSpace, strings.Join(errs, "; "))
	}
	return nil
}
