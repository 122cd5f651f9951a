package strategy

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// Instance is one bound strategy inside a compiled config.
type Instance struct {
	ID       string
	Kind     Kind
	Params   Params
	lookback int
	eval     func([]float64, Params) Reading
}

// Lookback is the number of prior bars this instance needs.
func (i Instance) Lookback() int { return i.lookback }

// Eval runs the instance on closes. Closes shorter than Lookback()+1 read flat.
func (i Instance) Eval(closes []float64) Reading {
	if len(closes) < i.lookback+1 {
		return Flat
	}
	r := i.eval(closes, i.Params)
	if r.Strength < 0 || math.IsNaN(r.Strength) {
		return Flat
	}
	return r
}

// Compiled is a validated StrategyConfig with every kind resolved. It is
// immutable and safe to share across goroutines.
type Compiled struct {
	cfg       domain.StrategyConfig
	instances []Instance
	lookback  int
}

// Config returns a copy of the source config.
func (c *Compiled) Config() domain.StrategyConfig { return c.cfg.Clone() }

// Revision is the revision number the config was published under.
func (c *Compiled) Revision() int64 { return c.cfg.Revision }

// Name returns the config name.
func (c *Compiled) Name() string { return c.cfg.Name }

// Trading returns the sizing and exit parameters.
func (c *Compiled) Trading() domain.TradingParams { return c.cfg.Trading }

// TieBreak returns the configured equal-strength ordering.
func (c *Compiled) TieBreak() domain.TieBreak {
	if c.cfg.Research.TieBreak == "" {
		return domain.TieBreakLexical
	}
	return c.cfg.Research.TieBreak
}

// Instances returns the strategies in declaration order.
func (c *Compiled) Instances() []Instance { return c.instances }

// RequiredLookback is the longest lookback over all strategies.
func (c *Compiled) RequiredLookback() int { return c.lookback }

// WithRevision returns a copy stamped with rev.
func (c *Compiled) WithRevision(rev int64) *Compiled {
	out := *c
	out.cfg = c.cfg.Clone()
	out.cfg.Revision = rev
	return &out
}

// Compile validates cfg against the default registry.
func Compile(cfg domain.StrategyConfig) (*Compiled, error) {
	return DefaultRegistry().Compile(cfg)
}

// Compile resolves every strategy kind, merges defaults and validates the
// result. Every problem is reported in one error wrapping
// domain.ErrInvalidConfig.
func (r *Registry) Compile(cfg domain.StrategyConfig) (*Compiled, error) {
	var errs []string
	if len(cfg.Strategies) == 0 {
		errs = append(errs, "no strategies")
	}
	t := cfg.Trading
	if !(t.RiskFraction > 0 && t.RiskFraction <= 1) {
		errs = append(errs, fmt.Sprintf("trading.risk_fraction %.6g must be in (0,1]", t.RiskFraction))
	}
	if t.MinStrength < 0 || t.MinStrength > 1 {
		errs = append(errs, fmt.Sprintf("trading.min_strength %.6g must be in [0,1]", t.MinStrength))
	}
	if t.LotSize < 0 {
		errs = append(errs, "trading.lot_size must be >= 0")
	}
	if t.StopLoss < 0 || t.TakeProfit < 0 {
		errs = append(errs, "trading.stop_loss and trading.take_profit must be >= 0")
	}
	switch cfg.Research.TieBreak {
	case "", domain.TieBreakLexical, domain.TieBreakDeclared:
	default:
		errs = append(errs, fmt.Sprintf("research.tie_break %q unknown", cfg.Research.TieBreak))
	}

	out := &Compiled{cfg: cfg.Clone()}
	seen := make(map[string]bool, len(cfg.Strategies))
	for _, entry := range cfg.Strategies {
		if entry.ID == "" || strings.Contains(entry.ID, ".") {
			errs = append(errs, fmt.Sprintf("strategy id %q must be non-empty without '.'", entry.ID))
			continue
		}
		if seen[entry.ID] {
			errs = append(errs, fmt.Sprintf("duplicate strategy id %q", entry.ID))
			continue
		}
		seen[entry.ID] = true
		def, err := r.Get(Kind(entry.Kind))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: unknown kind %q", entry.ID, entry.Kind))
			continue
		}
		params := make(Params, len(def.Defaults))
		for k, v := range def.Defaults {
			params[k] = v
		}
		for k, v := range entry.Params {
			if _, ok := def.Defaults[k]; !ok {
				errs = append(errs, fmt.Sprintf("%s: unknown param %q for kind %s", entry.ID, k, entry.Kind))
				continue
			}
			params[k] = v
		}
		if def.Validate != nil {
			if err := def.Validate(params); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", entry.ID, err))
				continue
			}
		}
		inst := Instance{
			ID:       entry.ID,
			Kind:     def.Kind,
			Params:   params,
			lookback: def.Lookback(params),
			eval:     def.Eval,
		}
		if inst.lookback > out.lookback {
			out.lookback = inst.lookback
		}
		out.instances = append(out.instances, inst)
		out.cfg.Strategies[len(out.instances)-1] = domain.StrategySpec{ID: entry.ID, Kind: entry.Kind, Params: map[string]float64(cloneParams(params))}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("strategy: compile %q: %w: %s", cfg.Name, domain.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return out, nil
}

func cloneParams(p Params) Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// DefaultSearchSpace builds a search space from the bounds of every
// strategy in cfg plus the trading knobs.
func DefaultSearchSpace(cfg domain.StrategyConfig) (domain.SearchSpace, error) {
	reg := DefaultRegistry()
	space := domain.SearchSpace{
		{Key: domain.KeyMinStrength, Min: 0, Max: 0.8},
		{Key: domain.KeyRiskFraction, Min: 0.01, Max: 0.2},
		{Key: domain.KeyStopLoss, Min: 0.01, Max: 0.05},
		{Key: domain.KeyTakeProfit, Min: 0.02, Max: 0.10},
	}
	for _, entry := range cfg.Strategies {
		def, err := reg.Get(Kind(entry.Kind))
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(def.Bounds))
		for k := range def.Bounds {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b := def.Bounds[k]
			space = append(space, domain.ParamRange{Key: entry.ID + "." + k, Min: b.Min, Max: b.Max, Integer: b.Integer})
		}
	}
	if err := space.Validate(cfg); err != nil {
		return nil, err
	}
	return space, nil
}
