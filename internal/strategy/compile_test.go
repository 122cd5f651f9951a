package strategy

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

func baseConfig(specs ...domain.StrategySpec) domain.StrategyConfig {
	return domain.StrategyConfig{
		Name:       "test",
		Strategies: specs,
		Trading:    domain.TradingParams{RiskFraction: 0.02, LotSize: 0.001},
	}
}

func TestCompileMergesDefaults(t *testing.T) {
	c, err := Compile(baseConfig(
		domain.StrategySpec{ID: "mom", Kind: "momentum", Params: map[string]float64{"lookback": 5}},
		domain.StrategySpec{ID: "cross", Kind: "ma_crossover"},
	))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if got := c.RequiredLookback(); got != 50 {
		t.Fatalf("RequiredLookback = %d, want 50", got)
	}
	inst := c.Instances()
	if len(inst) != 2 || inst[0].ID != "mom" || inst[0].Params["scale"] != 0.05 {
		t.Fatalf("instances = %+v", inst)
	}
	if c.TieBreak() != domain.TieBreakLexical {
		t.Fatalf("TieBreak = %q, want lexical", c.TieBreak())
	}
	if c.Config().Strategies[1].Params["slow"] != 50 {
		t.Fatalf("compiled config should carry resolved params")
	}
}

func TestCompileReportsEveryProblem(t *testing.T) {
	cfg := baseConfig(
		domain.StrategySpec{ID: "a", Kind: "astrology"},
		domain.StrategySpec{ID: "b", Kind: "ma_crossover", Params: map[string]float64{"fast": 60, "slow": 50}},
		domain.StrategySpec{ID: "b", Kind: "rsi"},
	)
	cfg.Trading.RiskFraction = 0
	_, err := Compile(cfg)
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	for _, want := range []string{"astrology", "fast must be < slow", "duplicate strategy id", "risk_fraction"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestInstanceEvalDirections(t *testing.T) {
	c, err := Compile(baseConfig(
		domain.StrategySpec{ID: "mom", Kind: "momentum"},
		domain.StrategySpec{ID: "rsi", Kind: "rsi"},
		domain.StrategySpec{ID: "bb", Kind: "bollinger"},
		domain.StrategySpec{ID: "mr", Kind: "mean_reversion"},
		domain.StrategySpec{ID: "macd", Kind: "macd"},
	))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	up := make([]float64, 60)
	for i := range up {
		up[i] = 100 * math.Pow(1.01, float64(i))
	}
	byID := map[string]Instance{}
	for _, in := range c.Instances() {
		byID[in.ID] = in
	}
	if r := byID["mom"].Eval(up); r.Direction != domain.DirectionLong || r.Strength <= 0 || r.Strength > 1 {
		t.Fatalf("momentum on uptrend = %+v", r)
	}
	if r := byID["rsi"].Eval(up); r.Direction != domain.DirectionShort {
		t.Fatalf("rsi on uptrend = %+v, want overbought short", r)
	}
	if r := byID["macd"].Eval(up); r.Direction != domain.DirectionLong {
		t.Fatalf("macd on uptrend = %+v", r)
	}

	spike := make([]float64, 30)
	for i := range spike {
		spike[i] = 100 + float64(i%2)
	}
	spike[len(spike)-1] = 80
	if r := byID["bb"].Eval(spike); r.Direction != domain.DirectionLong || r.Strength < 0.5 {
		t.Fatalf("bollinger below band = %+v", r)
	}
	if r := byID["mr"].Eval(spike); r.Direction != domain.DirectionLong {
		t.Fatalf("mean reversion below mean = %+v", r)
	}
	if r := byID["mom"].Eval(up[:5]); r != Flat {
		t.Fatalf("short input should read flat, got %+v", r)
	}
}

func TestDefaultSearchSpaceValidates(t *testing.T) {
	cfg := baseConfig(domain.StrategySpec{ID: "mom", Kind: "momentum"}, domain.StrategySpec{ID: "macd", Kind: "macd"})
	space, err := DefaultSearchSpace(cfg)
	if err != nil {
		t.Fatalf("DefaultSearchSpace: %v", err)
	}
	keys := map[string]bool{}
	for _, r := range space {
		keys[r.Key] = true
	}
	for _, want := range []string{"mom.lookback", "macd.signal", domain.KeyRiskFraction} {
		if !keys[want] {
			t.Errorf("missing %s in %v", want, space)
		}
	}
}

func TestMACDBoundsKeepFastBelowSlow(t *testing.T) {
	def, err := DefaultRegistry().Get(KindMACD)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	fast, slow := def.Bounds["fast"], def.Bounds["slow"]
	if fast.Min != 5 || fast.Max != 20 || slow.Min != 21 || slow.Max != 50 {
		t.Fatalf("bounds fast=%+v slow=%+v", fast, slow)
	}
	corner := Params{"fast": fast.Max, "slow": slow.Min, "signal": 9, "scale": 0.005}
	if err := def.Validate(corner); err != nil {
		t.Fatalf("tightest corner rejected: %v", err)
	}
}
