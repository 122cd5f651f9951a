package strategy

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

func builtins() []Definition {
	return []Definition{
		momentumDef(),
		meanReversionDef(),
		rsiDef(),
		maCrossoverDef(),
		macdDef(),
		bollingerDef(),
	}
}

// directional turns a signed score into a reading with strength |score|
// capped at 1.
func directional(score float64) Reading {
	if math.IsNaN(score) || score == 0 {
		return Flat
	}
	dir := domain.DirectionLong
	if score < 0 {
		dir = domain.DirectionShort
	}
	return Reading{Direction: dir, Strength: math.Min(1, math.Abs(score))}
}

func positive(keys ...string) func(Params) error {
	return func(p Params) error {
		for _, k := range keys {
			if !(p[k] > 0) {
				return fmt.Errorf("%s must be > 0", k)
			}
		}
		return nil
	}
}

// momentum goes with the rate of change over lookback bars once it clears
// threshold. scale is the move that reads as full strength.
func momentumDef() Definition {
	return Definition{
		Kind:     KindMomentum,
		Defaults: Params{"lookback": 10, "threshold": 0, "scale": 0.05},
		Bounds: map[string]Bound{
			"lookback":  {Min: 5, Max: 50, Integer: true},
			"threshold": {Min: 0, Max: 0.02},
		},
		Lookback: func(p Params) int { return p.Int("lookback") },
		Eval: func(closes []float64, p Params) Reading {
			roc := RateOfChange(closes, p.Int("lookback"))
			if math.IsNaN(roc) || math.Abs(roc) <= p["threshold"] {
				return Flat
			}
			return directional(roc / p["scale"])
		},
		Validate: func(p Params) error {
			if p["threshold"] < 0 {
				return fmt.Errorf("threshold must be >= 0")
			}
			return positive("lookback", "scale")(p)
		},
	}
}

// mean_reversion fades closes more than std_dev_threshold deviations away
// from the lookback mean. Twice the threshold reads as full strength.
func meanReversionDef() Definition {
	return Definition{
		Kind:     KindMeanReversion,
		Defaults: Params{"lookback": 20, "std_dev_threshold": 2.0},
		Bounds: map[string]Bound{
			"lookback":          {Min: 10, Max: 60, Integer: true},
			"std_dev_threshold": {Min: 1.0, Max: 3.0},
		},
		Lookback: func(p Params) int { return p.Int("lookback") },
		Eval: func(closes []float64, p Params) Reading {
			window := closes[len(closes)-p.Int("lookback"):]
			vol := StdDev(window)
			if vol == 0 {
				return Flat
			}
			k := p["std_dev_threshold"]
			z := (closes[len(closes)-1] - Mean(window)) / vol
			if math.Abs(z) < k {
				return Flat
			}
			return directional(-z / (2 * k))
		},
		Validate: positive("lookback", "std_dev_threshold"),
	}
}

// rsi buys oversold and sells overbought readings.
func rsiDef() Definition {
	return Definition{
		Kind:     KindRSI,
		Defaults: Params{"rsi_period": 14, "oversold": 30, "overbought": 70},
		Bounds: map[string]Bound{
			"rsi_period": {Min: 5, Max: 50, Integer: true},
			"oversold":   {Min: 20, Max: 40},
			"overbought": {Min: 60, Max: 80},
		},
		Lookback: func(p Params) int { return p.Int("rsi_period") },
		Eval: func(closes []float64, p Params) Reading {
			v := RSI(closes, p.Int("rsi_period"))
			switch {
			case math.IsNaN(v):
				return Flat
			case v < p["oversold"]:
				return directional((p["oversold"] - v) / p["oversold"])
			case v > p["overbought"]:
				return directional(-(v - p["overbought"]) / (100 - p["overbought"]))
			}
			return Flat
		},
		Validate: func(p Params) error {
			if err := positive("rsi_period", "oversold")(p); err != nil {
				return err
			}
			if !(p["oversold"] < p["overbought"]) || p["overbought"] >= 100 {
				return fmt.Errorf("need oversold < overbought < 100")
			}
			return nil
		},
	}
}

// ma_crossover follows the spread between a fast and a slow SMA. scale is
// the relative spread that reads as full strength.
func maCrossoverDef() Definition {
	return Definition{
		Kind:     KindMACrossover,
		Defaults: Params{"fast": 20, "slow": 50, "scale": 0.02},
		Bounds: map[string]Bound{
			"fast": {Min: 5, Max: 50, Integer: true},
			"slow": {Min: 20, Max: 200, Integer: true},
		},
		Lookback: func(p Params) int { return p.Int("slow") },
		Eval: func(closes []float64, p Params) Reading {
			slow := SMA(closes, p.Int("slow"))
			if math.IsNaN(slow) || slow == 0 {
				return Flat
			}
			fast := SMA(closes, p.Int("fast"))
			return directional((fast - slow) / slow / p["scale"])
		},
		Validate: func(p Params) error {
			if err := positive("fast", "slow", "scale")(p); err != nil {
				return err
			}
			if p.Int("fast") >= p.Int("slow") {
				return fmt.Errorf("fast must be < slow")
			}
			return nil
		},
	}
}

// macd follows the histogram, normalised by price. scale is the histogram
// to price ratio that reads as full strength.
func macdDef() Definition {
	return Definition{
		Kind:     KindMACD,
		Defaults: Params{"fast": 12, "slow": 26, "signal": 9, "scale": 0.005},
		Bounds: map[string]Bound{
			"fast":   {Min: 5, Max: 20, Integer: true},
			"slow":   {Min: 21, Max: 50, Integer: true},
			"signal": {Min: 5, Max: 15, Integer: true},
		},
		Lookback: func(p Params) int { return p.Int("slow") + p.Int("signal") },
		Eval: func(closes []float64, p Params) Reading {
			m := MACD(closes, p.Int("fast"), p.Int("slow"), p.Int("signal"))
			last := closes[len(closes)-1]
			if math.IsNaN(m.Histogram) || last == 0 {
				return Flat
			}
			return directional(m.Histogram / last / p["scale"])
		},
		Validate: func(p Params) error {
			if err := positive("fast", "slow", "signal", "scale")(p); err != nil {
				return err
			}
			if p.Int("fast") >= p.Int("slow") {
				return fmt.Errorf("fast must be < slow")
			}
			return nil
		},
	}
}

// bollinger fades closes outside the bands. A close on the band reads as
// half strength, a full band width beyond it as full strength.
func bollingerDef() Definition {
	return Definition{
		Kind:     KindBollinger,
		Defaults: Params{"period": 20, "std": 2.0},
		Bounds: map[string]Bound{
			"period": {Min: 10, Max: 50, Integer: true},
			"std":    {Min: 1.5, Max: 3.0},
		},
		Lookback: func(p Params) int { return p.Int("period") },
		Eval: func(closes []float64, p Params) Reading {
			b := Bollinger(closes, p.Int("period"), p["std"])
			width := b.Upper - b.Lower
			if math.IsNaN(width) || width == 0 {
				return Flat
			}
			last := closes[len(closes)-1]
			switch {
			case last <= b.Lower:
				return directional(0.5 + (b.Lower-last)/width)
			case last >= b.Upper:
				return directional(-(0.5 + (last-b.Upper)/width))
			}
			return Flat
		},
		Validate: positive("period", "std"),
	}
}
