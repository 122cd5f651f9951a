// Package agent holds the decision units of the trading desk and the manager
// that sequences them.
package agent

import (
	"sort"

	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/strategy"
)

// Generate evaluates every strategy of c on snap and returns the signals
// ordered by strength, strongest first. A window shorter than the required
// lookback yields no signals. Readings with no opinion are dropped.
func Generate(snap domain.MarketSnapshot, c *strategy.Compiled) []domain.Signal {
	if c == nil || len(snap.Window) < c.RequiredLookback() {
		return nil
	}
	closes := snap.Closes()
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = snap.Bar.Time
	}

	type ranked struct {
		sig   domain.Signal
		order int
	}
	out := make([]ranked, 0, len(c.Instances()))
	for i, inst := range c.Instances() {
		r := inst.Eval(closes)
		if r.Strength == 0 && r.Direction == domain.DirectionFlat {
			continue
		}
		out = append(out, ranked{
			sig: domain.Signal{
				Symbol:     snap.Symbol,
				Direction:  r.Direction,
				Strength:   r.Strength,
				StrategyID: inst.ID,
				Timestamp:  ts,
				RefPrice:   snap.Bar.Close,
			},
			order: i,
		})
	}

	declared := c.TieBreak() == domain.TieBreakDeclared
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.sig.Strength != b.sig.Strength {
			return a.sig.Strength > b.sig.Strength
		}
		if declared {
			return a.order < b.order
		}
		return a.sig.StrategyID < b.sig.StrategyID
	})

	signals := make([]domain.Signal, len(out))
	for i, r := range out {
		signals[i] = r.sig
	}
	return signals
}
