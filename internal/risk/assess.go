package risk

import (
	"math"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// Level buckets a risk score.
type Level string

const (
	LevelMinimal  Level = "minimal"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Assessment is a utilisation summary of the portfolio against its limits.
type Assessment struct {
	Score                float64 `json:"score"`
	Level                Level   `json:"level"`
	Exposure             float64 `json:"exposure"`
	ExposureUtilization  float64 `json:"exposure_utilization"`
	PositionUtilization  float64 `json:"position_utilization"`
	DailyLossUtilization float64 `json:"daily_loss_utilization"`
	OpenPositions        int     `json:"open_positions"`
	Equity               float64 `json:"equity"`
	UnrealizedPnL        float64 `json:"unrealized_pnl"`
	BreakerTripped       bool    `json:"breaker_tripped"`
}

// Assess scores portfolio from 0 (idle) to 100 (at or past a limit). A
// tripped breaker scores 100.
func Assess(portfolio domain.PortfolioState, limits domain.RiskLimits) Assessment {
	a := Assessment{
		Exposure:       portfolio.Exposure(),
		OpenPositions:  portfolio.OpenPositions(),
		Equity:         portfolio.Equity(),
		UnrealizedPnL:  portfolio.UnrealizedPnL(),
		BreakerTripped: portfolio.Breaker.Tripped,
	}
	a.ExposureUtilization = utilization(a.Exposure, limits.MaxAggregateExposure)
	for _, sym := range portfolio.Symbols() {
		a.PositionUtilization = math.Max(a.PositionUtilization, utilization(portfolio.SymbolExposure(sym), limits.MaxPositionNotional))
	}
	a.DailyLossUtilization = utilization(portfolio.DailyLoss(), limits.MaxDailyLoss)

	score := 100 * (0.4*a.ExposureUtilization + 0.3*a.PositionUtilization + 0.3*a.DailyLossUtilization)
	if a.BreakerTripped {
		score = 100
	}
	a.Score = math.Min(100, score)
	a.Level = levelFor(a.Score)
	return a
}

func utilization(value, limit float64) float64 {
	if value <= 0 {
		return 0
	}
	if limit <= 0 {
		return 1
	}
	return math.Min(1, value/limit)
}

func levelFor(score float64) Level {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 40:
		return LevelMedium
	case score >= 20:
		return LevelLow
	default:
		return LevelMinimal
	}
}
