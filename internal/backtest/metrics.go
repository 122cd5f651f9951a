package backtest

import (
	"math"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

func computeMetrics(trades []domain.SimulatedTrade, equity []domain.EquityPoint, s Settings) domain.BacktestMetrics {
	m := domain.BacktestMetrics{
		TradeCount:  len(trades),
		FinalEquity: s.InitialCapital,
	}
	if n := len(equity); n > 0 {
		m.FinalEquity = equity[n-1].Equity
	}
	m.TotalReturn = m.FinalEquity - s.InitialCapital
	if s.InitialCapital > 0 {
		m.TotalReturnPct = m.TotalReturn / s.InitialCapital * 100
	}
	m.MaxDrawdown = MaxDrawdown(equity)
	m.Sharpe = Sharpe(barReturns(equity), s.PeriodsPerYear)

	var wins, grossWin, grossLoss float64
	for _, tr := range trades {
		m.Fees += tr.Fee
		if tr.RealizedPnL == 0 {
			continue
		}
		m.ClosedTrades++
		if tr.RealizedPnL > 0 {
			wins++
			grossWin += tr.RealizedPnL
			m.LargestWin = math.Max(m.LargestWin, tr.RealizedPnL)
		} else {
			grossLoss -= tr.RealizedPnL
			m.LargestLoss = math.Min(m.LargestLoss, tr.RealizedPnL)
		}
	}
	if m.ClosedTrades > 0 {
		m.WinRate = wins / float64(m.ClosedTrades)
	}
	if wins > 0 {
		m.AverageWin = grossWin / wins
	}
	if losses := float64(m.ClosedTrades) - wins; losses > 0 {
		m.AverageLoss = -grossLoss / losses
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	}
	return m
}

// MaxDrawdown is the largest peak-to-trough fall of the curve as a
// fraction of the peak.
func MaxDrawdown(equity []domain.EquityPoint) float64 {
	var peak, worst float64
	for i, p := range equity {
		if i == 0 || p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// Sharpe is mean over sample standard deviation of returns, annualised by
// √periods. It is 0 when the deviation is 0 or there are fewer than two
// returns.
func Sharpe(returns []float64, periods float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var sumSq float64
	for _, r := range returns {
		d := r - mean
		sumSq += d * d
	}
	std := math.Sqrt(sumSq / float64(len(returns)-1))
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(periods)
}

func barReturns(equity []domain.EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, equity[i].Equity/prev-1)
	}
	return out
}
