package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/strategy"
)

// WalkForwardOptions size the rolling folds.
type WalkForwardOptions struct {
	Train int
	Test  int
	Step  int
	// Iterations per fold. Zero uses the optimizer's default.
	Iterations int
}

// DefaultWalkForward returns 90 train bars, 30 test bars and a 30 bar step.
func DefaultWalkForward() WalkForwardOptions {
	return WalkForwardOptions{Train: 90, Test: 30, Step: 30}
}

// Fold is one train/test split.
type Fold struct {
	Index          int                    `json:"index"`
	TrainFrom      time.Time              `json:"train_from"`
	TrainTo        time.Time              `json:"train_to"`
	TestFrom       time.Time              `json:"test_from"`
	TestTo         time.Time              `json:"test_to"`
	Config         domain.StrategyConfig  `json:"config"`
	TrainObjective float64                `json:"train_objective"`
	TestObjective  float64                `json:"test_objective"`
	TestMetrics    domain.BacktestMetrics `json:"test_metrics"`
}

// WalkForwardReport aggregates fold results. Robustness is 0-100.
type WalkForwardReport struct {
	Folds           []Fold  `json:"folds"`
	ProfitableShare float64 `json:"profitable_share"`
	AverageSharpe   float64 `json:"average_sharpe"`
	SharpeStd       float64 `json:"sharpe_std"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	AverageReturn   float64 `json:"average_return"`
	ObjectiveRatio  float64 `json:"objective_ratio"`
	Robustness      float64 `json:"robustness"`
}

// WalkForward optimizes on each train window and scores the winner on the
// following test window. A cancel returns the folds completed so far.
func (o *Optimizer) WalkForward(ctx context.Context, space domain.SearchSpace, series domain.Series, wf WalkForwardOptions) (WalkForwardReport, error) {
	d := DefaultWalkForward()
	if wf.Train <= 0 {
		wf.Train = d.Train
	}
	if wf.Test <= 0 {
		wf.Test = d.Test
	}
	if wf.Step <= 0 {
		wf.Step = d.Step
	}
	if series.Len() < wf.Train+wf.Test {
		return WalkForwardReport{}, fmt.Errorf("optimizer: walk forward: %w: %d bars, need %d", domain.ErrInsufficientData, series.Len(), wf.Train+wf.Test)
	}

	var report WalkForwardReport
	for start := 0; start+wf.Train+wf.Test <= series.Len(); start += wf.Step {
		train := series.Slice(start, start+wf.Train)
		test := series.Slice(start+wf.Train, start+wf.Train+wf.Test)

		out, err := o.Optimize(ctx, space, train, wf.Iterations)
		if err != nil {
			report.summarise()
			return report, fmt.Errorf("optimizer: walk forward fold %d: %w", len(report.Folds), err)
		}
		fold := Fold{
			Index:          len(report.Folds),
			TrainFrom:      train.Bars[0].Time,
			TrainTo:        train.Bars[len(train.Bars)-1].Time,
			TestFrom:       test.Bars[0].Time,
			TestTo:         test.Bars[len(test.Bars)-1].Time,
			Config:         out.Config,
			TrainObjective: out.Objective,
			TestObjective:  ScoreInvalid,
		}
		if c, err := strategy.Compile(out.Config); err == nil {
			if res, err := o.engine.Run(c, test); err == nil {
				fold.TestMetrics = res.Metrics
				fold.TestObjective = o.Score(res.Metrics)
			}
		}
		report.Folds = append(report.Folds, fold)
	}
	report.summarise()

	o.logger.InfoContext(ctx, "walk forward finished",
		slog.Int("folds", len(report.Folds)),
		slog.Float64("robustness", report.Robustness),
	)
	return report, nil
}

func (r *WalkForwardReport) summarise() {
	n := float64(len(r.Folds))
	if n == 0 {
		return
	}
	var profitable, sharpeSum, retSum, trainSum, testSum float64
	for _, f := range r.Folds {
		if f.TestMetrics.TotalReturn > 0 {
			profitable++
		}
		sharpeSum += f.TestMetrics.Sharpe
		retSum += f.TestMetrics.TotalReturnPct / 100
		trainSum += f.TrainObjective
		testSum += f.TestObjective
		r.MaxDrawdown = math.Max(r.MaxDrawdown, f.TestMetrics.MaxDrawdown)
	}
	r.ProfitableShare = profitable / n
	r.AverageSharpe = sharpeSum / n
	r.AverageReturn = retSum / n
	var ss float64
	for _, f := range r.Folds {
		ss += (f.TestMetrics.Sharpe - r.AverageSharpe) * (f.TestMetrics.Sharpe - r.AverageSharpe)
	}
	r.SharpeStd = math.Sqrt(ss / n)
	if trainSum > 0 {
		r.ObjectiveRatio = testSum / trainSum
	}
	r.Robustness = robustness(*r)
}

// robustness weights profitable folds 30, test/train ratio 20, sharpe
// consistency 15, drawdown 20 and average return 15.
func robustness(r WalkForwardReport) float64 {
	score := r.ProfitableShare * 30
	score += math.Min(1, math.Max(0, r.ObjectiveRatio)) * 20
	consistency := 1 - r.SharpeStd/math.Max(math.Abs(r.AverageSharpe), 0.1)
	score += math.Max(0, consistency) * 15
	score += math.Max(0, 1-r.MaxDrawdown) * 20
	if r.AverageReturn > 0 {
		score += math.Min(r.AverageReturn*100, 15)
	}
	return math.Min(100, score)
}
