// Package optimizer searches strategy parameter spaces with seeded
// sequential model-based optimisation over backtests.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/agentdesk/internal/backtest"
	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/strategy"
)

// Objective scores for candidates that cannot be ranked on metrics.
const (
	ScoreTooFewTrades = -1.0
	ScoreInvalid      = -2.0
)

// Reasons a search stopped.
const (
	StoppedIterations = "iterations"
	StoppedBudget     = "budget"
	StoppedCancelled  = "cancelled"
)

// Options tune the search.
type Options struct {
	Iterations int
	// MaxDuration bounds wall-clock time. Zero means no budget.
	MaxDuration time.Duration
	// Startup is the number of random trials before the model is used.
	Startup    int
	Candidates int
	Gamma      float64
	// Parallelism bounds concurrent backtests per round.
	Parallelism     int
	DrawdownPenalty float64
	MinTrades       int
	// Seed drives every random draw. Zero uses the base config seed.
	Seed uint64
}

// DefaultOptions returns 50 iterations, 10 startup trials and four workers.
func DefaultOptions() Options {
	return Options{
		Iterations:      50,
		Startup:         10,
		Candidates:      24,
		Gamma:           0.25,
		Parallelism:     4,
		DrawdownPenalty: 2.0,
		MinTrades:       3,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Iterations <= 0 {
		o.Iterations = d.Iterations
	}
	if o.Startup <= 0 {
		o.Startup = d.Startup
	}
	if o.Candidates <= 0 {
		o.Candidates = d.Candidates
	}
	if o.Gamma <= 0 || o.Gamma >= 1 {
		o.Gamma = d.Gamma
	}
	if o.Parallelism <= 0 {
		o.Parallelism = d.Parallelism
	}
	if o.DrawdownPenalty < 0 {
		o.DrawdownPenalty = d.DrawdownPenalty
	}
	if o.MinTrades < 0 {
		o.MinTrades = 0
	}
	return o
}

// Trial is one evaluated candidate.
type Trial struct {
	Index     int                    `json:"index"`
	Values    map[string]float64     `json:"values"`
	Objective float64                `json:"objective"`
	Metrics   domain.BacktestMetrics `json:"metrics"`
	ResultID  string                 `json:"result_id,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Outcome is the result of a search. Results holds every successful
// backtest in trial order.
type Outcome struct {
	Config     domain.StrategyConfig   `json:"config"`
	Result     domain.BacktestResult   `json:"result"`
	Objective  float64                 `json:"objective"`
	Trials     []Trial                 `json:"trials"`
	Results    []domain.BacktestResult `json:"-"`
	BestEffort bool                    `json:"best_effort"`
	Stopped    string                  `json:"stopped"`
}

// Optimizer searches around a base config. It never touches live state;
// every backtest builds its own book.
type Optimizer struct {
	base   domain.StrategyConfig
	engine *backtest.Engine
	opts   Options
	logger *slog.Logger
}

// New returns an optimizer for base.
func New(base domain.StrategyConfig, engine *backtest.Engine, opts Options, logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{
		base:   base.Clone(),
		engine: engine,
		opts:   opts.withDefaults(),
		logger: logger.With(slog.String("component", "optimizer")),
	}
}

// Options returns the effective options.
func (o *Optimizer) Options() Options { return o.opts }

// Score ranks a backtest result.
func (o *Optimizer) Score(m domain.BacktestMetrics) float64 {
	if m.TradeCount < o.opts.MinTrades {
		return ScoreTooFewTrades
	}
	return m.Sharpe - o.opts.DrawdownPenalty*m.MaxDrawdown
}

// Optimize runs up to iterations trials (Options.Iterations when <= 0). The
// first trial is the base config. Running out of iterations or budget
// returns the best found with no error; BestEffort marks a budget stop.
// Parent cancellation returns the best found together with ctx.Err().
func (o *Optimizer) Optimize(ctx context.Context, space domain.SearchSpace, series domain.Series, iterations int) (Outcome, error) {
	if err := space.Validate(o.base); err != nil {
		return Outcome{}, fmt.Errorf("optimizer: optimize: %w", err)
	}
	if len(series.Bars) < 2 {
		return Outcome{}, fmt.Errorf("optimizer: optimize: %w: %d bars", domain.ErrInsufficientData, len(series.Bars))
	}
	if iterations <= 0 {
		iterations = o.opts.Iterations
	}

	budget := ctx
	if o.opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		budget, cancel = context.WithTimeout(ctx, o.opts.MaxDuration)
		defer cancel()
	}

	seed := o.opts.Seed
	if seed == 0 {
		seed = o.base.Seed
	}
	smp := &sampler{
		space:      space,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		gamma:      o.opts.Gamma,
		candidates: o.opts.Candidates,
	}

	out := Outcome{Objective: math.Inf(-1)}
	var history []Trial
	started := time.Now()

	for len(history) < iterations {
		if err := ctx.Err(); err != nil {
			out.Stopped = StoppedCancelled
			o.finish(&out, history, started)
			return out, err
		}
		if budget.Err() != nil {
			out.Stopped = StoppedBudget
			out.BestEffort = true
			o.finish(&out, history, started)
			return out, nil
		}

		n := min(o.opts.Parallelism, iterations-len(history))
		proposals := make([]map[string]float64, n)
		for i := range proposals {
			idx := len(history) + i
			switch {
			case idx == 0:
				proposals[i] = baseValues(o.base, space)
			case idx < o.opts.Startup:
				proposals[i] = smp.random()
			default:
				proposals[i] = smp.propose(history)
			}
		}

		trials, results, done := o.evaluate(budget, proposals, series, len(history))
		for i := 0; i < n; i++ {
			if !done[i] {
				continue
			}
			history = append(history, trials[i])
			if trials[i].Error == "" {
				out.Results = append(out.Results, results[i])
				if trials[i].Objective > out.Objective {
					out.Objective = trials[i].Objective
					out.Result = results[i]
					out.Config = results[i].Config
				}
			}
		}
	}

	out.Stopped = StoppedIterations
	o.finish(&out, history, started)
	return out, nil
}

// evaluate backtests proposals on a bounded pool. A proposal not started
// before ctx ends is reported as not done.
func (o *Optimizer) evaluate(ctx context.Context, proposals []map[string]float64, series domain.Series, offset int) ([]Trial, []domain.BacktestResult, []bool) {
	trials := make([]Trial, len(proposals))
	results := make([]domain.BacktestResult, len(proposals))
	done := make([]bool, len(proposals))

	var g errgroup.Group
	g.SetLimit(o.opts.Parallelism)
	for i, values := range proposals {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			trials[i], results[i] = o.trial(offset+i, values, series)
			done[i] = true
			return nil
		})
	}
	_ = g.Wait()
	return trials, results, done
}

func (o *Optimizer) trial(index int, values map[string]float64, series domain.Series) (Trial, domain.BacktestResult) {
	t := Trial{Index: index, Values: values, Objective: ScoreInvalid}
	cfg, err := o.base.WithValues(values)
	if err != nil {
		t.Error = err.Error()
		return t, domain.BacktestResult{}
	}
	c, err := strategy.Compile(cfg)
	if err != nil {
		t.Error = err.Error()
		return t, domain.BacktestResult{}
	}
	res, err := o.engine.Run(c, series)
	if err != nil {
		t.Error = err.Error()
		return t, domain.BacktestResult{}
	}
	t.Metrics = res.Metrics
	t.ResultID = res.ID
	t.Objective = o.Score(res.Metrics)
	return t, res
}

func (o *Optimizer) finish(out *Outcome, history []Trial, started time.Time) {
	out.Trials = history
	if out.Result.ID == "" {
		out.Objective = ScoreInvalid
		out.Config = o.base.Clone()
	}
	o.logger.Info("optimization finished",
		slog.Int("trials", len(history)),
		slog.String("stopped", out.Stopped),
		slog.Bool("best_effort", out.BestEffort),
		slog.Float64("objective", out.Objective),
		slog.Duration("elapsed", time.Since(started)),
	)
}

// baseValues reads the space's keys from cfg, clamped into range.
func baseValues(cfg domain.StrategyConfig, space domain.SearchSpace) map[string]float64 {
	current := cfg.Values()
	out := make(map[string]float64, len(space))
	for _, r := range space {
		v, ok := current[r.Key]
		if !ok {
			v = (r.Min + r.Max) / 2
			if r.Integer {
				v = math.Round(v)
			}
		}
		out[r.Key] = math.Min(r.Max, math.Max(r.Min, v))
	}
	return out
}
