package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/backtest"
	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/strategy"
)

// Publisher installs new strategy revisions. The agent manager satisfies it.
type Publisher interface {
	Active() *strategy.Compiled
	Publish(ctx context.Context, cfg domain.StrategyConfig) (int64, error)
}

// AgentConfig schedules optimization runs.
type AgentConfig struct {
	Symbol   string
	Interval string
	// Every is the pause between runs.
	Every time.Duration
	// History is how far back each run loads bars.
	History        time.Duration
	Iterations     int
	MinImprovement float64
	LockKey        string
	LockTTL        time.Duration
	Space          domain.SearchSpace
}

// RunReport summarises one scheduled run.
type RunReport struct {
	At              time.Time `json:"at"`
	Symbol          string    `json:"symbol"`
	Bars            int       `json:"bars"`
	Trials          int       `json:"trials"`
	Objective       float64   `json:"objective"`
	ActiveObjective float64   `json:"active_objective"`
	Published       bool      `json:"published"`
	Revision        int64     `json:"revision,omitempty"`
	BestEffort      bool      `json:"best_effort"`
	ResultID        string    `json:"result_id,omitempty"`
	SaveFailures    int       `json:"save_failures,omitempty"`
}

// Agent periodically re-optimizes the active strategy against recent
// history and publishes improvements.
type Agent struct {
	cfg       AgentConfig
	opts      Options
	engine    *backtest.Engine
	history   domain.HistoricalSource
	publisher Publisher
	logger    *slog.Logger

	results   domain.ResultStore
	revisions domain.RevisionStore
	locks     domain.LockManager
	bus       domain.SignalBus

	now func() time.Time
}

// NewAgent validates the search space against the publisher's active config.
// An invalid space is returned as domain.ErrInvalidSearchSpace.
func NewAgent(cfg AgentConfig, opts Options, engine *backtest.Engine, history domain.HistoricalSource, publisher Publisher, logger *slog.Logger) (*Agent, error) {
	active := publisher.Active()
	if active == nil {
		return nil, fmt.Errorf("optimizer: new agent: %w: no active revision", domain.ErrFatal)
	}
	if err := cfg.Space.Validate(active.Config()); err != nil {
		return nil, fmt.Errorf("optimizer: new agent: %w", err)
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "optimizer:" + active.Name()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if cfg.History <= 0 {
		cfg.History = 365 * 24 * time.Hour
	}
	return &Agent{
		cfg:       cfg,
		opts:      opts,
		engine:    engine,
		history:   history,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "optimizer_agent")),
		now:       time.Now,
	}, nil
}

func (a *Agent) SetResultStore(s domain.ResultStore)     { a.results = s }
func (a *Agent) SetRevisionStore(s domain.RevisionStore) { a.revisions = s }
func (a *Agent) SetLockManager(l domain.LockManager)     { a.locks = l }
func (a *Agent) SetSignalBus(b domain.SignalBus)         { a.bus = b }

// Run optimizes immediately and then every cfg.Every until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	a.runLogged(ctx)
	if a.cfg.Every <= 0 {
		return nil
	}

	ticker := time.NewTicker(a.cfg.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("optimizer loop stopped")
			return ctx.Err()
		case <-ticker.C:
			a.runLogged(ctx)
		}
	}
}

func (a *Agent) runLogged(ctx context.Context) {
	if _, err := a.RunOnce(ctx); err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "optimizer run skipped, lock held elsewhere")
			return
		}
		if ctx.Err() != nil {
			return
		}
		a.logger.ErrorContext(ctx, "optimizer run failed", slog.String("error", err.Error()))
	}
}

// RunOnce performs one locked optimize-and-publish cycle.
func (a *Agent) RunOnce(ctx context.Context) (RunReport, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, a.cfg.LockKey, a.cfg.LockTTL)
		if err != nil {
			return RunReport{}, fmt.Errorf("optimizer: run: %w", err)
		}
		defer unlock()
	}

	active := a.publisher.Active()
	if active == nil {
		return RunReport{}, fmt.Errorf("optimizer: run: %w: no active revision", domain.ErrFatal)
	}
	to := a.now().UTC()
	series, err := a.history.Load(ctx, a.cfg.Symbol, a.cfg.Interval, to.Add(-a.cfg.History), to)
	if err != nil {
		return RunReport{}, fmt.Errorf("optimizer: run: load history: %w", err)
	}

	report := RunReport{At: to, Symbol: a.cfg.Symbol, Bars: series.Len()}
	opt := New(active.Config(), a.engine, a.opts, a.logger)
	out, err := opt.Optimize(ctx, a.cfg.Space, series, a.cfg.Iterations)
	report.Trials = len(out.Trials)
	report.Objective = out.Objective
	report.BestEffort = out.BestEffort
	report.ResultID = out.Result.ID
	report.SaveFailures = a.persist(ctx, out.Results)
	if err != nil {
		return report, fmt.Errorf("optimizer: run: %w", err)
	}

	report.ActiveObjective = ScoreInvalid
	if res, err := a.engine.Run(active, series); err == nil {
		report.ActiveObjective = opt.Score(res.Metrics)
	}

	if out.Result.ID == "" || out.Objective < report.ActiveObjective+a.cfg.MinImprovement {
		a.logger.InfoContext(ctx, "optimizer found no improvement",
			slog.Float64("objective", out.Objective),
			slog.Float64("active_objective", report.ActiveObjective),
			slog.Float64("min_improvement", a.cfg.MinImprovement),
		)
		a.announce(ctx, report)
		return report, nil
	}

	rev, err := a.publisher.Publish(ctx, out.Config)
	if err != nil {
		return report, fmt.Errorf("optimizer: run: publish: %w", err)
	}
	report.Published = true
	report.Revision = rev

	if a.revisions != nil {
		cfg := out.Config.Clone()
		cfg.Revision = rev
		if c := a.publisher.Active(); c != nil && c.Revision() == rev {
			cfg = c.Config()
		}
		if err := a.revisions.Save(ctx, cfg, out.Objective); err != nil {
			a.logger.WarnContext(ctx, "failed to save revision",
				slog.Int64("revision", rev),
				slog.String("error", err.Error()),
			)
		}
	}

	a.logger.InfoContext(ctx, "optimizer published revision",
		slog.Int64("revision", rev),
		slog.Float64("objective", out.Objective),
		slog.Float64("active_objective", report.ActiveObjective),
		slog.Int("trials", report.Trials),
	)
	a.announce(ctx, report)
	return report, nil
}

// persist saves every trial result and returns how many saves failed. A
// failure is logged and the remaining results are still saved.
func (a *Agent) persist(ctx context.Context, results []domain.BacktestResult) int {
	if a.results == nil {
		return 0
	}
	failed := 0
	for _, res := range results {
		if err := a.results.SaveResult(ctx, res); err != nil {
			failed++
			a.logger.WarnContext(ctx, "failed to save backtest result",
				slog.String("result_id", res.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if failed > 0 {
		a.logger.WarnContext(ctx, "backtest results not saved",
			slog.Int("failed", failed),
			slog.Int("total", len(results)),
		)
	}
	return failed
}

func (a *Agent) announce(ctx context.Context, report RunReport) {
	if a.bus == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := a.bus.Publish(ctx, domain.ChannelBacktest, payload); err != nil {
		a.logger.WarnContext(ctx, "failed to announce optimizer run", slog.String("error", err.Error()))
	}
}
