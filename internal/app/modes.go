package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/agentdesk/internal/agent"
	"github.com/alanyoungcy/agentdesk/internal/backtest"
	"github.com/alanyoungcy/agentdesk/internal/config"
	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/executor"
	"github.com/alanyoungcy/agentdesk/internal/feed"
	"github.com/alanyoungcy/agentdesk/internal/optimizer"
	"github.com/alanyoungcy/agentdesk/internal/risk"
	"github.com/alanyoungcy/agentdesk/internal/server"
	"github.com/alanyoungcy/agentdesk/internal/server/handler"
	"github.com/alanyoungcy/agentdesk/internal/server/ws"
	"github.com/alanyoungcy/agentdesk/internal/service"
	"github.com/alanyoungcy/agentdesk/internal/strategy"
)

// defaultLookback is the history loaded when no start date is configured.
const defaultLookback = 365 * 24 * time.Hour

// fillReplayPages bounds how many pages of stored fills rebuild the book.
const fillReplayPages = 20

// TradeMode runs the agent manager against a live or replayed feed, with
// paper or live execution depending on the mode.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode", slog.String("feed", a.cfg.Feed.Source))

	limits, err := risk.NewLimitsHolder(a.cfg.Risk.Limits())
	if err != nil {
		return fmt.Errorf("app: trade mode: %w", err)
	}
	// Replayed bars carry historical times, so the risk day starts on the
	// first replayed bar rather than today.
	var series []domain.Series
	if a.cfg.Feed.Source == "replay" {
		if series, err = a.loadSeries(ctx, deps); err != nil {
			return fmt.Errorf("app: trade mode: %w", err)
		}
	}
	book := risk.NewBook(a.cfg.Risk.InitialCapital, bookStart(series, time.Now()))
	if err := a.restoreBook(ctx, deps, book, limits.Load()); err != nil {
		return fmt.Errorf("app: trade mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	// Market data.
	window := feed.NewBarWindow(a.cfg.Interval, a.cfg.Feed.Window)
	if series != nil {
		replayer := feed.NewReplayer(window, series, a.cfg.Feed.ReplayPace.Duration, a.logger)
		g.Go(func() error { return replayer.Run(ctx) })
	} else {
		stream := feed.NewBinanceStream(a.cfg.Binance.WSURL, a.cfg.Symbols, window, deps.Binance, a.logger)
		g.Go(func() error { return stream.Run(ctx) })
	}

	// Execution.
	var exec domain.ExecutionClient
	if a.cfg.Mode == config.ModeLive {
		var limiter domain.RateLimiter
		if deps.orderLimiter != nil {
			limiter = deps.orderLimiter
		}
		live := executor.NewLive(deps.Binance, limiter, a.logger)
		g.Go(func() error { return live.Run(ctx) })
		exec = live
	} else {
		exec = executor.NewPaper(a.cfg.Backtest.SlippageBps, a.cfg.Backtest.FeeBps, a.logger)
	}

	mgr := agent.NewManager(agent.Config{
		Symbols:       a.cfg.Symbols,
		TickInterval:  a.cfg.Agent.TickInterval.Duration,
		TickTimeout:   a.cfg.Agent.TickTimeout.Duration,
		SubmitTimeout: a.cfg.Agent.SubmitTimeout.Duration,
		PendingTTL:    a.cfg.Agent.PendingTTL.Duration,
	}, window, exec, book, limits, a.logger)

	var hub *ws.Hub
	var broadcaster service.Broadcaster
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(deps.SignalBus, func() any { return mgr.Status() }, a.logger)
		broadcaster = hub
		g.Go(func() error { return hub.Run(ctx) })
	}
	mgr.SetEventSink(service.NewAnnouncer(deps.SignalBus, broadcaster, deps.Audit, a.logger))
	if deps.Notifier.Enabled() {
		mgr.SetAlerter(deps.Notifier)
	}
	if deps.Fills != nil {
		mgr.SetFillRecorder(deps.Fills)
	}
	if err := a.installRevision(ctx, deps, mgr); err != nil {
		return err
	}
	g.Go(func() error { return mgr.Run(ctx) })

	if a.cfg.Optimizer.Enabled {
		opt, err := a.newOptimizerAgent(deps, mgr)
		if err != nil {
			return fmt.Errorf("app: trade mode: %w", err)
		}
		g.Go(func() error { return opt.Run(ctx) })
	}

	if a.cfg.Server.Enabled {
		srv := a.newServer(deps, mgr, hub)
		g.Go(func() error { return srv.Run(ctx) })
	}

	return g.Wait()
}

// BacktestMode replays each symbol's history through the active strategy
// and stores the results.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	compiled, err := strategy.Compile(a.cfg.Strategy)
	if err != nil {
		return fmt.Errorf("app: backtest mode: %w", err)
	}
	series, err := a.loadSeries(ctx, deps)
	if err != nil {
		return fmt.Errorf("app: backtest mode: %w", err)
	}

	engine := a.newEngine()
	results := make([]domain.BacktestResult, 0, len(series))
	for _, s := range series {
		res, err := engine.Run(compiled, s)
		if err != nil {
			return fmt.Errorf("app: backtest mode: %w", err)
		}
		a.logger.InfoContext(ctx, "backtest finished",
			slog.String("symbol", res.Symbol),
			slog.String("result_id", res.ID),
			slog.Int("bars", res.Bars),
			slog.Int("trades", res.Metrics.TradeCount),
			slog.Float64("total_return_pct", res.Metrics.TotalReturnPct),
			slog.Float64("sharpe", res.Metrics.Sharpe),
			slog.Float64("max_drawdown", res.Metrics.MaxDrawdown),
		)
		a.saveResults(ctx, deps, []domain.BacktestResult{res})
		results = append(results, res)
	}
	return a.writeOutput(results)
}

// optimizeReport is the output of one optimize run per symbol.
type optimizeReport struct {
	Symbol      string                       `json:"symbol"`
	Outcome     *optimizer.Outcome           `json:"outcome,omitempty"`
	WalkForward *optimizer.WalkForwardReport `json:"walk_forward,omitempty"`
	Revision    int64                        `json:"revision,omitempty"`
}

// OptimizeMode searches the configured space for each symbol. A plain
// search stores its winner as the next revision for the next trade run to
// adopt; a walk-forward run only reports.
func (a *App) OptimizeMode(ctx context.Context, deps *Dependencies) error {
	space, err := a.cfg.SearchSpace()
	if err != nil {
		return fmt.Errorf("app: optimize mode: %w", err)
	}
	series, err := a.loadSeries(ctx, deps)
	if err != nil {
		return fmt.Errorf("app: optimize mode: %w", err)
	}

	opt := optimizer.New(a.cfg.Strategy, a.newEngine(), a.optimizerOptions(), a.logger)
	reports := make([]optimizeReport, 0, len(series))
	for _, s := range series {
		rep := optimizeReport{Symbol: s.Symbol}
		wf := a.cfg.Optimizer.WalkForward
		if wf.Enabled {
			out, err := opt.WalkForward(ctx, space, s, optimizer.WalkForwardOptions{
				Train:      wf.Train,
				Test:       wf.Test,
				Step:       wf.Step,
				Iterations: a.cfg.Optimizer.Iterations,
			})
			rep.WalkForward = &out
			reports = append(reports, rep)
			if err != nil {
				_ = a.writeOutput(reports)
				return fmt.Errorf("app: optimize mode: %w", err)
			}
			continue
		}

		out, err := opt.Optimize(ctx, space, s, a.cfg.Optimizer.Iterations)
		a.saveResults(ctx, deps, out.Results)
		rep.Outcome = &out
		if err != nil {
			reports = append(reports, rep)
			_ = a.writeOutput(reports)
			return fmt.Errorf("app: optimize mode: %w", err)
		}
		a.logger.InfoContext(ctx, "optimization finished",
			slog.String("symbol", s.Symbol),
			slog.Float64("objective", out.Objective),
			slog.Int("trials", len(out.Trials)),
			slog.Bool("best_effort", out.BestEffort),
			slog.String("stopped", out.Stopped),
		)
		if out.Result.ID != "" {
			rev, err := a.storeRevision(ctx, deps, out.Config, out.Objective)
			if err != nil {
				a.logger.WarnContext(ctx, "failed to store optimized revision", slog.String("error", err.Error()))
			}
			rep.Revision = rev
		}
		reports = append(reports, rep)
	}
	return a.writeOutput(reports)
}

// installRevision adopts the newest stored revision for the configured
// strategy name, or publishes the file config as the first one.
func (a *App) installRevision(ctx context.Context, deps *Dependencies, mgr *agent.Manager) error {
	if deps.Revisions != nil {
		cfg, _, err := deps.Revisions.Latest(ctx, a.cfg.Strategy.Name)
		switch {
		case err == nil:
			if err := mgr.Adopt(ctx, cfg); err != nil {
				return fmt.Errorf("app: adopt stored revision: %w", err)
			}
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("app: load stored revision: %w", err)
		}
	}
	if _, err := mgr.Publish(ctx, a.cfg.Strategy); err != nil {
		return fmt.Errorf("app: publish initial revision: %w", err)
	}
	if deps.Revisions != nil {
		if err := deps.Revisions.Save(ctx, mgr.Active().Config(), 0); err != nil {
			a.logger.WarnContext(ctx, "failed to store initial revision", slog.String("error", err.Error()))
		}
	}
	return nil
}

// storeRevision saves cfg as the revision after the newest stored one.
func (a *App) storeRevision(ctx context.Context, deps *Dependencies, cfg domain.StrategyConfig, objective float64) (int64, error) {
	if deps.Revisions == nil {
		return 0, nil
	}
	next := int64(1)
	latest, _, err := deps.Revisions.Latest(ctx, cfg.Name)
	switch {
	case err == nil:
		next = latest.Revision + 1
	case !errors.Is(err, domain.ErrNotFound):
		return 0, err
	}
	cfg = cfg.Clone()
	cfg.Revision = next
	cfg.CreatedAt = time.Now().UTC()
	if err := deps.Revisions.Save(ctx, cfg, objective); err != nil {
		return 0, err
	}
	return next, nil
}

// restoreBook replays stored fills, oldest first, so a restart resumes with
// the positions this deployment already holds.
func (a *App) restoreBook(ctx context.Context, deps *Dependencies, book *risk.Book, limits domain.RiskLimits) error {
	if deps.Fills == nil || a.cfg.Mode != config.ModeLive {
		return nil
	}
	var fills []domain.Fill
	for _, sym := range a.cfg.Symbols {
		for page := 0; page < fillReplayPages; page++ {
			batch, err := deps.Fills.ListBySymbol(ctx, sym, domain.ListOpts{Limit: 1000, Offset: page * 1000})
			if err != nil {
				return fmt.Errorf("restore book: %w", err)
			}
			fills = append(fills, batch...)
			if len(batch) < 1000 {
				break
			}
		}
	}
	slices.SortStableFunc(fills, func(x, y domain.Fill) int { return x.Time.Compare(y.Time) })
	for _, f := range fills {
		book.RollDay(f.Time)
		if _, err := book.ApplyFill(f, limits); err != nil {
			a.logger.WarnContext(ctx, "skipping stored fill", slog.String("fill_id", f.ID), slog.String("error", err.Error()))
		}
	}
	book.RollDay(time.Now())
	if len(fills) > 0 {
		a.logger.InfoContext(ctx, "book restored from fills", slog.Int("fills", len(fills)))
	}
	return nil
}

// bookStart is the earliest first bar across series, or now when nothing is
// replayed.
func bookStart(series []domain.Series, now time.Time) time.Time {
	start := time.Time{}
	for _, s := range series {
		if len(s.Bars) == 0 {
			continue
		}
		if t := s.Bars[0].Time; start.IsZero() || t.Before(start) {
			start = t
		}
	}
	if start.IsZero() {
		return now
	}
	return start
}

func (a *App) loadSeries(ctx context.Context, deps *Dependencies) ([]domain.Series, error) {
	from, to, err := a.cfg.Backtest.Range(time.Now())
	if err != nil {
		return nil, err
	}
	if from.IsZero() {
		from = to.Add(-defaultLookback)
	}
	out := make([]domain.Series, 0, len(a.cfg.Symbols))
	for _, sym := range a.cfg.Symbols {
		s, err := deps.History.Load(ctx, sym, a.cfg.Interval, from, to)
		if err != nil {
			return nil, fmt.Errorf("load %s history: %w", sym, err)
		}
		a.logger.InfoContext(ctx, "history loaded",
			slog.String("symbol", sym),
			slog.Int("bars", s.Len()),
			slog.Time("from", from),
			slog.Time("to", to),
		)
		out = append(out, s)
	}
	return out, nil
}

func (a *App) newEngine() *backtest.Engine {
	return backtest.New(backtest.Settings{
		InitialCapital: a.cfg.Risk.InitialCapital,
		SlippageBps:    a.cfg.Backtest.SlippageBps,
		FeeBps:         a.cfg.Backtest.FeeBps,
		WindowSize:     a.cfg.Backtest.WindowSize,
		PeriodsPerYear: a.cfg.Backtest.PeriodsPerYear,
		Limits:         a.cfg.Risk.Limits(),
	})
}

func (a *App) optimizerOptions() optimizer.Options {
	o := a.cfg.Optimizer
	return optimizer.Options{
		Iterations:      o.Iterations,
		MaxDuration:     o.MaxDuration.Duration,
		Startup:         o.Startup,
		Candidates:      o.Candidates,
		Gamma:           o.Gamma,
		Parallelism:     o.Parallelism,
		DrawdownPenalty: o.DrawdownPenalty,
		MinTrades:       o.MinTrades,
		Seed:            o.Seed,
	}
}

func (a *App) newOptimizerAgent(deps *Dependencies, mgr *agent.Manager) (*optimizer.Agent, error) {
	space, err := a.cfg.SearchSpace()
	if err != nil {
		return nil, err
	}
	o := a.cfg.Optimizer
	ag, err := optimizer.NewAgent(optimizer.AgentConfig{
		Symbol:         a.cfg.Symbols[0],
		Interval:       a.cfg.Interval,
		Every:          o.Every.Duration,
		History:        o.History.Duration,
		Iterations:     o.Iterations,
		MinImprovement: o.MinImprovement,
		LockTTL:        o.LockTTL.Duration,
		Space:          space,
	}, a.optimizerOptions(), a.newEngine(), deps.History, mgr, a.logger)
	if err != nil {
		return nil, err
	}
	ag.SetResultStore(deps.Results)
	ag.SetRevisionStore(deps.Revisions)
	ag.SetLockManager(deps.Locks)
	ag.SetSignalBus(deps.SignalBus)
	return ag, nil
}

func (a *App) newServer(deps *Dependencies, mgr *agent.Manager, hub *ws.Hub) *server.Server {
	path := a.cfg.Path
	reload := func() (domain.RiskLimits, error) { return config.ReloadRisk(path) }
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, mgr.Status),
		Portfolio: handler.NewPortfolioHandler(mgr.Book(), mgr.Limits()),
		Risk:      handler.NewRiskHandler(mgr, mgr.Limits(), reload, deps.Audit, a.logger),
		Strategy:  handler.NewStrategyHandler(mgr, deps.Revisions, a.logger),
		Records:   handler.NewRecordsHandler(deps.Lister, deps.Fills, deps.Audit, a.logger),
	}
	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)
}

func (a *App) saveResults(ctx context.Context, deps *Dependencies, results []domain.BacktestResult) {
	if deps.Results == nil {
		return
	}
	for _, r := range results {
		if err := deps.Results.SaveResult(ctx, r); err != nil {
			a.logger.WarnContext(ctx, "failed to save backtest result",
				slog.String("result_id", r.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// writeOutput writes v as indented JSON to the configured output file.
func (a *App) writeOutput(v any) error {
	path := a.cfg.Backtest.Output
	if path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("app: encode output: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("app: write output %s: %w", path, err)
	}
	a.logger.Info("output written", slog.String("path", path))
	return nil
}
