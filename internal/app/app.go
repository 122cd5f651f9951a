// Package app wires stores, caches, feeds and agents together and runs the
// configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/agentdesk/internal/config"
)

// App owns the configuration, the logger and the cleanup functions run in
// reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App. cfg must already be validated.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the configured mode until it
// finishes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	modes := map[string]func(context.Context, *Dependencies) error{
		config.ModeLive:     a.TradeMode,
		config.ModePaper:    a.TradeMode,
		config.ModeBacktest: a.BacktestMode,
		config.ModeOptimize: a.OptimizeMode,
	}
	run, ok := modes[a.cfg.Mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "agentdesk starting",
		slog.String("mode", a.cfg.Mode),
		slog.Any("symbols", a.cfg.Symbols),
		slog.String("interval", a.cfg.Interval),
		slog.String("strategy", a.cfg.Strategy.Name),
		slog.Int("strategies", len(a.cfg.Strategy.Strategies)),
	)
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return run(ctx, deps)
}

// Close tears down resources in reverse registration order. Repeated calls
// are no-ops.
func (a *App) Close() {
	a.logger.Info("agentdesk stopping")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
