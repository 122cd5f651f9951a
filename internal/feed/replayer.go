package feed

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// Replayer pushes historical bars into a BarWindow in time order, which lets
// paper mode run the live loop without an exchange connection.
type Replayer struct {
	window *BarWindow
	series []domain.Series
	pace   time.Duration
	logger *slog.Logger
}

// NewReplayer replays series into window, waiting pace between distinct bar
// times. Zero pace pushes without waiting; a reader may then see only the
// newest bar.
func NewReplayer(window *BarWindow, series []domain.Series, pace time.Duration, logger *slog.Logger) *Replayer {
	return &Replayer{
		window: window,
		series: series,
		pace:   pace,
		logger: logger.With(slog.String("component", "replayer")),
	}
}

type replayBar struct {
	symbol string
	bar    domain.Bar
}

// Run returns nil once every bar has been pushed.
func (r *Replayer) Run(ctx context.Context) error {
	var all []replayBar
	for _, s := range r.series {
		for _, b := range s.Bars {
			all = append(all, replayBar{symbol: s.Symbol, bar: b})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].bar.Time.Equal(all[j].bar.Time) {
			return all[i].bar.Time.Before(all[j].bar.Time)
		}
		return all[i].symbol < all[j].symbol
	})

	r.logger.Info("replay started", slog.Int("bars", len(all)), slog.Duration("pace", r.pace))
	var prev time.Time
	for _, rb := range all {
		if r.pace > 0 && !prev.IsZero() && rb.bar.Time.After(prev) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.pace):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		prev = rb.bar.Time
		if err := r.window.Push(rb.symbol, rb.bar); err != nil {
			r.logger.Warn("replay bar skipped", slog.String("symbol", rb.symbol), slog.String("error", err.Error()))
		}
	}
	r.logger.Info("replay finished")
	return nil
}
