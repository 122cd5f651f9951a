package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/platform/binance"
)

// KlineFetcher is satisfied by *binance.Client.
type KlineFetcher interface {
	Klines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]domain.Bar, error)
}

// RESTSource pages klines from the exchange.
type RESTSource struct {
	client KlineFetcher
	logger *slog.Logger
}

// NewREST creates a RESTSource.
func NewREST(client KlineFetcher, logger *slog.Logger) *RESTSource {
	return &RESTSource{client: client, logger: logger.With(slog.String("component", "history_rest"))}
}

// Load implements domain.HistoricalSource. Only bars closed by to are kept.
func (s *RESTSource) Load(ctx context.Context, symbol, interval string, from, to time.Time) (domain.Series, error) {
	step := domain.IntervalDuration(interval)
	if step <= 0 {
		return domain.Series{}, fmt.Errorf("history: rest: %w: interval %q", domain.ErrInvalidConfig, interval)
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}

	var bars []domain.Bar
	start := from
	for pages := 0; start.Before(to); pages++ {
		page, err := s.client.Klines(ctx, symbol, interval, start, to, binance.MaxKlines)
		if err != nil {
			return domain.Series{}, fmt.Errorf("history: rest %s page %d: %w", symbol, pages, err)
		}
		for _, b := range page {
			if !b.Time.Add(step).After(to) {
				bars = append(bars, b)
			}
		}
		if len(page) < binance.MaxKlines {
			break
		}
		next := page[len(page)-1].Time.Add(step)
		if !next.After(start) {
			break
		}
		start = next
	}
	s.logger.DebugContext(ctx, "klines loaded", slog.String("symbol", symbol), slog.Int("bars", len(bars)))
	return domain.Series{Symbol: symbol, Interval: interval, Bars: normalise(bars, from, to)}, nil
}
