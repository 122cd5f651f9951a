package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/platform/binance"
)

// KlineFetcher is the REST call used to backfill missed bars.
// *binance.Client satisfies it.
type KlineFetcher interface {
	Klines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]domain.Bar, error)
}

// BinanceStream keeps a BarWindow current from the Binance kline stream. On
// every (re)connect it backfills over REST from the newest held bar, so a
// disconnect leaves no hole unless the exchange has none to give.
type BinanceStream struct {
	wsURL   string
	symbols []string
	window  *BarWindow
	rest    KlineFetcher
	logger  *slog.Logger
	now     func() time.Time

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewBinanceStream creates a stream feeding window. rest may be nil to skip
// backfill.
func NewBinanceStream(wsURL string, symbols []string, window *BarWindow, rest KlineFetcher, logger *slog.Logger) *BinanceStream {
	return &BinanceStream{
		wsURL:      wsURL,
		symbols:    symbols,
		window:     window,
		rest:       rest,
		logger:     logger.With(slog.String("component", "binance_feed")),
		now:        time.Now,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Run streams until ctx is cancelled, reconnecting with exponential backoff.
func (s *BinanceStream) Run(ctx context.Context) error {
	if len(s.symbols) == 0 {
		s.logger.Info("no symbols to stream, exiting")
		return nil
	}
	backoff := s.minBackoff
	for {
		if err := s.Backfill(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("kline backfill failed", slog.String("error", err.Error()))
		}

		started := s.now()
		stream := binance.NewKlineStream(s.wsURL, s.symbols, s.window.Interval(), s.onKline)
		s.logger.Info("kline stream connecting", slog.String("url", stream.URL()))
		err := stream.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.now().Sub(started) > time.Minute {
			backoff = s.minBackoff
		}
		s.logger.Warn("kline stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

func (s *BinanceStream) onKline(symbol string, bar domain.Bar) {
	if err := s.window.Push(symbol, bar); err != nil && !errors.Is(err, ErrOutOfOrder) {
		s.logger.Warn("kline dropped", slog.String("symbol", symbol), slog.String("error", err.Error()))
	}
}

// Backfill loads closed bars after the newest held bar for every symbol. A
// symbol with no bars is seeded with a full window.
func (s *BinanceStream) Backfill(ctx context.Context) error {
	if s.rest == nil {
		return nil
	}
	step := domain.IntervalDuration(s.window.Interval())
	if step <= 0 {
		return nil
	}
	now := s.now().UTC()
	var errs []error
	for _, sym := range s.symbols {
		latest, ok := s.window.Latest(sym)
		start := now.Add(-time.Duration(s.window.size+1) * step)
		if ok {
			start = latest.Add(step)
		}
		bars, err := s.rest.Klines(ctx, sym, s.window.Interval(), start, now, binance.MaxKlines)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		closed := bars[:0]
		for _, b := range bars {
			if !b.Time.Add(step).After(now) {
				closed = append(closed, b)
			}
		}
		if !ok {
			if err := s.window.Seed(sym, closed); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		for _, b := range closed {
			if err := s.window.Push(sym, b); err != nil && !errors.Is(err, ErrOutOfOrder) {
				errs = append(errs, err)
			}
		}
		if len(closed) > 0 {
			s.logger.Info("kline backfill applied", slog.String("symbol", sym), slog.Int("bars", len(closed)))
		}
	}
	return errors.Join(errs...)
}
