// Package feed implements domain.MarketDataFeed over closed bars from the
// exchange stream or a historical replay.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// ErrOutOfOrder is returned by Push for a bar older than the latest one.
var ErrOutOfOrder = errors.New("feed: bar out of order")

// BarWindow keeps the most recent closed bars per symbol and serves
// snapshots from them. It is safe for concurrent use.
type BarWindow struct {
	interval string
	step     time.Duration
	size     int

	mu   sync.RWMutex
	bars map[string][]domain.Bar
	gap  map[string]bool

	updates chan string
}

// NewBarWindow keeps size bars of history per symbol in addition to the
// latest bar.
func NewBarWindow(interval string, size int) *BarWindow {
	if size <= 0 {
		size = 200
	}
	return &BarWindow{
		interval: interval,
		step:     domain.IntervalDuration(interval),
		size:     size,
		bars:     make(map[string][]domain.Bar),
		gap:      make(map[string]bool),
		updates:  make(chan string, 64),
	}
}

// Interval returns the bar interval the window was built for.
func (w *BarWindow) Interval() string { return w.interval }

// Push appends a closed bar. A bar with the latest bar's open time replaces
// it without signalling an update. A bar arriving more than one interval
// after the latest marks the next snapshot as following a gap.
func (w *BarWindow) Push(symbol string, bar domain.Bar) error {
	bar.Time = bar.Time.UTC()

	w.mu.Lock()
	bars := w.bars[symbol]
	if n := len(bars); n > 0 {
		last := bars[n-1]
		switch {
		case bar.Time.Before(last.Time):
			w.mu.Unlock()
			return fmt.Errorf("%w: %s %s before %s", ErrOutOfOrder, symbol,
				bar.Time.Format(time.RFC3339), last.Time.Format(time.RFC3339))
		case bar.Time.Equal(last.Time):
			bars[n-1] = bar
			w.mu.Unlock()
			return nil
		}
		w.gap[symbol] = w.step > 0 && bar.Time.Sub(last.Time) > w.step
	}
	bars = append(bars, bar)
	if over := len(bars) - (w.size + 1); over > 0 {
		bars = append(bars[:0:0], bars[over:]...)
	}
	w.bars[symbol] = bars
	w.mu.Unlock()

	select {
	case w.updates <- symbol:
	default:
	}
	return nil
}

// Seed replaces the history for symbol without signalling an update. bars
// must be ascending.
func (w *BarWindow) Seed(symbol string, bars []domain.Bar) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return fmt.Errorf("%w: seed %s at index %d", ErrOutOfOrder, symbol, i)
		}
	}
	if over := len(bars) - (w.size + 1); over > 0 {
		bars = bars[over:]
	}
	out := make([]domain.Bar, len(bars))
	for i, b := range bars {
		b.Time = b.Time.UTC()
		out[i] = b
	}
	w.mu.Lock()
	w.bars[symbol] = out
	w.gap[symbol] = false
	w.mu.Unlock()
	return nil
}

// Latest returns the open time of the newest bar for symbol.
func (w *BarWindow) Latest(symbol string) (time.Time, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	bars := w.bars[symbol]
	if len(bars) == 0 {
		return time.Time{}, false
	}
	return bars[len(bars)-1].Time, true
}

// Snapshot returns the newest bar with the bars before it as the window.
// Timestamp is the bar's close time.
func (w *BarWindow) Snapshot(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.MarketSnapshot{}, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	bars := w.bars[symbol]
	if len(bars) == 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("feed: snapshot %s: %w", symbol, domain.ErrInsufficientData)
	}
	last := bars[len(bars)-1]
	window := make([]domain.Bar, len(bars)-1)
	copy(window, bars[:len(bars)-1])
	return domain.MarketSnapshot{
		Symbol:    symbol,
		Timestamp: last.Time.Add(w.step),
		Bar:       last,
		Window:    window,
		Gap:       w.gap[symbol],
	}, nil
}

// Updates emits a symbol each time a new bar is pushed for it. Sends never
// block; a slow reader misses updates, not bars.
func (w *BarWindow) Updates() <-chan string { return w.updates }

// Series copies the held bars for symbol.
func (w *BarWindow) Series(symbol string) domain.Series {
	w.mu.RLock()
	defer w.mu.RUnlock()
	bars := make([]domain.Bar, len(w.bars[symbol]))
	copy(bars, w.bars[symbol])
	return domain.Series{Symbol: symbol, Interval: w.interval, Bars: bars}
}
