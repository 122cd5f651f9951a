// Package history loads historical bar series for backtests and the
// optimizer from CSV exports, ClickHouse or the Binance REST API.
package history

import (
	"sort"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// normalise sorts bars by open time, keeps the last bar seen for a repeated
// time, and drops bars outside [from, to]. Zero bounds are open.
func normalise(bars []domain.Bar, from, to time.Time) []domain.Bar {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if !from.IsZero() && b.Time.Before(from) {
			continue
		}
		if !to.IsZero() && b.Time.After(to) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Time.Equal(b.Time) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}
