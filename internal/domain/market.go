package domain

import "time"

// Bar is one OHLCV candle. Time is the bar open time in UTC.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// MarketSnapshot is the unit of market data handed to one tick. Window holds
// the bars before Bar, oldest first. A snapshot is never mutated after the
// feed produces it.
type MarketSnapshot struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Bar       Bar       `json:"bar"`
	Window    []Bar     `json:"window"`
	// Gap is set when the feed saw missing bars between Window and Bar.
	Gap bool `json:"gap,omitempty"`
}

// Closes returns the window closes followed by the current close.
func (s MarketSnapshot) Closes() []float64 {
	out := make([]float64, 0, len(s.Window)+1)
	for _, b := range s.Window {
		out = append(out, b.Close)
	}
	return append(out, s.Bar.Close)
}

// Series is an ascending historical bar series for one symbol.
type Series struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Bars     []Bar  `json:"bars"`
}

// Len returns the number of bars.
func (s Series) Len() int { return len(s.Bars) }

// Slice returns the sub-series [from, to). Bars are shared, not copied.
func (s Series) Slice(from, to int) Series {
	if from < 0 {
		from = 0
	}
	if to > len(s.Bars) {
		to = len(s.Bars)
	}
	if from > to {
		from = to
	}
	return Series{Symbol: s.Symbol, Interval: s.Interval, Bars: s.Bars[from:to]}
}

// IntervalDuration parses exchange-style intervals like "1m", "4h", "1d", "1w".
// It returns 0 for unknown values.
func IntervalDuration(interval string) time.Duration {
	if len(interval) < 2 {
		return 0
	}
	unit := interval[len(interval)-1]
	n := 0
	for _, c := range interval[:len(interval)-1] {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour
	default:
		return 0
	}
}
