package strategy

import "math"

// Indicators take closes oldest first and return values aligned to the input
// where a series is returned. Leading values that cannot be computed are NaN.

// Mean returns the arithmetic mean of xs, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the population standard deviation of xs. Fewer than two
// points return 0.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := Mean(xs)
	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return math.Sqrt(variance)
}

// SMA returns the simple moving average of the last period values.
func SMA(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period {
		return math.NaN()
	}
	return Mean(closes[len(closes)-period:])
}

// EMA returns the exponential moving average series seeded with the SMA of
// the first period values.
func EMA(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(closes) < period {
		return out
	}
	k := 2.0 / float64(period+1)
	prev := Mean(closes[:period])
	out[period-1] = prev
	for i := period; i < len(closes); i++ {
		prev = closes[i]*k + prev*(1-k)
		out[i] = prev
	}
	return out
}

// RSI returns the Wilder-smoothed relative strength index of the last close.
// It needs period+1 closes.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return math.NaN()
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		var g, l float64
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDValue is the last point of a MACD computation.
type MACDValue struct {
	Line      float64
	Signal    float64
	Histogram float64
}

// MACD returns the MACD line, its signal EMA and the histogram at the last
// close. It needs slow+signal-1 closes.
func MACD(closes []float64, fast, slow, signal int) MACDValue {
	nan := MACDValue{Line: math.NaN(), Signal: math.NaN(), Histogram: math.NaN()}
	if fast <= 0 || slow <= fast || signal <= 0 || len(closes) < slow+signal-1 {
		return nan
	}
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)
	line := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		line = append(line, fastEMA[i]-slowEMA[i])
	}
	sig := EMA(line, signal)
	last := len(line) - 1
	return MACDValue{
		Line:      line[last],
		Signal:    sig[last],
		Histogram: line[last] - sig[last],
	}
}

// Bands is a Bollinger band reading.
type Bands struct {
	Mid   float64
	Upper float64
	Lower float64
}

// Bollinger returns the bands over the last period closes.
func Bollinger(closes []float64, period int, width float64) Bands {
	if period <= 0 || len(closes) < period {
		return Bands{Mid: math.NaN(), Upper: math.NaN(), Lower: math.NaN()}
	}
	window := closes[len(closes)-period:]
	mid := Mean(window)
	sd := StdDev(window)
	return Bands{Mid: mid, Upper: mid + width*sd, Lower: mid - width*sd}
}

// RateOfChange returns (last - closes[n-1-lookback]) / closes[n-1-lookback].
func RateOfChange(closes []float64, lookback int) float64 {
	if lookback <= 0 || len(closes) < lookback+1 {
		return math.NaN()
	}
	base := closes[len(closes)-1-lookback]
	if base == 0 {
		return math.NaN()
	}
	return (closes[len(closes)-1] - base) / base
}
