package strategy

import (
	"math"
	"testing"
)

func approx(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestSMAAndStdDev(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if got := SMA(xs, 8); got != 5 {
		t.Fatalf("SMA = %v, want 5", got)
	}
	if got := StdDev(xs); got != 2 {
		t.Fatalf("StdDev = %v, want 2", got)
	}
	if got := SMA(xs, 9); !math.IsNaN(got) {
		t.Fatalf("SMA over short input = %v, want NaN", got)
	}
}

func TestEMASeededWithSMA(t *testing.T) {
	ema := EMA([]float64{1, 2, 3, 4}, 3)
	if !math.IsNaN(ema[0]) || !math.IsNaN(ema[1]) {
		t.Fatalf("leading values should be NaN: %v", ema)
	}
	if ema[2] != 2 {
		t.Fatalf("seed = %v, want 2", ema[2])
	}
	// k = 0.5: 4*0.5 + 2*0.5
	if ema[3] != 3 {
		t.Fatalf("ema[3] = %v, want 3", ema[3])
	}
}

func TestRSIExtremes(t *testing.T) {
	up := make([]float64, 20)
	down := make([]float64, 20)
	for i := range up {
		up[i] = float64(100 + i)
		down[i] = float64(100 - i)
	}
	if got := RSI(up, 14); got != 100 {
		t.Fatalf("RSI of rising series = %v, want 100", got)
	}
	if got := RSI(down, 14); got != 0 {
		t.Fatalf("RSI of falling series = %v, want 0", got)
	}
	flat := []float64{5, 5, 5, 5, 5, 5}
	if got := RSI(flat, 5); got != 50 {
		t.Fatalf("RSI of flat series = %v, want 50", got)
	}
}

func TestMACDSignOnTrend(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 * math.Pow(1.01, float64(i))
	}
	m := MACD(closes, 12, 26, 9)
	if !(m.Line > 0) {
		t.Fatalf("MACD line on uptrend = %v, want > 0", m.Line)
	}
	if !approx(m.Histogram, m.Line-m.Signal, 1e-12) {
		t.Fatalf("histogram %v != line-signal %v", m.Histogram, m.Line-m.Signal)
	}
	if short := MACD(closes[:30], 12, 26, 9); !math.IsNaN(short.Line) {
		t.Fatalf("MACD on short input = %v, want NaN", short.Line)
	}
}

func TestBollingerAndROC(t *testing.T) {
	b := Bollinger([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8, 2)
	if b.Mid != 5 || b.Upper != 9 || b.Lower != 1 {
		t.Fatalf("bands = %+v", b)
	}
	if got := RateOfChange([]float64{100, 101, 110}, 2); !approx(got, 0.1, 1e-12) {
		t.Fatalf("ROC = %v, want 0.1", got)
	}
}
