package risk

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

func fill(id string, side domain.Side, qty, price float64) domain.Fill {
	return domain.Fill{ID: id, Symbol: "BTCUSDT", Side: side, Quantity: qty, Price: price, Time: t0}
}

func wide() domain.RiskLimits {
	return domain.RiskLimits{MaxPositionNotional: 1e9, MaxAggregateExposure: 1e9, MaxDailyLoss: 1e9}
}

func TestApplyFillDuplicateDetected(t *testing.T) {
	b := NewBook(10000, t0)
	if _, err := b.ApplyFill(fill("f1", domain.SideBuy, 1, 100), wide()); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	before := b.Snapshot()
	_, err := b.ApplyFill(fill("f1", domain.SideBuy, 1, 100), wide())
	if !errors.Is(err, domain.ErrDuplicateFill) {
		t.Fatalf("err = %v, want ErrDuplicateFill", err)
	}
	after := b.Snapshot()
	if after.Cash != before.Cash || after.Position("BTCUSDT").Quantity != 1 || after.TradesToday != 1 {
		t.Fatalf("duplicate mutated the book: %+v", after)
	}
}

func TestApplyFillAveragesAndRealizes(t *testing.T) {
	b := NewBook(10000, t0)
	mustApply(t, b, fill("a", domain.SideBuy, 1, 100))
	mustApply(t, b, fill("b", domain.SideBuy, 1, 200))
	if p := b.Snapshot().Position("BTCUSDT"); p.Quantity != 2 || p.AvgPrice != 150 {
		t.Fatalf("position = %+v, want 2 @ 150", p)
	}

	res := mustApply(t, b, fill("c", domain.SideSell, 3, 120))
	if res.RealizedPnL != -60 {
		t.Fatalf("realized = %v, want -60", res.RealizedPnL)
	}
	st := b.Snapshot()
	p := st.Position("BTCUSDT")
	if p.Quantity != -1 || p.AvgPrice != 120 {
		t.Fatalf("flipped position = %+v, want -1 @ 120", p)
	}
	if st.Cash != 10000-100-200+360 {
		t.Fatalf("cash = %v", st.Cash)
	}
	if st.DailyRealizedPnL != -60 || st.TradesToday != 3 {
		t.Fatalf("daily = %v trades = %d", st.DailyRealizedPnL, st.TradesToday)
	}

	res = mustApply(t, b, fill("d", domain.SideBuy, 1, 100))
	if res.RealizedPnL != 20 || b.Snapshot().OpenPositions() != 0 {
		t.Fatalf("short cover realized %v, positions %d", res.RealizedPnL, b.Snapshot().OpenPositions())
	}
}

func TestApplyFillTripsBreakerUntilReset(t *testing.T) {
	limits := testLimits()
	b := NewBook(100000, t0)
	mustApplyWith(t, b, fill("a", domain.SideBuy, 0.02, 40000), limits)
	res := mustApplyWith(t, b, fill("b", domain.SideSell, 0.02, 14000), limits)
	if !res.Tripped {
		t.Fatalf("loss of %v should trip the breaker", -res.RealizedPnL)
	}
	st := b.Snapshot()
	for i := 0; i < 10; i++ {
		if v := Evaluate(buy("ETHUSDT", 0.01, 2000), st, limits); v.Reason != domain.ReasonDailyLoss {
			t.Fatalf("risk-increasing intent after trip = %+v", v)
		}
	}
	if b.RollDay(t0.Add(time.Hour)) {
		t.Fatalf("same UTC day must not reset")
	}
	if !b.RollDay(t0.Add(24 * time.Hour)) {
		t.Fatalf("next UTC day should reset")
	}
	st = b.Snapshot()
	if st.Breaker.Tripped || st.DailyRealizedPnL != 0 || st.TradesToday != 0 {
		t.Fatalf("reset state = %+v", st)
	}
	if math.Abs(st.RealizedPnL-(-520)) > 1e-9 {
		t.Fatalf("lifetime realized = %v, want -520", st.RealizedPnL)
	}
}

func TestApplyFillBreachLatches(t *testing.T) {
	b := NewBook(100000, t0)
	res := mustApplyWith(t, b, fill("a", domain.SideBuy, 1, 5000), testLimits())
	if !res.Breach || !res.Tripped {
		t.Fatalf("result = %+v, want breach and trip", res)
	}
	if st := b.Snapshot(); st.Position("BTCUSDT").Quantity != 1 || st.Breaker.Reason != TripExposureBreach {
		t.Fatalf("fill must still be recorded: %+v", st)
	}
}

func TestLimitsHolderRejectsInvalid(t *testing.T) {
	h, err := NewLimitsHolder(testLimits())
	if err != nil {
		t.Fatalf("NewLimitsHolder: %v", err)
	}
	bad := testLimits()
	bad.MaxDailyLoss = -1
	bad.MaxPositionNotional = 1
	if err := h.Store(bad); !errors.Is(err, domain.ErrInvalidLimits) {
		t.Fatalf("Store err = %v, want ErrInvalidLimits", err)
	}
	if h.Load() != testLimits() {
		t.Fatalf("partial reload leaked: %+v", h.Load())
	}
}

func TestAssessLevels(t *testing.T) {
	p := domain.NewPortfolioState(10000)
	if a := Assess(p, testLimits()); a.Level != LevelMinimal || a.Score != 0 {
		t.Fatalf("idle assessment = %+v", a)
	}
	p.Positions["BTCUSDT"] = domain.Position{Symbol: "BTCUSDT", Quantity: 0.025, AvgPrice: 40000}
	p.DailyRealizedPnL = -400
	a := Assess(p, testLimits())
	// 0.4*0.4 + 0.3*1 + 0.3*0.8 = 0.70
	if math.Abs(a.Score-70) > 1e-9 || a.Level != LevelHigh {
		t.Fatalf("assessment = %+v, want 70/high", a)
	}
	p.Breaker.Tripped = true
	if a := Assess(p, testLimits()); a.Level != LevelCritical {
		t.Fatalf("tripped assessment = %+v", a)
	}
}

func mustApply(t *testing.T, b *Book, f domain.Fill) FillResult {
	t.Helper()
	return mustApplyWith(t, b, f, wide())
}

func mustApplyWith(t *testing.T, b *Book, f domain.Fill, l domain.RiskLimits) FillResult {
	t.Helper()
	res, err := b.ApplyFill(f, l)
	if err != nil {
		t.Fatalf("ApplyFill %s: %v", f.ID, err)
	}
	return res
}
