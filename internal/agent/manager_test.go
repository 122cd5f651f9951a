package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/executor"
	"github.com/alanyoungcy/agentdesk/internal/risk"
)

// symbolFeed serves one snapshot per symbol.
type symbolFeed struct {
	mu    sync.Mutex
	snaps map[string]domain.MarketSnapshot
}

func (f *symbolFeed) set(s domain.MarketSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snaps == nil {
		f.snaps = make(map[string]domain.MarketSnapshot)
	}
	f.snaps[s.Symbol] = s
}

func (f *symbolFeed) Snapshot(_ context.Context, symbol string) (domain.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[symbol]
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("no data for %s: %w", symbol, domain.ErrTransient)
	}
	return s, nil
}

func (f *symbolFeed) Updates() <-chan string { return nil }

func newDesk(t *testing.T, cfg Config, feed domain.MarketDataFeed, exec domain.ExecutionClient, limits domain.RiskLimits) *Manager {
	t.Helper()
	holder, err := risk.NewLimitsHolder(limits)
	if err != nil {
		t.Fatalf("limits: %v", err)
	}
	if cfg.TickTimeout == 0 {
		cfg.TickTimeout = time.Second
	}
	m := NewManager(cfg, feed, exec, risk.NewBook(10000, start), holder, discard())
	if _, err := m.Publish(context.Background(), testConfig()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	return m
}

// drain hands every queued paper report to the manager.
func drain(t *testing.T, m *Manager, p *executor.Paper) {
	t.Helper()
	for {
		select {
		case r := <-p.Reports():
			if err := m.HandleReport(context.Background(), r); err != nil {
				t.Fatalf("HandleReport: %v", err)
			}
		default:
			return
		}
	}
}

func TestPendingOrdersCountTowardAggregateExposure(t *testing.T) {
	feed := &symbolFeed{}
	feed.set(trend("AAAUSDT", 30, 1.01))
	feed.set(trend("BBBUSDT", 30, 1.01))
	paper := executor.NewPaper(0, 0, discard())
	limits := domain.RiskLimits{MaxPositionNotional: 1000, MaxAggregateExposure: 300, MaxDailyLoss: 500}
	m := newDesk(t, Config{Symbols: []string{"AAAUSDT", "BBBUSDT"}}, feed, paper, limits)
	ctx := context.Background()

	a, err := m.Tick(ctx, "AAAUSDT")
	if err != nil || a.Outcome != OutcomeSubmitted {
		t.Fatalf("tick A = %+v, %v", a, err)
	}
	b, err := m.Tick(ctx, "BBBUSDT")
	if err != nil || b.Outcome != OutcomeRejected || b.Verdict.Reason != domain.ReasonAggregateExposure {
		t.Fatalf("tick B with A in flight = %+v, %v", b, err)
	}
	drain(t, m, paper)

	st := m.Book().Snapshot()
	if st.Exposure() > limits.MaxAggregateExposure || st.Breaker.Tripped {
		t.Fatalf("exposure %.2f cap %.2f breaker %+v", st.Exposure(), limits.MaxAggregateExposure, st.Breaker)
	}
	if st.Position("BBBUSDT").Quantity != 0 {
		t.Fatalf("B traded: %+v", st.Position("BBBUSDT"))
	}
}

func TestPendingOrdersWithinCapBothTrade(t *testing.T) {
	feed := &symbolFeed{}
	feed.set(trend("AAAUSDT", 30, 1.01))
	feed.set(trend("BBBUSDT", 30, 1.01))
	paper := executor.NewPaper(0, 0, discard())
	limits := domain.RiskLimits{MaxPositionNotional: 1000, MaxAggregateExposure: 500, MaxDailyLoss: 500}
	m := newDesk(t, Config{Symbols: []string{"AAAUSDT", "BBBUSDT"}}, feed, paper, limits)

	for _, sym := range []string{"AAAUSDT", "BBBUSDT"} {
		if rep, err := m.Tick(context.Background(), sym); err != nil || rep.Outcome != OutcomeSubmitted {
			t.Fatalf("tick %s = %+v, %v", sym, rep, err)
		}
	}
	drain(t, m, paper)
	st := m.Book().Snapshot()
	if st.OpenPositions() != 2 || st.Exposure() > limits.MaxAggregateExposure || st.Breaker.Tripped {
		t.Fatalf("portfolio = %+v", st)
	}
}

func TestPendingReservationShrinksWithPartialFill(t *testing.T) {
	feed := &symbolFeed{}
	feed.set(trend("AAAUSDT", 30, 1.01))
	feed.set(trend("BBBUSDT", 30, 1.01))
	exec := &stubExec{}
	limits := domain.RiskLimits{MaxPositionNotional: 1000, MaxAggregateExposure: 300, MaxDailyLoss: 500}
	m := newDesk(t, Config{Symbols: []string{"AAAUSDT", "BBBUSDT"}}, feed, exec, limits)
	ctx := context.Background()

	if rep, _ := m.Tick(ctx, "AAAUSDT"); rep.Outcome != OutcomeSubmitted {
		t.Fatalf("tick A = %+v", rep)
	}
	in := exec.submitted[0]
	half := domain.FloorToLot(in.Quantity/2, in.LotSize)
	partial := domain.ExecutionReport{IntentID: in.ID, Status: domain.ReportPartial, Fill: &domain.Fill{
		ID: "p1", IntentID: in.ID, Symbol: in.Symbol, Side: in.Side, Quantity: half, Price: in.Price, Time: start,
	}}
	if err := m.HandleReport(ctx, partial); err != nil {
		t.Fatalf("HandleReport: %v", err)
	}
	// Book plus reservation still hold the whole order, so B stays blocked.
	if rep, _ := m.Tick(ctx, "BBBUSDT"); rep.Outcome != OutcomeRejected {
		t.Fatalf("tick B = %+v", rep)
	}
	p := m.Status().Pending
	if len(p) != 1 || p[0].State != domain.OrderPartial || p[0].Filled != half {
		t.Fatalf("pending = %+v", p)
	}
}

func TestTimerTicksOnSameBarTradeOnce(t *testing.T) {
	feed := &symbolFeed{}
	feed.set(trend("BTCUSDT", 30, 1.01))
	paper := executor.NewPaper(0, 0, discard())
	m := newDesk(t, Config{Symbols: []string{"BTCUSDT"}, TickInterval: time.Second}, feed, paper, okLimits())
	ctx := context.Background()

	var outcomes []Outcome
	for i := 0; i < 4; i++ {
		rep, err := m.Tick(ctx, "BTCUSDT")
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		outcomes = append(outcomes, rep.Outcome)
		drain(t, m, paper)
	}
	want := []Outcome{OutcomeSubmitted, OutcomeIdle, OutcomeIdle, OutcomeIdle}
	if fmt.Sprint(outcomes) != fmt.Sprint(want) {
		t.Fatalf("outcomes = %v, want %v", outcomes, want)
	}

	feed.set(trend("BTCUSDT", 31, 1.01))
	rep, err := m.Tick(ctx, "BTCUSDT")
	if err != nil || rep.Outcome != OutcomeSubmitted {
		t.Fatalf("next bar = %+v, %v", rep, err)
	}
	drain(t, m, paper)
	if p := m.Status().Pending; len(p) != 0 {
		t.Fatalf("pending after fills = %+v", p)
	}
	if got := m.Status().Fills; got != 2 {
		t.Fatalf("fills = %d, want 2", got)
	}
}

func TestDuplicateSubmitClearsPending(t *testing.T) {
	exec := &stubExec{err: fmt.Errorf("executor: submit x: %w", domain.ErrDuplicateIntent)}
	m := newManager(t, &stubFeed{snap: trend("BTCUSDT", 30, 1.01)}, exec, okLimits())

	rep, err := m.Tick(context.Background(), "BTCUSDT")
	if rep.Outcome != OutcomeAbandoned || !errors.Is(err, domain.ErrDuplicateIntent) {
		t.Fatalf("Tick = %+v, %v", rep, err)
	}
	if p := m.Status().Pending; len(p) != 0 {
		t.Fatalf("pending = %+v", p)
	}
	exec.err = nil
	if rep, _ := m.Tick(context.Background(), "BTCUSDT"); rep.Outcome != OutcomeIdle || len(exec.submitted) != 0 {
		t.Fatalf("same bar after duplicate = %+v", rep)
	}
}

func TestPendingOrderExpires(t *testing.T) {
	feed := &symbolFeed{}
	feed.set(trend("BTCUSDT", 30, 1.01))
	exec := &stubExec{}
	m := newDesk(t, Config{Symbols: []string{"BTCUSDT"}, PendingTTL: 5 * time.Minute}, feed, exec, okLimits())
	clock := time.Date(2024, 5, 7, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	ctx := context.Background()

	if rep, _ := m.Tick(ctx, "BTCUSDT"); rep.Outcome != OutcomeSubmitted {
		t.Fatalf("first tick = %+v", rep)
	}
	feed.set(trend("BTCUSDT", 31, 1.01))
	if rep, _ := m.Tick(ctx, "BTCUSDT"); rep.Outcome != OutcomePending {
		t.Fatalf("tick before ttl = %+v", rep)
	}
	clock = clock.Add(6 * time.Minute)
	if rep, _ := m.Tick(ctx, "BTCUSDT"); rep.Outcome != OutcomeSubmitted {
		t.Fatalf("tick after ttl = %+v", rep)
	}
	st := m.Status()
	if st.Expired != 1 || len(st.Pending) != 1 || st.Pending[0].IntentID != exec.submitted[1].ID {
		t.Fatalf("status = %+v", st)
	}
}

func TestReplayedBarsRespectTradeInterval(t *testing.T) {
	feed := &symbolFeed{}
	paper := executor.NewPaper(0, 0, discard())
	limits := domain.RiskLimits{
		MaxPositionNotional:  5000,
		MaxAggregateExposure: 5000,
		MaxDailyLoss:         500,
		MinTradeInterval:     time.Minute,
	}
	m := newDesk(t, Config{Symbols: []string{"BTCUSDT"}}, feed, paper, limits)
	ctx := context.Background()

	var outcomes []string
	for n := 30; n < 36; n++ {
		feed.set(trend("BTCUSDT", n, 1.01))
		rep, err := m.Tick(ctx, "BTCUSDT")
		if err != nil {
			t.Fatalf("tick %d: %v", n, err)
		}
		o := string(rep.Outcome)
		if rep.Verdict != nil && rep.Verdict.Kind == domain.VerdictRejected {
			o += ":" + rep.Verdict.Limit
		}
		outcomes = append(outcomes, o)
		drain(t, m, paper)
	}
	for i, o := range outcomes {
		if o != string(OutcomeSubmitted) {
			t.Fatalf("outcome %d = %s (all: %v)", i, o, outcomes)
		}
	}
	last := trend("BTCUSDT", 35, 1.01).Timestamp
	if st := m.Book().Snapshot(); !st.LastTradeAt.Equal(last) {
		t.Fatalf("last trade at %v, want bar time %v", st.LastTradeAt, last)
	}
}

func TestReplayedBarsRollRiskDay(t *testing.T) {
	feed := &symbolFeed{}
	paper := executor.NewPaper(0, 0, discard())
	limits := domain.RiskLimits{MaxPositionNotional: 5000, MaxAggregateExposure: 5000, MaxDailyLoss: 500, MaxTradesPerDay: 1}
	m := newDesk(t, Config{Symbols: []string{"BTCUSDT"}}, feed, paper, limits)
	ctx := context.Background()

	// Bars 22 and 23 fall on the first day; bar 24 opens the next one.
	var outcomes []Outcome
	for _, n := range []int{23, 24, 25} {
		feed.set(trend("BTCUSDT", n, 1.01))
		rep, _ := m.Tick(ctx, "BTCUSDT")
		outcomes = append(outcomes, rep.Outcome)
		drain(t, m, paper)
	}
	want := []Outcome{OutcomeSubmitted, OutcomeRejected, OutcomeSubmitted}
	if fmt.Sprint(outcomes) != fmt.Sprint(want) {
		t.Fatalf("outcomes = %v, want %v", outcomes, want)
	}
}

func TestLiveFillLatencyDoesNotBlockNextBar(t *testing.T) {
	feed := &symbolFeed{}
	feed.set(trendEvery("BTCUSDT", 30, 1.01, time.Minute))
	exec := &stubExec{}
	limits := okLimits()
	limits.MinTradeInterval = time.Minute
	m := newDesk(t, Config{Symbols: []string{"BTCUSDT"}}, feed, exec, limits)
	ctx := context.Background()

	rep, _ := m.Tick(ctx, "BTCUSDT")
	if rep.Outcome != OutcomeSubmitted {
		t.Fatalf("first tick = %+v", rep)
	}
	in := exec.submitted[0]
	// The venue confirms a few seconds after the decision.
	fill := &domain.Fill{ID: "f1", IntentID: in.ID, Symbol: in.Symbol, Side: in.Side,
		Quantity: in.Quantity, Price: in.Price, Time: in.CreatedAt.Add(4 * time.Second)}
	if err := m.HandleReport(ctx, domain.ExecutionReport{IntentID: in.ID, Status: domain.ReportFilled, Fill: fill}); err != nil {
		t.Fatalf("HandleReport: %v", err)
	}

	feed.set(trendEvery("BTCUSDT", 31, 1.01, time.Minute))
	if rep, _ := m.Tick(ctx, "BTCUSDT"); rep.Outcome != OutcomeSubmitted {
		t.Fatalf("next bar = %+v", rep)
	}
}
