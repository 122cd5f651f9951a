package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/backtest"
	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/strategy"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func randomWalk(seed uint64, n int) domain.Series {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e37))
	bars := make([]domain.Bar, n)
	price := 100.0
	for i := range bars {
		open := price
		price *= 1 + (rng.Float64()-0.48)*0.04
		bars[i] = domain.Bar{
			Time: start.Add(time.Duration(i) * time.Hour), Open: open,
			High: math.Max(open, price), Low: math.Min(open, price), Close: price, Volume: 5,
		}
	}
	return domain.Series{Symbol: "BTCUSDT", Interval: "1h", Bars: bars}
}

func baseConfig() domain.StrategyConfig {
	return domain.StrategyConfig{
		Name:       "opt",
		Strategies: []domain.StrategySpec{{ID: "mom", Kind: "momentum", Params: map[string]float64{"lookback": 10}}},
		Trading:    domain.TradingParams{MinStrength: 0.1, RiskFraction: 0.05, LotSize: 0.0001, AllowShort: true},
		Seed:       42,
	}
}

func space() domain.SearchSpace {
	return domain.SearchSpace{
		{Key: "mom.lookback", Min: 5, Max: 30, Integer: true},
		{Key: domain.KeyRiskFraction, Min: 0.01, Max: 0.2},
	}
}

func newOptimizer(opts Options) *Optimizer {
	return New(baseConfig(), backtest.New(backtest.DefaultSettings()), opts, discard())
}

func TestOptimizeIsSeedDeterministic(t *testing.T) {
	data := randomWalk(3, 150)
	run := func() []byte {
		out, err := newOptimizer(Options{Startup: 4, Parallelism: 3, MinTrades: 1}).Optimize(context.Background(), space(), data, 14)
		if err != nil {
			t.Fatalf("Optimize: %v", err)
		}
		if out.Stopped != StoppedIterations || out.BestEffort {
			t.Fatalf("stopped = %q best effort = %v", out.Stopped, out.BestEffort)
		}
		if len(out.Trials) != 14 {
			t.Fatalf("trials = %d, want 14", len(out.Trials))
		}
		b, err := json.Marshal(out)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		return b
	}
	a, b := run(), run()
	if string(a) != string(b) {
		t.Fatal("two runs with the same seed differ")
	}
}

func TestOptimizeFirstTrialIsBase(t *testing.T) {
	out, err := newOptimizer(Options{MinTrades: 1}).Optimize(context.Background(), space(), randomWalk(5, 120), 3)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	first := out.Trials[0].Values
	if first["mom.lookback"] != 10 || first[domain.KeyRiskFraction] != 0.05 {
		t.Fatalf("first trial = %v, want the base values", first)
	}
	if out.Objective < out.Trials[0].Objective {
		t.Fatalf("best %.4f below baseline %.4f", out.Objective, out.Trials[0].Objective)
	}
}

func TestOptimizeValuesStayInBounds(t *testing.T) {
	out, err := newOptimizer(Options{Startup: 3}).Optimize(context.Background(), space(), randomWalk(9, 120), 20)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	for _, tr := range out.Trials {
		for _, r := range space() {
			v := tr.Values[r.Key]
			if v < r.Min || v > r.Max {
				t.Fatalf("trial %d %s = %v outside [%v, %v]", tr.Index, r.Key, v, r.Min, r.Max)
			}
			if r.Integer && v != math.Round(v) {
				t.Fatalf("trial %d %s = %v not integral", tr.Index, r.Key, v)
			}
		}
	}
}

func TestOptimizeBudgetReturnsBestEffort(t *testing.T) {
	opt := newOptimizer(Options{MaxDuration: time.Millisecond, Parallelism: 2})
	out, err := opt.Optimize(context.Background(), space(), randomWalk(1, 400), 1_000_000)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if !out.BestEffort || out.Stopped != StoppedBudget {
		t.Fatalf("best effort = %v stopped = %q", out.BestEffort, out.Stopped)
	}
	if len(out.Trials) >= 1_000_000 {
		t.Fatal("budget did not stop the search")
	}
	if out.Config.Name != "opt" {
		t.Fatalf("config name = %q", out.Config.Name)
	}
}

func TestOptimizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := newOptimizer(Options{}).Optimize(ctx, space(), randomWalk(1, 100), 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if out.Stopped != StoppedCancelled || out.BestEffort {
		t.Fatalf("stopped = %q best effort = %v", out.Stopped, out.BestEffort)
	}
	if out.Objective != ScoreInvalid {
		t.Fatalf("objective = %v, want %v with no trials", out.Objective, ScoreInvalid)
	}
}

func TestOptimizeRejectsBadSpace(t *testing.T) {
	cases := map[string]domain.SearchSpace{
		"empty":    nil,
		"inverted": {{Key: domain.KeyRiskFraction, Min: 0.2, Max: 0.1}},
		"unknown":  {{Key: "nope.lookback", Min: 1, Max: 2}},
		"dup":      {{Key: domain.KeyStopLoss, Min: 0, Max: 1}, {Key: domain.KeyStopLoss, Min: 0, Max: 1}},
	}
	for name, sp := range cases {
		_, err := newOptimizer(Options{}).Optimize(context.Background(), sp, randomWalk(1, 50), 5)
		if !errors.Is(err, domain.ErrInvalidSearchSpace) {
			t.Errorf("%s: err = %v, want ErrInvalidSearchSpace", name, err)
		}
	}
}

func TestOptimizeInsufficientData(t *testing.T) {
	_, err := newOptimizer(Options{}).Optimize(context.Background(), space(), domain.Series{Symbol: "X"}, 5)
	if !errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("err = %v", err)
	}
}

func TestScore(t *testing.T) {
	opt := newOptimizer(Options{MinTrades: 3, DrawdownPenalty: 2})
	if got := opt.Score(domain.BacktestMetrics{TradeCount: 2, Sharpe: 5}); got != ScoreTooFewTrades {
		t.Errorf("too few trades = %v", got)
	}
	got := opt.Score(domain.BacktestMetrics{TradeCount: 3, Sharpe: 1.5, MaxDrawdown: 0.1})
	if math.Abs(got-1.3) > 1e-12 {
		t.Errorf("score = %v, want 1.3", got)
	}
}

func TestWalkForward(t *testing.T) {
	opt := newOptimizer(Options{Startup: 2, Parallelism: 2})
	rep, err := opt.WalkForward(context.Background(), space(), randomWalk(11, 200), WalkForwardOptions{Iterations: 4})
	if err != nil {
		t.Fatalf("WalkForward: %v", err)
	}
	if len(rep.Folds) != 3 {
		t.Fatalf("folds = %d, want 3", len(rep.Folds))
	}
	for i, f := range rep.Folds {
		if !f.TestFrom.After(f.TrainTo) {
			t.Errorf("fold %d tests before its train window ends", i)
		}
	}
	if rep.Robustness < 0 || rep.Robustness > 100 {
		t.Fatalf("robustness = %v", rep.Robustness)
	}
	if _, err := opt.WalkForward(context.Background(), space(), randomWalk(1, 100), WalkForwardOptions{}); !errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("short series err = %v", err)
	}
}

func TestRobustness(t *testing.T) {
	perfect := WalkForwardReport{ProfitableShare: 1, ObjectiveRatio: 1, AverageSharpe: 2, MaxDrawdown: 0, AverageReturn: 0.5}
	if got := robustness(perfect); got != 100 {
		t.Errorf("perfect = %v, want 100", got)
	}
	poor := WalkForwardReport{ProfitableShare: 0, ObjectiveRatio: -1, AverageSharpe: -1, SharpeStd: 3, MaxDrawdown: 1, AverageReturn: -0.1}
	if got := robustness(poor); got != 0 {
		t.Errorf("poor = %v, want 0", got)
	}
}

type stubPublisher struct {
	mu     sync.Mutex
	active *strategy.Compiled
	calls  int
}

func (p *stubPublisher) Active() *strategy.Compiled {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *stubPublisher) Publish(_ context.Context, cfg domain.StrategyConfig) (int64, error) {
	c, err := strategy.Compile(cfg)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.active = c.WithRevision(p.active.Revision() + 1)
	return p.active.Revision(), nil
}

type stubHistory struct{ series domain.Series }

func (h stubHistory) Load(context.Context, string, string, time.Time, time.Time) (domain.Series, error) {
	return h.series, nil
}

type stubResults struct{ saved int }

func (s *stubResults) SaveResult(context.Context, domain.BacktestResult) error {
	s.saved++
	return nil
}

type stubRevisions struct{ saved []domain.StrategyConfig }

func (s *stubRevisions) Save(_ context.Context, cfg domain.StrategyConfig, _ float64) error {
	s.saved = append(s.saved, cfg)
	return nil
}

func (s *stubRevisions) Latest(context.Context, string) (domain.StrategyConfig, float64, error) {
	return domain.StrategyConfig{}, 0, domain.ErrNotFound
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func newAgent(t *testing.T, minImprovement float64) (*Agent, *stubPublisher, *stubResults, *stubRevisions) {
	t.Helper()
	c, err := strategy.Compile(baseConfig())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	pub := &stubPublisher{active: c.WithRevision(1)}
	a, err := NewAgent(AgentConfig{
		Symbol: "BTCUSDT", Interval: "1h", Iterations: 6,
		MinImprovement: minImprovement, Space: space(),
	}, Options{Startup: 2, Parallelism: 2}, backtest.New(backtest.DefaultSettings()), stubHistory{randomWalk(21, 160)}, pub, discard())
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	results, revisions := &stubResults{}, &stubRevisions{}
	a.SetResultStore(results)
	a.SetRevisionStore(revisions)
	return a, pub, results, revisions
}

func TestAgentPublishesImprovement(t *testing.T) {
	a, pub, results, revisions := newAgent(t, 0)
	rep, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !rep.Published || rep.Revision != 2 || pub.calls != 1 {
		t.Fatalf("report = %+v calls = %d", rep, pub.calls)
	}
	if results.saved != 6 {
		t.Errorf("saved results = %d, want 6", results.saved)
	}
	if len(revisions.saved) != 1 || revisions.saved[0].Revision != 2 {
		t.Errorf("revisions = %+v", revisions.saved)
	}
}

func TestAgentSkipsSmallImprovement(t *testing.T) {
	a, pub, _, _ := newAgent(t, 1e9)
	rep, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Published || pub.calls != 0 {
		t.Fatalf("published below the improvement threshold: %+v", rep)
	}
}

func TestAgentLockHeld(t *testing.T) {
	a, pub, _, _ := newAgent(t, 0)
	a.SetLockManager(heldLocks{})
	if _, err := a.RunOnce(context.Background()); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
	if pub.calls != 0 {
		t.Fatal("published without the lock")
	}
}

func TestNewAgentRejectsBadSpace(t *testing.T) {
	c, _ := strategy.Compile(baseConfig())
	_, err := NewAgent(AgentConfig{Space: domain.SearchSpace{{Key: "x.y", Min: 1, Max: 0}}}, Options{}, backtest.New(backtest.DefaultSettings()), stubHistory{}, &stubPublisher{active: c}, discard())
	if !errors.Is(err, domain.ErrInvalidSearchSpace) {
		t.Fatalf("err = %v", err)
	}
}
