// Package backtest replays a historical series through the live decision
// path with a simulated fill model.
package backtest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/agentdesk/internal/agent"
	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/risk"
	"github.com/alanyoungcy/agentdesk/internal/strategy"
)

var (
	resultNamespace = uuid.MustParse("0b8f6a1e-23c4-4d5b-9e7f-5a6b7c8d9e01")
	fillNamespace   = uuid.MustParse("c3d2e1f0-7a6b-4c5d-8e9f-0a1b2c3d4e5f")
)

// Settings are the simulation knobs. They are recorded on every result.
type Settings struct {
	InitialCapital float64
	// SlippageBps moves the next-bar open against the order.
	SlippageBps float64
	FeeBps      float64
	// WindowSize bounds the bars handed to research. Zero uses the
	// strategy's required lookback.
	WindowSize     int
	PeriodsPerYear float64
	Limits         domain.RiskLimits
}

// DefaultSettings returns 10000 of capital, 5 bps slippage, no fees, daily
// annualisation and limits scaled to capital.
func DefaultSettings() Settings {
	return Settings{
		InitialCapital: 10000,
		SlippageBps:    5,
		PeriodsPerYear: 252,
		Limits:         risk.DefaultLimits(10000),
	}
}

// Engine runs backtests. It holds no state between runs and is safe for
// concurrent use.
type Engine struct {
	settings Settings
}

// New returns an engine using s. Zero capital or periods take the defaults.
func New(s Settings) *Engine {
	d := DefaultSettings()
	if s.InitialCapital <= 0 {
		s.InitialCapital = d.InitialCapital
	}
	if s.PeriodsPerYear <= 0 {
		s.PeriodsPerYear = d.PeriodsPerYear
	}
	return &Engine{settings: s}
}

// Settings returns the engine settings.
func (e *Engine) Settings() Settings { return e.settings }

// Run replays series bar by bar through research, trading, risk and a
// private book. Intents decided on a bar fill at the next bar's open; an
// intent on the last bar is never filled. The result depends only on the
// inputs.
func (e *Engine) Run(c *strategy.Compiled, series domain.Series) (domain.BacktestResult, error) {
	if c == nil {
		return domain.BacktestResult{}, fmt.Errorf("backtest: run: %w: nil strategy", domain.ErrInvalidConfig)
	}
	if series.Symbol == "" {
		return domain.BacktestResult{}, fmt.Errorf("backtest: run: %w: series has no symbol", domain.ErrInsufficientData)
	}
	if len(series.Bars) < 2 {
		return domain.BacktestResult{}, fmt.Errorf("backtest: run %s: %w: %d bars", series.Symbol, domain.ErrInsufficientData, len(series.Bars))
	}

	cfg := c.Config()
	s := e.settings
	bars := series.Bars
	hash := ConfigHash(cfg)
	res := domain.BacktestResult{
		ConfigName: cfg.Name,
		Revision:   cfg.Revision,
		ConfigHash: hash,
		Config:     canonical(cfg),
		Symbol:     series.Symbol,
		Interval:   series.Interval,
		From:       bars[0].Time,
		To:         bars[len(bars)-1].Time,
		Bars:       len(bars),
		Settings: domain.BacktestSettings{
			InitialCapital: s.InitialCapital,
			SlippageBps:    s.SlippageBps,
			FeeBps:         s.FeeBps,
			WindowSize:     s.WindowSize,
			PeriodsPerYear: s.PeriodsPerYear,
			Seed:           cfg.Seed,
			Limits:         s.Limits,
		},
		Trades: []domain.SimulatedTrade{},
		Equity: make([]domain.EquityPoint, 0, len(bars)),
	}
	res.ID = uuid.NewSHA1(resultNamespace, []byte(fmt.Sprintf("%s|%s|%s|%d|%d|%+v",
		hash, series.Symbol, series.Interval, res.From.UnixNano(), res.To.UnixNano(), res.Settings))).String()

	window := s.WindowSize
	if window < c.RequiredLookback() {
		window = c.RequiredLookback()
	}

	// Decisions are stamped at bar close; fills at the next bar's open.
	barLen := domain.IntervalDuration(series.Interval)

	book := risk.NewBook(s.InitialCapital, bars[0].Time)
	var queued *domain.OrderIntent
	for i, bar := range bars {
		book.RollDay(bar.Time)
		if queued != nil {
			if tr, ok := e.fill(book, *queued, bar, res.ID, i); ok {
				res.Trades = append(res.Trades, tr)
			}
			queued = nil
		}
		book.Mark(series.Symbol, bar.Close)
		portfolio := book.Snapshot()
		res.Equity = append(res.Equity, domain.EquityPoint{Time: bar.Time, Equity: portfolio.Equity()})

		if i == len(bars)-1 {
			break
		}
		lo := i - window
		if lo < 0 {
			lo = 0
		}
		closed := bar.Time.Add(barLen)
		snap := domain.MarketSnapshot{Symbol: series.Symbol, Timestamp: closed, Bar: bar, Window: bars[lo:i]}
		intent, ok := agent.DecideAt(agent.Generate(snap, c), portfolio, c, closed)
		if !ok {
			continue
		}
		verdict := risk.Evaluate(intent, portfolio, s.Limits)
		switch verdict.Kind {
		case domain.VerdictApproved:
			res.Verdicts.Approved++
		case domain.VerdictResized:
			res.Verdicts.Resized++
		default:
			res.Verdicts.Rejected++
			continue
		}
		approved := verdict.Intent
		queued = &approved
	}

	res.Metrics = computeMetrics(res.Trades, res.Equity, s)
	return res, nil
}

// fill executes intent at bar's open moved by slippage. Risk-increasing
// fills are clamped so their notional stays within the approved notional.
func (e *Engine) fill(book *risk.Book, intent domain.OrderIntent, bar domain.Bar, resultID string, index int) (domain.SimulatedTrade, bool) {
	s := e.settings
	slip := s.SlippageBps / 10_000
	price := bar.Open * (1 + slip)
	if intent.Side == domain.SideSell {
		price = bar.Open * (1 - slip)
	}
	if !(price > 0) {
		return domain.SimulatedTrade{}, false
	}

	qty := intent.Quantity
	if intent.ReduceOnly {
		held := book.Snapshot().Position(intent.Symbol).Quantity
		if held < 0 {
			held = -held
		}
		if qty > held {
			qty = held
		}
	} else if approved := intent.Quantity * intent.Price; qty*price > approved {
		qty = domain.FloorToLot(approved/price, intent.LotSize)
	}
	if !(qty > 0) {
		return domain.SimulatedTrade{}, false
	}

	notional := qty * price
	f := domain.Fill{
		ID:       uuid.NewSHA1(fillNamespace, []byte(fmt.Sprintf("%s|%d|%s", resultID, index, intent.ID))).String(),
		IntentID: intent.ID,
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Quantity: qty,
		Price:    price,
		Fee:      notional * s.FeeBps / 10_000,
		Time:     bar.Time,
	}
	out, err := book.ApplyFill(f, s.Limits)
	if err != nil {
		return domain.SimulatedTrade{}, false
	}
	kind := domain.VerdictApproved
	if qty != intent.Quantity {
		kind = domain.VerdictResized
	}
	return domain.SimulatedTrade{
		ID:          f.ID,
		IntentID:    intent.ID,
		Time:        f.Time,
		Symbol:      f.Symbol,
		Side:        f.Side,
		Quantity:    f.Quantity,
		Price:       f.Price,
		Fee:         f.Fee,
		RealizedPnL: out.RealizedPnL,
		Verdict:     kind,
		StrategyID:  intent.Signal.StrategyID,
	}, true
}

// canonical strips publication metadata so equal parameters compare equal.
func canonical(cfg domain.StrategyConfig) domain.StrategyConfig {
	out := cfg.Clone()
	out.CreatedAt = time.Time{}
	return out
}

// ConfigHash is the hex sha256 of the config's JSON with revision and
// publication time cleared. Map keys marshal sorted, so equal configs hash
// equal.
func ConfigHash(cfg domain.StrategyConfig) string {
	c := canonical(cfg)
	c.Revision = 0
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
