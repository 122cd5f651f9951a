package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// Breaker trip reasons.
const (
	TripDailyLoss      = "daily_loss"
	TripExposureBreach = "exposure_breach"
	TripManual         = "manual"
)

// dust is the relative quantity below which a position counts as flat.
const dust = 1e-9

// FillResult describes what ApplyFill changed.
type FillResult struct {
	Position    domain.Position
	RealizedPnL float64
	// Breach is set when post-fill exposure exceeds the limits. The fill is
	// still recorded and the breaker is latched.
	Breach bool
	// Tripped is set when this fill moved the breaker from open to tripped.
	Tripped bool
}

// Book owns the live PortfolioState. One goroutine mutates it; the mutex
// lets other goroutines take snapshots.
type Book struct {
	mu      sync.RWMutex
	state   domain.PortfolioState
	applied map[string]struct{}
}

// NewBook returns a book holding cash on the risk day containing day.
func NewBook(cash float64, day time.Time) *Book {
	st := domain.NewPortfolioState(cash)
	st.Day = DayOf(day)
	return &Book{state: st, applied: make(map[string]struct{})}
}

// DayOf truncates t to its UTC date.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Snapshot returns a deep copy of the portfolio.
func (b *Book) Snapshot() domain.PortfolioState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Clone()
}

// Mark records the latest price for symbol.
func (b *Book) Mark(symbol string, price float64) {
	if !(price > 0) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Marks[symbol] = price
}

// ResetDaily starts a new risk day: daily P&L and trade counters are cleared
// and the breaker is re-armed.
func (b *Book) ResetDaily(day time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Day = DayOf(day)
	b.state.DailyRealizedPnL = 0
	b.state.TradesToday = 0
	b.state.Breaker = domain.Breaker{}
}

// RollDay resets the day when t falls on a later UTC date than the current
// risk day. It reports whether a reset happened.
func (b *Book) RollDay(t time.Time) bool {
	day := DayOf(t)
	b.mu.RLock()
	later := day.After(b.state.Day)
	b.mu.RUnlock()
	if !later {
		return false
	}
	b.ResetDaily(day)
	return true
}

// Trip latches the breaker. It reports whether the breaker was open before.
func (b *Book) Trip(reason string, at time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripLocked(reason, at)
}

func (b *Book) tripLocked(reason string, at time.Time) bool {
	if b.state.Breaker.Tripped {
		return false
	}
	b.state.Breaker = domain.Breaker{Tripped: true, TrippedAt: at, Reason: reason}
	return true
}

// ApplyFill records a confirmed fill. A fill ID seen before returns
// domain.ErrDuplicateFill and leaves the book unchanged.
func (b *Book) ApplyFill(fill domain.Fill, limits domain.RiskLimits) (FillResult, error) {
	if err := validFill(fill); err != nil {
		return FillResult{}, fmt.Errorf("risk: apply fill %q: %w", fill.ID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.applied[fill.ID]; ok {
		return FillResult{}, fmt.Errorf("risk: apply fill %q: %w", fill.ID, domain.ErrDuplicateFill)
	}
	b.applied[fill.ID] = struct{}{}

	st := &b.state
	pos := st.Position(fill.Symbol)
	signed := fill.Side.Sign() * fill.Quantity
	var realized float64

	switch {
	case pos.Quantity == 0 || math.Signbit(pos.Quantity) == math.Signbit(signed):
		held := math.Abs(pos.Quantity)
		pos.AvgPrice = (held*pos.AvgPrice + fill.Quantity*fill.Price) / (held + fill.Quantity)
		pos.Quantity += signed
	default:
		held := math.Abs(pos.Quantity)
		closed := math.Min(fill.Quantity, held)
		direction := 1.0
		if pos.Quantity < 0 {
			direction = -1
		}
		realized = (fill.Price - pos.AvgPrice) * closed * direction
		remaining := fill.Quantity - closed
		switch {
		case remaining > dust*fill.Quantity:
			pos.Quantity = math.Copysign(remaining, signed)
			pos.AvgPrice = fill.Price
		case held-closed <= dust*held:
			pos.Quantity = 0
			pos.AvgPrice = 0
		default:
			pos.Quantity += signed
		}
	}
	pos.RealizedPnL += realized
	st.Positions[fill.Symbol] = pos
	if pos.Quantity == 0 {
		delete(st.Positions, fill.Symbol)
	}

	st.Cash -= signed*fill.Price + fill.Fee
	st.Fees += fill.Fee
	st.RealizedPnL += realized - fill.Fee
	st.DailyRealizedPnL += realized - fill.Fee
	st.TradesToday++
	tradeAt := fill.Time
	if !fill.DecidedAt.IsZero() {
		tradeAt = fill.DecidedAt
	}
	if tradeAt.After(st.LastTradeAt) {
		st.LastTradeAt = tradeAt
	}
	st.Marks[fill.Symbol] = fill.Price

	res := FillResult{Position: pos, RealizedPnL: realized}
	if loss := st.DailyLoss(); loss > 0 && loss >= limits.MaxDailyLoss {
		res.Tripped = b.tripLocked(TripDailyLoss, fill.Time)
	}
	if exceeds(st.SymbolExposure(fill.Symbol), limits.MaxPositionNotional) || exceeds(st.Exposure(), limits.MaxAggregateExposure) {
		res.Breach = true
		if b.tripLocked(TripExposureBreach, fill.Time) {
			res.Tripped = true
		}
	}
	return res, nil
}

// Applied reports whether a fill ID has been recorded.
func (b *Book) Applied(fillID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.applied[fillID]
	return ok
}

func validFill(f domain.Fill) error {
	switch {
	case f.ID == "":
		return fmt.Errorf("missing fill id")
	case f.Symbol == "":
		return fmt.Errorf("missing symbol")
	case f.Side != domain.SideBuy && f.Side != domain.SideSell:
		return fmt.Errorf("unknown side %q", f.Side)
	case !(f.Quantity > 0):
		return fmt.Errorf("quantity %v must be positive", f.Quantity)
	case !(f.Price > 0):
		return fmt.Errorf("price %v must be positive", f.Price)
	case f.Fee < 0:
		return fmt.Errorf("fee %v must be >= 0", f.Fee)
	}
	return nil
}
