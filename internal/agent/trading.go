package agent

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/agentdesk/internal/domain"
	"github.com/alanyoungcy/agentdesk/internal/strategy"
)

// intentNamespace seeds deterministic intent ids.
var intentNamespace = uuid.MustParse("6f1d3c52-9a44-4b7e-8f0e-2d7c4a1b9e30")

// Exit strategy ids used on protective closes.
const (
	ExitStopLoss   = "exit:stop_loss"
	ExitTakeProfit = "exit:take_profit"
)

// Decide turns ranked signals into at most one order intent. Protective
// exits on the portfolio take priority. It never submits anything.
func Decide(signals []domain.Signal, portfolio domain.PortfolioState, c *strategy.Compiled) (domain.OrderIntent, bool) {
	return DecideAt(signals, portfolio, c, time.Time{})
}

// DecideAt is Decide with the decision time stamped on protective exits.
// A zero at falls back to the matching signal's timestamp.
func DecideAt(signals []domain.Signal, portfolio domain.PortfolioState, c *strategy.Compiled, at time.Time) (domain.OrderIntent, bool) {
	if c == nil {
		return domain.OrderIntent{}, false
	}
	tp := c.Trading()

	if in, ok := protectiveExit(signals, portfolio, c, at); ok {
		return in, true
	}

	var best *domain.Signal
	for i := range signals {
		s := &signals[i]
		if s.Strength < tp.MinStrength {
			continue
		}
		if best == nil || s.Strength > best.Strength {
			best = s
		}
	}
	if best == nil || !(best.RefPrice > 0) {
		return domain.OrderIntent{}, false
	}

	pos := portfolio.Position(best.Symbol)
	switch best.Direction {
	case domain.DirectionLong:
		if pos.Quantity < 0 {
			return closing(*best, pos, best.RefPrice, best.StrategyID, c), true
		}
		return opening(*best, domain.SideBuy, portfolio.Cash, c)
	case domain.DirectionShort:
		if pos.Quantity > 0 {
			return closing(*best, pos, best.RefPrice, best.StrategyID, c), true
		}
		if !tp.AllowShort {
			return domain.OrderIntent{}, false
		}
		return opening(*best, domain.SideSell, portfolio.Cash, c)
	case domain.DirectionFlat:
		if pos.Quantity != 0 {
			return closing(*best, pos, best.RefPrice, best.StrategyID, c), true
		}
	}
	return domain.OrderIntent{}, false
}

// protectiveExit closes the first position, in symbol order, whose mark has
// moved past the stop-loss or take-profit fraction of its entry price.
func protectiveExit(signals []domain.Signal, portfolio domain.PortfolioState, c *strategy.Compiled, at time.Time) (domain.OrderIntent, bool) {
	tp := c.Trading()
	if tp.StopLoss <= 0 && tp.TakeProfit <= 0 {
		return domain.OrderIntent{}, false
	}
	for _, sym := range portfolio.Symbols() {
		pos := portfolio.Positions[sym]
		mark := portfolio.Mark(sym)
		if !(mark > 0) || !(pos.AvgPrice > 0) {
			continue
		}
		ret := (mark - pos.AvgPrice) / pos.AvgPrice
		if pos.Quantity < 0 {
			ret = -ret
		}
		var exit string
		switch {
		case tp.StopLoss > 0 && ret <= -tp.StopLoss:
			exit = ExitStopLoss
		case tp.TakeProfit > 0 && ret >= tp.TakeProfit:
			exit = ExitTakeProfit
		default:
			continue
		}
		ref := domain.Signal{Symbol: sym, Direction: domain.DirectionFlat, Strength: 1, StrategyID: exit, Timestamp: at}
		for _, s := range signals {
			if ref.Timestamp.IsZero() && s.Symbol == sym {
				ref.Timestamp = s.Timestamp
			}
		}
		return closing(ref, pos, mark, exit, c), true
	}
	return domain.OrderIntent{}, false
}

func opening(sig domain.Signal, side domain.Side, cash float64, c *strategy.Compiled) (domain.OrderIntent, bool) {
	tp := c.Trading()
	if !(cash > 0) {
		return domain.OrderIntent{}, false
	}
	qty := domain.FloorToLot(cash*tp.RiskFraction/sig.RefPrice, tp.LotSize)
	if !(qty > 0) || math.IsInf(qty, 0) {
		return domain.OrderIntent{}, false
	}
	return intent(sig, side, qty, sig.RefPrice, false, sig.StrategyID, c), true
}

func closing(sig domain.Signal, pos domain.Position, price float64, source string, c *strategy.Compiled) domain.OrderIntent {
	side := domain.SideSell
	if pos.Quantity < 0 {
		side = domain.SideBuy
	}
	return intent(sig, side, math.Abs(pos.Quantity), price, true, source, c)
}

func intent(sig domain.Signal, side domain.Side, qty, price float64, reduce bool, source string, c *strategy.Compiled) domain.OrderIntent {
	key := fmt.Sprintf("%s|%s|%d|%s|%s|%d", c.Name(), sig.Symbol, sig.Timestamp.UnixNano(), source, side, c.Revision())
	return domain.OrderIntent{
		ID:         uuid.NewSHA1(intentNamespace, []byte(key)).String(),
		Symbol:     sig.Symbol,
		Side:       side,
		Type:       domain.OrderTypeMarket,
		Quantity:   qty,
		Price:      price,
		LotSize:    c.Trading().LotSize,
		Signal:     domain.SignalRef{StrategyID: source, Timestamp: sig.Timestamp, Strength: sig.Strength},
		Exposure:   qty * price,
		ReduceOnly: reduce,
		Revision:   c.Revision(),
		CreatedAt:  sig.Timestamp,
	}
}
