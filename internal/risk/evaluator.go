// Package risk gates order intents against portfolio limits and owns the
// live portfolio book.
package risk

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// Limit names reported on verdicts.
const (
	LimitIntent           = "intent"
	LimitPosition         = "max_position_notional"
	LimitAggregate        = "max_aggregate_exposure"
	LimitDailyLoss        = "max_daily_loss"
	LimitOpenPositions    = "max_open_positions"
	LimitTradesPerDay     = "max_trades_per_day"
	LimitMinTradeInterval = "min_trade_interval"
)

// exceeds compares notionals with a tolerance of a billionth of the limit.
func exceeds(value, limit float64) bool {
	return value > limit+1e-9*math.Max(1, math.Abs(limit))
}

// Evaluate decides whether intent may be executed against portfolio under
// limits. It is pure: neither argument is modified.
//
// Risk-reducing intents skip the exposure and breaker checks. Risk-increasing
// intents run the per-symbol cap (which may resize), the aggregate cap, the
// daily-loss breaker and the frequency limits in that order; the first
// rejection wins.
func Evaluate(intent domain.OrderIntent, portfolio domain.PortfolioState, limits domain.RiskLimits) domain.Verdict {
	v := domain.Verdict{Kind: domain.VerdictApproved, Intent: intent, OriginalQuantity: intent.Quantity}

	if detail := malformed(intent); detail != "" {
		return reject(v, domain.ReasonInvalidIntent, LimitIntent, detail)
	}

	pos := portfolio.Position(intent.Symbol)
	held := math.Abs(pos.Quantity)
	opposes := pos.Quantity != 0 && math.Signbit(pos.Quantity) != math.Signbit(intent.Side.Sign())

	if intent.ReduceOnly {
		if !opposes {
			return reject(v, domain.ReasonInvalidIntent, LimitIntent, "reduce-only intent does not reduce a position")
		}
		if intent.Quantity > held {
			return resize(v, held, domain.ReasonNone, "", fmt.Sprintf("capped at position size %.8g", held))
		}
		return v
	}
	if opposes && intent.Quantity <= held {
		return v
	}

	// Per-symbol cap. Headroom is measured in quantity at the intent price.
	if exceeds(postExposure(pos, intent), limits.MaxPositionNotional) {
		maxQty := (limits.MaxPositionNotional - pos.CostBasis()) / intent.Price
		if opposes {
			maxQty = held + limits.MaxPositionNotional/intent.Price
		}
		qty := domain.FloorToLot(maxQty, intent.LotSize)
		if qty <= 0 {
			return reject(v, domain.ReasonPositionLimit, LimitPosition, fmt.Sprintf(
				"symbol exposure %.2f leaves no headroom under %.2f", pos.CostBasis(), limits.MaxPositionNotional))
		}
		v = resize(v, qty, domain.ReasonPositionLimit, LimitPosition, fmt.Sprintf(
			"quantity %.8g exceeds headroom, resized to %.8g", intent.Quantity, qty))
	}

	// Aggregate cap, no resize.
	post := postExposure(pos, v.Intent)
	aggregate := portfolio.Exposure() - pos.CostBasis() + post
	if exceeds(aggregate, limits.MaxAggregateExposure) {
		return reject(v, domain.ReasonAggregateExposure, LimitAggregate, fmt.Sprintf(
			"aggregate exposure %.2f would exceed %.2f", aggregate, limits.MaxAggregateExposure))
	}

	if portfolio.Breaker.Tripped {
		return reject(v, domain.ReasonDailyLoss, LimitDailyLoss, "circuit breaker tripped: "+portfolio.Breaker.Reason)
	}
	if loss := portfolio.DailyLoss(); loss > 0 && loss >= limits.MaxDailyLoss {
		return reject(v, domain.ReasonDailyLoss, LimitDailyLoss, fmt.Sprintf(
			"daily loss %.2f reached limit %.2f", loss, limits.MaxDailyLoss))
	}

	if limits.MaxOpenPositions > 0 && pos.Quantity == 0 && portfolio.OpenPositions() >= limits.MaxOpenPositions {
		return reject(v, domain.ReasonMaxPositions, LimitOpenPositions, fmt.Sprintf(
			"%d open positions, limit %d", portfolio.OpenPositions(), limits.MaxOpenPositions))
	}
	if limits.MaxTradesPerDay > 0 && portfolio.TradesToday >= limits.MaxTradesPerDay {
		return reject(v, domain.ReasonTradeFrequency, LimitTradesPerDay, fmt.Sprintf(
			"%d trades today, limit %d", portfolio.TradesToday, limits.MaxTradesPerDay))
	}
	if limits.MinTradeInterval > 0 && !portfolio.LastTradeAt.IsZero() {
		if since := intent.CreatedAt.Sub(portfolio.LastTradeAt); since < limits.MinTradeInterval {
			return reject(v, domain.ReasonTradeInterval, LimitMinTradeInterval, fmt.Sprintf(
				"%s since last trade, minimum %s", since, limits.MinTradeInterval))
		}
	}
	return v
}

// postExposure is the symbol's cost-basis notional after intent fills at
// its price.
func postExposure(pos domain.Position, intent domain.OrderIntent) float64 {
	held := math.Abs(pos.Quantity)
	if pos.Quantity == 0 || math.Signbit(pos.Quantity) == math.Signbit(intent.Side.Sign()) {
		return pos.CostBasis() + intent.Quantity*intent.Price
	}
	if intent.Quantity <= held {
		return (held - intent.Quantity) * pos.AvgPrice
	}
	return (intent.Quantity - held) * intent.Price
}

func malformed(o domain.OrderIntent) string {
	switch {
	case o.Symbol == "":
		return "missing symbol"
	case o.Side != domain.SideBuy && o.Side != domain.SideSell:
		return fmt.Sprintf("unknown side %q", o.Side)
	case !(o.Quantity > 0) || math.IsInf(o.Quantity, 0):
		return fmt.Sprintf("quantity %v must be positive", o.Quantity)
	case !(o.Price > 0) || math.IsInf(o.Price, 0):
		return fmt.Sprintf("price %v must be positive", o.Price)
	}
	return ""
}

func reject(v domain.Verdict, reason domain.RejectReason, limit, detail string) domain.Verdict {
	v.Kind = domain.VerdictRejected
	v.Reason = reason
	v.Limit = limit
	v.Detail = detail
	return v
}

func resize(v domain.Verdict, qty float64, reason domain.RejectReason, limit, detail string) domain.Verdict {
	v.Kind = domain.VerdictResized
	v.Intent.Quantity = qty
	v.Intent.Exposure = qty * v.Intent.Price
	v.Reason = reason
	v.Limit = limit
	v.Detail = detail
	return v
}
