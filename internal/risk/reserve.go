package risk

import (
	"math"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// WithPending returns a copy of portfolio in which every risk-increasing
// pending intent is counted as filled at its price. Evaluating against the
// result keeps orders that are in flight on different symbols inside the
// exposure and open-position limits together. Reduce-only and opposing
// intents are not credited until their fills arrive. Cash, P&L and trade
// counters are left as they are.
func WithPending(portfolio domain.PortfolioState, pending []domain.OrderIntent) domain.PortfolioState {
	out := portfolio.Clone()
	for _, in := range pending {
		if in.ReduceOnly || !(in.Quantity > 0) || !(in.Price > 0) {
			continue
		}
		pos := out.Position(in.Symbol)
		signed := in.Side.Sign() * in.Quantity
		if pos.Quantity != 0 && math.Signbit(pos.Quantity) != math.Signbit(signed) {
			continue
		}
		held := math.Abs(pos.Quantity)
		pos.Symbol = in.Symbol
		pos.AvgPrice = (held*pos.AvgPrice + in.Quantity*in.Price) / (held + in.Quantity)
		pos.Quantity += signed
		out.Positions[in.Symbol] = pos
	}
	return out
}
