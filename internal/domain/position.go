package domain

import (
	"math"
	"sort"
	"time"
)

// Position is the net holding in one symbol. Quantity is signed; negative
// values are short.
type Position struct {
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	AvgPrice    float64 `json:"avg_price"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// CostBasis returns |Quantity| * AvgPrice.
func (p Position) CostBasis() float64 {
	return math.Abs(p.Quantity) * p.AvgPrice
}

// Breaker is the daily-loss circuit breaker state. Once tripped it stays
// tripped until an explicit daily reset.
type Breaker struct {
	Tripped   bool      `json:"tripped"`
	TrippedAt time.Time `json:"tripped_at,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// PortfolioState is the risk view of the account. The live instance is owned
// by risk.Book; everyone else works on copies.
type PortfolioState struct {
	Positions        map[string]Position `json:"positions"`
	Marks            map[string]float64  `json:"marks"`
	Cash             float64             `json:"cash"`
	RealizedPnL      float64             `json:"realized_pnl"`
	DailyRealizedPnL float64             `json:"daily_realized_pnl"`
	Fees             float64             `json:"fees"`
	TradesToday      int                 `json:"trades_today"`
	LastTradeAt      time.Time           `json:"last_trade_at,omitempty"`
	Day              time.Time           `json:"day"`
	Breaker          Breaker             `json:"breaker"`
}

// NewPortfolioState returns an empty portfolio holding cash.
func NewPortfolioState(cash float64) PortfolioState {
	return PortfolioState{
		Positions: make(map[string]Position),
		Marks:     make(map[string]float64),
		Cash:      cash,
	}
}

// Clone returns a deep copy.
func (p PortfolioState) Clone() PortfolioState {
	out := p
	out.Positions = make(map[string]Position, len(p.Positions))
	for k, v := range p.Positions {
		out.Positions[k] = v
	}
	out.Marks = make(map[string]float64, len(p.Marks))
	for k, v := range p.Marks {
		out.Marks[k] = v
	}
	return out
}

// Symbols returns the symbols with a non-zero position in sorted order, so
// sums over positions are reproducible.
func (p PortfolioState) Symbols() []string {
	out := make([]string, 0, len(p.Positions))
	for sym, pos := range p.Positions {
		if pos.Quantity != 0 {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// Position returns the position for symbol, zero valued when flat.
func (p PortfolioState) Position(symbol string) Position {
	if pos, ok := p.Positions[symbol]; ok {
		return pos
	}
	return Position{Symbol: symbol}
}

// SymbolExposure is the cost-basis notional held in symbol.
func (p PortfolioState) SymbolExposure(symbol string) float64 {
	return p.Position(symbol).CostBasis()
}

// Exposure is the aggregate cost-basis notional across all symbols.
func (p PortfolioState) Exposure() float64 {
	var total float64
	for _, sym := range p.Symbols() {
		total += p.Positions[sym].CostBasis()
	}
	return total
}

// OpenPositions counts symbols with a non-zero quantity.
func (p PortfolioState) OpenPositions() int {
	return len(p.Symbols())
}

// Mark returns the latest mark for symbol, falling back to the average entry.
func (p PortfolioState) Mark(symbol string) float64 {
	if m, ok := p.Marks[symbol]; ok && m > 0 {
		return m
	}
	return p.Position(symbol).AvgPrice
}

// UnrealizedPnL is the mark-to-market P&L of open positions.
func (p PortfolioState) UnrealizedPnL() float64 {
	var total float64
	for _, sym := range p.Symbols() {
		pos := p.Positions[sym]
		total += (p.Mark(sym) - pos.AvgPrice) * pos.Quantity
	}
	return total
}

// Equity is cash plus the marked value of all positions.
func (p PortfolioState) Equity() float64 {
	eq := p.Cash
	for _, sym := range p.Symbols() {
		eq += p.Positions[sym].Quantity * p.Mark(sym)
	}
	return eq
}

// DailyLoss returns the realized loss of the current risk day as a
// non-negative number.
func (p PortfolioState) DailyLoss() float64 {
	if p.DailyRealizedPnL >= 0 {
		return 0
	}
	return -p.DailyRealizedPnL
}
