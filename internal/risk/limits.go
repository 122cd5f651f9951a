package risk

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// LimitsHolder publishes RiskLimits as a whole. Readers never observe a
// partially applied reload.
type LimitsHolder struct {
	p atomic.Pointer[domain.RiskLimits]
}

// NewLimitsHolder validates l and returns a holder serving it.
func NewLimitsHolder(l domain.RiskLimits) (*LimitsHolder, error) {
	h := &LimitsHolder{}
	if err := h.Store(l); err != nil {
		return nil, err
	}
	return h, nil
}

// Load returns the current limits.
func (h *LimitsHolder) Load() domain.RiskLimits {
	return *h.p.Load()
}

// Store validates l and swaps it in. Invalid limits leave the current
// value in place.
func (h *LimitsHolder) Store(l domain.RiskLimits) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("risk: store limits: %w", err)
	}
	h.p.Store(&l)
	return nil
}

// DefaultLimits scales the stock limits to capital: 10% per symbol, 80% in
// aggregate and a 5% daily loss, with at most 10 open positions, 50 trades a
// day and a minute between trades.
func DefaultLimits(capital float64) domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionNotional:  capital * 0.10,
		MaxAggregateExposure: capital * 0.80,
		MaxDailyLoss:         capital * 0.05,
		MaxOpenPositions:     10,
		MaxTradesPerDay:      50,
		MinTradeInterval:     time.Minute,
	}
}
