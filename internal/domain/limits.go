package domain

import (
	"fmt"
	"strings"
	"time"
)

// RiskLimits bounds what the risk evaluator will approve. Notional limits are
// in quote currency. Zero for the frequency limits means unlimited.
type RiskLimits struct {
	MaxPositionNotional  float64       `json:"max_position_notional"`
	MaxAggregateExposure float64       `json:"max_aggregate_exposure"`
	MaxDailyLoss         float64       `json:"max_daily_loss"`
	MaxOpenPositions     int           `json:"max_open_positions"`
	MaxTradesPerDay      int           `json:"max_trades_per_day"`
	MinTradeInterval     time.Duration `json:"min_trade_interval"`
}

// Validate returns ErrInvalidLimits describing every malformed field.
func (l RiskLimits) Validate() error {
	var errs []string
	if l.MaxPositionNotional < 0 {
		errs = append(errs, "max_position_notional must be >= 0")
	}
	if l.MaxAggregateExposure < 0 {
		errs = append(errs, "max_aggregate_exposure must be >= 0")
	}
	if l.MaxDailyLoss < 0 {
		errs = append(errs, "max_daily_loss must be >= 0")
	}
	if l.MaxOpenPositions < 0 {
		errs = append(errs, "max_open_positions must be >= 0")
	}
	if l.MaxTradesPerDay < 0 {
		errs = append(errs, "max_trades_per_day must be >= 0")
	}
	if l.MinTradeInterval < 0 {
		errs = append(errs, "min_trade_interval must be >= 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidLimits, strings.Join(errs, "; "))
	}
	return nil
}
