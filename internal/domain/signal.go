package domain

import "time"

// Direction is the directional opinion carried by a Signal.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionFlat  Direction = "flat"
)

// Signal is one strategy's opinion on a symbol at a point in time.
type Signal struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Strength   float64   `json:"strength"` // in [0,1]
	StrategyID string    `json:"strategy_id"`
	Timestamp  time.Time `json:"timestamp"`
	// RefPrice is the close the reading was taken at.
	RefPrice float64 `json:"ref_price"`
}

// SignalRef identifies the signal an intent originated from.
type SignalRef struct {
	StrategyID string    `json:"strategy_id"`
	Timestamp  time.Time `json:"timestamp"`
	Strength   float64   `json:"strength"`
}
