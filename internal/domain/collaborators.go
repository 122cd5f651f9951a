package domain

import (
	"context"
	"time"
)

// MarketDataFeed supplies the latest snapshot per symbol. Snapshot
// timestamps never decrease for a symbol.
type MarketDataFeed interface {
	Snapshot(ctx context.Context, symbol string) (MarketSnapshot, error)
	// Updates emits a symbol each time a new bar closes for it.
	Updates() <-chan string
}

// ExecutionClient places orders. Submit returning nil means the intent was
// accepted for execution; the outcome arrives later on Reports.
type ExecutionClient interface {
	Submit(ctx context.Context, intent OrderIntent) error
	Reports() <-chan ExecutionReport
}

// HistoricalSource loads a bar series for backtests and optimization.
type HistoricalSource interface {
	Load(ctx context.Context, symbol, interval string, from, to time.Time) (Series, error)
}
