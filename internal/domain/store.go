package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ResultStore persists backtest results. The core only writes.
type ResultStore interface {
	SaveResult(ctx context.Context, result BacktestResult) error
}

// ResultSummary is a listing row for a stored backtest result.
type ResultSummary struct {
	ID         string          `json:"id"`
	ConfigName string          `json:"config_name"`
	Revision   int64           `json:"revision"`
	ConfigHash string          `json:"config_hash"`
	Symbol     string          `json:"symbol"`
	Interval   string          `json:"interval"`
	Metrics    BacktestMetrics `json:"metrics"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ResultLister reads stored backtest summaries for the HTTP API.
type ResultLister interface {
	ListRecent(ctx context.Context, opts ListOpts) ([]ResultSummary, error)
}

// FillStore persists confirmed fills.
type FillStore interface {
	InsertFill(ctx context.Context, fill Fill) error
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]Fill, error)
}

// RevisionStore persists published strategy config revisions.
type RevisionStore interface {
	Save(ctx context.Context, cfg StrategyConfig, objective float64) error
	Latest(ctx context.Context, name string) (StrategyConfig, float64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
