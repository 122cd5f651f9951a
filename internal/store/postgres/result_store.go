package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// ResultStore implements domain.ResultStore and domain.ResultLister. Result
// IDs are content derived, so saving the same run twice is a no-op.
type ResultStore struct {
	pool *pgxpool.Pool
}

// NewResultStore creates a ResultStore backed by pool.
func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// SaveResult writes the result row and its trades in one transaction.
func (s *ResultStore) SaveResult(ctx context.Context, r domain.BacktestResult) error {
	cfgJSON, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("postgres: marshal result config: %w", err)
	}
	settingsJSON, err := json.Marshal(r.Settings)
	if err != nil {
		return fmt.Errorf("postgres: marshal result settings: %w", err)
	}
	metricsJSON, err := json.Marshal(r.Metrics)
	if err != nil {
		return fmt.Errorf("postgres: marshal result metrics: %w", err)
	}
	verdictsJSON, err := json.Marshal(r.Verdicts)
	if err != nil {
		return fmt.Errorf("postgres: marshal result verdicts: %w", err)
	}
	equityJSON, err := json.Marshal(r.Equity)
	if err != nil {
		return fmt.Errorf("postgres: marshal result equity: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save result %s: %w", r.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertResult = `
		INSERT INTO backtest_results (
			id, config_name, revision, config_hash, symbol, interval,
			from_time, to_time, bars, config_json, settings, metrics, verdicts, equity
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`
	tag, err := tx.Exec(ctx, insertResult,
		r.ID, r.ConfigName, r.Revision, r.ConfigHash, r.Symbol, r.Interval,
		r.From, r.To, r.Bars, cfgJSON, settingsJSON, metricsJSON, verdictsJSON, equityJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert result %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	if len(r.Trades) > 0 {
		const insertTrade = `
			INSERT INTO simulated_trades (
				id, result_id, intent_id, ts, symbol, side, quantity, price,
				fee, realized_pnl, verdict, strategy_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO NOTHING`
		batch := &pgx.Batch{}
		for _, t := range r.Trades {
			batch.Queue(insertTrade,
				t.ID, r.ID, t.IntentID, t.Time, t.Symbol, string(t.Side), t.Quantity, t.Price,
				t.Fee, t.RealizedPnL, string(t.Verdict), t.StrategyID,
			)
		}
		br := tx.SendBatch(ctx, batch)
		for i := range r.Trades {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: insert trade %d of result %s: %w", i, r.ID, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close trade batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit result %s: %w", r.ID, err)
	}
	return nil
}

// ListRecent returns summaries newest first.
func (s *ResultStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ResultSummary, error) {
	query, args := listQuery(`
		SELECT id, config_name, revision, config_hash, symbol, interval, metrics, created_at
		FROM backtest_results WHERE TRUE`, "created_at", nil, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list results: %w", err)
	}
	defer rows.Close()

	out := []domain.ResultSummary{}
	for rows.Next() {
		var (
			r   domain.ResultSummary
			raw []byte
		)
		if err := rows.Scan(&r.ID, &r.ConfigName, &r.Revision, &r.ConfigHash, &r.Symbol, &r.Interval, &raw, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan result: %w", err)
		}
		if err := json.Unmarshal(raw, &r.Metrics); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal metrics of %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list results rows: %w", err)
	}
	return out, nil
}
