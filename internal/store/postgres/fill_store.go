package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// FillStore implements domain.FillStore.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a FillStore backed by pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// InsertFill records f. Replayed fills with a known ID are ignored.
func (s *FillStore) InsertFill(ctx context.Context, f domain.Fill) error {
	const query = `
		INSERT INTO fills (id, intent_id, symbol, side, quantity, price, fee, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		f.ID, f.IntentID, f.Symbol, string(f.Side), f.Quantity, f.Price, f.Fee, f.Time,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert fill %s: %w", f.ID, err)
	}
	return nil
}

// ListBySymbol returns fills for symbol newest first.
func (s *FillStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Fill, error) {
	query, args := listQuery(`
		SELECT id, intent_id, symbol, side, quantity, price, fee, ts
		FROM fills WHERE symbol = $1`, "ts", []any{symbol}, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills %s: %w", symbol, err)
	}
	defer rows.Close()

	fills := []domain.Fill{}
	for rows.Next() {
		var (
			f    domain.Fill
			side string
		)
		if err := rows.Scan(&f.ID, &f.IntentID, &f.Symbol, &side, &f.Quantity, &f.Price, &f.Fee, &f.Time); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		f.Side = domain.Side(side)
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list fills rows: %w", err)
	}
	return fills, nil
}
