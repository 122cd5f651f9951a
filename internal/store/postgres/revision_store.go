package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// RevisionStore implements domain.RevisionStore. Rows are keyed by
// (name, revision) and never updated.
type RevisionStore struct {
	pool *pgxpool.Pool
}

// NewRevisionStore creates a RevisionStore backed by pool.
func NewRevisionStore(pool *pgxpool.Pool) *RevisionStore {
	return &RevisionStore{pool: pool}
}

// Save records a published revision with the objective that earned it.
func (s *RevisionStore) Save(ctx context.Context, cfg domain.StrategyConfig, objective float64) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("postgres: marshal revision %s@%d: %w", cfg.Name, cfg.Revision, err)
	}
	const query = `
		INSERT INTO strategy_revisions (name, revision, config_json, objective, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name, revision) DO NOTHING`
	created := cfg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if _, err := s.pool.Exec(ctx, query, cfg.Name, cfg.Revision, raw, objective, created.UTC()); err != nil {
		return fmt.Errorf("postgres: save revision %s@%d: %w", cfg.Name, cfg.Revision, err)
	}
	return nil
}

// Latest returns the highest revision stored for name.
func (s *RevisionStore) Latest(ctx context.Context, name string) (domain.StrategyConfig, float64, error) {
	const query = `
		SELECT config_json, objective FROM strategy_revisions
		WHERE name = $1 ORDER BY revision DESC LIMIT 1`
	var (
		raw       []byte
		objective sql.NullFloat64
	)
	err := s.pool.QueryRow(ctx, query, name).Scan(&raw, &objective)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StrategyConfig{}, 0, fmt.Errorf("postgres: latest revision %s: %w", name, domain.ErrNotFound)
		}
		return domain.StrategyConfig{}, 0, fmt.Errorf("postgres: latest revision %s: %w", name, err)
	}
	var cfg domain.StrategyConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.StrategyConfig{}, 0, fmt.Errorf("postgres: unmarshal revision %s: %w", name, err)
	}
	return cfg, objective.Float64, nil
}
