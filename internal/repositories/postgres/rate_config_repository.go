package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lauragobrightly/ship-ship/internal/domain"
	"github.com/lauragobrightly/ship-ship/internal/repositories"
)

const rateConfigRowID = "default"

// RateConfigRepository stores the rate configuration as a JSONB row keyed by a fixed id.
type RateConfigRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.RateConfigRepository = (*RateConfigRepository)(nil)

// NewRateConfigRepository wraps an existing pool.
func NewRateConfigRepository(pool *pgxpool.Pool) (*RateConfigRepository, error) {
	if pool == nil {
		return nil, errors.New("rate config repository requires postgres pool")
	}
	return &RateConfigRepository{pool: pool}, nil
}

// Connect opens a pool and creates the schema.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// EnsureSchema creates the rate_config table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rate_config (
  id text PRIMARY KEY,
  payload jsonb NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
);`)
	if err != nil {
		return fmt.Errorf("postgres ensure schema: %w", err)
	}
	return nil
}

func (r *RateConfigRepository) Load(ctx context.Context) (domain.RateConfig, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT payload FROM rate_config WHERE id = $1`, rateConfigRowID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RateConfig{}, repositories.ErrNotFound
	}
	if err != nil {
		return domain.RateConfig{}, fmt.Errorf("postgres rate config load: %w", err)
	}
	var cfg domain.RateConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.RateConfig{}, fmt.Errorf("postgres rate config decode: %w", err)
	}
	return cfg, nil
}

func (r *RateConfigRepository) Save(ctx context.Context, cfg domain.RateConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("postgres rate config encode: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO rate_config(id, payload, updated_at) VALUES($1, $2, now())
        ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`, rateConfigRowID, raw)
	if err != nil {
		return fmt.Errorf("postgres rate config save: %w", err)
	}
	return nil
}

func (r *RateConfigRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
