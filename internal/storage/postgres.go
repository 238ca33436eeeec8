package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresGateway is an optional pluggable Storage Gateway backend for
// deployments that already run Postgres and want a single durable
// store for flows/models/conversations rather than standing up Redis.
// It implements the same flat key/value contract as MemoryGateway and
// RedisGateway — one row per key, value stored as JSONB.
type PostgresGateway struct {
	pool *pgxpool.Pool
}

// NewPostgresGateway connects to connURL and ensures the backing table
// exists.
func NewPostgresGateway(ctx context.Context, connURL string) (*PostgresGateway, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres gateway connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres gateway ping: %w", err)
	}

	g := &PostgresGateway{pool: pool}
	if err := g.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres gateway migrate: %w", err)
	}

	log.Info().Msg("postgres storage gateway initialized")
	return g, nil
}

func (g *PostgresGateway) migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS flow_engine_kv (
			key        TEXT PRIMARY KEY,
			value      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := g.pool.Exec(ctx, ddl)
	return err
}

// Load reads the value stored at key into out. A missing key leaves
// out untouched and returns nil, matching the other Gateway backends.
func (g *PostgresGateway) Load(ctx context.Context, key string, out any) error {
	var raw []byte
	err := g.pool.QueryRow(ctx, `SELECT value FROM flow_engine_kv WHERE key = $1`, key).Scan(&raw)
	if err != nil {
		return nil // not found or unreadable -> caller's zero-value default, per spec §4.1
	}
	return json.Unmarshal(raw, out)
}

// Save upserts value at key.
func (g *PostgresGateway) Save(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = g.pool.Exec(ctx, `
		INSERT INTO flow_engine_kv (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, raw)
	return err
}

// Delete removes key. Deleting an absent key is not an error.
func (g *PostgresGateway) Delete(ctx context.Context, key string) error {
	_, err := g.pool.Exec(ctx, `DELETE FROM flow_engine_kv WHERE key = $1`, key)
	return err
}

// Close releases the underlying connection pool.
func (g *PostgresGateway) Close() error {
	g.pool.Close()
	return nil
}
