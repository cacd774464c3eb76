package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
)

// Pool wraps a pgx connection pool shared by the job repository, checksum
// store and vector gateway.
type Pool struct {
	pool   *pgxpool.Pool
	logger arbor.ILogger
}

// NewPool connects to the configured database and verifies the connection.
func NewPool(ctx context.Context, cfg common.PostgresConfig, logger arbor.ILogger) (*Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Debug().Str("host", cfg.Host).Str("database", cfg.Database).Msg("Postgres pool initialized")

	return &Pool{pool: pool, logger: logger}, nil
}

// Pgx returns the underlying pgx pool.
func (p *Pool) Pgx() *pgxpool.Pool {
	return p.pool
}

// Close closes the pool.
func (p *Pool) Close() {
	p.pool.Close()
}
