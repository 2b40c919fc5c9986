package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// PostgresOptions tunes the pgx pool.
type PostgresOptions struct {
	MaxConns int32
	MinConns int32
	Migrate  bool
}

// OpenPostgres builds a pgxpool, validates connectivity and optionally runs migrations.
func OpenPostgres(ctx context.Context, dsn string, opts PostgresOptions) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse postgres dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		pcfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns >= 0 {
		pcfg.MinConns = opts.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres pool: %w", err)
	}

	if err := PingPostgres(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}

	if opts.Migrate {
		db := stdlib.OpenDBFromPool(pool)
		err := Migrate(ctx, db, DialectPostgres)
		_ = db.Close()
		if err != nil {
			pool.Close()
			return nil, err
		}
	}

	return pool, nil
}

// PingPostgres checks if we can acquire a connection within timeout.
func PingPostgres(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
