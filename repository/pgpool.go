package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samandartukhtayev/ecommerce-sharding/config"
)

// Row is the single-row result of a query
type Row interface {
	Scan(dest ...any) error
}

// Pool is the slice of a pgx pool the account store needs
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Ping(ctx context.Context) error
	Close()
}

var _ Pool = (*PgPool)(nil)

// PgPool adapts *pgxpool.Pool to Pool
type PgPool struct {
	closeOnce sync.Once
	pool      *pgxpool.Pool
}

// NewPgPool creates a configured connection pool and verifies it with a ping
func NewPgPool(ctx context.Context, conf config.PoolConfig) (*PgPool, error) {
	poolConfig, err := pgxpool.ParseConfig(conf.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB DSN: %w", err)
	}

	if conf.MaxConns > 0 {
		poolConfig.MaxConns = conf.MaxConns
	}
	poolConfig.MinConns = conf.MinConns
	if conf.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = conf.HealthCheckPeriod
	}
	if conf.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = conf.MaxConnLifetime
	}
	if conf.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = conf.MaxConnIdleTime
	}
	if conf.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = conf.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PgPool{pool: pool}, nil
}

func (p *PgPool) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := p.pool.Exec(ctx, sql, args...)
	return tag.RowsAffected(), err
}

func (p *PgPool) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

func (p *PgPool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the pool once
func (p *PgPool) Close() {
	p.closeOnce.Do(func() {
		if p.pool != nil {
			p.pool.Close()
		}
	})
}
