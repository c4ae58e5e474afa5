package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Client wraps a pgx pool with the small query surface the stores use.
type Client struct {
	Pool   *pgxpool.Pool
	Logger *zap.Logger
}

// NewClient wraps an already connected pool.
func NewClient(pool *pgxpool.Pool, logger *zap.Logger) Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Client{Pool: pool, Logger: logger}
}

// Exec runs a statement that returns no rows.
func (c Client) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.Pool.Exec(ctx, query, args...)
	return err
}

// ExecRows runs a statement and returns the number of affected rows.
func (c Client) ExecRows(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := c.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Query runs a statement that returns rows.
func (c Client) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return c.Pool.Query(ctx, query, args...)
}

// QueryRow runs a statement that returns at most one row.
func (c Client) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return c.Pool.QueryRow(ctx, query, args...)
}

// BeginFunc runs fn inside a transaction, committing when fn returns nil.
func (c Client) BeginFunc(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	err := pgx.BeginFunc(ctx, c.Pool, fn)
	if err != nil {
		c.Logger.Debug("pg transaction: ROLLBACK", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return err
	}
	c.Logger.Debug("pg transaction: COMMIT", zap.Duration("duration", time.Since(start)))
	return nil
}

// Ping checks the pool can reach the server.
func (c Client) Ping(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}

// CreateSchemaIfNotExists creates a schema.
func (c Client) CreateSchemaIfNotExists(ctx context.Context, schema string) error {
	query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{schema}.Sanitize())
	return c.Exec(ctx, query)
}
