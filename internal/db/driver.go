package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Row is a single result row keyed by column name.
type Row map[string]any

// Driver is the single SQL execution capability the engine consumes.
// Catalog introspection, DDL and DML all go through it.
type Driver interface {
	Query(ctx context.Context, sql string, args ...any) ([]Row, error)
	Exec(ctx context.Context, sql string, args ...any) error
	// WithTx runs fn with a Driver bound to a single transaction,
	// committing on nil and rolling back on error.
	WithTx(ctx context.Context, fn func(Driver) error) error
}

// Pool implements Driver on top of a pgx connection pool.
type Pool struct {
	pool *pgxpool.Pool
}

func Connect(ctx context.Context, connString string) (*Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Pool{pool: pool}, nil
}

func (p *Pool) Close() {
	p.pool.Close()
}

func (p *Pool) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

func (p *Pool) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := p.pool.Exec(ctx, sql, args...)
	return err
}

func (p *Pool) WithTx(ctx context.Context, fn func(Driver) error) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(&txDriver{tx: tx})
	})
}

// txDriver binds the Driver contract to one open transaction.
type txDriver struct {
	tx pgx.Tx
}

func (t *txDriver) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

func (t *txDriver) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := t.tx.Exec(ctx, sql, args...)
	return err
}

func (t *txDriver) WithTx(ctx context.Context, fn func(Driver) error) error {
	// Nested scopes become savepoints.
	return pgx.BeginFunc(ctx, t.tx, func(tx pgx.Tx) error {
		return fn(&txDriver{tx: tx})
	})
}

func collectRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}
		row := make(Row, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		out = append(out, row)
	}

	return out, rows.Err()
}
