package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxRow adapts pgx.Row to Row.
type pgxRow struct {
	row pgx.Row
}

func (r pgxRow) Scan(dest ...any) error { return r.row.Scan(dest...) }

// pgxRows adapts pgx.Rows to Rows.
type pgxRows struct {
	rows pgx.Rows
}

func (r pgxRows) Next() bool             { return r.rows.Next() }
func (r pgxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r pgxRows) Err() error             { return r.rows.Err() }
func (r pgxRows) Close()                 { r.rows.Close() }

// pgxResult adapts pgconn.CommandTag to Result.
type pgxResult struct {
	tag pgconnCommandTag
}

type pgconnCommandTag interface {
	RowsAffected() int64
}

func (r pgxResult) RowsAffected() int64 { return r.tag.RowsAffected() }

// PgxPool implements Database over a pgxpool.Pool.
type PgxPool struct {
	Pool *pgxpool.Pool
}

// NewPgxPool wraps an already-constructed pgxpool.Pool as a Database.
func NewPgxPool(pool *pgxpool.Pool) *PgxPool {
	return &PgxPool{Pool: pool}
}

func (p *PgxPool) Exec(ctx context.Context, sql string, args ...any) (Result, error) {
	tag, err := p.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgxResult{tag: tag}, nil
}

func (p *PgxPool) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return pgxRow{row: p.Pool.QueryRow(ctx, sql, args...)}
}

func (p *PgxPool) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := p.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgxRows{rows: rows}, nil
}

func (p *PgxPool) BeginTx(ctx context.Context, opts *TxOptions) (Tx, error) {
	txOpts := pgx.TxOptions{}
	if opts != nil {
		if opts.ReadOnly {
			txOpts.AccessMode = pgx.ReadOnly
		}
		switch opts.IsolationLevel {
		case "serializable":
			txOpts.IsoLevel = pgx.Serializable
		case "repeatable read":
			txOpts.IsoLevel = pgx.RepeatableRead
		case "read committed", "":
			txOpts.IsoLevel = pgx.ReadCommitted
		}
	}
	tx, err := p.Pool.BeginTx(ctx, txOpts)
	if err != nil {
		return nil, err
	}
	return &PgxTx{tx: tx}, nil
}

func (p *PgxPool) Ping(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

func (p *PgxPool) Close() error {
	p.Pool.Close()
	return nil
}

func (p *PgxPool) DriverName() string { return "postgres" }

// PgxTx implements Tx over a pgx.Tx.
type PgxTx struct {
	tx pgx.Tx
}

func (t *PgxTx) Exec(ctx context.Context, sql string, args ...any) (Result, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgxResult{tag: tag}, nil
}

func (t *PgxTx) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return pgxRow{row: t.tx.QueryRow(ctx, sql, args...)}
}

func (t *PgxTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgxRows{rows: rows}, nil
}

func (t *PgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *PgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// Raw returns the underlying pgx.Tx for call sites that need driver-specific
// features (e.g. pg_advisory_xact_lock) not expressed by the Executor surface.
func (t *PgxTx) Raw() pgx.Tx { return t.tx }
