// Package postgres reads the raw account backlog from Postgres. A cycle
// holds exactly one connection from a single-connection pool, separate from
// the pools the processor opens for dispatch.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sluice/internal/record"
	"sluice/source"
)

const defaultBatchLimit = 10_000

const (
	checkpointSQL = `SELECT last_slot FROM processor_checkpoint WHERE id = 1`

	backlogSQL = `
SELECT id, slot, pubkey, owner, write_version, data
FROM raw_account_updates
WHERE slot > $1 AND processed_at IS NULL
ORDER BY slot, write_version
LIMIT $2`

	countSQL = `
SELECT count(*)
FROM raw_account_updates
WHERE slot > $1 AND processed_at IS NULL`
)

type Driver struct {
	pool  *pgxpool.Pool
	limit int
}

// New opens a single-connection pool against dsn.
func New(ctx context.Context, dsn string, batchLimit int) (*Driver, error) {
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres source: parse dsn: %w", err)
	}
	pc.MaxConns = 1
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres source: open pool: %w", err)
	}
	return FromPool(pool, batchLimit), nil
}

// FromPool wraps an existing pool. The caller keeps ownership of sizing.
func FromPool(pool *pgxpool.Pool, batchLimit int) *Driver {
	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}
	return &Driver{pool: pool, limit: batchLimit}
}

func (d *Driver) Acquire(ctx context.Context) (source.Reader, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &reader{conn: conn, limit: d.limit}, nil
}

func (d *Driver) Close() error {
	d.pool.Close()
	return nil
}

type reader struct {
	conn  *pgxpool.Conn
	limit int
}

func (r *reader) ReadCheckpoint(ctx context.Context) (record.Checkpoint, error) {
	var slot int64
	if err := r.conn.QueryRow(ctx, checkpointSQL).Scan(&slot); err != nil {
		return 0, err
	}
	return record.Checkpoint(slot), nil
}

func (r *reader) ReadBacklog(ctx context.Context, cp record.Checkpoint) ([]record.Record, error) {
	rows, err := r.conn.Query(ctx, backlogSQL, int64(cp), r.limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (record.Record, error) {
		var rec record.Record
		err := row.Scan(&rec.ID, &rec.Slot, &rec.Pubkey, &rec.Owner, &rec.WriteVersion, &rec.Data)
		return rec, err
	})
}

func (r *reader) CountBacklog(ctx context.Context, cp record.Checkpoint) (int64, error) {
	var n int64
	err := r.conn.QueryRow(ctx, countSQL, int64(cp)).Scan(&n)
	return n, err
}

func (r *reader) Release() { r.conn.Release() }

func init() {
	source.Register("postgres", func(ctx context.Context, cfg source.Config) (source.Source, error) {
		return New(ctx, cfg.DSN, cfg.BatchLimit)
	})
}
