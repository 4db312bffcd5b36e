// Package postgres persists decoded rows and marks the raw record processed
// in one transaction, advancing the checkpoint as part of the same commit.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sluice/internal/decode"
	"sluice/internal/record"
	"sluice/processor"
)

const (
	markProcessedSQL = `UPDATE raw_account_updates SET processed_at = now() WHERE id = $1`
	advanceSQL       = `UPDATE processor_checkpoint SET last_slot = GREATEST(last_slot, $1) WHERE id = 1`
)

// Opener opens a fresh pgx pool per dispatch.
type Opener struct {
	dsn     string
	decoder decode.Decoder
}

func NewOpener(dsn string, dec decode.Decoder) *Opener {
	return &Opener{dsn: dsn, decoder: dec}
}

func (o *Opener) Open(ctx context.Context, size int) (processor.Pool, error) {
	pc, err := pgxpool.ParseConfig(o.dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres processor: parse dsn: %w", err)
	}
	pc.MaxConns = int32(size)
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres processor: open pool: %w", err)
	}
	return &Pool{db: pool, decoder: o.decoder}, nil
}

type Pool struct {
	db      *pgxpool.Pool
	decoder decode.Decoder
}

// NewPool wraps an existing pool; Close will close it.
func NewPool(db *pgxpool.Pool, dec decode.Decoder) *Pool {
	return &Pool{db: db, decoder: dec}
}

func (p *Pool) Process(ctx context.Context, rec record.Record) error {
	rows, err := p.decoder.Decode(ctx, rec)
	if err != nil {
		return processor.Failed(rec, err)
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return processor.Failed(rec, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, row := range rows {
		if err := insertRow(ctx, tx, row); err != nil {
			return processor.Failed(rec, err)
		}
	}
	if _, err := tx.Exec(ctx, markProcessedSQL, rec.ID); err != nil {
		return processor.Failed(rec, fmt.Errorf("mark processed: %w", err))
	}
	if _, err := tx.Exec(ctx, advanceSQL, rec.Slot); err != nil {
		return processor.Failed(rec, fmt.Errorf("advance checkpoint: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return processor.Failed(rec, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (p *Pool) Close() { p.db.Close() }

// insertRow ignores rows already written by an earlier delivery.
func insertRow(ctx context.Context, tx pgx.Tx, row decode.Row) error {
	q := fmt.Sprintf(`INSERT INTO %s (pubkey, slot, write_version, owner, body)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (pubkey, slot, write_version) DO NOTHING`, pgx.Identifier{row.Table}.Sanitize())
	if _, err := tx.Exec(ctx, q, row.Pubkey, row.Slot, row.WriteVersion, row.Owner, row.Body); err != nil {
		return fmt.Errorf("insert %s: %w", row.Table, err)
	}
	return nil
}
