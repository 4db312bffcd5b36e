// Package testutil starts a throwaway Postgres with the sluice schema
// applied. Tests using it need Docker and are skipped under -short.
package testutil

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"sluice/migrations"
)

type TestDB struct {
	DSN  string
	Pool *pgxpool.Pool
}

func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container test skipped in -short mode")
	}
	ctx := context.Background()

	pgCtr, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("sluice_test"),
		tcpostgres.WithUsername("sluice"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgCtr.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := pgCtr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	if _, err := migrations.Apply(dsn, false); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	t.Cleanup(pool.Close)
	return &TestDB{DSN: dsn, Pool: pool}
}

// InsertRaw adds one unprocessed raw update and returns its id.
func (db *TestDB) InsertRaw(t *testing.T, slot int64, pubkey, owner string, data string) int64 {
	t.Helper()
	var id int64
	err := db.Pool.QueryRow(context.Background(),
		`INSERT INTO raw_account_updates (slot, pubkey, owner, data) VALUES ($1, $2, $3, $4) RETURNING id`,
		slot, pubkey, owner, []byte(data)).Scan(&id)
	if err != nil {
		t.Fatalf("insert raw: %v", err)
	}
	return id
}

func (db *TestDB) SetCheckpoint(t *testing.T, slot int64) {
	t.Helper()
	if _, err := db.Pool.Exec(context.Background(), `UPDATE processor_checkpoint SET last_slot = $1 WHERE id = 1`, slot); err != nil {
		t.Fatalf("set checkpoint: %v", err)
	}
}
