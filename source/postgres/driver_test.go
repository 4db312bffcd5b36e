package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sluice/internal/testutil"
	"sluice/source"
	"sluice/source/postgres"
)

func TestDriver_SnapshotIsConsistentWithCheckpoint(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	db.SetCheckpoint(t, 100)
	db.InsertRaw(t, 99, "old", "prog", `{}`)
	db.InsertRaw(t, 103, "c", "prog", `{}`)
	db.InsertRaw(t, 101, "a", "prog", `{}`)
	db.InsertRaw(t, 102, "b", "prog", `{}`)

	src, err := postgres.New(ctx, db.DSN, 2)
	require.NoError(t, err)
	defer src.Close()

	snap, err := source.Snapshot(ctx, src)
	require.NoError(t, err)
	assert.EqualValues(t, 100, snap.Checkpoint)
	require.Len(t, snap.Records, 2, "batch limit applies to the read, not the count")
	assert.Equal(t, int64(101), snap.Records[0].Slot)
	assert.Equal(t, int64(102), snap.Records[1].Slot)
	assert.Equal(t, int64(3), snap.Total)
	for _, r := range snap.Records {
		assert.True(t, r.After(snap.Checkpoint))
	}

	cp, n, err := source.Peek(ctx, src)
	require.NoError(t, err)
	assert.EqualValues(t, 100, cp)
	assert.Equal(t, int64(3), n)
}

func TestDriver_ClosedPoolIsUnavailable(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	src, err := postgres.New(ctx, db.DSN, 0)
	require.NoError(t, err)
	require.NoError(t, src.Close())

	_, err = source.Snapshot(ctx, src)
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrUnavailable)
}
