package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sluice/internal/record"
	"sluice/internal/retry"
	"sluice/processor"
	"sluice/source"
)

type fakePool struct {
	process func(record.Record) error
	closed  atomic.Bool
}

func (p *fakePool) Process(_ context.Context, rec record.Record) error { return p.process(rec) }
func (p *fakePool) Close()                                             { p.closed.Store(true) }

type fakeOpener struct {
	pool  *fakePool
	err   error
	sizes []int
}

func (o *fakeOpener) Open(_ context.Context, size int) (processor.Pool, error) {
	o.sizes = append(o.sizes, size)
	if o.err != nil {
		return nil, o.err
	}
	return o.pool, nil
}

func quietPolicy() retry.Policy {
	return retry.Policy{MaxRetries: retry.DefaultMaxRetries, Log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func backlog(n int) []record.Record {
	recs := make([]record.Record, n)
	for i := range recs {
		recs[i] = record.Record{ID: int64(i + 1), Slot: int64(101 + i)}
	}
	return recs
}

func TestConcurrency_Clamp(t *testing.T) {
	for n := 0; n <= 1000; n++ {
		want := n
		if want < 1 {
			want = 1
		}
		if want > 250 {
			want = 250
		}
		require.Equal(t, want, Concurrency(n, DefaultCeiling), "n=%d", n)
	}
	assert.Equal(t, 250, Concurrency(10_000, 0))
	assert.Equal(t, 4, Concurrency(10, 4))
	assert.Equal(t, 250, Concurrency(400, 500), "configured ceiling may not raise the hard cap")
}

func TestDispatch_OversizedCeilingIsCapped(t *testing.T) {
	op := &fakeOpener{pool: &fakePool{process: func(record.Record) error { return nil }}}

	res, err := New(op, quietPolicy(), 500).Dispatch(context.Background(), backlog(400))
	require.NoError(t, err)
	assert.Equal(t, DefaultCeiling, res.Concurrency)
	assert.Equal(t, []int{DefaultCeiling}, op.sizes)
}

func TestDispatch_EveryRecordGetsOneOutcome(t *testing.T) {
	pool := &fakePool{process: func(rec record.Record) error {
		if rec.ID%3 == 0 {
			return errors.New("poisoned")
		}
		return nil
	}}
	op := &fakeOpener{pool: pool}
	recs := backlog(31)

	res, err := New(op, quietPolicy(), DefaultCeiling).Dispatch(context.Background(), recs)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, len(recs))
	assert.Equal(t, []int{31}, op.sizes)
	assert.True(t, pool.closed.Load(), "pool must be released after dispatch")

	for i, out := range res.Outcomes {
		assert.Equal(t, recs[i].ID, out.Record.ID)
		if recs[i].ID%3 == 0 {
			assert.Equal(t, retry.Exhausted, out.Status)
		} else {
			assert.Equal(t, retry.Success, out.Status)
		}
	}
}

func TestDispatch_CeilingIsNeverExceeded(t *testing.T) {
	var (
		inflight atomic.Int32
		peak     atomic.Int32
		once     sync.Once
		gate     = make(chan struct{})
	)
	pool := &fakePool{process: func(record.Record) error {
		cur := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		if cur == DefaultCeiling {
			once.Do(func() { close(gate) })
		}
		select {
		case <-gate:
		case <-time.After(2 * time.Second):
		}
		return nil
	}}
	op := &fakeOpener{pool: pool}

	res, err := New(op, quietPolicy(), DefaultCeiling).Dispatch(context.Background(), backlog(400))
	require.NoError(t, err)
	assert.Equal(t, DefaultCeiling, res.Concurrency)
	assert.Equal(t, []int{DefaultCeiling}, op.sizes)
	assert.Equal(t, int32(DefaultCeiling), peak.Load())
	require.Len(t, res.Outcomes, 400)
	for _, out := range res.Outcomes {
		assert.Equal(t, retry.Success, out.Status)
	}
}

func TestDispatch_PanicIsIsolated(t *testing.T) {
	pool := &fakePool{process: func(rec record.Record) error {
		if rec.ID == 2 {
			panic("decoder bug")
		}
		return nil
	}}
	d := New(&fakeOpener{pool: pool}, quietPolicy(), DefaultCeiling)

	res, err := d.Dispatch(context.Background(), backlog(3))
	require.NoError(t, err)
	assert.Equal(t, retry.Success, res.Outcomes[0].Status)
	assert.Equal(t, retry.Exhausted, res.Outcomes[1].Status)
	assert.ErrorIs(t, res.Outcomes[1].Err, processor.ErrProcessing)
	assert.Equal(t, retry.Success, res.Outcomes[2].Status)
}

func TestDispatch_EmptySnapshotOpensNothing(t *testing.T) {
	op := &fakeOpener{pool: &fakePool{}}
	res, err := New(op, quietPolicy(), DefaultCeiling).Dispatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Concurrency)
	assert.Empty(t, res.Outcomes)
	assert.Empty(t, op.sizes)
}

func TestDispatch_OpenFailureIsStoreUnavailable(t *testing.T) {
	op := &fakeOpener{err: errors.New("too many connections")}
	_, err := New(op, quietPolicy(), DefaultCeiling).Dispatch(context.Background(), backlog(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrUnavailable)
}

func TestDispatch_CustomHandler(t *testing.T) {
	var calls atomic.Int32
	d := New(&fakeOpener{pool: &fakePool{}}, quietPolicy(), 2).WithHandler(
		func(_ context.Context, _ processor.Processor, rec record.Record) retry.Outcome {
			calls.Add(1)
			return retry.Outcome{Record: rec, Status: retry.Recovered, Attempts: 2}
		})

	res, err := d.Dispatch(context.Background(), backlog(5))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Concurrency)
	assert.Equal(t, int32(5), calls.Load())
	for _, out := range res.Outcomes {
		assert.Equal(t, retry.Recovered, out.Status)
	}
}
