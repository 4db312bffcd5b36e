package cycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sluice/internal/dispatch"
	"sluice/internal/record"
	"sluice/internal/report"
	"sluice/internal/retry"
	"sluice/processor"
	"sluice/sink"
	"sluice/source"
)

type fakeSource struct {
	mu              sync.Mutex
	cp              record.Checkpoint
	recs            []record.Record
	total           int64
	failCheckpoints int
	failBacklogs    int
	checkpointCalls int
	countedWith     []record.Checkpoint
	released        int
}

func (s *fakeSource) Acquire(context.Context) (source.Reader, error) { return &fakeReader{s}, nil }
func (s *fakeSource) Close() error                                  { return nil }

type fakeReader struct{ s *fakeSource }

func (r *fakeReader) ReadCheckpoint(context.Context) (record.Checkpoint, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.checkpointCalls++
	if r.s.failCheckpoints > 0 {
		r.s.failCheckpoints--
		return 0, errors.New("connection refused")
	}
	return r.s.cp, nil
}

func (r *fakeReader) ReadBacklog(context.Context, record.Checkpoint) ([]record.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failBacklogs > 0 {
		r.s.failBacklogs--
		return nil, errors.New("statement timeout")
	}
	return append([]record.Record(nil), r.s.recs...), nil
}

func (r *fakeReader) CountBacklog(_ context.Context, cp record.Checkpoint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.countedWith = append(r.s.countedWith, cp)
	return r.s.total, nil
}

func (r *fakeReader) Release() {
	r.s.mu.Lock()
	r.s.released++
	r.s.mu.Unlock()
}

// scriptedPool fails record ID n for failures[n] calls, then succeeds.
type scriptedPool struct {
	mu       sync.Mutex
	failures map[int64]int
	calls    map[int64]int
}

func (p *scriptedPool) Process(_ context.Context, rec record.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[rec.ID]++
	if p.calls[rec.ID] <= p.failures[rec.ID] {
		return processor.Failed(rec, errors.New("deadlock detected"))
	}
	return nil
}

func (p *scriptedPool) Close() {}

type scriptedOpener struct {
	pool  *scriptedPool
	sizes []int
}

func (o *scriptedOpener) Open(_ context.Context, size int) (processor.Pool, error) {
	o.sizes = append(o.sizes, size)
	return o.pool, nil
}

type captureSink struct {
	mu        sync.Mutex
	summaries []sink.Summary
}

func (c *captureSink) Configure(any) error { return nil }
func (c *captureSink) Emit(_ context.Context, b []sink.Summary) error {
	c.mu.Lock()
	c.summaries = append(c.summaries, b...)
	c.mu.Unlock()
	return nil
}
func (c *captureSink) Close() error { return nil }

type harness struct {
	src    *fakeSource
	opener *scriptedOpener
	sink   *captureSink
	loop   *Loop
}

func newHarness(src *fakeSource, failures map[int64]int) *harness {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	op := &scriptedOpener{pool: &scriptedPool{failures: failures, calls: map[int64]int{}}}
	cs := &captureSink{}
	rep := report.NewReporter(0).WithLogger(quiet)
	rep.Add("capture", cs)
	disp := dispatch.New(op, retry.Policy{MaxRetries: retry.DefaultMaxRetries, Log: quiet}, dispatch.DefaultCeiling)
	return &harness{
		src:    src,
		opener: op,
		sink:   cs,
		loop:   New(src, disp, rep, time.Millisecond).WithLogger(quiet),
	}
}

func slots(from, n int) []record.Record {
	recs := make([]record.Record, n)
	for i := range recs {
		recs[i] = record.Record{ID: int64(from + i), Slot: int64(from + i)}
	}
	return recs
}

func statuses(outs []retry.Outcome) []retry.Status {
	st := make([]retry.Status, len(outs))
	for i, o := range outs {
		st[i] = o.Status
	}
	return st
}

func TestRunCycle_AllSucceed(t *testing.T) {
	h := newHarness(&fakeSource{cp: 100, recs: slots(101, 3), total: 3}, nil)

	res, err := h.loop.RunCycle(context.Background(), report.NewHistory(1))
	require.NoError(t, err)
	assert.Equal(t, []retry.Status{retry.Success, retry.Success, retry.Success}, statuses(res.Outcomes))
	assert.Equal(t, record.Checkpoint(100), res.Checkpoint)

	require.Len(t, h.sink.summaries, 1)
	s := h.sink.summaries[0]
	assert.Equal(t, 3, s.Succeeded)
	assert.Equal(t, 0, s.Failed)
	assert.Equal(t, int64(3), s.BacklogRemaining)
	assert.Equal(t, int64(100), s.Checkpoint)
	assert.Equal(t, res.ID, s.CycleID)
	assert.Equal(t, 1, h.src.released, "source session released once per cycle")
	assert.Equal(t, []record.Checkpoint{100}, h.src.countedWith)
}

func TestRunCycle_RecoveredAfterTwoRetries(t *testing.T) {
	h := newHarness(&fakeSource{cp: 100, recs: slots(101, 1), total: 1}, map[int64]int{101: 2})

	res, err := h.loop.RunCycle(context.Background(), report.NewHistory(1))
	require.NoError(t, err)
	assert.Equal(t, []retry.Status{retry.Recovered}, statuses(res.Outcomes))
	assert.Equal(t, 3, res.Outcomes[0].Attempts)

	s := h.sink.summaries[0]
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Recovered)
	assert.Equal(t, 0, s.Failed)
}

func TestRun_ExhaustedRecordDoesNotStopLoop(t *testing.T) {
	h := newHarness(&fakeSource{cp: 100, recs: slots(101, 1), total: 1}, map[int64]int{101: 1 << 30})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var (
		mu      sync.Mutex
		results []Result
	)
	h.loop.Observe(ObserverFunc(func(res Result, err error) {
		require.NoError(t, err)
		mu.Lock()
		results = append(results, res)
		if len(results) == 2 {
			cancel()
		}
		mu.Unlock()
	}))

	require.NoError(t, h.loop.Run(ctx, nil))

	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, []retry.Status{retry.Exhausted}, statuses(res.Outcomes))
		assert.Equal(t, 0, res.Succeeded)
		assert.Equal(t, 1, res.Failed)
	}
	assert.Equal(t, 2, h.src.checkpointCalls)
}

func TestRun_StoreUnavailableIsRecoverable(t *testing.T) {
	h := newHarness(&fakeSource{cp: 100, recs: slots(101, 2), total: 5, failCheckpoints: 1, failBacklogs: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var errs []error
	h.loop.Observe(ObserverFunc(func(_ Result, err error) {
		errs = append(errs, err)
		if len(errs) == 3 {
			cancel()
		}
	}))

	require.NoError(t, h.loop.Run(ctx, report.NewHistory(1)))

	require.Len(t, errs, 3)
	assert.ErrorIs(t, errs[0], source.ErrUnavailable)
	assert.ErrorIs(t, errs[1], source.ErrUnavailable)
	assert.NoError(t, errs[2])
	assert.Equal(t, 3, h.src.checkpointCalls, "every cycle restarts at ReadCheckpoint")
	assert.Equal(t, 3, h.src.released)

	require.Len(t, h.sink.summaries, 1, "failed cycles emit no summary")
	s := h.sink.summaries[0]
	assert.Equal(t, s.Snapshot, s.Succeeded+s.Failed)
	assert.Equal(t, int64(5), s.BacklogRemaining)
}

func TestRunCycle_LargeBacklogUsesCeiling(t *testing.T) {
	h := newHarness(&fakeSource{cp: 0, recs: slots(1, 400), total: 400}, nil)

	res, err := h.loop.RunCycle(context.Background(), report.NewHistory(1))
	require.NoError(t, err)
	assert.Equal(t, 250, res.Concurrency)
	assert.Equal(t, []int{250}, h.opener.sizes)
	assert.Len(t, res.Outcomes, 400)
	assert.Equal(t, 400, res.Succeeded)
}

func TestRunCycle_EmptyBacklog(t *testing.T) {
	h := newHarness(&fakeSource{cp: 100}, nil)

	res, err := h.loop.RunCycle(context.Background(), report.NewHistory(1))
	require.NoError(t, err)
	assert.Empty(t, res.Outcomes)
	assert.Empty(t, h.opener.sizes)
	require.Len(t, h.sink.summaries, 1)
	assert.Zero(t, h.sink.summaries[0].Succeeded+h.sink.summaries[0].Failed)
}

type panickingSource struct{ fakeSource }

func (*panickingSource) Acquire(context.Context) (source.Reader, error) { panic("nil pool") }

func TestRunCycle_PanicIsReturnedAsError(t *testing.T) {
	h := newHarness(&fakeSource{}, nil)
	h.loop.src = &panickingSource{}

	_, err := h.loop.RunCycle(context.Background(), report.NewHistory(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestRun_ReturnsImmediatelyWhenCancelled(t *testing.T) {
	h := newHarness(&fakeSource{cp: 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.loop.Run(ctx, nil))
	assert.Zero(t, h.src.checkpointCalls)
}
