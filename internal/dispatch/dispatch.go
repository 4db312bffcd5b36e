// Package dispatch fans one backlog snapshot out over a bounded set of
// goroutines sharing a processor pool that lives only for that dispatch.
package dispatch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"sluice/internal/record"
	"sluice/internal/retry"
	"sluice/processor"
	"sluice/source"
)

// DefaultCeiling caps concurrency so the shared connection pool never
// exceeds this many connections.
const DefaultCeiling = 250

// Concurrency returns clamp(n, 1, ceiling). A ceiling outside
// [1, DefaultCeiling] is treated as DefaultCeiling.
func Concurrency(n, ceiling int) int {
	if ceiling <= 0 || ceiling > DefaultCeiling {
		ceiling = DefaultCeiling
	}
	return min(max(n, 1), ceiling)
}

// Handler produces exactly one Outcome for rec using p.
type Handler func(ctx context.Context, p processor.Processor, rec record.Record) retry.Outcome

type Dispatcher struct {
	opener  processor.Opener
	handler Handler
	ceiling int
}

func New(opener processor.Opener, policy retry.Policy, ceiling int) *Dispatcher {
	return &Dispatcher{opener: opener, handler: policy.Attempt, ceiling: ceiling}
}

// WithHandler replaces the per-record handler.
func (d *Dispatcher) WithHandler(h Handler) *Dispatcher {
	d.handler = h
	return d
}

type Result struct {
	Concurrency int
	Outcomes    []retry.Outcome // index-aligned with the input records
}

// Dispatch processes every record and waits for all of them. Per-record
// failures are carried in the outcomes; an error means the pool could not
// be opened or a handler goroutine failed outside its outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, recs []record.Record) (Result, error) {
	n := Concurrency(len(recs), d.ceiling)
	res := Result{Concurrency: n, Outcomes: make([]retry.Outcome, len(recs))}
	if len(recs) == 0 {
		return res, nil
	}

	pool, err := d.opener.Open(ctx, n)
	if err != nil {
		return res, source.Unavailable("open processing pool", err)
	}
	defer pool.Close()

	var g errgroup.Group
	g.SetLimit(n)
	for i, rec := range recs {
		g.Go(func() error {
			res.Outcomes[i] = d.run(ctx, pool, rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

// run isolates a panicking handler to its own record.
func (d *Dispatcher) run(ctx context.Context, p processor.Processor, rec record.Record) (out retry.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = retry.Outcome{
				Record: rec,
				Status: retry.Exhausted,
				Err:    processor.Failed(rec, fmt.Errorf("panic: %v", r)),
			}
		}
	}()
	return d.handler(ctx, p, rec)
}
