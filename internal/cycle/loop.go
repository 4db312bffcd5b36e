// Package cycle drives the polling loop: read checkpoint and backlog,
// dispatch, report, idle, repeat. A failing cycle is logged and the loop
// carries on after the idle delay.
package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sluice/internal/dispatch"
	"sluice/internal/logging"
	"sluice/internal/record"
	"sluice/internal/report"
	"sluice/internal/retry"
	"sluice/sink"
	"sluice/source"
)

const DefaultIdleDelay = time.Second

// Observer is told about every finished cycle, failed or not.
type Observer interface {
	CycleDone(res Result, err error)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(Result, error)

func (f ObserverFunc) CycleDone(res Result, err error) { f(res, err) }

type Result struct {
	ID               string
	Started          time.Time
	Duration         time.Duration
	Checkpoint       record.Checkpoint
	Snapshot         int
	BacklogRemaining int64
	Concurrency      int
	Outcomes         []retry.Outcome
	Succeeded        int // includes Recovered
	Recovered        int
	Failed           int
}

func (r Result) Summary() sink.Summary {
	return sink.Summary{
		CycleID:          r.ID,
		At:               r.Started,
		Checkpoint:       int64(r.Checkpoint),
		Snapshot:         r.Snapshot,
		Succeeded:        r.Succeeded,
		Recovered:        r.Recovered,
		Failed:           r.Failed,
		BacklogRemaining: r.BacklogRemaining,
		Duration:         r.Duration,
	}
}

type Loop struct {
	src       source.Source
	disp      *dispatch.Dispatcher
	rep       *report.Reporter
	idle      time.Duration
	observers []Observer
	log       *slog.Logger
}

func New(src source.Source, disp *dispatch.Dispatcher, rep *report.Reporter, idle time.Duration) *Loop {
	if idle <= 0 {
		idle = DefaultIdleDelay
	}
	return &Loop{src: src, disp: disp, rep: rep, idle: idle, log: logging.L()}
}

func (l *Loop) WithLogger(log *slog.Logger) *Loop {
	l.log = log
	return l
}

func (l *Loop) Observe(o Observer) { l.observers = append(l.observers, o) }

// Run repeats cycles until ctx is cancelled. Cancellation is checked before
// each cycle and during the idle delay; a cycle in flight finishes first.
// A nil h gets a push-per-cycle History.
func (l *Loop) Run(ctx context.Context, h *report.History) error {
	if h == nil {
		h = report.NewHistory(1)
	}
	l.log.Info("loop started", "idle", l.idle)
	for {
		if ctx.Err() != nil {
			l.log.Info("loop stopped")
			return nil
		}

		res, err := l.RunCycle(ctx, h)
		if err != nil {
			l.log.Error("cycle failed", "cycle", res.ID, "err", err)
		}
		for _, o := range l.observers {
			o.CycleDone(res, err)
		}

		t := time.NewTimer(l.idle)
		select {
		case <-ctx.Done():
			t.Stop()
			l.log.Info("loop stopped")
			return nil
		case <-t.C:
		}
	}
}

// RunCycle executes one read-dispatch-report pass. Store failures and panics
// are returned; record failures only show up in the result.
func (l *Loop) RunCycle(ctx context.Context, h *report.History) (res Result, err error) {
	res = Result{ID: uuid.NewString(), Started: time.Now()}
	log := l.log.With("cycle", res.ID)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("cycle panic: %v", p)
		}
		res.Duration = time.Since(res.Started)
	}()

	snap, err := source.Snapshot(ctx, l.src)
	if err != nil {
		return res, err
	}
	res.Checkpoint, res.Snapshot, res.BacklogRemaining = snap.Checkpoint, snap.Len(), snap.Total
	log.Info("backlog read", "checkpoint", snap.Checkpoint, "snapshot", snap.Len(), "backlog", snap.Total)

	for _, rec := range snap.Records {
		if !rec.After(snap.Checkpoint) {
			log.Warn("record at or below checkpoint", "record", rec.ID, "slot", rec.Slot, "checkpoint", snap.Checkpoint)
		}
	}

	// the dispatch barrier runs to completion even when ctx is cancelled
	dctx := context.WithoutCancel(ctx)
	dr, err := l.disp.Dispatch(dctx, snap.Records)
	if err != nil {
		return res, err
	}
	res.Concurrency, res.Outcomes = dr.Concurrency, dr.Outcomes
	for _, o := range dr.Outcomes {
		switch o.Status {
		case retry.Success:
			res.Succeeded++
		case retry.Recovered:
			res.Succeeded++
			res.Recovered++
		default:
			res.Failed++
		}
	}
	res.Duration = time.Since(res.Started)
	log.Info("dispatch complete",
		"concurrency", dr.Concurrency, "succeeded", res.Succeeded, "recovered", res.Recovered, "failed", res.Failed)

	// sink errors are already logged by the reporter
	_ = l.rep.Report(dctx, h, res.Summary())
	return res, nil
}
