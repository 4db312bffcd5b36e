package source

import (
	"context"
	"errors"
	"fmt"

	"sluice/internal/record"
)

// ErrUnavailable marks a checkpoint or backlog read that failed at the store.
var ErrUnavailable = errors.New("store unavailable")

// Reader is a short-lived session on the durable store. The checkpoint is
// read once and handed to both ReadBacklog and CountBacklog.
type Reader interface {
	ReadCheckpoint(ctx context.Context) (record.Checkpoint, error)
	ReadBacklog(ctx context.Context, cp record.Checkpoint) ([]record.Record, error)
	CountBacklog(ctx context.Context, cp record.Checkpoint) (int64, error)
	Release()
}

// Source hands out one Reader per cycle.
type Source interface {
	Acquire(ctx context.Context) (Reader, error)
	Close() error
}

// StoreError wraps a failed store operation. It matches ErrUnavailable.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("%s: %s: %v", ErrUnavailable, e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }
func (e *StoreError) Is(target error) bool {
	return target == ErrUnavailable
}

// Unavailable wraps err as a StoreError for op. nil stays nil.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Snapshot takes one Reader from src and reads a consistent backlog view:
// checkpoint first, then records and count against that same value.
func Snapshot(ctx context.Context, src Source) (record.Snapshot, error) {
	rd, err := src.Acquire(ctx)
	if err != nil {
		return record.Snapshot{}, Unavailable("acquire", err)
	}
	defer rd.Release()

	cp, err := rd.ReadCheckpoint(ctx)
	if err != nil {
		return record.Snapshot{}, Unavailable("read checkpoint", err)
	}
	recs, err := rd.ReadBacklog(ctx, cp)
	if err != nil {
		return record.Snapshot{Checkpoint: cp}, Unavailable("read backlog", err)
	}
	total, err := rd.CountBacklog(ctx, cp)
	if err != nil {
		return record.Snapshot{Checkpoint: cp}, Unavailable("count backlog", err)
	}
	return record.Snapshot{Checkpoint: cp, Records: recs, Total: total}, nil
}

// Peek reads the checkpoint and the backlog count without loading records.
func Peek(ctx context.Context, src Source) (record.Checkpoint, int64, error) {
	rd, err := src.Acquire(ctx)
	if err != nil {
		return 0, 0, Unavailable("acquire", err)
	}
	defer rd.Release()

	cp, err := rd.ReadCheckpoint(ctx)
	if err != nil {
		return 0, 0, Unavailable("read checkpoint", err)
	}
	total, err := rd.CountBacklog(ctx, cp)
	if err != nil {
		return cp, 0, Unavailable("count backlog", err)
	}
	return cp, total, nil
}
