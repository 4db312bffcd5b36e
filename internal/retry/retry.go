// Package retry wraps a processor with a bounded number of immediate
// re-attempts and classifies the result.
package retry

import (
	"context"
	"log/slog"

	"sluice/internal/logging"
	"sluice/internal/record"
	"sluice/processor"
)

const DefaultMaxRetries = 2

type Status int

const (
	Success Status = iota
	Recovered
	Exhausted
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Recovered:
		return "recovered"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Outcome is the terminal classification of one record within a cycle.
type Outcome struct {
	Record   record.Record
	Status   Status
	Attempts int
	Err      error // last error, set only when Exhausted
}

func (o Outcome) OK() bool { return o.Status != Exhausted }

type Policy struct {
	MaxRetries int
	Log        *slog.Logger
}

func New(maxRetries int) Policy {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return Policy{MaxRetries: maxRetries}
}

// Attempt runs p once plus up to MaxRetries more times with no delay.
// Exhausted records are logged for manual remediation and not re-queued.
func (pol Policy) Attempt(ctx context.Context, p processor.Processor, rec record.Record) Outcome {
	log := pol.Log
	if log == nil {
		log = logging.L()
	}

	var err error
	for attempt := 0; attempt <= pol.MaxRetries; attempt++ {
		if err = p.Process(ctx, rec); err == nil {
			st := Success
			if attempt > 0 {
				st = Recovered
			}
			return Outcome{Record: rec, Status: st, Attempts: attempt + 1}
		}
		log.Warn("record processing failed", "record", rec.ID, "slot", rec.Slot, "attempt", attempt+1, "err", err)
	}

	log.Error("retries exhausted, record needs manual intervention",
		"record", rec.ID, "pubkey", rec.Pubkey, "slot", rec.Slot, "attempts", pol.MaxRetries+1, "err", err)
	return Outcome{Record: rec, Status: Exhausted, Attempts: pol.MaxRetries + 1, Err: err}
}
