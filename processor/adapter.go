// Package processor defines the decode-and-persist step applied to one
// record. Implementations must be safe for concurrent calls on different
// records sharing one Pool.
package processor

import (
	"context"
	"errors"
	"fmt"

	"sluice/internal/record"
)

// ErrProcessing marks a failed processing attempt for a single record.
var ErrProcessing = errors.New("processing failed")

type Processor interface {
	Process(ctx context.Context, rec record.Record) error
}

// Pool is a Processor bound to a connection pool that lives for one dispatch.
type Pool interface {
	Processor
	Close()
}

// Opener creates a Pool sized for the given concurrency level.
type Opener interface {
	Open(ctx context.Context, size int) (Pool, error)
}

// Failed wraps err so that errors.Is(err, ErrProcessing) holds.
func Failed(rec record.Record, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: record %d (%s@%d): %w", ErrProcessing, rec.ID, rec.Pubkey, rec.Slot, err)
}
