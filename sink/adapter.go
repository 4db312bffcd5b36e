package sink

import (
	"context"
	"fmt"
	"time"
)

// Summary is one cycle's counters as delivered to a telemetry sink.
type Summary struct {
	CycleID          string        `json:"cycle_id"`
	At               time.Time     `json:"at"`
	Checkpoint       int64         `json:"checkpoint"`
	Snapshot         int           `json:"snapshot"`
	Succeeded        int           `json:"succeeded"`
	Recovered        int           `json:"recovered"`
	Failed           int           `json:"failed"`
	BacklogRemaining int64         `json:"backlog_remaining"`
	Duration         time.Duration `json:"duration_ns"`
}

// Adapter is the common behaviour every metrics sink exposes.
type Adapter interface {
	Configure(any) error                             // driver-specific config struct
	Emit(ctx context.Context, batch []Summary) error // deliver a buffered batch
	Close() error                                    // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}
