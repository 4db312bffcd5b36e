// sluice/sink/stdout/driver.go
package stdout

import (
	"context"
	"fmt"
	"log/slog"

	"sluice/internal/logging"
	"sluice/sink"
)

type Config struct {
	Logger *slog.Logger // nil → logging.L()
}

type driver struct {
	log *slog.Logger
}

func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	d.log = c.Logger
	return nil
}

func (d *driver) Emit(ctx context.Context, batch []sink.Summary) error {
	log := d.log
	if log == nil {
		log = logging.L()
	}
	for _, s := range batch {
		log.InfoContext(ctx, "cycle summary",
			"cycle", s.CycleID,
			"checkpoint", s.Checkpoint,
			"snapshot", s.Snapshot,
			"succeeded", s.Succeeded,
			"recovered", s.Recovered,
			"failed", s.Failed,
			"backlog_remaining", s.BacklogRemaining,
			"duration", s.Duration)
	}
	return nil
}

func (d *driver) Close() error { return nil }

func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
