// Package report aggregates cycle summaries and delivers them to the
// configured sinks. Sink failures are logged and never stop the loop.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sluice/internal/logging"
	"sluice/sink"
)

var ErrSink = errors.New("metrics sink")

const DefaultEmitTimeout = 5 * time.Second

type namedSink struct {
	name string
	a    sink.Adapter
}

type Reporter struct {
	sinks   []namedSink
	timeout time.Duration
	log     *slog.Logger
}

func NewReporter(emitTimeout time.Duration) *Reporter {
	if emitTimeout <= 0 {
		emitTimeout = DefaultEmitTimeout
	}
	return &Reporter{timeout: emitTimeout, log: logging.L()}
}

func (r *Reporter) WithLogger(l *slog.Logger) *Reporter {
	r.log = l
	return r
}

func (r *Reporter) Add(name string, a sink.Adapter) { r.sinks = append(r.sinks, namedSink{name, a}) }

// Report buffers s in h and, when the buffer is due, emits it to every sink.
// The returned error wraps ErrSink; callers may ignore it.
func (r *Reporter) Report(ctx context.Context, h *History, s sink.Summary) error {
	h.add(s)
	if !h.due() {
		return nil
	}
	batch := h.take()

	var errs []error
	for _, ns := range r.sinks {
		if err := r.emit(ctx, ns, batch); err != nil {
			r.log.Warn("metrics emit failed", "sink", ns.name, "batch", len(batch), "err", err)
			errs = append(errs, fmt.Errorf("%w %s: %w", ErrSink, ns.name, err))
		}
	}
	return errors.Join(errs...)
}

// emit returns once the sink finishes or the emit timeout passes, whichever
// comes first. A sink that ignores ctx is left to finish in the background.
func (r *Reporter) emit(ctx context.Context, ns namedSink, batch []sink.Summary) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("panic: %v", p)
			}
		}()
		done <- ns.a.Emit(ctx, batch)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("emit abandoned after %s: %w", r.timeout, ctx.Err())
	}
}

func (r *Reporter) Close() error {
	var errs []error
	for _, ns := range r.sinks {
		if err := ns.a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", ns.name, err))
		}
	}
	return errors.Join(errs...)
}
