// Package prom exposes cycle summaries as Prometheus collectors.
package prom

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"sluice/sink"
)

type Config struct {
	Namespace  string
	Registerer prometheus.Registerer // nil → prometheus.DefaultRegisterer
}

type driver struct {
	cycles     prometheus.Counter
	processed  *prometheus.CounterVec
	backlog    prometheus.Gauge
	checkpoint prometheus.Gauge
	snapshot   prometheus.Gauge
	duration   prometheus.Histogram

	reg  prometheus.Registerer
	coll []prometheus.Collector
}

func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("prometheus-sink: expected Config, got %T", raw)
	}
	ns := c.Namespace
	if ns == "" {
		ns = "sluice"
	}
	d.reg = c.Registerer
	if d.reg == nil {
		d.reg = prometheus.DefaultRegisterer
	}

	d.cycles = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "cycles_total", Help: "Completed polling cycles.",
	})
	d.processed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "records_total", Help: "Records dispatched, by outcome.",
	}, []string{"outcome"})
	d.backlog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "backlog_remaining", Help: "Backlog count taken at cycle start.",
	})
	d.checkpoint = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "checkpoint_slot", Help: "Checkpoint read at cycle start.",
	})
	d.snapshot = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "snapshot_records", Help: "Records read in the last snapshot.",
	})
	d.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: "cycle_duration_seconds", Help: "Wall time of one cycle.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	d.coll = []prometheus.Collector{d.cycles, d.processed, d.backlog, d.checkpoint, d.snapshot, d.duration}
	for _, col := range d.coll {
		if err := d.reg.Register(col); err != nil {
			return fmt.Errorf("prometheus-sink: %w", err)
		}
	}
	return nil
}

func (d *driver) Emit(_ context.Context, batch []sink.Summary) error {
	for _, s := range batch {
		d.cycles.Inc()
		d.processed.WithLabelValues("success").Add(float64(s.Succeeded - s.Recovered))
		d.processed.WithLabelValues("recovered").Add(float64(s.Recovered))
		d.processed.WithLabelValues("exhausted").Add(float64(s.Failed))
		d.backlog.Set(float64(s.BacklogRemaining))
		d.checkpoint.Set(float64(s.Checkpoint))
		d.snapshot.Set(float64(s.Snapshot))
		d.duration.Observe(s.Duration.Seconds())
	}
	return nil
}

func (d *driver) Close() error {
	for _, col := range d.coll {
		d.reg.Unregister(col)
	}
	d.coll = nil
	return nil
}

func init() {
	sink.Register("prometheus", func() sink.Adapter { return &driver{} })
}
