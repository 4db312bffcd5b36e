package engine

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"sluice/internal/config"
	"sluice/internal/cycle"
	"sluice/internal/decode"
	"sluice/internal/dispatch"
	"sluice/internal/report"
	"sluice/internal/retry"
	pgproc "sluice/processor/postgres"
	"sluice/sink"
	kafkasink "sluice/sink/kafka"
	"sluice/sink/prom"
	pulsarsink "sluice/sink/pulsar"
	"sluice/sink/stdout"
	"sluice/source"
	_ "sluice/source/postgres"
)

func Bootstrap(ctx context.Context, cfg config.Config) (*Engine, error) {
	// 1. decoder + processor
	dec, err := decode.New(cfg.Processor.Decoder, cfg.Processor.Layout)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	opener := pgproc.NewOpener(cfg.Processor.DSN, dec)

	// 2. record source
	src, err := source.New(ctx, source.Config{
		Driver:     cfg.Source.Driver,
		DSN:        cfg.Source.DSN,
		BatchLimit: cfg.Source.BatchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}

	// 3. metrics sinks
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rep := report.NewReporter(cfg.Report.EmitTimeout)
	for _, name := range cfg.Report.Sinks {
		a, err := sink.NewAdapter(name)
		if err == nil {
			err = a.Configure(sinkConfig(name, cfg.Report, reg))
		}
		if err != nil {
			_ = rep.Close()
			_ = src.Close()
			return nil, fmt.Errorf("sink %s: %w", name, err)
		}
		rep.Add(name, a)
	}

	// 4. loop
	disp := dispatch.New(opener, retry.New(cfg.Retries()), cfg.Processor.MaxConcurrency)
	loop := cycle.New(src, disp, rep, cfg.Loop.IdleDelay)

	return &Engine{
		cfg:      cfg,
		src:      src,
		reporter: rep,
		loop:     loop,
		registry: reg,
		history:  report.NewHistory(cfg.Report.FlushEvery),
	}, nil
}

func sinkConfig(name string, rc config.ReportCfg, reg prometheus.Registerer) any {
	switch name {
	case "stdout":
		return stdout.Config{}
	case "prometheus":
		return prom.Config{Registerer: reg}
	case "kafka":
		return kafkasink.Config{
			Brokers: rc.Kafka.Brokers, Topic: rc.Kafka.Topic, Acks: rc.Kafka.Acks, Version: rc.Kafka.Version,
			Timeout: rc.EmitTimeout,
		}
	case "pulsar":
		return pulsarsink.Config{URL: rc.Pulsar.URL, Topic: rc.Pulsar.Topic, Timeout: rc.Pulsar.Timeout}
	default:
		return nil
	}
}
