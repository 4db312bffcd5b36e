package pulsar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"

	"sluice/sink"
)

type Config struct {
	URL     string        `koanf:"url"`
	Topic   string        `koanf:"topic"`
	Timeout time.Duration `koanf:"timeout"`
}

// sender is the slice of pulsar.Producer the driver needs.
type sender interface {
	Send(context.Context, *pulsar.ProducerMessage) (pulsar.MessageID, error)
	Close()
}

type driver struct {
	client pulsar.Client
	p      sender
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("pulsar-sink: want Config, got %T", c)
	}
	if cfg.URL == "" || cfg.Topic == "" {
		return errors.New("pulsar-sink: url and topic are required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL:               cfg.URL,
		OperationTimeout:  cfg.Timeout,
		ConnectionTimeout: cfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("pulsar-sink: client: %w", err)
	}
	producer, err := client.CreateProducer(pulsar.ProducerOptions{Topic: cfg.Topic})
	if err != nil {
		client.Close()
		return fmt.Errorf("pulsar-sink: producer: %w", err)
	}
	d.client, d.p = client, producer
	return nil
}

func (d *driver) Emit(ctx context.Context, batch []sink.Summary) error {
	var errs []error
	for _, s := range batch {
		b, err := json.Marshal(s)
		if err != nil {
			return err
		}
		if _, err := d.p.Send(ctx, &pulsar.ProducerMessage{Key: s.CycleID, Payload: b, EventTime: s.At}); err != nil {
			errs = append(errs, fmt.Errorf("pulsar-sink: cycle %s: %w", s.CycleID, err))
		}
	}
	return errors.Join(errs...)
}

func (d *driver) Close() error {
	if d.p != nil {
		d.p.Close()
		d.p = nil
	}
	if d.client != nil {
		d.client.Close()
		d.client = nil
	}
	return nil
}

func init() { sink.Register("pulsar", func() sink.Adapter { return &driver{} }) }
