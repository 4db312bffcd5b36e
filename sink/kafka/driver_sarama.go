package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"sluice/sink"
)

type Config struct {
	Brokers []string      `koanf:"brokers"`
	Topic   string        `koanf:"topic"`
	Acks    int16         `koanf:"required_acks"` // 0,1,-1
	Version string        `koanf:"version"`
	Timeout time.Duration `koanf:"timeout"` // dial, read, write and produce timeout
}

type driver struct {
	cfg Config
	p   sarama.SyncProducer
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return errors.New("kafka-sink: brokers and topic are required")
	}
	d.cfg = cfg

	sc := sarama.NewConfig()
	if cfg.Version != "" {
		ver, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return err
		}
		sc.Version = ver
	}
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Successes = true // required by SyncProducer
	applyTimeout(sc, cfg.Timeout)
	var err error
	d.p, err = sarama.NewSyncProducer(cfg.Brokers, sc)
	return err
}

// Emit publishes one JSON message per summary, keyed by cycle ID.
func (d *driver) Emit(_ context.Context, batch []sink.Summary) error {
	if len(batch) == 0 {
		return nil
	}
	msgs := make([]*sarama.ProducerMessage, 0, len(batch))
	for _, s := range batch {
		b, err := json.Marshal(s)
		if err != nil {
			return err
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: d.cfg.Topic,
			Key:   sarama.StringEncoder(s.CycleID),
			Value: sarama.ByteEncoder(b),
		})
	}
	if err := d.p.SendMessages(msgs); err != nil {
		return fmt.Errorf("kafka-sink: %w", err)
	}
	return nil
}

func applyTimeout(sc *sarama.Config, t time.Duration) {
	if t <= 0 {
		return
	}
	sc.Net.DialTimeout = t
	sc.Net.ReadTimeout = t
	sc.Net.WriteTimeout = t
	sc.Producer.Timeout = t
	sc.Producer.Retry.Max = 0
	sc.Metadata.Retry.Max = 0
}

func (d *driver) Close() error {
	if d.p == nil {
		return nil
	}
	err := d.p.Close()
	d.p = nil
	return err
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
