// Package config loads the sluice configuration: a YAML file (optional)
// overlaid by SLUICE__* environment variables, then defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"sluice/internal/dispatch"
)

const (
	SupportedSchema = "v1"
	EnvPrefix       = "SLUICE__"

	// MaxConcurrencyCeiling bounds processor.max_concurrency, and with it the
	// size of each dispatch connection pool.
	MaxConcurrencyCeiling = dispatch.DefaultCeiling
)

type SourceCfg struct {
	Driver     string `koanf:"driver"`
	DSN        string `koanf:"dsn"`
	BatchLimit int    `koanf:"batch_limit"`
}

type ProcessorCfg struct {
	DSN            string `koanf:"dsn"` // defaults to source.dsn
	Decoder        string `koanf:"decoder"`
	Layout         string `koanf:"layout"`
	MaxConcurrency int    `koanf:"max_concurrency"`
	MaxRetries     *int   `koanf:"max_retries"`
}

type LoopCfg struct {
	IdleDelay time.Duration `koanf:"idle_delay"`
}

type KafkaSinkCfg struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
	Acks    int16    `koanf:"required_acks"`
	Version string   `koanf:"version"`
}

type PulsarSinkCfg struct {
	URL     string        `koanf:"url"`
	Topic   string        `koanf:"topic"`
	Timeout time.Duration `koanf:"timeout"`
}

type ReportCfg struct {
	Sinks       []string      `koanf:"sinks"`
	FlushEvery  int           `koanf:"flush_every"`
	EmitTimeout time.Duration `koanf:"emit_timeout"`
	Kafka       KafkaSinkCfg  `koanf:"kafka"`
	Pulsar      PulsarSinkCfg `koanf:"pulsar"`
}

type ServerCfg struct {
	GRPCPort         int `koanf:"grpc_port"`
	MetricsPort      int `koanf:"metrics_port"`
	FailureThreshold int `koanf:"failure_threshold"`
}

type LogCfg struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type Config struct {
	SchemaVersion string       `koanf:"schema_version"`
	Source        SourceCfg    `koanf:"source"`
	Processor     ProcessorCfg `koanf:"processor"`
	Loop          LoopCfg      `koanf:"loop"`
	Report        ReportCfg    `koanf:"report"`
	Server        ServerCfg    `koanf:"server"`
	Log           LogCfg       `koanf:"log"`
}

// Load merges YAML at path (if present) with env vars such as
// SLUICE__SOURCE__DSN or SLUICE__REPORT__SINKS=stdout,prometheus.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, fmt.Errorf("schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	applyDefaults(&cfg)
	return cfg, cfg.Validate()
}

// envValue maps SLUICE__REPORT__FLUSH_EVERY to report.flush_every and
// splits comma-separated list settings.
func envValue(key, value string) (string, any) {
	key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__", ".")
	if listKeys[key] {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return key, parts
	}
	return key, value
}

var listKeys = map[string]bool{
	"report.sinks":         true,
	"report.kafka.brokers": true,
}

// Validate reports settings that can never work.
func (c Config) Validate() error {
	var errs []error
	if c.Source.DSN == "" {
		errs = append(errs, errors.New("source.dsn is required"))
	}
	if c.Processor.MaxConcurrency < 1 || c.Processor.MaxConcurrency > MaxConcurrencyCeiling {
		errs = append(errs, fmt.Errorf("processor.max_concurrency must be in [1, %d], got %d",
			MaxConcurrencyCeiling, c.Processor.MaxConcurrency))
	}
	if *c.Processor.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("processor.max_retries must be >= 0, got %d", *c.Processor.MaxRetries))
	}
	return errors.Join(errs...)
}

func (c Config) Retries() int { return *c.Processor.MaxRetries }

func applyDefaults(c *Config) {
	if c.Source.Driver == "" {
		c.Source.Driver = "postgres"
	}
	if c.Source.BatchLimit == 0 {
		c.Source.BatchLimit = 10_000
	}
	if c.Processor.DSN == "" {
		c.Processor.DSN = c.Source.DSN
	}
	if c.Processor.Decoder == "" {
		c.Processor.Decoder = "layout"
	}
	if c.Processor.MaxConcurrency == 0 {
		c.Processor.MaxConcurrency = MaxConcurrencyCeiling
	}
	if c.Processor.MaxRetries == nil {
		n := 2
		c.Processor.MaxRetries = &n
	}
	if c.Loop.IdleDelay == 0 {
		c.Loop.IdleDelay = time.Second
	}
	if len(c.Report.Sinks) == 0 {
		c.Report.Sinks = []string{"stdout"}
	}
	if c.Report.FlushEvery == 0 {
		c.Report.FlushEvery = 1
	}
	if c.Report.EmitTimeout == 0 {
		c.Report.EmitTimeout = 5 * time.Second
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = 7070
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9100
	}
	if c.Server.FailureThreshold == 0 {
		c.Server.FailureThreshold = 3
	}
}
