package source

import (
	"context"
	"fmt"
)

// Config is the driver-agnostic part of a source definition.
type Config struct {
	Driver     string
	DSN        string
	BatchLimit int
}

// Factory builds a Source from its config.
type Factory func(ctx context.Context, cfg Config) (Source, error)

var registry = map[string]Factory{}

// Register is called from each driver's init().
func Register(name string, f Factory) {
	registry[name] = f
}

// New returns a configured source by driver name ("postgres", ...).
func New(ctx context.Context, cfg Config) (Source, error) {
	if f, ok := registry[cfg.Driver]; ok {
		return f(ctx, cfg)
	}
	return nil, fmt.Errorf("source: unsupported driver %q", cfg.Driver)
}
