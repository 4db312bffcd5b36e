package decode

import (
	"context"
	"fmt"

	"sluice/internal/record"
)

// Row is one decoded output row destined for Table.
type Row struct {
	Table        string
	Pubkey       string
	Slot         int64
	WriteVersion int64
	Owner        string
	Body         map[string]any
}

// Decoder must be safe for concurrent use.
type Decoder interface {
	Decode(ctx context.Context, rec record.Record) ([]Row, error)
}

// Func adapts a plain function to a Decoder.
type Func func(ctx context.Context, rec record.Record) ([]Row, error)

func (f Func) Decode(ctx context.Context, rec record.Record) ([]Row, error) { return f(ctx, rec) }

// Factory builds a Decoder from a driver-specific config path.
type Factory func(path string) (Decoder, error)

var registry = map[string]Factory{}

func Register(name string, f Factory) { registry[name] = f }

// New returns a decoder by name ("layout", ...).
func New(name, path string) (Decoder, error) {
	if f, ok := registry[name]; ok {
		return f(path)
	}
	return nil, fmt.Errorf("decode: unsupported decoder %q", name)
}
