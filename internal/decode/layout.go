package decode

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"sluice/internal/record"
)

// DefaultTable receives decoded rows when no layout file is configured.
const DefaultTable = "decoded_accounts"

// Program maps one owner program to its destination table. An empty Fields
// list keeps every top-level key of the account payload.
type Program struct {
	Owner  string   `yaml:"owner"`
	Table  string   `yaml:"table"`
	Fields []string `yaml:"fields"`
}

type LayoutFile struct {
	DefaultTable string    `yaml:"default_table"`
	Programs     []Program `yaml:"programs"`
}

// Layout decodes JSON account payloads according to a LayoutFile.
type Layout struct {
	fallback string
	byOwner  map[string]Program
}

// LoadLayout reads a layout file. An empty path yields a layout that sends
// every owner to DefaultTable.
func LoadLayout(path string) (*Layout, error) {
	if path == "" {
		return NewLayout(LayoutFile{DefaultTable: DefaultTable})
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lf LayoutFile
	if err := yaml.Unmarshal(raw, &lf); err != nil {
		return nil, fmt.Errorf("decode: parse layout %s: %w", path, err)
	}
	return NewLayout(lf)
}

func NewLayout(lf LayoutFile) (*Layout, error) {
	l := &Layout{fallback: lf.DefaultTable, byOwner: make(map[string]Program, len(lf.Programs))}
	for _, p := range lf.Programs {
		if p.Owner == "" {
			return nil, fmt.Errorf("decode: program without owner")
		}
		if p.Table == "" {
			p.Table = lf.DefaultTable
		}
		if p.Table == "" {
			return nil, fmt.Errorf("decode: program %s has no table and no default_table is set", p.Owner)
		}
		if _, dup := l.byOwner[p.Owner]; dup {
			return nil, fmt.Errorf("decode: duplicate program %s", p.Owner)
		}
		l.byOwner[p.Owner] = p
	}
	return l, nil
}

// Decode returns zero rows for owners the layout does not know and that
// have no fallback table.
func (l *Layout) Decode(_ context.Context, rec record.Record) ([]Row, error) {
	p, ok := l.byOwner[rec.Owner]
	if !ok {
		if l.fallback == "" {
			return nil, nil
		}
		p = Program{Owner: rec.Owner, Table: l.fallback}
	}

	var doc map[string]any
	if err := json.Unmarshal(rec.Data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s@%d: %w", rec.Pubkey, rec.Slot, err)
	}

	body := doc
	if body == nil {
		body = map[string]any{}
	}
	if len(p.Fields) > 0 {
		body = make(map[string]any, len(p.Fields))
		for _, f := range p.Fields {
			if v, ok := doc[f]; ok {
				body[f] = v
			}
		}
	}

	return []Row{{
		Table:        p.Table,
		Pubkey:       rec.Pubkey,
		Slot:         rec.Slot,
		WriteVersion: rec.WriteVersion,
		Owner:        rec.Owner,
		Body:         body,
	}}, nil
}

func init() {
	Register("layout", func(path string) (Decoder, error) { return LoadLayout(path) })
}
