// Package schema describes the destination tables an import can target: the
// table name, its identifier and natural-key columns, which source columns
// are required, and the expected kind of every accepted column.
//
// A Descriptor is checked once against the source header before any row is
// processed. Only declared columns ever reach SQL; anything else in the file
// is reported and ignored.
package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"crmloader/internal/normalize"
)

// Reference declares that a column must point at an existing row in another
// table, e.g. historial_cliente.cliente_id -> clientes.id.
type Reference struct {
	Column       string `yaml:"column"`
	Table        string `yaml:"table"`
	TargetColumn string `yaml:"target_column"`
}

// Descriptor is the explicit schema of one import target.
type Descriptor struct {
	Name  string `yaml:"name"`
	Table string `yaml:"table"`

	// IDColumn is the surrogate identifier assigned by the store. It is never
	// inserted and is the target of updates.
	IDColumn string `yaml:"id_column"`

	// NaturalKey is the business key used for duplicate detection. Empty means
	// rows are never classified and the target only supports insert_only.
	NaturalKey string `yaml:"natural_key"`

	// DisplayColumn is returned by lookups to identify a match in logs.
	DisplayColumn string `yaml:"display_column"`

	// UpdatedAtColumn receives the current time on every update.
	UpdatedAtColumn string `yaml:"updated_at_column"`

	Required   []string                  `yaml:"required"`
	Fields     map[string]normalize.Kind `yaml:"fields"`
	References []Reference               `yaml:"references"`
}

// Validate checks internal consistency of the descriptor.
func (d *Descriptor) Validate() error {
	if strings.TrimSpace(d.Table) == "" {
		return fmt.Errorf("schema %q: table is required", d.Name)
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("schema %q: no fields declared", d.Name)
	}
	for col, k := range d.Fields {
		if _, err := normalize.ParseKind(string(k)); err != nil {
			return fmt.Errorf("schema %q: field %s: %w", d.Name, col, err)
		}
	}
	for _, r := range d.Required {
		if _, ok := d.Fields[r]; !ok {
			return fmt.Errorf("schema %q: required column %s is not a declared field", d.Name, r)
		}
	}
	if d.NaturalKey != "" {
		if _, ok := d.Fields[d.NaturalKey]; !ok {
			return fmt.Errorf("schema %q: natural key %s is not a declared field", d.Name, d.NaturalKey)
		}
		if d.IDColumn == "" {
			return fmt.Errorf("schema %q: natural key requires id_column", d.Name)
		}
	}
	for _, ref := range d.References {
		if _, ok := d.Fields[ref.Column]; !ok {
			return fmt.Errorf("schema %q: reference column %s is not a declared field", d.Name, ref.Column)
		}
		if ref.Table == "" || ref.TargetColumn == "" {
			return fmt.Errorf("schema %q: reference on %s needs table and target_column", d.Name, ref.Column)
		}
	}
	return nil
}

// Columns returns the declared columns in sorted order.
func (d *Descriptor) Columns() []string {
	out := make([]string, 0, len(d.Fields))
	for c := range d.Fields {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// KindOf returns the declared kind of col, and false for undeclared columns.
func (d *Descriptor) KindOf(col string) (normalize.Kind, bool) {
	k, ok := d.Fields[col]
	return k, ok
}

// HeaderCheck is the result of matching a source header against a descriptor.
type HeaderCheck struct {
	Missing []string // required columns absent from the header
	Ignored []string // header columns the descriptor does not declare
	Mapped  []string // header columns that will be imported, in header order
}

// OK reports whether every required column is present.
func (h HeaderCheck) OK() bool { return len(h.Missing) == 0 }

// Check matches header names exactly (case-sensitive).
func (d *Descriptor) Check(header []string) HeaderCheck {
	var hc HeaderCheck
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		seen[h] = true
		if _, ok := d.Fields[h]; ok {
			hc.Mapped = append(hc.Mapped, h)
		} else {
			hc.Ignored = append(hc.Ignored, h)
		}
	}
	for _, r := range d.Required {
		if !seen[r] {
			hc.Missing = append(hc.Missing, r)
		}
	}
	return hc
}

// Load reads a descriptor from a YAML file.
func Load(path string) (*Descriptor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(b)
}

// Parse decodes a YAML descriptor and validates it.
func Parse(b []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	for col, k := range d.Fields {
		pk, err := normalize.ParseKind(string(k))
		if err != nil {
			return nil, fmt.Errorf("schema %q: field %s: %w", d.Name, col, err)
		}
		d.Fields[col] = pk
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Marshal renders d as YAML. The output is accepted by Parse.
func Marshal(d *Descriptor) ([]byte, error) {
	return yaml.Marshal(d)
}
