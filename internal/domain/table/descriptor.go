// Package table declares ClickHouse time-series table shapes and formats labeled
// batches into storage-ready rows.
package table

import (
	"errors"
	"fmt"
)

// ColumnType is the semantic type of a column.
type ColumnType int

const (
	Float64 ColumnType = iota
	String
	DateTime64
	Int64
)

func (t ColumnType) String() string {
	switch t {
	case String:
		return "String"
	case DateTime64:
		return "DateTime64"
	case Int64:
		return "Int64"
	default:
		return "Float64"
	}
}

// SQLType returns the ClickHouse column type.
func (t ColumnType) SQLType() string {
	if t == DateTime64 {
		return "DateTime64(3)"
	}
	return t.String()
}

// Column is a (storage name, display label, type) triple.
type Column struct {
	Name    string
	Label   string
	Type    ColumnType
	Primary bool
}

// ErrInvalidDescriptor is returned by NewDescriptor for malformed declarations.
var ErrInvalidDescriptor = errors.New("table: invalid descriptor")

// Spec is the declaration used to build a Descriptor.
type Spec struct {
	Name       string
	Comment    string
	Columns    []Column
	TimeKey    string
	OrderBy    []string
	PrimaryKey []string
	Engine     string
	// WeekdaysOnly marks exchange-traded series with no weekend bars.
	WeekdaysOnly bool
}

// Descriptor is an immutable table declaration.
type Descriptor struct {
	spec        Spec
	byName      map[string]int
	nameByLabel map[string]string
}

// NewDescriptor validates s and builds a Descriptor. Names and labels must be
// unique and non-empty, and the label mapping must be bijective.
func NewDescriptor(s Spec) (*Descriptor, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("%w: empty table name", ErrInvalidDescriptor)
	}
	if len(s.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s has no columns", ErrInvalidDescriptor, s.Name)
	}
	d := &Descriptor{
		byName:      make(map[string]int, len(s.Columns)),
		nameByLabel: make(map[string]string, len(s.Columns)),
	}
	for i, c := range s.Columns {
		if c.Name == "" || c.Label == "" {
			return nil, fmt.Errorf("%w: %s column %d needs name and label", ErrInvalidDescriptor, s.Name, i)
		}
		if _, dup := d.byName[c.Name]; dup {
			return nil, fmt.Errorf("%w: %s duplicate column %q", ErrInvalidDescriptor, s.Name, c.Name)
		}
		if _, dup := d.nameByLabel[c.Label]; dup {
			return nil, fmt.Errorf("%w: %s duplicate label %q", ErrInvalidDescriptor, s.Name, c.Label)
		}
		d.byName[c.Name] = i
		d.nameByLabel[c.Label] = c.Name
	}
	if s.TimeKey == "" {
		return nil, fmt.Errorf("%w: %s has no time key", ErrInvalidDescriptor, s.Name)
	}
	if i, ok := d.byName[s.TimeKey]; !ok || s.Columns[i].Type != DateTime64 {
		return nil, fmt.Errorf("%w: %s time key %q must be a declared DateTime64 column", ErrInvalidDescriptor, s.Name, s.TimeKey)
	}
	if len(s.OrderBy) == 0 {
		s.OrderBy = []string{s.TimeKey}
	}
	if len(s.PrimaryKey) == 0 {
		s.PrimaryKey = s.OrderBy
	}
	for _, k := range append(append([]string{}, s.OrderBy...), s.PrimaryKey...) {
		if _, ok := d.byName[k]; !ok {
			return nil, fmt.Errorf("%w: %s key column %q not declared", ErrInvalidDescriptor, s.Name, k)
		}
	}
	if len(s.PrimaryKey) > len(s.OrderBy) {
		return nil, fmt.Errorf("%w: %s primary key must prefix order by", ErrInvalidDescriptor, s.Name)
	}
	for i, k := range s.PrimaryKey {
		if s.OrderBy[i] != k {
			return nil, fmt.Errorf("%w: %s primary key must prefix order by", ErrInvalidDescriptor, s.Name)
		}
	}
	if s.Engine == "" {
		s.Engine = "MergeTree"
	}
	s.Columns = append([]Column(nil), s.Columns...)
	d.spec = s
	return d, nil
}

// MustDescriptor is NewDescriptor for package-level declarations.
func MustDescriptor(s Spec) *Descriptor {
	d, err := NewDescriptor(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Descriptor) Name() string    { return d.spec.Name }
func (d *Descriptor) Comment() string { return d.spec.Comment }
func (d *Descriptor) TimeKey() string { return d.spec.TimeKey }
func (d *Descriptor) Engine() string  { return d.spec.Engine }

// WeekdaysOnly reports whether bars only exist Monday to Friday.
func (d *Descriptor) WeekdaysOnly() bool { return d.spec.WeekdaysOnly }

// Columns returns a copy of the declared columns.
func (d *Descriptor) Columns() []Column {
	return append([]Column(nil), d.spec.Columns...)
}

// ColumnNames returns the storage names in declared order.
func (d *Descriptor) ColumnNames() []string {
	out := make([]string, len(d.spec.Columns))
	for i, c := range d.spec.Columns {
		out[i] = c.Name
	}
	return out
}

func (d *Descriptor) OrderBy() []string    { return append([]string(nil), d.spec.OrderBy...) }
func (d *Descriptor) PrimaryKey() []string { return append([]string(nil), d.spec.PrimaryKey...) }

// PartitionBy is the month truncation of the time key.
func (d *Descriptor) PartitionBy() string {
	return fmt.Sprintf("toYYYYMM(%s)", d.spec.TimeKey)
}

// Column looks up a column by storage name.
func (d *Descriptor) Column(name string) (Column, bool) {
	i, ok := d.byName[name]
	if !ok {
		return Column{}, false
	}
	return d.spec.Columns[i], true
}

// NameOf maps a display label to its storage name.
func (d *Descriptor) NameOf(label string) (string, bool) {
	n, ok := d.nameByLabel[label]
	return n, ok
}

// LabelOf maps a storage name to its display label.
func (d *Descriptor) LabelOf(name string) (string, bool) {
	c, ok := d.Column(name)
	return c.Label, ok
}

// Labels returns the storage name → display label map.
func (d *Descriptor) Labels() map[string]string {
	out := make(map[string]string, len(d.spec.Columns))
	for _, c := range d.spec.Columns {
		out[c.Name] = c.Label
	}
	return out
}

// SymbolColumn returns the first String column of OrderBy other than the time key.
func (d *Descriptor) SymbolColumn() (Column, bool) {
	for _, k := range d.spec.OrderBy {
		if k == d.spec.TimeKey {
			continue
		}
		if c, ok := d.Column(k); ok && c.Type == String {
			return c, true
		}
	}
	return Column{}, false
}
