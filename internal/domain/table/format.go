package table

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchemaMismatch is returned when a batch does not carry exactly the declared
// storage columns in declared order.
var ErrSchemaMismatch = errors.New("table: batch does not match schema")

// Format renames label-keyed columns to storage names, coerces them to their
// declared types and orders them as declared. Undeclared columns are dropped.
// A declared column present under neither its label nor its name is skipped;
// use Missing to detect that case.
func (d *Descriptor) Format(b *Batch) (*Batch, error) {
	out := NewBatch()
	if b == nil {
		return out, nil
	}
	for _, c := range d.spec.Columns {
		var src []any
		switch {
		case b.Has(c.Label) && !b.Has(c.Name):
			src = b.Column(c.Label)
		case b.Has(c.Name):
			src = b.Column(c.Name)
		default:
			continue
		}
		vals := make([]any, len(src))
		for i, v := range src {
			cv, err := Coerce(c.Type, v)
			if err != nil {
				return nil, fmt.Errorf("format %s.%s row %d: %w", d.spec.Name, c.Name, i, err)
			}
			vals[i] = cv
		}
		if err := out.Set(c.Name, vals); err != nil {
			return nil, fmt.Errorf("format %s: %w", d.spec.Name, err)
		}
	}
	return out, nil
}

// Missing lists declared storage names that b carries under neither label nor name.
func (d *Descriptor) Missing(b *Batch) []string {
	var out []string
	for _, c := range d.spec.Columns {
		if !b.Has(c.Label) && !b.Has(c.Name) {
			out = append(out, c.Name)
		}
	}
	return out
}

// Conforms checks that b has exactly the declared storage columns in order.
func (d *Descriptor) Conforms(b *Batch) error {
	got := b.Columns()
	want := d.ColumnNames()
	if len(got) != len(want) {
		return fmt.Errorf("%w: %s wants [%s], got [%s]", ErrSchemaMismatch, d.spec.Name,
			strings.Join(want, ", "), strings.Join(got, ", "))
	}
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("%w: %s column %d is %q, want %q", ErrSchemaMismatch, d.spec.Name, i, got[i], want[i])
		}
	}
	return nil
}
