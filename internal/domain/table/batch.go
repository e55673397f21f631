package table

import (
	"fmt"
	"sort"
	"time"
)

// Batch is a columnar set of rows. Every column holds the same number of values.
// A nil *Batch is a valid empty batch.
type Batch struct {
	columns []string
	values  map[string][]any
	rows    int
}

// NewBatch creates an empty batch with the given column order.
func NewBatch(columns ...string) *Batch {
	b := &Batch{
		columns: make([]string, 0, len(columns)),
		values:  make(map[string][]any, len(columns)),
	}
	for _, c := range columns {
		if _, ok := b.values[c]; ok {
			continue
		}
		b.columns = append(b.columns, c)
		b.values[c] = nil
	}
	return b
}

// Len returns the number of rows.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return b.rows
}

// Empty reports whether the batch has no rows.
func (b *Batch) Empty() bool { return b.Len() == 0 }

// Columns returns a copy of the column order.
func (b *Batch) Columns() []string {
	if b == nil {
		return nil
	}
	out := make([]string, len(b.columns))
	copy(out, b.columns)
	return out
}

// Has reports whether the batch carries column col.
func (b *Batch) Has(col string) bool {
	if b == nil {
		return false
	}
	_, ok := b.values[col]
	return ok
}

// Column returns the values of col (shared, do not mutate).
func (b *Batch) Column(col string) []any {
	if b == nil {
		return nil
	}
	return b.values[col]
}

// AppendRow appends one row; vals follow Columns() order.
func (b *Batch) AppendRow(vals ...any) error {
	if len(vals) != len(b.columns) {
		return fmt.Errorf("append row: got %d values for %d columns", len(vals), len(b.columns))
	}
	for i, c := range b.columns {
		b.values[c] = append(b.values[c], vals[i])
	}
	b.rows++
	return nil
}

// Set adds or replaces column col. The value count must match Len() unless the
// batch has no columns yet.
func (b *Batch) Set(col string, vals []any) error {
	if len(b.columns) > 0 && len(vals) != b.rows {
		return fmt.Errorf("set %s: got %d values for %d rows", col, len(vals), b.rows)
	}
	if _, ok := b.values[col]; !ok {
		b.columns = append(b.columns, col)
	}
	b.values[col] = vals
	b.rows = len(vals)
	return nil
}

// SetConst fills column col with v on every row.
func (b *Batch) SetConst(col string, v any) {
	vals := make([]any, b.rows)
	for i := range vals {
		vals[i] = v
	}
	_ = b.Set(col, vals)
}

// Row returns row i in column order.
func (b *Batch) Row(i int) []any {
	out := make([]any, len(b.columns))
	for j, c := range b.columns {
		out[j] = b.values[c][i]
	}
	return out
}

// Rows returns every row in column order.
func (b *Batch) Rows() [][]any {
	if b == nil {
		return nil
	}
	out := make([][]any, b.rows)
	for i := range out {
		out[i] = b.Row(i)
	}
	return out
}

// Records returns every row as a column→value map.
func (b *Batch) Records() []map[string]any {
	if b == nil {
		return nil
	}
	out := make([]map[string]any, b.rows)
	for i := range out {
		rec := make(map[string]any, len(b.columns))
		for _, c := range b.columns {
			rec[c] = b.values[c][i]
		}
		out[i] = rec
	}
	return out
}

// Filter returns a new batch holding the rows for which keep returns true.
func (b *Batch) Filter(keep func(row int) bool) *Batch {
	if b == nil {
		return nil
	}
	out := NewBatch(b.columns...)
	for i := 0; i < b.rows; i++ {
		if keep(i) {
			_ = out.AppendRow(b.Row(i)...)
		}
	}
	return out
}

// SortByTime sorts rows ascending by a time.Time or epoch-millisecond column.
// Rows whose value is neither keep their relative order at the front.
func (b *Batch) SortByTime(col string) {
	if b == nil || !b.Has(col) {
		return
	}
	keys := make([]int64, b.rows)
	for i, v := range b.values[col] {
		if ms, ok := epochMillis(v); ok {
			keys[i] = ms
		}
	}
	idx := make([]int, b.rows)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return keys[idx[i]] < keys[idx[j]] })
	for _, c := range b.columns {
		src := b.values[c]
		dst := make([]any, len(src))
		for i, k := range idx {
			dst[i] = src[k]
		}
		b.values[c] = dst
	}
}

// Concat stacks batches that share the same column set. Nil and empty batches are
// skipped. Concatenating nothing yields nil.
func Concat(batches ...*Batch) (*Batch, error) {
	var out *Batch
	for _, b := range batches {
		if b.Empty() {
			continue
		}
		if out == nil {
			out = NewBatch(b.columns...)
		}
		if len(b.columns) != len(out.columns) {
			return nil, fmt.Errorf("concat: column count %d != %d", len(b.columns), len(out.columns))
		}
		for _, c := range out.columns {
			vals, ok := b.values[c]
			if !ok {
				return nil, fmt.Errorf("concat: column %q missing", c)
			}
			out.values[c] = append(out.values[c], vals...)
		}
		out.rows += b.rows
	}
	return out, nil
}

func epochMillis(v any) (int64, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UnixMilli(), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		if ms, err := toInt64(v); err == nil {
			return ms, true
		}
		return 0, false
	}
}
