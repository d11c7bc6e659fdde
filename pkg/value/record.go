package value

import (
	"strings"

	"github.com/nushell/nushell-sub009/pkg/ast"
)

// Record is an ordered column->value map. Columns keep insertion order;
// lookup is a linear scan, which beats hashing for the small records that
// dominate shell data.
type Record struct {
	Cols []string
	Vals []Value
}

// NewRecord returns an empty record with capacity for n fields.
func NewRecord(n int) *Record {
	return &Record{
		Cols: make([]string, 0, n),
		Vals: make([]Value, 0, n),
	}
}

// RecordValue wraps a record as a Value.
func RecordValue(r *Record, span ast.Span) Value {
	return Value{Kind: KindRecord, Record: r, Span: span}
}

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.Cols) }

// Columns returns the column names in order. The slice is shared; callers
// must not mutate it.
func (r *Record) Columns() []string { return r.Cols }

// Values returns the field values in column order. Shared, do not mutate.
func (r *Record) Values() []Value { return r.Vals }

// Get looks a column up by exact name.
func (r *Record) Get(col string) (Value, bool) {
	for i, c := range r.Cols {
		if c == col {
			return r.Vals[i], true
		}
	}
	return Value{}, false
}

// GetInsensitive looks a column up case-insensitively, preferring an exact
// match when both exist.
func (r *Record) GetInsensitive(col string) (Value, bool) {
	if v, ok := r.Get(col); ok {
		return v, true
	}
	for i, c := range r.Cols {
		if strings.EqualFold(c, col) {
			return r.Vals[i], true
		}
	}
	return Value{}, false
}

// Set inserts or overwrites a column.
func (r *Record) Set(col string, v Value) {
	for i, c := range r.Cols {
		if c == col {
			r.Vals[i] = v
			return
		}
	}
	r.Cols = append(r.Cols, col)
	r.Vals = append(r.Vals, v)
}

// Remove deletes a column, reporting whether it existed.
func (r *Record) Remove(col string) bool {
	for i, c := range r.Cols {
		if c == col {
			r.Cols = append(r.Cols[:i], r.Cols[i+1:]...)
			r.Vals = append(r.Vals[:i], r.Vals[i+1:]...)
			return true
		}
	}
	return false
}

// Clone deep-copies the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{
		Cols: append([]string(nil), r.Cols...),
		Vals: make([]Value, len(r.Vals)),
	}
	for i := range r.Vals {
		out.Vals[i] = r.Vals[i].Clone()
	}
	return out
}

// Equal compares records field-for-field, order-sensitively.
func (r *Record) Equal(other *Record) bool {
	if r.Len() != other.Len() {
		return false
	}
	for i := range r.Cols {
		if r.Cols[i] != other.Cols[i] || !r.Vals[i].Equal(other.Vals[i]) {
			return false
		}
	}
	return true
}
