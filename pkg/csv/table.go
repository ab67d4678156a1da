package csv

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Table is a fully materialized read: the batches of a cursor concatenated
// in index order. The caller must call Release.
type Table struct {
	arrow.Table
	schema *Schema
	stats  Stats
}

// NewTable concatenates records that all match schema. The table retains
// the records; the caller keeps its own references.
func NewTable(schema *Schema, batches []arrow.Record, stats Stats) *Table {
	return &Table{
		Table:  array.NewTableFromRecords(schema.Arrow(), batches),
		schema: schema,
		stats:  stats,
	}
}

// Schema returns the table schema.
func (t *Table) Schema() *Schema { return t.schema }

// Stats returns the lenient-policy substitutions made while reading.
func (t *Table) Stats() Stats { return t.stats }

// Len returns the row count as an int.
func (t *Table) Len() int { return int(t.Table.NumRows()) }

// Value returns the cell at (col, row) as a Go value: nil for null, or bool,
// int64, float64 or string.
func (t *Table) Value(col, row int) any {
	chunks := t.Table.Column(col).Data().Chunks()
	for _, c := range chunks {
		if row >= c.Len() {
			row -= c.Len()
			continue
		}
		return ArrayValue(c, row)
	}
	return nil
}

// Row returns row i as a slice of Go values in column order.
func (t *Table) Row(i int) []any {
	out := make([]any, t.Table.NumCols())
	for j := range out {
		out[j] = t.Value(j, i)
	}
	return out
}

// ArrayValue converts element i of one of the cursor's column arrays.
func ArrayValue(a arrow.Array, i int) any {
	if a.IsNull(i) {
		return nil
	}
	switch a := a.(type) {
	case *array.Boolean:
		return a.Value(i)
	case *array.Int64:
		return a.Value(i)
	case *array.Float64:
		return a.Value(i)
	case *array.String:
		return a.Value(i)
	}
	return nil
}
