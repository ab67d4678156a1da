package scan

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
)

// selection returns the row positions whose predicate value is true.
func selection(mask []truth) []int {
	rows := make([]int, 0, len(mask))
	for i, t := range mask {
		if t == tTrue {
			rows = append(rows, i)
		}
	}
	return rows
}

// take builds a record from the given columns and rows of rec. A nil rows
// slice keeps every row.
func take(mem memory.Allocator, schema *arrow.Schema, rec arrow.Record, cols []int, rows []int) (arrow.Record, error) {
	if rows == nil && len(cols) == int(rec.NumCols()) && identity(cols) {
		rec.Retain()
		return rec, nil
	}

	n := int64(rec.NumRows())
	if rows != nil {
		n = int64(len(rows))
	}
	arrays := make([]arrow.Array, 0, len(cols))
	release := func() {
		for _, a := range arrays {
			a.Release()
		}
	}

	for _, c := range cols {
		src := rec.Column(c)
		if rows == nil {
			src.Retain()
			arrays = append(arrays, src)
			continue
		}
		a, err := takeArray(mem, src, rows)
		if err != nil {
			release()
			return nil, err
		}
		arrays = append(arrays, a)
	}

	out := array.NewRecord(schema, arrays, n)
	release()
	return out, nil
}

func identity(cols []int) bool {
	for i, c := range cols {
		if i != c {
			return false
		}
	}
	return true
}

// takeArray copies the selected elements of one column. Only the arrow types
// a cursor produces are supported.
func takeArray(mem memory.Allocator, src arrow.Array, rows []int) (arrow.Array, error) {
	switch src := src.(type) {
	case *array.Null:
		return array.NewNull(len(rows)), nil
	case *array.Boolean:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		b.Reserve(len(rows))
		for _, i := range rows {
			if src.IsNull(i) {
				b.AppendNull()
			} else {
				b.UnsafeAppend(src.Value(i))
			}
		}
		return b.NewArray(), nil
	case *array.Int64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.Reserve(len(rows))
		for _, i := range rows {
			if src.IsNull(i) {
				b.AppendNull()
			} else {
				b.UnsafeAppend(src.Value(i))
			}
		}
		return b.NewArray(), nil
	case *array.Float64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.Reserve(len(rows))
		for _, i := range rows {
			if src.IsNull(i) {
				b.AppendNull()
			} else {
				b.UnsafeAppend(src.Value(i))
			}
		}
		return b.NewArray(), nil
	case *array.String:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.Reserve(len(rows))
		for _, i := range rows {
			if src.IsNull(i) {
				b.AppendNull()
			} else {
				b.Append(src.Value(i))
			}
		}
		return b.NewArray(), nil
	}
	return nil, errors.Newf(errors.ErrorTypeInternal, "unsupported column type %s", src.DataType())
}
