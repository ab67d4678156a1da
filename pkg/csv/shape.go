package csv

import (
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
)

// Stats counts the substitutions made by lenient policies. Nothing is
// dropped without being counted here.
type Stats struct {
	RaggedRows        int64 `json:"ragged_rows"`
	PaddedFields      int64 `json:"padded_fields"`
	TruncatedFields   int64 `json:"truncated_fields"`
	NullSubstitutions int64 `json:"null_substitutions"`
}

func (s *Stats) snapshot() Stats {
	return Stats{
		RaggedRows:        atomic.LoadInt64(&s.RaggedRows),
		PaddedFields:      atomic.LoadInt64(&s.PaddedFields),
		TruncatedFields:   atomic.LoadInt64(&s.TruncatedFields),
		NullSubstitutions: atomic.LoadInt64(&s.NullSubstitutions),
	}
}

// batchBuilder shapes tokenized records to the schema width and converts the
// projected fields into arrow columns.
type batchBuilder struct {
	schema *Schema
	out    *Schema
	cols   []*columnBuilder
	slot   []int

	ragged RaggedPolicy
	strict bool
	stats  *Stats

	rows  int
	bytes int
}

func newBatchBuilder(mem memory.Allocator, schema *Schema, proj []int, nulls *nullSet, opts ReadOptions, stats *Stats) (*batchBuilder, error) {
	if proj == nil {
		proj = make([]int, schema.Len())
		for i := range proj {
			proj[i] = i
		}
	}

	fields := make([]Field, len(proj))
	slot := make([]int, schema.Len())
	for i := range slot {
		slot[i] = -1
	}
	cols := make([]*columnBuilder, len(proj))
	lossy := lossyUTF8(opts.Encoding)
	for k, idx := range proj {
		fields[k] = schema.Field(idx)
		slot[idx] = k
		cols[k] = newColumnBuilder(mem, fields[k], nulls, lossy)
	}
	out, err := NewSchema(fields...)
	if err != nil {
		return nil, err
	}

	return &batchBuilder{
		schema: schema,
		out:    out,
		cols:   cols,
		slot:   slot,
		ragged: opts.Ragged,
		strict: opts.ParsePolicy != ParseLenient,
		stats:  stats,
	}, nil
}

// appendRecord converts record i of rows. Present fields are converted before
// the field count is checked, so a value failing its column type reports a
// type error ahead of any ragged-row error.
func (b *batchBuilder) appendRecord(rows *Rows, i int) error {
	n := rows.NumFields(i)
	w := b.schema.Len()
	m := n
	if w < m {
		m = w
	}

	for j := 0; j < m; j++ {
		k := b.slot[j]
		if k < 0 {
			continue
		}
		col := b.cols[k]
		raw := rows.Field(i, j)
		switch col.appendField(raw, rows.Quoted(i, j)) {
		case appendOK:
		case appendInvalid:
			if b.strict {
				return typeParseFailure(col.field, raw, rows.Line(i))
			}
			col.appendNull()
			atomic.AddInt64(&b.stats.NullSubstitutions, 1)
		case appendBadEncoding:
			return errors.New(errors.ErrorTypeMalformedRecord, "invalid UTF-8 in string field").
				WithDetail("column", col.field.Name).
				WithDetail("line", rows.Line(i))
		}
	}

	if n != w {
		if err := checkRagged(b.ragged, n, w, rows.Line(i)); err != nil {
			return err
		}
		atomic.AddInt64(&b.stats.RaggedRows, 1)
		if n > w {
			atomic.AddInt64(&b.stats.TruncatedFields, int64(n-w))
		} else {
			for j := n; j < w; j++ {
				if k := b.slot[j]; k >= 0 {
					b.cols[k].appendNull()
				}
			}
			atomic.AddInt64(&b.stats.PaddedFields, int64(w-n))
		}
	}

	b.rows++
	b.bytes += rows.RecordBytes(i)
	return nil
}

// newRecord turns the accumulated rows into a record and resets the builder.
func (b *batchBuilder) newRecord() arrow.Record {
	arrs := make([]arrow.Array, len(b.cols))
	for k, c := range b.cols {
		arrs[k] = c.newArray()
	}
	rec := array.NewRecord(b.out.Arrow(), arrs, int64(b.rows))
	for _, a := range arrs {
		a.Release()
	}
	b.rows, b.bytes = 0, 0
	return rec
}

// discard drops partially built rows; columns may differ in length after a
// failed append.
func (b *batchBuilder) discard() {
	for _, c := range b.cols {
		c.newArray().Release()
	}
	b.rows, b.bytes = 0, 0
}

func (b *batchBuilder) release() {
	for _, c := range b.cols {
		c.release()
	}
}

// checkRagged reports whether a record of n fields is acceptable for a
// schema of w columns under policy.
func checkRagged(policy RaggedPolicy, n, w int, line int64) error {
	switch {
	case n > w && policy == RaggedTruncate:
		return nil
	case n < w && policy == RaggedPadNull:
		return nil
	}
	return errors.Newf(errors.ErrorTypeRaggedRow, "record has %d fields, schema has %d", n, w).
		WithDetail("line", line).
		WithDetail("fields", n).
		WithDetail("policy", string(policy))
}

func typeParseFailure(f Field, raw []byte, line int64) error {
	return errors.Newf(errors.ErrorTypeTypeParseFailure, "cannot parse %q as %s", raw, f.Type).
		WithDetail("column", f.Name).
		WithDetail("value", string(raw)).
		WithDetail("line", line)
}
