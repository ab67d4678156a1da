package scan

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ajitpratap0/nebula-csv/pkg/csv"
	"github.com/ajitpratap0/nebula-csv/pkg/errors"
	"github.com/ajitpratap0/nebula-csv/pkg/source"
	"github.com/ajitpratap0/nebula-csv/pkg/testutil"
)

const people = `id,name,age,score,active
1,ann,34,1.5,true
2,bob,,2.5,false
3,"cho, jr",51,,true
4,dee,28,4.0,
5,eve,62,NaN,false
`

func memNode(data string) Node {
	return New(source.Memory([]byte(data)), csv.ReadOptions{})
}

func collect(t *testing.T, n Node, options ...ExecuteOption) *csv.Table {
	t.Helper()
	options = append([]ExecuteOption{WithLogger(testutil.TestLogger(t))}, options...)
	exec, err := n.Execute(context.Background(), options...)
	require.NoError(t, err)
	table, err := exec.Collect(context.Background())
	require.NoError(t, err)
	t.Cleanup(table.Release)
	return table
}

func column(t *csv.Table, col int) []any {
	out := make([]any, t.Len())
	for i := range out {
		out[i] = t.Value(col, i)
	}
	return out
}

func TestNodeIsLazy(t *testing.T) {
	n := New(source.File("/definitely/not/here.csv"), csv.ReadOptions{}).
		WithProjection("a").
		WithPredicate("a > 1")
	assert.Nil(t, n.Children())
	assert.Contains(t, n.Explain(), "CsvScan(source: /definitely/not/here.csv")
	assert.Contains(t, n.Explain(), "projection: [a]")
	assert.Contains(t, n.Explain(), "predicate: a > 1")
	assert.NoError(t, n.Validate())

	_, err := n.Execute(context.Background(), WithLogger(testutil.TestLogger(t)))
	assert.True(t, errors.IsType(err, errors.ErrorTypeSourceUnavailable), "got %v", err)
}

func TestNodeCopies(t *testing.T) {
	base := memNode(people)
	a := base.WithProjection("id")
	b := a.WithPredicate("age > 30").WithPredicate("active = true")

	assert.Empty(t, base.Projection)
	assert.Empty(t, a.Predicate)
	assert.Equal(t, "(age > 30) AND (active = true)", b.Predicate)

	table := collect(t, b)
	assert.Equal(t, []any{int64(1), int64(3)}, column(table, 0))
}

func TestEncodeDecode(t *testing.T) {
	n := New(source.MustParse("s3://bkt/exp.zip#a.csv"), csv.ReadOptions{
		Delimiter:  ';',
		HasHeader:  csv.Bool(false),
		Dtypes:     map[string]csv.DataType{"x": csv.Float},
		NullValues: []string{"NA"},
	}).WithProjection("x").WithPredicate("x IS NOT NULL")

	data, err := n.Encode()
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, n, got)
	assert.Equal(t, n.Explain(), got.Explain())

	_, err = Decode([]byte("{"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		expr string
		ids  []any
	}{
		{"age > 30", []any{int64(1), int64(3), int64(5)}},
		{"age >= 34 AND age <= 51", []any{int64(1), int64(3)}},
		{"age IS NULL", []any{int64(2)}},
		{"age IS NOT NULL AND NOT active = true", []any{int64(5)}},
		{"NOT (age > 30)", []any{int64(4)}},
		{"age > 30 OR active = false", []any{int64(1), int64(2), int64(3), int64(5)}},
		{"active = TRUE", []any{int64(1), int64(3)}},
		{"active <> true", []any{int64(2), int64(5)}},
		{"name = 'cho, jr'", []any{int64(3)}},
		{"name > 'c' and name < 'e'", []any{int64(3), int64(4)}},
		{"score < 3", []any{int64(1), int64(2)}},
		{"score = 4", []any{int64(4)}},
		{"age > 30.5", []any{int64(1), int64(3), int64(5)}},
		{"`id` == 2", []any{int64(2)}},
		{"age != 28", []any{int64(1), int64(3), int64(5)}},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			table := collect(t, memNode(people).WithPredicate(tc.expr))
			assert.Equal(t, tc.ids, column(table, 0))
		})
	}
}

func TestNotOfUnknownStaysUnknown(t *testing.T) {
	// Row 2 has a null age: neither the comparison nor its negation holds.
	in := collect(t, memNode(people).WithPredicate("age > 30"))
	out := collect(t, memNode(people).WithPredicate("NOT age > 30"))
	assert.Equal(t, 4, in.Len()+out.Len())
}

func TestPredicateErrors(t *testing.T) {
	for _, expr := range []string{"age >", "age = 1 AND", "(age = 1", "age LIKE 'x'"} {
		_, err := ParsePredicate(expr)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), "%q: %v", expr, err)
		assert.Error(t, memNode(people).WithPredicate(expr).Validate())
	}

	for _, expr := range []string{"nope = 1", "age = 'x'", "name = 3", "active > true", "score = false"} {
		_, err := memNode(people).WithPredicate(expr).Execute(context.Background(), WithLogger(testutil.TestLogger(t)))
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), "%q: %v", expr, err)
	}
}

func TestParsePredicateColumns(t *testing.T) {
	cols, err := ParsePredicate("(a > 1 OR `b c` IS NULL) AND a < 5 and not d = 'it''s'")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b c", "d"}, cols)
}

func TestProjectionDropsPredicateColumns(t *testing.T) {
	table := collect(t, memNode(people).WithProjection("name", "id").WithPredicate("score > 2"))
	assert.Equal(t, "[name:str, id:int64]", table.Schema().String())
	assert.Equal(t, []any{"bob", int64(2)}, table.Row(0))
	assert.Equal(t, []any{"dee", int64(4)}, table.Row(1))
	assert.Equal(t, 2, table.Len())
}

func TestExecutionBatches(t *testing.T) {
	defer goleak.VerifyNone(t)

	input := testutil.GenerateCSV(1000, 21)
	n := memNode(input).WithPredicate("active = true").WithProjection("id", "active")
	exec, err := n.Execute(context.Background(), WithLogger(testutil.TestLogger(t)), WithBatchSize(64))
	require.NoError(t, err)
	defer exec.Close()

	total := 0
	index := 0
	var lastOffset int64
	for {
		b, err := exec.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, index, b.Index)
		assert.Greater(t, b.Offset, lastOffset)
		assert.Equal(t, int64(2), b.NumCols())
		for i := 0; i < b.Len(); i++ {
			assert.Equal(t, true, csv.ArrayValue(b.Column(1), i))
		}
		lastOffset = b.Offset
		total += b.Len()
		index++
		b.Release()
	}
	assert.Greater(t, total, 0)
	assert.Less(t, total, 1000)
	assert.Equal(t, csv.StatusExhausted, exec.State().Status)
	require.NoError(t, exec.Close())
}

func TestExecuteTwiceIsIndependent(t *testing.T) {
	n := memNode(people).WithPredicate("id > 2")
	a := collect(t, n)
	b := collect(t, n)
	assert.Equal(t, column(a, 0), column(b, 0))
}

func TestWriteIPC(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	exec, err := memNode(people).WithProjection("id", "name").WithPredicate("age > 30").
		Execute(context.Background(), WithAllocator(mem), WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)

	var buf bytes.Buffer
	rows, err := exec.WriteIPC(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rows)

	r, err := ipc.NewReader(&buf)
	require.NoError(t, err)
	defer r.Release()
	assert.Equal(t, "id", r.Schema().Field(0).Name)
	assert.Equal(t, "name", r.Schema().Field(1).Name)

	var got int64
	for r.Next() {
		got += r.Record().NumRows()
	}
	require.NoError(t, r.Err())
	assert.Equal(t, int64(3), got)
}
