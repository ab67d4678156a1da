package csv

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
)

func TestCollectAcrossChunks(t *testing.T) {
	cur := openString(t, "a,b\n1,x\n2,y\n3,z\n4,\n5,w\n", ReadOptions{})
	table, err := Collect(context.Background(), cur, 2)
	require.NoError(t, err)
	defer table.Release()

	assert.Equal(t, 5, table.Len())
	assert.Len(t, table.Column(0).Data().Chunks(), 3)
	assert.Equal(t, int64(5), table.Value(0, 4))
	assert.Equal(t, "z", table.Value(1, 2))
	assert.Nil(t, table.Value(1, 3))
	assert.Equal(t, []any{int64(2), "y"}, table.Row(1))
	assert.Equal(t, StatusExhausted, cur.State().Status)
}

func TestCollectClosesOnError(t *testing.T) {
	src := &trackingReader{Reader: strings.NewReader("a\n1\n2\nbad\n")}
	cur, err := Open(context.Background(), src, ReadOptions{InferSchemaLength: 1}, WithLogger(testLogger(t)))
	require.NoError(t, err)

	_, err = Collect(context.Background(), cur, 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeParseFailure), "got %v", err)
	assert.Equal(t, 1, src.closed)
	_, err = cur.NextBatch(context.Background(), 1)
	assert.Equal(t, ErrClosed, err)
}

func TestReadAllMatchesSchemaArrow(t *testing.T) {
	table, err := readString(t, "n,s\n1,a\n", ReadOptions{})
	require.NoError(t, err)
	defer table.Release()

	arrowSchema := table.Table.Schema()
	require.Equal(t, 2, arrowSchema.NumFields())
	assert.Equal(t, "n", arrowSchema.Field(0).Name)
	assert.Equal(t, Integer.ArrowType(), arrowSchema.Field(0).Type)
	assert.True(t, arrowSchema.Field(1).Nullable)
}

func TestSchemaSelect(t *testing.T) {
	s, err := NewSchema(Field{"a", Integer}, Field{"b", String}, Field{"c", Float})
	require.NoError(t, err)

	sub, pos, err := s.Select([]string{"c", "a"})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, pos)
	assert.Equal(t, "[c:float64, a:int64]", sub.String())

	_, _, err = s.Select([]string{"a", "a"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaConflict))

	other, err := NewSchema(Field{"a", Integer}, Field{"b", String}, Field{"c", Float})
	require.NoError(t, err)
	assert.True(t, s.Equal(other))
	assert.False(t, s.Equal(sub))

	idx, ok := s.Index("b")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
}
