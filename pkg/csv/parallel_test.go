package csv

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
	"github.com/ajitpratap0/nebula-csv/pkg/mmap"
	"github.com/ajitpratap0/nebula-csv/pkg/testutil"
)

func TestParallelMatchesSequential(t *testing.T) {
	defer goleak.VerifyNone(t)

	input := testutil.GenerateCSV(3000, 11)
	want, err := ReadAll(context.Background(), strings.NewReader(input), ReadOptions{}, WithLogger(testLogger(t)))
	require.NoError(t, err)
	defer want.Release()

	for _, tc := range []struct {
		workers, chunk, batch int
	}{
		{2, 64, 100},
		{4, 257, 1},
		{8, 4096, 1000},
		{3, 1 << 20, 50},
	} {
		opts := ReadOptions{Workers: tc.workers, ChunkSize: tc.chunk}
		cur := openString(t, input, opts)
		rows, batches := drain(t, cur, tc.batch)
		assert.Equal(t, tableRows(want), rows, "workers=%d chunk=%d", tc.workers, tc.chunk)
		for i, b := range batches {
			assert.Equal(t, i, b.Index)
		}
		assert.Equal(t, int64(len(input)), cur.State().Offset)
		assert.Equal(t, int64(len(input)), batches[len(batches)-1].Offset)
	}
}

func TestParallelCloseMidStream(t *testing.T) {
	defer goleak.VerifyNone(t)

	input := testutil.GenerateCSV(5000, 12)
	cur, err := Open(context.Background(), strings.NewReader(input), ReadOptions{Workers: 4, ChunkSize: 128},
		WithLogger(testLogger(t)))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		b, err := cur.NextBatch(context.Background(), 150)
		require.NoError(t, err)
		b.Release()
	}
	require.NoError(t, cur.Close())
	_, err = cur.NextBatch(context.Background(), 150)
	assert.Equal(t, ErrClosed, err)
}

func TestParallelErrorInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	var b strings.Builder
	b.WriteString("a,b\n")
	for i := 0; i < 2000; i++ {
		b.WriteString("1,2\n")
	}
	b.WriteString("3\n")
	for i := 0; i < 2000; i++ {
		b.WriteString("4,5\n")
	}

	cur, err := Open(context.Background(), strings.NewReader(b.String()),
		ReadOptions{Workers: 4, ChunkSize: 64, InferSchemaLength: 10}, WithLogger(testLogger(t)))
	require.NoError(t, err)
	defer cur.Close()

	rows := 0
	for {
		batch, err := cur.NextBatch(context.Background(), 100)
		if err != nil {
			assert.True(t, errors.IsType(err, errors.ErrorTypeRaggedRow), "got %v", err)
			break
		}
		rows += batch.Len()
		batch.Release()
	}
	assert.Equal(t, 2000, rows)
	assert.Equal(t, StatusFailed, cur.State().Status)
}

func TestParallelMalformedReportsAbsoluteLine(t *testing.T) {
	defer goleak.VerifyNone(t)

	var b strings.Builder
	b.WriteString("a\n")
	for i := 0; i < 500; i++ {
		b.WriteString("x\n")
	}
	b.WriteString("\"bad\"x\n")

	cur, err := Open(context.Background(), strings.NewReader(b.String()),
		ReadOptions{Workers: 2, ChunkSize: 32, InferSchemaLength: 1}, WithLogger(testLogger(t)))
	require.NoError(t, err)
	defer cur.Close()

	var lastErr error
	for lastErr == nil {
		var batch *RecordBatch
		batch, lastErr = cur.NextBatch(context.Background(), 1000)
		if batch != nil {
			batch.Release()
		}
	}

	var e *errors.Error
	require.True(t, errors.As(lastErr, &e), "got %v", lastErr)
	assert.Equal(t, errors.ErrorTypeMalformedRecord, e.Type)
	line, _ := e.Detail("line")
	assert.Equal(t, int64(502), line)
}

func TestParallelFallsBackWithComments(t *testing.T) {
	defer goleak.VerifyNone(t)

	cur := openString(t, "# c\na\n1\n# \"unbalanced\n2\n", ReadOptions{Workers: 4, CommentPrefix: "#", InferSchemaLength: 1, ChunkSize: 4})
	rows, _ := drain(t, cur, 10)
	assert.Equal(t, [][]any{{int64(1)}, {int64(2)}}, rows)
	assert.Nil(t, cur.par)
}

// cappedReader returns at most n bytes per Read, like a socket or pipe.
type cappedReader struct {
	r io.Reader
	n int
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if len(p) > c.n {
		p = p[:c.n]
	}
	return c.r.Read(p)
}

func TestParallelShortReadsLongRecord(t *testing.T) {
	defer goleak.VerifyNone(t)

	input := "a,b\n1,x\n2,\"" + strings.Repeat("y", 64<<10) + "\"\n3,z\n"
	want, err := ReadAll(context.Background(), strings.NewReader(input), ReadOptions{}, WithLogger(testLogger(t)))
	require.NoError(t, err)
	defer want.Release()

	for name, src := range map[string]func() io.Reader{
		"one-byte": func() io.Reader { return iotest.OneByteReader(strings.NewReader(input)) },
		"capped":   func() io.Reader { return &cappedReader{r: strings.NewReader(input), n: 1 << 10} },
	} {
		t.Run(name, func(t *testing.T) {
			cur, err := Open(context.Background(), src(), ReadOptions{Workers: 2, ChunkSize: 4096},
				WithLogger(testLogger(t)))
			require.NoError(t, err)
			defer cur.Close()

			rows, _ := drain(t, cur, 2)
			assert.Equal(t, tableRows(want), rows)
			assert.Equal(t, int64(len(input)), cur.State().Offset)
			assert.Zero(t, cur.State().CarryLen)
		})
	}
}

func openMapped(t *testing.T, input string) *mmap.Reader {
	t.Helper()
	r, err := mmap.Open(testutil.WriteFile(t, "data.csv", input))
	require.NoError(t, err)
	return r
}

// Run with -race: workers read the mapping while the cursor finishes.
func TestParallelMappedSource(t *testing.T) {
	defer goleak.VerifyNone(t)
	input := testutil.GenerateCSV(5000, 13)

	cur, err := Open(context.Background(), openMapped(t, input),
		ReadOptions{Workers: 4, ChunkSize: 4096, NRows: 10}, WithLogger(testLogger(t)))
	require.NoError(t, err)
	rows, _ := drain(t, cur, 3)
	assert.Len(t, rows, 10)
	assert.Equal(t, StatusExhausted, cur.State().Status)
	require.NoError(t, cur.Close())

	for i := 0; i < 20; i++ {
		cur, err := Open(context.Background(), openMapped(t, input),
			ReadOptions{Workers: 4, ChunkSize: 4096}, WithLogger(testLogger(t)))
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := cur.NextBatch(context.Background(), 1<<30)
			if err == nil {
				b.Release()
				return
			}
			assert.Equal(t, ErrClosed, err)
		}()
		require.NoError(t, cur.Close())
		wg.Wait()
	}
}
