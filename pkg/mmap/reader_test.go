package mmap

import (
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReader(t *testing.T) {
	content := "a,b\n1,2\n3,4\n"
	r, err := Open(writeTemp(t, content))
	require.NoError(t, err)

	assert.Equal(t, int64(len(content)), r.Len())
	assert.Equal(t, content, string(r.Bytes()))

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	buf := make([]byte, 3)
	n, err := r.ReadAt(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, "1,2", string(buf[:n]))

	n, err = r.ReadAt(buf, int64(len(content)-2))
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "4\n", string(buf[:n]))

	pos, err := r.Seek(-4, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)-4), pos)
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "3,4\n", string(rest))

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

func TestReaderEmptyFile(t *testing.T) {
	r, err := Open(writeTemp(t, ""))
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReaderMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.csv"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeSourceUnavailable), "got %v", err)

	_, err = Open(t.TempDir())
	assert.True(t, errors.IsType(err, errors.ErrorTypeSourceUnavailable), "got %v", err)
}

func TestReaderAfterClose(t *testing.T) {
	r, err := Open(writeTemp(t, "a,b\n1,2\n"))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.Read(make([]byte, 4))
	assert.True(t, errors.IsType(err, errors.ErrorTypeSourceUnavailable), "got %v", err)
	assert.True(t, stderrors.Is(err, os.ErrClosed))

	_, err = r.ReadAt(make([]byte, 4), 0)
	assert.True(t, stderrors.Is(err, os.ErrClosed))

	_, err = r.Seek(0, io.SeekStart)
	assert.True(t, stderrors.Is(err, os.ErrClosed))
	assert.Zero(t, r.Len())
}

// Run with -race: Close must wait for reads in flight on other goroutines.
func TestReaderCloseDuringReads(t *testing.T) {
	content := strings.Repeat("0123456789abcdef\n", 4096)
	r, err := Open(writeTemp(t, content))
	require.NoError(t, err)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(seq bool) {
			defer wg.Done()
			<-start
			buf := make([]byte, 64)
			var off int64
			for {
				var err error
				if seq {
					_, err = r.Read(buf)
				} else {
					var n int
					n, err = r.ReadAt(buf, off)
					off += int64(n)
				}
				if err != nil {
					if err != io.EOF {
						assert.True(t, stderrors.Is(err, os.ErrClosed), "got %v", err)
					}
					return
				}
			}
		}(i%2 == 0)
	}
	close(start)
	require.NoError(t, r.Close())
	wg.Wait()
}
