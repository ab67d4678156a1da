package compression

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
)

var algorithms = []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2, Deflate}

func TestRoundTrip(t *testing.T) {
	original := []byte(strings.Repeat("id,name,score\n1,\"a, b\",1.5\n", 500))

	for _, alg := range algorithms {
		for _, level := range []Level{Fastest, Default, Best} {
			compressed, err := Compress(original, alg, level)
			require.NoError(t, err, "%s/%d", alg, level)

			r, err := NewReader(bytes.NewReader(compressed), alg)
			require.NoError(t, err, "%s", alg)
			got, err := io.ReadAll(r)
			require.NoError(t, err, "%s", alg)
			require.NoError(t, r.Close())
			assert.Equal(t, original, got, "%s/%d", alg, level)
		}
	}
}

func TestDetect(t *testing.T) {
	data := []byte("a,b\n1,2\n")
	for _, alg := range []Algorithm{Gzip, Zstd, LZ4, Snappy, S2} {
		compressed, err := Compress(data, alg, Default)
		require.NoError(t, err)
		assert.Equal(t, alg, Detect(compressed), "%s", alg)
	}
	assert.Equal(t, None, Detect(data))
}

func TestDetectFromPath(t *testing.T) {
	tests := map[string]struct {
		alg   Algorithm
		inner string
	}{
		"data.csv.gz":      {Gzip, "data.csv"},
		"data.CSV.ZST":     {Zstd, "data.CSV"},
		"dir/x.csv.lz4":    {LZ4, "dir/x.csv"},
		"x.csv.snappy":     {Snappy, "x.csv"},
		"x.csv.s2":         {S2, "x.csv"},
		"x.csv":            {None, "x.csv"},
		"archive.tar":      {None, "archive.tar"},
		"x.csv.deflate":    {Deflate, "x.csv"},
	}
	for path, want := range tests {
		alg, inner := DetectFromPath(path)
		assert.Equal(t, want.alg, alg, path)
		assert.Equal(t, want.inner, inner, path)
	}
}

func TestParseAlgorithm(t *testing.T) {
	alg, err := ParseAlgorithm(" ZSTD ")
	require.NoError(t, err)
	assert.Equal(t, Zstd, alg)

	alg, err = ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, None, alg)

	_, err = ParseAlgorithm("brotli")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestCorruptStream(t *testing.T) {
	compressed, err := Compress([]byte(strings.Repeat("x", 4096)), Gzip, Default)
	require.NoError(t, err)
	compressed[len(compressed)/2] ^= 0xff
	compressed = compressed[:len(compressed)-4]

	r, err := NewReader(bytes.NewReader(compressed), Gzip)
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSourceUnavailable), "got %v", err)

	_, err = NewReader(bytes.NewReader([]byte("not gzip")), Gzip)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSourceUnavailable), "got %v", err)
}
