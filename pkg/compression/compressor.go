// Package compression provides streaming decompression for compressed CSV
// byte sources, plus the matching writers used to produce such files.
//
// # Overview
//
// The compression package provides:
//   - Multiple algorithms (Gzip, Snappy, LZ4, Zstd, S2, Deflate)
//   - Detection by file extension or by magic bytes
//   - Streaming readers that never hold a whole file in memory
//   - Writers with configurable levels (Fastest, Default, Better, Best)
//
// # Basic Usage
//
//	alg, _ := compression.DetectFromPath("orders.csv.zst")
//	r, err := compression.NewReader(file, alg)
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//
// # Performance Characteristics
//
// Speed (fastest to slowest): LZ4 > Snappy/S2 > Zstd > Gzip/Deflate
// Compression ratio (best to worst): Zstd > Gzip/Deflate > Snappy/S2 > LZ4
package compression

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents framed snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
	// Deflate represents raw deflate compression
	Deflate Algorithm = "deflate"
)

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

var extensions = map[string]Algorithm{
	".gz":      Gzip,
	".gzip":    Gzip,
	".sz":      Snappy,
	".snappy":  Snappy,
	".lz4":     LZ4,
	".zst":     Zstd,
	".zstd":    Zstd,
	".s2":      S2,
	".deflate": Deflate,
}

// ParseAlgorithm parses an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case "", None:
		return None, nil
	case Gzip, Snappy, LZ4, Zstd, S2, Deflate:
		return a, nil
	}
	return None, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", s)
}

// DetectFromPath returns the algorithm implied by the file extension and the
// path with that extension removed.
func DetectFromPath(path string) (Algorithm, string) {
	ext := strings.ToLower(filepath.Ext(path))
	if alg, ok := extensions[ext]; ok {
		return alg, path[:len(path)-len(ext)]
	}
	return None, path
}

var magics = []struct {
	prefix []byte
	alg    Algorithm
}{
	{[]byte{0x1f, 0x8b}, Gzip},
	{[]byte{0x28, 0xb5, 0x2f, 0xfd}, Zstd},
	{[]byte{0x04, 0x22, 0x4d, 0x18}, LZ4},
	{[]byte("\xff\x06\x00\x00sNaPpY"), Snappy},
	{[]byte("\xff\x06\x00\x00S2sTwO"), S2},
}

// Detect identifies a compressed stream by its leading bytes. Raw deflate
// has no magic and is never detected.
func Detect(header []byte) Algorithm {
	for _, m := range magics {
		if bytes.HasPrefix(header, m.prefix) {
			return m.alg
		}
	}
	return None
}

// NewReader returns a streaming decompressor over r. Closing it releases
// decoder resources but does not close r. Errors from the compressed stream
// are reported as source_unavailable.
func NewReader(r io.Reader, alg Algorithm) (io.ReadCloser, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	switch alg {
	case None, "":
		return io.NopCloser(r), nil
	case Gzip:
		rc, err = gzip.NewReader(r)
	case Snappy:
		rc = io.NopCloser(snappy.NewReader(r))
	case LZ4:
		rc = io.NopCloser(lz4.NewReader(r))
	case Zstd:
		var d *zstd.Decoder
		d, err = zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err == nil {
			rc = d.IOReadCloser()
		}
	case S2:
		rc = io.NopCloser(s2.NewReader(r))
	case Deflate:
		rc = flate.NewReader(r)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", alg)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to open compressed stream").
			WithDetail("algorithm", string(alg))
	}
	return &decompressReader{rc: rc, alg: alg}, nil
}

type decompressReader struct {
	rc  io.ReadCloser
	alg Algorithm
}

func (d *decompressReader) Read(p []byte) (int, error) {
	n, err := d.rc.Read(p)
	if err != nil && err != io.EOF {
		err = errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "decompression failed").
			WithDetail("algorithm", string(d.alg))
	}
	return n, err
}

func (d *decompressReader) Close() error { return d.rc.Close() }

// NewWriter returns a compressing writer. Close flushes the stream but does
// not close w.
func NewWriter(w io.Writer, alg Algorithm, level Level) (io.WriteCloser, error) {
	switch alg {
	case None, "":
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriterLevel(w, mapGzipLevel(level))
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case LZ4:
		zw := lz4.NewWriter(w)
		if err := zw.Apply(lz4.CompressionLevelOption(mapLZ4Level(level))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid lz4 level")
		}
		return zw, nil
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(mapZstdLevel(level)))
	case S2:
		opts := []s2.WriterOption{s2.WriterConcurrency(1)}
		if level >= Better {
			opts = append(opts, s2.WriterBetterCompression())
		}
		return s2.NewWriter(w, opts...), nil
	case Deflate:
		return flate.NewWriter(w, mapDeflateLevel(level))
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", alg)
}

// Compress compresses data in memory.
func Compress(data []byte, alg Algorithm, level Level) ([]byte, error) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, alg, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func mapDeflateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}
