// Package testutil provides testing utilities for nebula-csv.
package testutil

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// WriteFile writes content to name inside a fresh temp dir and returns the path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// ZipMember is one entry of a test archive.
type ZipMember struct {
	Name    string
	Content string
	// Store disables compression.
	Store bool
	// Zstd compresses the member with zstd (method 93) instead of deflate.
	Zstd bool
}

// WriteZip builds a zip archive in a fresh temp dir and returns its path.
func WriteZip(t *testing.T, name string, members ...ZipMember) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
	for _, m := range members {
		method := zip.Deflate
		switch {
		case m.Store:
			method = zip.Store
		case m.Zstd:
			method = zstd.ZipMethodWinZip
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: m.Name, Method: method})
		if err != nil {
			t.Fatalf("add %s: %v", m.Name, err)
		}
		if _, err := w.Write([]byte(m.Content)); err != nil {
			t.Fatalf("write %s: %v", m.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return path
}

// GenerateCSV returns a deterministic CSV document with a header and rows
// of mixed types, including quoted fields with delimiters, doubled quotes and
// embedded newlines, so chunk boundaries land inside every construct.
func GenerateCSV(rows int, seed int64) string {
	r := rand.New(rand.NewSource(seed))
	words := []string{"alpha", "beta, gamma", "say \"\"hi\"\"", "multi\nline", "delta"}

	b := make([]byte, 0, rows*48)
	b = append(b, "id,name,score,active,note\n"...)
	for i := 0; i < rows; i++ {
		b = strconv.AppendInt(b, int64(i), 10)
		b = append(b, ",name_"...)
		b = strconv.AppendInt(b, int64(r.Intn(1000)), 10)
		b = append(b, ',')
		b = strconv.AppendFloat(b, r.Float64()*100, 'f', 3, 64)
		b = append(b, ',')
		b = strconv.AppendBool(b, r.Intn(2) == 0)
		b = append(b, ',')
		if r.Intn(4) != 0 {
			b = append(b, '"')
			b = append(b, words[r.Intn(len(words))]...)
			b = append(b, '"')
		}
		b = append(b, '\n')
	}
	return string(b)
}
