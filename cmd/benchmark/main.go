// Command benchmark measures nebula-csv read throughput on generated data.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/nebula-csv/pkg/csv"
	"github.com/ajitpratap0/nebula-csv/pkg/errors"
	"github.com/ajitpratap0/nebula-csv/pkg/ingest"
	"github.com/ajitpratap0/nebula-csv/pkg/json"
	"github.com/ajitpratap0/nebula-csv/pkg/metrics"
	"github.com/ajitpratap0/nebula-csv/pkg/source"
	"github.com/ajitpratap0/nebula-csv/pkg/testutil"
)

var (
	rows       = flag.Int("rows", 1_000_000, "Rows of generated CSV")
	mode       = flag.String("mode", "batched", "Read mode (eager, batched, scan)")
	workerList = flag.String("workers", "1,"+strconv.Itoa(runtime.NumCPU()), "Comma-separated worker counts to compare")
	iterations = flag.Int("count", 3, "Number of iterations per worker count")
	batchSize  = flag.Int("batch-size", csv.DefaultBatchSize, "Rows per batch")
	mmap       = flag.Bool("mmap", false, "Memory-map the generated file")
	outputDir  = flag.String("output", "benchmark-results", "Output directory for results")
	report     = flag.Bool("report", true, "Write a JSON report")
)

// result is one benchmark iteration.
type result struct {
	Mode       string        `json:"mode"`
	Workers    int           `json:"workers"`
	Iteration  int           `json:"iteration"`
	Rows       int64         `json:"rows"`
	Bytes      int64         `json:"bytes"`
	Duration   time.Duration `json:"duration_ns"`
	RowsPerSec float64       `json:"rows_per_sec"`
	MBPerSec   float64       `json:"mb_per_sec"`
}

func main() {
	flag.Parse()

	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "benchmark failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	workers, err := parseWorkers(*workerList)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create output directory")
	}

	timestamp := time.Now().Format("20060102-150405")
	dataPath := filepath.Join(*outputDir, "bench-"+timestamp+".csv")
	if err := os.WriteFile(dataPath, []byte(testutil.GenerateCSV(*rows, 1)), 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to write benchmark data")
	}
	defer os.Remove(dataPath)
	info, err := os.Stat(dataPath)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to stat benchmark data")
	}

	fmt.Println("=== nebula-csv read benchmark ===")
	fmt.Printf("Timestamp: %s\n", timestamp)
	fmt.Printf("Rows: %d  Size: %.1f MB  Mode: %s\n\n", *rows, float64(info.Size())/(1<<20), *mode)

	var results []result
	for _, w := range workers {
		for i := 0; i < *iterations; i++ {
			r, err := runOnce(ctx, dataPath, w)
			if err != nil {
				return err
			}
			r.Iteration = i
			r.Bytes = info.Size()
			r.MBPerSec = float64(r.Bytes) / (1 << 20) / r.Duration.Seconds()
			results = append(results, r)
			fmt.Printf("  workers=%-3d iter=%d  %10.0f rows/sec  %7.1f MB/s  %v\n",
				w, i, r.RowsPerSec, r.MBPerSec, r.Duration.Round(time.Millisecond))
		}
	}

	if *report {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode report")
		}
		reportFile := filepath.Join(*outputDir, fmt.Sprintf("report_%s.json", timestamp))
		if err := os.WriteFile(reportFile, data, 0o644); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "failed to write report")
		}
		fmt.Printf("\nJSON report saved to: %s\n", reportFile)
	}
	return nil
}

func runOnce(ctx context.Context, path string, workers int) (result, error) {
	d := source.File(path)
	d.Mmap = *mmap
	opts := csv.ReadOptions{Workers: workers, BatchSize: *batchSize}
	tracker := metrics.NewThroughputTracker("benchmark")

	start := time.Now()
	var n int64
	switch *mode {
	case "eager":
		t, err := ingest.ReadSource(ctx, d, opts)
		if err != nil {
			return result{}, err
		}
		n = int64(t.Len())
		t.Release()
	case "batched":
		cur, err := ingest.OpenSource(ctx, d, opts)
		if err != nil {
			return result{}, err
		}
		for {
			b, err := cur.NextBatch(ctx, *batchSize)
			if err == io.EOF {
				break
			}
			if err != nil {
				cur.Close()
				return result{}, err
			}
			n += b.NumRows()
			b.Release()
		}
		if err := cur.Close(); err != nil {
			return result{}, err
		}
	case "scan":
		exec, err := ingest.Scan(path, opts).WithProjection("id", "score").WithPredicate("active = true").Execute(ctx)
		if err != nil {
			return result{}, err
		}
		t, err := exec.Collect(ctx)
		if err != nil {
			return result{}, err
		}
		n = int64(t.Len())
		t.Release()
	default:
		return result{}, errors.Newf(errors.ErrorTypeConfig, "unknown mode %q", *mode)
	}
	tracker.Increment(n)

	return result{
		Mode:       *mode,
		Workers:    workers,
		Rows:       n,
		Duration:   time.Since(start),
		RowsPerSec: tracker.GetAndReset(),
	}, nil
}

func parseWorkers(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			return nil, errors.Newf(errors.ErrorTypeConfig, "invalid worker count %q", part)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no worker counts given")
	}
	return out, nil
}
