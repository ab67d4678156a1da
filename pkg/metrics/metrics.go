// Package metrics provides ingestion metrics for nebula-csv using Prometheus.
//
// # Overview
//
// The metrics package provides:
//   - Pre-defined counters for rows, bytes and batches read per source
//   - Counters for lenient-policy substitutions and read failures
//   - A batch latency histogram
//   - A per-cursor Collector that records all of the above
//
// # Basic Usage
//
//	collector := metrics.NewCollector("orders.csv")
//	timer := metrics.NewTimer("next_batch")
//	batch := readBatch()
//	collector.ObserveBatch(batch.Len(), bytesConsumed, timer.Stop())
//
// All metrics register with the default Prometheus registry and are exposed
// by the CLI's --metrics-addr endpoint.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsRead counts data rows emitted in batches.
	// Labels: source
	RowsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_csv_rows_read_total",
			Help: "Total number of CSV data rows emitted",
		},
		[]string{"source"},
	)

	// BytesRead counts source bytes consumed by the tokenizer.
	// Labels: source
	BytesRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_csv_bytes_read_total",
			Help: "Total number of source bytes tokenized",
		},
		[]string{"source"},
	)

	// BatchesEmitted counts record batches returned by cursors.
	// Labels: source
	BatchesEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_csv_batches_total",
			Help: "Total number of record batches emitted",
		},
		[]string{"source"},
	)

	// RaggedRows counts records reshaped by the truncate or pad-null policy.
	// Labels: source
	RaggedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_csv_ragged_rows_total",
			Help: "Records whose field count was adjusted to the schema width",
		},
		[]string{"source"},
	)

	// NullSubstitutions counts unparseable values replaced by null under the
	// lenient parse policy.
	// Labels: source
	NullSubstitutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_csv_null_substitutions_total",
			Help: "Values replaced by null because they failed their column type",
		},
		[]string{"source"},
	)

	// ReadFailures counts cursors that failed.
	// Labels: source, kind (the error type)
	ReadFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_csv_read_failures_total",
			Help: "Total number of failed reads by error kind",
		},
		[]string{"source", "kind"},
	)

	// BatchLatency tracks the time to produce one batch in nanoseconds.
	// Labels: source
	BatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "nebula_csv_batch_latency_nanoseconds",
			Help: "Time to produce one record batch in nanoseconds",
			Buckets: []float64{
				1e4, // 10μs - tiny batches from a warm buffer
				1e5, // 100μs
				1e6, // 1ms
				1e7, // 10ms - typical 64K-row batch
				1e8, // 100ms
				1e9, // 1s - remote sources
			},
		},
		[]string{"source"},
	)

	// Throughput tracks rows per second of the most recent batch.
	// Labels: source
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nebula_csv_throughput_rows_per_second",
			Help: "Rows per second of the most recent batch",
		},
		[]string{"source"},
	)
)

// Collector records the metrics of one cursor. Label lookups are resolved
// once at creation. It is safe for concurrent use.
type Collector struct {
	name      string
	rows      prometheus.Counter
	bytes     prometheus.Counter
	batches   prometheus.Counter
	ragged    prometheus.Counter
	nulls     prometheus.Counter
	latency   prometheus.Observer
	rate      prometheus.Gauge
	startTime time.Time

	mu       sync.Mutex
	failures map[string]prometheus.Counter
}

// NewCollector creates a collector labelled with the source name.
//
// Example:
//
//	collector := metrics.NewCollector("s3://bucket/orders.csv")
//	collector.ObserveBatch(rows, bytes, elapsed)
func NewCollector(name string) *Collector {
	return &Collector{
		name:      name,
		rows:      RowsRead.WithLabelValues(name),
		bytes:     BytesRead.WithLabelValues(name),
		batches:   BatchesEmitted.WithLabelValues(name),
		ragged:    RaggedRows.WithLabelValues(name),
		nulls:     NullSubstitutions.WithLabelValues(name),
		latency:   BatchLatency.WithLabelValues(name),
		rate:      Throughput.WithLabelValues(name),
		startTime: time.Now(),
		failures:  make(map[string]prometheus.Counter),
	}
}

// Name returns the source label.
func (c *Collector) Name() string { return c.name }

// StartTime returns when the collector was created.
func (c *Collector) StartTime() time.Time { return c.startTime }

// ObserveBatch records one emitted batch.
func (c *Collector) ObserveBatch(rows int, bytes int64, d time.Duration) {
	c.rows.Add(float64(rows))
	if bytes > 0 {
		c.bytes.Add(float64(bytes))
	}
	c.batches.Inc()
	c.latency.Observe(float64(d.Nanoseconds()))
	if secs := d.Seconds(); secs > 0 {
		c.rate.Set(float64(rows) / secs)
	}
}

// RecordSubstitutions adds lenient-policy substitution counts.
func (c *Collector) RecordSubstitutions(ragged, nulls int64) {
	if ragged > 0 {
		c.ragged.Add(float64(ragged))
	}
	if nulls > 0 {
		c.nulls.Add(float64(nulls))
	}
}

// RecordFailure counts a failed read of the given error kind.
func (c *Collector) RecordFailure(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	c.mu.Lock()
	counter, ok := c.failures[kind]
	if !ok {
		counter = ReadFailures.WithLabelValues(c.name, kind)
		c.failures[kind] = counter
	}
	c.mu.Unlock()
	counter.Inc()
}

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer's name.
func (t *Timer) Name() string { return t.name }

// Stop returns the elapsed duration since creation. It may be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks rows per second over a window that the caller
// resets. Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
	source    string
}

// NewThroughputTracker creates a tracker that reports into Throughput under
// the given source label.
func NewThroughputTracker(source string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		source:    source,
	}
}

// Increment adds n to the row count.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates rows per second since the last reset, updates the
// Prometheus gauge and starts a new window.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}
	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()
	Throughput.WithLabelValues(t.source).Set(throughput)
	return throughput
}
