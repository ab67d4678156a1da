package config

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ajitpratap0/nebula-csv/pkg/csv"
	"github.com/ajitpratap0/nebula-csv/pkg/errors"
	"github.com/ajitpratap0/nebula-csv/pkg/logger"
	"github.com/ajitpratap0/nebula-csv/pkg/observability"
)

// Config is the single configuration structure for nebula-csv reads. It is
// organized into sections that map onto csv.ReadOptions, the memory budget
// and the ambient logging, metrics and tracing setup.
type Config struct {
	// Read holds the CSV dialect and schema options
	Read csv.ReadOptions `yaml:"read" json:"read"`

	// Performance settings control throughput and resource usage
	Performance PerformanceConfig `yaml:"performance" json:"performance"`

	// Memory bounds how much data a read may hold at once
	Memory MemoryConfig `yaml:"memory" json:"memory"`

	// Observability settings for logging, metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// PerformanceConfig contains all performance-related settings.
type PerformanceConfig struct {
	// BatchSize is the default number of rows per batch
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// BatchBytes caps the raw bytes per batch (0 derives it from the memory budget)
	BatchBytes int `yaml:"batch_bytes" json:"batch_bytes"`
	// ChunkSize is the number of bytes pulled from the source per read
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// Workers defines the number of tokenizer workers (0 = one per CPU)
	Workers int `yaml:"workers" json:"workers"`
	// Mmap maps local files instead of reading them
	Mmap bool `yaml:"mmap" json:"mmap"`
}

// MemoryConfig bounds memory use. When neither field is set, reads are not
// byte-bounded beyond BatchSize.
type MemoryConfig struct {
	// BudgetMB is an absolute budget in megabytes
	BudgetMB int `yaml:"budget_mb" json:"budget_mb"`
	// BudgetFraction is a share of currently available memory (0.0-1.0)
	BudgetFraction float64 `yaml:"budget_fraction" json:"budget_fraction"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFormat selects json or console output
	LogFormat string `yaml:"log_format" json:"log_format"`
	// MetricsAddr serves Prometheus metrics when set (e.g. ":9090")
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// Tracing configures the OpenTelemetry stdout exporter
	Tracing observability.TracingConfig `yaml:"tracing" json:"tracing"`
}

// NewConfig returns a configuration with defaults that work well for most
// files: library read defaults, a single tokenizer worker and info logging.
func NewConfig() *Config {
	return &Config{
		Performance: PerformanceConfig{
			BatchSize: csv.DefaultBatchSize,
			ChunkSize: csv.DefaultChunkSize,
			Workers:   1,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
			Tracing:   observability.DefaultTracingConfig(),
		},
	}
}

// Validate validates the configuration for correctness.
func (c *Config) Validate() error {
	if c.Performance.BatchSize < 0 || c.Performance.BatchBytes < 0 || c.Performance.ChunkSize < 0 {
		return errors.New(errors.ErrorTypeConfig, "batch_size, batch_bytes and chunk_size cannot be negative")
	}
	if c.Performance.Workers < 0 {
		return errors.New(errors.ErrorTypeConfig, "workers cannot be negative")
	}
	if c.Memory.BudgetMB < 0 {
		return errors.New(errors.ErrorTypeConfig, "budget_mb cannot be negative")
	}
	if c.Memory.BudgetFraction < 0 || c.Memory.BudgetFraction > 1 {
		return errors.Newf(errors.ErrorTypeConfig, "budget_fraction %v must be within [0, 1]", c.Memory.BudgetFraction)
	}
	if r := c.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		return errors.Newf(errors.ErrorTypeConfig, "tracing sampling_rate %v must be within [0, 1]", r)
	}
	switch c.Observability.LogFormat {
	case "", "json", "console":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown log format %q", c.Observability.LogFormat)
	}
	return c.ReadOptions().Validate()
}

// GetWorkers returns the number of workers, ensuring it's at least 1
func (p *PerformanceConfig) GetWorkers() int {
	if p.Workers <= 0 {
		return runtime.NumCPU()
	}
	return p.Workers
}

// ReadOptions merges the performance and memory sections into the read
// options. Values set directly in Read win.
func (c *Config) ReadOptions() csv.ReadOptions {
	o := c.Read
	if o.BatchSize == 0 {
		o.BatchSize = c.Performance.BatchSize
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = c.Performance.ChunkSize
	}
	if o.Workers == 0 {
		o.Workers = c.Performance.GetWorkers()
	}
	if o.BatchBytes == 0 {
		o.BatchBytes = c.Performance.BatchBytes
	}
	if o.BatchBytes == 0 {
		if budget := c.Memory.BudgetBytes(); budget > 0 {
			o.BatchBytes = batchBytesFor(budget, o.Workers)
		}
	}
	return o.Defaults()
}

// batchBytesFor splits a budget across the batches a read can hold at once:
// the one being built, the one handed out, and two per worker in flight.
func batchBytesFor(budget uint64, workers int) int {
	if workers < 1 {
		workers = 1
	}
	n := budget / uint64(2*workers+2)
	const minBatchBytes = 64 * 1024
	if n < minBatchBytes {
		n = minBatchBytes
	}
	if n > uint64(int(^uint(0)>>1)) {
		return int(^uint(0) >> 1)
	}
	return int(n)
}

// BudgetBytes returns the configured memory budget in bytes, or 0 for none.
// A fraction is applied to the memory available right now.
func (m *MemoryConfig) BudgetBytes() uint64 {
	if m.BudgetMB > 0 {
		return uint64(m.BudgetMB) << 20
	}
	if m.BudgetFraction <= 0 {
		return 0
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Get().Warn("cannot read system memory; memory budget disabled")
		return 0
	}
	return uint64(float64(vm.Available) * m.BudgetFraction)
}

// LoggerConfig returns the logger settings of the observability section.
func (o *ObservabilityConfig) LoggerConfig() logger.Config {
	return logger.Config{Level: o.LogLevel, Encoding: o.LogFormat}
}
