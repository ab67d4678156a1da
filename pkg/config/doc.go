// Package config provides file-based configuration for nebula-csv reads.
//
// A single Config structure covers every read: the CSV dialect and schema
// options, performance knobs, a memory budget and the logging, metrics and
// tracing setup used by the command line tool.
//
// # Usage
//
//	cfg, err := config.LoadConfig("nebula-csv.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	table, err := ingest.Read(ctx, "orders.csv", cfg.ReadOptions())
//
// ## Environment Variable Substitution
//
//	# nebula-csv.yaml
//	read:
//	  delimiter: ";"
//	  null_values: ["NA", "${EXTRA_NULL:-}"]
//	memory:
//	  budget_fraction: 0.25
//	observability:
//	  log_level: ${LOG_LEVEL:-info}
//
// # Configuration Structure
//
//	type Config struct {
//		Read          csv.ReadOptions     `yaml:"read"`
//		Performance   PerformanceConfig   `yaml:"performance"`
//		Memory        MemoryConfig        `yaml:"memory"`
//		Observability ObservabilityConfig `yaml:"observability"`
//	}
//
// ReadOptions merges the sections: explicit read values win, performance
// values fill the gaps, and a memory budget bounds BatchBytes when neither
// sets it.
package config
