package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/ajitpratap0/nebula-csv/pkg/csv"
	"github.com/ajitpratap0/nebula-csv/pkg/ingest"
)

func main() {
	// Command-line flags
	var (
		file         = flag.String("file", "", "CSV location to read (path, s3://, gs:// or ARCHIVE.zip#member)")
		workers      = flag.Int("workers", runtime.NumCPU(), "Tokenizer workers")
		duration     = flag.Duration("duration", 30*time.Second, "Maximum profiling duration")
		outputDir    = flag.String("output", "./profiles", "Output directory for profiles")
		profileTypes = flag.String("types", "cpu,memory", "Profile types (cpu,memory,block,mutex,goroutine,all)")
		cpuFile      = flag.String("cpuprofile", "", "Write CPU profile to file")
		memFile      = flag.String("memprofile", "", "Write memory profile to file")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -file PATH [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -file big.csv -types cpu\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -file big.csv.zst -workers 8 -cpuprofile cpu.prof -memprofile mem.prof\n", os.Args[0])
	}

	flag.Parse()
	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	types := parseProfileTypes(*profileTypes)

	fmt.Printf("Profiling read of %s\n", *file)
	fmt.Printf("Workers: %d  Profile types: %s  Output: %s\n", *workers, *profileTypes, *outputDir)

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	if contains(types, "block") {
		runtime.SetBlockProfileRate(1)
	}
	if contains(types, "mutex") {
		runtime.SetMutexProfileFraction(1)
	}

	if *cpuFile != "" || contains(types, "cpu") {
		cpuProfileFile := *cpuFile
		if cpuProfileFile == "" {
			cpuProfileFile = fmt.Sprintf("%s/cpu.prof", *outputDir)
		}

		f, err := os.Create(cpuProfileFile)
		if err != nil {
			log.Fatalf("Failed to create CPU profile: %v", err)
		}
		defer f.Close()

		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("Failed to start CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()

		fmt.Printf("CPU profiling enabled, writing to: %s\n", cpuProfileFile)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	rows, err := readAll(ctx, *file, *workers)
	if err != nil {
		log.Printf("Read stopped: %v", err)
	}
	fmt.Printf("Read %d rows in %v\n", rows, time.Since(start).Round(time.Millisecond))

	if *memFile != "" || contains(types, "memory") {
		memProfileFile := *memFile
		if memProfileFile == "" {
			memProfileFile = fmt.Sprintf("%s/mem.prof", *outputDir)
		}

		f, err := os.Create(memProfileFile)
		if err != nil {
			log.Fatalf("Failed to create memory profile: %v", err)
		}
		defer f.Close()

		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatalf("Failed to write memory profile: %v", err)
		}

		fmt.Printf("Memory profile written to: %s\n", memProfileFile)
	}

	for _, profileType := range types {
		switch profileType {
		case "block", "mutex", "goroutine":
			writeProfile(profileType, fmt.Sprintf("%s/%s.prof", *outputDir, profileType))
		}
	}

	fmt.Printf("Profiling completed successfully\n")
}

// readAll streams the file through a cursor and counts rows.
func readAll(ctx context.Context, path string, workers int) (int64, error) {
	cur, err := ingest.OpenBatched(ctx, path, csv.ReadOptions{Workers: workers})
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	var rows int64
	for {
		b, err := cur.NextBatch(ctx, 0)
		if err == io.EOF {
			return rows, cur.Close()
		}
		if err != nil {
			return rows, err
		}
		rows += b.NumRows()
		b.Release()
	}
}

// writeProfile writes a specific profile type to file
func writeProfile(profileName, filename string) {
	profile := pprof.Lookup(profileName)
	if profile == nil {
		fmt.Printf("Profile %s not found\n", profileName)
		return
	}

	f, err := os.Create(filename)
	if err != nil {
		log.Printf("Failed to create %s profile: %v", profileName, err)
		return
	}
	defer f.Close()

	if err := profile.WriteTo(f, 0); err != nil {
		log.Printf("Failed to write %s profile: %v", profileName, err)
		return
	}

	fmt.Printf("%s profile written to: %s\n", profileName, filename)
}

// parseProfileTypes parses the profile types string
func parseProfileTypes(typesStr string) []string {
	if typesStr == "all" {
		return []string{"cpu", "memory", "block", "mutex", "goroutine"}
	}

	parts := strings.Split(typesStr, ",")
	types := make([]string, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch part {
		case "cpu", "memory", "mem", "block", "mutex", "goroutine":
			if part == "mem" {
				part = "memory"
			}
			types = append(types, part)
		}
	}

	return types
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
