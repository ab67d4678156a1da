package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-csv/pkg/config"
	"github.com/ajitpratap0/nebula-csv/pkg/csv"
	"github.com/ajitpratap0/nebula-csv/pkg/errors"
	"github.com/ajitpratap0/nebula-csv/pkg/logger"
	"github.com/ajitpratap0/nebula-csv/pkg/observability"
	"github.com/ajitpratap0/nebula-csv/pkg/source"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, a := newRootCommand()
	err := root.ExecuteContext(ctx)
	if terr := a.teardown(context.Background()); err == nil {
		err = terr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to distinct process exit codes.
func exitCode(err error) int {
	switch errors.TypeOf(err) {
	case errors.ErrorTypeConfig, errors.ErrorTypeValidation:
		return 2
	case errors.ErrorTypeSourceUnavailable, errors.ErrorTypeArchiveMemberNotFound,
		errors.ErrorTypeArchiveMemberAmbiguous, errors.ErrorTypeArchiveCorrupt:
		return 3
	default:
		return 1
	}
}

// app carries the state shared by every subcommand of one invocation.
type app struct {
	v        *viper.Viper
	cfg      *config.Config
	log      *zap.Logger
	cleanups []func(context.Context) error
}

// newRootCommand builds the command tree. The caller runs teardown after
// Execute, whether or not the command failed.
func newRootCommand() (*cobra.Command, *app) {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "nebula-csv",
		Short: "nebula-csv - columnar CSV ingestion",
		Long: `nebula-csv reads delimited text into typed columnar batches.
It infers schemas, streams bounded batches, runs lazy filtered scans and reads
CSV members of zip archives from local disk, S3 or GCS.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (console, json)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flags.Bool("trace", false, "Export OpenTelemetry spans to stderr")
	addReadFlags(flags)

	a.v.SetEnvPrefix("NEBULA_CSV")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	_ = a.v.BindPFlags(flags)

	root.AddCommand(
		a.readCommand(),
		a.batchesCommand(),
		a.scanCommand(),
		a.schemaCommand(),
		a.archiveCommand(),
		versionCommand(),
	)
	return root, a
}

func addReadFlags(flags *pflag.FlagSet) {
	flags.String("delimiter", ",", "Field delimiter (single byte, \\t for tab)")
	flags.String("quote", `"`, "Quote character")
	flags.Bool("no-quote", false, "Disable quoting")
	flags.String("escape", "", "Escape character inside quoted fields")
	flags.Bool("no-header", false, "The first record is data, not column names")
	flags.Int("skip-rows", 0, "Records to skip before the header")
	flags.StringSlice("null", nil, "Tokens read as null (repeatable)")
	flags.StringSlice("dtype", nil, "Column type override as name=type (repeatable)")
	flags.StringSlice("columns", nil, "Column names replacing or supplying the header")
	flags.Int("infer-schema-length", 0, "Rows sampled for type inference (negative for all)")
	flags.Int("n-rows", 0, "Stop after this many data rows")
	flags.String("ragged", string(csv.RaggedError), "Ragged row policy (error, truncate, pad-null)")
	flags.String("parse-policy", string(csv.ParseStrict), "Type conversion failures (strict, lenient)")
	flags.String("encoding", csv.EncodingUTF8, "Input encoding (utf8, utf8-lossy or a WHATWG label)")
	flags.String("comment-prefix", "", "Skip records starting with this prefix")
	flags.Int("workers", 0, "Tokenizer workers (0 uses the configured default)")
	flags.Int("chunk-size", 0, "Bytes pulled from the source per read")
	flags.Int("batch-size", 0, "Rows per batch")
	flags.Int("batch-bytes", 0, "Raw bytes per batch")
	flags.Int("memory-budget-mb", 0, "Bound batch bytes by a memory budget")
	flags.Bool("mmap", false, "Memory-map local files")
}

// setup builds the configuration and installs logging, metrics and tracing.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.NewConfig()
	if path := a.v.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := applyFlags(a.v, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if err := logger.Init(cfg.Observability.LoggerConfig()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize logger")
	}
	a.log = logger.Get().With(zap.String("component", "cli"))
	a.cleanups = append(a.cleanups, func(context.Context) error {
		_ = logger.Sync()
		return nil
	})

	if cfg.Observability.Tracing.Enabled {
		shutdown, err := observability.Initialize(cfg.Observability.Tracing)
		if err != nil {
			return err
		}
		a.cleanups = append(a.cleanups, shutdown)
	}

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		a.serveMetrics(addr)
	}
	return nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.log.Info("starting metrics server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("metrics server failed", zap.Error(err))
		}
	}()
	a.cleanups = append(a.cleanups, srv.Shutdown)
}

// teardown runs cleanups in reverse order.
func (a *app) teardown(ctx context.Context) error {
	var first error
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	a.cleanups = nil
	return first
}

// applyFlags overlays explicitly set flags and NEBULA_CSV_* variables on cfg.
func applyFlags(v *viper.Viper, cfg *config.Config) error {
	o := &cfg.Read
	for key, dst := range map[string]*csv.Char{
		"delimiter": &o.Delimiter,
		"quote":     &o.Quote,
		"escape":    &o.Escape,
	} {
		if !v.IsSet(key) {
			continue
		}
		if err := dst.UnmarshalText([]byte(v.GetString(key))); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid --"+key)
		}
	}
	if v.IsSet("no-quote") {
		o.NoQuote = v.GetBool("no-quote")
	}
	if v.IsSet("no-header") {
		o.HasHeader = csv.Bool(!v.GetBool("no-header"))
	}
	if v.IsSet("null") {
		o.NullValues = v.GetStringSlice("null")
	}
	if v.IsSet("columns") {
		o.Columns = v.GetStringSlice("columns")
	}
	if v.IsSet("dtype") {
		dtypes, err := parseDtypes(v.GetStringSlice("dtype"))
		if err != nil {
			return err
		}
		o.Dtypes = dtypes
	}

	ints := map[string]*int{
		"skip-rows":           &o.SkipRows,
		"infer-schema-length": &o.InferSchemaLength,
		"n-rows":              &o.NRows,
		"workers":             &cfg.Performance.Workers,
		"chunk-size":          &cfg.Performance.ChunkSize,
		"batch-size":          &cfg.Performance.BatchSize,
		"batch-bytes":         &cfg.Performance.BatchBytes,
		"memory-budget-mb":    &cfg.Memory.BudgetMB,
	}
	for key, dst := range ints {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	strs := map[string]*string{
		"encoding":       &o.Encoding,
		"comment-prefix": &o.CommentPrefix,
		"log-level":      &cfg.Observability.LogLevel,
		"log-format":     &cfg.Observability.LogFormat,
		"metrics-addr":   &cfg.Observability.MetricsAddr,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	if v.IsSet("ragged") {
		policy, err := csv.ParseRaggedPolicy(v.GetString("ragged"))
		if err != nil {
			return err
		}
		o.Ragged = policy
	}
	if v.IsSet("parse-policy") {
		o.ParsePolicy = csv.ParsePolicy(v.GetString("parse-policy"))
	}
	if v.IsSet("mmap") {
		cfg.Performance.Mmap = v.GetBool("mmap")
	}
	if v.IsSet("trace") {
		cfg.Observability.Tracing.Enabled = v.GetBool("trace")
	}
	return nil
}

func parseDtypes(specs []string) (map[string]csv.DataType, error) {
	out := make(map[string]csv.DataType, len(specs))
	for _, s := range specs {
		name, typ, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			return nil, errors.Newf(errors.ErrorTypeConfig, "dtype %q is not name=type", s)
		}
		dt, err := csv.ParseDataType(typ)
		if err != nil {
			return nil, err
		}
		out[name] = dt
	}
	return out, nil
}

// descriptor parses a location and applies the configured mmap setting.
func (a *app) descriptor(path string) (source.Descriptor, error) {
	d, err := source.Parse(path)
	if err != nil {
		return d, err
	}
	if d.Kind == source.KindFile && !d.Archive {
		d.Mmap = a.cfg.Performance.Mmap
	}
	return d, nil
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "nebula-csv v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
