package scan

import (
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-csv/pkg/csv"
	"github.com/ajitpratap0/nebula-csv/pkg/errors"
	"github.com/ajitpratap0/nebula-csv/pkg/logger"
	"github.com/ajitpratap0/nebula-csv/pkg/observability"
	"github.com/ajitpratap0/nebula-csv/pkg/source"
)

// ExecuteOption configures an execution.
type ExecuteOption func(*executeConfig)

type executeConfig struct {
	mem       memory.Allocator
	logger    *zap.Logger
	batchSize int
	source    []source.Option
}

// WithAllocator sets the arrow allocator for batches.
func WithAllocator(mem memory.Allocator) ExecuteOption {
	return func(c *executeConfig) { c.mem = mem }
}

// WithLogger sets the execution logger.
func WithLogger(l *zap.Logger) ExecuteOption {
	return func(c *executeConfig) { c.logger = l }
}

// WithBatchSize sets the rows pulled from the cursor per batch.
func WithBatchSize(n int) ExecuteOption {
	return func(c *executeConfig) { c.batchSize = n }
}

// WithSourceOptions passes options to source.Open.
func WithSourceOptions(opts ...source.Option) ExecuteOption {
	return func(c *executeConfig) { c.source = append(c.source, opts...) }
}

// Execution streams the batches of one scan. It is not safe for concurrent
// use except for Close.
type Execution struct {
	node   Node
	cur    *csv.Cursor
	pred   evaluator
	keep   []int
	schema *csv.Schema
	mem    memory.Allocator
	logger *zap.Logger

	batchSize int
	index     int
	rowsIn    int64
	rowsOut   int64
}

// Execute opens the source and a fresh cursor. The predicate is compiled
// against the inferred schema before any batch is read.
func (n Node) Execute(ctx context.Context, options ...ExecuteOption) (*Execution, error) {
	cfg := executeConfig{mem: memory.DefaultAllocator}
	for _, o := range options {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.WithContext(ctx).With(zap.String("component", "scan"))
	}
	log := cfg.logger.With(zap.String("source", n.Source.Name()))

	var exec *Execution
	err := observability.Trace(ctx, "scan.execute", func(ctx context.Context) error {
		var err error
		exec, err = n.execute(ctx, cfg, log)
		return err
	}, attribute.String("source", n.Source.String()), attribute.String("predicate", n.Predicate))
	return exec, err
}

func (n Node) execute(ctx context.Context, cfg executeConfig, log *zap.Logger) (*Execution, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	var predCols []string
	if n.Predicate != "" {
		predCols, _ = ParsePredicate(n.Predicate)
	}

	rc, err := source.Open(ctx, n.Source, append([]source.Option{source.WithLogger(log)}, cfg.source...)...)
	if err != nil {
		return nil, err
	}

	curOpts := []csv.Option{
		csv.WithLogger(log),
		csv.WithAllocator(cfg.mem),
		csv.WithName(n.Source.Name()),
	}
	if cols := n.readColumns(predCols); cols != nil {
		curOpts = append(curOpts, csv.WithProjection(cols...))
	}
	cur, err := csv.Open(ctx, rc, n.Options, curOpts...)
	if err != nil {
		return nil, err
	}

	e := &Execution{
		node:      n,
		cur:       cur,
		mem:       cfg.mem,
		logger:    log,
		batchSize: cfg.batchSize,
	}
	if err := e.plan(); err != nil {
		cur.Close()
		return nil, err
	}
	log.Debug("scan started", zap.String("plan", n.Explain()), zap.String("schema", e.schema.String()))
	return e, nil
}

// plan compiles the predicate and works out which cursor columns survive.
func (e *Execution) plan() error {
	read := e.cur.Schema()
	if e.node.Predicate != "" {
		pred, err := compilePredicate(e.node.Predicate, read)
		if err != nil {
			return err
		}
		e.pred = pred
	}

	if len(e.node.Projection) == 0 {
		e.schema = read
		e.keep = make([]int, read.Len())
		for i := range e.keep {
			e.keep[i] = i
		}
		return nil
	}
	schema, keep, err := read.Select(e.node.Projection)
	if err != nil {
		return err
	}
	e.schema, e.keep = schema, keep
	return nil
}

// Schema returns the output schema.
func (e *Execution) Schema() *csv.Schema { return e.schema }

// Next returns the next non-empty batch, or io.EOF. Batches are indexed from
// zero in output order; Offset is the source position of the underlying read.
func (e *Execution) Next(ctx context.Context) (*csv.RecordBatch, error) {
	var out *csv.RecordBatch
	var eof bool
	err := observability.TraceBatch(ctx, e.node.Source.Name(), e.index, func(ctx context.Context) (int, error) {
		for {
			b, err := e.cur.NextBatch(ctx, e.batchSize)
			if err == io.EOF {
				eof = true
				return 0, nil
			}
			if err != nil {
				return 0, err
			}
			rec, err := e.apply(b)
			b.Release()
			if err != nil {
				return 0, err
			}
			if rec.NumRows() == 0 {
				rec.Release()
				continue
			}
			out = &csv.RecordBatch{Record: rec, Index: e.index, Offset: b.Offset}
			return int(rec.NumRows()), nil
		}
	})
	if err != nil {
		return nil, err
	}
	if eof {
		e.logger.Debug("scan exhausted", zap.Int64("rows_in", e.rowsIn), zap.Int64("rows_out", e.rowsOut))
		return nil, io.EOF
	}
	e.index++
	return out, nil
}

func (e *Execution) apply(b *csv.RecordBatch) (arrow.Record, error) {
	e.rowsIn += b.NumRows()
	var rows []int
	if e.pred != nil {
		rows = selection(e.pred(b.Record))
		if len(rows) == int(b.NumRows()) {
			rows = nil
		}
	}
	rec, err := take(e.mem, e.schema.Arrow(), b.Record, e.keep, rows)
	if err != nil {
		return nil, err
	}
	e.rowsOut += rec.NumRows()
	return rec, nil
}

// Collect drains the execution into a table and closes it.
func (e *Execution) Collect(ctx context.Context) (*csv.Table, error) {
	var recs []arrow.Record
	release := func() {
		for _, r := range recs {
			r.Release()
		}
	}
	for {
		b, err := e.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			release()
			e.Close()
			return nil, err
		}
		recs = append(recs, b.Record)
	}
	if err := e.Close(); err != nil {
		release()
		return nil, err
	}
	t := csv.NewTable(e.schema, recs, e.cur.Stats())
	release()
	return t, nil
}

// WriteIPC streams every remaining batch to w in the Arrow IPC stream
// format and closes the execution. It returns the number of rows written.
func (e *Execution) WriteIPC(ctx context.Context, w io.Writer) (int64, error) {
	iw := ipc.NewWriter(w, ipc.WithSchema(e.schema.Arrow()), ipc.WithAllocator(e.mem))
	var rows int64
	for {
		b, err := e.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			iw.Close()
			e.Close()
			return rows, err
		}
		n := b.NumRows()
		err = iw.Write(b.Record)
		b.Release()
		if err != nil {
			e.Close()
			return rows, errors.Wrap(err, errors.ErrorTypeInternal, "failed to write ipc batch")
		}
		rows += n
	}
	if err := iw.Close(); err != nil {
		e.Close()
		return rows, errors.Wrap(err, errors.ErrorTypeInternal, "failed to finish ipc stream")
	}
	return rows, e.Close()
}

// State reports the underlying cursor state.
func (e *Execution) State() csv.State { return e.cur.State() }

// Close releases the cursor and its source. It is idempotent.
func (e *Execution) Close() error {
	return e.cur.Close()
}
