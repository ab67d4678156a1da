package csv

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
	"github.com/ajitpratap0/nebula-csv/pkg/logger"
	"github.com/ajitpratap0/nebula-csv/pkg/metrics"
	"github.com/ajitpratap0/nebula-csv/pkg/observability"
	"github.com/ajitpratap0/nebula-csv/pkg/pool"
)

// Status is the lifecycle position of a Cursor.
type Status int32

const (
	StatusActive Status = iota
	StatusExhausted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusExhausted:
		return "exhausted"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// State is a snapshot of a cursor's progress.
type State struct {
	// Offset is the number of source bytes consumed by the tokenizer.
	Offset      int64
	RowsEmitted int64
	BatchIndex  int
	// CarryLen is the number of bytes read but not yet parsed into complete
	// records: the tokenizer's carry when sequential, the dispatcher's
	// uncut tail when parallel.
	CarryLen int
	Status   Status

	RaggedRows        int64
	NullSubstitutions int64
}

// ErrClosed is returned by NextBatch after Close.
var ErrClosed = errors.New(errors.ErrorTypeSourceUnavailable, "cursor is closed")

// Option configures a Cursor.
type Option func(*cursorConfig)

type cursorConfig struct {
	projection []string
	logger     *zap.Logger
	mem        memory.Allocator
	name       string
}

// WithProjection materializes only the named columns, in the given order.
func WithProjection(names ...string) Option {
	return func(c *cursorConfig) {
		c.projection = append([]string(nil), names...)
	}
}

// WithLogger sets the cursor's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *cursorConfig) { c.logger = l }
}

// WithAllocator sets the arrow allocator used for batch columns.
func WithAllocator(mem memory.Allocator) Option {
	return func(c *cursorConfig) { c.mem = mem }
}

// WithName labels the cursor's logs and metrics.
func WithName(name string) Option {
	return func(c *cursorConfig) { c.name = name }
}

// Cursor is a pull-based, resumable reader producing RecordBatches. It owns
// its byte source. NextBatch is not reentrant; Close may be called at any
// time from any goroutine.
type Cursor struct {
	opts    ReadOptions
	name    string
	logger  *zap.Logger
	metrics *metrics.Collector

	src    io.Reader
	closer io.Closer
	tok    *Tokenizer
	nulls  *nullSet
	schema *Schema
	bb     *batchBuilder

	buf        []byte
	unparsed   []byte
	eof        bool
	drained    bool
	pending    *Rows
	pendingPos int
	par        *parallelReader

	dataRows int64
	stats    Stats

	offset      atomic.Int64
	rowsEmitted atomic.Int64
	batchIndex  atomic.Int64
	carryLen    atomic.Int64
	status      atomic.Int32
	err         error

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	closed      atomic.Bool
	closeOnce   sync.Once
	closeSrc    sync.Once
	closeSrcErr error
	closeErr    error
	released    bool
}

// Open reads the optional skipped rows, the header and the inference window
// from r, freezes the schema and returns a cursor positioned at the first
// data row. If r implements io.Closer the cursor owns it and closes it on
// exhaustion, failure or Close, including when Open itself fails.
func Open(ctx context.Context, r io.Reader, opts ReadOptions, options ...Option) (*Cursor, error) {
	cfg := cursorConfig{name: "csv"}
	for _, o := range options {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.WithContext(ctx).With(zap.String("component", "csv_cursor"))
	}
	if cfg.mem == nil {
		cfg.mem = memory.NewGoAllocator()
	}

	closer, _ := r.(io.Closer)
	opts = opts.Defaults()
	if err := opts.Validate(); err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}

	decoded, err := decodeReader(r, opts.Encoding)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}

	c := &Cursor{
		opts:    opts,
		name:    cfg.name,
		logger:  cfg.logger,
		metrics: metrics.NewCollector(cfg.name),
		src:     decoded,
		closer:  closer,
		tok:     NewTokenizer(opts),
		nulls:   newNullSet(opts.NullValues),
		buf:     pool.GlobalBufferPool.Get(opts.ChunkSize),
		pending: getRows(),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	ctx, span := observability.StartSpan(ctx, "csv.open", attribute.String("source", cfg.name))
	err = c.open(ctx, cfg)
	observability.EndSpan(span, err)
	if err != nil {
		c.metrics.RecordFailure(string(errors.TypeOf(err)))
		_ = c.Close()
		return nil, err
	}

	c.logger.Debug("cursor opened",
		zap.Stringer("schema", c.schema),
		zap.Int("window_rows", c.pending.Len()),
		zap.Int("workers", opts.Workers))
	return c, nil
}

func (c *Cursor) open(ctx context.Context, cfg cursorConfig) error {
	for i := 0; i < c.opts.SkipRows; i++ {
		if err := c.fill(ctx, 1); err != nil {
			return err
		}
		if c.available() == 0 {
			break
		}
		c.pendingPos++
	}

	var header []string
	if c.opts.Header() {
		if err := c.fill(ctx, 1); err != nil {
			return err
		}
		if c.available() > 0 {
			names, err := headerStrings(c.pending, c.pendingPos, lossyUTF8(c.opts.Encoding))
			if err != nil {
				return err
			}
			header = names
			c.pendingPos++
		} else {
			header = []string{}
		}
	}

	limit := c.opts.inferLimit()
	if len(c.opts.Schema) > 0 {
		limit = 0
	}
	if n := c.opts.NRows; n > 0 && (limit < 0 || limit > n) {
		limit = n
	}
	if limit != 0 {
		if err := c.fill(ctx, limit); err != nil {
			return err
		}
	}

	window := c.windowRows()
	width := 0
	if window.Len() > 0 {
		width = window.NumFields(0)
	}
	names, err := resolveNames(header, width, c.opts)
	if err != nil {
		return err
	}
	c.schema, err = inferSchema(names, window, c.opts, c.nulls, c.logger)
	if err != nil {
		return err
	}
	if err := validateWindow(c.schema, window, c.opts, c.nulls); err != nil {
		return err
	}

	var proj []int
	if cfg.projection != nil {
		if _, proj, err = c.schema.Select(cfg.projection); err != nil {
			return err
		}
	}
	c.bb, err = newBatchBuilder(cfg.mem, c.schema, proj, c.nulls, c.opts, &c.stats)
	return err
}

// windowRows compacts consumed records away and returns the pending rows.
func (c *Cursor) windowRows() *Rows {
	if c.pendingPos > 0 {
		rest := getRows()
		for i := c.pendingPos; i < c.pending.Len(); i++ {
			rest.appendRecord(&record{
				buf:    c.pending.buf[c.fieldStart(i):c.fieldEnd(i)],
				ends:   c.relativeEnds(i),
				quoted: c.pending.quoted[c.pending.firstField(i):c.pending.records[i]],
			}, c.pending.Line(i), c.pending.End(i))
		}
		putRows(c.pending)
		c.pending = rest
		c.pendingPos = 0
	}
	return c.pending
}

func (c *Cursor) fieldStart(i int) int {
	if f := c.pending.firstField(i); f > 0 {
		return c.pending.ends[f-1]
	}
	return 0
}

func (c *Cursor) fieldEnd(i int) int {
	if last := c.pending.records[i]; last > 0 {
		return c.pending.ends[last-1]
	}
	return 0
}

func (c *Cursor) relativeEnds(i int) []int {
	start := c.fieldStart(i)
	ends := c.pending.ends[c.pending.firstField(i):c.pending.records[i]]
	out := make([]int, len(ends))
	for k, e := range ends {
		out[k] = e - start
	}
	return out
}

func (c *Cursor) available() int {
	return c.pending.Len() - c.pendingPos
}

// fill tokenizes input until at least want records are pending (all input
// when want is negative) or the source is drained.
func (c *Cursor) fill(ctx context.Context, want int) error {
	if c.pendingPos > 0 && c.pendingPos == c.pending.Len() {
		c.pending.Reset()
		c.pendingPos = 0
	}
	for !c.drained && (want < 0 || c.available() < want) {
		if len(c.unparsed) > 0 {
			limit := 0
			if want > 0 {
				limit = want - c.available()
			}
			n, err := c.tok.Feed(c.unparsed, c.pending, limit)
			c.offset.Add(int64(n))
			c.unparsed = c.unparsed[n:]
			c.carryLen.Store(int64(len(c.tok.Carry())))
			if err != nil {
				return err
			}
			continue
		}
		if c.eof {
			c.drained = true
			if err := c.tok.Finish(c.pending); err != nil {
				return err
			}
			c.carryLen.Store(0)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.ctx.Err() != nil {
			return context.Canceled
		}
		if err := c.read(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cursor) read() error {
	n, err := c.src.Read(c.buf)
	c.unparsed = c.buf[:n]
	switch {
	case err == io.EOF:
		c.eof = true
	case err != nil:
		return sourceError(err)
	}
	return nil
}

// refill makes pending records available for the next batch.
func (c *Cursor) refill(ctx context.Context, want int) error {
	if !c.parallel() {
		return c.fill(ctx, want)
	}
	if c.par == nil {
		c.startParallel()
	}
	rows, n, err := c.par.next(ctx)
	if err == io.EOF {
		c.drained = true
		return nil
	}
	if err != nil {
		return err
	}
	putRows(c.pending)
	c.pending = rows
	c.pendingPos = 0
	c.offset.Add(n)
	return nil
}

// parallel reports whether chunks are tokenized by the worker pool. Comment
// lines may hold unbalanced quotes, which defeats boundary scanning, so
// inputs with a comment prefix are always read sequentially.
func (c *Cursor) parallel() bool {
	return c.opts.Workers > 1 && c.opts.CommentPrefix == ""
}

// startParallel hands the byte stream over to the worker pool. The pending
// partial record is re-fed from its first byte, which the carry holds exactly.
func (c *Cursor) startParallel() {
	carry := c.tok.Carry()
	seed := make([]byte, 0, len(carry)+len(c.unparsed))
	seed = append(seed, carry...)
	seed = append(seed, c.unparsed...)
	c.unparsed = nil

	c.par = newParallelReader(c.ctx, parallelConfig{
		src:     c.src,
		opts:    c.opts,
		seed:    seed,
		counted: int64(len(carry)),
		eof:     c.eof,
		origin:  c.tok.Offset() - int64(len(carry)),
		line:    c.tok.Line() - int64(bytes.Count(carry, []byte{'\n'})),
		tail:    &c.carryLen,
		logger:  c.logger,
	})
}

// NextBatch returns up to maxRows rows (opts.BatchSize when maxRows <= 0),
// further bounded by opts.BatchBytes. It returns io.EOF once the source is
// exhausted. After a failure every call returns the same error.
func (c *Cursor) NextBatch(ctx context.Context, maxRows int) (*RecordBatch, error) {
	if !c.mu.TryLock() {
		return nil, errors.New(errors.ErrorTypeConflict, "NextBatch called concurrently on the same cursor")
	}
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, ErrClosed
	}
	switch Status(c.status.Load()) {
	case StatusFailed:
		return nil, c.err
	case StatusExhausted:
		return nil, io.EOF
	}
	if maxRows <= 0 {
		maxRows = c.opts.BatchSize
	}

	ctx, span := observability.StartSpan(ctx, "csv.next_batch",
		attribute.String("source", c.name),
		attribute.Int64("batch_index", c.batchIndex.Load()))
	batch, err := c.nextBatch(ctx, maxRows)
	if err != nil && err != io.EOF {
		observability.EndSpan(span, err)
	} else {
		observability.EndSpan(span, nil)
	}
	return batch, err
}

func (c *Cursor) nextBatch(ctx context.Context, maxRows int) (*RecordBatch, error) {
	timer := metrics.NewTimer("next_batch")
	startOffset := c.offset.Load()
	limited := false
	var lastEnd int64

	for c.bb.rows < maxRows {
		if c.opts.BatchBytes > 0 && c.bb.rows > 0 && c.bb.bytes >= c.opts.BatchBytes {
			break
		}
		if c.opts.NRows > 0 && c.dataRows >= int64(c.opts.NRows) {
			limited = true
			break
		}
		if c.available() == 0 {
			if c.drained {
				break
			}
			if err := c.refill(ctx, maxRows-c.bb.rows); err != nil {
				c.bb.discard()
				return nil, c.fail(err)
			}
			continue
		}
		if err := c.bb.appendRecord(c.pending, c.pendingPos); err != nil {
			c.bb.discard()
			return nil, c.fail(err)
		}
		lastEnd = c.pending.End(c.pendingPos)
		c.pendingPos++
		c.dataRows++
	}

	done := limited || (c.drained && c.available() == 0)
	if c.bb.rows == 0 {
		c.finish(StatusExhausted)
		return nil, io.EOF
	}

	rows := c.bb.rows
	batch := &RecordBatch{
		Record: c.bb.newRecord(),
		Index:  int(c.batchIndex.Add(1) - 1),
		Offset: lastEnd,
	}
	c.rowsEmitted.Add(int64(rows))
	c.metrics.ObserveBatch(rows, c.offset.Load()-startOffset, timer.Stop())

	if done {
		c.finish(StatusExhausted)
	}
	return batch, nil
}

// fail records err as the sticky cursor error and releases resources.
func (c *Cursor) fail(err error) error {
	if c.closed.Load() {
		err = ErrClosed
	}
	c.err = err
	c.metrics.RecordFailure(string(errors.TypeOf(err)))
	c.logger.Warn("cursor failed", zap.Error(err), zap.Int64("offset", c.offset.Load()))
	c.finish(StatusFailed)
	return err
}

// finish moves the cursor to a terminal status and releases the source and
// buffers. The caller holds c.mu.
func (c *Cursor) finish(status Status) {
	if Status(c.status.Load()) != StatusActive {
		return
	}
	c.status.Store(int32(status))
	c.cancel()
	// Workers may still be reading the source until release stops them.
	c.release()
	_ = c.closeSource()

	s := c.stats.snapshot()
	c.metrics.RecordSubstitutions(s.RaggedRows, s.NullSubstitutions)
	c.logger.Debug("cursor finished",
		zap.Stringer("status", status),
		zap.Int64("rows", c.rowsEmitted.Load()),
		zap.Int64("bytes", c.offset.Load()),
		zap.Int64("ragged_rows", s.RaggedRows),
		zap.Int64("null_substitutions", s.NullSubstitutions))
}

func (c *Cursor) closeSource() error {
	c.closeSrc.Do(func() {
		if c.closer != nil {
			c.closeSrcErr = c.closer.Close()
		}
	})
	return c.closeSrcErr
}

// release returns pooled buffers and stops workers. The caller holds c.mu.
func (c *Cursor) release() error {
	if c.released {
		return nil
	}
	c.released = true

	var err error
	if c.par != nil {
		err = c.par.stop()
	}
	if c.buf != nil {
		pool.GlobalBufferPool.Put(c.buf)
		c.buf, c.unparsed = nil, nil
	}
	if c.pending != nil {
		putRows(c.pending)
		c.pending = &Rows{}
		c.pendingPos = 0
	}
	if c.bb != nil {
		c.bb.release()
	}
	return err
}

// closeGrace is how long Close waits for an in-flight NextBatch to stop on
// its own before closing the source underneath it.
const closeGrace = 100 * time.Millisecond

// Close releases the source, the worker pool and all buffers. It is
// idempotent and safe to call concurrently with NextBatch, which it
// interrupts. An in-flight call stops at its next source read; one blocked
// inside a read is unblocked by closing the source after closeGrace, so
// sources must tolerate Close during a blocked Read.
func (c *Cursor) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()

		if !c.mu.TryLock() {
			locked := make(chan struct{})
			go func() {
				c.mu.Lock()
				close(locked)
			}()
			timer := time.NewTimer(closeGrace)
			select {
			case <-locked:
			case <-timer.C:
				c.logger.Debug("interrupting blocked source read")
				_ = c.closeSource()
				<-locked
			}
			timer.Stop()
		}

		var result *multierror.Error
		if err := c.release(); err != nil && err != context.Canceled {
			result = multierror.Append(result, err)
		}
		if err := c.closeSource(); err != nil {
			result = multierror.Append(result, closeError(err))
		}
		c.mu.Unlock()

		c.closeErr = result.ErrorOrNil()
	})
	return c.closeErr
}

// Schema returns the schema of produced batches (the projection, if any).
func (c *Cursor) Schema() *Schema { return c.bb.out }

// FullSchema returns the schema of every column in the source.
func (c *Cursor) FullSchema() *Schema { return c.schema }

// Err returns the error that failed the cursor, if any.
func (c *Cursor) Err() error {
	if Status(c.status.Load()) != StatusFailed {
		return nil
	}
	return c.err
}

// State returns a snapshot of the cursor's progress. It never blocks on an
// in-flight NextBatch.
func (c *Cursor) State() State {
	s := c.stats.snapshot()
	return State{
		Offset:            c.offset.Load(),
		RowsEmitted:       c.rowsEmitted.Load(),
		BatchIndex:        int(c.batchIndex.Load()),
		CarryLen:          int(c.carryLen.Load()),
		Status:            Status(c.status.Load()),
		RaggedRows:        s.RaggedRows,
		NullSubstitutions: s.NullSubstitutions,
	}
}

// Stats returns the lenient-policy substitution counts so far.
func (c *Cursor) Stats() Stats { return c.stats.snapshot() }

// sourceError labels a read failure. Errors that already carry a kind, such
// as archive_corrupt from a member reader, pass through unchanged.
func sourceError(err error) error {
	if errors.TypeOf(err) != "" {
		return err
	}
	return errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to read source")
}

func closeError(err error) error {
	if errors.TypeOf(err) != "" {
		return err
	}
	return errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to close source")
}

var rowsPool = pool.New(
	func() *Rows { return &Rows{} },
	func(r *Rows) { r.Reset() },
)

func getRows() *Rows  { return rowsPool.Get() }
func putRows(r *Rows) { rowsPool.Put(r) }
