package csv

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ajitpratap0/nebula-csv/pkg/pool"
)

type parallelConfig struct {
	src  io.Reader
	opts ReadOptions
	// seed is input already pulled from src but not yet tokenized.
	seed []byte
	// counted is the length of the seed prefix already included in the
	// cursor offset.
	counted int64
	eof     bool
	origin  int64
	line    int64
	// tail receives the length of input read but not yet cut into a block.
	tail   *atomic.Int64
	logger *zap.Logger
}

type block struct {
	index  int
	data   []byte
	origin int64
	line   int64
}

type blockResult struct {
	index int
	rows  *Rows
	bytes int64
	err   error
	eof   bool
}

// parallelReader cuts the byte stream into blocks at record boundaries,
// tokenizes blocks on a bounded set of workers and hands the results back in
// input order.
type parallelReader struct {
	cfg      parallelConfig
	ctx      context.Context
	cancel   context.CancelFunc
	g        *errgroup.Group
	inFlight *semaphore.Weighted
	results  chan blockResult

	pending   map[int]blockResult
	nextIndex int
	done      bool
}

func newParallelReader(parent context.Context, cfg parallelConfig) *parallelReader {
	ctx, cancel := context.WithCancel(parent)
	workers := cfg.opts.Workers
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers + 1)

	p := &parallelReader{
		cfg:      cfg,
		ctx:      gctx,
		cancel:   cancel,
		g:        g,
		inFlight: semaphore.NewWeighted(int64(2 * workers)),
		results:  make(chan blockResult, 2*workers+1),
		pending:  make(map[int]blockResult),
	}
	g.Go(p.dispatch)
	cfg.logger.Debug("parallel tokenization started", zap.Int("workers", workers))
	return p
}

// dispatch reads the source, cuts blocks and starts a worker per block.
func (p *parallelReader) dispatch() error {
	opts := p.cfg.opts
	scan := newBoundaryScanner(opts)
	buf := append(pool.GlobalBufferPool.Get(opts.ChunkSize)[:0], p.cfg.seed...)
	scanned := 0
	eof := p.cfg.eof
	origin, line := p.cfg.origin, p.cfg.line
	index := 0

	send := func(r blockResult) bool {
		select {
		case p.results <- r:
			return true
		case <-p.ctx.Done():
			return false
		}
	}
	emit := func(data []byte) bool {
		if err := p.inFlight.Acquire(p.ctx, 1); err != nil {
			pool.GlobalBufferPool.Put(data)
			return false
		}
		b := block{index: index, data: data, origin: origin, line: line}
		index++
		origin += int64(len(data))
		line += int64(bytes.Count(data, []byte{'\n'}))
		p.g.Go(func() error {
			r := p.tokenize(b)
			if !send(r) && r.rows != nil {
				putRows(r.rows)
			}
			return nil
		})
		return true
	}

	// need is the buffer length to reach before scanning for a boundary.
	need := opts.ChunkSize
	for {
		if !eof && len(buf) < need {
			if p.ctx.Err() != nil {
				pool.GlobalBufferPool.Put(buf)
				return nil
			}
			if len(buf) == cap(buf) {
				grown := pool.GlobalBufferPool.Get(2 * cap(buf))[:len(buf)]
				copy(grown, buf)
				pool.GlobalBufferPool.Put(buf)
				buf = grown
			}
			n, err := p.cfg.src.Read(buf[len(buf):cap(buf)])
			buf = buf[:len(buf)+n]
			p.cfg.tail.Store(int64(len(buf)))
			switch {
			case err == io.EOF:
				eof = true
			case err != nil:
				pool.GlobalBufferPool.Put(buf)
				send(blockResult{index: index, err: sourceError(err)})
				return nil
			}
			continue
		}

		if eof {
			p.cfg.tail.Store(0)
			if len(buf) > 0 {
				if !emit(buf) {
					return nil
				}
			} else {
				pool.GlobalBufferPool.Put(buf)
			}
			send(blockResult{index: index, eof: true})
			return nil
		}

		cut := scan.lastBoundary(buf, scanned)
		scanned = len(buf)
		if cut <= 0 {
			// No complete record yet; read at least one more byte.
			need = len(buf) + 1
			continue
		}
		need = opts.ChunkSize

		rest := pool.GlobalBufferPool.Get(opts.ChunkSize)[:0]
		rest = append(rest, buf[cut:]...)
		scanned -= cut
		if !emit(buf[:cut]) {
			pool.GlobalBufferPool.Put(rest)
			return nil
		}
		buf = rest
		p.cfg.tail.Store(int64(len(buf)))
	}
}

// tokenize runs on a worker. Every block except the last ends with a record
// terminator, so Finish only ever flushes the final record of the input.
func (p *parallelReader) tokenize(b block) blockResult {
	defer pool.GlobalBufferPool.Put(b.data)

	tok := NewTokenizer(p.cfg.opts)
	tok.SetOrigin(b.origin, b.line)
	rows := getRows()
	r := blockResult{index: b.index, rows: rows, bytes: int64(len(b.data))}
	if b.index == 0 {
		r.bytes -= p.cfg.counted
	}
	if _, err := tok.Feed(b.data, rows, 0); err != nil {
		r.err = err
		return r
	}
	if err := tok.Finish(rows); err != nil {
		r.err = err
	}
	return r
}

// next returns the rows of the next block in input order and the number of
// new source bytes they cover. It returns io.EOF after the last block.
func (p *parallelReader) next(ctx context.Context) (*Rows, int64, error) {
	if p.done {
		return nil, 0, io.EOF
	}
	for {
		if r, ok := p.pending[p.nextIndex]; ok {
			delete(p.pending, p.nextIndex)
			if r.eof {
				p.done = true
				return nil, 0, io.EOF
			}
			p.nextIndex++
			if r.rows != nil {
				p.inFlight.Release(1)
			}
			if r.err != nil {
				if r.rows != nil {
					putRows(r.rows)
				}
				p.done = true
				return nil, 0, r.err
			}
			return r.rows, r.bytes, nil
		}
		select {
		case r := <-p.results:
			p.pending[r.index] = r
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-p.ctx.Done():
			return nil, 0, context.Canceled
		}
	}
}

// stop cancels the dispatcher and workers, waits for them and returns any
// rows that were never consumed to the pool.
func (p *parallelReader) stop() error {
	p.cancel()
	err := p.g.Wait()
	for {
		select {
		case r := <-p.results:
			if r.rows != nil {
				putRows(r.rows)
			}
		default:
			for _, r := range p.pending {
				if r.rows != nil {
					putRows(r.rows)
				}
			}
			p.pending = nil
			return err
		}
	}
}

// boundaryScanner finds record terminators that lie outside quoted fields.
// It follows the tokenizer's rule that a quote only opens a field when it is
// the field's first byte. Its state carries across calls so a buffer can be
// scanned incrementally.
type boundaryScanner struct {
	delim   byte
	quote   byte
	escape  byte
	state   TokenState
	escaped bool
}

func newBoundaryScanner(opts ReadOptions) *boundaryScanner {
	return &boundaryScanner{
		delim:  byte(opts.Delimiter),
		quote:  byte(opts.Quote),
		escape: byte(opts.Escape),
		state:  StateStartOfField,
	}
}

// lastBoundary scans buf[from:] and returns the position just past the last
// line feed outside quotes, or 0 when there is none. Positions before from
// are assumed to have been scanned by an earlier call.
func (s *boundaryScanner) lastBoundary(buf []byte, from int) int {
	last := 0
	for i := from; i < len(buf); i++ {
		c := buf[i]
		switch s.state {
		case StateInQuotedField:
			switch {
			case s.escaped:
				s.escaped = false
			case s.escape != 0 && c == s.escape:
				s.escaped = true
			case c == s.quote:
				s.state = StateAfterClosingQuote
			}
			continue
		case StateAfterClosingQuote:
			if c == s.quote {
				s.state = StateInQuotedField
				continue
			}
		case StateStartOfField:
			if s.quote != 0 && c == s.quote {
				s.state = StateInQuotedField
				continue
			}
		}
		switch c {
		case '\n':
			last = i + 1
			s.state = StateStartOfField
		case s.delim:
			s.state = StateStartOfField
		case '\r':
			if s.state != StateStartOfField {
				s.state = StateInUnquotedField
			}
		default:
			s.state = StateInUnquotedField
		}
	}
	return last
}
