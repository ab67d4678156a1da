package csv

import (
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-csv/pkg/observability"
)

// ReadAll reads r to the end and returns a single table. The first error
// aborts the read; no partial table is returned.
func ReadAll(ctx context.Context, r io.Reader, opts ReadOptions, options ...Option) (*Table, error) {
	ctx, span := observability.StartSpan(ctx, "csv.read_all")
	cur, err := Open(ctx, r, opts, options...)
	if err != nil {
		observability.EndSpan(span, err)
		return nil, err
	}
	t, err := Collect(ctx, cur, opts.Defaults().BatchSize)
	observability.EndSpan(span, err)
	return t, err
}

// Collect drains cur and closes it. Batches are concatenated in index order.
func Collect(ctx context.Context, cur *Cursor, batchSize int) (*Table, error) {
	var batches []arrow.Record
	release := func() {
		for _, b := range batches {
			b.Release()
		}
	}

	for {
		b, err := cur.NextBatch(ctx, batchSize)
		if err == io.EOF {
			break
		}
		if err != nil {
			release()
			_ = cur.Close()
			return nil, err
		}
		batches = append(batches, b.Record)
	}

	if err := cur.Close(); err != nil {
		release()
		return nil, err
	}
	t := NewTable(cur.Schema(), batches, cur.Stats())
	release()

	cur.logger.Info("read complete",
		zap.Int64("rows", t.NumRows()),
		zap.Int("batches", len(batches)),
		zap.Int64("bytes", cur.State().Offset))
	return t, nil
}
