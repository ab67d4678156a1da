// Package ingest is the entry point for reading CSV data. It resolves
// locations into byte sources and hands them to the csv engine in one of
// four modes: eager, batched, lazy scan, or from an archive member.
//
//	table, err := ingest.Read(ctx, "orders.csv.gz", csv.ReadOptions{})
//	cur, err := ingest.OpenBatched(ctx, "s3://bucket/orders.csv", csv.ReadOptions{})
//	node := ingest.Scan("exports.zip#orders.csv", csv.ReadOptions{}).WithPredicate("total > 10")
package ingest

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-csv/pkg/archive"
	"github.com/ajitpratap0/nebula-csv/pkg/csv"
	"github.com/ajitpratap0/nebula-csv/pkg/logger"
	"github.com/ajitpratap0/nebula-csv/pkg/observability"
	"github.com/ajitpratap0/nebula-csv/pkg/scan"
	"github.com/ajitpratap0/nebula-csv/pkg/source"
)

// Read eagerly reads the CSV at path into a table.
func Read(ctx context.Context, path string, opts csv.ReadOptions, options ...csv.Option) (*csv.Table, error) {
	d, err := source.Parse(path)
	if err != nil {
		return nil, err
	}
	return ReadSource(ctx, d, opts, options...)
}

// ReadSource eagerly reads any byte source into a table.
func ReadSource(ctx context.Context, d source.Descriptor, opts csv.ReadOptions, options ...csv.Option) (*csv.Table, error) {
	ctx = logger.ContextWithSource(ctx, d.Name())
	var table *csv.Table
	err := observability.Trace(ctx, "ingest.read", func(ctx context.Context) error {
		cur, err := OpenSource(ctx, d, opts, options...)
		if err != nil {
			return err
		}
		table, err = csv.Collect(ctx, cur, opts.Defaults().BatchSize)
		return err
	}, attribute.String("source", d.String()))
	return table, err
}

// Scan returns a lazy scan of path. No I/O happens until Execute; a path
// that does not parse surfaces from Execute or Validate.
func Scan(path string, opts csv.ReadOptions) scan.Node {
	d, err := source.Parse(path)
	if err != nil {
		d = source.Descriptor{Kind: source.KindFile, Path: path}
	}
	return scan.New(d, opts)
}

// OpenBatched opens a cursor over path for NextBatch-driven reads.
func OpenBatched(ctx context.Context, path string, opts csv.ReadOptions, options ...csv.Option) (*csv.Cursor, error) {
	d, err := source.Parse(path)
	if err != nil {
		return nil, err
	}
	return OpenSource(ctx, d, opts, options...)
}

// OpenSource opens a cursor over a byte source. The cursor owns the source.
func OpenSource(ctx context.Context, d source.Descriptor, opts csv.ReadOptions, options ...csv.Option) (*csv.Cursor, error) {
	ctx = logger.ContextWithSource(ctx, d.Name())
	rc, err := source.Open(ctx, d)
	if err != nil {
		return nil, err
	}
	options = append([]csv.Option{csv.WithName(d.Name())}, options...)
	return csv.Open(ctx, rc, opts, options...)
}

// ReadFromArchive eagerly reads one member of a local zip archive. An empty
// member selects the only CSV member.
func ReadFromArchive(ctx context.Context, archivePath, member string, opts csv.ReadOptions, options ...csv.Option) (*csv.Table, error) {
	d := source.Descriptor{Kind: source.KindFile, Path: archivePath, Archive: true, Member: member}
	return ReadSource(ctx, d, opts, options...)
}

// ReadAllFromArchive reads every CSV member of a local zip archive, keyed by
// member name. Hidden members and metadata folders are skipped. On error no
// tables are returned.
func ReadAllFromArchive(ctx context.Context, archivePath string, opts csv.ReadOptions, options ...csv.Option) (map[string]*csv.Table, error) {
	a, err := archive.Open(archivePath)
	if err != nil {
		return nil, err
	}
	members := a.CSVMembers()
	if err := a.Close(); err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx).With(zap.String("component", "ingest"), zap.String("archive", archivePath))
	tables := make(map[string]*csv.Table, len(members))
	for _, m := range members {
		t, err := ReadFromArchive(ctx, archivePath, m.Name, opts, options...)
		if err != nil {
			for _, t := range tables {
				t.Release()
			}
			return nil, err
		}
		tables[m.Name] = t
		log.Debug("member read", zap.String("member", m.Name), zap.Int("rows", t.Len()))
	}
	return tables, nil
}
