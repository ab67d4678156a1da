// Package nebula provides columnar CSV ingestion: delimited text in, typed
// Apache Arrow batches out.
//
// A read moves through four stages. A resumable tokenizer splits bytes into
// records, honoring quotes, escapes and comments across chunk boundaries. A
// schema inferencer samples a window of records and widens each column along
// Null, Boolean, Integer, Float and String. A cursor converts records into
// bounded record batches, carrying partial records between chunks. An eager
// reader or a lazy scan node sits on top.
//
// # Quick Start
//
//	import (
//	    "context"
//
//	    "github.com/ajitpratap0/nebula-csv/pkg/csv"
//	    "github.com/ajitpratap0/nebula-csv/pkg/ingest"
//	)
//
//	// Eager read
//	table, err := ingest.Read(ctx, "orders.csv.gz", csv.ReadOptions{})
//	defer table.Release()
//
//	// Bounded batches
//	cur, err := ingest.OpenBatched(ctx, "s3://bucket/orders.csv", csv.ReadOptions{BatchBytes: 8 << 20})
//	defer cur.Close()
//	for {
//	    batch, err := cur.NextBatch(ctx, 10000)
//	    if err == io.EOF {
//	        break
//	    }
//	    // use batch.Record
//	    batch.Release()
//	}
//
//	// Lazy scan with projection and predicate
//	node := ingest.Scan("exports.zip#orders.csv", csv.ReadOptions{}).
//	    WithProjection("id", "total").
//	    WithPredicate("total > 10 AND status = 'paid'")
//	exec, err := node.Execute(ctx)
//	result, err := exec.Collect(ctx)
//
// # Key Packages
//
//	pkg/csv           - Tokenizer, schema inference, cursor and tables
//	pkg/scan          - Lazy scan plans, predicate language, Arrow IPC output
//	pkg/ingest        - Entry points for every read mode
//	pkg/source        - Byte sources: files, memory, S3, GCS, compression
//	pkg/archive       - CSV members of zip archives
//	pkg/config        - YAML configuration with environment substitution
//	pkg/errors        - Structured errors with a kind per failure
//	pkg/logger        - Structured logging
//	pkg/metrics       - Prometheus metrics per source
//	pkg/observability - OpenTelemetry spans
//
// # Error Kinds
//
// Every failure carries one kind: config, source_unavailable,
// malformed_record, ragged_row, type_parse_failure, schema_conflict,
// archive_member_not_found, archive_member_ambiguous or archive_corrupt.
// Check them with errors.IsType.
//
// # Command Line
//
//	nebula-csv read orders.csv --head 20
//	nebula-csv scan orders.csv --select id,total --where "total > 10" --ipc out.arrows
//	nebula-csv archive ls exports.zip
package nebula
