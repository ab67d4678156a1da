package csv

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// RecordBatch is one pull from a Cursor: typed columns sharing a row count,
// tagged with a strictly increasing index. The caller owns it and must call
// Release.
type RecordBatch struct {
	arrow.Record
	Index int
	// Offset is the source byte offset just past the batch's last record.
	Offset int64
}

// Len returns the batch row count as an int.
func (b *RecordBatch) Len() int {
	return int(b.Record.NumRows())
}
