package csv

// Rows holds tokenized records in a flat layout: the unescaped bytes of every
// field back to back, the end offset of each field, and per record the index
// one past its last field.
type Rows struct {
	buf     []byte
	ends    []int
	quoted  []bool
	records []int
	lines   []int64
	offsets []int64
}

// Len returns the number of records.
func (r *Rows) Len() int { return len(r.records) }

func (r *Rows) firstField(i int) int {
	if i == 0 {
		return 0
	}
	return r.records[i-1]
}

// NumFields returns the field count of record i.
func (r *Rows) NumFields(i int) int {
	return r.records[i] - r.firstField(i)
}

// Field returns the unescaped bytes of field j of record i. The slice aliases
// the Rows buffer and is valid until Reset.
func (r *Rows) Field(i, j int) []byte {
	k := r.firstField(i) + j
	start := 0
	if k > 0 {
		start = r.ends[k-1]
	}
	return r.buf[start:r.ends[k]]
}

// Quoted reports whether field j of record i was enclosed in quotes.
func (r *Rows) Quoted(i, j int) bool {
	return r.quoted[r.firstField(i)+j]
}

// Line returns the 1-based line on which record i started.
func (r *Rows) Line(i int) int64 { return r.lines[i] }

// End returns the source offset just past record i's terminator.
func (r *Rows) End(i int) int64 { return r.offsets[i] }

// RecordBytes returns the number of field bytes held by record i.
func (r *Rows) RecordBytes(i int) int {
	first := r.firstField(i)
	start := 0
	if first > 0 {
		start = r.ends[first-1]
	}
	if r.records[i] == first {
		return 0
	}
	return r.ends[r.records[i]-1] - start
}

// Strings returns record i as strings; intended for tests and diagnostics.
func (r *Rows) Strings(i int) []string {
	out := make([]string, r.NumFields(i))
	for j := range out {
		out[j] = string(r.Field(i, j))
	}
	return out
}

// Reset empties r, keeping its capacity.
func (r *Rows) Reset() {
	r.buf = r.buf[:0]
	r.ends = r.ends[:0]
	r.quoted = r.quoted[:0]
	r.records = r.records[:0]
	r.lines = r.lines[:0]
	r.offsets = r.offsets[:0]
}

// appendRecord copies a completed record into r.
func (r *Rows) appendRecord(rec *record, line, end int64) {
	base := len(r.buf)
	r.buf = append(r.buf, rec.buf...)
	for _, e := range rec.ends {
		r.ends = append(r.ends, base+e)
	}
	r.quoted = append(r.quoted, rec.quoted...)
	r.records = append(r.records, len(r.ends))
	r.lines = append(r.lines, line)
	r.offsets = append(r.offsets, end)
}

// record is the tokenizer's partial record.
type record struct {
	buf         []byte
	ends        []int
	quoted      []bool
	fieldQuoted bool
}

func (rec *record) endField() {
	rec.ends = append(rec.ends, len(rec.buf))
	rec.quoted = append(rec.quoted, rec.fieldQuoted)
	rec.fieldQuoted = false
}

// currentField returns the bytes of the field being built.
func (rec *record) currentField() []byte {
	start := 0
	if n := len(rec.ends); n > 0 {
		start = rec.ends[n-1]
	}
	return rec.buf[start:]
}

func (rec *record) reset() {
	rec.buf = rec.buf[:0]
	rec.ends = rec.ends[:0]
	rec.quoted = rec.quoted[:0]
	rec.fieldQuoted = false
}
