package csv

import (
	"bytes"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
)

// TokenState is the tokenizer's position within the record grammar.
type TokenState uint8

const (
	StateStartOfRecord TokenState = iota
	StateStartOfField
	StateInUnquotedField
	StateInQuotedField
	StateAfterClosingQuote
	StateInComment
)

func (s TokenState) String() string {
	switch s {
	case StateStartOfRecord:
		return "start-of-record"
	case StateStartOfField:
		return "start-of-field"
	case StateInUnquotedField:
		return "in-unquoted-field"
	case StateInQuotedField:
		return "in-quoted-field"
	case StateAfterClosingQuote:
		return "after-closing-quote"
	case StateInComment:
		return "in-comment"
	}
	return "unknown"
}

// Tokenizer splits a byte stream into records of unescaped fields. It is a
// resumable state machine: Feed accepts arbitrary chunks and continues
// exactly where the previous call stopped, so a record may straddle any
// number of chunks.
type Tokenizer struct {
	delim   byte
	quote   byte
	escape  byte
	comment []byte

	state        TokenState
	pendingCR    bool
	escaped      bool
	maybeComment bool

	rec   record
	carry []byte

	base       int64
	consumed   int64
	line       int64
	recordLine int64
}

// NewTokenizer creates a tokenizer for the dialect described by opts.
func NewTokenizer(opts ReadOptions) *Tokenizer {
	opts = opts.Defaults()
	return &Tokenizer{
		delim:   byte(opts.Delimiter),
		quote:   byte(opts.Quote),
		escape:  byte(opts.Escape),
		comment: []byte(opts.CommentPrefix),
		line:    1,
	}
}

// SetOrigin declares the absolute byte offset and line of the next byte fed.
// It only affects error details and Rows line numbers.
func (t *Tokenizer) SetOrigin(offset, line int64) {
	t.base = offset - t.consumed
	t.line = line
}

// State returns the current grammar state.
func (t *Tokenizer) State() TokenState { return t.state }

// Pending reports whether the bytes consumed so far end inside a record or
// comment line, i.e. whether more input is needed to complete it.
func (t *Tokenizer) Pending() bool {
	return t.state != StateStartOfRecord || t.pendingCR
}

// Carry returns the raw bytes of the pending record, exactly as they were
// fed. It is empty when nothing is pending.
func (t *Tokenizer) Carry() []byte { return t.carry }

// Offset returns the absolute offset of the next byte to be fed.
func (t *Tokenizer) Offset() int64 { return t.base + t.consumed }

// Line returns the 1-based line number of the next byte to be fed.
func (t *Tokenizer) Line() int64 { return t.line }

// Reset returns the tokenizer to its initial state, dropping any pending record.
func (t *Tokenizer) Reset() {
	t.state = StateStartOfRecord
	t.pendingCR = false
	t.escaped = false
	t.maybeComment = false
	t.rec.reset()
	t.carry = t.carry[:0]
	t.base, t.consumed = 0, 0
	t.line = 1
}

// Feed tokenizes p, appending each completed record to out. When limit is
// positive it stops after limit records. It returns the number of bytes
// consumed; bytes of a record left incomplete at the end of p are consumed
// and kept in the carry buffer.
func (t *Tokenizer) Feed(p []byte, out *Rows, limit int) (int, error) {
	emitted := 0
	mark := 0
	i := 0

	settle := func() {
		mark = i
		t.carry = t.carry[:0]
	}
	emit := func() {
		t.rec.endField()
		out.appendRecord(&t.rec, t.recordLine, t.base+t.consumed+int64(i))
		t.rec.reset()
		t.state = StateStartOfRecord
		t.maybeComment = false
		emitted++
		settle()
	}

	for i < len(p) {
		if limit > 0 && emitted >= limit {
			break
		}
		c := p[i]

		if t.pendingCR {
			t.pendingCR = false
			if c == '\n' {
				i++
				t.line++
				if t.state == StateStartOfRecord {
					settle()
				} else {
					emit()
				}
				continue
			}
			if err := t.loneCR(i); err != nil {
				t.consumed += int64(i)
				return i, err
			}
		}

		switch t.state {
		case StateStartOfRecord:
			switch c {
			case '\n':
				i++
				t.line++
				settle()
				continue
			case '\r':
				t.pendingCR = true
				i++
				continue
			}
			t.recordLine = t.line
			if len(t.comment) > 0 && c == t.comment[0] {
				if len(t.comment) == 1 {
					t.state = StateInComment
					i++
					continue
				}
				t.maybeComment = true
			}
			t.state = StateStartOfField

		case StateStartOfField:
			switch {
			case t.quote != 0 && c == t.quote:
				t.rec.fieldQuoted = true
				t.maybeComment = false
				t.state = StateInQuotedField
				i++
			case c == t.delim:
				t.rec.endField()
				t.maybeComment = false
				i++
			case c == '\n':
				i++
				t.line++
				emit()
			case c == '\r':
				t.pendingCR = true
				i++
			default:
				t.state = StateInUnquotedField
			}

		case StateInUnquotedField:
			j := i
			for j < len(p) && p[j] != t.delim && p[j] != '\n' && p[j] != '\r' {
				j++
			}
			t.rec.buf = append(t.rec.buf, p[i:j]...)
			i = j
			if t.maybeComment && t.enterComment() {
				continue
			}
			if i == len(p) {
				break
			}
			switch p[i] {
			case t.delim:
				t.rec.endField()
				t.maybeComment = false
				t.state = StateStartOfField
				i++
			case '\n':
				i++
				t.line++
				emit()
			case '\r':
				t.pendingCR = true
				i++
			}

		case StateInQuotedField:
			if t.escaped {
				t.escaped = false
				t.rec.buf = append(t.rec.buf, c)
				if c == '\n' {
					t.line++
				}
				i++
				continue
			}
			j := i
			for j < len(p) {
				b := p[j]
				if b == t.quote || (t.escape != 0 && b == t.escape) {
					break
				}
				if b == '\n' {
					t.line++
				}
				j++
			}
			t.rec.buf = append(t.rec.buf, p[i:j]...)
			i = j
			if i == len(p) {
				break
			}
			if p[i] == t.quote {
				t.state = StateAfterClosingQuote
			} else {
				t.escaped = true
			}
			i++

		case StateAfterClosingQuote:
			switch c {
			case t.quote:
				t.rec.buf = append(t.rec.buf, c)
				t.state = StateInQuotedField
				i++
			case t.delim:
				t.rec.endField()
				t.state = StateStartOfField
				i++
			case '\n':
				i++
				t.line++
				emit()
			case '\r':
				t.pendingCR = true
				i++
			default:
				t.consumed += int64(i)
				return i, t.malformed("unexpected character after closing quote", 0).
					WithDetail("character", string(c))
			}

		case StateInComment:
			j := bytes.IndexByte(p[i:], '\n')
			if j < 0 {
				i = len(p)
				break
			}
			i += j + 1
			t.line++
			t.state = StateStartOfRecord
			settle()
		}
	}

	t.consumed += int64(i)
	if t.Pending() {
		t.carry = append(t.carry, p[mark:i]...)
	}
	return i, nil
}

// Finish flushes the record pending at end of input. An unterminated quoted
// field is a malformed record.
func (t *Tokenizer) Finish(out *Rows) error {
	defer func() {
		t.carry = t.carry[:0]
	}()

	if t.pendingCR {
		t.pendingCR = false
		if t.state == StateStartOfRecord {
			return nil
		}
	}

	switch t.state {
	case StateStartOfRecord:
		return nil
	case StateInComment:
		t.state = StateStartOfRecord
		return nil
	case StateInQuotedField:
		return t.malformed("unterminated quoted field at end of input", 0)
	}

	t.rec.endField()
	out.appendRecord(&t.rec, t.recordLine, t.base+t.consumed)
	t.rec.reset()
	t.state = StateStartOfRecord
	t.maybeComment = false
	return nil
}

// loneCR resolves a carriage return that was not followed by a line feed:
// it becomes field data.
func (t *Tokenizer) loneCR(pos int) error {
	switch t.state {
	case StateStartOfRecord:
		t.recordLine = t.line
		t.state = StateInUnquotedField
	case StateStartOfField:
		t.state = StateInUnquotedField
	case StateAfterClosingQuote:
		return t.malformed("unexpected character after closing quote", int64(pos)).
			WithDetail("character", "\r")
	}
	t.maybeComment = false
	t.rec.buf = append(t.rec.buf, '\r')
	return nil
}

// enterComment switches to comment mode once the first field is known to
// start with a multi-byte comment prefix.
func (t *Tokenizer) enterComment() bool {
	field := t.rec.currentField()
	if len(field) >= len(t.comment) {
		t.maybeComment = false
		if bytes.HasPrefix(field, t.comment) {
			t.rec.reset()
			t.state = StateInComment
			return true
		}
		return false
	}
	if !bytes.HasPrefix(t.comment, field) {
		t.maybeComment = false
	}
	return false
}

func (t *Tokenizer) malformed(msg string, rel int64) *errors.Error {
	return errors.New(errors.ErrorTypeMalformedRecord, msg).
		WithDetail("line", t.recordLine).
		WithDetail("offset", t.base+t.consumed+rel)
}
