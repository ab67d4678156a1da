// Package json provides JSON serialization backed by goccy/go-json, with
// pooled buffers and a streaming row encoder for command output.
package json

import (
	"bytes"
	"io"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/nebula-csv/pkg/pool"
)

const maxPooledBuffer = 1024 * 1024

var bufferPool = pool.New(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 4096)) },
	func(b *bytes.Buffer) { b.Reset() },
)

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	return bufferPool.Get()
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBuffer {
		return
	}
	bufferPool.Put(buf)
}

// Marshal is a high-performance drop-in replacement for json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a high-performance drop-in replacement for json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalIndent is a high-performance replacement for json.MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// StreamingEncoder writes a sequence of values either as one JSON array or
// as newline-delimited JSON.
type StreamingEncoder struct {
	writer      io.Writer
	firstRecord bool
	isArray     bool
	closed      bool
}

// NewStreamingEncoder creates a new streaming encoder
func NewStreamingEncoder(w io.Writer, isArray bool) *StreamingEncoder {
	return &StreamingEncoder{
		writer:      w,
		firstRecord: true,
		isArray:     isArray,
	}
}

// Encode encodes a single value
func (se *StreamingEncoder) Encode(v interface{}) error {
	data, err := gojson.Marshal(v)
	if err != nil {
		return err
	}
	return se.EncodeRaw(data)
}

// EncodeRaw writes an already encoded value.
func (se *StreamingEncoder) EncodeRaw(data []byte) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if se.isArray {
		if se.firstRecord {
			buf.WriteByte('[')
		} else {
			buf.WriteByte(',')
		}
	}
	se.firstRecord = false
	buf.Write(data)
	if !se.isArray {
		buf.WriteByte('\n')
	}
	_, err := se.writer.Write(buf.Bytes())
	return err
}

// Close finalizes the encoding. An array with no values is written as [].
func (se *StreamingEncoder) Close() error {
	if se.closed || !se.isArray {
		se.closed = true
		return nil
	}
	se.closed = true
	end := []byte("]\n")
	if se.firstRecord {
		end = []byte("[]\n")
	}
	_, err := se.writer.Write(end)
	return err
}

// ObjectWriter builds a JSON object field by field, keeping field order.
type ObjectWriter struct {
	buffer []byte
}

// NewObjectWriter creates a new object writer
func NewObjectWriter(initialSize int) *ObjectWriter {
	return &ObjectWriter{buffer: make([]byte, 0, initialSize)}
}

// WriteField appends one key and value.
func (w *ObjectWriter) WriteField(key string, value interface{}) error {
	k, err := gojson.Marshal(key)
	if err != nil {
		return err
	}
	v, err := gojson.Marshal(value)
	if err != nil {
		return err
	}
	if len(w.buffer) == 0 {
		w.buffer = append(w.buffer, '{')
	} else {
		w.buffer = append(w.buffer, ',')
	}
	w.buffer = append(w.buffer, k...)
	w.buffer = append(w.buffer, ':')
	w.buffer = append(w.buffer, v...)
	return nil
}

// Bytes returns the object. The slice is valid until the next Reset.
func (w *ObjectWriter) Bytes() []byte {
	if len(w.buffer) == 0 {
		return []byte("{}")
	}
	return append(w.buffer, '}')
}

// Reset resets the writer for reuse
func (w *ObjectWriter) Reset() {
	w.buffer = w.buffer[:0]
}
