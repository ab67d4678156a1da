package json

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	ID    string   `json:"id"`
	Value float64  `json:"value"`
	Tags  []string `json:"tags"`
}

func BenchmarkStdMarshal(b *testing.B) {
	r := testRecord{ID: "r-1", Value: 42.5, Tags: []string{"a", "b"}}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := json.Marshal(r); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGoccyMarshal(b *testing.B) {
	r := testRecord{ID: "r-1", Value: 42.5, Tags: []string{"a", "b"}}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Marshal(r); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkObjectWriter(b *testing.B) {
	w := NewObjectWriter(256)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		w.Reset()
		_ = w.WriteField("id", int64(i))
		_ = w.WriteField("name", "ann")
		_ = w.WriteField("score", 1.5)
		_ = w.Bytes()
	}
}

func TestMarshalCorrectness(t *testing.T) {
	record := testRecord{ID: "test-123", Value: 42.5, Tags: []string{"tag1", "tag2"}}

	stdData, err := json.Marshal(record)
	require.NoError(t, err)
	optData, err := Marshal(record)
	require.NoError(t, err)
	assert.JSONEq(t, string(stdData), string(optData))

	var back testRecord
	require.NoError(t, Unmarshal(optData, &back))
	assert.Equal(t, record, back)
}

func TestStreamingEncoder(t *testing.T) {
	var buf bytes.Buffer
	se := NewStreamingEncoder(&buf, true)
	require.NoError(t, se.Encode(map[string]int{"a": 1}))
	require.NoError(t, se.EncodeRaw([]byte(`{"b":2}`)))
	require.NoError(t, se.Close())
	require.NoError(t, se.Close())
	assert.Equal(t, "[{\"a\":1},{\"b\":2}]\n", buf.String())

	buf.Reset()
	se = NewStreamingEncoder(&buf, true)
	require.NoError(t, se.Close())
	assert.Equal(t, "[]\n", buf.String())

	buf.Reset()
	se = NewStreamingEncoder(&buf, false)
	require.NoError(t, se.Encode(1))
	require.NoError(t, se.Encode("x"))
	require.NoError(t, se.Close())
	assert.Equal(t, "1\n\"x\"\n", buf.String())
}

func TestObjectWriterKeepsOrder(t *testing.T) {
	w := NewObjectWriter(16)
	assert.Equal(t, "{}", string(w.Bytes()))

	require.NoError(t, w.WriteField("z", 1))
	require.NoError(t, w.WriteField(`a"b`, nil))
	require.NoError(t, w.WriteField("m", "x"))
	assert.Equal(t, `{"z":1,"a\"b":null,"m":"x"}`, string(w.Bytes()))

	w.Reset()
	require.NoError(t, w.WriteField("k", true))
	assert.Equal(t, `{"k":true}`, string(w.Bytes()))
}

func TestBufferPool(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString("hello")
	PutBuffer(buf)
	assert.Equal(t, 0, GetBuffer().Len())
}
