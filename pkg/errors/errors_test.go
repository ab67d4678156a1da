package errors

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesStack(t *testing.T) {
	inner := New(ErrorTypeMalformedRecord, "unterminated quoted field")
	outer := Wrap(inner, ErrorTypeSourceUnavailable, "read failed")

	require.NotNil(t, outer)
	assert.Equal(t, inner.Stack, outer.Stack)
	assert.True(t, IsType(outer, ErrorTypeSourceUnavailable))
	assert.True(t, Is(outer, inner))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "nothing"))
}

func TestDetails(t *testing.T) {
	err := Wrap(io.EOF, ErrorTypeTypeParseFailure, "bad value").
		WithDetail("column", "qty").
		WithDetail("value", "x")

	v, ok := err.Detail("column")
	require.True(t, ok)
	assert.Equal(t, "qty", v)
	assert.Equal(t, "type_parse_failure: bad value: EOF", err.Error())

	_, ok = err.Detail("missing")
	assert.False(t, ok)
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeArchiveCorrupt, TypeOf(New(ErrorTypeArchiveCorrupt, "bad zip")))
	assert.Equal(t, ErrorType(""), TypeOf(io.EOF))
	assert.False(t, IsType(io.EOF, ErrorTypeInternal))
}
