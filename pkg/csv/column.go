package csv

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	stringpool "github.com/ajitpratap0/nebula-csv/pkg/strings"
)

// nullSet holds the tokens read as null.
type nullSet struct {
	values map[string]struct{}
}

func newNullSet(values []string) *nullSet {
	n := &nullSet{values: make(map[string]struct{}, len(values))}
	for _, v := range values {
		n.values[v] = struct{}{}
	}
	return n
}

func (n *nullSet) contains(raw []byte) bool {
	_, ok := n.values[string(raw)]
	return ok
}

type appendResult uint8

const (
	appendOK appendResult = iota
	appendInvalid
	appendBadEncoding
)

// columnBuilder appends raw field bytes to the arrow builder of one column.
// Exactly one of the typed builders is set, selected by dtype.
type columnBuilder struct {
	field Field
	nulls *nullSet
	lossy bool

	nullB  *array.NullBuilder
	boolB  *array.BooleanBuilder
	intB   *array.Int64Builder
	floatB *array.Float64Builder
	strB   *array.StringBuilder
}

func newColumnBuilder(mem memory.Allocator, field Field, nulls *nullSet, lossy bool) *columnBuilder {
	c := &columnBuilder{field: field, nulls: nulls, lossy: lossy}
	switch field.Type {
	case Null:
		c.nullB = array.NewNullBuilder(mem)
	case Boolean:
		c.boolB = array.NewBooleanBuilder(mem)
	case Integer:
		c.intB = array.NewInt64Builder(mem)
	case Float:
		c.floatB = array.NewFloat64Builder(mem)
	default:
		c.strB = array.NewStringBuilder(mem)
	}
	return c
}

func (c *columnBuilder) appendNull() {
	switch c.field.Type {
	case Null:
		c.nullB.AppendNull()
	case Boolean:
		c.boolB.AppendNull()
	case Integer:
		c.intB.AppendNull()
	case Float:
		c.floatB.AppendNull()
	default:
		c.strB.AppendNull()
	}
}

// appendField converts raw and appends it. On appendInvalid nothing is
// appended and the caller decides between an error and a null.
func (c *columnBuilder) appendField(raw []byte, quoted bool) appendResult {
	if c.field.Type == String {
		if !quoted && c.nulls.contains(raw) {
			c.strB.AppendNull()
			return appendOK
		}
		if !utf8.Valid(raw) {
			if !c.lossy {
				return appendBadEncoding
			}
			c.strB.Append(strings.ToValidUTF8(string(raw), "�"))
			return appendOK
		}
		c.strB.BinaryBuilder.Append(raw)
		return appendOK
	}

	if c.nulls.contains(raw) {
		c.appendNull()
		return appendOK
	}

	s := stringpool.BytesToString(raw)
	switch c.field.Type {
	case Boolean:
		v, ok := parseBool(s)
		if !ok {
			return appendInvalid
		}
		c.boolB.Append(v)
	case Integer:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return appendInvalid
		}
		c.intB.Append(v)
	case Float:
		v, ok := parseFloat(s)
		if !ok {
			return appendInvalid
		}
		c.floatB.Append(v)
	default:
		return appendInvalid
	}
	return appendOK
}

func (c *columnBuilder) builder() array.Builder {
	switch c.field.Type {
	case Null:
		return c.nullB
	case Boolean:
		return c.boolB
	case Integer:
		return c.intB
	case Float:
		return c.floatB
	default:
		return c.strB
	}
}

func (c *columnBuilder) newArray() arrow.Array {
	return c.builder().NewArray()
}

func (c *columnBuilder) release() {
	c.builder().Release()
}

// convertible reports whether a non-null token parses as dt.
func convertible(dt DataType, s string) bool {
	switch dt {
	case Null:
		return false
	case Boolean:
		_, ok := parseBool(s)
		return ok
	case Integer:
		_, err := strconv.ParseInt(s, 10, 64)
		return err == nil
	case Float:
		_, ok := parseFloat(s)
		return ok
	default:
		return true
	}
}
