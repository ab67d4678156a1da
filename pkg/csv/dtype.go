package csv

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
)

// DataType is the closed set of column types. The declaration order is the
// inference lattice: a column only ever moves to a later variant.
type DataType uint8

const (
	Null DataType = iota
	Boolean
	Integer
	Float
	String
)

var dataTypeNames = [...]string{
	Null:    "null",
	Boolean: "bool",
	Integer: "int64",
	Float:   "float64",
	String:  "str",
}

// String returns the canonical name.
func (d DataType) String() string {
	if int(d) < len(dataTypeNames) {
		return dataTypeNames[d]
	}
	return "unknown"
}

// ParseDataType parses a dtype name or one of its common aliases.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "null":
		return Null, nil
	case "bool", "boolean":
		return Boolean, nil
	case "int", "int64", "i64", "integer", "long":
		return Integer, nil
	case "float", "float64", "f64", "double":
		return Float, nil
	case "str", "string", "utf8", "text":
		return String, nil
	}
	return Null, errors.Newf(errors.ErrorTypeConfig, "unknown dtype %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (d DataType) MarshalText() ([]byte, error) {
	if int(d) >= len(dataTypeNames) {
		return nil, errors.Newf(errors.ErrorTypeInternal, "invalid dtype %d", d)
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DataType) UnmarshalText(text []byte) error {
	parsed, err := ParseDataType(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ArrowType returns the arrow type backing the column.
func (d DataType) ArrowType() arrow.DataType {
	switch d {
	case Null:
		return arrow.Null
	case Boolean:
		return arrow.FixedWidthTypes.Boolean
	case Integer:
		return arrow.PrimitiveTypes.Int64
	case Float:
		return arrow.PrimitiveTypes.Float64
	default:
		return arrow.BinaryTypes.String
	}
}

// Promote returns the lattice join of two column types. Boolean tokens have no
// numeric reading, so a Boolean column meeting a number goes to String.
func Promote(a, b DataType) DataType {
	if a == b {
		return a
	}
	if a > b {
		a, b = b, a
	}
	if a == Null {
		return b
	}
	if a == Boolean {
		return String
	}
	return b
}

var (
	integerPattern = regexp.MustCompile(`^[+-]?[0-9]+$`)
	floatPattern   = regexp.MustCompile(`^[+-]?([0-9]+\.?[0-9]*|\.[0-9]+)([eE][+-]?[0-9]+)?$`)
)

// classify returns the narrowest type that can hold a non-null token.
func classify(v string) DataType {
	switch {
	case isBoolean(v):
		return Boolean
	case integerPattern.MatchString(v):
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			return Integer
		}
		return Float
	case isFloat(v):
		return Float
	default:
		return String
	}
}

func isBoolean(v string) bool {
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "false")
}

func isFloat(v string) bool {
	if floatPattern.MatchString(v) {
		return true
	}
	_, ok := parseSpecialFloat(v)
	return ok
}

func parseSpecialFloat(v string) (float64, bool) {
	s := strings.TrimLeft(v, "+-")
	neg := strings.HasPrefix(v, "-")
	switch strings.ToLower(s) {
	case "inf", "infinity":
		if neg {
			return math.Inf(-1), true
		}
		return math.Inf(1), true
	case "nan":
		return math.NaN(), true
	}
	return 0, false
}

func parseBool(v string) (bool, bool) {
	switch {
	case strings.EqualFold(v, "true"):
		return true, true
	case strings.EqualFold(v, "false"):
		return false, true
	}
	return false, false
}

func parseFloat(v string) (float64, bool) {
	if floatPattern.MatchString(v) {
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil || isRangeErr(err)
	}
	return parseSpecialFloat(v)
}

func isRangeErr(err error) bool {
	ne, ok := err.(*strconv.NumError)
	return ok && ne.Err == strconv.ErrRange
}
