package csv

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
)

func readString(t *testing.T, input string, opts ReadOptions) (*Table, error) {
	t.Helper()
	return ReadAll(context.Background(), strings.NewReader(input), opts, WithLogger(testLogger(t)))
}

func TestPromote(t *testing.T) {
	tests := []struct {
		a, b, want DataType
	}{
		{Null, Null, Null},
		{Null, Boolean, Boolean},
		{Integer, Null, Integer},
		{Integer, Float, Float},
		{Float, Integer, Float},
		{Integer, String, String},
		{Boolean, Integer, String},
		{Float, Boolean, String},
		{String, Null, String},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Promote(tt.a, tt.b), "%s ⊔ %s", tt.a, tt.b)
	}
}

func TestClassify(t *testing.T) {
	tests := map[string]DataType{
		"true":                 Boolean,
		"FALSE":                Boolean,
		"0":                    Integer,
		"-42":                  Integer,
		"+7":                   Integer,
		"99999999999999999999": Float,
		"1.5":                  Float,
		"1.":                   Float,
		".5":                   Float,
		"1e10":                 Float,
		"-2.5E-3":              Float,
		"inf":                  Float,
		"-Infinity":            Float,
		"NaN":                  Float,
		"abc":                  String,
		"1,2":                  String,
		"1.2.3":                String,
		"yes":                  String,
		" 1":                   String,
	}
	for in, want := range tests {
		assert.Equal(t, want, classify(in), "classify(%q)", in)
	}
}

func TestParseDataType(t *testing.T) {
	for in, want := range map[string]DataType{
		"int64": Integer, "i64": Integer, "Integer": Integer,
		"float": Float, "double": Float,
		"bool": Boolean, "boolean": Boolean,
		"str": String, "utf8": String,
		"null": Null,
	} {
		got, err := ParseDataType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDataType("decimal")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestInferSchema(t *testing.T) {
	input := "i,f,b,s,n,mix,big\n" +
		"1,1.5,true,x,,1,1\n" +
		"2,2,false,y,,true,99999999999999999999\n" +
		"-3,inf,TRUE,1,,2,3\n"

	table, err := readString(t, input, ReadOptions{})
	require.NoError(t, err)
	defer table.Release()

	assert.Equal(t, "[i:int64, f:float64, b:bool, s:str, n:str, mix:str, big:float64]", table.Schema().String())
	assert.Equal(t, int64(3), table.NumRows())
	assert.Equal(t, int64(-3), table.Value(0, 2))
	assert.True(t, math.IsInf(table.Value(1, 2).(float64), 1))
	assert.Equal(t, true, table.Value(2, 2))
	assert.Equal(t, "1", table.Value(3, 2))
	assert.Nil(t, table.Value(4, 0))
	assert.Equal(t, "true", table.Value(5, 1))
}

func TestScenarioSimple(t *testing.T) {
	table, err := readString(t, "a,b\n1,2\n3,4\n", ReadOptions{})
	require.NoError(t, err)
	defer table.Release()

	assert.Equal(t, "[a:int64, b:int64]", table.Schema().String())
	assert.Equal(t, []any{int64(1), int64(2)}, table.Row(0))
	assert.Equal(t, []any{int64(3), int64(4)}, table.Row(1))
}

func TestScenarioQuotedDelimiter(t *testing.T) {
	table, err := readString(t, "a,b\n\"x,y\",2\n", ReadOptions{})
	require.NoError(t, err)
	defer table.Release()

	assert.Equal(t, "x,y", table.Value(0, 0))
	assert.Equal(t, int64(2), table.Value(1, 0))
}

func TestEmbeddedNewline(t *testing.T) {
	table, err := readString(t, "a,b\n\"line1\nline2\",2\n3,4\n", ReadOptions{})
	require.NoError(t, err)
	defer table.Release()

	require.Equal(t, int64(2), table.NumRows())
	assert.Equal(t, "line1\nline2", table.Value(0, 0))
}

func TestInferenceWindowFreeze(t *testing.T) {
	input := "a\n1\n2\nx\n"

	_, err := readString(t, input, ReadOptions{InferSchemaLength: 2})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeParseFailure), "got %v", err)

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	v, _ := e.Detail("value")
	assert.Equal(t, "x", v)
	line, _ := e.Detail("line")
	assert.Equal(t, int64(4), line)

	table, err := readString(t, input, ReadOptions{InferSchemaLength: 2, ParsePolicy: ParseLenient})
	require.NoError(t, err)
	defer table.Release()
	assert.Equal(t, "[a:int64]", table.Schema().String())
	assert.Nil(t, table.Value(0, 2))
	assert.Equal(t, int64(1), table.Stats().NullSubstitutions)

	// A full window sees the string and widens the column instead.
	wide, err := readString(t, input, ReadOptions{})
	require.NoError(t, err)
	defer wide.Release()
	assert.Equal(t, "[a:str]", wide.Schema().String())
}

func TestNegativeInferSchemaLengthReadsAll(t *testing.T) {
	var b strings.Builder
	b.WriteString("a\n")
	for i := 0; i < 500; i++ {
		b.WriteString("1\n")
	}
	b.WriteString("1.5\n")

	table, err := readString(t, b.String(), ReadOptions{InferSchemaLength: -1})
	require.NoError(t, err)
	defer table.Release()
	assert.Equal(t, "[a:float64]", table.Schema().String())
}

func TestHeaderlessInfersAllRows(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString("1,2\n")
	}
	b.WriteString("x,2\n")

	table, err := readString(t, b.String(), ReadOptions{HasHeader: Bool(false)})
	require.NoError(t, err)
	defer table.Release()
	assert.Equal(t, "[column_1:str, column_2:int64]", table.Schema().String())
	assert.Equal(t, int64(301), table.NumRows())
}

func TestDtypeOverrides(t *testing.T) {
	t.Run("override wins", func(t *testing.T) {
		table, err := readString(t, "a,b\n1,2\n", ReadOptions{Dtypes: map[string]DataType{"a": String, "b": Float}})
		require.NoError(t, err)
		defer table.Release()
		assert.Equal(t, "[a:str, b:float64]", table.Schema().String())
		assert.Equal(t, "1", table.Value(0, 0))
		assert.Equal(t, 2.0, table.Value(1, 0))
	})

	t.Run("unknown column", func(t *testing.T) {
		_, err := readString(t, "a,b\n1,2\n", ReadOptions{Dtypes: map[string]DataType{"c": String}})
		assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaConflict), "got %v", err)
	})

	t.Run("strict failure in window aborts open", func(t *testing.T) {
		_, err := readString(t, "a\n1\nx\n", ReadOptions{Dtypes: map[string]DataType{"a": Integer}})
		assert.True(t, errors.IsType(err, errors.ErrorTypeTypeParseFailure), "got %v", err)
	})

	t.Run("lenient failure becomes null", func(t *testing.T) {
		table, err := readString(t, "a\n1\nx\n", ReadOptions{
			Dtypes:      map[string]DataType{"a": Integer},
			ParsePolicy: ParseLenient,
		})
		require.NoError(t, err)
		defer table.Release()
		assert.Nil(t, table.Value(0, 1))
		assert.Equal(t, int64(1), table.Stats().NullSubstitutions)
	})

	t.Run("disagrees with supplied schema", func(t *testing.T) {
		_, err := readString(t, "a\n1\n", ReadOptions{
			Schema: []Field{{Name: "a", Type: Integer}},
			Dtypes: map[string]DataType{"a": String},
		})
		assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaConflict), "got %v", err)
	})

	t.Run("override checked before ragged policy", func(t *testing.T) {
		_, err := readString(t, "a,b\nx\n", ReadOptions{Dtypes: map[string]DataType{"a": Integer}})
		assert.True(t, errors.IsType(err, errors.ErrorTypeTypeParseFailure), "got %v", err)
	})
}

func TestSuppliedSchema(t *testing.T) {
	table, err := readString(t, "x,y\n1,abc\n", ReadOptions{
		Schema: []Field{{Name: "id", Type: Float}, {Name: "label", Type: String}},
	})
	require.NoError(t, err)
	defer table.Release()
	assert.Equal(t, "[id:float64, label:str]", table.Schema().String())
	assert.Equal(t, 1.0, table.Value(0, 0))
}

func TestHeaderNames(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		_, err := readString(t, "a,a\n1,2\n", ReadOptions{})
		assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaConflict), "got %v", err)
	})

	t.Run("empty names generated", func(t *testing.T) {
		table, err := readString(t, "a,,c\n1,2,3\n", ReadOptions{})
		require.NoError(t, err)
		defer table.Release()
		assert.Equal(t, []string{"a", "column_2", "c"}, table.Schema().Names())
	})

	t.Run("columns rename", func(t *testing.T) {
		table, err := readString(t, "a,b\n1,2\n", ReadOptions{Columns: []string{"x"}})
		require.NoError(t, err)
		defer table.Release()
		assert.Equal(t, []string{"x", "b"}, table.Schema().Names())
	})

	t.Run("skip rows before header", func(t *testing.T) {
		table, err := readString(t, "junk line\nmore junk\na,b\n1,2\n", ReadOptions{SkipRows: 2})
		require.NoError(t, err)
		defer table.Release()
		assert.Equal(t, []string{"a", "b"}, table.Schema().Names())
		assert.Equal(t, int64(1), table.NumRows())
	})

	t.Run("comments before header", func(t *testing.T) {
		table, err := readString(t, "# generated\na,b\n# mid\n1,2\n", ReadOptions{CommentPrefix: "#"})
		require.NoError(t, err)
		defer table.Release()
		assert.Equal(t, []string{"a", "b"}, table.Schema().Names())
		assert.Equal(t, int64(1), table.NumRows())
	})
}

func TestNullValues(t *testing.T) {
	input := "a,b\nNA,x\n1,\"\"\n,NA\n"
	table, err := readString(t, input, ReadOptions{NullValues: []string{"", "NA"}})
	require.NoError(t, err)
	defer table.Release()

	assert.Equal(t, "[a:int64, b:str]", table.Schema().String())
	assert.Nil(t, table.Value(0, 0))
	assert.Nil(t, table.Value(0, 2))
	// A quoted empty string stays a string value.
	assert.Equal(t, "", table.Value(1, 1))
	assert.Nil(t, table.Value(1, 2))
}

func TestRaggedPolicies(t *testing.T) {
	input := "a,b,c\n1,2,3\n4,5\n"

	t.Run("pad-null", func(t *testing.T) {
		table, err := readString(t, input, ReadOptions{Ragged: RaggedPadNull})
		require.NoError(t, err)
		defer table.Release()
		assert.Equal(t, []any{int64(4), int64(5), nil}, table.Row(1))
		assert.Equal(t, int64(1), table.Stats().RaggedRows)
		assert.Equal(t, int64(1), table.Stats().PaddedFields)
	})

	t.Run("error", func(t *testing.T) {
		_, err := readString(t, input, ReadOptions{})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeRaggedRow), "got %v", err)
	})

	t.Run("truncate", func(t *testing.T) {
		table, err := readString(t, "a,b\n1,2,3,4\n5,6\n", ReadOptions{Ragged: RaggedTruncate})
		require.NoError(t, err)
		defer table.Release()
		assert.Equal(t, []any{int64(1), int64(2)}, table.Row(0))
		assert.Equal(t, int64(2), table.Stats().TruncatedFields)
	})

	t.Run("truncate keeps short rows an error", func(t *testing.T) {
		_, err := readString(t, input, ReadOptions{Ragged: RaggedTruncate})
		assert.True(t, errors.IsType(err, errors.ErrorTypeRaggedRow), "got %v", err)
	})
}

func TestEncodings(t *testing.T) {
	t.Run("windows-1252", func(t *testing.T) {
		input := "name\ncaf\xe9\n"
		table, err := readString(t, input, ReadOptions{Encoding: "windows-1252"})
		require.NoError(t, err)
		defer table.Release()
		assert.Equal(t, "café", table.Value(0, 0))
	})

	t.Run("strict utf8 rejects invalid bytes", func(t *testing.T) {
		_, err := readString(t, "name\ncaf\xe9\n", ReadOptions{})
		assert.True(t, errors.IsType(err, errors.ErrorTypeMalformedRecord), "got %v", err)
	})

	t.Run("strict utf8 rejects invalid header", func(t *testing.T) {
		_, err := readString(t, "id,caf\xe9\n1,2\n", ReadOptions{})
		var e *errors.Error
		require.True(t, errors.As(err, &e), "got %v", err)
		assert.Equal(t, errors.ErrorTypeMalformedRecord, e.Type)
		field, _ := e.Detail("field")
		assert.Equal(t, 2, field)
	})

	t.Run("lossy utf8 replaces invalid header bytes", func(t *testing.T) {
		table, err := readString(t, "id,caf\xe9\n1,2\n", ReadOptions{Encoding: EncodingUTF8Lossy})
		require.NoError(t, err)
		defer table.Release()
		assert.Equal(t, []string{"id", "caf\uFFFD"}, table.Schema().Names())
	})

	t.Run("lossy utf8 replaces invalid bytes", func(t *testing.T) {
		table, err := readString(t, "name\ncaf\xe9\n", ReadOptions{Encoding: EncodingUTF8Lossy})
		require.NoError(t, err)
		defer table.Release()
		assert.Equal(t, "caf�", table.Value(0, 0))
	})

	t.Run("unknown label", func(t *testing.T) {
		_, err := readString(t, "a\n1\n", ReadOptions{Encoding: "klingon"})
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "got %v", err)
	})
}

func TestEmptyInput(t *testing.T) {
	table, err := readString(t, "", ReadOptions{})
	require.NoError(t, err)
	defer table.Release()
	assert.Equal(t, 0, table.Schema().Len())
	assert.Equal(t, int64(0), table.NumRows())

	table2, err := readString(t, "a,b\n", ReadOptions{})
	require.NoError(t, err)
	defer table2.Release()
	assert.Equal(t, "[a:str, b:str]", table2.Schema().String())
	assert.Equal(t, int64(0), table2.NumRows())
}

func TestNRows(t *testing.T) {
	table, err := readString(t, "a\n1\n2\n3\n4\n", ReadOptions{NRows: 2})
	require.NoError(t, err)
	defer table.Release()
	assert.Equal(t, int64(2), table.NumRows())
	assert.Equal(t, int64(2), table.Value(0, 1))
}

func TestOptionsValidate(t *testing.T) {
	bad := []ReadOptions{
		{Delimiter: '\n'},
		{Delimiter: '"'},
		{Escape: ','},
		{CommentPrefix: "######"},
		{CommentPrefix: ","},
		{Ragged: "drop"},
		{ParsePolicy: "maybe"},
		{SkipRows: -1},
		{Schema: []Field{{Name: "a"}}, Columns: []string{"x", "y"}},
	}
	for _, o := range bad {
		err := o.Defaults().Validate()
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "%+v: %v", o, err)
	}
	assert.NoError(t, DefaultReadOptions().Validate())
}

func TestCharText(t *testing.T) {
	var c Char
	require.NoError(t, c.UnmarshalText([]byte(`\t`)))
	assert.Equal(t, Char('\t'), c)
	require.NoError(t, c.UnmarshalText([]byte(";")))
	assert.Equal(t, ";", c.String())
	require.NoError(t, c.UnmarshalText(nil))
	assert.Equal(t, Char(0), c)
	assert.Error(t, c.UnmarshalText([]byte("ab")))
}
