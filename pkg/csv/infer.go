package csv

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
	stringpool "github.com/ajitpratap0/nebula-csv/pkg/strings"
)

var headerNames = stringpool.NewIntern()

// resolveNames decides the column names from the header record (nil when the
// input has none), the width of the first data record and opts.Columns.
func resolveNames(header []string, width int, opts ReadOptions) ([]string, error) {
	var names []string
	switch {
	case len(opts.Schema) > 0:
		names = make([]string, len(opts.Schema))
		for i, f := range opts.Schema {
			names[i] = f.Name
		}
	case header != nil:
		names = make([]string, len(header))
		for i, h := range header {
			if h == "" {
				h = generatedName(i)
			}
			names[i] = h
		}
	default:
		n := width
		if len(opts.Columns) > n {
			n = len(opts.Columns)
		}
		names = make([]string, n)
		for i := range names {
			names[i] = generatedName(i)
		}
	}

	if len(opts.Columns) > len(names) {
		return nil, errors.Newf(errors.ErrorTypeSchemaConflict, "%d column names given for %d columns", len(opts.Columns), len(names))
	}
	copy(names, opts.Columns)

	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			return nil, errors.Newf(errors.ErrorTypeSchemaConflict, "duplicate column name %q", n).
				WithDetail("column", n)
		}
		seen[n] = struct{}{}
	}
	return names, nil
}

func generatedName(i int) string {
	return "column_" + strconv.Itoa(i+1)
}

// headerStrings converts a header record to names. Invalid UTF-8 is a
// malformed record unless the encoding is lossy, as for data fields.
func headerStrings(rows *Rows, i int, lossy bool) ([]string, error) {
	out := make([]string, rows.NumFields(i))
	for j := range out {
		raw := rows.Field(i, j)
		switch {
		case utf8.Valid(raw):
			out[j] = headerNames.GetBytes(raw)
		case lossy:
			out[j] = strings.ToValidUTF8(string(raw), "\uFFFD")
		default:
			return nil, errors.New(errors.ErrorTypeMalformedRecord, "invalid UTF-8 in header").
				WithDetail("field", j+1).
				WithDetail("line", rows.Line(i))
		}
	}
	return out, nil
}

// inferSchema assigns a type to every column from the sampled window. A
// supplied schema or per-column overrides take precedence over inference.
func inferSchema(names []string, window *Rows, opts ReadOptions, nulls *nullSet, logger *zap.Logger) (*Schema, error) {
	if len(opts.Schema) > 0 {
		fields := make([]Field, len(opts.Schema))
		for i, f := range opts.Schema {
			fields[i] = Field{Name: names[i], Type: f.Type}
		}
		for name, dt := range opts.Dtypes {
			idx := indexOf(names, name)
			if idx < 0 {
				return nil, unknownOverride(name)
			}
			if fields[idx].Type != dt {
				return nil, errors.Newf(errors.ErrorTypeSchemaConflict,
					"dtype override %s for column %q disagrees with supplied schema type %s", dt, name, fields[idx].Type).
					WithDetail("column", name)
			}
		}
		return NewSchema(fields...)
	}

	types := make([]DataType, len(names))
	fixed := make([]bool, len(names))
	for name, dt := range opts.Dtypes {
		idx := indexOf(names, name)
		if idx < 0 {
			return nil, unknownOverride(name)
		}
		types[idx] = dt
		fixed[idx] = true
	}

	for i := 0; i < window.Len(); i++ {
		n := window.NumFields(i)
		if n > len(names) {
			n = len(names)
		}
		for j := 0; j < n; j++ {
			if fixed[j] || types[j] == String {
				continue
			}
			raw := window.Field(i, j)
			if nulls.contains(raw) {
				continue
			}
			types[j] = Promote(types[j], classify(stringpool.BytesToString(raw)))
		}
	}

	fields := make([]Field, len(names))
	for j, name := range names {
		dt := types[j]
		if dt == Null && !fixed[j] {
			dt = String
		}
		fields[j] = Field{Name: name, Type: dt}
	}

	schema, err := NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	logger.Debug("schema inferred",
		zap.Int("window_rows", window.Len()),
		zap.Int("overrides", len(opts.Dtypes)),
		zap.Stringer("schema", schema))
	return schema, nil
}

// validateWindow checks the sampled rows against the frozen schema so that
// strict failures inside the window abort the read before any batch.
func validateWindow(schema *Schema, window *Rows, opts ReadOptions, nulls *nullSet) error {
	strict := opts.ParsePolicy != ParseLenient
	w := schema.Len()
	for i := 0; i < window.Len(); i++ {
		n := window.NumFields(i)
		m := n
		if w < m {
			m = w
		}
		if strict {
			for j := 0; j < m; j++ {
				f := schema.Field(j)
				if f.Type == String {
					continue
				}
				raw := window.Field(i, j)
				if nulls.contains(raw) {
					continue
				}
				if !convertible(f.Type, stringpool.BytesToString(raw)) {
					return typeParseFailure(f, raw, window.Line(i))
				}
			}
		}
		if n != w {
			if err := checkRagged(opts.Ragged, n, w, window.Line(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func unknownOverride(name string) error {
	return errors.Newf(errors.ErrorTypeSchemaConflict, "dtype override for unknown column %q", name).
		WithDetail("column", name)
}
