package csv

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
	stringpool "github.com/ajitpratap0/nebula-csv/pkg/strings"
)

// Field is a named, typed column.
type Field struct {
	Name string   `yaml:"name" json:"name"`
	Type DataType `yaml:"type" json:"type"`
}

// Schema is an ordered list of uniquely named columns. It is immutable.
type Schema struct {
	fields []Field
	index  map[string]int
	arrow  *arrow.Schema
}

// NewSchema builds a schema. Duplicate names are a schema conflict.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	copy(s.fields, fields)

	arrowFields := make([]arrow.Field, len(fields))
	for i, f := range s.fields {
		if _, dup := s.index[f.Name]; dup {
			return nil, errors.Newf(errors.ErrorTypeSchemaConflict, "duplicate column name %q", f.Name).
				WithDetail("column", f.Name)
		}
		s.index[f.Name] = i
		arrowFields[i] = arrow.Field{Name: f.Name, Type: f.Type.ArrowType(), Nullable: true}
	}
	s.arrow = arrow.NewSchema(arrowFields, nil)
	return s, nil
}

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.fields) }

// Field returns the i-th column.
func (s *Schema) Field(i int) Field { return s.fields[i] }

// Fields returns a copy of the columns.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns the column names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// Index returns the position of the named column.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Arrow returns the equivalent arrow schema; every field is nullable.
func (s *Schema) Arrow() *arrow.Schema { return s.arrow }

// Select returns the sub-schema of the named columns, in the order given,
// together with their positions in s.
func (s *Schema) Select(names []string) (*Schema, []int, error) {
	positions := make([]int, len(names))
	fields := make([]Field, len(names))
	for i, name := range names {
		idx, ok := s.index[name]
		if !ok {
			return nil, nil, errors.Newf(errors.ErrorTypeValidation, "column %q not found", name).
				WithDetail("column", name)
		}
		positions[i] = idx
		fields[i] = s.fields[idx]
	}
	sub, err := NewSchema(fields...)
	if err != nil {
		return nil, nil, err
	}
	return sub, positions, nil
}

// Equal reports whether both schemas have the same names and types in order.
func (s *Schema) Equal(other *Schema) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.fields) != len(other.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i] != other.fields[i] {
			return false
		}
	}
	return true
}

// String renders the schema as [name:type, ...].
func (s *Schema) String() string {
	b := stringpool.GetBuilder(stringpool.Small)
	defer stringpool.PutBuilder(b, stringpool.Small)

	_ = b.WriteByte('[')
	for i, f := range s.fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Name)
		_ = b.WriteByte(':')
		b.WriteString(f.Type.String())
	}
	_ = b.WriteByte(']')
	return stringpool.Clone(b.String())
}
