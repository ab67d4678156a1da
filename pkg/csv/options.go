package csv

import (
	"strings"
	"unicode/utf8"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
)

// RaggedPolicy decides what happens to records whose field count differs
// from the schema width.
type RaggedPolicy string

const (
	// RaggedError aborts the read with a ragged_row error.
	RaggedError RaggedPolicy = "error"
	// RaggedTruncate drops fields beyond the schema width.
	RaggedTruncate RaggedPolicy = "truncate"
	// RaggedPadNull fills missing trailing fields with null.
	RaggedPadNull RaggedPolicy = "pad-null"
)

// ParsePolicy decides what happens to a value that cannot be converted to its
// column type.
type ParsePolicy string

const (
	// ParseStrict fails the read with a type_parse_failure error.
	ParseStrict ParsePolicy = "strict"
	// ParseLenient substitutes null and counts the substitution.
	ParseLenient ParsePolicy = "lenient"
)

// Encodings understood without a transcoding step.
const (
	EncodingUTF8      = "utf8"
	EncodingUTF8Lossy = "utf8-lossy"
)

const (
	// DefaultInferSchemaLength is the inference window when a header is present.
	DefaultInferSchemaLength = 100
	// DefaultBatchSize is the row count used when NextBatch is given no limit.
	DefaultBatchSize = 64 * 1024
	// DefaultChunkSize is the number of bytes pulled from the source per read.
	DefaultChunkSize = 256 * 1024

	maxCommentPrefix = 5
)

// Char is a single-byte option value. It marshals as a one-character string
// so options survive YAML and JSON round trips; zero marshals as "".
type Char byte

// MarshalText implements encoding.TextMarshaler.
func (c Char) MarshalText() ([]byte, error) {
	if c == 0 {
		return []byte{}, nil
	}
	return []byte{byte(c)}, nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Besides literal
// characters it accepts the escapes \t and \0 ("" also means unset).
func (c *Char) UnmarshalText(text []byte) error {
	switch s := string(text); s {
	case "", `\0`:
		*c = 0
	case `\t`, "tab":
		*c = '\t'
	default:
		if len(s) != 1 {
			return errors.Newf(errors.ErrorTypeConfig, "expected a single byte character, got %q", s)
		}
		*c = Char(s[0])
	}
	return nil
}

// String returns the character as a string.
func (c Char) String() string {
	if c == 0 {
		return ""
	}
	return string(rune(c))
}

// ReadOptions configures every read mode. The zero value is usable: Defaults
// fills unset fields, so options can be built field by field.
type ReadOptions struct {
	Delimiter         Char                `yaml:"delimiter" json:"delimiter"`
	Quote             Char                `yaml:"quote" json:"quote"`
	NoQuote           bool                `yaml:"no_quote,omitempty" json:"no_quote,omitempty"`
	Escape            Char                `yaml:"escape,omitempty" json:"escape,omitempty"`
	HasHeader         *bool               `yaml:"has_header,omitempty" json:"has_header,omitempty"`
	SkipRows          int                 `yaml:"skip_rows,omitempty" json:"skip_rows,omitempty"`
	NullValues        []string            `yaml:"null_values,omitempty" json:"null_values,omitempty"`
	Dtypes            map[string]DataType `yaml:"dtypes,omitempty" json:"dtypes,omitempty"`
	Schema            []Field             `yaml:"schema,omitempty" json:"schema,omitempty"`
	Columns           []string            `yaml:"columns,omitempty" json:"columns,omitempty"`
	InferSchemaLength int                 `yaml:"infer_schema_length,omitempty" json:"infer_schema_length,omitempty"`
	NRows             int                 `yaml:"n_rows,omitempty" json:"n_rows,omitempty"`
	Ragged            RaggedPolicy        `yaml:"ragged,omitempty" json:"ragged,omitempty"`
	ParsePolicy       ParsePolicy         `yaml:"parse_policy,omitempty" json:"parse_policy,omitempty"`
	Encoding          string              `yaml:"encoding,omitempty" json:"encoding,omitempty"`
	CommentPrefix     string              `yaml:"comment_prefix,omitempty" json:"comment_prefix,omitempty"`

	BatchSize  int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	BatchBytes int `yaml:"batch_bytes,omitempty" json:"batch_bytes,omitempty"`
	ChunkSize  int `yaml:"chunk_size,omitempty" json:"chunk_size,omitempty"`
	Workers    int `yaml:"workers,omitempty" json:"workers,omitempty"`
}

// DefaultReadOptions returns options with every default spelled out.
func DefaultReadOptions() ReadOptions {
	return ReadOptions{}.Defaults()
}

// Bool returns a pointer to b, for optional boolean fields.
func Bool(b bool) *bool {
	return &b
}

// Header reports whether the first record holds column names.
func (o ReadOptions) Header() bool {
	return o.HasHeader == nil || *o.HasHeader
}

// Defaults returns a copy of o with unset fields replaced by their defaults.
func (o ReadOptions) Defaults() ReadOptions {
	if o.Delimiter == 0 {
		o.Delimiter = ','
	}
	if o.Quote == 0 && !o.NoQuote {
		o.Quote = '"'
	}
	if o.NoQuote {
		o.Quote = 0
	}
	if o.Escape == o.Quote {
		o.Escape = 0
	}
	if o.HasHeader == nil {
		o.HasHeader = Bool(true)
	}
	if o.NullValues == nil {
		o.NullValues = []string{""}
	}
	if o.Ragged == "" {
		o.Ragged = RaggedError
	}
	if o.ParsePolicy == "" {
		o.ParsePolicy = ParseStrict
	}
	if o.Encoding == "" {
		o.Encoding = EncodingUTF8
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o
}

// inferLimit returns the number of data rows to sample, or -1 for all rows.
func (o ReadOptions) inferLimit() int {
	switch {
	case o.InferSchemaLength < 0:
		return -1
	case o.InferSchemaLength > 0:
		return o.InferSchemaLength
	case o.Header():
		return DefaultInferSchemaLength
	default:
		return -1
	}
}

// Validate checks option consistency. It expects Defaults to have been applied.
func (o ReadOptions) Validate() error {
	special := func(c Char) bool { return c == '\n' || c == '\r' }

	if special(o.Delimiter) || special(o.Quote) || special(o.Escape) {
		return errors.New(errors.ErrorTypeConfig, "delimiter, quote and escape cannot be line terminators")
	}
	if o.Quote != 0 && o.Delimiter == o.Quote {
		return errors.Newf(errors.ErrorTypeConfig, "delimiter and quote are both %q", o.Delimiter.String())
	}
	if o.Escape != 0 && o.Escape == o.Delimiter {
		return errors.Newf(errors.ErrorTypeConfig, "delimiter and escape are both %q", o.Delimiter.String())
	}
	if len(o.CommentPrefix) > maxCommentPrefix {
		return errors.Newf(errors.ErrorTypeConfig, "comment prefix %q is longer than %d bytes", o.CommentPrefix, maxCommentPrefix)
	}
	if o.CommentPrefix != "" {
		first := o.CommentPrefix[0]
		if first == byte(o.Quote) || first == byte(o.Delimiter) || strings.ContainsAny(o.CommentPrefix, "\r\n") {
			return errors.Newf(errors.ErrorTypeConfig, "comment prefix %q collides with the record syntax", o.CommentPrefix)
		}
	}
	if o.SkipRows < 0 || o.NRows < 0 || o.BatchBytes < 0 {
		return errors.New(errors.ErrorTypeConfig, "skip_rows, n_rows and batch_bytes must not be negative")
	}
	switch o.Ragged {
	case RaggedError, RaggedTruncate, RaggedPadNull:
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown ragged-row policy %q", o.Ragged)
	}
	switch o.ParsePolicy {
	case ParseStrict, ParseLenient:
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown parse policy %q", o.ParsePolicy)
	}
	for _, v := range o.NullValues {
		if !utf8.ValidString(v) {
			return errors.Newf(errors.ErrorTypeConfig, "null value %q is not valid UTF-8", v)
		}
	}
	if len(o.Schema) > 0 && len(o.Columns) > 0 && len(o.Schema) != len(o.Columns) {
		return errors.Newf(errors.ErrorTypeConfig, "columns lists %d names but schema has %d fields", len(o.Columns), len(o.Schema))
	}
	if _, err := newDecoder(o.Encoding); err != nil {
		return err
	}
	return nil
}

// ParseRaggedPolicy parses a policy name.
func ParseRaggedPolicy(s string) (RaggedPolicy, error) {
	p := RaggedPolicy(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case RaggedError, RaggedTruncate, RaggedPadNull:
		return p, nil
	case "pad", "padnull", "pad_null":
		return RaggedPadNull, nil
	}
	return "", errors.Newf(errors.ErrorTypeConfig, "unknown ragged-row policy %q", s)
}
