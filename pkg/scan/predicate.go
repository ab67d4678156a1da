package scan

import (
	"math"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/ajitpratap0/nebula-csv/pkg/csv"
	"github.com/ajitpratap0/nebula-csv/pkg/errors"
)

// Predicate AST. Precedence from loosest to tightest: OR, AND, NOT.

type predicateExpr struct {
	Or []*andExpr `parser:"@@ ( 'OR' @@ )*"`
}

type andExpr struct {
	And []*unaryExpr `parser:"@@ ( 'AND' @@ )*"`
}

type unaryExpr struct {
	Not   *unaryExpr     `parser:"  'NOT' @@"`
	Group *predicateExpr `parser:"| '(' @@ ')'"`
	Cmp   *comparison    `parser:"| @@"`
}

type comparison struct {
	Column string   `parser:"@(Ident | QuotedIdent)"`
	Is     *isNull  `parser:"( 'IS' @@"`
	Op     string   `parser:"| @Operator"`
	Value  *literal `parser:"  @@ )"`
}

type isNull struct {
	Not bool `parser:"@'NOT'? 'NULL'"`
}

type literal struct {
	Number *string `parser:"  @Number"`
	Str    *string `parser:"| @String"`
	Bool   *string `parser:"| @('TRUE' | 'FALSE')"`
}

var (
	predicateLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Keyword", Pattern: `(?i)\b(AND|OR|NOT|IS|NULL|TRUE|FALSE)\b`},
		{Name: "QuotedIdent", Pattern: "`[^`]+`"},
		{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_.]*`},
		{Name: "Number", Pattern: `[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?`},
		{Name: "String", Pattern: `'(?:[^']|'')*'`},
		{Name: "Operator", Pattern: `==|!=|<>|>=|<=|[=<>]`},
		{Name: "Punct", Pattern: `[()]`},
		{Name: "Whitespace", Pattern: `\s+`},
	})

	predicateParser = participle.MustBuild[predicateExpr](
		participle.Lexer(predicateLexer),
		participle.Map(unquote, "String", "QuotedIdent"),
		participle.CaseInsensitive("Keyword"),
		participle.Elide("Whitespace"),
		participle.UseLookahead(2),
	)
)

func unquote(tok lexer.Token) (lexer.Token, error) {
	v := tok.Value[1 : len(tok.Value)-1]
	if tok.Value[0] == '\'' {
		v = strings.ReplaceAll(v, "''", "'")
	}
	tok.Value = v
	return tok, nil
}

// ParsePredicate checks predicate syntax and returns the referenced columns
// in first-use order.
func ParsePredicate(expr string) ([]string, error) {
	ast, err := parsePredicate(expr)
	if err != nil {
		return nil, err
	}
	var cols []string
	seen := map[string]bool{}
	ast.walk(func(c *comparison) {
		if !seen[c.Column] {
			seen[c.Column] = true
			cols = append(cols, c.Column)
		}
	})
	return cols, nil
}

func parsePredicate(expr string) (*predicateExpr, error) {
	ast, err := predicateParser.ParseString("", expr)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid predicate").
			WithDetail("predicate", expr)
	}
	return ast, nil
}

func (e *predicateExpr) walk(fn func(*comparison)) {
	for _, a := range e.Or {
		for _, u := range a.And {
			u.walk(fn)
		}
	}
}

func (u *unaryExpr) walk(fn func(*comparison)) {
	switch {
	case u.Not != nil:
		u.Not.walk(fn)
	case u.Group != nil:
		u.Group.walk(fn)
	case u.Cmp != nil:
		fn(u.Cmp)
	}
}

// truth is a three-valued logic value.
type truth uint8

const (
	tFalse truth = iota
	tTrue
	tUnknown
)

func and(a, b truth) truth {
	switch {
	case a == tFalse || b == tFalse:
		return tFalse
	case a == tUnknown || b == tUnknown:
		return tUnknown
	}
	return tTrue
}

func or(a, b truth) truth {
	switch {
	case a == tTrue || b == tTrue:
		return tTrue
	case a == tUnknown || b == tUnknown:
		return tUnknown
	}
	return tFalse
}

func not(a truth) truth {
	switch a {
	case tTrue:
		return tFalse
	case tFalse:
		return tTrue
	}
	return tUnknown
}

// evaluator computes one truth value per row of a record.
type evaluator func(rec arrow.Record) []truth

// compilePredicate resolves columns against schema and type-checks literals.
func compilePredicate(expr string, schema *csv.Schema) (evaluator, error) {
	ast, err := parsePredicate(expr)
	if err != nil {
		return nil, err
	}
	return ast.compile(schema)
}

func (e *predicateExpr) compile(schema *csv.Schema) (evaluator, error) {
	terms := make([]evaluator, 0, len(e.Or))
	for _, a := range e.Or {
		ev, err := a.compile(schema)
		if err != nil {
			return nil, err
		}
		terms = append(terms, ev)
	}
	return combine(terms, or), nil
}

func (a *andExpr) compile(schema *csv.Schema) (evaluator, error) {
	terms := make([]evaluator, 0, len(a.And))
	for _, u := range a.And {
		ev, err := u.compile(schema)
		if err != nil {
			return nil, err
		}
		terms = append(terms, ev)
	}
	return combine(terms, and), nil
}

func combine(terms []evaluator, op func(a, b truth) truth) evaluator {
	if len(terms) == 1 {
		return terms[0]
	}
	return func(rec arrow.Record) []truth {
		out := terms[0](rec)
		for _, t := range terms[1:] {
			next := t(rec)
			for i := range out {
				out[i] = op(out[i], next[i])
			}
		}
		return out
	}
}

func (u *unaryExpr) compile(schema *csv.Schema) (evaluator, error) {
	switch {
	case u.Not != nil:
		inner, err := u.Not.compile(schema)
		if err != nil {
			return nil, err
		}
		return func(rec arrow.Record) []truth {
			out := inner(rec)
			for i := range out {
				out[i] = not(out[i])
			}
			return out
		}, nil
	case u.Group != nil:
		return u.Group.compile(schema)
	}
	return u.Cmp.compile(schema)
}

func (c *comparison) compile(schema *csv.Schema) (evaluator, error) {
	col, ok := schema.Index(c.Column)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "predicate references unknown column %q", c.Column).
			WithDetail("column", c.Column)
	}

	if c.Is != nil {
		want := !c.Is.Not
		return func(rec arrow.Record) []truth {
			a := rec.Column(col)
			out := make([]truth, a.Len())
			for i := range out {
				if a.IsNull(i) == want {
					out[i] = tTrue
				}
			}
			return out
		}, nil
	}

	field := schema.Field(col)
	cmp, err := c.comparator(field)
	if err != nil {
		return nil, err
	}
	test, err := opTest(c.Op)
	if err != nil {
		return nil, err
	}
	return func(rec arrow.Record) []truth {
		a := rec.Column(col)
		out := make([]truth, a.Len())
		for i := range out {
			if a.IsNull(i) {
				out[i] = tUnknown
				continue
			}
			r, ok := cmp(a, i)
			switch {
			case !ok:
				out[i] = tUnknown
			case test(r):
				out[i] = tTrue
			}
		}
		return out
	}, nil
}

// comparator returns the three-way comparison of element i against the
// literal. ok is false when the comparison is undefined (NaN).
type comparator func(a arrow.Array, i int) (r int, ok bool)

func (c *comparison) comparator(f csv.Field) (comparator, error) {
	lit := c.Value
	mismatch := func(kind string) error {
		return errors.Newf(errors.ErrorTypeValidation, "cannot compare %s column %q with %s literal", f.Type, f.Name, kind).
			WithDetail("column", f.Name)
	}

	switch f.Type {
	case csv.Integer:
		if lit.Number == nil {
			return nil, mismatch(lit.kind())
		}
		if n, err := strconv.ParseInt(*lit.Number, 10, 64); err == nil {
			return func(a arrow.Array, i int) (int, bool) {
				return compareOrdered(a.(*array.Int64).Value(i), n), true
			}, nil
		}
		v, err := strconv.ParseFloat(*lit.Number, 64)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid number literal")
		}
		return func(a arrow.Array, i int) (int, bool) {
			return compareFloat(float64(a.(*array.Int64).Value(i)), v)
		}, nil

	case csv.Float:
		if lit.Number == nil {
			return nil, mismatch(lit.kind())
		}
		v, err := strconv.ParseFloat(*lit.Number, 64)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid number literal")
		}
		return func(a arrow.Array, i int) (int, bool) {
			return compareFloat(a.(*array.Float64).Value(i), v)
		}, nil

	case csv.Boolean:
		if lit.Bool == nil {
			return nil, mismatch(lit.kind())
		}
		if c.Op != "=" && c.Op != "==" && c.Op != "!=" && c.Op != "<>" {
			return nil, errors.Newf(errors.ErrorTypeValidation, "operator %s is not defined for bool column %q", c.Op, f.Name)
		}
		want := strings.EqualFold(*lit.Bool, "true")
		return func(a arrow.Array, i int) (int, bool) {
			if a.(*array.Boolean).Value(i) == want {
				return 0, true
			}
			return 1, true
		}, nil

	case csv.String:
		if lit.Str == nil {
			return nil, mismatch(lit.kind())
		}
		s := *lit.Str
		return func(a arrow.Array, i int) (int, bool) {
			return strings.Compare(a.(*array.String).Value(i), s), true
		}, nil
	}

	// Null columns hold no values to compare.
	return func(arrow.Array, int) (int, bool) { return 0, false }, nil
}

func (l *literal) kind() string {
	switch {
	case l.Number != nil:
		return "number"
	case l.Str != nil:
		return "string"
	}
	return "boolean"
}

func compareOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat(a, b float64) (int, bool) {
	if math.IsNaN(a) || math.IsNaN(b) {
		return 0, false
	}
	return compareOrdered(a, b), true
}

func opTest(op string) (func(int) bool, error) {
	switch op {
	case "=", "==":
		return func(r int) bool { return r == 0 }, nil
	case "!=", "<>":
		return func(r int) bool { return r != 0 }, nil
	case "<":
		return func(r int) bool { return r < 0 }, nil
	case "<=":
		return func(r int) bool { return r <= 0 }, nil
	case ">":
		return func(r int) bool { return r > 0 }, nil
	case ">=":
		return func(r int) bool { return r >= 0 }, nil
	}
	return nil, errors.Newf(errors.ErrorTypeValidation, "unknown operator %q", op)
}
