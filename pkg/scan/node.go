// Package scan defines the deferred CSV scan node handed to a query engine.
//
// A Node is plain data: a source, read options, an optional projection and
// an optional predicate. Building and combining nodes performs no I/O, and
// nodes survive a JSON round trip so a planner can ship them elsewhere.
// Execute opens the source and streams filtered, projected batches.
package scan

import (
	"context"
	"slices"

	"github.com/ajitpratap0/nebula-csv/pkg/csv"
	"github.com/ajitpratap0/nebula-csv/pkg/errors"
	"github.com/ajitpratap0/nebula-csv/pkg/json"
	"github.com/ajitpratap0/nebula-csv/pkg/source"
	"github.com/ajitpratap0/nebula-csv/pkg/strings"
)

// Plan is the contract shared by executable plan nodes.
type Plan interface {
	Explain() string
	Children() []Plan
	Execute(ctx context.Context, options ...ExecuteOption) (*Execution, error)
}

// Node is a lazy CSV scan. The zero value is not useful; use New.
type Node struct {
	Source     source.Descriptor `json:"source"`
	Options    csv.ReadOptions   `json:"options"`
	Projection []string          `json:"projection,omitempty"`
	Predicate  string            `json:"predicate,omitempty"`
}

var _ Plan = Node{}

// New returns a scan of src with the given options.
func New(src source.Descriptor, opts csv.ReadOptions) Node {
	return Node{Source: src, Options: opts}
}

// WithProjection returns a copy that outputs only the named columns, in
// that order.
func (n Node) WithProjection(names ...string) Node {
	n.Projection = slices.Clone(names)
	return n
}

// WithPredicate returns a copy that keeps only rows where expr is true. A
// predicate already present is combined with AND.
func (n Node) WithPredicate(expr string) Node {
	if n.Predicate == "" {
		n.Predicate = expr
	} else {
		n.Predicate = "(" + n.Predicate + ") AND (" + expr + ")"
	}
	return n
}

// Validate checks the node without touching the source.
func (n Node) Validate() error {
	if err := n.Source.Validate(); err != nil {
		return err
	}
	if err := n.Options.Defaults().Validate(); err != nil {
		return err
	}
	if err := checkUnique(n.Projection); err != nil {
		return err
	}
	if n.Predicate != "" {
		if _, err := ParsePredicate(n.Predicate); err != nil {
			return err
		}
	}
	return nil
}

func checkUnique(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return errors.Newf(errors.ErrorTypeValidation, "column %q projected twice", name)
		}
		seen[name] = true
	}
	return nil
}

// Children returns nil; a scan is a leaf.
func (n Node) Children() []Plan { return nil }

// Explain renders the node on one line.
func (n Node) Explain() string {
	b := strings.GetBuilder(strings.Small)
	defer strings.PutBuilder(b, strings.Small)

	opts := n.Options.Defaults()
	b.WriteString("CsvScan(source: ")
	b.WriteString(n.Source.String())
	b.WriteString(strings.Sprintf("; delimiter: %q; header: %t", opts.Delimiter.String(), opts.Header()))
	if len(n.Projection) > 0 {
		b.WriteString("; projection: [")
		for i, p := range n.Projection {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(p)
		}
		b.WriteString("]")
	}
	if n.Predicate != "" {
		b.WriteString("; predicate: ")
		b.WriteString(n.Predicate)
	}
	b.WriteString(")")
	return strings.Clone(b.String())
}

// Encode serializes the node as JSON.
func (n Node) Encode() ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode scan node")
	}
	return data, nil
}

// Decode parses a node produced by Encode.
func Decode(data []byte) (Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return Node{}, errors.Wrap(err, errors.ErrorTypeValidation, "failed to decode scan node")
	}
	return n, nil
}

// readColumns returns the cursor projection: the requested columns followed
// by any predicate-only columns. Nil means every column.
func (n Node) readColumns(predicateCols []string) []string {
	if len(n.Projection) == 0 {
		return nil
	}
	cols := slices.Clone(n.Projection)
	for _, c := range predicateCols {
		if !slices.Contains(cols, c) {
			cols = append(cols, c)
		}
	}
	return cols
}
