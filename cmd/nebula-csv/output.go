package main

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/ajitpratap0/nebula-csv/pkg/archive"
	"github.com/ajitpratap0/nebula-csv/pkg/csv"
	"github.com/ajitpratap0/nebula-csv/pkg/errors"
	"github.com/ajitpratap0/nebula-csv/pkg/json"
)

// printTable writes up to head rows (all when head <= 0) as an aligned text
// table or as a JSON array of objects.
func printTable(w io.Writer, t *csv.Table, head int, format string) error {
	n := t.Len()
	if head > 0 && head < n {
		n = head
	}
	switch format {
	case "json":
		return printJSON(w, t, n)
	case "", "table":
		return printText(w, t, n)
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown output format %q", format)
	}
}

func printText(w io.Writer, t *csv.Table, n int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fields := t.Schema().Fields()
	for i, f := range fields {
		sep := "\t"
		if i == len(fields)-1 {
			sep = "\n"
		}
		fmt.Fprintf(tw, "%s:%s%s", f.Name, f.Type, sep)
	}
	for r := 0; r < n; r++ {
		for c := range fields {
			sep := "\t"
			if c == len(fields)-1 {
				sep = "\n"
			}
			fmt.Fprintf(tw, "%s%s", formatValue(t.Value(c, r)), sep)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%d of %d rows)\n", n, t.Len())
	return err
}

func printJSON(w io.Writer, t *csv.Table, n int) error {
	names := t.Schema().Names()
	enc := json.NewStreamingEncoder(w, true)
	obj := json.NewObjectWriter(256)
	for r := 0; r < n; r++ {
		obj.Reset()
		for c, name := range names {
			if err := obj.WriteField(name, jsonValue(t.Value(c, r))); err != nil {
				return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode row")
			}
		}
		if err := enc.EncodeRaw(obj.Bytes()); err != nil {
			return err
		}
	}
	return enc.Close()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// jsonValue maps values JSON cannot carry: non-finite floats become strings.
func jsonValue(v any) any {
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return v
}

func printMembers(w io.Writer, members []archive.Member) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tCOMPRESSED\tMETHOD\tMODIFIED\tCSV")
	for _, m := range members {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%t\n",
			m.Name, m.Size, m.CompressedSize, m.MethodName(), m.Modified.UTC().Format(time.RFC3339), archive.IsCSVName(m.Name))
	}
	return tw.Flush()
}

func sortedKeys(tables map[string]*csv.Table) []string {
	keys := make([]string, 0, len(tables))
	for k := range tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
