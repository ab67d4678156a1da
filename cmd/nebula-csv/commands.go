package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-csv/pkg/archive"
	"github.com/ajitpratap0/nebula-csv/pkg/csv"
	"github.com/ajitpratap0/nebula-csv/pkg/errors"
	"github.com/ajitpratap0/nebula-csv/pkg/ingest"
	"github.com/ajitpratap0/nebula-csv/pkg/json"
	"github.com/ajitpratap0/nebula-csv/pkg/scan"
)

func (a *app) csvOptions() []csv.Option {
	return []csv.Option{csv.WithLogger(a.log)}
}

func (a *app) readCommand() *cobra.Command {
	var head int
	var output string

	cmd := &cobra.Command{
		Use:   "read PATH",
		Short: "Read a CSV eagerly and print its schema and rows",
		Long: `Read a whole CSV into memory and print it.

PATH may be a local file, s3://bucket/key, gs://bucket/object, a compressed
file (.gz .zst .lz4 .sz .s2) or ARCHIVE.zip#member.

Example:
  nebula-csv read orders.csv --head 20
  nebula-csv read exports.zip#orders.csv --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.descriptor(args[0])
			if err != nil {
				return err
			}
			table, err := ingest.ReadSource(cmd.Context(), d, a.cfg.ReadOptions(), a.csvOptions()...)
			if err != nil {
				return err
			}
			defer table.Release()
			return printTable(cmd.OutOrStdout(), table, head, output)
		},
	}
	cmd.Flags().IntVar(&head, "head", 10, "Rows to print (0 for all)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func (a *app) batchesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "batches PATH",
		Short: "Stream a CSV in batches and print one line per batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.descriptor(args[0])
			if err != nil {
				return err
			}
			opts := a.cfg.ReadOptions()
			cur, err := ingest.OpenSource(cmd.Context(), d, opts, a.csvOptions()...)
			if err != nil {
				return err
			}
			defer cur.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "schema %s\n", cur.Schema())
			var rows int64
			for {
				b, err := cur.NextBatch(cmd.Context(), opts.BatchSize)
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "batch %d rows %d offset %d\n", b.Index, b.Len(), b.Offset)
				rows += b.NumRows()
				b.Release()
			}
			stats := cur.Stats()
			fmt.Fprintf(out, "total rows %d ragged %d null_substitutions %d\n",
				rows, stats.RaggedRows, stats.NullSubstitutions)
			return cur.Close()
		},
	}
}

func (a *app) scanCommand() *cobra.Command {
	var (
		selectCols []string
		where      string
		explain    bool
		ipcPath    string
		head       int
		output     string
	)

	cmd := &cobra.Command{
		Use:   "scan PATH",
		Short: "Run a lazy scan with projection and predicate",
		Long: `Build a lazy scan over PATH and execute it.

Example:
  nebula-csv scan orders.csv --select id,total --where "total > 10 AND status = 'paid'"
  nebula-csv scan orders.csv --where "region IS NULL" --ipc out.arrows`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.descriptor(args[0])
			if err != nil {
				return err
			}
			node := scan.New(d, a.cfg.ReadOptions()).WithProjection(selectCols...)
			if where != "" {
				node = node.WithPredicate(where)
			}
			if explain {
				if err := node.Validate(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), node.Explain())
				return nil
			}

			exec, err := node.Execute(cmd.Context(), scan.WithLogger(a.log))
			if err != nil {
				return err
			}
			if ipcPath != "" {
				return a.writeIPC(cmd.Context(), exec, ipcPath, cmd.OutOrStdout())
			}
			table, err := exec.Collect(cmd.Context())
			if err != nil {
				return err
			}
			defer table.Release()
			return printTable(cmd.OutOrStdout(), table, head, output)
		},
	}
	cmd.Flags().StringSliceVar(&selectCols, "select", nil, "Columns to keep, in output order")
	cmd.Flags().StringVar(&where, "where", "", "Row predicate, e.g. \"age > 30 AND name IS NOT NULL\"")
	cmd.Flags().BoolVar(&explain, "explain", false, "Print the plan without reading")
	cmd.Flags().StringVar(&ipcPath, "ipc", "", "Write the result as an Arrow IPC stream to this file (- for stdout)")
	cmd.Flags().IntVar(&head, "head", 10, "Rows to print (0 for all)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func (a *app) writeIPC(ctx context.Context, exec *scan.Execution, path string, stdout io.Writer) error {
	w := stdout
	if path != "-" {
		f, err := os.Create(path) //nolint:gosec // G304: output path is chosen by the user
		if err != nil {
			exec.Close()
			return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create ipc output").WithDetail("path", path)
		}
		defer f.Close()
		w = f
	}
	rows, err := exec.WriteIPC(ctx, w)
	if err != nil {
		return err
	}
	a.log.Info("ipc stream written", zap.String("path", path), zap.Int64("rows", rows))
	return nil
}

func (a *app) schemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema PATH",
		Short: "Print the inferred schema as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.descriptor(args[0])
			if err != nil {
				return err
			}
			cur, err := ingest.OpenSource(cmd.Context(), d, a.cfg.ReadOptions(), a.csvOptions()...)
			if err != nil {
				return err
			}
			fields := cur.Schema().Fields()
			if err := cur.Close(); err != nil {
				return err
			}
			data, err := json.MarshalIndent(fields, "", "  ")
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode schema")
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

func (a *app) archiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect and read zip archives",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls ZIP",
		Short: "List archive members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arc, err := archive.Open(args[0])
			if err != nil {
				return err
			}
			defer arc.Close()
			return printMembers(cmd.OutOrStdout(), arc.Members())
		},
	})

	var all bool
	var head int
	var output string
	read := &cobra.Command{
		Use:   "read ZIP [MEMBER]",
		Short: "Read one CSV member, or every CSV member with --all",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if all {
				if len(args) == 2 {
					return errors.New(errors.ErrorTypeConfig, "--all does not take a member")
				}
				tables, err := ingest.ReadAllFromArchive(cmd.Context(), args[0], a.cfg.ReadOptions(), a.csvOptions()...)
				if err != nil {
					return err
				}
				defer func() {
					for _, t := range tables {
						t.Release()
					}
				}()
				for _, name := range sortedKeys(tables) {
					fmt.Fprintf(out, "== %s\n", name)
					if err := printTable(out, tables[name], head, output); err != nil {
						return err
					}
				}
				return nil
			}

			member := ""
			if len(args) == 2 {
				member = strings.TrimSpace(args[1])
			}
			table, err := ingest.ReadFromArchive(cmd.Context(), args[0], member, a.cfg.ReadOptions(), a.csvOptions()...)
			if err != nil {
				return err
			}
			defer table.Release()
			return printTable(out, table, head, output)
		},
	}
	read.Flags().BoolVar(&all, "all", false, "Read every CSV member")
	read.Flags().IntVar(&head, "head", 10, "Rows to print per member (0 for all)")
	read.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	cmd.AddCommand(read)
	return cmd
}
