package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
	"github.com/ajitpratap0/nebula-csv/pkg/testutil"
)

const sample = "a,b\n1,x\n2,\n"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, a := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	require.NoError(t, a.teardown(context.Background()))
	return out.String(), err
}

func TestReadCommand(t *testing.T) {
	path := testutil.WriteFile(t, "s.csv", sample)

	out, err := run(t, "read", path, "--head", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "a:int64")
	assert.Contains(t, out, "b:str")
	assert.Contains(t, out, "(1 of 2 rows)")

	out, err = run(t, "read", path, "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "[{\"a\":1,\"b\":\"x\"},{\"a\":2,\"b\":null}]\n", out)

	_, err = run(t, "read", path, "-o", "xml")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "got %v", err)
}

func TestReadFlagsReachOptions(t *testing.T) {
	path := testutil.WriteFile(t, "semi.csv", "1;NA\n2;3.5\n")

	out, err := run(t, "read", path, "--delimiter", ";", "--no-header", "--null", "NA",
		"--dtype", "column_2=float", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "[{\"column_1\":1,\"column_2\":null},{\"column_1\":2,\"column_2\":3.5}]\n", out)
}

func TestEnvironmentOverlay(t *testing.T) {
	path := testutil.WriteFile(t, "tab.csv", "a\tb\n1\t2\n")
	t.Setenv("NEBULA_CSV_DELIMITER", `\t`)

	out, err := run(t, "read", path, "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "[{\"a\":1,\"b\":2}]\n", out)
}

func TestConfigFile(t *testing.T) {
	path := testutil.WriteFile(t, "pipe.csv", "a|b\n1|2\n")
	cfg := testutil.WriteFile(t, "cfg.yaml", "read:\n  delimiter: \"|\"\n")

	out, err := run(t, "read", path, "--config", cfg, "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "[{\"a\":1,\"b\":2}]\n", out)
}

func TestBatchesCommand(t *testing.T) {
	path := testutil.WriteFile(t, "s.csv", sample)

	out, err := run(t, "batches", path, "--batch-size", "1", "--mmap")
	require.NoError(t, err)
	assert.Contains(t, out, "schema [a:int64, b:str]")
	assert.Contains(t, out, "batch 0 rows 1 offset 8\n")
	assert.Contains(t, out, "batch 1 rows 1 offset 11\n")
	assert.Contains(t, out, "total rows 2")
}

func TestScanCommand(t *testing.T) {
	path := testutil.WriteFile(t, "s.csv", sample)

	out, err := run(t, "scan", path, "--select", "b", "--where", "a > 1", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "[{\"b\":null}]\n", out)

	out, err = run(t, "scan", path, "--where", "a >", "--explain")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), "got %v", err)
	assert.Empty(t, out)

	out, err = run(t, "scan", path, "--where", "a = 1", "--explain")
	require.NoError(t, err)
	assert.Contains(t, out, "CsvScan(source: "+path)
	assert.Contains(t, out, "predicate: a = 1")
}

func TestScanIPC(t *testing.T) {
	path := testutil.WriteFile(t, "s.csv", sample)
	ipcPath := filepath.Join(t.TempDir(), "out.arrows")

	_, err := run(t, "scan", path, "--where", "b IS NOT NULL", "--ipc", ipcPath)
	require.NoError(t, err)

	f, err := os.Open(ipcPath)
	require.NoError(t, err)
	defer f.Close()
	r, err := ipc.NewReader(f)
	require.NoError(t, err)
	defer r.Release()

	var rows int64
	for r.Next() {
		rows += r.Record().NumRows()
	}
	require.NoError(t, r.Err())
	assert.Equal(t, int64(1), rows)
}

func TestSchemaCommand(t *testing.T) {
	path := testutil.WriteFile(t, "s.csv", sample)

	out, err := run(t, "schema", path)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"a","type":"int64"},{"name":"b","type":"str"}]`, out)
}

func TestArchiveCommands(t *testing.T) {
	zipPath := testutil.WriteZip(t, "e.zip",
		testutil.ZipMember{Name: "x/one.csv", Content: "a\n1\n"},
		testutil.ZipMember{Name: "two.csv", Content: "b\ny\n", Zstd: true},
		testutil.ZipMember{Name: "notes.txt", Content: "hello"},
	)

	out, err := run(t, "archive", "ls", zipPath)
	require.NoError(t, err)
	assert.Contains(t, out, "x/one.csv")
	assert.Contains(t, out, "zstd")
	assert.Contains(t, out, "notes.txt")

	out, err = run(t, "archive", "read", zipPath, "one.csv", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "[{\"a\":1}]\n", out)

	out, err = run(t, "archive", "read", zipPath, "--all", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "== two.csv\n[{\"b\":\"y\"}]\n== x/one.csv\n[{\"a\":1}]\n", out)

	_, err = run(t, "archive", "read", zipPath)
	assert.True(t, errors.IsType(err, errors.ErrorTypeArchiveMemberAmbiguous), "got %v", err)
	assert.Equal(t, 3, exitCode(err))
}

func TestErrorsAndExitCodes(t *testing.T) {
	_, err := run(t, "read", filepath.Join(t.TempDir(), "missing.csv"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeSourceUnavailable), "got %v", err)
	assert.Equal(t, 3, exitCode(err))

	path := testutil.WriteFile(t, "s.csv", sample)
	_, err = run(t, "read", path, "--dtype", "nonsense")
	assert.Equal(t, 2, exitCode(err))

	_, err = run(t, "read", path, "--ragged", "sometimes")
	assert.Equal(t, 2, exitCode(err))

	ragged := testutil.WriteFile(t, "r.csv", "a,b\n1,2,3\n")
	_, err = run(t, "read", ragged)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRaggedRow), "got %v", err)
	assert.Equal(t, 1, exitCode(err))
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "nebula-csv v"+version)
}
