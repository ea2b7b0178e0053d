package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/storscope/internal/datafile"
	"github.com/xtxerr/storscope/internal/errors"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func genFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.0")
	code, out, stderr := runCLI(t, "gen", path, "--docs", "200", "--seed", "11", "--extent-size", "65536", "-o", "json")
	require.Equal(t, 0, code, stderr)

	var res genResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, datafile.GenCollection, res.Collection)
	assert.Equal(t, 200, res.Documents)
	assert.Equal(t, 2, res.Indexes)
	return path
}

func TestDiskCommand(t *testing.T) {
	path := genFile(t)

	code, out, stderr := runCLI(t, "disk", path, datafile.GenCollection, "--chunks", "4", "-o", "json")
	require.Equal(t, 0, code, stderr)

	var d struct {
		Namespace string            `json:"ns"`
		Chunks    []json.RawMessage `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, datafile.GenCollection, d.Namespace)
	assert.Len(t, d.Chunks, 4)
}

func TestDiskCommandAllExtentsText(t *testing.T) {
	path := genFile(t)

	code, out, stderr := runCLI(t, "disk", path, datafile.GenCollection, "--all-extents", "--chunks", "2", "-o", "text")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, strings.ToLower(out), "total")
}

func TestIndexCommand(t *testing.T) {
	path := genFile(t)
	ns := datafile.IndexNamespace(datafile.GenCollection, "n_1")

	code, out, stderr := runCLI(t, "index", path, ns, "--expand", "0", "-o", "yaml")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "name: n_1")
	assert.Contains(t, out, "expandedNodes:")
}

func TestExitCodes(t *testing.T) {
	path := genFile(t)

	code, _, stderr := runCLI(t, "disk", path, "missing.coll", "--chunks", "2")
	assert.Equal(t, errors.CodeNotFound, code)
	assert.Contains(t, stderr, "namespace not found")

	code, _, _ = runCLI(t, "disk", path, datafile.GenCollection, "--chunks", "-3")
	assert.Equal(t, errors.CodeInvalidRequest, code)

	code, _, _ = runCLI(t, "disk", path, datafile.GenCollection, "--range", "nope")
	assert.Equal(t, errors.CodeInvalidRequest, code)

	code, _, _ = runCLI(t, "index", path, datafile.GenCollection)
	assert.Equal(t, errors.CodeNotFound, code)

	code, _, _ = runCLI(t, "disk", path, datafile.GenCollection, "-o", "xml")
	assert.Equal(t, errors.CodeInvalidRequest, code)
}

func TestProtoRoundTrip(t *testing.T) {
	path := genFile(t)
	stream := filepath.Join(t.TempDir(), "reports.pb")

	var buf bytes.Buffer
	code := run(context.Background(), []string{"disk", path, datafile.GenCollection, "--chunks", "2", "-o", "proto"}, &buf, &bytes.Buffer{})
	require.Equal(t, 0, code)
	require.NoError(t, os.WriteFile(stream, buf.Bytes(), 0o644))

	code, out, stderr := runCLI(t, "cat", stream)
	require.Equal(t, 0, code, stderr)

	var d map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, datafile.GenCollection, d["ns"])
}

func TestExportAndQuery(t *testing.T) {
	path := genFile(t)
	dir := t.TempDir()

	code, _, stderr := runCLI(t, "export", path, "--dir", dir, "--analysis-id", "a1", "--chunks", "2", "--skip-mem", "-o", "json")
	require.Equal(t, 0, code, stderr)

	code, out, stderr := runCLI(t, "query", dir, "SELECT COUNT(DISTINCT extent) AS n FROM disk_chunks", "-o", "json")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, `"n"`)

	code, out, stderr = runCLI(t, "query", dir, "--fragmentation", "--limit", "1", "-o", "json")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "utilization")

	code, _, _ = runCLI(t, "query", dir)
	assert.Equal(t, errors.CodeInvalidRequest, code)
}

func TestMetricsTextfile(t *testing.T) {
	path := genFile(t)
	metricsPath := filepath.Join(t.TempDir(), "storscope.prom")

	code, _, stderr := runCLI(t, "disk", path, datafile.GenCollection, "--chunks", "2", "-o", "json", "--metrics-file", metricsPath)
	require.Equal(t, 0, code, stderr)
	assert.FileExists(t, metricsPath)
}

func TestChunkFlagsRange(t *testing.T) {
	c := chunkFlags{rangeSpec: "0x100:4096", count: 2}
	req, err := c.request()
	require.NoError(t, err)
	assert.Equal(t, int64(256), req.Start)
	assert.Equal(t, int64(4096), req.End)
	assert.Equal(t, 2, req.ChunkCount)

	c = chunkFlags{rangeSpec: ":512", size: 64}
	req, err = c.request()
	require.NoError(t, err)
	assert.Zero(t, req.Start)
	assert.Equal(t, int64(512), req.End)
}

func TestShellLineIsCancellable(t *testing.T) {
	path := genFile(t)

	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr)
	a.flags.format = "json"
	require.NoError(t, a.setup(a.rootCmd(), nil))

	sh := &shell{
		app:  a,
		path: path,
		lineContext: func() (context.Context, context.CancelFunc) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			return ctx, cancel
		},
	}
	sh.execute("disk " + datafile.GenCollection + " --chunks 4")
	assert.Contains(t, stderr.String(), errors.CodeName(errors.CodeCancelled))

	sh.lineContext = interruptContext
	stderr.Reset()
	stdout.Reset()
	sh.execute("disk " + datafile.GenCollection + " --chunks 4")
	assert.NotContains(t, stderr.String(), errors.CodeName(errors.CodeCancelled))
	assert.Contains(t, stdout.String(), `"chunks"`)
}
