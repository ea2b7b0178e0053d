package handler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/xtxerr/storscope/internal/chunk"
	"github.com/xtxerr/storscope/internal/config"
	"github.com/xtxerr/storscope/internal/datafile"
	"github.com/xtxerr/storscope/internal/errors"
	"github.com/xtxerr/storscope/internal/export/parquet"
	"github.com/xtxerr/storscope/internal/metrics"
	"github.com/xtxerr/storscope/internal/testutil"
)

func newTestHandler(t *testing.T) (*Handler, *metrics.Metrics) {
	t.Helper()
	f := testutil.GenFile(t, testutil.DefaultGenOptions())

	cfg := config.DefaultConfig()
	cfg.Workers = 2
	cfg.Output.ExportDir = t.TempDir()

	m := metrics.New()
	h := New(f, cfg, m)
	h.now = func() time.Time { return testutil.GenNow }
	return h, m
}

// =============================================================================
// Request Validation Tests
// =============================================================================

func TestDiskRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     DiskRequest
		wantErr bool
	}{
		{"valid", DiskRequest{Namespace: "a.b", Chunking: chunk.Request{ChunkCount: 4}}, false},
		{"missing namespace", DiskRequest{Chunking: chunk.Request{ChunkCount: 4}}, true},
		{"negative extent", DiskRequest{Namespace: "a.b", Extent: -1, Chunking: chunk.Request{ChunkCount: 4}}, true},
		{"negative extent with all", DiskRequest{Namespace: "a.b", Extent: -1, AllExtents: true, Chunking: chunk.Request{ChunkCount: 4}}, false},
		{"no chunking", DiskRequest{Namespace: "a.b"}, true},
		{"kind without field", DiskRequest{Namespace: "a.b", CharactKind: "numeric", Chunking: chunk.Request{ChunkCount: 4}}, true},
		{"unknown kind", DiskRequest{Namespace: "a.b", CharactField: "ts", CharactKind: "color", Chunking: chunk.Request{ChunkCount: 4}}, true},
		{"field without kind", DiskRequest{Namespace: "a.b", CharactField: "ts", Chunking: chunk.Request{ChunkCount: 4}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMemRequestValidate(t *testing.T) {
	req := MemRequest{}
	err := req.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	req = MemRequest{Namespace: "a.b", Chunking: chunk.Request{ChunkSize: 4096}}
	assert.NoError(t, req.Validate())
}

func TestWithDefaultChunking(t *testing.T) {
	got := withDefaultChunking(chunk.Request{}, 8, 0)
	assert.Equal(t, 8, got.ChunkCount)

	got = withDefaultChunking(chunk.Request{ChunkSize: 1024}, 8, 0)
	assert.Equal(t, int64(1024), got.ChunkSize)
	assert.Zero(t, got.ChunkCount)
}

// =============================================================================
// Disk Tests
// =============================================================================

func TestDiskStorage(t *testing.T) {
	h, m := newTestHandler(t)

	d, err := h.DiskStorage(context.Background(), DiskRequest{
		Namespace: datafile.GenCollection,
		Chunking:  chunk.Request{ChunkCount: 4},
	})
	require.NoError(t, err)

	assert.Equal(t, datafile.GenCollection, d.Namespace)
	assert.Equal(t, 0, d.Extent)
	assert.Len(t, d.Chunks, 4)
	assert.False(t, d.Partial)
	assert.Greater(t, d.NumEntries, 0.0)
	assert.Nil(t, d.Records)

	n, err := promtestutil.GatherAndCount(m.Registry(), "storscope_analyses_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "one disk analysis")
}

func TestDiskStorageCharacteristic(t *testing.T) {
	h, _ := newTestHandler(t)

	d, err := h.DiskStorage(context.Background(), DiskRequest{
		Namespace:    datafile.GenCollection,
		Chunking:     chunk.Request{ChunkCount: 2},
		CharactField: "ts",
	})
	require.NoError(t, err)
	require.NotNil(t, d.CharactCount)
	assert.Greater(t, *d.CharactCount, 0.0)
	assert.LessOrEqual(t, *d.CharactSum / *d.CharactCount, 1e6)
}

func TestDiskStorageShowRecords(t *testing.T) {
	h, _ := newTestHandler(t)

	d, err := h.DiskStorage(context.Background(), DiskRequest{
		Namespace:   datafile.GenCollection,
		Chunking:    chunk.Request{ChunkCount: 1},
		ShowRecords: true,
	})
	require.NoError(t, err)
	assert.Len(t, d.Records, int(d.NumEntries))
}

func TestDiskStorageAll(t *testing.T) {
	h, _ := newTestHandler(t)

	set, err := h.DiskStorageAll(context.Background(), DiskRequest{
		Namespace: datafile.GenCollection,
		Chunking:  chunk.Request{ChunkCount: 2},
	})
	require.NoError(t, err)
	require.Greater(t, len(set.Extents), 1, "fixture spans several extents")

	total := 0.0
	for i, d := range set.Extents {
		require.NotNil(t, d)
		assert.Equal(t, i, d.Extent, "extents keep list order")
		total += d.NumEntries
	}
	assert.Equal(t, 270.0, total, "300 documents minus 10% deleted")
	assert.False(t, set.Partial)

	require.NotNil(t, set.Total)
	assert.InDelta(t, total, set.Total.NumEntries, 1e-9)
	require.NotNil(t, set.Total.RecordSizes)
	assert.Equal(t, uint64(270), set.Total.RecordSizes.Count)
}

func TestDiskStorageAllSketchTotals(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Config().Analysis.QuantileBackend = "ddsketch"
	h.Config().Analysis.Quantiles = 9
	h.Config().Analysis.DensityBins = 4

	set, err := h.DiskStorageAll(context.Background(), DiskRequest{
		Namespace: datafile.GenCollection,
		Chunking:  chunk.Request{ChunkCount: 2},
	})
	require.NoError(t, err)

	sizes := set.Total.RecordSizes
	require.NotNil(t, sizes)
	assert.Equal(t, uint64(270), sizes.Count)
	assert.Len(t, sizes.Quantiles, 9, "sketch grids merge across extents")
	require.Len(t, sizes.Density, 4)

	var mass float64
	for _, b := range sizes.Density {
		mass += b.Mass
	}
	assert.InDelta(t, 1.0, mass, 1e-9)

	lo, hi := *sizes.Min, *sizes.Max
	for _, d := range set.Extents {
		if d.RecordSizes == nil {
			continue
		}
		lo = min(lo, *d.RecordSizes.Min)
		hi = max(hi, *d.RecordSizes.Max)
	}
	assert.Equal(t, lo, *sizes.Min)
	assert.Equal(t, hi, *sizes.Max)
}

func TestConcurrentAnalyses(t *testing.T) {
	h, _ := newTestHandler(t)
	gt := testutil.NewGoroutineTest(t, 30*time.Second)

	for i := 0; i < 4; i++ {
		gt.Go(func(ctx context.Context) error {
			set, err := h.DiskStorageAll(ctx, DiskRequest{
				Namespace: datafile.GenCollection,
				Chunking:  chunk.Request{ChunkCount: 3},
			})
			if err != nil {
				return err
			}
			total := 0.0
			for _, d := range set.Extents {
				total += d.NumEntries
			}
			if total != 270 {
				return fmt.Errorf("run %d counted %v records", i, total)
			}
			return nil
		})
		gt.Go(func(ctx context.Context) error {
			_, err := h.IndexStats(ctx, IndexRequest{Namespace: datafile.IndexNamespace(datafile.GenCollection, "n_1")})
			return err
		})
	}
	gt.Wait()
}

func TestDiskStorageNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	_, err := h.DiskStorage(ctx, DiskRequest{Namespace: "nope.nope"})
	assert.ErrorIs(t, err, errors.ErrNamespaceNotFound)

	_, err = h.DiskStorage(ctx, DiskRequest{Namespace: datafile.GenCollection, Extent: 999})
	assert.ErrorIs(t, err, errors.ErrExtentNotFound)

	_, err = h.DiskStorage(ctx, DiskRequest{Namespace: datafile.IndexNamespace(datafile.GenCollection, "_id_")})
	assert.ErrorIs(t, err, errors.ErrNamespaceNotFound, "indexes are not collections")
}

func TestDiskStorageCancelled(t *testing.T) {
	h, m := newTestHandler(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := h.DiskStorage(ctx, DiskRequest{
		Namespace: datafile.GenCollection,
		Chunking:  chunk.Request{ChunkCount: 2},
	})
	require.ErrorIs(t, err, errors.ErrCancelled)
	if d != nil {
		assert.True(t, d.Partial)
	}
	n, err := promtestutil.GatherAndCount(m.Registry(), "storscope_analyses_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// =============================================================================
// Memory Tests
// =============================================================================

func TestMemInCore(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("residency queries need mincore")
	}
	h, _ := newTestHandler(t)

	m, err := h.MemInCore(context.Background(), MemRequest{
		Namespace: datafile.GenCollection,
		Chunking:  chunk.Request{ChunkCount: 4},
	})
	require.NoError(t, err)
	assert.Len(t, m.Chunks, 4)
	assert.Equal(t, os.Getpagesize(), m.PageSize)
	require.NotNil(t, m.InMem)
	assert.GreaterOrEqual(t, *m.InMem, 0.0)
	assert.LessOrEqual(t, *m.InMem, 1.0)
}

func TestMemInCoreAll(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("residency queries need mincore")
	}
	h, _ := newTestHandler(t)

	set, err := h.MemInCoreAll(context.Background(), MemRequest{
		Namespace: datafile.GenCollection,
		Chunking:  chunk.Request{ChunkCount: 2},
	})
	require.NoError(t, err)
	pages, resident := 0, 0
	for i, m := range set.Extents {
		assert.Equal(t, i, m.Extent)
		pages += m.Pages
		resident += m.Resident
	}
	assert.Equal(t, pages, set.Pages)
	assert.Equal(t, resident, set.Resident)
	require.NotNil(t, set.InMem)
	assert.InDelta(t, float64(resident)/float64(pages), *set.InMem, 1e-12)
}

// =============================================================================
// Index Tests
// =============================================================================

func TestIndexStats(t *testing.T) {
	h, m := newTestHandler(t)

	ix, err := h.IndexStats(context.Background(), IndexRequest{
		Namespace:      datafile.IndexNamespace(datafile.GenCollection, "_id_"),
		Expand:         []int{0},
		AnalyzeStorage: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "_id_", ix.Name)
	assert.Equal(t, datafile.GenCollection, ix.Namespace)
	assert.Equal(t, "{_id: 1}", ix.KeyPattern)
	assert.Len(t, ix.PerLevel, ix.Depth)
	assert.NotEmpty(t, ix.Expanded)
	require.NotNil(t, ix.Storage)
	assert.Greater(t, ix.Storage.NumRecords, 0)

	expected := fmt.Sprintf(`
# HELP storscope_index_nodes_visited_total Index tree nodes folded into statistics
# TYPE storscope_index_nodes_visited_total counter
storscope_index_nodes_visited_total %d
`, ix.Overall.NumBuckets)
	assert.NoError(t, promtestutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "storscope_index_nodes_visited_total"))
}

func TestIndexStatsErrors(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	_, err := h.IndexStats(ctx, IndexRequest{})
	assert.True(t, errors.IsValidation(err))

	_, err = h.IndexStats(ctx, IndexRequest{Namespace: datafile.IndexNamespace(datafile.GenCollection, "missing")})
	assert.ErrorIs(t, err, errors.ErrIndexNotFound)

	_, err = h.IndexStats(ctx, IndexRequest{Namespace: datafile.GenCollection})
	assert.ErrorIs(t, err, errors.ErrIndexNotFound, "collections are not indexes")

	_, err = h.IndexStats(ctx, IndexRequest{
		Namespace: datafile.IndexNamespace(datafile.GenCollection, "n_1"),
		Expand:    []int{1},
	})
	assert.ErrorIs(t, err, errors.ErrInvalidExpansionPath)
}

// =============================================================================
// Export Tests
// =============================================================================

func TestExport(t *testing.T) {
	h, _ := newTestHandler(t)

	res, err := h.Export(context.Background(), ExportRequest{
		AnalysisID: "run1",
		Chunking:   chunk.Request{ChunkCount: 2},
		SkipMem:    runtime.GOOS != "linux",
	})
	require.NoError(t, err)
	assert.Equal(t, "run1", res.AnalysisID)

	path := res.Files[parquet.TableDiskChunks]
	assert.Equal(t, parquet.TablePath(h.Config().Output.ExportDir, parquet.TableDiskChunks, "run1"), path)
	assert.FileExists(t, path)
	assert.FileExists(t, res.Files[parquet.TableIndexLevels])

	r, err := parquet.NewReader[parquet.DiskChunkRow](path)
	require.NoError(t, err)
	defer r.Close()
	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	for _, row := range rows {
		assert.Equal(t, "run1", row.AnalysisID)
		assert.Equal(t, datafile.GenCollection, row.Namespace)
	}
}

func TestExportSkipsDiskOfCappedCollection(t *testing.T) {
	opts := testutil.DefaultGenOptions()
	b, err := datafile.Build(opts)
	require.NoError(t, err)

	capped, err := b.Collection("test.log", true)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		doc, err := bson.Marshal(bson.D{{Key: "n", Value: int64(i)}, {Key: "msg", Value: "line"}})
		require.NoError(t, err)
		_, err = capped.Insert(doc)
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "mixed.0")
	require.NoError(t, b.WriteFile(path))
	f, err := datafile.Open(path)
	require.NoError(t, err)
	defer f.Close()

	cfg := config.DefaultConfig()
	cfg.Output.ExportDir = t.TempDir()
	h := New(f, cfg, metrics.New())
	h.now = func() time.Time { return testutil.GenNow }

	res, err := h.Export(context.Background(), ExportRequest{
		AnalysisID: "mixed",
		Chunking:   chunk.Request{ChunkCount: 4},
		SkipMem:    runtime.GOOS != "linux",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"test.log"}, res.SkippedDisk)
	assert.False(t, res.Partial)
	require.Contains(t, res.Files, parquet.TableDiskChunks)
	assert.Contains(t, res.Files, parquet.TableIndexLevels)

	r, err := parquet.NewReader[parquet.DiskChunkRow](res.Files[parquet.TableDiskChunks])
	require.NoError(t, err)
	defer r.Close()
	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	for _, row := range rows {
		assert.Equal(t, datafile.GenCollection, row.Namespace)
	}

	if runtime.GOOS == "linux" {
		mr, err := parquet.NewReader[parquet.MemChunkRow](res.Files[parquet.TableMemChunks])
		require.NoError(t, err)
		defer mr.Close()
		mrows, err := mr.ReadAll()
		require.NoError(t, err)
		namespaces := map[string]bool{}
		for _, row := range mrows {
			namespaces[row.Namespace] = true
		}
		assert.True(t, namespaces["test.log"], "capped collections still get a memory table")
	}
}

func TestExportUnknownNamespace(t *testing.T) {
	h, _ := newTestHandler(t)

	_, err := h.Export(context.Background(), ExportRequest{
		Namespaces: []string{"nope.nope"},
		Chunking:   chunk.Request{ChunkCount: 2},
	})
	assert.True(t, errors.IsNotFound(err))
}

func TestNewAnalysisID(t *testing.T) {
	a, b := NewAnalysisID(), NewAnalysisID()
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
}
