package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/storscope/internal/errors"
	exportparquet "github.com/xtxerr/storscope/internal/export/parquet"
	"github.com/xtxerr/storscope/internal/report"
)

func disk(extent int, recSizes ...int64) *report.Disk {
	d := &report.Disk{
		Namespace: "test.docs",
		Extent:    extent,
		Range:     [2]int64{0, int64(len(recSizes)) * 100},
		ChunkSize: 100,
	}
	for _, rs := range recSizes {
		d.Chunks = append(d.Chunks, report.Chunk{
			NumEntries:        1,
			RecSize:           rs,
			BSONSize:          float64(rs) / 2,
			OnDiskSize:        100,
			FreeRecsPerBucket: make([]float64, 19),
		})
	}
	return d
}

func newService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()

	e := exportparquet.NewExporter(dir, exportparquet.DefaultOptions())
	_, err := e.WriteDisk(exportparquet.Meta{AnalysisID: "run-1", File: "data.db"},
		disk(0, 90, 80),
		disk(1, 10, 30),
	)
	require.NoError(t, err)

	svc, err := New(dir, Options{MemoryLimit: "256MB"})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestNewEmptyDir(t *testing.T) {
	svc, err := New(t.TempDir(), Options{})
	require.NoError(t, err)
	defer svc.Close()

	assert.Empty(t, svc.Tables())

	_, err = svc.Fragmentation(context.Background(), FragmentationQuery{})
	assert.True(t, errors.IsNotFound(err))
}

func TestExecuteSQL(t *testing.T) {
	svc := newService(t)
	assert.Equal(t, []string{exportparquet.TableDiskChunks}, svc.Tables())

	res, err := svc.ExecuteSQL(context.Background(), "SELECT count(*) AS n, sum(rec_size) AS bytes FROM disk_chunks")
	require.NoError(t, err)
	assert.Equal(t, []string{"n", "bytes"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(4), res.Rows[0][0])
	assert.Equal(t, int64(210), res.Rows[0][1])

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.QueriesExecuted)
	assert.Equal(t, int64(1), stats.RowsReturned)
}

func TestExecuteSQLError(t *testing.T) {
	svc := newService(t)
	_, err := svc.ExecuteSQL(context.Background(), "SELECT * FROM no_such_table")
	assert.Error(t, err)
	assert.Equal(t, int64(1), svc.Stats().Errors)
}

func TestFragmentation(t *testing.T) {
	svc := newService(t)

	got, err := svc.Fragmentation(context.Background(), FragmentationQuery{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, int64(1), got[0].Extent, "least utilized extent first")
	assert.Equal(t, int64(200), got[0].Bytes)
	assert.Equal(t, int64(40), got[0].RecBytes)
	assert.InDelta(t, 0.2, got[0].Utilization, 1e-9)
	assert.InDelta(t, 0.5, got[0].Padding, 1e-9)
	assert.InDelta(t, 0.85, got[1].Utilization, 1e-9)

	got, err = svc.Fragmentation(context.Background(), FragmentationQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = svc.Fragmentation(context.Background(), FragmentationQuery{Namespace: "other.coll"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, int64(3), normalize(int32(3)))
	assert.Equal(t, "ab", normalize([]byte("ab")))
	assert.Equal(t, 1.5, normalize(float32(1.5)))
	assert.Nil(t, normalize(nil))
}
