package parquet

import (
	"github.com/xtxerr/storscope/internal/report"
)

// Table names, one directory each under the export root.
const (
	TableDiskChunks  = "disk_chunks"
	TableMemChunks   = "mem_chunks"
	TableIndexLevels = "index_levels"
)

// Tables lists every exported table.
var Tables = []string{TableDiskChunks, TableMemChunks, TableIndexLevels}

// Meta identifies one export run.
type Meta struct {
	AnalysisID string
	File       string
}

// DiskChunkRow is one chunk of an extent scan.
type DiskChunkRow struct {
	AnalysisID  string   `parquet:"analysis_id,zstd"`
	File        string   `parquet:"file,zstd"`
	Namespace   string   `parquet:"namespace,zstd"`
	Extent      int32    `parquet:"extent"`
	Chunk       int32    `parquet:"chunk"`
	Start       int64    `parquet:"start"`
	Length      int64    `parquet:"length"`
	NumEntries  float64  `parquet:"num_entries"`
	RecSize     int64    `parquet:"rec_size"`
	BSONSize    float64  `parquet:"bson_size"`
	OnDiskSize  int64    `parquet:"on_disk_size"`
	FreeRecs    float64  `parquet:"free_recs"`
	CharactMean *float64 `parquet:"charact_mean,optional"`
	RecSizeP50  *float64 `parquet:"rec_size_p50,optional"`
}

// MemChunkRow is one chunk of a residency sample.
type MemChunkRow struct {
	AnalysisID    string   `parquet:"analysis_id,zstd"`
	File          string   `parquet:"file,zstd"`
	Namespace     string   `parquet:"namespace,zstd"`
	Extent        int32    `parquet:"extent"`
	Chunk         int32    `parquet:"chunk"`
	Start         int64    `parquet:"start"`
	Length        int64    `parquet:"length"`
	PageSize      int32    `parquet:"page_size"`
	ResidentRatio *float64 `parquet:"resident_ratio,optional"`
}

// IndexLevelRow is the aggregate of one index level. Depth -1 holds the
// whole tree.
type IndexLevelRow struct {
	AnalysisID       string   `parquet:"analysis_id,zstd"`
	File             string   `parquet:"file,zstd"`
	Index            string   `parquet:"index,zstd"`
	Namespace        string   `parquet:"namespace,zstd"`
	Depth            int32    `parquet:"depth"`
	NumBuckets       int64    `parquet:"num_buckets"`
	KeyCountMean     *float64 `parquet:"key_count_mean,optional"`
	UsedKeyCountMean *float64 `parquet:"used_key_count_mean,optional"`
	FillRatioMean    *float64 `parquet:"fill_ratio_mean,optional"`
	FillRatioMin     *float64 `parquet:"fill_ratio_min,optional"`
	FillRatioP50     *float64 `parquet:"fill_ratio_p50,optional"`
	BSONRatioMean    *float64 `parquet:"bson_ratio_mean,optional"`
	KeyNodeRatioMean *float64 `parquet:"key_node_ratio_mean,optional"`
}

// chunkBounds recovers chunk i's offset and length from a report's range.
func chunkBounds(rng [2]int64, chunkSize int64, i int) (int64, int64) {
	start := rng[0] + int64(i)*chunkSize
	return start, min(chunkSize, rng[1]-start)
}

// DiskRows flattens an extent report into chunk rows.
func DiskRows(meta Meta, d *report.Disk) []DiskChunkRow {
	rows := make([]DiskChunkRow, len(d.Chunks))
	for i, c := range d.Chunks {
		start, length := chunkBounds(d.Range, d.ChunkSize, i)
		row := DiskChunkRow{
			AnalysisID: meta.AnalysisID,
			File:       meta.File,
			Namespace:  d.Namespace,
			Extent:     int32(d.Extent),
			Chunk:      int32(i),
			Start:      start,
			Length:     length,
			NumEntries: c.NumEntries,
			RecSize:    c.RecSize,
			BSONSize:   c.BSONSize,
			OnDiskSize: c.OnDiskSize,
		}
		for _, n := range c.FreeRecsPerBucket {
			row.FreeRecs += n
		}
		if c.CharactCount != nil && c.CharactSum != nil && *c.CharactCount > 0 {
			mean := *c.CharactSum / *c.CharactCount
			row.CharactMean = &mean
		}
		if c.RecordSizes != nil {
			if v, ok := c.RecordSizes.Quantiles[report.QuantileKey(0.5)]; ok {
				row.RecSizeP50 = &v
			}
		}
		rows[i] = row
	}
	return rows
}

// MemRows flattens a residency report into chunk rows.
func MemRows(meta Meta, m *report.Mem) []MemChunkRow {
	rows := make([]MemChunkRow, len(m.Chunks))
	for i, ratio := range m.Chunks {
		start, length := chunkBounds(m.Range, m.ChunkSize, i)
		rows[i] = MemChunkRow{
			AnalysisID:    meta.AnalysisID,
			File:          meta.File,
			Namespace:     m.Namespace,
			Extent:        int32(m.Extent),
			Chunk:         int32(i),
			Start:         start,
			Length:        length,
			PageSize:      int32(m.PageSize),
			ResidentRatio: ratio,
		}
	}
	return rows
}

// IndexRows flattens an index report into one row for the whole tree and
// one per level.
func IndexRows(meta Meta, ix *report.Index) []IndexLevelRow {
	rows := make([]IndexLevelRow, 0, len(ix.PerLevel)+1)
	rows = append(rows, levelRow(meta, ix, -1, ix.Overall))
	for depth, a := range ix.PerLevel {
		rows = append(rows, levelRow(meta, ix, depth, a))
	}
	return rows
}

func levelRow(meta Meta, ix *report.Index, depth int, a report.Area) IndexLevelRow {
	row := IndexLevelRow{
		AnalysisID:       meta.AnalysisID,
		File:             meta.File,
		Index:            ix.Name,
		Namespace:        ix.Namespace,
		Depth:            int32(depth),
		NumBuckets:       int64(a.NumBuckets),
		KeyCountMean:     a.KeyCount.Mean,
		UsedKeyCountMean: a.UsedKeyCount.Mean,
		FillRatioMean:    a.FillRatio.Mean,
		FillRatioMin:     a.FillRatio.Min,
		BSONRatioMean:    a.BSONRatio.Mean,
		KeyNodeRatioMean: a.KeyNodeRatio.Mean,
	}
	if v, ok := a.FillRatio.Quantiles[report.QuantileKey(0.5)]; ok {
		row.FillRatioP50 = &v
	}
	return row
}
