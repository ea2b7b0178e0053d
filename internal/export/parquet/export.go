package parquet

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/xtxerr/storscope/internal/logging"
	"github.com/xtxerr/storscope/internal/report"
)

// Exporter writes report rows under a root directory, one file per table
// and analysis run.
type Exporter struct {
	dir  string
	opts Options
	log  *slog.Logger
}

// NewExporter creates an exporter rooted at dir.
func NewExporter(dir string, opts Options) *Exporter {
	return &Exporter{
		dir:  dir,
		opts: opts,
		log:  logging.Component("export"),
	}
}

// Dir returns the export root.
func (e *Exporter) Dir() string {
	return e.dir
}

// TablePath returns the file a run writes for table.
func TablePath(dir, table, analysisID string) string {
	return filepath.Join(dir, table, analysisID+".parquet")
}

// TableGlob matches every file of table.
func TableGlob(dir, table string) string {
	return filepath.Join(dir, table, "*.parquet")
}

// WriteDisk exports the chunks of extent reports.
func (e *Exporter) WriteDisk(meta Meta, reports ...*report.Disk) (string, error) {
	var rows []DiskChunkRow
	for _, d := range reports {
		rows = append(rows, DiskRows(meta, d)...)
	}
	return writeTable(e, TableDiskChunks, meta, rows)
}

// WriteMem exports the chunks of residency reports.
func (e *Exporter) WriteMem(meta Meta, reports ...*report.Mem) (string, error) {
	var rows []MemChunkRow
	for _, m := range reports {
		rows = append(rows, MemRows(meta, m)...)
	}
	return writeTable(e, TableMemChunks, meta, rows)
}

// WriteIndex exports the levels of index reports.
func (e *Exporter) WriteIndex(meta Meta, reports ...*report.Index) (string, error) {
	var rows []IndexLevelRow
	for _, ix := range reports {
		rows = append(rows, IndexRows(meta, ix)...)
	}
	return writeTable(e, TableIndexLevels, meta, rows)
}

func writeTable[T any](e *Exporter, table string, meta Meta, rows []T) (string, error) {
	path := TablePath(e.dir, table, meta.AnalysisID)

	w, err := NewWriter[T](path, e.opts)
	if err != nil {
		return "", err
	}
	if err := w.Write(rows); err != nil {
		w.Close()
		return "", fmt.Errorf("export %s: %w", table, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("export %s: %w", table, err)
	}

	e.log.Debug("table exported",
		"table", table,
		"analysis_id", meta.AnalysisID,
		"rows", w.RowCount(),
		"path", path,
	)
	return path, nil
}
