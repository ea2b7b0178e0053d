// Package query runs SQL over exported Parquet tables with DuckDB.
//
// Every table directory present under the export root is exposed as a view
// of the same name, so ad-hoc queries can say "FROM disk_chunks".
package query

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/storscope/internal/errors"
	exportparquet "github.com/xtxerr/storscope/internal/export/parquet"
	"github.com/xtxerr/storscope/internal/report"
)

// Service provides query capabilities over an export directory.
type Service struct {
	mu sync.RWMutex

	dir    string
	db     *sql.DB
	tables []string

	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// Options configures the query service.
type Options struct {
	// MemoryLimit is passed to DuckDB's memory_limit setting, e.g. "1GB".
	MemoryLimit string
}

// New opens an in-memory DuckDB database with one view per exported table.
func New(dir string, opts Options) (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if opts.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit='%s'", quote(opts.MemoryLimit)))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	s := &Service{dir: dir, db: db}
	for _, table := range exportparquet.Tables {
		glob := exportparquet.TableGlob(dir, table)
		matches, err := filepath.Glob(glob)
		if err != nil || len(matches) == 0 {
			continue
		}
		stmt := fmt.Sprintf("CREATE VIEW %s AS SELECT * FROM read_parquet('%s')", table, quote(glob))
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create view %s: %w", table, err)
		}
		s.tables = append(s.tables, table)
	}

	return s, nil
}

// quote escapes a string literal for inclusion in single quotes.
func quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Tables returns the views that were created.
func (s *Service) Tables() []string {
	return append([]string(nil), s.tables...)
}

func (s *Service) hasTable(name string) bool {
	for _, t := range s.tables {
		if t == name {
			return true
		}
	}
	return false
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Service) record(rows int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.stats.Errors++
		return
	}
	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(rows)
}

// ExecuteSQL runs a raw SQL query and returns its rows in column order.
func (s *Service) ExecuteSQL(ctx context.Context, query string) (*report.Table, error) {
	t, err := s.executeSQL(ctx, query)
	if err != nil {
		s.record(0, err)
		return nil, err
	}
	s.record(len(t.Rows), nil)
	return t, nil
}

func (s *Service) executeSQL(ctx context.Context, query string) (*report.Table, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	t := &report.Table{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			values[i] = normalize(v)
		}
		t.Rows = append(t.Rows, values)
	}

	return t, rows.Err()
}

// normalize maps driver values onto types every report encoder handles.
func normalize(v any) any {
	switch x := v.(type) {
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		return x.String()
	case []byte:
		return string(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// =============================================================================
// Fragmentation
// =============================================================================

// FragmentationQuery selects the extents to rank.
type FragmentationQuery struct {
	// Namespace restricts the ranking when set.
	Namespace string

	// AnalysisID restricts the ranking to one export run when set.
	AnalysisID string

	Limit int
}

// Fragmentation is the space accounting of one exported extent.
type Fragmentation struct {
	AnalysisID string  `json:"analysisId" yaml:"analysisId" bson:"analysisId"`
	Namespace  string  `json:"ns" yaml:"ns" bson:"ns"`
	Extent     int64   `json:"extent" yaml:"extent" bson:"extent"`
	Bytes      int64   `json:"bytes" yaml:"bytes" bson:"bytes"`
	Entries    float64 `json:"entries" yaml:"entries" bson:"entries"`
	RecBytes   int64   `json:"recBytes" yaml:"recBytes" bson:"recBytes"`
	BSONBytes  float64 `json:"bsonBytes" yaml:"bsonBytes" bson:"bsonBytes"`
	FreeRecs   float64 `json:"freeRecs" yaml:"freeRecs" bson:"freeRecs"`

	// Utilization is the share of the scanned bytes held by live records.
	Utilization float64 `json:"utilization" yaml:"utilization" bson:"utilization"`

	// Padding is the share of live record bytes not used by documents.
	Padding float64 `json:"padding" yaml:"padding" bson:"padding"`
}

const fragmentationSQL = `
	SELECT
		analysis_id, namespace, CAST(extent AS BIGINT),
		CAST(SUM(length) AS BIGINT),
		SUM(num_entries),
		CAST(SUM(rec_size) AS BIGINT),
		SUM(bson_size),
		SUM(free_recs)
	FROM disk_chunks
	WHERE ($1 = '' OR namespace = $1)
	  AND ($2 = '' OR analysis_id = $2)
	GROUP BY analysis_id, namespace, extent
	ORDER BY SUM(rec_size) / NULLIF(SUM(length), 0) ASC NULLS LAST, namespace, extent
`

// Fragmentation ranks exported extents from least to most utilized.
func (s *Service) Fragmentation(ctx context.Context, q FragmentationQuery) ([]Fragmentation, error) {
	if !s.hasTable(exportparquet.TableDiskChunks) {
		return nil, errors.NewNotFound("export table", exportparquet.TableDiskChunks)
	}

	query := fragmentationSQL
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, q.Namespace, q.AnalysisID)
	if err != nil {
		s.record(0, err)
		return nil, fmt.Errorf("query fragmentation: %w", err)
	}
	defer rows.Close()

	var out []Fragmentation
	for rows.Next() {
		var f Fragmentation
		if err := rows.Scan(
			&f.AnalysisID, &f.Namespace, &f.Extent,
			&f.Bytes, &f.Entries, &f.RecBytes, &f.BSONBytes, &f.FreeRecs,
		); err != nil {
			s.record(0, err)
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if f.Bytes > 0 {
			f.Utilization = float64(f.RecBytes) / float64(f.Bytes)
		}
		if f.RecBytes > 0 {
			f.Padding = 1 - f.BSONBytes/float64(f.RecBytes)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		s.record(0, err)
		return nil, err
	}

	s.record(len(out), nil)
	return out, nil
}

// FragmentationReport wraps a ranking for the report encoders.
type FragmentationReport struct {
	Extents []Fragmentation `json:"extents" yaml:"extents" bson:"extents"`
}
