package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtxerr/storscope/internal/chunk"
	"github.com/xtxerr/storscope/internal/datafile"
	"github.com/xtxerr/storscope/internal/errors"
	"github.com/xtxerr/storscope/internal/export/query"
	"github.com/xtxerr/storscope/internal/handler"
	"github.com/xtxerr/storscope/internal/logging"
	"github.com/xtxerr/storscope/internal/report"
)

// chunkFlags are shared by the commands that split an extent into chunks.
type chunkFlags struct {
	rangeSpec string
	size      int64
	count     int
}

func (c *chunkFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.rangeSpec, "range", "", "analyzed byte range within the extent, start:end")
	cmd.Flags().Int64Var(&c.size, "chunk-size", 0, "chunk size in bytes")
	cmd.Flags().IntVar(&c.count, "chunks", 0, "number of chunks (wins over --chunk-size)")
}

func (c *chunkFlags) request() (chunk.Request, error) {
	req := chunk.Request{ChunkSize: c.size, ChunkCount: c.count}
	if c.rangeSpec == "" {
		return req, nil
	}
	start, end, ok := strings.Cut(c.rangeSpec, ":")
	if !ok {
		return req, errors.NewInvalidValue("range", c.rangeSpec, "must be start:end")
	}
	var err error
	if start != "" {
		if req.Start, err = strconv.ParseInt(start, 0, 64); err != nil {
			return req, errors.NewInvalidValue("range start", start, "not an integer")
		}
	}
	if end != "" {
		if req.End, err = strconv.ParseInt(end, 0, 64); err != nil {
			return req, errors.NewInvalidValue("range end", end, "not an integer")
		}
	}
	return req, nil
}

// =============================================================================
// disk
// =============================================================================

func (a *app) diskCmd() *cobra.Command {
	var (
		chunks  chunkFlags
		req     handler.DiskRequest
		records bool
	)
	cmd := &cobra.Command{
		Use:   "disk <file> <namespace>",
		Short: "Account for the records and free space of an extent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chunking, err := chunks.request()
			if err != nil {
				return err
			}
			req.Namespace = args[1]
			req.Chunking = chunking
			req.ShowRecords = records

			return a.withHandler(args[0], func(h *handler.Handler) error {
				if req.AllExtents {
					return a.emit(h.DiskStorageAll(cmd.Context(), req))
				}
				return a.emit(h.DiskStorage(cmd.Context(), req))
			})
		},
	}
	chunks.register(cmd)
	cmd.Flags().IntVar(&req.Extent, "extent", 0, "extent number, counting from zero")
	cmd.Flags().BoolVar(&req.AllExtents, "all-extents", false, "analyze every extent of the collection")
	cmd.Flags().StringVar(&req.CharactField, "charact-field", "", "dotted document field averaged per chunk")
	cmd.Flags().StringVar(&req.CharactKind, "charact-kind", "", "characteristic kind: numeric, objectid")
	cmd.Flags().BoolVar(&records, "show-records", false, "list every record and free record")
	return cmd
}

// =============================================================================
// mem
// =============================================================================

func (a *app) memCmd() *cobra.Command {
	var (
		chunks chunkFlags
		req    handler.MemRequest
	)
	cmd := &cobra.Command{
		Use:   "mem <file> <namespace>",
		Short: "Sample which pages of an extent are resident in memory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chunking, err := chunks.request()
			if err != nil {
				return err
			}
			req.Namespace = args[1]
			req.Chunking = chunking

			return a.withHandler(args[0], func(h *handler.Handler) error {
				if req.AllExtents {
					return a.emit(h.MemInCoreAll(cmd.Context(), req))
				}
				return a.emit(h.MemInCore(cmd.Context(), req))
			})
		},
	}
	chunks.register(cmd)
	cmd.Flags().IntVar(&req.Extent, "extent", 0, "extent number, counting from zero")
	cmd.Flags().BoolVar(&req.AllExtents, "all-extents", false, "sample every extent of the collection")
	return cmd
}

// =============================================================================
// index
// =============================================================================

func (a *app) indexCmd() *cobra.Command {
	var req handler.IndexRequest
	cmd := &cobra.Command{
		Use:   "index <file> <index-namespace>",
		Short: "Walk an index tree and summarize its levels",
		Example: `  storscope index test.0 'test.docs.$_id_'
  storscope index test.0 'test.docs.$_id_' --expand 0,4 --analyze-storage`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Namespace = args[1]
			return a.withHandler(args[0], func(h *handler.Handler) error {
				return a.emit(h.IndexStats(cmd.Context(), req))
			})
		},
	}
	cmd.Flags().IntSliceVar(&req.Expand, "expand", nil, "expansion path of child numbers from the root, e.g. 0,4,1")
	cmd.Flags().BoolVar(&req.AnalyzeStorage, "analyze-storage", false, "add the space accounting of the index extents")
	return cmd
}

// =============================================================================
// export
// =============================================================================

func (a *app) exportCmd() *cobra.Command {
	var (
		chunks chunkFlags
		req    handler.ExportRequest
	)
	cmd := &cobra.Command{
		Use:   "export <file> [namespace...]",
		Short: "Write disk, memory and index analyses as parquet tables",
		Long: `export analyzes every extent of the named collections (all collections
when none are named) and writes one parquet file per table under the export
directory. Query the result with "storscope query".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chunking, err := chunks.request()
			if err != nil {
				return err
			}
			req.Namespaces = args[1:]
			req.Chunking = chunking

			return a.withHandler(args[0], func(h *handler.Handler) error {
				return a.emit(h.Export(cmd.Context(), req))
			})
		},
	}
	chunks.register(cmd)
	cmd.Flags().StringVar(&req.Dir, "dir", "", "export directory (overrides config)")
	cmd.Flags().StringVar(&req.AnalysisID, "analysis-id", "", "run identifier used in file names (default random)")
	cmd.Flags().BoolVar(&req.SkipMem, "skip-mem", false, "do not sample page residency")
	cmd.Flags().BoolVar(&req.SkipIndexes, "skip-indexes", false, "do not walk index trees")
	return cmd
}

// =============================================================================
// query
// =============================================================================

func (a *app) queryCmd() *cobra.Command {
	var (
		frag bool
		fq   query.FragmentationQuery
	)
	cmd := &cobra.Command{
		Use:   "query <dir> [sql]",
		Short: "Run SQL over exported parquet tables",
		Example: `  storscope query ./export "SELECT namespace, SUM(free_recs) FROM disk_chunks GROUP BY 1"
  storscope query ./export --fragmentation --limit 10`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !frag && len(args) < 2 {
				return errors.NewMissingField("sql")
			}

			svc, err := query.New(args[0], query.Options{MemoryLimit: a.cfg.Output.QueryMemoryLimit})
			if err != nil {
				return err
			}
			defer svc.Close()
			logging.Debug("query tables", "dir", args[0], "tables", svc.Tables())

			if frag {
				extents, err := svc.Fragmentation(cmd.Context(), fq)
				if err != nil {
					return err
				}
				return a.emit(fragmentationTable(extents), nil)
			}
			return a.emit(svc.ExecuteSQL(cmd.Context(), args[1]))
		},
	}
	cmd.Flags().BoolVar(&frag, "fragmentation", false, "rank exported extents by utilization")
	cmd.Flags().StringVar(&fq.Namespace, "ns", "", "restrict the ranking to one collection")
	cmd.Flags().StringVar(&fq.AnalysisID, "analysis-id", "", "restrict the ranking to one export run")
	cmd.Flags().IntVar(&fq.Limit, "limit", 0, "maximum number of extents")
	return cmd
}

// fragmentationTable lays a ranking out as a result table so that every
// output format renders it.
func fragmentationTable(extents []query.Fragmentation) *report.Table {
	t := &report.Table{Columns: []string{
		"analysis_id", "ns", "extent", "bytes", "entries", "utilization", "padding", "free_recs",
	}}
	for _, f := range extents {
		t.Rows = append(t.Rows, []any{
			f.AnalysisID, f.Namespace, f.Extent, f.Bytes, f.Entries, f.Utilization, f.Padding, f.FreeRecs,
		})
	}
	return t
}

// =============================================================================
// gen
// =============================================================================

// genResult describes a generated data file.
type genResult struct {
	File       string `json:"file" yaml:"file" bson:"file"`
	Collection string `json:"collection" yaml:"collection" bson:"collection"`
	Documents  int    `json:"documents" yaml:"documents" bson:"documents"`
	Extents    int    `json:"extents" yaml:"extents" bson:"extents"`
	Indexes    int    `json:"indexes" yaml:"indexes" bson:"indexes"`
}

func (a *app) genCmd() *cobra.Command {
	var opts datafile.GenOptions
	cmd := &cobra.Command{
		Use:   "gen <file>",
		Short: "Write a synthetic data file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Seed == 0 {
				opts.Seed = uint64(time.Now().UnixNano())
			}
			if err := datafile.Generate(args[0], opts); err != nil {
				return err
			}

			f, err := datafile.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			ns, err := f.Collection(datafile.GenCollection)
			if err != nil {
				return err
			}
			exts, err := f.Extents(ns)
			if err != nil {
				return err
			}
			return a.emit(&genResult{
				File:       args[0],
				Collection: ns.Name,
				Documents:  opts.Documents,
				Extents:    len(exts),
				Indexes:    len(f.Indexes(ns.Name)),
			}, nil)
		},
	}
	cmd.Flags().IntVar(&opts.Documents, "docs", 10000, "number of documents to insert")
	cmd.Flags().Float64Var(&opts.DeleteRatio, "delete-ratio", 0.1, "share of documents deleted afterwards")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "random seed (default time based)")
	cmd.Flags().Int64Var(&opts.ExtentSize, "extent-size", 0, "minimum extent size in bytes")
	return cmd
}

// =============================================================================
// cat
// =============================================================================

func (a *app) catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat [file]",
		Short: "Print a proto report stream as JSON",
		Long: `cat reads length-delimited reports written with --format proto from a
file, or from stdin when no file is given, and prints each one as JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			r := report.NewReader(in)
			for n := 0; ; n++ {
				st, err := r.Read()
				if err == io.EOF {
					logging.Debug("stream read", "reports", n)
					return nil
				}
				if err != nil {
					return fmt.Errorf("report %d: %w", n, err)
				}
				if err := report.DecodeJSON(a.stdout, st); err != nil {
					return err
				}
			}
		},
	}
}
