package handler

import (
	"context"

	"github.com/xtxerr/storscope/internal/chunk"
	"github.com/xtxerr/storscope/internal/errors"
	"github.com/xtxerr/storscope/internal/export/parquet"
	"github.com/xtxerr/storscope/internal/report"
	"github.com/xtxerr/storscope/internal/validation"
)

// ExportRequest asks for disk, memory and index analyses of collections,
// written as parquet tables.
type ExportRequest struct {
	// Namespaces lists collections. Empty means every collection.
	Namespaces []string

	Chunking chunk.Request

	// AnalysisID names the run's files. Empty generates one.
	AnalysisID string

	// Dir overrides the configured export directory.
	Dir string

	SkipMem     bool
	SkipIndexes bool
}

// ExportResult lists what an export wrote.
type ExportResult struct {
	AnalysisID string            `json:"analysis_id" yaml:"analysis_id" bson:"analysis_id"`
	Dir        string            `json:"dir" yaml:"dir" bson:"dir"`
	Files      map[string]string `json:"files" yaml:"files" bson:"files"`

	// SkippedDisk lists capped collections. They keep no free lists, so
	// only their memory and index tables are written.
	SkippedDisk []string `json:"skipped_disk,omitempty" yaml:"skipped_disk,omitempty" bson:"skipped_disk,omitempty"`

	Partial bool `json:"partial,omitempty" yaml:"partial,omitempty" bson:"partial,omitempty"`
}

// Export runs the analyses named by req and writes one file per table.
// Partial analyses are exported as far as they got and their errors are
// returned with the result.
func (h *Handler) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	codec, err := parquet.ParseCompressionType(h.cfg.Output.Compression)
	if err != nil {
		return nil, err
	}
	dir := req.Dir
	if dir == "" {
		dir = h.cfg.Output.ExportDir
	}
	if dir == "" {
		return nil, errors.NewMissingField("export_dir")
	}

	names := req.Namespaces
	for _, name := range names {
		if err := validation.ValidateCollectionNamespace(name); err != nil {
			return nil, err
		}
	}
	if len(names) == 0 {
		for _, ns := range h.file.Namespaces() {
			if !ns.IsIndex() {
				names = append(names, ns.Name)
			}
		}
	}

	id := req.AnalysisID
	if id == "" {
		id = NewAnalysisID()
	} else if err := validation.ValidateAnalysisID(id); err != nil {
		return nil, err
	}
	res := &ExportResult{AnalysisID: id, Dir: dir, Files: make(map[string]string)}

	var (
		disks   []*report.Disk
		mems    []*report.Mem
		indexes []*report.Index
		partial []error
	)
	keep := func(err error) error {
		if err != nil && errors.IsPartial(err) {
			partial = append(partial, err)
			res.Partial = true
			return nil
		}
		return err
	}

	for _, name := range names {
		ns, err := h.file.Collection(name)
		if err != nil {
			return nil, err
		}
		if ns.Capped {
			h.log.Info("skipping disk table of capped collection", "ns", name)
			res.SkippedDisk = append(res.SkippedDisk, name)
		} else {
			ds, err := h.DiskStorageAll(ctx, DiskRequest{Namespace: name, Chunking: req.Chunking})
			if err := keep(err); err != nil {
				return nil, err
			}
			if ds != nil {
				disks = append(disks, nonNil(ds.Extents)...)
			}
		}

		if !req.SkipMem {
			ms, err := h.MemInCoreAll(ctx, MemRequest{Namespace: name, Chunking: req.Chunking})
			if err := keep(err); err != nil {
				return nil, err
			}
			if ms != nil {
				mems = append(mems, nonNil(ms.Extents)...)
			}
		}

		if !req.SkipIndexes {
			for _, ix := range h.file.Indexes(name) {
				r, err := h.IndexStats(ctx, IndexRequest{Namespace: ix.Name})
				if err := keep(err); err != nil {
					return nil, err
				}
				if r != nil {
					indexes = append(indexes, r)
				}
			}
		}
	}

	exp := parquet.NewExporter(dir, parquet.Options{Compression: codec})
	meta := parquet.Meta{AnalysisID: id, File: h.file.Path()}

	if len(disks) > 0 {
		path, err := exp.WriteDisk(meta, disks...)
		if err != nil {
			return nil, err
		}
		res.Files[parquet.TableDiskChunks] = path
	}
	if len(mems) > 0 {
		path, err := exp.WriteMem(meta, mems...)
		if err != nil {
			return nil, err
		}
		res.Files[parquet.TableMemChunks] = path
	}
	if len(indexes) > 0 {
		path, err := exp.WriteIndex(meta, indexes...)
		if err != nil {
			return nil, err
		}
		res.Files[parquet.TableIndexLevels] = path
	}

	h.log.Info("export written",
		"analysis_id", id,
		"dir", dir,
		"tables", len(res.Files),
		"skipped_disk", len(res.SkippedDisk),
		"partial", res.Partial,
	)
	return res, errors.Join(partial...)
}

func nonNil[T any](in []*T) []*T {
	out := make([]*T, 0, len(in))
	for _, v := range in {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}
