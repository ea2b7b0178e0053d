package handler

import (
	"context"
	"time"

	"github.com/xtxerr/storscope/internal/analyze/extent"
	"github.com/xtxerr/storscope/internal/datafile"
	"github.com/xtxerr/storscope/internal/errors"
	"github.com/xtxerr/storscope/internal/metrics"
	"github.com/xtxerr/storscope/internal/report"
)

// DiskStorage scans one extent of a collection.
func (h *Handler) DiskStorage(ctx context.Context, req DiskRequest) (*report.Disk, error) {
	opts, exts, err := h.prepareDisk(req)
	if err != nil {
		return nil, err
	}
	ctx = h.requestContext(ctx, req.Namespace)
	res, err := h.scanExtent(ctx, exts[0], opts)
	if res == nil {
		return nil, err
	}
	return diskReport(exts[0], res), err
}

// DiskStorageAll scans every extent of a collection concurrently. The set
// total merges the extent totals, record size summaries included.
func (h *Handler) DiskStorageAll(ctx context.Context, req DiskRequest) (*report.DiskSet, error) {
	req.AllExtents = true
	opts, exts, err := h.prepareDisk(req)
	if err != nil {
		return nil, err
	}
	ctx = h.requestContext(ctx, req.Namespace)

	results, err := forEachExtent(ctx, h.cfg.Workers, exts, func(ctx context.Context, ext *datafile.ExtentView) (*extent.Result, error) {
		return h.scanExtent(ctx, ext, opts)
	})
	if results == nil {
		return nil, err
	}

	total, merr := extent.MergeTotals(opts.Stats, results...)
	if merr != nil {
		return nil, errors.Join(err, merr)
	}

	set := &report.DiskSet{
		Namespace: req.Namespace,
		Total:     report.FromTotals(total),
		Extents:   make([]*report.Disk, len(results)),
	}
	for i, r := range results {
		if r == nil {
			set.Partial = true
			continue
		}
		set.Extents[i] = diskReport(exts[i], r)
		set.Partial = set.Partial || r.Partial
	}
	return set, err
}

// prepareDisk validates req and resolves the extents it names.
func (h *Handler) prepareDisk(req DiskRequest) (extent.Options, []*datafile.ExtentView, error) {
	req.Chunking = withDefaultChunking(req.Chunking, h.cfg.Disk.ChunkCount, h.cfg.Disk.ChunkSize)
	if req.CharactField == "" && req.CharactKind == "" {
		req.CharactField = h.cfg.Disk.CharacteristicField
		req.CharactKind = h.cfg.Disk.CharacteristicKind
	}
	req.ShowRecords = req.ShowRecords || h.cfg.Disk.ShowRecords
	if err := req.Validate(); err != nil {
		return extent.Options{}, nil, err
	}

	opts := extent.Options{
		Chunking:    req.Chunking,
		DocID:       datafile.DocumentID,
		DocSize:     datafile.DocSize,
		ShowRecords: req.ShowRecords,
		Stats:       h.statsOptions(),
	}
	if req.CharactField != "" {
		kind := datafile.KindNumeric
		if req.CharactKind != "" {
			kind, _ = datafile.ParseCharacteristicKind(req.CharactKind)
		}
		field := req.CharactField
		now := h.now()
		opts.Characteristic = func(doc []byte) (float64, bool) {
			return datafile.ExtractCharacteristic(doc, field, kind, now)
		}
	}

	ns, err := h.file.Collection(req.Namespace)
	if err != nil {
		return opts, nil, err
	}
	if req.AllExtents {
		exts, err := h.file.Extents(ns)
		return opts, exts, err
	}
	ext, err := h.file.Extent(ns, req.Extent)
	if err != nil {
		return opts, nil, err
	}
	return opts, []*datafile.ExtentView{ext}, nil
}

func (h *Handler) scanExtent(ctx context.Context, ext *datafile.ExtentView, opts extent.Options) (*extent.Result, error) {
	start := time.Now()
	res, err := extent.Scan(ctx, ext, opts)
	h.metrics.ObserveAnalysis(metrics.KindDisk, start, err)
	if res == nil {
		return nil, err
	}
	h.metrics.AddRecords(res.RecordsScanned, res.FreeRecordsScanned)

	h.log.Debug("extent scanned",
		"ns", ext.Namespace().Name,
		"extent", ext.Number(),
		"records", res.RecordsScanned,
		"free_records", res.FreeRecordsScanned,
		"partial", res.Partial,
	)
	return res, err
}

func diskReport(ext *datafile.ExtentView, res *extent.Result) *report.Disk {
	return report.FromDisk(report.Source{Namespace: ext.Namespace().Name, Extent: ext.Number()}, res)
}
