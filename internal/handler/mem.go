package handler

import (
	"context"
	"time"

	"github.com/xtxerr/storscope/internal/analyze/incore"
	"github.com/xtxerr/storscope/internal/chunk"
	"github.com/xtxerr/storscope/internal/datafile"
	"github.com/xtxerr/storscope/internal/metrics"
	"github.com/xtxerr/storscope/internal/report"
)

// MemInCore samples the page residency of one extent.
func (h *Handler) MemInCore(ctx context.Context, req MemRequest) (*report.Mem, error) {
	chunking, exts, err := h.prepareMem(req)
	if err != nil {
		return nil, err
	}
	ctx = h.requestContext(ctx, req.Namespace)
	return h.sampleExtent(ctx, exts[0], chunking)
}

// MemInCoreAll samples every extent of a collection concurrently.
func (h *Handler) MemInCoreAll(ctx context.Context, req MemRequest) (*report.MemSet, error) {
	req.AllExtents = true
	chunking, exts, err := h.prepareMem(req)
	if err != nil {
		return nil, err
	}
	ctx = h.requestContext(ctx, req.Namespace)

	mems, err := forEachExtent(ctx, h.cfg.Workers, exts, func(ctx context.Context, ext *datafile.ExtentView) (*report.Mem, error) {
		return h.sampleExtent(ctx, ext, chunking)
	})
	if mems == nil {
		return nil, err
	}

	return report.NewMemSet(req.Namespace, mems), err
}

func (h *Handler) prepareMem(req MemRequest) (chunk.Request, []*datafile.ExtentView, error) {
	req.Chunking = withDefaultChunking(req.Chunking, h.cfg.Disk.ChunkCount, h.cfg.Disk.ChunkSize)
	if err := req.Validate(); err != nil {
		return req.Chunking, nil, err
	}

	ns, err := h.file.Collection(req.Namespace)
	if err != nil {
		return req.Chunking, nil, err
	}
	if req.AllExtents {
		exts, err := h.file.Extents(ns)
		return req.Chunking, exts, err
	}
	ext, err := h.file.Extent(ns, req.Extent)
	if err != nil {
		return req.Chunking, nil, err
	}
	return req.Chunking, []*datafile.ExtentView{ext}, nil
}

func (h *Handler) sampleExtent(ctx context.Context, ext *datafile.ExtentView, req chunk.Request) (*report.Mem, error) {
	start := time.Now()
	res, err := incore.Sample(ctx, ext, h.file, req)
	h.metrics.ObserveAnalysis(metrics.KindMem, start, err)
	if res == nil {
		return nil, err
	}

	var pages, resident int
	for _, c := range res.Chunks {
		pages += c.Pages
		resident += c.Resident
	}
	h.metrics.AddPages(resident, pages)

	return report.FromMem(report.Source{Namespace: ext.Namespace().Name, Extent: ext.Number()}, res), err
}
