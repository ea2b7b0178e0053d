package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/xtxerr/storscope/internal/analyze/btree"
	"github.com/xtxerr/storscope/internal/datafile"
	"github.com/xtxerr/storscope/internal/engine"
	"github.com/xtxerr/storscope/internal/errors"
	"github.com/xtxerr/storscope/internal/metrics"
	"github.com/xtxerr/storscope/internal/report"
)

// IndexStats walks one index tree.
func (h *Handler) IndexStats(ctx context.Context, req IndexRequest) (*report.Index, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	opts := btree.Options{
		Stats:    h.statsOptions(),
		Expand:   req.Expand,
		MaxDepth: h.cfg.Analysis.MaxTreeDepth,
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ns, err := h.file.Namespace(req.Namespace)
	if err != nil {
		return nil, fmt.Errorf("index '%s': %w", req.Namespace, errors.ErrIndexNotFound)
	}
	if !ns.IsIndex() {
		return nil, fmt.Errorf("namespace '%s' is not an index: %w", req.Namespace, errors.ErrIndexNotFound)
	}

	ctx = h.requestContext(ctx, ns.Collection())
	return h.indexStats(ctx, ns, opts, req.AnalyzeStorage)
}

func (h *Handler) indexStats(ctx context.Context, ns *datafile.Namespace, opts btree.Options, withStorage bool) (*report.Index, error) {
	start := time.Now()
	res, err := btree.Analyze(ctx, h.file.Tree(ns), opts)
	h.metrics.ObserveAnalysis(metrics.KindIndex, start, err)
	if res == nil {
		return nil, err
	}
	h.metrics.AddNodes(res.WholeTree.NumBuckets)

	var storage *btree.StorageResult
	if withStorage && err == nil {
		exts, xerr := h.file.Extents(ns)
		if xerr != nil {
			return nil, xerr
		}
		regions := make([]engine.Region, len(exts))
		for i, e := range exts {
			regions[i] = e
		}
		storage, err = btree.AnalyzeStorage(ctx, regions)
		if storage == nil {
			return nil, err
		}
	}

	src := report.IndexSource{
		Name:       ns.IndexName(),
		Namespace:  ns.Collection(),
		KeyPattern: fmt.Sprintf("{%s: 1}", ns.KeyField),
	}
	return report.FromIndex(src, res, storage), err
}
