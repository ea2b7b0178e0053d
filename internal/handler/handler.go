// Package handler implements the storscope entry points.
//
// Each entry point validates its request, resolves the namespace, extent or
// index it names, runs the analyzer and converts the result into a report.
// Invalid requests and missing objects fail before any traversal starts.
// Interrupted analyses return their partial report together with the error.
package handler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/storscope/internal/config"
	"github.com/xtxerr/storscope/internal/datafile"
	"github.com/xtxerr/storscope/internal/errors"
	"github.com/xtxerr/storscope/internal/logging"
	"github.com/xtxerr/storscope/internal/metrics"
	"github.com/xtxerr/storscope/internal/stats"
)

// =============================================================================
// Handler
// =============================================================================

// Handler runs analyses against one opened data file.
type Handler struct {
	file    *datafile.File
	cfg     *config.Config
	metrics *metrics.Metrics
	log     *slog.Logger

	// now anchors ObjectID ages so that one request sees one clock.
	now func() time.Time
}

// New creates a handler. A nil config means the defaults; a nil metrics
// collector disables counting.
func New(file *datafile.File, cfg *config.Config, m *metrics.Metrics) *Handler {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if cfg.Memory.PageSize > 0 {
		file.SetPageSize(cfg.Memory.PageSize)
	}
	return &Handler{
		file:    file,
		cfg:     cfg,
		metrics: m,
		log:     logging.Component("handler"),
		now:     time.Now,
	}
}

// File returns the data file the handler analyzes.
func (h *Handler) File() *datafile.File {
	return h.file
}

// Config returns the effective configuration.
func (h *Handler) Config() *config.Config {
	return h.cfg
}

// statsOptions maps the analysis config onto summary options.
func (h *Handler) statsOptions() stats.Options {
	return stats.Options{
		Quantiles:   h.cfg.Analysis.Quantiles,
		Backend:     h.cfg.Analysis.QuantileBackend,
		Accuracy:    h.cfg.Analysis.SketchAccuracy,
		DensityBins: h.cfg.Analysis.DensityBins,
	}
}

// requestContext tags ctx with a fresh analysis id and the data file.
func (h *Handler) requestContext(ctx context.Context, namespace string) context.Context {
	ctx = logging.ContextWithAnalysisID(ctx, NewAnalysisID())
	ctx = logging.ContextWithDataFile(ctx, h.file.Path())
	if namespace != "" {
		ctx = logging.ContextWithNamespace(ctx, namespace)
	}
	return ctx
}

// NewAnalysisID returns a short random identifier for one run.
func NewAnalysisID() string {
	return uuid.NewString()[:8]
}

// =============================================================================
// Multi-extent fan-out
// =============================================================================

// forEachExtent runs fn for every extent on at most workers goroutines and
// returns the results in extent order. Partial errors do not stop the other
// extents; they are joined and returned with the results. Any other error
// cancels the remaining work.
func forEachExtent[T any](
	ctx context.Context,
	workers int,
	exts []*datafile.ExtentView,
	fn func(context.Context, *datafile.ExtentView) (T, error),
) ([]T, error) {
	out := make([]T, len(exts))

	var mu sync.Mutex
	var partial []error

	g, gCtx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for i, ext := range exts {
		g.Go(func() error {
			res, err := fn(gCtx, ext)
			out[i] = res
			if err != nil && errors.IsPartial(err) {
				mu.Lock()
				partial = append(partial, err)
				mu.Unlock()
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, errors.Join(partial...)
}
