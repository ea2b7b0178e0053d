// Package incore samples which pages of a storage region are resident in
// memory, chunk by chunk.
package incore

import (
	"context"
	"fmt"
	"math"

	"github.com/xtxerr/storscope/internal/chunk"
	"github.com/xtxerr/storscope/internal/engine"
	"github.com/xtxerr/storscope/internal/errors"
	"github.com/xtxerr/storscope/internal/logging"
)

// ChunkResidency is the residency of one chunk.
type ChunkResidency struct {
	Pages    int
	Resident int

	// Ratio is Resident/Pages, NaN for a chunk that was not sampled.
	Ratio float64
}

// Result is the outcome of a residency sample.
type Result struct {
	Loc      engine.Loc
	Plan     chunk.Plan
	PageSize int
	Chunks   []ChunkResidency

	// Ratio is the resident fraction over all sampled pages.
	Ratio float64

	// Partial is set when sampling stopped early. Chunks after the
	// failure keep a NaN ratio.
	Partial bool
}

// Sample queries residency for every chunk of the requested plan. Page j of
// a chunk is the page containing chunk start + j*page size.
func Sample(ctx context.Context, region engine.Region, q engine.PageQuerier, req chunk.Request) (*Result, error) {
	plan, err := chunk.NewPlan(req, region.Length())
	if err != nil {
		return nil, err
	}
	ps := q.PageSize()
	if ps <= 0 {
		return nil, errors.NewInvalidValue("page size", ps, "must be positive")
	}

	res := &Result{
		Loc:      region.Loc(),
		Plan:     plan,
		PageSize: ps,
		Chunks:   make([]ChunkResidency, plan.ChunkCount),
		Ratio:    math.NaN(),
	}
	for i := range res.Chunks {
		res.Chunks[i].Ratio = math.NaN()
	}

	log := logging.WithContext(ctx).With("component", "incore")
	var pages, resident int

	for i := range res.Chunks {
		if err = errors.CheckInterrupt(ctx); err != nil {
			break
		}

		n := int((plan.ChunkLen(i) + int64(ps) - 1) / int64(ps))
		var flags []bool
		flags, err = q.Resident(int64(region.Loc())+plan.ChunkStart(i), n)
		if errors.Is(err, errors.ErrUnsupportedFormat) {
			return nil, err
		}
		if err != nil {
			if !errors.Is(err, errors.ErrResidencyQueryFailed) {
				err = fmt.Errorf("%w: %w", errors.ErrResidencyQueryFailed, err)
			}
			err = fmt.Errorf("chunk %d: %w", i, err)
			break
		}

		c := &res.Chunks[i]
		c.Pages = n
		for _, in := range flags {
			if in {
				c.Resident++
			}
		}
		c.Ratio = float64(c.Resident) / float64(n)
		pages += n
		resident += c.Resident
	}

	if pages > 0 {
		res.Ratio = float64(resident) / float64(pages)
	}

	if err != nil {
		res.Partial = true
		log.Warn("residency sample incomplete", "loc", region.Loc(), "error", err)
		return res, err
	}

	log.Debug("residency sampled",
		"loc", region.Loc(),
		"chunks", plan.ChunkCount,
		"pages", pages,
		"resident", resident,
	)
	return res, nil
}
