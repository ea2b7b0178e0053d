// Package chunk splits a linear address range into fixed-size chunks and
// attributes byte ranges (records) to the chunks they overlap.
//
// Offsets are relative to the start of the analyzed region. A Plan is
// derived once per analysis and never changes; an Overlap is computed per
// record and consumed once.
package chunk

import (
	"fmt"

	"github.com/xtxerr/storscope/internal/errors"
)

// Request describes how the caller wants a region chunked. Exactly one of
// ChunkSize and ChunkCount needs to be positive; when both are, ChunkCount
// wins and ChunkSize is derived from it.
type Request struct {
	// Start and End bound the analyzed range. End <= 0 means the region end.
	Start int64
	End   int64

	ChunkSize  int64
	ChunkCount int
}

// Validate checks that the request is well formed.
func (r Request) Validate() error {
	if r.ChunkSize < 0 {
		return fmt.Errorf("chunk size %d is negative: %w", r.ChunkSize, errors.ErrInvalidChunking)
	}
	if r.ChunkCount < 0 {
		return fmt.Errorf("chunk count %d is negative: %w", r.ChunkCount, errors.ErrInvalidChunking)
	}
	if r.ChunkSize == 0 && r.ChunkCount == 0 {
		return fmt.Errorf("either chunk size or chunk count must be given: %w", errors.ErrInvalidChunking)
	}
	if r.End > 0 && r.End < r.Start {
		return fmt.Errorf("range end %d before start %d: %w", r.End, r.Start, errors.ErrInvalidChunking)
	}
	return nil
}

// Plan is the chunk geometry of one analyzed range.
type Plan struct {
	// Start and End are the clamped range, End exclusive.
	Start int64
	End   int64

	// ChunkSize is the granularity in bytes. Every chunk but the last
	// has exactly this size.
	ChunkSize int64

	// ChunkCount is ceil((End-Start)/ChunkSize); zero for an empty range.
	ChunkCount int

	// LastChunkSize is the length of the final chunk, which may be short.
	LastChunkSize int64
}

// NewPlan clamps the request to [0, regionLen) and derives the chunk
// geometry.
func NewPlan(req Request, regionLen int64) (Plan, error) {
	if err := req.Validate(); err != nil {
		return Plan{}, err
	}

	start := max(req.Start, 0)
	end := regionLen
	if req.End > 0 {
		end = min(req.End, regionLen)
	}
	if end < start {
		end = start
	}

	p := Plan{Start: start, End: end, ChunkSize: req.ChunkSize}
	length := end - start

	if req.ChunkCount > 0 {
		p.ChunkSize = ceilDiv(length, int64(req.ChunkCount))
	}
	if length == 0 || p.ChunkSize == 0 {
		// Empty range: no chunks, every record is out of range.
		if p.ChunkSize == 0 {
			p.ChunkSize = 1
		}
		return p, nil
	}

	p.ChunkCount = int(ceilDiv(length, p.ChunkSize))
	p.LastChunkSize = length - p.ChunkSize*int64(p.ChunkCount-1)
	return p, nil
}

// Length returns End-Start.
func (p Plan) Length() int64 {
	return p.End - p.Start
}

// Empty reports whether the plan has no chunks.
func (p Plan) Empty() bool {
	return p.ChunkCount == 0
}

// ChunkStart returns the region offset at which chunk i begins.
func (p Plan) ChunkStart(i int) int64 {
	return p.Start + int64(i)*p.ChunkSize
}

// ChunkLen returns the length of chunk i, or 0 when i is out of range.
func (p Plan) ChunkLen(i int) int64 {
	switch {
	case i < 0 || i >= p.ChunkCount:
		return 0
	case i == p.ChunkCount-1:
		return p.LastChunkSize
	default:
		return p.ChunkSize
	}
}

// ChunkOf returns the chunk containing offset, or false when offset is
// outside [Start, End).
func (p Plan) ChunkOf(offset int64) (int, bool) {
	if p.ChunkCount == 0 || offset < p.Start || offset >= p.End {
		return 0, false
	}
	return int((offset - p.Start) / p.ChunkSize), true
}

// String implements fmt.Stringer.
func (p Plan) String() string {
	return fmt.Sprintf("[%d,%d) in %d chunks of %d bytes", p.Start, p.End, p.ChunkCount, p.ChunkSize)
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// floorDiv rounds toward negative infinity so that records starting before
// Start land in chunk -1 rather than chunk 0.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
