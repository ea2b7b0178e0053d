package chunk

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/storscope/internal/errors"
)

func collect(o Overlap) []Entry {
	return slices.Collect(o.Chunks())
}

func TestPlanFromChunkSize(t *testing.T) {
	p, err := NewPlan(Request{ChunkSize: 250}, 1000)
	require.NoError(t, err)

	assert.Equal(t, int64(0), p.Start)
	assert.Equal(t, int64(1000), p.End)
	assert.Equal(t, 4, p.ChunkCount)
	assert.Equal(t, int64(250), p.ChunkSize)
	assert.Equal(t, int64(250), p.LastChunkSize)
}

func TestPlanFromChunkCount(t *testing.T) {
	p, err := NewPlan(Request{ChunkCount: 3}, 1000)
	require.NoError(t, err)

	assert.Equal(t, int64(334), p.ChunkSize)
	assert.Equal(t, 3, p.ChunkCount)
	assert.Equal(t, int64(332), p.LastChunkSize)
	assert.Equal(t, int64(332), p.ChunkLen(2))
	assert.Equal(t, int64(334), p.ChunkLen(0))
	assert.Equal(t, int64(0), p.ChunkLen(3))
}

func TestPlanCountWinsOverSize(t *testing.T) {
	p, err := NewPlan(Request{ChunkSize: 10, ChunkCount: 2}, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(50), p.ChunkSize)
	assert.Equal(t, 2, p.ChunkCount)
}

func TestPlanClampsRange(t *testing.T) {
	p, err := NewPlan(Request{Start: -50, End: 5000, ChunkSize: 300}, 1000)
	require.NoError(t, err)

	assert.Equal(t, int64(0), p.Start)
	assert.Equal(t, int64(1000), p.End)
	assert.Equal(t, 4, p.ChunkCount)
	assert.Equal(t, int64(100), p.LastChunkSize)
}

func TestPlanInvalid(t *testing.T) {
	tests := []Request{
		{},
		{ChunkSize: -1},
		{ChunkCount: -2},
		{Start: 500, End: 100, ChunkSize: 10},
	}
	for _, req := range tests {
		_, err := NewPlan(req, 1000)
		assert.ErrorIs(t, err, errors.ErrInvalidChunking, "%+v", req)
		assert.True(t, errors.IsValidation(err))
	}
}

func TestPlanEmptyRange(t *testing.T) {
	p, err := NewPlan(Request{Start: 2000, ChunkCount: 4}, 1000)
	require.NoError(t, err)

	assert.True(t, p.Empty())
	o := p.Overlap(10, 20)
	assert.True(t, o.OutOfRange)
	assert.Empty(t, collect(o))
}

// Region [0,1000), chunk size 250, records (100,300) and (600,50).
func TestOverlapEndToEnd(t *testing.T) {
	p, err := NewPlan(Request{Start: 0, End: 1000, ChunkSize: 250}, 1000)
	require.NoError(t, err)
	require.Equal(t, 4, p.ChunkCount)

	first := collect(p.Overlap(100, 300))
	require.Len(t, first, 2)
	assert.Equal(t, Entry{Index: 0, Bytes: 150, Ratio: 0.5}, first[0])
	assert.Equal(t, Entry{Index: 1, Bytes: 150, Ratio: 0.5}, first[1])

	second := collect(p.Overlap(600, 50))
	require.Len(t, second, 1)
	assert.Equal(t, Entry{Index: 2, Bytes: 50, Ratio: 1}, second[0])
}

func TestOverlapSpanningManyChunks(t *testing.T) {
	// 3.5M..6M in 0.5M chunks: a 1.35M record starting at 3.75M.
	p, err := NewPlan(Request{Start: 3_500_000, End: 6_000_000, ChunkSize: 500_000}, 10_000_000)
	require.NoError(t, err)

	o := p.Overlap(3_750_000, 1_350_000)
	entries := collect(o)
	require.Len(t, entries, 4)

	assert.Equal(t, 0, entries[0].Index)
	assert.Equal(t, int64(250_000), entries[0].Bytes)
	assert.Equal(t, int64(500_000), entries[1].Bytes)
	assert.Equal(t, int64(500_000), entries[2].Bytes)
	assert.Equal(t, 3, o.Last)

	// The record ends 100000 bytes into chunk 3.
	assert.Equal(t, int64(100_000), o.LastBytes)
	assert.Equal(t, Entry{Index: 3, Bytes: 100_000, Ratio: 100_000.0 / 1_350_000}, entries[3])
}

func TestOverlapBoundaryEndIsNotEmitted(t *testing.T) {
	p, err := NewPlan(Request{ChunkSize: 250}, 1000)
	require.NoError(t, err)

	entries := collect(p.Overlap(100, 150))
	require.Len(t, entries, 1)
	assert.Equal(t, Entry{Index: 0, Bytes: 150, Ratio: 1}, entries[0])
}

func TestOverlapPartiallyOutside(t *testing.T) {
	p, err := NewPlan(Request{Start: 100, End: 600, ChunkSize: 100}, 1000)
	require.NoError(t, err)

	// Starts 50 bytes before the range.
	head := collect(p.Overlap(50, 120))
	require.Len(t, head, 1)
	assert.Equal(t, 0, head[0].Index)
	assert.Equal(t, int64(70), head[0].Bytes)
	assert.InDelta(t, 70.0/120, head[0].Ratio, 1e-12)

	// Runs 40 bytes past the range end; the last chunk is clipped.
	tail := collect(p.Overlap(520, 120))
	require.Len(t, tail, 1)
	assert.Equal(t, 4, tail[0].Index)
	assert.Equal(t, int64(80), tail[0].Bytes)

	// Entirely outside on either side.
	assert.True(t, p.Overlap(0, 100).OutOfRange)
	assert.True(t, p.Overlap(600, 10).OutOfRange)
	assert.True(t, p.Overlap(10, 0).OutOfRange)
}

func TestOverlapRatioOfEmptyRecord(t *testing.T) {
	p, err := NewPlan(Request{ChunkSize: 100}, 1000)
	require.NoError(t, err)

	assert.True(t, math.IsNaN(p.Overlap(10, 0).Ratio(0)))
}

// For records fully inside the range, bytes sum to the length and ratios
// to one, and no chunk index repeats.
func TestOverlapCompletenessAndExclusivity(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 43))

	for iter := 0; iter < 2000; iter++ {
		regionLen := int64(1 + rng.IntN(1<<20))
		req := Request{}
		if rng.IntN(2) == 0 {
			req.ChunkSize = max(regionLen/500, 1) + rng.Int64N(regionLen)
		} else {
			req.ChunkCount = 1 + rng.IntN(200)
		}
		p, err := NewPlan(req, regionLen)
		require.NoError(t, err)

		offset := rng.Int64N(regionLen)
		length := 1 + rng.Int64N(regionLen-offset)

		o := p.Overlap(offset, length)
		require.False(t, o.OutOfRange)

		seen := make(map[int]bool)
		var bytes int64
		ratio := 0.0
		for e := range o.Chunks() {
			require.False(t, seen[e.Index], "chunk %d repeated", e.Index)
			seen[e.Index] = true
			require.GreaterOrEqual(t, e.Index, 0)
			require.Less(t, e.Index, p.ChunkCount)
			require.Positive(t, e.Bytes)
			require.LessOrEqual(t, e.Bytes, p.ChunkLen(e.Index))
			bytes += e.Bytes
			ratio += e.Ratio
		}

		require.Equal(t, length, bytes, "plan %v record (%d,%d)", p, offset, length)
		require.InDelta(t, 1.0, ratio, 1e-9)
	}
}

func TestOverlapChunksStopsEarly(t *testing.T) {
	p, err := NewPlan(Request{ChunkSize: 10}, 1000)
	require.NoError(t, err)

	n := 0
	for range p.Overlap(0, 500).Chunks() {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(500), p.Overlap(0, 500).InRangeBytes())
}

func TestPlanChunkOf(t *testing.T) {
	p, err := NewPlan(Request{Start: 100, End: 600, ChunkSize: 200}, 1000)
	require.NoError(t, err)

	for _, tt := range []struct {
		off  int64
		want int
		ok   bool
	}{
		{99, 0, false},
		{100, 0, true},
		{299, 0, true},
		{300, 1, true},
		{599, 2, true},
		{600, 0, false},
	} {
		got, ok := p.ChunkOf(tt.off)
		assert.Equal(t, tt.ok, ok, "offset %d", tt.off)
		assert.Equal(t, tt.want, got, "offset %d", tt.off)
	}
}
