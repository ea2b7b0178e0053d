package incore

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/storscope/internal/chunk"
	"github.com/xtxerr/storscope/internal/datafile"
	"github.com/xtxerr/storscope/internal/engine"
	"github.com/xtxerr/storscope/internal/errors"
)

type region struct {
	loc    engine.Loc
	length int64
}

func (r region) Loc() engine.Loc { return r.loc }
func (r region) Length() int64 { return r.length }
func (r region) HeaderSize() int64 { return 48 }
func (r region) RecordHeaderSize() int64 { return 24 }
func (r region) Capped() bool { return false }

func (r region) ForEachRecord(func(engine.Record) error) error { return nil }

func (r region) ForEachFreeRecord(func(engine.FreeRecord) error) error { return nil }

// pages marks every page whose index is in resident, and fails for
// offsets at or past failAt when failAt is positive.
type pages struct {
	size     int
	resident map[int64]bool
	failAt   int64
	fail     error
	queried  []int64
}

func (p *pages) PageSize() int { return p.size }

func (p *pages) Resident(off int64, n int) ([]bool, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	if p.failAt > 0 && off >= p.failAt {
		return nil, fmt.Errorf("mincore: bad address")
	}
	out := make([]bool, n)
	for j := range out {
		addr := off + int64(j*p.size)
		p.queried = append(p.queried, addr)
		out[j] = p.resident[addr/int64(p.size)]
	}
	return out, nil
}

func TestSampleRatios(t *testing.T) {
	q := &pages{size: 100, resident: map[int64]bool{10: true, 11: true, 13: true}}
	r := region{loc: 1000, length: 1000}

	res, err := Sample(context.Background(), r, q, chunk.Request{ChunkSize: 400})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 3)

	assert.Equal(t, 4, res.Chunks[0].Pages)
	assert.Equal(t, 3, res.Chunks[0].Resident)
	assert.InDelta(t, 0.75, res.Chunks[0].Ratio, 1e-12)
	assert.InDelta(t, 0.0, res.Chunks[1].Ratio, 1e-12)
	assert.Equal(t, 2, res.Chunks[2].Pages, "last chunk of 200 bytes")
	assert.InDelta(t, 0.3, res.Ratio, 1e-12)
	assert.Equal(t, 100, res.PageSize)
	assert.False(t, res.Partial)

	assert.Equal(t, int64(1000), q.queried[0])
	assert.Equal(t, int64(1400), q.queried[4])
}

func TestSampleUnalignedChunks(t *testing.T) {
	q := &pages{size: 100, resident: map[int64]bool{}}
	res, err := Sample(context.Background(), region{loc: 0, length: 1000}, q, chunk.Request{ChunkSize: 150})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 7)
	for i, c := range res.Chunks[:6] {
		assert.Equal(t, 2, c.Pages, "chunk %d", i)
	}
	assert.Equal(t, 1, res.Chunks[6].Pages)
}

func TestSampleQueryFailure(t *testing.T) {
	q := &pages{size: 100, resident: map[int64]bool{0: true}, failAt: 500}
	res, err := Sample(context.Background(), region{length: 1000}, q, chunk.Request{ChunkCount: 4})

	assert.ErrorIs(t, err, errors.ErrResidencyQueryFailed)
	assert.True(t, errors.IsPartial(err))
	require.NotNil(t, res)
	assert.True(t, res.Partial)

	assert.InDelta(t, 1.0/3, res.Chunks[0].Ratio, 1e-12)
	assert.False(t, math.IsNaN(res.Chunks[1].Ratio))
	assert.True(t, math.IsNaN(res.Chunks[2].Ratio))
	assert.True(t, math.IsNaN(res.Chunks[3].Ratio))
	assert.InDelta(t, 1.0/6, res.Ratio, 1e-12)
}

func TestSampleUnsupportedPlatform(t *testing.T) {
	q := &pages{size: 100, fail: errors.NewUnsupported("page residency query on", "plan9")}
	res, err := Sample(context.Background(), region{length: 1000}, q, chunk.Request{ChunkCount: 4})

	assert.ErrorIs(t, err, errors.ErrUnsupportedFormat)
	assert.False(t, errors.IsPartial(err))
	assert.Nil(t, res)
}

func TestSampleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Sample(ctx, region{length: 1000}, &pages{size: 100}, chunk.Request{ChunkCount: 4})
	assert.ErrorIs(t, err, errors.ErrCancelled)
	require.NotNil(t, res)
	assert.True(t, res.Partial)
	assert.True(t, math.IsNaN(res.Ratio))
}

func TestSampleInvalidRequest(t *testing.T) {
	_, err := Sample(context.Background(), region{length: 1000}, &pages{size: 100}, chunk.Request{ChunkSize: -1})
	assert.True(t, errors.IsValidation(err))

	_, err = Sample(context.Background(), region{length: 1000}, &pages{size: 0}, chunk.Request{ChunkSize: 1})
	assert.True(t, errors.IsValidation(err))
}

func TestSampleMappedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	require.NoError(t, datafile.Generate(path, datafile.GenOptions{Documents: 200, Seed: 1}))

	f, err := datafile.Open(path)
	require.NoError(t, err)
	defer f.Close()

	ns, err := f.Collection(datafile.GenCollection)
	require.NoError(t, err)
	ext, err := f.Extent(ns, 0)
	require.NoError(t, err)

	res, err := Sample(context.Background(), ext, f, chunk.Request{ChunkCount: 8})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 8)
	for _, c := range res.Chunks {
		assert.GreaterOrEqual(t, c.Ratio, 0.0)
		assert.LessOrEqual(t, c.Ratio, 1.0)
	}
}
