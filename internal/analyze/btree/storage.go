package btree

import (
	"context"
	"math"

	"github.com/xtxerr/storscope/internal/engine"
	"github.com/xtxerr/storscope/internal/errors"
)

// ExtentUsage is the space accounting of one extent of an index.
type ExtentUsage struct {
	Loc     engine.Loc
	Length  int64
	Entries int
	RecLen  int64

	// Usage is RecLen over the extent length minus its header.
	Usage float64
}

// StorageResult summarizes how densely an index's extents are filled.
type StorageResult struct {
	Extents             []ExtentUsage
	NumRecords          int
	OverallStorageUsage float64
	Partial             bool
}

// AnalyzeStorage accounts for the records stored in regions, one entry per
// region.
func AnalyzeStorage(ctx context.Context, regions []engine.Region) (*StorageResult, error) {
	res := &StorageResult{}
	var recLen, space int64

	for _, r := range regions {
		if err := errors.CheckInterrupt(ctx); err != nil {
			res.Partial = true
			res.OverallStorageUsage = ratio(recLen, space)
			return res, err
		}

		u := ExtentUsage{Loc: r.Loc(), Length: r.Length()}
		err := r.ForEachRecord(func(rec engine.Record) error {
			u.Entries++
			u.RecLen += rec.Length
			return nil
		})
		if err != nil {
			return nil, err
		}

		avail := r.Length() - r.HeaderSize()
		u.Usage = ratio(u.RecLen, avail)
		res.Extents = append(res.Extents, u)
		res.NumRecords += u.Entries
		recLen += u.RecLen
		space += avail
	}

	res.OverallStorageUsage = ratio(recLen, space)
	return res, nil
}

func ratio(a, b int64) float64 {
	if b <= 0 {
		return math.NaN()
	}
	return float64(a) / float64(b)
}
