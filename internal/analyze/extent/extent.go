// Package extent scans the live and free records of one storage region and
// attributes them to the chunks of a chunk.Plan.
//
// A record straddling several chunks is split by physical overlap: each
// chunk is credited the bytes it holds and the matching fraction of the
// record's count, document size and characteristic value. Region totals are
// the sum of the chunks, so they only cover the requested range.
package extent

import (
	"context"
	"log/slog"

	"github.com/xtxerr/storscope/internal/chunk"
	"github.com/xtxerr/storscope/internal/engine"
	"github.com/xtxerr/storscope/internal/errors"
	"github.com/xtxerr/storscope/internal/logging"
	"github.com/xtxerr/storscope/internal/stats"
)

// Extractor reads the characteristic value of a document.
type Extractor func(doc []byte) (float64, bool)

// Identifier names a document in record listings.
type Identifier func(doc []byte) string

// DocSizer returns the size of the document stored in a record.
type DocSizer func(doc []byte) int64

// Options configures a scan.
type Options struct {
	Chunking chunk.Request

	// Characteristic is optional. Without it no characteristic sums are
	// kept.
	Characteristic Extractor

	// DocID and DocSize default to an empty id and the record payload
	// length.
	DocID   Identifier
	DocSize DocSizer

	// ShowRecords lists every record and free record touching the range.
	ShowRecords bool

	Stats stats.Options
}

// ChunkData accumulates the fractional contributions of the records that
// overlap one chunk.
type ChunkData struct {
	NumEntries   float64
	RecSize      int64
	BSONSize     float64
	OnDiskSize   int64
	CharactCount float64
	CharactSum   float64

	// FreeRecsPerBucket is the fractional count of free records per size
	// class.
	FreeRecsPerBucket [engine.NumBuckets]float64

	// RecordSizes summarizes the lengths of the live records starting in
	// the chunk.
	RecordSizes *stats.Summary
}

func (c *ChunkData) add(o *ChunkData) {
	c.NumEntries += o.NumEntries
	c.RecSize += o.RecSize
	c.BSONSize += o.BSONSize
	c.OnDiskSize += o.OnDiskSize
	c.CharactCount += o.CharactCount
	c.CharactSum += o.CharactSum
	for i := range c.FreeRecsPerBucket {
		c.FreeRecsPerBucket[i] += o.FreeRecsPerBucket[i]
	}
}

// MergeTotals combines the totals of several scans as if they were one
// scan over all their regions. Nil results are skipped.
func MergeTotals(opts stats.Options, results ...*Result) (*ChunkData, error) {
	sizes, err := stats.NewSummary(opts)
	if err != nil {
		return nil, err
	}
	total := &ChunkData{RecordSizes: sizes}
	for _, r := range results {
		if r == nil || r.Totals == nil {
			continue
		}
		total.add(r.Totals)
		if err := total.RecordSizes.Merge(r.Totals.RecordSizes); err != nil {
			return nil, errors.Wrapf(err, "merge totals of region %s", r.Loc)
		}
	}
	return total, nil
}

// FreeRecs returns the fractional free record count over all size classes.
func (c *ChunkData) FreeRecs() float64 {
	var n float64
	for _, v := range c.FreeRecsPerBucket {
		n += v
	}
	return n
}

// RecordInfo lists one live record.
type RecordInfo struct {
	Offset     int64
	RecSize    int64
	BSONSize   int64
	ID         string
	Charact    float64
	HasCharact bool
}

// FreeRecordInfo lists one free record.
type FreeRecordInfo struct {
	Offset  int64
	RecSize int64
	Bucket  int
}

// Result is the outcome of a region scan.
type Result struct {
	Loc              engine.Loc
	Length           int64
	ExtentHeaderSize int64
	RecordHeaderSize int64
	Plan             chunk.Plan

	Chunks []*ChunkData
	Totals *ChunkData

	Records     []RecordInfo
	FreeRecords []FreeRecordInfo

	RecordsScanned     int
	FreeRecordsScanned int

	// Partial is set when the scan was interrupted. Totals still equal
	// the sum of the chunks.
	Partial bool
}

type scanner struct {
	ctx  context.Context
	opts Options
	plan chunk.Plan
	res  *Result
	log  *slog.Logger
}

// Scan attributes every record of region to the chunks of the requested
// plan. An interrupted scan returns its partial result with the error.
func Scan(ctx context.Context, region engine.Region, opts Options) (*Result, error) {
	if err := opts.Stats.Validate(); err != nil {
		return nil, err
	}
	plan, err := chunk.NewPlan(opts.Chunking, region.Length())
	if err != nil {
		return nil, err
	}
	if region.Capped() {
		return nil, errors.NewUnsupported("free record scan of capped region", region.Loc())
	}
	if opts.DocSize == nil {
		opts.DocSize = func(doc []byte) int64 { return int64(len(doc)) }
	}

	s := &scanner{
		ctx:  ctx,
		opts: opts,
		plan: plan,
		res: &Result{
			Loc:              region.Loc(),
			Length:           region.Length(),
			ExtentHeaderSize: region.HeaderSize(),
			RecordHeaderSize: region.RecordHeaderSize(),
			Plan:             plan,
			Chunks:           make([]*ChunkData, plan.ChunkCount),
			Totals:           &ChunkData{RecordSizes: stats.MustSummary(opts.Stats)},
		},
		log: logging.WithContext(ctx).With("component", "extent"),
	}
	for i := range s.res.Chunks {
		s.res.Chunks[i] = &ChunkData{
			OnDiskSize:  plan.ChunkLen(i),
			RecordSizes: stats.MustSummary(opts.Stats),
		}
	}

	s.log.Debug("extent scan started", "loc", region.Loc(), "plan", plan)

	err = region.ForEachRecord(s.record)
	if err == nil {
		err = region.ForEachFreeRecord(s.freeRecord)
	}

	for _, c := range s.res.Chunks {
		s.res.Totals.add(c)
	}

	if err != nil {
		if errors.IsPartial(err) {
			s.res.Partial = true
			s.log.Warn("extent scan interrupted",
				"records", s.res.RecordsScanned,
				"free_records", s.res.FreeRecordsScanned,
				"error", err,
			)
			return s.res, err
		}
		return nil, err
	}

	s.log.Debug("extent scan finished",
		"records", s.res.RecordsScanned,
		"free_records", s.res.FreeRecordsScanned,
	)
	return s.res, nil
}

func (s *scanner) record(r engine.Record) error {
	if err := errors.CheckInterrupt(s.ctx); err != nil {
		return err
	}
	s.res.RecordsScanned++

	ov := s.plan.Overlap(r.Offset, r.Length)
	if ov.OutOfRange {
		return nil
	}

	docSize := s.opts.DocSize(r.Doc)
	var charact float64
	hasCharact := false
	if s.opts.Characteristic != nil {
		charact, hasCharact = s.opts.Characteristic(r.Doc)
	}

	spans := false
	for e := range ov.Chunks() {
		spans = true
		c := s.res.Chunks[e.Index]
		c.NumEntries += e.Ratio
		c.RecSize += e.Bytes
		c.BSONSize += e.Ratio * float64(docSize)
		if hasCharact {
			c.CharactCount += e.Ratio
			c.CharactSum += e.Ratio * charact
		}
	}

	if i, ok := s.plan.ChunkOf(r.Offset); ok {
		s.res.Chunks[i].RecordSizes.Observe(float64(r.Length))
		s.res.Totals.RecordSizes.Observe(float64(r.Length))
	}

	if s.opts.ShowRecords && spans {
		info := RecordInfo{
			Offset:     r.Offset,
			RecSize:    r.Length,
			BSONSize:   docSize,
			Charact:    charact,
			HasCharact: hasCharact,
		}
		if s.opts.DocID != nil {
			info.ID = s.opts.DocID(r.Doc)
		}
		s.res.Records = append(s.res.Records, info)
	}
	return nil
}

func (s *scanner) freeRecord(r engine.FreeRecord) error {
	if err := errors.CheckInterrupt(s.ctx); err != nil {
		return err
	}
	s.res.FreeRecordsScanned++
	if r.Bucket < 0 || r.Bucket >= engine.NumBuckets {
		return errors.NewCorrupt("free record %s in size class %d", r.Loc, r.Bucket)
	}

	ov := s.plan.Overlap(r.Offset, r.Length)
	if ov.OutOfRange {
		return nil
	}

	spans := false
	for e := range ov.Chunks() {
		spans = true
		s.res.Chunks[e.Index].FreeRecsPerBucket[r.Bucket] += e.Ratio
	}

	if s.opts.ShowRecords && spans {
		s.res.FreeRecords = append(s.res.FreeRecords, FreeRecordInfo{
			Offset:  r.Offset,
			RecSize: r.Length,
			Bucket:  r.Bucket,
		})
	}
	return nil
}
