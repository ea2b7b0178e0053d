package report

import (
	"encoding/hex"
	"math"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/xtxerr/storscope/internal/analyze/btree"
	"github.com/xtxerr/storscope/internal/analyze/extent"
	"github.com/xtxerr/storscope/internal/analyze/incore"
	"github.com/xtxerr/storscope/internal/stats"
)

// Source identifies the region a result was computed for.
type Source struct {
	Namespace string
	Extent    int
}

func num(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// FromSummary converts a stats.Summary. A nil summary converts to the zero
// Summary.
func FromSummary(s *stats.Summary) Summary {
	if s == nil {
		return Summary{}
	}
	out := Summary{
		Count:  s.Count(),
		Mean:   num(s.Mean()),
		Stddev: num(s.Stddev()),
		Min:    num(s.Min()),
		Max:    num(s.Max()),
	}
	if ps := s.Percentiles(); len(ps) > 0 {
		out.Quantiles = make(map[string]float64, len(ps))
		for p, v := range ps {
			out.Quantiles[QuantileKey(p)] = v
		}
	}
	for _, b := range s.Density() {
		out.Density = append(out.Density, DensityBin{Lower: b.Lower, Upper: b.Upper, Mass: b.Mass})
	}
	return out
}

// QuantileKey names probability p as a percentile, e.g. "p50" or "p12.5".
func QuantileKey(p float64) string {
	return "p" + strconv.FormatFloat(p*100, 'f', -1, 64)
}

// =============================================================================
// Disk storage
// =============================================================================

func fromChunk(c *extent.ChunkData) Chunk {
	out := Chunk{
		NumEntries:        c.NumEntries,
		BSONSize:          c.BSONSize,
		RecSize:           c.RecSize,
		OnDiskSize:        c.OnDiskSize,
		FreeRecsPerBucket: append([]float64(nil), c.FreeRecsPerBucket[:]...),
	}
	if c.CharactCount > 0 {
		out.CharactCount = num(c.CharactCount)
		out.CharactSum = num(c.CharactSum)
	}
	if c.RecordSizes != nil && c.RecordSizes.Count() > 0 {
		s := FromSummary(c.RecordSizes)
		out.RecordSizes = &s
	}
	return out
}

// FromTotals converts the merged totals of several extent scans.
func FromTotals(c *extent.ChunkData) *Chunk {
	if c == nil {
		return nil
	}
	out := fromChunk(c)
	return &out
}

// FromDisk converts an extent scan.
func FromDisk(src Source, r *extent.Result) *Disk {
	out := &Disk{
		Namespace:        src.Namespace,
		Extent:           src.Extent,
		ExtentLoc:        r.Loc.String(),
		ExtentHeaderSize: r.ExtentHeaderSize,
		RecordHeaderSize: r.RecordHeaderSize,
		Range:            [2]int64{r.Plan.Start, r.Plan.End},
		ChunkSize:        r.Plan.ChunkSize,
		Chunks:           make([]Chunk, len(r.Chunks)),
		Partial:          r.Partial,
	}
	if r.Totals != nil {
		out.Chunk = fromChunk(r.Totals)
	}
	for i, c := range r.Chunks {
		out.Chunks[i] = fromChunk(c)
	}
	for _, rec := range r.Records {
		rr := Record{Ofs: rec.Offset, RecSize: rec.RecSize, BSONSize: rec.BSONSize, ID: rec.ID}
		if rec.HasCharact {
			rr.Charact = num(rec.Charact)
		}
		out.Records = append(out.Records, rr)
	}
	for _, fr := range r.FreeRecords {
		out.DeletedRecords = append(out.DeletedRecords, DeletedRecord{
			Ofs:     fr.Offset,
			RecSize: fr.RecSize,
			Bucket:  fr.Bucket,
		})
	}
	return out
}

// =============================================================================
// Memory residency
// =============================================================================

// FromMem converts a residency sample.
func FromMem(src Source, r *incore.Result) *Mem {
	out := &Mem{
		Namespace: src.Namespace,
		Extent:    src.Extent,
		ExtentLoc: r.Loc.String(),
		PageSize:  r.PageSize,
		Range:     [2]int64{r.Plan.Start, r.Plan.End},
		ChunkSize: r.Plan.ChunkSize,
		InMem:     num(r.Ratio),
		Chunks:    make([]*float64, len(r.Chunks)),
		Partial:   r.Partial,
	}
	for i, c := range r.Chunks {
		out.Chunks[i] = num(c.Ratio)
		out.Pages += c.Pages
		out.Resident += c.Resident
	}
	return out
}

// NewMemSet groups residency samples of one namespace. Nil entries are
// extents whose sample failed; they make the set partial.
func NewMemSet(ns string, mems []*Mem) *MemSet {
	set := &MemSet{Namespace: ns, Extents: mems}
	for _, m := range mems {
		if m == nil {
			set.Partial = true
			continue
		}
		set.Pages += m.Pages
		set.Resident += m.Resident
		set.Partial = set.Partial || m.Partial
	}
	if set.Pages > 0 {
		set.InMem = num(float64(set.Resident) / float64(set.Pages))
	}
	return set
}

// =============================================================================
// Index statistics
// =============================================================================

// IndexSource identifies the index a tree walk was computed for.
type IndexSource struct {
	Name       string
	Namespace  string
	KeyPattern string
}

// FromArea converts aggregated node statistics. Nil converts to nil.
func FromArea(a *btree.AreaStats) *Area {
	if a == nil {
		return nil
	}
	return &Area{
		NumBuckets:   a.NumBuckets,
		KeyCount:     FromSummary(a.KeyCount),
		UsedKeyCount: FromSummary(a.UsedKeyCount),
		FillRatio:    FromSummary(a.FillRatio),
		BSONRatio:    FromSummary(a.BSONRatio),
		KeyNodeRatio: FromSummary(a.KeyNodeRatio),
	}
}

// FromIndex converts a tree walk and the optional storage accounting of
// the index's extents.
func FromIndex(src IndexSource, r *btree.Result, st *btree.StorageResult) *Index {
	out := &Index{
		Name:            src.Name,
		Namespace:       src.Namespace,
		KeyPattern:      src.KeyPattern,
		Version:         int(r.Format),
		Root:            r.Root.String(),
		BucketBodyBytes: r.BucketBodyBytes,
		Depth:           r.Depth,
		PerLevel:        make([]Area, 0, len(r.PerLevel)),
		Partial:         r.Partial,
	}
	if a := FromArea(r.WholeTree); a != nil {
		out.Overall = *a
	}
	for _, lvl := range r.PerLevel {
		if a := FromArea(lvl); a != nil {
			out.PerLevel = append(out.PerLevel, *a)
		}
	}
	for depth, b := range r.Branches {
		if b == nil {
			continue
		}
		br := Branch{Depth: depth}
		for _, s := range b.Subtrees {
			br.Subtrees = append(br.Subtrees, FromArea(s))
		}
		for _, n := range b.Nodes {
			br.Nodes = append(br.Nodes, fromNodeInfo(n))
		}
		out.Expanded = append(out.Expanded, br)
	}
	if st != nil {
		out.Storage = FromStorage(st)
		out.Partial = out.Partial || st.Partial
	}
	return out
}

func fromNodeInfo(n *btree.NodeInfo) *NodeInfo {
	if n == nil {
		return nil
	}
	return &NodeInfo{
		ChildNum:     n.ChildNum,
		Loc:          n.Loc.String(),
		Depth:        n.Depth,
		KeyCount:     n.KeyCount,
		UsedKeyCount: n.UsedKeyCount,
		FirstKey:     KeyString(n.FirstKey),
		LastKey:      KeyString(n.LastKey),
		FillRatio:    num(n.FillRatio),
		BSONRatio:    num(n.BSONRatio),
		KeyNodeRatio: num(n.KeyNodeRatio),
	}
}

// KeyString renders an index key. Keys are BSON documents whose single
// element holds the value; anything else is shown as hex.
func KeyString(key []byte) string {
	if len(key) == 0 {
		return ""
	}
	raw := bson.Raw(key)
	if err := raw.Validate(); err != nil {
		return hex.EncodeToString(key)
	}
	elems, err := raw.Elements()
	if err != nil || len(elems) != 1 {
		return raw.String()
	}
	return elems[0].Value().String()
}

// FromStorage converts the extent accounting of an index.
func FromStorage(st *btree.StorageResult) *Storage {
	out := &Storage{
		Extents:             make([]ExtentUsage, len(st.Extents)),
		NumRecords:          st.NumRecords,
		OverallStorageUsage: num(st.OverallStorageUsage),
	}
	for i, e := range st.Extents {
		out.Extents[i] = ExtentUsage{
			Loc:     e.Loc.String(),
			Length:  e.Length,
			Entries: e.Entries,
			RecLen:  e.RecLen,
			Usage:   num(e.Usage),
		}
	}
	return out
}
