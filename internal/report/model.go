// Package report turns analysis results into serializable reports and
// encodes them.
//
// Statistics that are undefined for an empty scope (NaN) are carried as nil
// pointers so every encoder leaves them out instead of emitting NaN, which
// JSON cannot represent.
package report

// Summary is the serialized form of a stats.Summary.
type Summary struct {
	Count     uint64             `json:"count" yaml:"count" bson:"count"`
	Mean      *float64           `json:"mean,omitempty" yaml:"mean,omitempty" bson:"mean,omitempty"`
	Stddev    *float64           `json:"stddev,omitempty" yaml:"stddev,omitempty" bson:"stddev,omitempty"`
	Min       *float64           `json:"min,omitempty" yaml:"min,omitempty" bson:"min,omitempty"`
	Max       *float64           `json:"max,omitempty" yaml:"max,omitempty" bson:"max,omitempty"`
	Quantiles map[string]float64 `json:"quantiles,omitempty" yaml:"quantiles,omitempty" bson:"quantiles,omitempty"`
	Density   []DensityBin       `json:"density,omitempty" yaml:"density,omitempty" bson:"density,omitempty"`
}

// DensityBin is the probability mass of one equal-width value interval.
type DensityBin struct {
	Lower float64 `json:"lower" yaml:"lower" bson:"lower"`
	Upper float64 `json:"upper" yaml:"upper" bson:"upper"`
	Mass  float64 `json:"mass" yaml:"mass" bson:"mass"`
}

// =============================================================================
// Disk storage
// =============================================================================

// Chunk is the storage accounting of one chunk, or of a whole extent.
type Chunk struct {
	NumEntries        float64   `json:"numEntries" yaml:"numEntries" bson:"numEntries"`
	BSONSize          float64   `json:"bsonSize" yaml:"bsonSize" bson:"bsonSize"`
	RecSize           int64     `json:"recSize" yaml:"recSize" bson:"recSize"`
	OnDiskSize        int64     `json:"onDiskSize" yaml:"onDiskSize" bson:"onDiskSize"`
	CharactSum        *float64  `json:"charactSum,omitempty" yaml:"charactSum,omitempty" bson:"charactSum,omitempty"`
	CharactCount      *float64  `json:"charactCount,omitempty" yaml:"charactCount,omitempty" bson:"charactCount,omitempty"`
	FreeRecsPerBucket []float64 `json:"freeRecsPerBucket" yaml:"freeRecsPerBucket" bson:"freeRecsPerBucket"`
	RecordSizes       *Summary  `json:"recordSizes,omitempty" yaml:"recordSizes,omitempty" bson:"recordSizes,omitempty"`
}

// Record lists one live record.
type Record struct {
	Ofs      int64    `json:"ofs" yaml:"ofs" bson:"ofs"`
	RecSize  int64    `json:"recSize" yaml:"recSize" bson:"recSize"`
	BSONSize int64    `json:"bsonSize" yaml:"bsonSize" bson:"bsonSize"`
	ID       string   `json:"id,omitempty" yaml:"id,omitempty" bson:"id,omitempty"`
	Charact  *float64 `json:"charact,omitempty" yaml:"charact,omitempty" bson:"charact,omitempty"`
}

// DeletedRecord lists one free record.
type DeletedRecord struct {
	Ofs     int64 `json:"ofs" yaml:"ofs" bson:"ofs"`
	RecSize int64 `json:"recSize" yaml:"recSize" bson:"recSize"`
	Bucket  int   `json:"bucket" yaml:"bucket" bson:"bucket"`
}

// Disk is the report of one extent scan. The embedded Chunk holds the
// extent totals.
type Disk struct {
	Namespace        string   `json:"ns" yaml:"ns" bson:"ns"`
	Extent           int      `json:"extent" yaml:"extent" bson:"extent"`
	ExtentLoc        string   `json:"extentLoc" yaml:"extentLoc" bson:"extentLoc"`
	ExtentHeaderSize int64    `json:"extentHeaderSize" yaml:"extentHeaderSize" bson:"extentHeaderSize"`
	RecordHeaderSize int64    `json:"recordHeaderSize" yaml:"recordHeaderSize" bson:"recordHeaderSize"`
	Range            [2]int64 `json:"range" yaml:"range" bson:"range"`
	ChunkSize        int64    `json:"chunkSize" yaml:"chunkSize" bson:"chunkSize"`

	Chunk `json:",inline" yaml:",inline" bson:",inline"`

	Chunks         []Chunk         `json:"chunks" yaml:"chunks" bson:"chunks"`
	Records        []Record        `json:"records,omitempty" yaml:"records,omitempty" bson:"records,omitempty"`
	DeletedRecords []DeletedRecord `json:"deletedRecords,omitempty" yaml:"deletedRecords,omitempty" bson:"deletedRecords,omitempty"`
	Partial        bool            `json:"partial,omitempty" yaml:"partial,omitempty" bson:"partial,omitempty"`
}

// DiskSet groups the reports of several extents of one namespace. Total
// covers every extent that was scanned.
type DiskSet struct {
	Namespace string  `json:"ns" yaml:"ns" bson:"ns"`
	Total     *Chunk  `json:"total,omitempty" yaml:"total,omitempty" bson:"total,omitempty"`
	Extents   []*Disk `json:"extents" yaml:"extents" bson:"extents"`
	Partial   bool    `json:"partial,omitempty" yaml:"partial,omitempty" bson:"partial,omitempty"`
}

// =============================================================================
// Memory residency
// =============================================================================

// Mem is the report of one residency sample.
type Mem struct {
	Namespace string     `json:"ns" yaml:"ns" bson:"ns"`
	Extent    int        `json:"extent" yaml:"extent" bson:"extent"`
	ExtentLoc string     `json:"extentLoc" yaml:"extentLoc" bson:"extentLoc"`
	PageSize  int        `json:"pageSize" yaml:"pageSize" bson:"pageSize"`
	Range     [2]int64   `json:"range" yaml:"range" bson:"range"`
	ChunkSize int64      `json:"chunkSize" yaml:"chunkSize" bson:"chunkSize"`
	Pages     int        `json:"pages" yaml:"pages" bson:"pages"`
	Resident  int        `json:"resident" yaml:"resident" bson:"resident"`
	InMem     *float64   `json:"inMem,omitempty" yaml:"inMem,omitempty" bson:"inMem,omitempty"`
	Chunks    []*float64 `json:"chunks" yaml:"chunks" bson:"chunks"`
	Partial   bool       `json:"partial,omitempty" yaml:"partial,omitempty" bson:"partial,omitempty"`
}

// MemSet groups the residency reports of several extents. InMem is the
// resident share of every page sampled across them.
type MemSet struct {
	Namespace string   `json:"ns" yaml:"ns" bson:"ns"`
	Pages     int      `json:"pages" yaml:"pages" bson:"pages"`
	Resident  int      `json:"resident" yaml:"resident" bson:"resident"`
	InMem     *float64 `json:"inMem,omitempty" yaml:"inMem,omitempty" bson:"inMem,omitempty"`
	Extents   []*Mem   `json:"extents" yaml:"extents" bson:"extents"`
	Partial   bool     `json:"partial,omitempty" yaml:"partial,omitempty" bson:"partial,omitempty"`
}

// =============================================================================
// Index statistics
// =============================================================================

// Area is the serialized form of btree.AreaStats.
type Area struct {
	NumBuckets   int     `json:"numBuckets" yaml:"numBuckets" bson:"numBuckets"`
	KeyCount     Summary `json:"keyCount" yaml:"keyCount" bson:"keyCount"`
	UsedKeyCount Summary `json:"usedKeyCount" yaml:"usedKeyCount" bson:"usedKeyCount"`
	FillRatio    Summary `json:"fillRatio" yaml:"fillRatio" bson:"fillRatio"`
	BSONRatio    Summary `json:"bsonRatio" yaml:"bsonRatio" bson:"bsonRatio"`
	KeyNodeRatio Summary `json:"keyNodeRatio" yaml:"keyNodeRatio" bson:"keyNodeRatio"`
}

// NodeInfo describes one child of an expanded node.
type NodeInfo struct {
	ChildNum     int      `json:"childNum" yaml:"childNum" bson:"childNum"`
	Loc          string   `json:"loc" yaml:"loc" bson:"loc"`
	Depth        int      `json:"depth" yaml:"depth" bson:"depth"`
	KeyCount     int      `json:"keyCount" yaml:"keyCount" bson:"keyCount"`
	UsedKeyCount int      `json:"usedKeyCount" yaml:"usedKeyCount" bson:"usedKeyCount"`
	FirstKey     string   `json:"firstKey,omitempty" yaml:"firstKey,omitempty" bson:"firstKey,omitempty"`
	LastKey      string   `json:"lastKey,omitempty" yaml:"lastKey,omitempty" bson:"lastKey,omitempty"`
	FillRatio    *float64 `json:"fillRatio,omitempty" yaml:"fillRatio,omitempty" bson:"fillRatio,omitempty"`
	BSONRatio    *float64 `json:"bsonRatio,omitempty" yaml:"bsonRatio,omitempty" bson:"bsonRatio,omitempty"`
	KeyNodeRatio *float64 `json:"keyNodeRatio,omitempty" yaml:"keyNodeRatio,omitempty" bson:"keyNodeRatio,omitempty"`
}

// Branch is one expanded level: for each child number that holds a node,
// the node itself and the aggregate of everything below it. Both slices
// are indexed by child number and hold null for null children.
type Branch struct {
	Depth    int         `json:"depth" yaml:"depth" bson:"depth"`
	Nodes    []*NodeInfo `json:"nodes" yaml:"nodes" bson:"nodes"`
	Subtrees []*Area     `json:"subtrees" yaml:"subtrees" bson:"subtrees"`
}

// ExtentUsage is the space accounting of one index extent.
type ExtentUsage struct {
	Loc     string   `json:"loc" yaml:"loc" bson:"loc"`
	Length  int64    `json:"len" yaml:"len" bson:"len"`
	Entries int      `json:"entries" yaml:"entries" bson:"entries"`
	RecLen  int64    `json:"recLen" yaml:"recLen" bson:"recLen"`
	Usage   *float64 `json:"usage,omitempty" yaml:"usage,omitempty" bson:"usage,omitempty"`
}

// Storage summarizes how densely an index's extents are filled.
type Storage struct {
	Extents             []ExtentUsage `json:"extents" yaml:"extents" bson:"extents"`
	NumRecords          int           `json:"numRecords" yaml:"numRecords" bson:"numRecords"`
	OverallStorageUsage *float64      `json:"overallStorageUsage,omitempty" yaml:"overallStorageUsage,omitempty" bson:"overallStorageUsage,omitempty"`
}

// Index is the report of one index tree walk.
type Index struct {
	Name            string   `json:"name" yaml:"name" bson:"name"`
	Namespace       string   `json:"ns" yaml:"ns" bson:"ns"`
	KeyPattern      string   `json:"keyPattern" yaml:"keyPattern" bson:"keyPattern"`
	Version         int      `json:"version" yaml:"version" bson:"version"`
	Root            string   `json:"root" yaml:"root" bson:"root"`
	BucketBodyBytes int      `json:"bucketBodyBytes" yaml:"bucketBodyBytes" bson:"bucketBodyBytes"`
	Depth           int      `json:"depth" yaml:"depth" bson:"depth"`
	Overall         Area     `json:"overall" yaml:"overall" bson:"overall"`
	PerLevel        []Area   `json:"perLevel" yaml:"perLevel" bson:"perLevel"`
	Expanded        []Branch `json:"expandedNodes,omitempty" yaml:"expandedNodes,omitempty" bson:"expandedNodes,omitempty"`
	Storage         *Storage `json:"storage,omitempty" yaml:"storage,omitempty" bson:"storage,omitempty"`
	Partial         bool     `json:"partial,omitempty" yaml:"partial,omitempty" bson:"partial,omitempty"`
}

// =============================================================================
// Query results
// =============================================================================

// Table is a generic query result in column order.
type Table struct {
	Columns []string `json:"columns" yaml:"columns" bson:"columns"`
	Rows    [][]any  `json:"rows" yaml:"rows" bson:"rows"`
}
