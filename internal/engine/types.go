package engine

import (
	"fmt"

	"github.com/xtxerr/storscope/internal/errors"
)

// Loc is the location of an on-disk object. The zero value is null.
type Loc int64

// NullLoc terminates linked lists and tree recursion.
const NullLoc Loc = 0

// IsNull reports whether l is the null location.
func (l Loc) IsNull() bool {
	return l == NullLoc
}

// String implements fmt.Stringer.
func (l Loc) String() string {
	if l.IsNull() {
		return "null"
	}
	return fmt.Sprintf("0x%x", int64(l))
}

// =============================================================================
// Tree nodes
// =============================================================================

// NodeFormat is the on-disk version of an index tree's nodes. The version
// is invariant for a tree, so it is resolved once into a NodeLayout.
type NodeFormat uint8

const (
	// FormatV0 uses 64-bit locations and 18-byte key nodes.
	FormatV0 NodeFormat = 0

	// FormatV1 packs locations into 56 bits and uses 16-byte key nodes.
	FormatV1 NodeFormat = 1
)

// BucketSize is the fixed size of a tree node, header included.
const BucketSize = 8192

// NodeLayout holds the size constants of one node format.
type NodeLayout struct {
	Format      NodeFormat
	HeaderSize  int
	KeyNodeSize int
	LocSize     int
}

// BodySize is the node payload size: BucketSize minus the header.
func (l NodeLayout) BodySize() int {
	return BucketSize - l.HeaderSize
}

// Layout resolves the format's size constants.
func (f NodeFormat) Layout() (NodeLayout, error) {
	switch f {
	case FormatV0:
		return NodeLayout{Format: f, HeaderSize: 32, KeyNodeSize: 18, LocSize: 8}, nil
	case FormatV1:
		return NodeLayout{Format: f, HeaderSize: 26, KeyNodeSize: 16, LocSize: 7}, nil
	default:
		return NodeLayout{}, errors.NewUnsupported("index version", int(f))
	}
}

// String implements fmt.Stringer.
func (f NodeFormat) String() string {
	return fmt.Sprintf("v%d", uint8(f))
}

// Node is a read-only view of one tree node.
//
// Slot i has a left child Child(i); NextChild is the rightmost child, which
// the walk numbers NumKeys(). Unused slots are logically deleted keys that
// still occupy space.
type Node interface {
	NumKeys() int
	Used(i int) bool
	Child(i int) Loc
	NextChild() Loc
	Key(i int) []byte

	// EmptySize is the free space in the node body.
	EmptySize() int

	// KeyDataSize is the space taken by key payloads.
	KeyDataSize() int
}

// Tree is a read-only index tree.
type Tree interface {
	Format() NodeFormat
	Root() Loc
	Node(loc Loc) (Node, error)
}

// =============================================================================
// Extents and records
// =============================================================================

// Record is a live record. Offset is relative to the start of its extent
// and Length includes the record header.
type Record struct {
	Loc    Loc
	Offset int64
	Length int64
	Doc    []byte
}

// FreeRecord is a deleted record on a size-class free list.
type FreeRecord struct {
	Loc    Loc
	Offset int64
	Length int64
	Bucket int
}

// Region is a read-only extent. Iteration stops at the first error the
// callback returns, and that error is returned unchanged.
type Region interface {
	Loc() Loc
	Length() int64
	HeaderSize() int64
	RecordHeaderSize() int64
	Capped() bool
	ForEachRecord(fn func(Record) error) error

	// ForEachFreeRecord yields the free records that start in this region.
	// Capped regions have no free lists and return ErrUnsupportedFormat.
	ForEachFreeRecord(fn func(FreeRecord) error) error
}

// PageQuerier answers whether memory pages are resident.
type PageQuerier interface {
	PageSize() int

	// Resident reports residency of the pages containing
	// off, off+PageSize, ..., off+(pages-1)*PageSize.
	Resident(off int64, pages int) ([]bool, error)
}

// =============================================================================
// Free list size classes
// =============================================================================

// NumBuckets is the number of free list size classes.
const NumBuckets = 19

// BucketSizes are the exclusive upper bounds of the size classes. The last
// class also takes everything larger.
var BucketSizes = [NumBuckets]int64{
	0x20, 0x40, 0x80, 0x100, 0x200, 0x400, 0x800, 0x1000, 0x2000,
	0x4000, 0x8000, 0x10000, 0x20000, 0x40000, 0x80000, 0x100000,
	0x200000, 0x400000, 0x800000,
}

// BucketFor returns the size class of a free record of length n.
func BucketFor(n int64) int {
	for i, size := range BucketSizes {
		if n < size {
			return i
		}
	}
	return NumBuckets - 1
}
