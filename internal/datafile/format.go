// Package datafile implements the reference data file the analyzers run
// against: a memory-mapped file of namespaces, extents, records, free lists
// and index trees.
//
// File format (binary, little-endian, locations are absolute file offsets,
// zero is null):
//
//	File header (FileHeaderSize bytes)
//	  magic [8] | version u32 | namespace count u32 | file length i64
//	  namespace table at offset 64, NamespaceEntrySize bytes per entry
//	Namespace entry
//	  name [64] | kind u8 | capped u8 | index version u8 | pad [5]
//	  first extent i64 | last extent i64 | root i64 | key field [32]
//	  free list heads [NumBuckets]i64
//	Extent header (ExtentHeaderSize bytes)
//	  magic u32 | length u32 | next i64 | prev i64 | first record i64
//	  last record i64 | namespace u32 | reserved u32
//	Record header (RecordHeaderSize bytes), followed by a BSON document
//	  length with headers u32 | offset in extent u32 | next i64 | prev i64
//
// Free records keep their header; next links the size-class free list.
// Index tree nodes are records of BucketSize payload bytes in the index
// namespace's extents.
package datafile

import (
	"bytes"
	"encoding/binary"

	"github.com/xtxerr/storscope/internal/engine"
)

const (
	// FileHeaderSize is reserved at the start of the file. Nothing is
	// ever located at offset 0, which keeps zero free for null.
	FileHeaderSize = 4096

	// FormatVersion is the only file version this package reads.
	FormatVersion = 1

	// NamespaceTableOffset is where the namespace table starts.
	NamespaceTableOffset = 64

	// NamespaceEntrySize is the size of one namespace table entry.
	NamespaceEntrySize = 320

	// MaxNamespaces fits the namespace table into the file header.
	MaxNamespaces = (FileHeaderSize - NamespaceTableOffset) / NamespaceEntrySize

	// MaxNamespaceName is the longest namespace name, in bytes.
	MaxNamespaceName = 63

	// MaxKeyField is the longest index key field path, in bytes.
	MaxKeyField = 31

	// ExtentHeaderSize is the size of an extent header.
	ExtentHeaderSize = 48

	// RecordHeaderSize is the size of a record header.
	RecordHeaderSize = 24

	// ExtentAlign aligns extents so their pages line up with OS pages.
	ExtentAlign = 4096

	// RecordAlign aligns record lengths. Record locations stay even,
	// which leaves the low bit of a key's record location free to flag
	// an unused key.
	RecordAlign = 4
)

var fileMagic = [8]byte{'S', 'T', 'O', 'R', 'S', 'C', 'P', 1}

const extentMagic uint32 = 0x31545845 // "EXT1"

// NamespaceKind distinguishes collections from index trees.
type NamespaceKind uint8

const (
	KindCollection NamespaceKind = 0
	KindIndex      NamespaceKind = 1
)

// String implements fmt.Stringer.
func (k NamespaceKind) String() string {
	switch k {
	case KindCollection:
		return "collection"
	case KindIndex:
		return "index"
	default:
		return "unknown"
	}
}

// Namespace entry field offsets.
const (
	nsName        = 0
	nsKind        = 64
	nsCapped      = 65
	nsVersion     = 66
	nsFirstExtent = 72
	nsLastExtent  = 80
	nsRoot        = 88
	nsKeyField    = 96
	nsDeleted     = 128
)

// Extent header field offsets.
const (
	extMagic       = 0
	extLength      = 4
	extNext        = 8
	extPrev        = 16
	extFirstRecord = 24
	extLastRecord  = 32
	extNamespace   = 40
)

// Record header field offsets.
const (
	recLength    = 0
	recExtentOfs = 4
	recNext      = 8
	recPrev      = 16
)

type extentHeader struct {
	length      int64
	next        engine.Loc
	prev        engine.Loc
	firstRecord engine.Loc
	lastRecord  engine.Loc
	namespace   int
}

func decodeExtentHeader(b []byte) (extentHeader, bool) {
	if len(b) < ExtentHeaderSize || binary.LittleEndian.Uint32(b[extMagic:]) != extentMagic {
		return extentHeader{}, false
	}
	return extentHeader{
		length:      int64(binary.LittleEndian.Uint32(b[extLength:])),
		next:        getLoc(b[extNext:]),
		prev:        getLoc(b[extPrev:]),
		firstRecord: getLoc(b[extFirstRecord:]),
		lastRecord:  getLoc(b[extLastRecord:]),
		namespace:   int(binary.LittleEndian.Uint32(b[extNamespace:])),
	}, true
}

func encodeExtentHeader(b []byte, h extentHeader) {
	binary.LittleEndian.PutUint32(b[extMagic:], extentMagic)
	binary.LittleEndian.PutUint32(b[extLength:], uint32(h.length))
	putLoc(b[extNext:], h.next)
	putLoc(b[extPrev:], h.prev)
	putLoc(b[extFirstRecord:], h.firstRecord)
	putLoc(b[extLastRecord:], h.lastRecord)
	binary.LittleEndian.PutUint32(b[extNamespace:], uint32(h.namespace))
}

type recordHeader struct {
	length    int64
	extentOfs int64
	next      engine.Loc
	prev      engine.Loc
}

func decodeRecordHeader(b []byte) recordHeader {
	return recordHeader{
		length:    int64(binary.LittleEndian.Uint32(b[recLength:])),
		extentOfs: int64(binary.LittleEndian.Uint32(b[recExtentOfs:])),
		next:      getLoc(b[recNext:]),
		prev:      getLoc(b[recPrev:]),
	}
}

func encodeRecordHeader(b []byte, h recordHeader) {
	binary.LittleEndian.PutUint32(b[recLength:], uint32(h.length))
	binary.LittleEndian.PutUint32(b[recExtentOfs:], uint32(h.extentOfs))
	putLoc(b[recNext:], h.next)
	putLoc(b[recPrev:], h.prev)
}

func getLoc(b []byte) engine.Loc {
	return engine.Loc(binary.LittleEndian.Uint64(b))
}

func putLoc(b []byte, l engine.Loc) {
	binary.LittleEndian.PutUint64(b, uint64(l))
}

// getLoc56 reads a 7-byte location.
func getLoc56(b []byte) engine.Loc {
	var v uint64
	for i := 6; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return engine.Loc(v)
}

// putLoc56 writes the low 56 bits of l.
func putLoc56(b []byte, l engine.Loc) {
	v := uint64(l)
	for i := 0; i < 7; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

// cString decodes a NUL padded fixed-size string.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func alignUp(n, align int64) int64 {
	return (n + align - 1) / align * align
}

// DocSize returns the BSON document length declared in the first four
// bytes of doc, or len(doc) when that is missing or implausible.
func DocSize(doc []byte) int64 {
	if len(doc) < 5 {
		return int64(len(doc))
	}
	n := int64(int32(binary.LittleEndian.Uint32(doc)))
	if n < 5 || n > int64(len(doc)) {
		return int64(len(doc))
	}
	return n
}
