package datafile

import (
	"github.com/xtxerr/storscope/internal/engine"
	"github.com/xtxerr/storscope/internal/errors"
)

// ExtentView is a read-only view of one extent. It implements
// engine.Region.
type ExtentView struct {
	file *File
	ns   *Namespace
	loc  engine.Loc
	hdr  extentHeader
	num  int
}

var _ engine.Region = (*ExtentView)(nil)

// Number is the position of the extent in its namespace's list.
func (e *ExtentView) Number() int { return e.num }

// Namespace returns the namespace the extent belongs to.
func (e *ExtentView) Namespace() *Namespace { return e.ns }

// Loc returns the file offset of the extent header.
func (e *ExtentView) Loc() engine.Loc { return e.loc }

// Length returns the extent length, header included.
func (e *ExtentView) Length() int64 { return e.hdr.length }

// HeaderSize returns the extent header size.
func (e *ExtentView) HeaderSize() int64 { return ExtentHeaderSize }

// RecordHeaderSize returns the per-record header size.
func (e *ExtentView) RecordHeaderSize() int64 { return RecordHeaderSize }

// Capped reports whether the extent belongs to a capped collection.
func (e *ExtentView) Capped() bool { return e.ns.Capped }

func (e *ExtentView) contains(loc engine.Loc) bool {
	return loc >= e.loc && int64(loc) < int64(e.loc)+e.hdr.length
}

func (e *ExtentView) readRecordHeader(loc engine.Loc) (recordHeader, error) {
	if !e.contains(loc) {
		return recordHeader{}, errors.NewCorrupt("record %s outside extent %s", loc, e.loc)
	}
	b, err := e.file.slice(loc, RecordHeaderSize)
	if err != nil {
		return recordHeader{}, err
	}
	h := decodeRecordHeader(b)
	if h.length < RecordHeaderSize || int64(loc)+h.length > int64(e.loc)+e.hdr.length {
		return recordHeader{}, errors.NewCorrupt("record %s has length %d", loc, h.length)
	}
	return h, nil
}

// ForEachRecord calls fn for each live record in list order.
func (e *ExtentView) ForEachRecord(fn func(engine.Record) error) error {
	limit := e.hdr.length / RecordHeaderSize

	var n int64
	for loc := e.hdr.firstRecord; !loc.IsNull(); n++ {
		if n > limit {
			return errors.NewCorrupt("record list of extent %s does not terminate", e.loc)
		}
		h, err := e.readRecordHeader(loc)
		if err != nil {
			return err
		}
		doc, _ := e.file.slice(loc+RecordHeaderSize, h.length-RecordHeaderSize)
		rec := engine.Record{
			Loc:    loc,
			Offset: int64(loc - e.loc),
			Length: h.length,
			Doc:    doc,
		}
		if err := fn(rec); err != nil {
			return err
		}
		loc = h.next
	}
	return nil
}

// ForEachFreeRecord calls fn for each free record starting in this extent,
// bucket by bucket.
func (e *ExtentView) ForEachFreeRecord(fn func(engine.FreeRecord) error) error {
	if e.ns.Capped {
		return errors.NewUnsupported("free list of capped collection", e.ns.Name)
	}

	limit := e.file.Size() / RecordHeaderSize

	for bucket, head := range e.ns.FreeLists {
		var n int64
		for loc := head; !loc.IsNull(); n++ {
			if n > limit {
				return errors.NewCorrupt("free list %d of %s does not terminate", bucket, e.ns.Name)
			}
			b, err := e.file.slice(loc, RecordHeaderSize)
			if err != nil {
				return err
			}
			h := decodeRecordHeader(b)
			if e.contains(loc) {
				if h.length < RecordHeaderSize || int64(loc)+h.length > int64(e.loc)+e.hdr.length {
					return errors.NewCorrupt("free record %s has length %d", loc, h.length)
				}
				rec := engine.FreeRecord{
					Loc:    loc,
					Offset: int64(loc - e.loc),
					Length: h.length,
					Bucket: bucket,
				}
				if err := fn(rec); err != nil {
					return err
				}
			}
			loc = h.next
		}
	}
	return nil
}
