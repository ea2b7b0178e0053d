package datafile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/xtxerr/storscope/internal/engine"
	"github.com/xtxerr/storscope/internal/errors"
	"github.com/xtxerr/storscope/internal/logging"
)

// Namespace is one entry of the namespace table.
type Namespace struct {
	Name         string
	Kind         NamespaceKind
	Capped       bool
	IndexVersion engine.NodeFormat
	KeyField     string
	FirstExtent  engine.Loc
	LastExtent   engine.Loc
	Root         engine.Loc
	FreeLists    [engine.NumBuckets]engine.Loc

	slot int
}

// IsIndex reports whether the namespace holds an index tree.
func (n *Namespace) IsIndex() bool {
	return n.Kind == KindIndex
}

// Collection returns the collection an index namespace belongs to, or the
// namespace name itself for collections.
func (n *Namespace) Collection() string {
	if i := strings.Index(n.Name, ".$"); i >= 0 {
		return n.Name[:i]
	}
	return n.Name
}

// IndexName returns the index name of an index namespace.
func (n *Namespace) IndexName() string {
	if i := strings.Index(n.Name, ".$"); i >= 0 {
		return n.Name[i+2:]
	}
	return ""
}

// IndexNamespace returns the namespace name of index idx on coll.
func IndexNamespace(coll, idx string) string {
	return coll + ".$" + idx
}

// File is an opened data file. All accessors are read-only.
type File struct {
	path       string
	data       []byte
	mapped     bool
	pageSize   int
	namespaces []*Namespace
	log        *slog.Logger
}

// Open memory-maps path read-only and parses its namespace table.
func Open(path string) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound("data file", path)
		}
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer fd.Close()

	st, err := fd.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat data file: %w", err)
	}
	if st.Size() < FileHeaderSize {
		return nil, errors.NewCorrupt("data file %s is %d bytes, shorter than its header", path, st.Size())
	}

	data, err := unix.Mmap(int(fd.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap data file: %w", err)
	}

	f, err := parse(data)
	if err != nil {
		_ = unix.Munmap(data)
		return nil, err
	}
	f.path = path
	f.mapped = true

	f.log.Debug("data file opened",
		"path", path,
		"size", len(data),
		"namespaces", len(f.namespaces),
	)
	return f, nil
}

// Parse reads a file image held in memory. Residency queries fail on
// such a file because it is not mapped.
func Parse(data []byte) (*File, error) {
	return parse(data)
}

func parse(data []byte) (*File, error) {
	if len(data) < FileHeaderSize {
		return nil, errors.NewCorrupt("file is %d bytes, shorter than its header", len(data))
	}
	if !bytes.Equal(data[:8], fileMagic[:]) {
		return nil, errors.NewUnsupported("file magic", fmt.Sprintf("%q", data[:8]))
	}
	if v := binary.LittleEndian.Uint32(data[8:]); v != FormatVersion {
		return nil, errors.NewUnsupported("file format version", v)
	}

	count := int(binary.LittleEndian.Uint32(data[12:]))
	if count > MaxNamespaces {
		return nil, errors.NewCorrupt("namespace count %d exceeds table size %d", count, MaxNamespaces)
	}

	f := &File{
		data:     data,
		pageSize: os.Getpagesize(),
		log:      logging.Component("datafile"),
	}

	for i := 0; i < count; i++ {
		off := NamespaceTableOffset + i*NamespaceEntrySize
		f.namespaces = append(f.namespaces, decodeNamespace(data[off:off+NamespaceEntrySize], i))
	}

	return f, nil
}

func decodeNamespace(b []byte, slot int) *Namespace {
	ns := &Namespace{
		Name:         cString(b[nsName : nsName+MaxNamespaceName+1]),
		Kind:         NamespaceKind(b[nsKind]),
		Capped:       b[nsCapped] != 0,
		IndexVersion: engine.NodeFormat(b[nsVersion]),
		FirstExtent:  getLoc(b[nsFirstExtent:]),
		LastExtent:   getLoc(b[nsLastExtent:]),
		Root:         getLoc(b[nsRoot:]),
		KeyField:     cString(b[nsKeyField : nsKeyField+MaxKeyField+1]),
		slot:         slot,
	}
	for i := range ns.FreeLists {
		ns.FreeLists[i] = getLoc(b[nsDeleted+8*i:])
	}
	return ns
}

// Close unmaps the file.
func (f *File) Close() error {
	if !f.mapped {
		return nil
	}
	f.mapped = false
	return unix.Munmap(f.data)
}

// Path returns the file path, empty for parsed images.
func (f *File) Path() string {
	return f.path
}

// Size returns the file length.
func (f *File) Size() int64 {
	return int64(len(f.data))
}

// Namespaces returns every namespace in table order.
func (f *File) Namespaces() []*Namespace {
	return f.namespaces
}

// Namespace looks up a namespace by name.
func (f *File) Namespace(name string) (*Namespace, error) {
	for _, ns := range f.namespaces {
		if ns.Name == name {
			return ns, nil
		}
	}
	return nil, fmt.Errorf("namespace '%s': %w", name, errors.ErrNamespaceNotFound)
}

// Collection looks up a collection namespace by name.
func (f *File) Collection(name string) (*Namespace, error) {
	ns, err := f.Namespace(name)
	if err != nil {
		return nil, err
	}
	if ns.IsIndex() {
		return nil, fmt.Errorf("namespace '%s' is an index: %w", name, errors.ErrNamespaceNotFound)
	}
	return ns, nil
}

// Indexes returns the index namespaces of a collection.
func (f *File) Indexes(coll string) []*Namespace {
	var out []*Namespace
	for _, ns := range f.namespaces {
		if ns.IsIndex() && ns.Collection() == coll {
			out = append(out, ns)
		}
	}
	return out
}

// slice returns n bytes at off, or ErrCorrupt when they are not in the file.
func (f *File) slice(off engine.Loc, n int64) ([]byte, error) {
	if off < 0 || n < 0 || int64(off)+n > int64(len(f.data)) {
		return nil, errors.NewCorrupt("range [%d,%d) outside file of %d bytes", int64(off), int64(off)+n, len(f.data))
	}
	return f.data[off : int64(off)+n], nil
}

// Extents returns the extents of ns in list order.
func (f *File) Extents(ns *Namespace) ([]*ExtentView, error) {
	var out []*ExtentView
	limit := len(f.data) / ExtentHeaderSize

	for loc := ns.FirstExtent; !loc.IsNull(); {
		if len(out) > limit {
			return nil, errors.NewCorrupt("extent list of %s does not terminate", ns.Name)
		}
		ext, err := f.extentAt(ns, loc, len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, ext)
		loc = ext.hdr.next
	}
	return out, nil
}

// Extent returns the n-th extent of ns, counting from zero.
func (f *File) Extent(ns *Namespace, n int) (*ExtentView, error) {
	if n < 0 {
		return nil, fmt.Errorf("extent %d of %s: %w", n, ns.Name, errors.ErrExtentNotFound)
	}

	loc := ns.FirstExtent
	for i := 0; !loc.IsNull(); i++ {
		ext, err := f.extentAt(ns, loc, i)
		if err != nil {
			return nil, err
		}
		if i == n {
			return ext, nil
		}
		if i > len(f.data)/ExtentHeaderSize {
			return nil, errors.NewCorrupt("extent list of %s does not terminate", ns.Name)
		}
		loc = ext.hdr.next
	}
	return nil, fmt.Errorf("extent %d of %s: %w", n, ns.Name, errors.ErrExtentNotFound)
}

func (f *File) extentAt(ns *Namespace, loc engine.Loc, num int) (*ExtentView, error) {
	b, err := f.slice(loc, ExtentHeaderSize)
	if err != nil {
		return nil, err
	}
	hdr, ok := decodeExtentHeader(b)
	if !ok {
		return nil, errors.NewCorrupt("no extent header at %s", loc)
	}
	if hdr.length < ExtentHeaderSize || int64(loc)+hdr.length > int64(len(f.data)) {
		return nil, errors.NewCorrupt("extent at %s has length %d", loc, hdr.length)
	}
	return &ExtentView{file: f, ns: ns, loc: loc, hdr: hdr, num: num}, nil
}

// Index opens the tree of index idx on collection coll.
func (f *File) Index(coll, idx string) (*BTree, error) {
	ns, err := f.Namespace(IndexNamespace(coll, idx))
	if err != nil || !ns.IsIndex() {
		return nil, fmt.Errorf("index '%s' on %s: %w", idx, coll, errors.ErrIndexNotFound)
	}
	return f.Tree(ns), nil
}

// Tree returns the tree stored in index namespace ns.
func (f *File) Tree(ns *Namespace) *BTree {
	return newBTree(f, ns)
}

// PageSize returns the page size used for residency queries.
func (f *File) PageSize() int {
	return f.pageSize
}

// SetPageSize overrides the residency page size. Values <= 0 restore the
// OS page size.
func (f *File) SetPageSize(n int) {
	if n <= 0 {
		n = os.Getpagesize()
	}
	f.pageSize = n
}
