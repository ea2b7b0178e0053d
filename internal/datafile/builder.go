package datafile

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"os"
	"slices"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/xtxerr/storscope/internal/engine"
	"github.com/xtxerr/storscope/internal/errors"
	"github.com/xtxerr/storscope/internal/validation"
)

// DefaultExtentSize is the extent size used when BuilderOptions leaves it
// unset.
const DefaultExtentSize = 256 << 10

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	// ExtentSize is the minimum extent length. Extents grow to fit a
	// record that does not fit otherwise.
	ExtentSize int64
}

// IndexSpec describes an index built over one collection field.
type IndexSpec struct {
	Name   string
	Field  string
	Format engine.NodeFormat

	// MaxKeysPerNode caps the node fan-out below what the bucket size
	// allows. Zero means no cap.
	MaxKeysPerNode int
}

// Builder writes a data file image in memory. Collections are filled
// first; indexes are built from the final collection contents when the
// image is finalized by Bytes or WriteFile.
type Builder struct {
	opts        BuilderOptions
	img         []byte
	namespaces  []*Namespace
	collections []*CollectionBuilder
	done        bool
	err         error
}

// NewBuilder returns an empty builder.
func NewBuilder(opts BuilderOptions) *Builder {
	if opts.ExtentSize <= 0 {
		opts.ExtentSize = DefaultExtentSize
	}
	opts.ExtentSize = alignUp(opts.ExtentSize, ExtentAlign)
	return &Builder{
		opts: opts,
		img:  make([]byte, FileHeaderSize),
	}
}

func (b *Builder) addNamespace(ns *Namespace) error {
	if b.done {
		return fmt.Errorf("builder already finalized")
	}
	if len(ns.Name) == 0 || len(ns.Name) > MaxNamespaceName {
		return errors.NewInvalidValue("namespace name", ns.Name, fmt.Sprintf("must be 1 to %d bytes", MaxNamespaceName))
	}
	if len(ns.KeyField) > MaxKeyField {
		return errors.NewInvalidValue("index field", ns.KeyField, fmt.Sprintf("must be at most %d bytes", MaxKeyField))
	}
	if len(b.namespaces) >= MaxNamespaces {
		return errors.NewValidation("namespace", fmt.Sprintf("at most %d namespaces fit the table", MaxNamespaces))
	}
	for _, other := range b.namespaces {
		if other.Name == ns.Name {
			return errors.NewValidation("namespace", fmt.Sprintf("'%s' already exists", ns.Name))
		}
	}
	ns.slot = len(b.namespaces)
	b.namespaces = append(b.namespaces, ns)
	return nil
}

// Collection adds a collection namespace.
func (b *Builder) Collection(name string, capped bool) (*CollectionBuilder, error) {
	if err := validation.ValidateCollectionNamespace(name); err != nil {
		return nil, err
	}
	ns := &Namespace{Name: name, Kind: KindCollection, Capped: capped}
	if err := b.addNamespace(ns); err != nil {
		return nil, err
	}
	c := &CollectionBuilder{b: b, ns: ns, deleted: make(map[engine.Loc]bool)}
	b.collections = append(b.collections, c)
	return c, nil
}

// Bytes finalizes the image and returns it.
func (b *Builder) Bytes() ([]byte, error) {
	if !b.done {
		b.done = true
		b.err = b.finalize()
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.img, nil
}

// WriteFile finalizes the image and writes it to path.
func (b *Builder) WriteFile(path string) error {
	data, err := b.Bytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write data file: %w", err)
	}
	return nil
}

func (b *Builder) finalize() error {
	for _, c := range b.collections {
		for _, spec := range c.indexes {
			if err := c.buildIndex(spec); err != nil {
				return fmt.Errorf("index %s on %s: %w", spec.Name, c.ns.Name, err)
			}
		}
	}

	copy(b.img[0:8], fileMagic[:])
	binary.LittleEndian.PutUint32(b.img[8:], FormatVersion)
	binary.LittleEndian.PutUint32(b.img[12:], uint32(len(b.namespaces)))
	binary.LittleEndian.PutUint64(b.img[16:], uint64(len(b.img)))

	for i, ns := range b.namespaces {
		off := NamespaceTableOffset + i*NamespaceEntrySize
		encodeNamespace(b.img[off:off+NamespaceEntrySize], ns)
	}
	return nil
}

func encodeNamespace(e []byte, ns *Namespace) {
	copy(e[nsName:nsName+MaxNamespaceName], ns.Name)
	e[nsKind] = byte(ns.Kind)
	if ns.Capped {
		e[nsCapped] = 1
	}
	e[nsVersion] = byte(ns.IndexVersion)
	putLoc(e[nsFirstExtent:], ns.FirstExtent)
	putLoc(e[nsLastExtent:], ns.LastExtent)
	putLoc(e[nsRoot:], ns.Root)
	copy(e[nsKeyField:nsKeyField+MaxKeyField], ns.KeyField)
	for i, head := range ns.FreeLists {
		putLoc(e[nsDeleted+8*i:], head)
	}
}

// CollectionBuilder appends records to one namespace.
type CollectionBuilder struct {
	b       *Builder
	ns      *Namespace
	cur     engine.Loc
	used    int64
	records []engine.Loc
	deleted map[engine.Loc]bool
	indexes []IndexSpec
}

// Name returns the namespace name.
func (c *CollectionBuilder) Name() string { return c.ns.Name }

// Records returns the live records in insertion order.
func (c *CollectionBuilder) Records() []engine.Loc {
	out := make([]engine.Loc, 0, len(c.records))
	for _, loc := range c.records {
		if !c.deleted[loc] {
			out = append(out, loc)
		}
	}
	return out
}

// Insert appends doc as a new record.
func (c *CollectionBuilder) Insert(doc []byte) (engine.Loc, error) {
	return c.InsertPadded(doc, 0)
}

// InsertPadded appends doc followed by padding unused bytes.
func (c *CollectionBuilder) InsertPadded(doc []byte, padding int) (engine.Loc, error) {
	if c.b.done {
		return engine.NullLoc, fmt.Errorf("builder already finalized")
	}
	if padding < 0 {
		return engine.NullLoc, errors.NewInvalidValue("padding", padding, "must not be negative")
	}
	loc := c.appendRecord(int64(len(doc) + padding))
	copy(c.b.img[loc+RecordHeaderSize:], doc)
	c.records = append(c.records, loc)
	return loc, nil
}

// Delete unlinks a live record and pushes it onto its size-class free
// list.
func (c *CollectionBuilder) Delete(loc engine.Loc) error {
	if c.ns.Capped {
		return errors.NewUnsupported("delete from capped collection", c.ns.Name)
	}
	if c.deleted[loc] || !slices.Contains(c.records, loc) {
		return errors.NewNotFound("record", loc.String())
	}

	img := c.b.img
	h := decodeRecordHeader(img[loc:])
	extLoc := loc - engine.Loc(h.extentOfs)
	ext, _ := decodeExtentHeader(img[extLoc:])

	if h.prev.IsNull() {
		ext.firstRecord = h.next
	} else {
		p := decodeRecordHeader(img[h.prev:])
		p.next = h.next
		encodeRecordHeader(img[h.prev:], p)
	}
	if h.next.IsNull() {
		ext.lastRecord = h.prev
	} else {
		n := decodeRecordHeader(img[h.next:])
		n.prev = h.prev
		encodeRecordHeader(img[h.next:], n)
	}
	encodeExtentHeader(img[extLoc:], ext)

	bucket := engine.BucketFor(h.length)
	h.next = c.ns.FreeLists[bucket]
	h.prev = engine.NullLoc
	encodeRecordHeader(img[loc:], h)
	c.ns.FreeLists[bucket] = loc

	c.deleted[loc] = true
	return nil
}

// AddIndex registers an index to build when the image is finalized.
func (c *CollectionBuilder) AddIndex(spec IndexSpec) error {
	if _, err := spec.Format.Layout(); err != nil {
		return err
	}
	if err := validation.ValidateName("index name", spec.Name, validation.IndexRules()); err != nil {
		return err
	}
	if spec.Field == "" {
		return errors.NewMissingField("index field")
	}
	if spec.MaxKeysPerNode < 0 {
		return errors.NewInvalidValue("max keys per node", spec.MaxKeysPerNode, "must not be negative")
	}
	for _, other := range c.indexes {
		if other.Name == spec.Name {
			return errors.NewValidation("index", fmt.Sprintf("'%s' already exists on %s", spec.Name, c.ns.Name))
		}
	}
	c.indexes = append(c.indexes, spec)
	return nil
}

// appendRecord reserves a record with a payload of n bytes, links it at
// the tail of the current extent and returns its location.
func (c *CollectionBuilder) appendRecord(n int64) engine.Loc {
	length := alignUp(RecordHeaderSize+n, RecordAlign)
	if c.cur.IsNull() || c.used+length > c.extentLength() {
		c.newExtent(length)
	}

	img := c.b.img
	loc := c.cur + engine.Loc(c.used)
	c.used += length

	ext, _ := decodeExtentHeader(img[c.cur:])
	encodeRecordHeader(img[loc:], recordHeader{
		length:    length,
		extentOfs: int64(loc - c.cur),
		prev:      ext.lastRecord,
	})
	if ext.lastRecord.IsNull() {
		ext.firstRecord = loc
	} else {
		p := decodeRecordHeader(img[ext.lastRecord:])
		p.next = loc
		encodeRecordHeader(img[ext.lastRecord:], p)
	}
	ext.lastRecord = loc
	encodeExtentHeader(img[c.cur:], ext)
	return loc
}

func (c *CollectionBuilder) extentLength() int64 {
	ext, _ := decodeExtentHeader(c.b.img[c.cur:])
	return ext.length
}

func (c *CollectionBuilder) newExtent(need int64) {
	size := max(c.b.opts.ExtentSize, alignUp(ExtentHeaderSize+need, ExtentAlign))
	loc := engine.Loc(len(c.b.img))
	c.b.img = append(c.b.img, make([]byte, size)...)

	encodeExtentHeader(c.b.img[loc:], extentHeader{
		length:    size,
		prev:      c.ns.LastExtent,
		namespace: c.ns.slot,
	})
	if c.ns.LastExtent.IsNull() {
		c.ns.FirstExtent = loc
	} else {
		prev, _ := decodeExtentHeader(c.b.img[c.ns.LastExtent:])
		prev.next = loc
		encodeExtentHeader(c.b.img[c.ns.LastExtent:], prev)
	}
	c.ns.LastExtent = loc
	c.cur = loc
	c.used = ExtentHeaderSize
}

// =============================================================================
// Index build
// =============================================================================

type indexEntry struct {
	key    []byte
	value  bson.RawValue
	record engine.Loc
	unused bool
}

// buildIndex writes a balanced tree over spec.Field of every record the
// collection ever held. Keys of deleted records stay in the tree flagged
// unused.
func (c *CollectionBuilder) buildIndex(spec IndexSpec) error {
	codec, err := newNodeCodec(spec.Format)
	if err != nil {
		return err
	}

	entries := make([]indexEntry, 0, len(c.records))
	maxKey := 0
	for _, loc := range c.records {
		h := decodeRecordHeader(c.b.img[loc:])
		doc := c.b.img[loc+RecordHeaderSize : int64(loc)+h.length]
		doc = doc[:DocSize(doc)]

		var value interface{}
		if v, err := bson.Raw(doc).LookupErr(strings.Split(spec.Field, ".")...); err == nil {
			value = v
		}
		key, err := bson.Marshal(bson.D{{Key: "", Value: value}})
		if err != nil {
			return fmt.Errorf("encode key of %s: %w", loc, err)
		}
		entries = append(entries, indexEntry{
			key:    key,
			value:  bson.Raw(key).Index(0).Value(),
			record: loc,
			unused: c.deleted[loc],
		})
		maxKey = max(maxKey, len(key))
	}
	slices.SortStableFunc(entries, func(a, b indexEntry) int {
		return compareKeys(a.value, b.value)
	})

	body := codec.layout.BodySize()
	fanout := body / (codec.layout.KeyNodeSize + max(maxKey, 1))
	if spec.MaxKeysPerNode > 0 {
		fanout = min(fanout, spec.MaxKeysPerNode)
	}
	if fanout < 1 {
		return errors.NewInvalidValue("index key", maxKey, "key does not fit a node")
	}

	ix := &CollectionBuilder{b: c.b, ns: &Namespace{
		Name:         IndexNamespace(c.ns.Name, spec.Name),
		Kind:         KindIndex,
		IndexVersion: spec.Format,
		KeyField:     spec.Field,
	}, deleted: make(map[engine.Loc]bool)}
	if err := c.b.addNamespace(ix.ns); err != nil {
		return err
	}

	tb := &treeBuilder{ix: ix, codec: codec, fanout: fanout}
	height := 0
	for tb.capacity(height) < len(entries) {
		height++
	}
	ix.ns.Root = tb.build(entries, height, engine.NullLoc)
	return nil
}

type treeBuilder struct {
	ix     *CollectionBuilder
	codec  *nodeCodec
	fanout int
}

// capacity is the number of keys a full tree of height h holds.
func (t *treeBuilder) capacity(h int) int {
	s := t.fanout
	for ; h > 0; h-- {
		s = t.fanout + (t.fanout+1)*s
	}
	return s
}

// build writes a subtree of height h holding entries. The node is
// allocated before its children, so a parent always precedes its subtree
// in the file.
func (t *treeBuilder) build(entries []indexEntry, h int, parent engine.Loc) engine.Loc {
	loc := t.ix.appendRecord(engine.BucketSize)

	if h == 0 {
		t.writeNode(loc, parent, entries, nil, engine.NullLoc)
		return loc
	}

	n := len(entries)
	sub := t.capacity(h - 1)
	groups := (n + 1 + sub) / (sub + 1)
	groups = max(2, min(groups, t.fanout+1))

	rest := n - (groups - 1)
	seps := make([]indexEntry, 0, groups-1)
	children := make([]engine.Loc, 0, groups-1)
	next := engine.NullLoc

	pos := 0
	for g := 0; g < groups; g++ {
		size := rest / groups
		if g < rest%groups {
			size++
		}
		child := engine.NullLoc
		if size > 0 {
			child = t.build(entries[pos:pos+size], h-1, loc)
		}
		pos += size

		if g == groups-1 {
			next = child
			break
		}
		children = append(children, child)
		seps = append(seps, entries[pos])
		pos++
	}

	t.writeNode(loc, parent, seps, children, next)
	return loc
}

func (t *treeBuilder) writeNode(loc, parent engine.Loc, keys []indexEntry, children []engine.Loc, next engine.Loc) {
	bucket := t.ix.b.img[loc+RecordHeaderSize : loc+RecordHeaderSize+engine.BucketSize]
	layout := t.codec.layout
	body := bucket[layout.HeaderSize:]

	top := 0
	for i, e := range keys {
		top += len(e.key)
		ofs := len(body) - top
		copy(body[ofs:], e.key)

		k := keyNode{recordLoc: e.record, keyOfs: ofs}
		if children != nil {
			k.prevChild = children[i]
		}
		if e.unused {
			k.recordLoc |= 1
		}
		t.codec.encodeKeyNode(body, i, k)
	}

	t.codec.encodeHeader(bucket, nodeHeader{
		parent:    parent,
		nextChild: next,
		emptySize: len(body) - len(keys)*layout.KeyNodeSize - top,
		topSize:   top,
		n:         len(keys),
	})
}

// compareKeys orders keys by type class, then by value.
func compareKeys(a, b bson.RawValue) int {
	if c := cmp.Compare(typeClass(a), typeClass(b)); c != 0 {
		return c
	}
	switch typeClass(a) {
	case 0:
		return 0
	case 1:
		x, _ := numericValue(a)
		y, _ := numericValue(b)
		return cmp.Compare(x, y)
	case 2:
		return strings.Compare(a.StringValue(), b.StringValue())
	case 3:
		x, y := a.ObjectID(), b.ObjectID()
		return bytes.Compare(x[:], y[:])
	default:
		return bytes.Compare(a.Value, b.Value)
	}
}

func typeClass(v bson.RawValue) int {
	switch v.Type {
	case bsontype.Null, bsontype.Undefined, 0:
		return 0
	case bsontype.Double, bsontype.Int32, bsontype.Int64, bsontype.Decimal128:
		return 1
	case bsontype.String:
		return 2
	case bsontype.ObjectID:
		return 3
	default:
		return 4
	}
}
