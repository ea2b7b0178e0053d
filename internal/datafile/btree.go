package datafile

import (
	"encoding/binary"

	"github.com/xtxerr/storscope/internal/engine"
	"github.com/xtxerr/storscope/internal/errors"
)

// Index tree nodes are records whose payload is one engine.BucketSize
// bucket: a node header followed by the body. The body starts with the key
// node array and packs key documents downwards from its end.
//
//	v0 header: parent i64 | next child i64 | flags u16 | reserved u16 |
//	           empty size i32 | top size i32 | key count i32
//	v1 header: parent loc56 | next child loc56 | flags u16 |
//	           empty size i32 | top size i32 | key count u16
//	v0 key node: prev child i64 | record loc i64 | key offset u16
//	v1 key node: prev child loc56 | record loc loc56 | key offset u16
//
// The key offset is relative to the body. A key whose record location has
// the low bit set is unused.

type nodeHeader struct {
	parent    engine.Loc
	nextChild engine.Loc
	flags     uint16
	emptySize int
	topSize   int
	n         int
}

type keyNode struct {
	prevChild engine.Loc
	recordLoc engine.Loc
	keyOfs    int
}

// nodeCodec reads and writes nodes of one format.
type nodeCodec struct {
	layout engine.NodeLayout
}

func newNodeCodec(format engine.NodeFormat) (*nodeCodec, error) {
	layout, err := format.Layout()
	if err != nil {
		return nil, err
	}
	return &nodeCodec{layout: layout}, nil
}

func (c *nodeCodec) getLoc(b []byte) engine.Loc {
	if c.layout.LocSize == 7 {
		return getLoc56(b)
	}
	return getLoc(b)
}

func (c *nodeCodec) putLoc(b []byte, l engine.Loc) {
	if c.layout.LocSize == 7 {
		putLoc56(b, l)
		return
	}
	putLoc(b, l)
}

func (c *nodeCodec) decodeHeader(b []byte) nodeHeader {
	ls := c.layout.LocSize
	h := nodeHeader{
		parent:    c.getLoc(b[0:]),
		nextChild: c.getLoc(b[ls:]),
		flags:     binary.LittleEndian.Uint16(b[2*ls:]),
	}
	switch c.layout.Format {
	case engine.FormatV0:
		h.emptySize = int(int32(binary.LittleEndian.Uint32(b[20:])))
		h.topSize = int(int32(binary.LittleEndian.Uint32(b[24:])))
		h.n = int(int32(binary.LittleEndian.Uint32(b[28:])))
	default:
		h.emptySize = int(int32(binary.LittleEndian.Uint32(b[16:])))
		h.topSize = int(int32(binary.LittleEndian.Uint32(b[20:])))
		h.n = int(binary.LittleEndian.Uint16(b[24:]))
	}
	return h
}

func (c *nodeCodec) encodeHeader(b []byte, h nodeHeader) {
	ls := c.layout.LocSize
	c.putLoc(b[0:], h.parent)
	c.putLoc(b[ls:], h.nextChild)
	binary.LittleEndian.PutUint16(b[2*ls:], h.flags)
	switch c.layout.Format {
	case engine.FormatV0:
		binary.LittleEndian.PutUint32(b[20:], uint32(h.emptySize))
		binary.LittleEndian.PutUint32(b[24:], uint32(h.topSize))
		binary.LittleEndian.PutUint32(b[28:], uint32(h.n))
	default:
		binary.LittleEndian.PutUint32(b[16:], uint32(h.emptySize))
		binary.LittleEndian.PutUint32(b[20:], uint32(h.topSize))
		binary.LittleEndian.PutUint16(b[24:], uint16(h.n))
	}
}

func (c *nodeCodec) decodeKeyNode(body []byte, i int) keyNode {
	b := body[i*c.layout.KeyNodeSize:]
	ls := c.layout.LocSize
	return keyNode{
		prevChild: c.getLoc(b[0:]),
		recordLoc: c.getLoc(b[ls:]),
		keyOfs:    int(binary.LittleEndian.Uint16(b[2*ls:])),
	}
}

func (c *nodeCodec) encodeKeyNode(body []byte, i int, k keyNode) {
	b := body[i*c.layout.KeyNodeSize:]
	ls := c.layout.LocSize
	c.putLoc(b[0:], k.prevChild)
	c.putLoc(b[ls:], k.recordLoc)
	binary.LittleEndian.PutUint16(b[2*ls:], uint16(k.keyOfs))
}

// BTree is a read-only index tree stored in an index namespace. It
// implements engine.Tree.
type BTree struct {
	file     *File
	ns       *Namespace
	codec    *nodeCodec
	codecErr error
}

var _ engine.Tree = (*BTree)(nil)

func newBTree(f *File, ns *Namespace) *BTree {
	codec, err := newNodeCodec(ns.IndexVersion)
	return &BTree{file: f, ns: ns, codec: codec, codecErr: err}
}

// Namespace returns the index namespace.
func (t *BTree) Namespace() *Namespace { return t.ns }

// KeyField is the document field the index is built on.
func (t *BTree) KeyField() string { return t.ns.KeyField }

// Format returns the node format of the tree.
func (t *BTree) Format() engine.NodeFormat { return t.ns.IndexVersion }

// Root returns the location of the root node.
func (t *BTree) Root() engine.Loc { return t.ns.Root }

// Node decodes the node at loc.
func (t *BTree) Node(loc engine.Loc) (engine.Node, error) {
	if t.codecErr != nil {
		return nil, t.codecErr
	}

	b, err := t.file.slice(loc+RecordHeaderSize, engine.BucketSize)
	if err != nil {
		return nil, err
	}

	layout := t.codec.layout
	body := b[layout.HeaderSize:]
	hdr := t.codec.decodeHeader(b)
	if hdr.n < 0 || hdr.n*layout.KeyNodeSize > len(body) {
		return nil, errors.NewCorrupt("node %s has %d keys", loc, hdr.n)
	}
	if hdr.emptySize < 0 || hdr.emptySize > len(body) {
		return nil, errors.NewCorrupt("node %s has empty size %d", loc, hdr.emptySize)
	}

	return &node{codec: t.codec, hdr: hdr, body: body}, nil
}

type node struct {
	codec *nodeCodec
	hdr   nodeHeader
	body  []byte
}

func (n *node) NumKeys() int { return n.hdr.n }

func (n *node) Used(i int) bool {
	return n.codec.decodeKeyNode(n.body, i).recordLoc&1 == 0
}

func (n *node) Child(i int) engine.Loc {
	return n.codec.decodeKeyNode(n.body, i).prevChild
}

func (n *node) NextChild() engine.Loc { return n.hdr.nextChild }

func (n *node) Key(i int) []byte {
	ofs := n.codec.decodeKeyNode(n.body, i).keyOfs
	if ofs >= len(n.body) {
		return nil
	}
	doc := n.body[ofs:]
	return doc[:DocSize(doc)]
}

func (n *node) EmptySize() int { return n.hdr.emptySize }

func (n *node) KeyDataSize() int { return n.hdr.topSize }
