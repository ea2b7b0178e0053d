// Package btree aggregates statistics over an index tree.
//
// The walk is depth-first. Selection happens pre-order: a node is expanded
// when its parent was expanded and its child number matches the expansion
// path entry for its depth. Aggregation happens post-order: a node is folded
// into its scopes only after its children, so the subtree bucket of an
// expanded node's child covers everything below that child while the child
// itself is described by a separate NodeInfo.
package btree

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xtxerr/storscope/internal/engine"
	"github.com/xtxerr/storscope/internal/errors"
	"github.com/xtxerr/storscope/internal/logging"
	"github.com/xtxerr/storscope/internal/stats"
)

// DefaultMaxDepth bounds the walk when Options leaves MaxDepth unset.
const DefaultMaxDepth = 64

// Options configures a tree analysis.
type Options struct {
	Stats stats.Options

	// Expand selects the subtree to break down, one child number per
	// depth. It must start with 0, the root.
	Expand []int

	// MaxDepth is the deepest level the walk descends to before it
	// reports the tree as corrupt.
	MaxDepth int
}

// Validate checks the expansion path and estimator options.
func (o Options) Validate() error {
	if err := o.Stats.Validate(); err != nil {
		return err
	}
	if o.MaxDepth < 0 {
		return errors.NewInvalidValue("max tree depth", o.MaxDepth, "must not be negative")
	}
	for i, c := range o.Expand {
		if c < 0 {
			return fmt.Errorf("expansion path entry %d is %d: %w", i, c, errors.ErrInvalidExpansionPath)
		}
	}
	if len(o.Expand) > 0 && o.Expand[0] != 0 {
		return fmt.Errorf("expansion path must start at the root (0), got %d: %w", o.Expand[0], errors.ErrInvalidExpansionPath)
	}
	return nil
}

// AreaStats aggregates the nodes of one scope.
type AreaStats struct {
	NumBuckets   int
	KeyCount     *stats.Summary
	UsedKeyCount *stats.Summary
	FillRatio    *stats.Summary
	BSONRatio    *stats.Summary
	KeyNodeRatio *stats.Summary
}

func newAreaStats(opts stats.Options) *AreaStats {
	return &AreaStats{
		KeyCount:     stats.MustSummary(opts),
		UsedKeyCount: stats.MustSummary(opts),
		FillRatio:    stats.MustSummary(opts),
		BSONRatio:    stats.MustSummary(opts),
		KeyNodeRatio: stats.MustSummary(opts),
	}
}

func (a *AreaStats) add(m *nodeMetrics) {
	a.NumBuckets++
	a.KeyCount.Observe(float64(m.keyCount))
	a.UsedKeyCount.Observe(float64(m.usedKeyCount))
	a.FillRatio.Observe(m.fillRatio)
	a.BSONRatio.Observe(m.bsonRatio)
	a.KeyNodeRatio.Observe(m.keyNodeRatio)
}

// NodeInfo describes a node whose parent was expanded.
type NodeInfo struct {
	Loc          engine.Loc
	Depth        int
	ChildNum     int
	KeyCount     int
	UsedKeyCount int
	FirstKey     []byte
	LastKey      []byte
	FillRatio    float64
	BSONRatio    float64
	KeyNodeRatio float64
}

// Branch holds one expanded level: a subtree bucket and a NodeInfo per
// child number of the expanded node above it. Every visited child gets a
// bucket, empty for leaves. Slots of null children stay nil.
type Branch struct {
	Subtrees []*AreaStats
	Nodes    []*NodeInfo
}

// Result is the outcome of a tree analysis.
type Result struct {
	Format          engine.NodeFormat
	Root            engine.Loc
	BucketBodyBytes int

	// Depth is the number of levels seen.
	Depth int

	WholeTree *AreaStats
	PerLevel  []*AreaStats

	// Branches is indexed by depth and is empty without an expansion
	// path. Branches[0] holds the root.
	Branches []*Branch

	// Partial is set when the walk was interrupted. Every node that was
	// visited is still accounted for.
	Partial bool
}

type nodeMetrics struct {
	keyCount     int
	usedKeyCount int
	fillRatio    float64
	bsonRatio    float64
	keyNodeRatio float64
}

type walker struct {
	ctx       context.Context
	tree      engine.Tree
	opts      Options
	layout    engine.NodeLayout
	res       *Result
	ancestors []int
	log       *slog.Logger
}

// Analyze walks tree and aggregates its node statistics. When the walk is
// interrupted the partial result is returned together with the error.
func Analyze(ctx context.Context, tree engine.Tree, opts Options) (*Result, error) {
	if opts.MaxDepth == 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	layout, err := tree.Format().Layout()
	if err != nil {
		return nil, err
	}

	w := &walker{
		ctx:    ctx,
		tree:   tree,
		opts:   opts,
		layout: layout,
		res: &Result{
			Format:          layout.Format,
			Root:            tree.Root(),
			BucketBodyBytes: layout.BodySize(),
			WholeTree:       newAreaStats(opts.Stats),
		},
		log: logging.WithContext(ctx).With("component", "btree"),
	}

	expandRoot := len(opts.Expand) > 0
	if expandRoot {
		w.res.Branches = []*Branch{{
			Subtrees: make([]*AreaStats, 1),
			Nodes:    make([]*NodeInfo, 1),
		}}
	}

	w.log.Debug("tree walk started",
		"format", layout.Format,
		"root", tree.Root(),
		"expand", opts.Expand,
	)

	if !tree.Root().IsNull() {
		err = w.walk(tree.Root(), 0, 0, expandRoot)
	}
	w.res.Depth = len(w.res.PerLevel)

	if err != nil {
		if errors.IsPartial(err) {
			w.res.Partial = true
			w.log.Warn("tree walk interrupted",
				"nodes", w.res.WholeTree.NumBuckets,
				"error", err,
			)
			return w.res, err
		}
		return nil, err
	}

	w.log.Debug("tree walk finished",
		"nodes", w.res.WholeTree.NumBuckets,
		"depth", w.res.Depth,
	)
	return w.res, nil
}

func (w *walker) walk(loc engine.Loc, depth, childNum int, parentExpanded bool) error {
	if err := errors.CheckInterrupt(w.ctx); err != nil {
		return err
	}
	if depth >= w.opts.MaxDepth {
		return errors.NewCorrupt("tree deeper than %d levels at node %s", w.opts.MaxDepth, loc)
	}

	node, err := w.tree.Node(loc)
	if err != nil {
		return errors.Wrapf(err, "node %s at depth %d", loc, depth)
	}

	m := w.measure(node)
	n := node.NumKeys()

	expanded := parentExpanded && depth < len(w.opts.Expand) && w.opts.Expand[depth] == childNum
	if parentExpanded {
		w.ancestors = append(w.ancestors, childNum)
		w.branchStats(depth, childNum)
	}
	if expanded {
		w.growBranches(depth + 1)
		w.res.Branches[depth+1] = &Branch{
			Subtrees: make([]*AreaStats, n+1),
			Nodes:    make([]*NodeInfo, n+1),
		}
	}

	// Children are visited until the first error; this frame is folded
	// either way.
	for i := 0; i <= n && err == nil; i++ {
		child := node.NextChild()
		if i < n {
			child = node.Child(i)
		}
		if child.IsNull() {
			continue
		}
		err = w.walk(child, depth+1, i, expanded)
	}

	if parentExpanded {
		w.ancestors = w.ancestors[:len(w.ancestors)-1]
	}
	for d, c := range w.ancestors {
		w.branchStats(d, c).add(m)
	}

	w.res.WholeTree.add(m)
	w.level(depth).add(m)

	if parentExpanded {
		w.res.Branches[depth].Nodes[childNum] = w.nodeInfo(loc, depth, childNum, node, m)
	}
	return err
}

func (w *walker) measure(node engine.Node) *nodeMetrics {
	body := float64(w.layout.BodySize())
	n := node.NumKeys()

	m := &nodeMetrics{
		keyCount:     n,
		fillRatio:    1 - float64(node.EmptySize())/body,
		bsonRatio:    float64(node.KeyDataSize()) / body,
		keyNodeRatio: float64(w.layout.KeyNodeSize*n) / body,
	}
	for i := 0; i < n; i++ {
		if node.Used(i) {
			m.usedKeyCount++
		}
	}
	return m
}

func (w *walker) nodeInfo(loc engine.Loc, depth, childNum int, node engine.Node, m *nodeMetrics) *NodeInfo {
	info := &NodeInfo{
		Loc:          loc,
		Depth:        depth,
		ChildNum:     childNum,
		KeyCount:     m.keyCount,
		UsedKeyCount: m.usedKeyCount,
		FillRatio:    m.fillRatio,
		BSONRatio:    m.bsonRatio,
		KeyNodeRatio: m.keyNodeRatio,
	}
	for i := 0; i < m.keyCount; i++ {
		if !node.Used(i) {
			continue
		}
		key := append([]byte(nil), node.Key(i)...)
		if info.FirstKey == nil {
			info.FirstKey = key
		}
		info.LastKey = key
	}
	return info
}

func (w *walker) level(depth int) *AreaStats {
	for len(w.res.PerLevel) <= depth {
		w.res.PerLevel = append(w.res.PerLevel, newAreaStats(w.opts.Stats))
	}
	return w.res.PerLevel[depth]
}

func (w *walker) growBranches(depth int) {
	for len(w.res.Branches) <= depth {
		w.res.Branches = append(w.res.Branches, nil)
	}
}

func (w *walker) branchStats(depth, childNum int) *AreaStats {
	b := w.res.Branches[depth]
	if b.Subtrees[childNum] == nil {
		b.Subtrees[childNum] = newAreaStats(w.opts.Stats)
	}
	return b.Subtrees[childNum]
}
