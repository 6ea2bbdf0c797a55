package geolocate

import (
	"fmt"
	"iter"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

// AdaptiveGrid partitions the Earth with a k-d tree balanced on the training
// coordinates, so dense areas get small cells and sparse areas large ones.
//
// Construction takes two passes. AddDocument only records the coordinate
// and the document model; Close balances the tree and then accumulates every
// document into its leaf and each ancestor of that leaf, so inner nodes
// aggregate their whole subtree. Which nodes become rankable cells is
// decided at close time:
//
//   - by default, the true leaves;
//   - with Backoff, every node;
//   - with a SubdivisionCutoff, the "logical leaves" found by descending
//     breadth-first and splitting only nodes holding more points than the
//     cutoff.
type AdaptiveGrid struct {
	gridBase
	tree    *kdTree
	pending []pendingDocument

	nodes   []*Cell         // indexed by node id
	active  *roaring.Bitmap // node ids serving as cells
	ordered []*Cell         // nonempty active cells in preorder
}

type pendingDocument struct {
	doc   *Document
	coord Coord
	model LanguageModel
}

var _ Grid = (*AdaptiveGrid)(nil)

// NewAdaptiveGrid creates an empty open AdaptiveGrid.
func NewAdaptiveGrid(opts ...Option) (*AdaptiveGrid, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	return newAdaptiveGrid(cfg, nil), nil
}

func newAdaptiveGrid(cfg *Config, vocab *Vocabulary) *AdaptiveGrid {
	return &AdaptiveGrid{
		gridBase: newGridBase(GridAdaptive, cfg, vocab),
		tree:     newKdTree(cfg.BucketSize, cfg.SplitMethod),
		active:   roaring.New(),
	}
}

func (g *AdaptiveGrid) shard() Grid {
	return newAdaptiveGrid(g.cfg, g.vocab)
}

// AddDocument implements Grid. The document is placed into cells by Close.
func (g *AdaptiveGrid) AddDocument(doc *Document) error {
	m, err := g.admit("AdaptiveGrid.AddDocument", doc)
	if err != nil {
		return err
	}
	g.tree.insert(*doc.Coord)
	g.pending = append(g.pending, pendingDocument{doc: doc, coord: *doc.Coord, model: m})
	return nil
}

// Merge implements Grid.
func (g *AdaptiveGrid) Merge(other Grid) error {
	o, ok := other.(*AdaptiveGrid)
	if !ok {
		return fmt.Errorf("AdaptiveGrid.Merge with %v grid: %w", other.Kind(), ErrGridKindMismatch)
	}
	if a, b := g.cfg, o.cfg; a.BucketSize != b.BucketSize || a.SplitMethod != b.SplitMethod ||
		a.Backoff != b.Backoff || a.SubdivisionCutoff != b.SubdivisionCutoff {
		return fmt.Errorf("AdaptiveGrid.Merge: k-d settings bucket=%d split=%v backoff=%t cutoff=%d differ from bucket=%d split=%v backoff=%t cutoff=%d: %w",
			b.BucketSize, b.SplitMethod, b.Backoff, b.SubdivisionCutoff,
			a.BucketSize, a.SplitMethod, a.Backoff, a.SubdivisionCutoff, ErrGridKindMismatch)
	}
	if err := g.mergeBase("AdaptiveGrid.Merge", &o.gridBase); err != nil {
		return err
	}
	for _, p := range o.pending {
		g.tree.insert(p.coord)
		g.pending = append(g.pending, p)
	}
	o.pending = nil
	return nil
}

// Close implements Grid.
func (g *AdaptiveGrid) Close() error {
	g.mustBeOpen("AdaptiveGrid.Close")
	started := time.Now()
	g.tree.balance()

	g.nodes = make([]*Cell, len(g.tree.nodes))
	for _, n := range g.tree.nodes {
		b := n.bounds()
		c := newCell(g.newModel(), b, b.Center())
		c.node = n.id
		c.depth = n.depth
		g.nodes[n.id] = c
	}
	for _, p := range g.pending {
		for n := g.tree.leaf(p.coord); n != nil; n = n.parent {
			g.nodes[n.id].accumulate(p.doc, p.model)
		}
	}
	g.pending = nil

	if w := g.cfg.InterpolationWeight; w > 0 {
		// Preorder visits a parent before its children, so each child is
		// blended with an already blended parent.
		for _, n := range g.tree.nodes[1:] {
			g.nodes[n.id].model.Interpolate(g.nodes[n.parent.id].model, w)
		}
	}

	g.selectActive()
	g.ordered = g.ordered[:0]
	for _, n := range g.tree.nodes {
		if c := g.nodes[n.id]; g.active.Contains(uint32(n.id)) && c.numDocs > 0 {
			g.ordered = append(g.ordered, c)
		}
	}
	g.closeCells(g.ordered, started)
	return nil
}

func (g *AdaptiveGrid) selectActive() {
	switch {
	case g.cfg.Backoff:
		g.active.AddRange(0, uint64(len(g.tree.nodes)))
	case g.cfg.SubdivisionCutoff > 0:
		queue := []*kdNode{g.tree.root}
		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]
			if !n.isLeaf() && n.count > g.cfg.SubdivisionCutoff {
				queue = append(queue, n.left, n.right)
				continue
			}
			g.active.Add(uint32(n.id))
		}
	default:
		for _, n := range g.tree.leaves() {
			g.active.Add(uint32(n.id))
		}
	}
}

// NonemptyCells implements Grid.
func (g *AdaptiveGrid) NonemptyCells(requireModel bool) iter.Seq[*Cell] {
	g.mustBeClosed("AdaptiveGrid.NonemptyCells")
	return iterCells(g.ordered, requireModel)
}

// LocateCell implements Grid. It descends to the true leaf, then walks up
// to the nearest node in the active set.
func (g *AdaptiveGrid) LocateCell(c Coord) (*Cell, bool) {
	g.mustBeClosed("AdaptiveGrid.LocateCell")
	for n := g.tree.leaf(c); n != nil; n = n.parent {
		if g.active.Contains(uint32(n.id)) {
			cell := g.nodes[n.id]
			return cell, cell.numDocs > 0
		}
	}
	return nil, false
}

// CenterFor implements Grid. Every node has a cell once the grid is closed,
// active or not, so the answer is the centre of the located node's bounds.
func (g *AdaptiveGrid) CenterFor(c Coord) Coord {
	g.mustBeClosed("AdaptiveGrid.CenterFor")
	for n := g.tree.leaf(c); n != nil; n = n.parent {
		if g.active.Contains(uint32(n.id)) {
			return g.nodes[n.id].center
		}
	}
	return g.nodes[0].center
}

// CellsWithin implements Grid.
func (g *AdaptiveGrid) CellsWithin(b Box) []*Cell {
	g.mustBeClosed("AdaptiveGrid.CellsWithin")
	return cellsWithin(g.ordered, b)
}

// Node returns the cell of k-d node id, whether or not it is active. Nodes
// outside the active set are never closed.
func (g *AdaptiveGrid) Node(id int) (*Cell, bool) {
	g.mustBeClosed("AdaptiveGrid.Node")
	if id < 0 || id >= len(g.nodes) {
		return nil, false
	}
	return g.nodes[id], true
}

// ActiveNodes returns the ids of the nodes serving as cells.
func (g *AdaptiveGrid) ActiveNodes() []uint32 {
	g.mustBeClosed("AdaptiveGrid.ActiveNodes")
	return g.active.ToArray()
}

// LeafSizes returns the number of training points in each true leaf, in
// preorder.
func (g *AdaptiveGrid) LeafSizes() []int {
	g.mustBeClosed("AdaptiveGrid.LeafSizes")
	leaves := g.tree.leaves()
	out := make([]int, len(leaves))
	for i, n := range leaves {
		out[i] = n.count
	}
	return out
}
