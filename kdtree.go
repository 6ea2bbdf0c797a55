package geolocate

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// SplitMethod selects how a k-d node picks its split value along its widest
// axis.
type SplitMethod uint8

const (
	// SplitHalfway splits at the midpoint of the node's extent.
	SplitHalfway SplitMethod = iota
	// SplitMedian splits at the median coordinate.
	SplitMedian
	// SplitMaxMargin splits in the middle of the widest gap between
	// consecutive coordinates.
	SplitMaxMargin
)

func (m SplitMethod) String() string {
	switch m {
	case SplitHalfway:
		return "halfway"
	case SplitMedian:
		return "median"
	case SplitMaxMargin:
		return "max-margin"
	default:
		return fmt.Sprintf("SplitMethod(%d)", uint8(m))
	}
}

func (m SplitMethod) valid() bool { return m <= SplitMaxMargin }

// ParseSplitMethod parses "halfway", "median" or "max-margin".
func ParseSplitMethod(s string) (SplitMethod, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "-")) {
	case "halfway":
		return SplitHalfway, nil
	case "median":
		return SplitMedian, nil
	case "max-margin", "maxmargin":
		return SplitMaxMargin, nil
	}
	return 0, fmt.Errorf("unknown split method %q", s)
}

const (
	axisLat  = 0
	axisLong = 1
)

func coordAxis(c Coord, axis int) float64 {
	if axis == axisLat {
		return c.Lat
	}
	return c.Long
}

// kdNode is a node of a bucketed 2-d tree over (lat, long). Points are kept
// only until the tree is balanced; afterwards nodes carry counts and bounds.
type kdNode struct {
	id     int // preorder position, assigned by balance
	depth  int
	parent *kdNode
	left   *kdNode
	right  *kdNode

	points []Coord
	count  int
	min    [2]float64
	max    [2]float64

	axis  int
	split float64
}

func (n *kdNode) isLeaf() bool { return n.left == nil || n.right == nil }

func (n *kdNode) add(c Coord) {
	v := [2]float64{c.Lat, c.Long}
	if n.count == 0 {
		n.min, n.max = v, v
	} else {
		for i := range v {
			n.min[i] = math.Min(n.min[i], v[i])
			n.max[i] = math.Max(n.max[i], v[i])
		}
	}
	n.points = append(n.points, c)
	n.count++
}

// bounds returns the extent of the points seen by the node.
func (n *kdNode) bounds() Box {
	return Box{
		SW: Coord{Lat: n.min[axisLat], Long: n.min[axisLong]},
		NE: Coord{Lat: n.max[axisLat], Long: n.max[axisLong]},
	}
}

func (n *kdNode) widestAxis() int {
	if n.max[axisLong]-n.min[axisLong] > n.max[axisLat]-n.min[axisLat] {
		return axisLong
	}
	return axisLat
}

// kdTree is built in two passes: insert every point, then balance.
type kdTree struct {
	root       *kdNode
	bucketSize int
	method     SplitMethod
	nodes      []*kdNode // preorder, valid after balance
	balanced   bool
}

func newKdTree(bucketSize int, method SplitMethod) *kdTree {
	return &kdTree{
		root:       &kdNode{},
		bucketSize: bucketSize,
		method:     method,
	}
}

func (t *kdTree) insert(c Coord) {
	t.root.add(c)
}

// balance splits every node holding more than bucketSize points and numbers
// the nodes in preorder.
func (t *kdTree) balance() {
	t.splitNode(t.root)
	t.nodes = t.nodes[:0]
	var walk func(n *kdNode)
	walk = func(n *kdNode) {
		n.id = len(t.nodes)
		n.points = nil
		t.nodes = append(t.nodes, n)
		if !n.isLeaf() {
			walk(n.left)
			walk(n.right)
		}
	}
	walk(t.root)
	t.balanced = true
}

func (t *kdTree) splitNode(n *kdNode) {
	if n.count <= t.bucketSize {
		return
	}
	n.axis = n.widestAxis()
	// A node without width cannot be split; it stays an oversized leaf.
	if n.min[n.axis] == n.max[n.axis] {
		return
	}
	n.split = t.splitValue(n)
	if n.split == n.max[n.axis] {
		n.split = n.min[n.axis]
	}
	n.left = &kdNode{parent: n, depth: n.depth + 1}
	n.right = &kdNode{parent: n, depth: n.depth + 1}
	for _, p := range n.points {
		if coordAxis(p, n.axis) > n.split {
			n.right.add(p)
		} else {
			n.left.add(p)
		}
	}
	n.points = nil
	t.splitNode(n.left)
	t.splitNode(n.right)
}

func (t *kdTree) splitValue(n *kdNode) float64 {
	var v float64
	switch t.method {
	case SplitMedian:
		vals := n.axisValues()
		mid := len(vals) / 2
		if len(vals)%2 == 1 {
			v = vals[mid]
		} else {
			v = (vals[mid-1] + vals[mid]) / 2
		}
	case SplitMaxMargin:
		vals := n.axisValues()
		v = math.NaN()
		var margin float64
		for i := 0; i+1 < len(vals); i++ {
			if d := vals[i+1] - vals[i]; d > margin {
				margin = d
				v = vals[i] + d/2
			}
		}
	default:
		v = (n.min[n.axis] + n.max[n.axis]) / 2
	}
	switch {
	case math.IsNaN(v):
		v = 0
	case math.IsInf(v, 1):
		v = math.MaxFloat64
	case math.IsInf(v, -1):
		v = -math.MaxFloat64
	}
	return v
}

func (n *kdNode) axisValues() []float64 {
	vals := make([]float64, len(n.points))
	for i, p := range n.points {
		vals[i] = coordAxis(p, n.axis)
	}
	slices.Sort(vals)
	return vals
}

// leaf returns the leaf whose region contains c.
func (t *kdTree) leaf(c Coord) *kdNode {
	n := t.root
	for !n.isLeaf() {
		if coordAxis(c, n.axis) <= n.split {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n
}

// leaves returns the leaves in preorder.
func (t *kdTree) leaves() []*kdNode {
	var out []*kdNode
	for _, n := range t.nodes {
		if n.isLeaf() {
			out = append(out, n)
		}
	}
	return out
}
