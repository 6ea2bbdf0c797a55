package geolocate

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scatteredDocs(n int, seed uint64) []*Document {
	rng := rand.New(rand.NewPCG(seed, 7))
	docs := make([]*Document, n)
	for i := range docs {
		docs[i] = trainDoc(fmt.Sprintf("doc-%d", i),
			rng.Float64()*120-60, rng.Float64()*340-170,
			"common", fmt.Sprintf("w%d", i%7))
	}
	return docs
}

func sum(xs []int) int {
	var n int
	for _, x := range xs {
		n += x
	}
	return n
}

func TestAdaptiveGridLeafSizes(t *testing.T) {
	for _, method := range []SplitMethod{SplitHalfway, SplitMedian, SplitMaxMargin} {
		t.Run(method.String(), func(t *testing.T) {
			g := closedGrid(t, GridAdaptive, scatteredDocs(100, 42),
				WithBucketSize(10), WithSplitMethod(method))
			ag := g.(*AdaptiveGrid)

			sizes := ag.LeafSizes()
			assert.Equal(t, 100, sum(sizes))
			for _, n := range sizes {
				assert.LessOrEqual(t, n, 10)
			}
			assert.Greater(t, len(sizes), 1)

			var docs int
			for c := range g.NonemptyCells(false) {
				docs += c.NumDocuments()
				assert.GreaterOrEqual(t, c.Node(), 0)
			}
			assert.Equal(t, 100, docs, "true leaves partition the documents")
			assert.Len(t, ag.ActiveNodes(), len(sizes))
		})
	}
}

func TestAdaptiveGridIdenticalPoints(t *testing.T) {
	docs := make([]*Document, 30)
	for i := range docs {
		docs[i] = trainDoc(fmt.Sprintf("d%d", i), 12.5, 45.5, "x")
	}
	g := closedGrid(t, GridAdaptive, docs, WithBucketSize(10))
	assert.Equal(t, []int{30}, g.(*AdaptiveGrid).LeafSizes(), "a node without extent stays one oversized leaf")
}

func TestAdaptiveGridLocateCell(t *testing.T) {
	docs := scatteredDocs(100, 9)
	g := closedGrid(t, GridAdaptive, docs, WithBucketSize(10))
	for _, d := range docs {
		c, ok := g.LocateCell(*d.Coord)
		require.True(t, ok, "document %s", d.ID)
		assert.True(t, c.Bounds().Contains(*d.Coord), "leaf bounds cover their own points")
		assert.Equal(t, c.Center(), g.CenterFor(*d.Coord))
	}
}

func TestAdaptiveGridBackoff(t *testing.T) {
	g := closedGrid(t, GridAdaptive, scatteredDocs(100, 3), WithBucketSize(10), WithBackoff(true))
	ag := g.(*AdaptiveGrid)

	cells := slices.Collect(g.NonemptyCells(false))
	require.NotEmpty(t, cells)
	root := cells[0]
	assert.Equal(t, 0, root.Node())
	assert.Equal(t, 0, root.Depth())
	assert.Equal(t, 100, root.NumDocuments(), "inner nodes aggregate their whole subtree")
	assert.Greater(t, len(cells), len(ag.LeafSizes()))

	// Every point still locates to its true leaf.
	for _, d := range scatteredDocs(100, 3) {
		c, ok := g.LocateCell(*d.Coord)
		require.True(t, ok)
		n, _ := ag.Node(c.Node())
		assert.Same(t, c, n)
		assert.LessOrEqual(t, c.NumDocuments(), 10)
	}
}

func TestAdaptiveGridSubdivisionCutoff(t *testing.T) {
	g := closedGrid(t, GridAdaptive, scatteredDocs(100, 5), WithBucketSize(5), WithSubdivisionCutoff(30))
	ag := g.(*AdaptiveGrid)

	var docs int
	cells := slices.Collect(g.NonemptyCells(false))
	for _, c := range cells {
		docs += c.NumDocuments()
	}
	assert.Equal(t, 100, docs, "logical leaves partition the documents")
	assert.Less(t, len(cells), len(ag.LeafSizes()), "logical leaves are coarser than true leaves")

	for _, id := range ag.ActiveNodes() {
		n, ok := ag.Node(int(id))
		require.True(t, ok)
		if n.NumDocuments() > 30 {
			t.Errorf("active node %d holds %d points, above the cutoff", id, n.NumDocuments())
		}
	}
	_, ok := ag.Node(-1)
	assert.False(t, ok)
}

func TestAdaptiveGridInterpolation(t *testing.T) {
	docs := regionalDocs(SplitTraining, 25, 11)
	g := closedGrid(t, GridAdaptive, docs, WithBucketSize(10), WithInterpolationWeight(0.3))

	for c := range g.NonemptyCells(false) {
		assert.InDelta(t, 9*float64(c.NumDocuments()), c.Model().Tokens(), 1e-9,
			"interpolation keeps each cell's token total")
	}

	nyc, ok := g.LocateCell(Coord{40.5, -74.5})
	require.True(t, ok)
	require.Greater(t, nyc.Depth(), 0)
	thames, _ := g.Vocabulary().Lookup("Thames")
	assert.Greater(t, nyc.Model().Count(thames), 0.0, "ancestors blend in other regions' terms")
}

func TestParseSplitMethod(t *testing.T) {
	for _, m := range []SplitMethod{SplitHalfway, SplitMedian, SplitMaxMargin} {
		got, err := ParseSplitMethod(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	got, err := ParseSplitMethod("MAX_MARGIN")
	require.NoError(t, err)
	assert.Equal(t, SplitMaxMargin, got)
	_, err = ParseSplitMethod("quartile")
	assert.Error(t, err)
}

func TestAdaptiveGridMerge(t *testing.T) {
	docs := scatteredDocs(40, 5)
	g, err := NewAdaptiveGrid(WithBucketSize(8))
	require.NoError(t, err)
	part := g.shard()
	for i, d := range docs {
		target := Grid(g)
		if i%2 == 1 {
			target = part
		}
		require.NoError(t, target.AddDocument(d))
	}
	require.NoError(t, g.Merge(part))
	require.NoError(t, g.Close())
	assert.Equal(t, 40, sum(g.LeafSizes()))
	assert.Equal(t, 40, g.Summary().Documents)

	tests := []struct {
		name string
		opt  Option
	}{
		{"bucket size", WithBucketSize(5)},
		{"split method", WithSplitMethod(SplitMedian)},
		{"backoff", WithBackoff(true)},
		{"subdivision cutoff", WithSubdivisionCutoff(20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fresh, err := NewAdaptiveGrid()
			require.NoError(t, err)
			other, err := NewAdaptiveGrid(tt.opt)
			require.NoError(t, err)
			assert.ErrorIs(t, fresh.Merge(other), ErrGridKindMismatch)
		})
	}
}
