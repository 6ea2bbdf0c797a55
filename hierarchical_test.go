package geolocate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHierarchicalRanker(t *testing.T) {
	training := regionalDocs(SplitTraining, 25, 1)
	coarse := closedGrid(t, GridFixed, training, WithDegreesPerCell(30))
	fine := closedGrid(t, GridFixed, training, WithDegreesPerCell(1))

	h, err := NewHierarchicalRanker(
		NewKLDivergenceStrategy(coarse, false, false),
		NewNaiveBayesStrategy(fine, false, 0),
		2,
	)
	require.NoError(t, err)
	assert.Equal(t, "kl-divergence>naive-bayes-no-baseline", h.Name())

	for _, doc := range regionalDocs(SplitTest, 3, 5) {
		ranked, err := h.Rank(context.Background(), doc)
		require.NoError(t, err)
		require.Len(t, ranked, 2, "one fine cell under each of the top two coarse cells")
		want, ok := fine.LocateCell(*doc.Coord)
		require.True(t, ok)
		assert.Same(t, want, ranked[0].Cell)
	}
}

func TestHierarchicalRankerSkipsEmptyCoarseCells(t *testing.T) {
	training := regionalDocs(SplitTraining, 10, 1)
	coarse := closedGrid(t, GridFixed, training, WithDegreesPerCell(30))
	// The fine grid never saw the southern hemisphere.
	var north []*Document
	for _, d := range training {
		if d.Coord.Lat > 0 {
			north = append(north, d)
		}
	}
	fine := closedGrid(t, GridFixed, north, WithDegreesPerCell(1))

	h, err := NewHierarchicalRanker(
		NewKLDivergenceStrategy(coarse, false, false),
		NewKLDivergenceStrategy(fine, false, false),
		4,
	)
	require.NoError(t, err)

	ranked, err := h.Rank(context.Background(), trainDoc("q", 0, 0, "Thames", "tube"))
	require.NoError(t, err)
	assert.Len(t, ranked, 3)
	assert.Equal(t, TileIndex{51, -1}, ranked[0].Cell.Tile())
	assert.Equal(t, int64(1), fine.Skips().Count(SkipZeroSubcells))
}

func TestHierarchicalRankerOverlappingCoarseCells(t *testing.T) {
	training := regionalDocs(SplitTraining, 10, 1)
	coarse := closedGrid(t, GridFixed, training, WithDegreesPerCell(30), WithMultiCellWidth(2))
	fine := closedGrid(t, GridFixed, training, WithDegreesPerCell(1))

	h, err := NewHierarchicalRanker(
		NewKLDivergenceStrategy(coarse, false, false),
		NewKLDivergenceStrategy(fine, false, false),
		1000,
	)
	require.NoError(t, err)

	ranked, err := h.Rank(context.Background(), trainDoc("q", 0, 0, "Bondi", "ferry"))
	require.NoError(t, err)
	seen := make(map[*Cell]bool)
	for _, rc := range ranked {
		assert.False(t, seen[rc.Cell], "fine cell %s listed twice", rc.Cell)
		seen[rc.Cell] = true
	}
	assert.Len(t, ranked, 4)
	assert.Equal(t, TileIndex{-34, 151}, ranked[0].Cell.Tile())
}

func TestNewHierarchicalRankerRejects(t *testing.T) {
	g := regionalGrid(t)
	s := NewKLDivergenceStrategy(g, false, false)
	other := NewKLDivergenceStrategy(regionalGrid(t), false, false)

	_, err := NewHierarchicalRanker(s, other, 0)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = NewHierarchicalRanker(s, NewCosineStrategy(g, false, false), 3)
	assert.Error(t, err, "coarse and fine must rank different grids")
}
