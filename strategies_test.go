package geolocate

import (
	"context"
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var modelStrategies = []string{
	StrategyKLDivergence,
	StrategyPartialKLDivergence,
	StrategySymmetricKLDivergence,
	StrategySymmetricPartialKL,
	StrategyCosine,
	StrategySmoothedCosine,
	StrategyPartialCosine,
	StrategySmoothedPartialCosine,
	StrategyNaiveBayes,
	StrategyNaiveBayesBaseline,
	StrategyCellDistribution,
}

func regionalGrid(t *testing.T, opts ...Option) Grid {
	t.Helper()
	return closedGrid(t, GridFixed, regionalDocs(SplitTraining, 25, 1), opts...)
}

func TestStrategiesRankTrueCellFirst(t *testing.T) {
	g := regionalGrid(t)
	cache := NewCellDistributionCache(g)
	held := regionalDocs(SplitTest, 5, 2)

	for _, name := range modelStrategies {
		t.Run(name, func(t *testing.T) {
			s, err := NewStrategy(name, g, cache, StrategyOptions{})
			require.NoError(t, err)
			assert.Equal(t, name, s.Name())
			assert.Same(t, g, s.Grid())

			for _, doc := range held {
				ranked, err := s.Rank(context.Background(), g.DocumentModel(doc))
				require.NoError(t, err)
				require.Len(t, ranked, 4)
				for i := 1; i < len(ranked); i++ {
					require.GreaterOrEqual(t, ranked[i-1].Score, ranked[i].Score)
				}
				want, ok := g.LocateCell(*doc.Coord)
				require.True(t, ok)
				assert.Same(t, want, ranked[0].Cell, "document %s", doc.ID)
			}
		})
	}
}

func TestNewStrategy(t *testing.T) {
	g := regionalGrid(t)
	for _, name := range StrategyNames {
		s, err := NewStrategy(name, g, nil, StrategyOptions{Seed: 1})
		require.NoError(t, err, name)
		assert.Equal(t, name, s.Name())
	}

	_, err := NewStrategy("telepathy", g, nil, StrategyOptions{})
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	var cfgErr *ConfigError
	_, err = NewStrategy(StrategyNaiveBayesBaseline, g, nil, StrategyOptions{BaselineWeight: 1.5})
	assert.ErrorAs(t, err, &cfgErr)
	_, err = NewStrategy(StrategyMostCommonTerm, g, nil, StrategyOptions{FuzzyDistance: 4})
	assert.ErrorAs(t, err, &cfgErr)
}

// popularityGrid has cells holding 1, 3, 2 and 3 documents, in grid order.
func popularityGrid(t *testing.T) Grid {
	t.Helper()
	salience := func(d *Document, s float64) *Document {
		d.Salience = &s
		return d
	}
	return closedGrid(t, GridFixed, []*Document{
		salience(trainDoc("a1", 0.5, 0.5, "x"), 10),
		salience(trainDoc("b1", 1.5, 0.5, "x"), 1),
		salience(trainDoc("b2", 1.5, 0.5, "x"), 1),
		trainDoc("b3", 1.5, 0.5, "x"),
		trainDoc("c1", 2.5, 0.5, "x"),
		salience(trainDoc("c2", 2.5, 0.5, "x"), 4),
		trainDoc("d1", 3.5, 0.5, "x"),
		trainDoc("d2", 3.5, 0.5, "x"),
		trainDoc("d3", 3.5, 0.5, "x"),
	})
}

func rankedTiles(r []RankedCell) []TileIndex {
	out := make([]TileIndex, len(r))
	for i, rc := range r {
		out[i] = rc.Cell.Tile()
	}
	return out
}

func TestPopularityBaseline(t *testing.T) {
	g := popularityGrid(t)
	ranked, err := NewPopularityBaseline(g).Rank(context.Background(), g.DocumentModel(trainDoc("q", 0, 0, "x")))
	require.NoError(t, err)
	// Equal counts keep grid order.
	assert.Equal(t, []TileIndex{{1, 0}, {3, 0}, {2, 0}, {0, 0}}, rankedTiles(ranked))
	assert.Equal(t, 3.0, ranked[0].Score)
}

func TestNaiveBayesBaselineOnlyIsPopularity(t *testing.T) {
	g := popularityGrid(t)
	s, err := NewStrategy(StrategyNaiveBayesBaseline, g, nil, StrategyOptions{BaselineWeight: 1})
	require.NoError(t, err)
	ranked, err := s.Rank(context.Background(), g.DocumentModel(trainDoc("q", 0, 0, "x")))
	require.NoError(t, err)
	assert.Equal(t, []TileIndex{{1, 0}, {3, 0}, {2, 0}, {0, 0}}, rankedTiles(ranked))
	assert.InDelta(t, math.Log(3.0/9), ranked[0].Score, 1e-12)
}

func TestSalienceBaseline(t *testing.T) {
	g := popularityGrid(t)
	ranked, err := NewSalienceBaseline(g).Rank(context.Background(), g.DocumentModel(trainDoc("q", 0, 0, "x")))
	require.NoError(t, err)
	assert.Equal(t, []TileIndex{{0, 0}, {2, 0}, {1, 0}, {3, 0}}, rankedTiles(ranked))

	top := ranked[0].Cell
	id, ok := top.MostSalient()
	require.True(t, ok)
	assert.Equal(t, DocumentID("a1"), id)
	_, ok = ranked[3].Cell.MostSalient()
	assert.False(t, ok)
}

func TestRandomBaselineIsDeterministic(t *testing.T) {
	g := closedGrid(t, GridFixed, scatteredDocs(200, 4), WithDegreesPerCell(10))
	doc := g.DocumentModel(trainDoc("q", 0, 0, "common", "w1"))
	other := g.DocumentModel(trainDoc("q2", 0, 0, "common", "w2", "w2"))
	ctx := context.Background()

	s := NewRandomBaseline(g, 17)
	a, err := s.Rank(ctx, doc)
	require.NoError(t, err)
	b, err := s.Rank(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, rankedTiles(a), rankedTiles(b), "same document, same ranking")

	c, err := s.Rank(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, rankedTiles(a), rankedTiles(c), "different documents shuffle differently")

	d, err := NewRandomBaseline(g, 18).Rank(ctx, doc)
	require.NoError(t, err)
	assert.NotEqual(t, rankedTiles(a), rankedTiles(d), "different seeds shuffle differently")
	assert.ElementsMatch(t, rankedTiles(a), rankedTiles(d))
}

func TestMostCommonTerm(t *testing.T) {
	g := regionalGrid(t)
	cache := NewCellDistributionCache(g)
	ctx := context.Background()

	tests := []struct {
		name     string
		fuzzy    int
		terms    []string
		wantTerm string
		wantTile TileIndex
	}{
		{"capitalized term wins", 0, []string{"the", "the", "the", "Thames"}, "Thames", TileIndex{51, -1}},
		{"most frequent without capitals", 0, []string{"ramen", "ramen", "ferry"}, "ramen", TileIndex{35, 139}},
		{"fuzzy match of an unseen term", 2, []string{"Manhatan"}, "Manhattan", TileIndex{40, -75}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMostCommonTermBaseline(g, cache, tt.fuzzy)
			m := g.DocumentModel(trainDoc("q", 0, 0, tt.terms...))
			term, ok := s.MostCommonTerm(m)
			require.True(t, ok)
			assert.Equal(t, tt.wantTerm, g.Vocabulary().Term(term))

			ranked, err := s.Rank(ctx, m)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTile, ranked[0].Cell.Tile())
		})
	}

	t.Run("unseen term without fuzzy matching", func(t *testing.T) {
		s := NewMostCommonTermBaseline(g, cache, 0)
		m := g.DocumentModel(trainDoc("q", 0, 0, "Manhatan"))
		term, ok := s.MostCommonTerm(m)
		require.True(t, ok)
		assert.Equal(t, "Manhatan", termString(m, g.Vocabulary(), term))
		_, known := g.Vocabulary().Lookup("Manhatan")
		assert.False(t, known)
	})

	t.Run("empty document keeps grid order", func(t *testing.T) {
		s := NewMostCommonTermBaseline(g, cache, 0)
		m := g.DocumentModel(trainDoc("q", 0, 0))
		_, ok := s.MostCommonTerm(m)
		assert.False(t, ok)
		ranked, err := s.Rank(ctx, m)
		require.NoError(t, err)
		assert.Equal(t, rankedTiles(ranked), cellTiles(g))
	})
}

func TestRankCellsSubset(t *testing.T) {
	g := regionalGrid(t)
	cells := slices.Collect(g.NonemptyCells(true))
	s := NewKLDivergenceStrategy(g, false, false)
	ranked, err := s.RankCells(context.Background(), g.DocumentModel(trainDoc("q", 0, 0, "Bondi", "ferry")), cells[:2])
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.ElementsMatch(t, cells[:2], []*Cell{ranked[0].Cell, ranked[1].Cell})
}

func TestRankHonoursContext(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	g := regionalGrid(t, WithMetrics(metrics))
	s := NewKLDivergenceStrategy(g, false, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Rank(ctx, g.DocumentModel(trainDoc("q", 0, 0, "Bondi")))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), metrics.RankErrors.Load())
}

func TestRankDemotesNonFiniteScores(t *testing.T) {
	g := regionalGrid(t)
	r := newRanker("test", g)
	cells := slices.Collect(g.NonemptyCells(true))
	ranked, err := r.score(context.Background(), cells, func(c *Cell) float64 {
		switch c.Ordinal() {
		case 0:
			return math.NaN()
		case 1:
			return math.Inf(1)
		}
		return float64(c.Ordinal())
	})
	require.NoError(t, err)
	require.Len(t, ranked, 4)
	assert.Equal(t, 3, ranked[0].Cell.Ordinal())
	assert.Equal(t, 2, ranked[1].Cell.Ordinal())
	assert.True(t, math.IsInf(ranked[2].Score, -1))
	assert.True(t, math.IsInf(ranked[3].Score, -1))
	assert.Equal(t, 0, ranked[2].Cell.Ordinal(), "demoted cells keep grid order")
}

func TestKLGuardsNonPositiveProbabilities(t *testing.T) {
	// Every term is a corpus singleton, so no background mass is left for
	// terms a cell did not see.
	g := closedGrid(t, GridFixed, []*Document{
		trainDoc("a", 10.5, 10.5, "alpha"),
		trainDoc("b", 20.5, 20.5, "beta"),
	})
	s := NewKLDivergenceStrategy(g, false, false)
	ranked, err := s.Rank(context.Background(), g.DocumentModel(trainDoc("q", 0, 0, "alpha")))
	require.NoError(t, err)
	assert.Equal(t, TileIndex{10, 10}, ranked[0].Cell.Tile())
	for _, rc := range ranked {
		assert.False(t, math.IsNaN(rc.Score))
	}
	assert.Positive(t, g.Skips().Count(SkipNonPositiveProbability))
}
