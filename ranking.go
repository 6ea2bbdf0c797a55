package geolocate

import (
	"context"
	"math"
	"slices"
	"time"
)

// RankedCell is a cell with its score under some strategy. Higher scores
// are better.
type RankedCell struct {
	Cell  *Cell
	Score float64
}

// Strategy scores a finished document model against the cells of a closed
// grid. Results are ordered best first; equal scores keep the grid's
// iteration order, so identical model states always produce identical
// rankings.
type Strategy interface {
	Name() string
	// Grid returns the closed grid whose cells are ranked.
	Grid() Grid
	// Rank scores every cell of the grid that has a nonempty model.
	Rank(ctx context.Context, m LanguageModel) ([]RankedCell, error)
	// RankCells scores only the given cells, which must belong to the
	// strategy's grid.
	RankCells(ctx context.Context, m LanguageModel, cells []*Cell) ([]RankedCell, error)
}

// ctxCheckEvery is how many cells are scored between context checks.
const ctxCheckEvery = 256

// ranker carries what every strategy needs: the grid, a tagged logger and
// the metrics sink.
type ranker struct {
	name    string
	grid    Grid
	log     *Logger
	metrics MetricsCollector
}

func newRanker(name string, g Grid) ranker {
	g.Stats() // panics on an open grid
	cfg := g.Config()
	return ranker{
		name:    name,
		grid:    g,
		log:     cfg.Logger.WithGrid(g.Kind()).WithStrategy(name),
		metrics: cfg.Metrics,
	}
}

func (r *ranker) Name() string { return r.name }
func (r *ranker) Grid() Grid   { return r.grid }

func (r *ranker) cells() []*Cell {
	return slices.Collect(r.grid.NonemptyCells(true))
}

// guard returns a GuardFunc that warns about and counts every probability
// excluded from a logarithm.
func (r *ranker) guard(ctx context.Context, op string) GuardFunc {
	return func(part int, key uint64, p, q float64) {
		r.log.LogNumericGuard(ctx, op, part, key, p, q)
		r.grid.Skips().Add(SkipNonPositiveProbability)
	}
}

// score ranks cells by score. Non-finite scores are logged and demoted to
// -Inf so they sort last.
func (r *ranker) score(ctx context.Context, cells []*Cell, score func(*Cell) float64) (ranked []RankedCell, err error) {
	started := time.Now()
	defer func() {
		r.metrics.RecordRank(r.name, len(cells), time.Since(started), err)
	}()

	ranked = make([]RankedCell, len(cells))
	for i, c := range cells {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		s := score(c)
		if math.IsNaN(s) || math.IsInf(s, 0) {
			r.log.LogNonFiniteScore(ctx, c.String(), s)
			s = math.Inf(-1)
		}
		ranked[i] = RankedCell{Cell: c, Score: s}
	}
	sortRanked(ranked)
	return ranked, nil
}
