package geolocate

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
)

// RankBeyondHorizon is the rank recorded when the true cell is not within
// the credit horizon, or not ranked at all.
const RankBeyondHorizon = 0

// DocCountRanges are the lower bounds of the true-cell document count
// buckets.
var DocCountRanges = []float64{1, 10, 25, 100}

// ErrorDistanceRanges are the lower bounds of the buckets for the distance
// from the true coordinate to the predicted centre, in accumulator units.
var ErrorDistanceRanges = []float64{
	0.25, 0.5, 0.75, 1, 1.5, 2, 3, 4, 6, 8, 12, 16, 24, 32, 48, 64, 96, 128,
	192, 256, 384, 512, 768, 1024, 1536, 2048,
}

// RankStats holds running totals for a group of evaluated documents.
type RankStats struct {
	Documents     int
	Correct       int
	Credit        int
	BeyondHorizon int

	// AtRank[r-1] counts documents whose true cell ranked r.
	AtRank []int

	// Predicted counts documents that got a prediction at all; the error
	// sums are over those.
	Predicted    int
	SumErrorKm   float64
	SumErrorDeg  float64
	SumOracleKm  float64
	SumOracleDeg float64
}

func newRankStats(horizon int) *RankStats {
	return &RankStats{AtRank: make([]int, horizon)}
}

func (s *RankStats) record(o EvalOutcome) {
	horizon := len(s.AtRank)
	s.Documents++
	if o.Rank == RankBeyondHorizon {
		s.BeyondHorizon++
	} else {
		s.AtRank[o.Rank-1]++
		s.Credit += horizon + 1 - o.Rank
		if o.Rank == 1 {
			s.Correct++
		}
	}
	if o.Predicted != nil {
		s.Predicted++
		s.SumErrorKm += o.ErrorKm
		s.SumErrorDeg += o.ErrorDegrees
	}
	s.SumOracleKm += o.OracleKm
	s.SumOracleDeg += o.OracleDegrees
}

// EvalMeta is what the accumulator needs to know about a document's true
// location besides its coordinate.
type EvalMeta struct {
	// TrueCell is the nonempty cell holding the coordinate, or nil.
	TrueCell *Cell
	// TrueCenter is the centre of the region holding the coordinate.
	TrueCenter Coord
}

// MetaFor looks c up in the closed grid g.
func MetaFor(g Grid, c Coord) EvalMeta {
	m := EvalMeta{TrueCenter: g.CenterFor(c)}
	if cell, ok := g.LocateCell(c); ok {
		m.TrueCell = cell
		m.TrueCenter = cell.center
	}
	return m
}

// EvalOutcome is the result of recording one document.
type EvalOutcome struct {
	Rank      int   // 1-based, or RankBeyondHorizon
	Predicted *Cell // top-ranked cell, nil for an empty ranking

	ErrorKm      float64 // true coordinate to predicted centre
	ErrorDegrees float64

	// OracleKm is the error a perfect prediction would still have: the
	// distance from the true coordinate to its own cell's centre.
	OracleKm      float64
	OracleDegrees float64
}

// EvaluationAccumulator collects rank and distance statistics from a stream
// of ranked documents. It keeps running totals only. It is not safe for
// concurrent use.
type EvaluationAccumulator struct {
	horizon   int
	increment float64
	cellKm    float64
	cellDeg   float64
	metrics   MetricsCollector

	all        *RankStats
	byDocCount map[float64]*RankStats
	byTrueKm   map[float64]*RankStats
	byTrueDeg  map[float64]*RankStats
	byErrKm    map[float64]*RankStats
	byErrDeg   map[float64]*RankStats
	skipped    int
}

// NewEvaluationAccumulator creates an accumulator using the credit horizon
// and distance increment of cfg. Distances are measured in tiles of
// cfg.DegreesPerCell.
func NewEvaluationAccumulator(cfg *Config) *EvaluationAccumulator {
	return newEvaluationAccumulator(cfg, cfg.DegreesPerCell)
}

// NewGridEvaluationAccumulator creates an accumulator for g. Adaptive cells
// have no common size, so their distances are measured in plain degrees.
func NewGridEvaluationAccumulator(g Grid) *EvaluationAccumulator {
	cfg := g.Config()
	if g.Kind() == GridAdaptive {
		return newEvaluationAccumulator(cfg, 1)
	}
	return newEvaluationAccumulator(cfg, cfg.DegreesPerCell)
}

func newEvaluationAccumulator(cfg *Config, unitDeg float64) *EvaluationAccumulator {
	return &EvaluationAccumulator{
		horizon:    cfg.CreditHorizon,
		increment:  cfg.DistanceIncrement,
		cellKm:     unitDeg * KmPerDegree,
		cellDeg:    unitDeg,
		metrics:    cfg.Metrics,
		all:        newRankStats(cfg.CreditHorizon),
		byDocCount: make(map[float64]*RankStats),
		byTrueKm:   make(map[float64]*RankStats),
		byTrueDeg:  make(map[float64]*RankStats),
		byErrKm:    make(map[float64]*RankStats),
		byErrDeg:   make(map[float64]*RankStats),
	}
}

// Record adds one document ranked by some strategy.
func (a *EvaluationAccumulator) Record(ranked []RankedCell, trueCoord Coord, meta EvalMeta) EvalOutcome {
	o := EvalOutcome{Rank: RankBeyondHorizon}
	if meta.TrueCell != nil {
		for i, rc := range ranked[:min(a.horizon, len(ranked))] {
			if rc.Cell == meta.TrueCell {
				o.Rank = i + 1
				break
			}
		}
	}
	if len(ranked) > 0 {
		o.Predicted = ranked[0].Cell
		o.ErrorKm = SphereDistanceKm(trueCoord, o.Predicted.center)
		o.ErrorDegrees = DegreeDistance(trueCoord, o.Predicted.center)
	}
	o.OracleKm = SphereDistanceKm(trueCoord, meta.TrueCenter)
	o.OracleDegrees = DegreeDistance(trueCoord, meta.TrueCenter)

	a.all.record(o)
	var numDocs float64
	if meta.TrueCell != nil {
		numDocs = float64(meta.TrueCell.numDocs)
	}
	a.bucket(a.byDocCount, rangeLower(DocCountRanges, numDocs)).record(o)
	a.bucket(a.byTrueKm, a.roundDown(o.OracleKm/a.cellKm)).record(o)
	a.bucket(a.byTrueDeg, a.roundDown(o.OracleDegrees/a.cellDeg)).record(o)
	if o.Predicted != nil {
		a.bucket(a.byErrKm, rangeLower(ErrorDistanceRanges, o.ErrorKm/a.cellKm)).record(o)
		a.bucket(a.byErrDeg, rangeLower(ErrorDistanceRanges, o.ErrorDegrees/a.cellDeg)).record(o)
	}
	a.metrics.RecordEvaluation(o.Rank)
	return o
}

// RecordSkip counts a document that could not be evaluated.
func (a *EvaluationAccumulator) RecordSkip() { a.skipped++ }

// Documents returns the number of recorded documents.
func (a *EvaluationAccumulator) Documents() int { return a.all.Documents }

func (a *EvaluationAccumulator) bucket(m map[float64]*RankStats, key float64) *RankStats {
	s, ok := m[key]
	if !ok {
		s = newRankStats(a.horizon)
		m[key] = s
	}
	return s
}

// roundDown snaps v to a multiple of the distance increment.
func (a *EvaluationAccumulator) roundDown(v float64) float64 {
	return a.increment * math.Floor(v/a.increment+indexEpsilon)
}

// rangeLower returns the largest bound <= v, or 0 below the first bound.
func rangeLower(bounds []float64, v float64) float64 {
	lower := 0.0
	for _, b := range bounds {
		if b > v {
			break
		}
		lower = b
	}
	return lower
}

// DocumentRanker ranks a raw document. Strategies are adapted with
// RankWith; HierarchicalRanker implements it directly.
type DocumentRanker interface {
	Name() string
	Rank(ctx context.Context, doc *Document) ([]RankedCell, error)
}

type strategyRanker struct{ Strategy }

func (s strategyRanker) Rank(ctx context.Context, doc *Document) ([]RankedCell, error) {
	return s.Strategy.Rank(ctx, s.Grid().DocumentModel(doc))
}

// RankWith adapts s to rank documents against its own grid.
func RankWith(s Strategy) DocumentRanker { return strategyRanker{s} }

// evalWindow is the number of documents ranked per worker between records.
const evalWindow = 16

// evalSkip reports why doc cannot be evaluated, or SkipNone.
func evalSkip(doc *Document) SkipReason {
	switch {
	case doc.Coord == nil || !doc.Coord.finite():
		return SkipNoCoordinate
	case doc.Tokens() == 0:
		return SkipEmptyDocument
	}
	return SkipNone
}

// Evaluate ranks every document with r, in parallel, and records the
// results against the closed grid g in input order. Documents without a
// usable coordinate or without any tokens are skipped with a warning.
func Evaluate(ctx context.Context, g Grid, r DocumentRanker, docs []*Document, parallelism int) (*EvaluationAccumulator, error) {
	cfg := g.Config()
	acc := NewGridEvaluationAccumulator(g)
	log := cfg.Logger.WithGrid(g.Kind()).WithStrategy(r.Name())
	parallelism = max(parallelism, 1)
	window := parallelism * evalWindow

	ranked := make([][]RankedCell, window)
	for start := 0; start < len(docs); start += window {
		batch := docs[start:min(start+window, len(docs))]
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(parallelism)
		for i, doc := range batch {
			ranked[i] = nil
			if evalSkip(doc) != SkipNone {
				continue
			}
			eg.Go(func() error {
				res, err := r.Rank(egCtx, doc)
				if err != nil {
					return fmt.Errorf("ranking %q: %w", doc.ID, err)
				}
				ranked[i] = res
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return acc, err
		}
		for i, doc := range batch {
			if reason := evalSkip(doc); reason != SkipNone {
				log.LogSkip(ctx, reason, string(doc.ID))
				g.Skips().Add(reason)
				acc.RecordSkip()
				continue
			}
			acc.Record(ranked[i], *doc.Coord, MetaFor(g, *doc.Coord))
		}
	}
	return acc, nil
}
