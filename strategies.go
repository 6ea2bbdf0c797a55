package geolocate

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Strategy names understood by NewStrategy.
const (
	StrategyKLDivergence          = "kl-divergence"
	StrategyPartialKLDivergence   = "partial-kl-divergence"
	StrategySymmetricKLDivergence = "symmetric-kl-divergence"
	StrategySymmetricPartialKL    = "symmetric-partial-kl-divergence"
	StrategyCosine                = "cosine-similarity"
	StrategySmoothedCosine        = "smoothed-cosine-similarity"
	StrategyPartialCosine         = "partial-cosine-similarity"
	StrategySmoothedPartialCosine = "smoothed-partial-cosine-similarity"
	StrategyNaiveBayes            = "naive-bayes-no-baseline"
	StrategyNaiveBayesBaseline    = "naive-bayes-with-baseline"
	StrategyCellDistribution      = "cell-distribution"
	StrategyPopularity            = "popularity"
	StrategySalience              = "salience"
	StrategyRandom                = "random"
	StrategyMostCommonTerm        = "most-common-term"
)

// StrategyNames lists every name NewStrategy accepts.
var StrategyNames = []string{
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
	StrategyPopularity,
	StrategySalience,
	StrategyRandom,
	StrategyMostCommonTerm,
}

// StrategyOptions tunes the strategies that take parameters.
type StrategyOptions struct {
	BaselineWeight float64 // naive Bayes weight of the popularity prior (default: 0.5)
	Seed           uint64  // random baseline seed
	FuzzyDistance  int     // most-common-term edit distance fallback, 0 = off
}

// NewStrategy builds the strategy called name over the closed grid g. cache
// is used by the strategies that invert cell models; nil creates one. Unknown
// names fail with ErrUnknownStrategy.
func NewStrategy(name string, g Grid, cache *CellDistributionCache, opts StrategyOptions) (Strategy, error) {
	needsCache := name == StrategyCellDistribution || name == StrategyMostCommonTerm
	if needsCache && cache == nil {
		cache = NewCellDistributionCache(g)
	}
	switch name {
	case StrategyKLDivergence:
		return NewKLDivergenceStrategy(g, false, false), nil
	case StrategyPartialKLDivergence:
		return NewKLDivergenceStrategy(g, true, false), nil
	case StrategySymmetricKLDivergence:
		return NewKLDivergenceStrategy(g, false, true), nil
	case StrategySymmetricPartialKL:
		return NewKLDivergenceStrategy(g, true, true), nil
	case StrategyCosine:
		return NewCosineStrategy(g, false, false), nil
	case StrategySmoothedCosine:
		return NewCosineStrategy(g, true, false), nil
	case StrategyPartialCosine:
		return NewCosineStrategy(g, false, true), nil
	case StrategySmoothedPartialCosine:
		return NewCosineStrategy(g, true, true), nil
	case StrategyNaiveBayes:
		return NewNaiveBayesStrategy(g, false, 0), nil
	case StrategyNaiveBayesBaseline:
		w := opts.BaselineWeight
		if w == 0 {
			w = 0.5
		}
		if w < 0 || w > 1 {
			return nil, &ConfigError{Field: "BaselineWeight", Value: w}
		}
		return NewNaiveBayesStrategy(g, true, w), nil
	case StrategyCellDistribution:
		return NewCellDistributionStrategy(g, cache), nil
	case StrategyPopularity:
		return NewPopularityBaseline(g), nil
	case StrategySalience:
		return NewSalienceBaseline(g), nil
	case StrategyRandom:
		return NewRandomBaseline(g, opts.Seed), nil
	case StrategyMostCommonTerm:
		if opts.FuzzyDistance < 0 || opts.FuzzyDistance > maxFuzzyDistance {
			return nil, &ConfigError{Field: "FuzzyDistance", Value: opts.FuzzyDistance}
		}
		return NewMostCommonTermBaseline(g, cache, opts.FuzzyDistance), nil
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnknownStrategy)
}

// KLDivergenceStrategy scores cells by negative KL divergence of the
// document model from the cell model.
type KLDivergenceStrategy struct {
	ranker
	Partial   bool // only sum over the document's terms
	Symmetric bool // average both directions
}

// NewKLDivergenceStrategy creates a KL strategy over the closed grid g.
func NewKLDivergenceStrategy(g Grid, partial, symmetric bool) *KLDivergenceStrategy {
	name := StrategyKLDivergence
	switch {
	case partial && symmetric:
		name = StrategySymmetricPartialKL
	case partial:
		name = StrategyPartialKLDivergence
	case symmetric:
		name = StrategySymmetricKLDivergence
	}
	return &KLDivergenceStrategy{ranker: newRanker(name, g), Partial: partial, Symmetric: symmetric}
}

func (s *KLDivergenceStrategy) Rank(ctx context.Context, m LanguageModel) ([]RankedCell, error) {
	return s.RankCells(ctx, m, s.cells())
}

func (s *KLDivergenceStrategy) RankCells(ctx context.Context, m LanguageModel, cells []*Cell) ([]RankedCell, error) {
	guard := s.guard(ctx, s.name)
	return s.score(ctx, cells, func(c *Cell) float64 {
		if s.Symmetric {
			return -SymmetricKLDivergence(m, c.model, s.Partial, guard)
		}
		return -m.KLDivergence(c.model, s.Partial, guard)
	})
}

// CosineStrategy scores cells by cosine similarity.
type CosineStrategy struct {
	ranker
	Smoothed bool // compare smoothed probabilities instead of frequencies
	Partial  bool // only use the document's terms
}

// NewCosineStrategy creates a cosine strategy over the closed grid g.
func NewCosineStrategy(g Grid, smoothed, partial bool) *CosineStrategy {
	name := StrategyCosine
	switch {
	case smoothed && partial:
		name = StrategySmoothedPartialCosine
	case smoothed:
		name = StrategySmoothedCosine
	case partial:
		name = StrategyPartialCosine
	}
	return &CosineStrategy{ranker: newRanker(name, g), Smoothed: smoothed, Partial: partial}
}

func (s *CosineStrategy) Rank(ctx context.Context, m LanguageModel) ([]RankedCell, error) {
	return s.RankCells(ctx, m, s.cells())
}

func (s *CosineStrategy) RankCells(ctx context.Context, m LanguageModel, cells []*Cell) ([]RankedCell, error) {
	return s.score(ctx, cells, func(c *Cell) float64 {
		return m.CosineSimilarity(c.model, s.Smoothed, s.Partial)
	})
}

// NaiveBayesStrategy scores cells by the log likelihood of the document
// under the cell model. With a baseline, the likelihood is scaled to a
// per-token average and mixed with the log of the cell's share of training
// documents:
//
//	score = (1-w)/tokens * log P(doc|cell) + w * log(docs(cell)/docs)
type NaiveBayesStrategy struct {
	ranker
	UseBaseline    bool
	BaselineWeight float64
}

// NewNaiveBayesStrategy creates a naive Bayes strategy over the closed grid
// g. weight is ignored without a baseline.
func NewNaiveBayesStrategy(g Grid, useBaseline bool, weight float64) *NaiveBayesStrategy {
	name := StrategyNaiveBayes
	if useBaseline {
		name = StrategyNaiveBayesBaseline
	} else {
		weight = 0
	}
	return &NaiveBayesStrategy{ranker: newRanker(name, g), UseBaseline: useBaseline, BaselineWeight: weight}
}

func (s *NaiveBayesStrategy) Rank(ctx context.Context, m LanguageModel) ([]RankedCell, error) {
	return s.RankCells(ctx, m, s.cells())
}

func (s *NaiveBayesStrategy) RankCells(ctx context.Context, m LanguageModel, cells []*Cell) ([]RankedCell, error) {
	guard := s.guard(ctx, s.name)
	wordWeight := 1.0
	if s.UseBaseline {
		wordWeight = 0
		if t := m.Tokens(); t > 0 {
			wordWeight = (1 - s.BaselineWeight) / t
		}
	}
	total := float64(s.grid.Summary().Documents)
	return s.score(ctx, cells, func(c *Cell) float64 {
		score := wordWeight * c.model.LogLikelihood(m, guard)
		if s.UseBaseline && total > 0 {
			score += s.BaselineWeight * math.Log(float64(c.numDocs)/total)
		}
		return score
	})
}

// CellDistributionStrategy scores cells by the document's combined
// term-to-cell distribution.
type CellDistributionStrategy struct {
	ranker
	cache *CellDistributionCache
}

// NewCellDistributionStrategy creates the strategy over g using cache, which
// must have been built from g.
func NewCellDistributionStrategy(g Grid, cache *CellDistributionCache) *CellDistributionStrategy {
	return &CellDistributionStrategy{ranker: newRanker(StrategyCellDistribution, g), cache: cache}
}

func (s *CellDistributionStrategy) Rank(ctx context.Context, m LanguageModel) ([]RankedCell, error) {
	return s.RankCells(ctx, m, s.cells())
}

func (s *CellDistributionStrategy) RankCells(ctx context.Context, m LanguageModel, cells []*Cell) ([]RankedCell, error) {
	return s.score(ctx, cells, distributionScore(s.cache.ForModel(m)))
}

// distributionScore looks a cell's probability up by ordinal.
func distributionScore(d *CellDistribution) func(*Cell) float64 {
	byOrdinal := make(map[int]float64, len(d.Cells))
	for i, c := range d.Cells {
		byOrdinal[c.ordinal] = d.Probs[i]
	}
	return func(c *Cell) float64 { return byOrdinal[c.ordinal] }
}

// PopularityBaseline ranks cells by number of training documents,
// ignoring the document.
type PopularityBaseline struct{ ranker }

// NewPopularityBaseline creates the baseline over the closed grid g.
func NewPopularityBaseline(g Grid) *PopularityBaseline {
	return &PopularityBaseline{newRanker(StrategyPopularity, g)}
}

func (s *PopularityBaseline) Rank(ctx context.Context, m LanguageModel) ([]RankedCell, error) {
	return s.RankCells(ctx, m, s.cells())
}

func (s *PopularityBaseline) RankCells(ctx context.Context, _ LanguageModel, cells []*Cell) ([]RankedCell, error) {
	return s.score(ctx, cells, func(c *Cell) float64 { return float64(c.numDocs) })
}

// SalienceBaseline ranks cells by the summed salience of their documents.
type SalienceBaseline struct{ ranker }

// NewSalienceBaseline creates the baseline over the closed grid g.
func NewSalienceBaseline(g Grid) *SalienceBaseline {
	return &SalienceBaseline{newRanker(StrategySalience, g)}
}

func (s *SalienceBaseline) Rank(ctx context.Context, m LanguageModel) ([]RankedCell, error) {
	return s.RankCells(ctx, m, s.cells())
}

func (s *SalienceBaseline) RankCells(ctx context.Context, _ LanguageModel, cells []*Cell) ([]RankedCell, error) {
	return s.score(ctx, cells, func(c *Cell) float64 { return c.salience })
}

// RandomBaseline ranks cells in a random order. The permutation is seeded
// from Seed and the document's counts, so a given document always gets the
// same ranking while different documents get different ones.
type RandomBaseline struct {
	ranker
	Seed uint64
}

// NewRandomBaseline creates the baseline over the closed grid g.
func NewRandomBaseline(g Grid, seed uint64) *RandomBaseline {
	return &RandomBaseline{ranker: newRanker(StrategyRandom, g), Seed: seed}
}

func (s *RandomBaseline) Rank(ctx context.Context, m LanguageModel) ([]RankedCell, error) {
	return s.RankCells(ctx, m, s.cells())
}

func (s *RandomBaseline) RankCells(ctx context.Context, m LanguageModel, cells []*Cell) ([]RankedCell, error) {
	rng := rand.New(rand.NewPCG(s.Seed, modelFingerprint(m)))
	perm := rng.Perm(len(cells))
	pos := make(map[int]int, len(cells))
	for i, c := range cells {
		pos[c.ordinal] = perm[i]
	}
	return s.score(ctx, cells, func(c *Cell) float64 { return -float64(pos[c.ordinal]) })
}

func modelFingerprint(m LanguageModel) uint64 {
	h := fnv.New64a()
	var buf [12]byte
	for _, t := range m.Terms() {
		binary.LittleEndian.PutUint32(buf[:4], uint32(t))
		binary.LittleEndian.PutUint64(buf[4:], math.Float64bits(m.Count(t)))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// maxFuzzyDistance caps the edit distance of fuzzy term matching.
const maxFuzzyDistance = 3

// maxFuzzyTermLen bounds the terms compared by edit distance.
const maxFuzzyTermLen = 64

// MostCommonTermBaseline ranks cells by the distribution of the document's
// most frequent term, preferring capitalized terms as likely place names.
// A term never seen in training can be swapped for the closest training
// term within FuzzyDistance edits.
type MostCommonTermBaseline struct {
	ranker
	cache         *CellDistributionCache
	FuzzyDistance int
}

// NewMostCommonTermBaseline creates the baseline over g using cache.
func NewMostCommonTermBaseline(g Grid, cache *CellDistributionCache, fuzzyDistance int) *MostCommonTermBaseline {
	return &MostCommonTermBaseline{
		ranker:        newRanker(StrategyMostCommonTerm, g),
		cache:         cache,
		FuzzyDistance: min(fuzzyDistance, maxFuzzyDistance),
	}
}

func (s *MostCommonTermBaseline) Rank(ctx context.Context, m LanguageModel) ([]RankedCell, error) {
	return s.RankCells(ctx, m, s.cells())
}

func (s *MostCommonTermBaseline) RankCells(ctx context.Context, m LanguageModel, cells []*Cell) ([]RankedCell, error) {
	term, ok := s.MostCommonTerm(m)
	if !ok {
		return s.score(ctx, cells, func(*Cell) float64 { return 0 })
	}
	return s.score(ctx, cells, distributionScore(s.cache.Lookup(term)))
}

// MostCommonTerm picks the term the baseline ranks by.
func (s *MostCommonTermBaseline) MostCommonTerm(m LanguageModel) (TermID, bool) {
	vocab := s.grid.Vocabulary()
	var best, bestCap TermID
	var bestCount, bestCapCount float64
	for _, t := range m.Terms() {
		c := m.Count(t)
		if c > bestCount {
			best, bestCount = t, c
		}
		if c > bestCapCount && isCapitalized(termString(m, vocab, t)) {
			bestCap, bestCapCount = t, c
		}
	}
	if bestCapCount > 0 {
		best = bestCap
	}
	if bestCount == 0 {
		return noTerm, false
	}
	if _, seen := s.grid.Stats().GlobalProbability(best); !seen && s.FuzzyDistance > 0 {
		if t, ok := s.closestTrainingTerm(termString(m, vocab, best)); ok {
			return t, true
		}
	}
	return best, true
}

func (s *MostCommonTermBaseline) closestTrainingTerm(term string) (TermID, bool) {
	if utf8.RuneCountInString(term) > maxFuzzyTermLen {
		return noTerm, false
	}
	stats := s.grid.Stats()
	query := strings.ToLower(term)
	bestDist := s.FuzzyDistance + 1
	var best TermID
	for id, cand := range s.grid.Vocabulary().Terms() {
		if cand == "" || utf8.RuneCountInString(cand) > maxFuzzyTermLen {
			continue
		}
		if _, seen := stats.GlobalProbability(TermID(id)); !seen {
			continue
		}
		if d := levenshtein.ComputeDistance(query, strings.ToLower(cand)); d < bestDist {
			best, bestDist = TermID(id), d
		}
	}
	return best, best != noTerm
}

func isCapitalized(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}
