package geolocate

import "math"

// eventKey is the key space of a count distribution: TermID for unigrams,
// BigramKey for bigrams.
type eventKey interface {
	~uint32 | ~uint64
}

// globalDist is the corpus-wide background distribution for one event space.
type globalDist[K eventKey] struct {
	probs       map[K]float64
	types       int
	tokens      float64
	seenOnce    int
	unseenProb  float64 // mass for events never seen in the corpus
	unseenTypes float64 // estimated number of such events
}

func buildGlobalDist[K eventKey](counts map[K]float64, tokens float64, p SmoothingParams) *globalDist[K] {
	g := &globalDist[K]{
		probs:  make(map[K]float64, len(counts)),
		types:  len(counts),
		tokens: tokens,
	}
	for _, c := range counts {
		if c == 1 {
			g.seenOnce++
		}
	}
	if tokens > 0 {
		g.unseenProb = float64(g.seenOnce) / tokens
	}
	for k, c := range counts {
		g.probs[k] = c / tokens * (1 - g.unseenProb)
	}
	g.unseenTypes = math.Max(float64(g.seenOnce), math.Floor(float64(g.types)/p.UnseenTypeDivisor))
	return g
}

// unseenEventProb is the probability a model with the given unseen mass
// assigns to one event never seen anywhere. Zero when the corpus gives no
// basis for an estimate.
func (g *globalDist[K]) unseenEventProb(unseenMass float64) float64 {
	if g.unseenTypes <= 0 {
		return 0
	}
	return unseenMass * g.unseenProb / g.unseenTypes
}

// CorpusStats is the background distribution shared by every model of a
// grid. It is built once from all training documents and handed to
// FinishGlobal.
type CorpusStats struct {
	params    SmoothingParams
	unigrams  *globalDist[TermID]
	bigrams   *globalDist[BigramKey]
	documents int
}

// Params returns the smoothing constants models finish with.
func (s *CorpusStats) Params() SmoothingParams { return s.params }

// Documents returns the number of documents aggregated.
func (s *CorpusStats) Documents() int { return s.documents }

// Types returns the number of distinct terms in the corpus.
func (s *CorpusStats) Types() int { return s.unigrams.types }

// Tokens returns the number of term tokens in the corpus.
func (s *CorpusStats) Tokens() float64 { return s.unigrams.tokens }

// SeenOnce returns the number of terms seen exactly once in the corpus.
func (s *CorpusStats) SeenOnce() int { return s.unigrams.seenOnce }

// GloballyUnseenMass returns the probability mass reserved for terms never
// seen in the corpus.
func (s *CorpusStats) GloballyUnseenMass() float64 { return s.unigrams.unseenProb }

// UnseenTypes returns the estimated number of terms never seen.
func (s *CorpusStats) UnseenTypes() float64 { return s.unigrams.unseenTypes }

// GlobalProbability returns the background probability of term and whether
// it was seen in the corpus at all.
func (s *CorpusStats) GlobalProbability(term TermID) (float64, bool) {
	p, ok := s.unigrams.probs[term]
	return p, ok
}

// CorpusStatsBuilder aggregates raw counts across the corpus. Feed it each
// training document once, then call Build.
type CorpusStatsBuilder struct {
	params    SmoothingParams
	uni       map[TermID]float64
	uniTokens float64
	bi        map[BigramKey]float64
	biTokens  float64
	documents int
}

// NewCorpusStatsBuilder creates an empty builder.
func NewCorpusStatsBuilder(params SmoothingParams) *CorpusStatsBuilder {
	return &CorpusStatsBuilder{
		params: params,
		uni:    make(map[TermID]float64),
		bi:     make(map[BigramKey]float64),
	}
}

// Add aggregates the raw counts of one document model. Counts are read, not
// smoothed, so m may be open.
func (b *CorpusStatsBuilder) Add(m LanguageModel) {
	m.addCounts(b)
	b.documents++
}

// Merge folds the counts of another builder into b.
func (b *CorpusStatsBuilder) Merge(other *CorpusStatsBuilder) {
	for k, c := range other.uni {
		b.uni[k] += c
	}
	for k, c := range other.bi {
		b.bi[k] += c
	}
	b.uniTokens += other.uniTokens
	b.biTokens += other.biTokens
	b.documents += other.documents
}

func (b *CorpusStatsBuilder) addUnigram(k TermID, c float64) {
	b.uni[k] += c
	b.uniTokens += c
}

func (b *CorpusStatsBuilder) addBigram(k BigramKey, c float64) {
	b.bi[k] += c
	b.biTokens += c
}

// Build computes the background distributions.
func (b *CorpusStatsBuilder) Build() *CorpusStats {
	return &CorpusStats{
		params:    b.params,
		unigrams:  buildGlobalDist(b.uni, b.uniTokens, b.params),
		bigrams:   buildGlobalDist(b.bi, b.biTokens, b.params),
		documents: b.documents,
	}
}
