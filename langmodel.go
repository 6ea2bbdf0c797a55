package geolocate

// BigramKey packs two TermIDs into one map key.
type BigramKey uint64

// MakeBigramKey returns the key of the bigram (first, second).
func MakeBigramKey(first, second TermID) BigramKey {
	return BigramKey(uint64(first)<<32 | uint64(second))
}

// Terms unpacks k.
func (k BigramKey) Terms() (first, second TermID) {
	return TermID(k >> 32), TermID(k & 0xffffffff)
}

// LanguageModel is a smoothed term distribution attached to a document or a
// cell. Models follow a strict two-phase protocol: counts are added while
// open, FinishLocal fixes the model's own statistics, FinishGlobal attaches
// the corpus background. Queries are only legal after FinishGlobal; any
// other order panics with a *ContractViolation.
type LanguageModel interface {
	// AddDocument adds the counts of doc, interning its terms in vocab.
	AddDocument(doc *Document, vocab *Vocabulary)
	// Merge adds the counts of other, which must be the same kind.
	Merge(other LanguageModel)
	// Interpolate blends the counts with parent's, scaled to keep this
	// model's token total. Both must be open.
	Interpolate(parent LanguageModel, weight float64)
	// FinishLocal prunes terms seen fewer than minCount times and computes
	// the unseen mass.
	FinishLocal(minCount int)
	// FinishGlobal attaches the background distribution.
	FinishGlobal(stats *CorpusStats)

	Finished() bool
	Empty() bool
	Tokens() float64
	Types() int
	Count(term TermID) float64
	// Terms returns the seen terms in ascending TermID order. Only valid
	// after FinishLocal.
	Terms() []TermID

	UnseenMass() float64
	OverallUnseenMass() float64
	Probability(term TermID) float64
	// KLDivergence returns KL(m || other). guard may be nil.
	KLDivergence(other LanguageModel, partial bool, guard GuardFunc) float64
	CosineSimilarity(other LanguageModel, smoothed, partial bool) float64
	// LogLikelihood returns log P(doc | m) under the naive Bayes
	// assumption.
	LogLikelihood(doc LanguageModel, guard GuardFunc) float64

	addCounts(b *CorpusStatsBuilder)
	// addQuery adds the counts of doc without growing the vocabulary.
	addQuery(doc *Document, terms *localTerms)
	localTerm(id TermID) (string, bool)
}

// termString returns the string of term in m, which may be an id local to m.
func termString(m LanguageModel, vocab *Vocabulary, term TermID) string {
	if s, ok := m.localTerm(term); ok {
		return s
	}
	return vocab.Term(term)
}

// NewLanguageModel returns an empty open model of the configured kind.
func NewLanguageModel(bigrams bool, params SmoothingParams) LanguageModel {
	if bigrams {
		return NewBigramModel(params)
	}
	return NewUnigramModel(params)
}

// SymmetricKLDivergence averages the divergence in both directions.
func SymmetricKLDivergence(a, b LanguageModel, partial bool, guard GuardFunc) float64 {
	return 0.5*a.KLDivergence(b, partial, guard) + 0.5*b.KLDivergence(a, partial, guard)
}

func noGuard(int, uint64, float64, float64) {}

func orNoGuard(g GuardFunc) GuardFunc {
	if g == nil {
		return noGuard
	}
	return g
}

// UnigramModel is a LanguageModel over single terms.
type UnigramModel struct {
	params SmoothingParams
	state  modelState
	dist   eventDist[TermID]
	local  map[TermID]string // terms unknown to the vocabulary
}

// NewUnigramModel creates an empty open unigram model.
func NewUnigramModel(params SmoothingParams) *UnigramModel {
	return &UnigramModel{params: params, dist: newEventDist[TermID]()}
}

func (m *UnigramModel) mustBe(op string, want modelState) {
	if m.state != want {
		violate(op, "model is %s, want %s", m.state, want)
	}
}

func asUnigram(op string, other LanguageModel) *UnigramModel {
	o, ok := other.(*UnigramModel)
	if !ok {
		violate(op, "cannot combine unigram model with %T", other)
	}
	return o
}

func (m *UnigramModel) AddDocument(doc *Document, vocab *Vocabulary) {
	m.mustBe("UnigramModel.AddDocument", modelOpen)
	for _, term := range doc.sortedTerms() {
		m.dist.add(vocab.Intern(term), float64(doc.TermCounts[term]))
	}
}

func (m *UnigramModel) addQuery(doc *Document, terms *localTerms) {
	m.mustBe("UnigramModel.addQuery", modelOpen)
	for _, term := range doc.sortedTerms() {
		m.dist.add(terms.id(term), float64(doc.TermCounts[term]))
	}
	m.local = terms.terms
}

func (m *UnigramModel) localTerm(id TermID) (string, bool) {
	s, ok := m.local[id]
	return s, ok
}

// AddTerm adds n occurrences of term.
func (m *UnigramModel) AddTerm(term TermID, n float64) {
	m.mustBe("UnigramModel.AddTerm", modelOpen)
	m.dist.add(term, n)
}

func (m *UnigramModel) Merge(other LanguageModel) {
	m.mustBe("UnigramModel.Merge", modelOpen)
	m.dist.merge(&asUnigram("UnigramModel.Merge", other).dist)
}

func (m *UnigramModel) Interpolate(parent LanguageModel, weight float64) {
	m.mustBe("UnigramModel.Interpolate", modelOpen)
	m.dist.interpolate(&asUnigram("UnigramModel.Interpolate", parent).dist, weight)
}

func (m *UnigramModel) FinishLocal(minCount int) {
	m.mustBe("UnigramModel.FinishLocal", modelOpen)
	m.dist.finishLocal(minCount, m.params)
	m.state = modelLocal
}

func (m *UnigramModel) FinishGlobal(stats *CorpusStats) {
	m.mustBe("UnigramModel.FinishGlobal", modelLocal)
	m.dist.finishGlobal(stats.unigrams)
	m.state = modelFinished
}

func (m *UnigramModel) Finished() bool  { return m.state == modelFinished }
func (m *UnigramModel) Empty() bool     { return m.dist.tokens <= 0 }
func (m *UnigramModel) Tokens() float64 { return m.dist.tokens }
func (m *UnigramModel) Types() int      { return len(m.dist.counts) }

func (m *UnigramModel) Count(term TermID) float64 { return m.dist.counts[term] }

func (m *UnigramModel) Terms() []TermID {
	if m.state == modelOpen {
		violate("UnigramModel.Terms", "model is open")
	}
	return m.dist.keys
}

func (m *UnigramModel) UnseenMass() float64 {
	m.mustBe("UnigramModel.UnseenMass", modelFinished)
	return m.dist.unseenMass
}

func (m *UnigramModel) OverallUnseenMass() float64 {
	m.mustBe("UnigramModel.OverallUnseenMass", modelFinished)
	return m.dist.overallUnseenMass
}

func (m *UnigramModel) Probability(term TermID) float64 {
	m.mustBe("UnigramModel.Probability", modelFinished)
	return m.dist.prob(term)
}

func (m *UnigramModel) KLDivergence(other LanguageModel, partial bool, guard GuardFunc) float64 {
	m.mustBe("UnigramModel.KLDivergence", modelFinished)
	o := asUnigram("UnigramModel.KLDivergence", other)
	o.mustBe("UnigramModel.KLDivergence", modelFinished)
	return m.dist.kl(&o.dist, partial, orNoGuard(guard))
}

func (m *UnigramModel) CosineSimilarity(other LanguageModel, smoothed, partial bool) float64 {
	m.mustBe("UnigramModel.CosineSimilarity", modelFinished)
	o := asUnigram("UnigramModel.CosineSimilarity", other)
	o.mustBe("UnigramModel.CosineSimilarity", modelFinished)
	return m.dist.cosine(&o.dist, smoothed, partial)
}

func (m *UnigramModel) LogLikelihood(doc LanguageModel, guard GuardFunc) float64 {
	m.mustBe("UnigramModel.LogLikelihood", modelFinished)
	d := asUnigram("UnigramModel.LogLikelihood", doc)
	return m.dist.logLikelihood(&d.dist, orNoGuard(guard))
}

func (m *UnigramModel) addCounts(b *CorpusStatsBuilder) {
	for k, c := range m.dist.counts {
		b.addUnigram(k, c)
	}
}

// BigramModel is a LanguageModel with a unigram part and a separately
// smoothed bigram event space. Divergences add the two parts.
type BigramModel struct {
	UnigramModel
	bigrams eventDist[BigramKey]
}

// NewBigramModel creates an empty open bigram model.
func NewBigramModel(params SmoothingParams) *BigramModel {
	return &BigramModel{
		UnigramModel: UnigramModel{params: params, dist: newEventDist[TermID]()},
		bigrams:      newEventDist[BigramKey](),
	}
}

func asBigram(op string, other LanguageModel) *BigramModel {
	o, ok := other.(*BigramModel)
	if !ok {
		violate(op, "cannot combine bigram model with %T", other)
	}
	return o
}

func (m *BigramModel) AddDocument(doc *Document, vocab *Vocabulary) {
	m.UnigramModel.AddDocument(doc, vocab)
	for _, bg := range doc.sortedBigrams() {
		m.bigrams.add(MakeBigramKey(vocab.Intern(bg.First), vocab.Intern(bg.Second)), float64(doc.BigramCounts[bg]))
	}
}

func (m *BigramModel) addQuery(doc *Document, terms *localTerms) {
	m.UnigramModel.addQuery(doc, terms)
	for _, bg := range doc.sortedBigrams() {
		m.bigrams.add(MakeBigramKey(terms.id(bg.First), terms.id(bg.Second)), float64(doc.BigramCounts[bg]))
	}
	m.local = terms.terms
}

// AddBigram adds n occurrences of the bigram (first, second).
func (m *BigramModel) AddBigram(first, second TermID, n float64) {
	m.mustBe("BigramModel.AddBigram", modelOpen)
	m.bigrams.add(MakeBigramKey(first, second), n)
}

func (m *BigramModel) Merge(other LanguageModel) {
	o := asBigram("BigramModel.Merge", other)
	m.UnigramModel.Merge(&o.UnigramModel)
	m.bigrams.merge(&o.bigrams)
}

func (m *BigramModel) Interpolate(parent LanguageModel, weight float64) {
	p := asBigram("BigramModel.Interpolate", parent)
	m.UnigramModel.Interpolate(&p.UnigramModel, weight)
	m.bigrams.interpolate(&p.bigrams, weight)
}

func (m *BigramModel) FinishLocal(minCount int) {
	m.UnigramModel.FinishLocal(minCount)
	m.bigrams.finishLocal(minCount, m.params)
}

func (m *BigramModel) FinishGlobal(stats *CorpusStats) {
	m.UnigramModel.FinishGlobal(stats)
	m.bigrams.finishGlobal(stats.bigrams)
}

// BigramTokens returns the number of bigram tokens.
func (m *BigramModel) BigramTokens() float64 { return m.bigrams.tokens }

// BigramProbability returns the smoothed probability of the bigram event
// (first, second).
func (m *BigramModel) BigramProbability(first, second TermID) float64 {
	m.mustBe("BigramModel.BigramProbability", modelFinished)
	return m.bigrams.prob(MakeBigramKey(first, second))
}

func (m *BigramModel) KLDivergence(other LanguageModel, partial bool, guard GuardFunc) float64 {
	o := asBigram("BigramModel.KLDivergence", other)
	kl := m.UnigramModel.KLDivergence(&o.UnigramModel, partial, guard)
	return kl + m.bigrams.kl(&o.bigrams, partial, orNoGuard(guard))
}

func (m *BigramModel) CosineSimilarity(other LanguageModel, smoothed, partial bool) float64 {
	o := asBigram("BigramModel.CosineSimilarity", other)
	uni := m.UnigramModel.CosineSimilarity(&o.UnigramModel, smoothed, partial)
	if len(m.bigrams.keys) == 0 && len(o.bigrams.keys) == 0 {
		return uni
	}
	return (uni + m.bigrams.cosine(&o.bigrams, smoothed, partial)) / 2
}

func (m *BigramModel) LogLikelihood(doc LanguageModel, guard GuardFunc) float64 {
	d := asBigram("BigramModel.LogLikelihood", doc)
	ll := m.UnigramModel.LogLikelihood(&d.UnigramModel, guard)
	return ll + m.bigrams.logLikelihood(&d.bigrams, orNoGuard(guard))
}

func (m *BigramModel) addCounts(b *CorpusStatsBuilder) {
	m.UnigramModel.addCounts(b)
	for k, c := range m.bigrams.counts {
		b.addBigram(k, c)
	}
}
