package geolocate

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnigramProbabilityMass(t *testing.T) {
	models, _, _ := finishedModels(t,
		trainDoc("a", 0, 0, "austin", "austin", "texas", "bbq"),
		trainDoc("b", 0, 0, "boston", "boston", "boston", "chowder"),
		trainDoc("c", 0, 0, "texas", "longhorns", "austin"),
	)
	for _, m := range models {
		var seen float64
		for _, term := range m.Terms() {
			p := m.Probability(term)
			require.Greater(t, p, 0.0)
			seen += p
		}
		assert.InDelta(t, 1, seen+m.UnseenMass(), 1e-12)
		assert.Greater(t, m.UnseenMass(), 0.0)
		assert.LessOrEqual(t, m.UnseenMass(), DefaultSmoothing().MaxUnseenMass)
	}
}

func TestUnigramUnseenMass(t *testing.T) {
	tests := []struct {
		name  string
		terms []string
		want  float64
	}{
		// Two of four tokens are singletons: 2/4 hits the cap.
		{"capped", []string{"a", "b", "c", "c"}, 0.5},
		// No singletons: the seen-once count is floored at 1.
		{"floored", []string{"a", "a", "a", "a", "a", "b", "b", "b", "b", "b"}, 0.1},
		{"one singleton in five", []string{"a", "a", "b", "b", "c"}, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			models, _, _ := finishedModels(t, trainDoc("d", 0, 0, tt.terms...))
			assert.InDelta(t, tt.want, models[0].UnseenMass(), 1e-12)
		})
	}
}

func TestUnseenTermsFallBackToCorpus(t *testing.T) {
	models, stats, vocab := finishedModels(t,
		trainDoc("a", 0, 0, "austin", "texas"),
		trainDoc("b", 0, 0, "boston", "massachusetts", "boston"),
	)
	a := models[0]
	boston, ok := vocab.Lookup("boston")
	require.True(t, ok)
	texas, _ := vocab.Lookup("texas")

	// Seen elsewhere in the corpus: a share of the unseen mass.
	pBoston := a.Probability(boston)
	assert.Greater(t, pBoston, 0.0)
	assert.Less(t, pBoston, a.Probability(texas))

	// Never seen anywhere: the globally-unseen share.
	never := vocab.Intern("zanzibar")
	_, seen := stats.GlobalProbability(never)
	assert.False(t, seen)
	assert.Greater(t, a.Probability(never), 0.0)
}

func TestKLDivergence(t *testing.T) {
	models, _, _ := finishedModels(t,
		trainDoc("a", 0, 0, "austin", "austin", "texas", "bbq"),
		trainDoc("b", 0, 0, "boston", "boston", "boston", "chowder"),
		trainDoc("c", 0, 0, "texas", "longhorns", "austin", "bbq"),
	)
	a, b, c := models[0], models[1], models[2]

	assert.Equal(t, 0.0, a.KLDivergence(a, false, nil), "KL(A,A) must be exactly zero")
	assert.Equal(t, 0.0, a.KLDivergence(a, true, nil))
	assert.Equal(t, 0.0, SymmetricKLDivergence(a, a, false, nil))

	ab := a.KLDivergence(b, false, nil)
	ac := a.KLDivergence(c, false, nil)
	assert.Greater(t, ab, 0.0)
	assert.Greater(t, ab, ac, "a shares most of its vocabulary with c")
	assert.Less(t, a.KLDivergence(c, true, nil), a.KLDivergence(b, true, nil))

	sym := SymmetricKLDivergence(a, b, false, nil)
	assert.InDelta(t, (ab+b.KLDivergence(a, false, nil))/2, sym, 1e-12)
}

func TestKLDivergenceDeterministic(t *testing.T) {
	build := func() float64 {
		models, _, _ := finishedModels(t,
			trainDoc("a", 0, 0, "alpha", "beta", "gamma", "gamma", "delta"),
			trainDoc("b", 0, 0, "beta", "delta", "epsilon", "zeta", "eta", "theta"),
		)
		return models[0].KLDivergence(models[1], false, nil)
	}
	first := build()
	for range 20 {
		if got := build(); math.Float64bits(got) != math.Float64bits(first) {
			t.Fatalf("KL changed between identical builds: %v != %v", got, first)
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	models, _, _ := finishedModels(t,
		trainDoc("a", 0, 0, "austin", "texas"),
		trainDoc("b", 0, 0, "boston", "chowder"),
		trainDoc("c", 0, 0, "austin", "texas"),
	)
	a, b, c := models[0], models[1], models[2]

	assert.InDelta(t, 1, a.CosineSimilarity(c, false, false), 1e-12)
	assert.InDelta(t, 0, a.CosineSimilarity(b, false, false), 1e-12)
	assert.InDelta(t, 0, a.CosineSimilarity(b, false, true), 1e-12)
	assert.Greater(t, a.CosineSimilarity(b, true, false), 0.0, "smoothing gives b mass on a's terms")
	assert.InDelta(t, 1, a.CosineSimilarity(c, true, false), 1e-12)
}

func TestLogLikelihood(t *testing.T) {
	models, _, _ := finishedModels(t,
		trainDoc("cell-a", 0, 0, "austin", "austin", "texas", "bbq"),
		trainDoc("cell-b", 0, 0, "boston", "boston", "chowder", "harbor"),
		trainDoc("doc", 0, 0, "austin", "bbq"),
	)
	cellA, cellB, doc := models[0], models[1], models[2]
	la := cellA.LogLikelihood(doc, nil)
	lb := cellB.LogLikelihood(doc, nil)
	assert.Less(t, la, 0.0)
	assert.Greater(t, la, lb)
}

func TestFinishLocalPrunes(t *testing.T) {
	vocab := NewVocabulary(8)
	m := NewUnigramModel(DefaultSmoothing())
	m.AddDocument(trainDoc("d", 0, 0, "a", "a", "a", "b", "c", "c"), vocab)
	m.FinishLocal(2)

	assert.Equal(t, 5.0, m.Tokens())
	assert.Equal(t, 2, m.Types())
	b, _ := vocab.Lookup("b")
	assert.Equal(t, 0.0, m.Count(b))
	assert.Len(t, m.Terms(), 2)
}

func TestInterpolateKeepsTokens(t *testing.T) {
	vocab := NewVocabulary(8)
	child := NewUnigramModel(DefaultSmoothing())
	child.AddDocument(trainDoc("child", 0, 0, "a", "a", "b", "b"), vocab)
	parent := NewUnigramModel(DefaultSmoothing())
	for range 10 {
		parent.AddDocument(trainDoc("parent", 0, 0, "a", "c"), vocab)
	}

	child.Interpolate(parent, 0.25)

	a, _ := vocab.Lookup("a")
	b, _ := vocab.Lookup("b")
	c, _ := vocab.Lookup("c")
	assert.InDelta(t, 2.0, child.Count(a), 1e-12)
	assert.InDelta(t, 1.5, child.Count(b), 1e-12)
	assert.InDelta(t, 0.5, child.Count(c), 1e-12)
	assert.Equal(t, 4.0, child.Tokens())
}

func TestBigramModel(t *testing.T) {
	vocab := NewVocabulary(16)
	params := DefaultSmoothing()
	docs := []*Document{
		trainDoc("a", 0, 0, "new", "york", "city"),
		trainDoc("b", 0, 0, "york", "minster", "city"),
	}
	docs[0].BigramCounts = map[Bigram]int{{"new", "york"}: 1, {"york", "city"}: 1}
	docs[1].BigramCounts = map[Bigram]int{{"york", "minster"}: 1, {"minster", "city"}: 1}

	builder := NewCorpusStatsBuilder(params)
	models := make([]*BigramModel, len(docs))
	for i, d := range docs {
		models[i] = NewBigramModel(params)
		models[i].AddDocument(d, vocab)
		builder.Add(models[i])
	}
	stats := builder.Build()
	for _, m := range models {
		m.FinishLocal(0)
		m.FinishGlobal(stats)
	}
	a, b := models[0], models[1]

	assert.Equal(t, 2.0, a.BigramTokens())
	assert.Equal(t, 0.0, a.KLDivergence(a, false, nil))
	assert.Greater(t, a.KLDivergence(b, false, nil), 0.0)

	newID, _ := vocab.Lookup("new")
	york, _ := vocab.Lookup("york")
	minster, _ := vocab.Lookup("minster")
	assert.Greater(t, a.BigramProbability(newID, york), a.BigramProbability(york, minster))

	first, second := MakeBigramKey(newID, york).Terms()
	assert.Equal(t, newID, first)
	assert.Equal(t, york, second)

	assert.InDelta(t, 1, a.CosineSimilarity(a, false, false), 1e-12)
}

func TestModelContract(t *testing.T) {
	vocab := NewVocabulary(4)
	doc := trainDoc("d", 0, 0, "a", "b")
	stats := NewCorpusStatsBuilder(DefaultSmoothing()).Build()

	tests := []struct {
		name string
		fn   func()
	}{
		{"probability while open", func() {
			m := NewUnigramModel(DefaultSmoothing())
			m.AddDocument(doc, vocab)
			m.Probability(1)
		}},
		{"probability after local finish only", func() {
			m := NewUnigramModel(DefaultSmoothing())
			m.FinishLocal(0)
			m.Probability(1)
		}},
		{"global before local", func() {
			NewUnigramModel(DefaultSmoothing()).FinishGlobal(stats)
		}},
		{"local finish twice", func() {
			m := NewUnigramModel(DefaultSmoothing())
			m.FinishLocal(0)
			m.FinishLocal(0)
		}},
		{"add after finish", func() {
			m := NewUnigramModel(DefaultSmoothing())
			m.FinishLocal(0)
			m.AddDocument(doc, vocab)
		}},
		{"terms while open", func() {
			NewUnigramModel(DefaultSmoothing()).Terms()
		}},
		{"merge across kinds", func() {
			NewUnigramModel(DefaultSmoothing()).Merge(NewBigramModel(DefaultSmoothing()))
		}},
		{"kl against unfinished model", func() {
			a := NewUnigramModel(DefaultSmoothing())
			a.FinishLocal(0)
			a.FinishGlobal(stats)
			b := NewUnigramModel(DefaultSmoothing())
			a.KLDivergence(b, false, nil)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cv := contractViolation(tt.fn)
			require.NotNil(t, cv, "expected a contract violation")
			assert.True(t, errors.Is(cv, ErrContract))
			assert.NotEmpty(t, cv.Op)
		})
	}
}
