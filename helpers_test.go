package geolocate

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

// trainDoc builds a training document; every term occurrence counts once.
func trainDoc(id string, lat, long float64, terms ...string) *Document {
	return splitDoc(id, SplitTraining, lat, long, terms...)
}

func splitDoc(id string, split Split, lat, long float64, terms ...string) *Document {
	counts := make(map[string]int, len(terms))
	for _, t := range terms {
		counts[t]++
	}
	c := Coord{Lat: lat, Long: long}
	return &Document{ID: DocumentID(id), Coord: &c, TermCounts: counts, Split: split}
}

// finishedModels builds unigram models for docs against their own corpus
// statistics.
func finishedModels(t *testing.T, docs ...*Document) ([]LanguageModel, *CorpusStats, *Vocabulary) {
	t.Helper()
	vocab := NewVocabulary(16)
	b := NewCorpusStatsBuilder(DefaultSmoothing())
	models := make([]LanguageModel, len(docs))
	for i, d := range docs {
		m := NewUnigramModel(DefaultSmoothing())
		m.AddDocument(d, vocab)
		b.Add(m)
		models[i] = m
	}
	stats := b.Build()
	for _, m := range models {
		m.FinishLocal(0)
		m.FinishGlobal(stats)
	}
	return models, stats, vocab
}

// regionalCorpus has four well separated regions, each with its own
// vocabulary plus some shared words.
var regionalCorpus = []struct {
	lat, long float64
	words     []string
}{
	{40.5, -74.5, []string{"Manhattan", "subway", "bagel", "yankees"}},
	{51.5, -0.5, []string{"Thames", "tube", "crumpet", "arsenal"}},
	{35.5, 139.5, []string{"Shinjuku", "shinkansen", "ramen", "giants"}},
	{-33.5, 151.5, []string{"Bondi", "ferry", "vegemite", "swans"}},
}

var sharedWords = []string{"the", "city", "weather", "people", "food"}

// regionalDocs generates perDoc-sized documents around each region of
// regionalCorpus, reproducibly from seed.
func regionalDocs(split Split, perRegion int, seed uint64) []*Document {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	var docs []*Document
	for r, region := range regionalCorpus {
		for i := range perRegion {
			var terms []string
			for range 6 {
				terms = append(terms, region.words[rng.IntN(len(region.words))])
			}
			for range 3 {
				terms = append(terms, sharedWords[rng.IntN(len(sharedWords))])
			}
			lat := region.lat + rng.Float64()*0.4 - 0.2
			long := region.long + rng.Float64()*0.4 - 0.2
			docs = append(docs, splitDoc(fmt.Sprintf("%s-%d-%d", split, r, i), split, lat, long, terms...))
		}
	}
	return docs
}

// closedGrid ingests docs into a new grid of kind and closes it.
func closedGrid(t *testing.T, kind GridKind, docs []*Document, opts ...Option) Grid {
	t.Helper()
	g, err := NewGrid(kind, opts...)
	require.NoError(t, err)
	for _, d := range docs {
		if err := g.AddDocument(d); err != nil {
			require.True(t, IsSkip(err), "unexpected error: %v", err)
		}
	}
	require.NoError(t, g.Close())
	return g
}

// contractViolation runs fn and returns the *ContractViolation it panicked
// with, or nil.
func contractViolation(fn func()) (cv *ContractViolation) {
	defer func() {
		if r := recover(); r != nil {
			cv, _ = r.(*ContractViolation)
		}
	}()
	fn()
	return nil
}
