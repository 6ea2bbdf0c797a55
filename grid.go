package geolocate

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

// GridKind names a grid variant.
type GridKind uint8

const (
	GridFixed GridKind = iota
	GridAdaptive
)

func (k GridKind) String() string {
	switch k {
	case GridFixed:
		return "fixed"
	case GridAdaptive:
		return "adaptive"
	default:
		return fmt.Sprintf("GridKind(%d)", uint8(k))
	}
}

// GridSummary holds the aggregates computed when a grid closes.
type GridSummary struct {
	Kind               GridKind
	NonemptyCells      int
	NonemptyModelCells int
	Documents          int
	Tokens             float64
	Skips              map[string]int64
	CloseDuration      time.Duration
}

// Grid owns the universe of cells. A grid is OPEN while documents are added
// and becomes CLOSED exactly once through Close; cells and their models are
// immutable afterwards. Mutating a closed grid or querying an open one
// panics with a *ContractViolation.
//
// A Grid is not safe for concurrent mutation. Once closed, all query methods
// are safe for concurrent use.
type Grid interface {
	// AddDocument accumulates a training document into the cells covering
	// it. Documents that cannot be used are skipped with a warning and the
	// returned error wraps ErrNotTraining, ErrNoCoordinate or
	// ErrEmptyDocument.
	AddDocument(doc *Document) error
	// Merge folds an open grid of the same kind, built over the same
	// Vocabulary, into this one. other must not be used afterwards.
	Merge(other Grid) error
	// Close finishes smoothing for every cell and freezes the grid.
	Close() error
	Closed() bool

	// NonemptyCells yields every cell holding at least one document, in
	// the grid's stable iteration order. With requireModel set, cells whose
	// model ended up empty are left out.
	NonemptyCells(requireModel bool) iter.Seq[*Cell]
	// LocateCell returns the cell that would hold a document at c.
	LocateCell(c Coord) (*Cell, bool)
	// CenterFor returns the centre of the region that would hold a document
	// at c, whether or not a nonempty cell exists there.
	CenterFor(c Coord) Coord
	// CellsWithin returns the nonempty cells whose centre lies inside b.
	CellsWithin(b Box) []*Cell
	// DocumentModel builds the finished language model of doc against the
	// grid's corpus statistics, for ranking.
	DocumentModel(doc *Document) LanguageModel

	Kind() GridKind
	Summary() GridSummary
	Config() *Config
	Vocabulary() *Vocabulary
	Stats() *CorpusStats
	Skips() *SkipCounters

	// shard returns an empty open grid with the same configuration sharing
	// this grid's Vocabulary.
	shard() Grid
}

// NewGrid builds an empty grid of the given kind.
func NewGrid(kind GridKind, opts ...Option) (Grid, error) {
	switch kind {
	case GridFixed:
		return NewFixedGrid(opts...)
	case GridAdaptive:
		return NewAdaptiveGrid(opts...)
	}
	return nil, fmt.Errorf("grid kind %v: %w", kind, ErrGridKindMismatch)
}

// gridBase carries the state both grid kinds share: configuration, the
// vocabulary, corpus statistics and skip accounting.
type gridBase struct {
	kind   GridKind
	cfg    *Config
	log    *Logger
	vocab  *Vocabulary
	corpus *CorpusStatsBuilder
	stats  *CorpusStats
	skips  *SkipCounters

	documents int
	closed    bool
	summary   GridSummary
}

func newGridBase(kind GridKind, cfg *Config, vocab *Vocabulary) gridBase {
	if vocab == nil {
		vocab = NewVocabulary(1024)
	}
	return gridBase{
		kind:   kind,
		cfg:    cfg,
		log:    cfg.Logger.WithGrid(kind),
		vocab:  vocab,
		corpus: NewCorpusStatsBuilder(cfg.Smoothing),
		skips:  &SkipCounters{},
	}
}

func (g *gridBase) Kind() GridKind          { return g.kind }
func (g *gridBase) Config() *Config         { return g.cfg }
func (g *gridBase) Vocabulary() *Vocabulary { return g.vocab }
func (g *gridBase) Skips() *SkipCounters    { return g.skips }
func (g *gridBase) Closed() bool            { return g.closed }

func (g *gridBase) newModel() LanguageModel {
	return NewLanguageModel(g.cfg.Bigrams, g.cfg.Smoothing)
}

func (g *gridBase) mustBeOpen(op string) {
	if g.closed {
		violate(op, "%s grid is closed", g.kind)
	}
}

func (g *gridBase) mustBeClosed(op string) {
	if !g.closed {
		violate(op, "%s grid is still open", g.kind)
	}
}

// Stats returns the corpus statistics. Only valid after Close.
func (g *gridBase) Stats() *CorpusStats {
	g.mustBeClosed("Grid.Stats")
	return g.stats
}

// Summary returns the aggregates computed by Close.
func (g *gridBase) Summary() GridSummary {
	g.mustBeClosed("Grid.Summary")
	s := g.summary
	s.Skips = g.skips.Snapshot()
	return s
}

// admit checks doc and builds its open model. The model's counts are added
// to the corpus statistics here, once per document, whatever the number of
// cells the document is accumulated into.
func (g *gridBase) admit(op string, doc *Document) (LanguageModel, error) {
	g.mustBeOpen(op)
	if reason := doc.checkTraining(); reason != SkipNone {
		g.skip(context.Background(), reason, string(doc.ID))
		return nil, fmt.Errorf("document %q: %w", doc.ID, reason.Err())
	}
	m := g.newModel()
	m.AddDocument(doc, g.vocab)
	g.corpus.Add(m)
	g.documents++
	g.cfg.Metrics.RecordDocument(SkipNone)
	return m, nil
}

func (g *gridBase) skip(ctx context.Context, reason SkipReason, id string) {
	g.log.LogSkip(ctx, reason, id)
	g.skips.Add(reason)
	g.cfg.Metrics.RecordDocument(reason)
}

func (g *gridBase) mergeBase(op string, o *gridBase) error {
	g.mustBeOpen(op)
	o.mustBeOpen(op)
	if g.vocab != o.vocab {
		return fmt.Errorf("%s: grids do not share a vocabulary", op)
	}
	g.corpus.Merge(o.corpus)
	g.documents += o.documents
	for r := SkipNone + 1; r < numSkipReasons; r++ {
		g.skips.counts[r].Add(o.skips.counts[r].Load())
	}
	return nil
}

// DocumentModel builds and finishes the model of doc. The vocabulary is
// frozen once the grid is closed: terms never seen in training get ids local
// to the model and fall into the globally-unseen mass.
func (g *gridBase) DocumentModel(doc *Document) LanguageModel {
	g.mustBeClosed("Grid.DocumentModel")
	m := g.newModel()
	m.addQuery(doc, newLocalTerms(g.vocab))
	m.FinishLocal(0)
	m.FinishGlobal(g.stats)
	return m
}

// closeCells finishes every cell, in order, and records the summary.
func (g *gridBase) closeCells(cells []*Cell, started time.Time) {
	g.stats = g.corpus.Build()
	var withModel int
	for i, c := range cells {
		c.ordinal = i
		c.close(g.cfg.MinTermCount, g.stats)
		if !c.model.Empty() {
			withModel++
		}
	}
	g.closed = true
	g.summary = GridSummary{
		Kind:               g.kind,
		NonemptyCells:      len(cells),
		NonemptyModelCells: withModel,
		Documents:          g.documents,
		Tokens:             g.stats.Tokens(),
		CloseDuration:      time.Since(started),
	}
	g.log.LogClose(context.Background(), g.summary)
	g.cfg.Metrics.RecordClose(g.kind, len(cells), g.summary.CloseDuration)
}

func iterCells(cells []*Cell, requireModel bool) iter.Seq[*Cell] {
	return func(yield func(*Cell) bool) {
		for _, c := range cells {
			if requireModel && c.model.Empty() {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

func cellsWithin(cells []*Cell, b Box) []*Cell {
	var out []*Cell
	for _, c := range cells {
		if b.Contains(c.center) {
			out = append(out, c)
		}
	}
	return out
}

// IsSkip reports whether err marks a skipped document rather than a failure.
func IsSkip(err error) bool {
	return errors.Is(err, ErrNotTraining) || errors.Is(err, ErrNoCoordinate) || errors.Is(err, ErrEmptyDocument)
}
