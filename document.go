package geolocate

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync/atomic"
)

// DocumentID identifies a document in the collaborator's store. Cells keep
// only this identifier, never the document itself.
type DocumentID string

// Split is the partition a document belongs to.
type Split uint8

const (
	SplitTraining Split = iota
	SplitDev
	SplitTest
)

func (s Split) String() string {
	switch s {
	case SplitTraining:
		return "training"
	case SplitDev:
		return "dev"
	case SplitTest:
		return "test"
	default:
		return fmt.Sprintf("Split(%d)", uint8(s))
	}
}

// ParseSplit parses the name of a split.
func ParseSplit(s string) (Split, error) {
	switch strings.ToLower(s) {
	case "training", "train":
		return SplitTraining, nil
	case "dev", "development":
		return SplitDev, nil
	case "test", "testing":
		return SplitTest, nil
	}
	return 0, fmt.Errorf("unknown split %q", s)
}

// Bigram is an ordered pair of adjacent terms.
type Bigram struct {
	First  string
	Second string
}

// Document is an already-parsed input record. Only training documents feed
// cell models; dev and test coordinates are evaluation ground truth.
type Document struct {
	ID           DocumentID
	Coord        *Coord
	TermCounts   map[string]int
	BigramCounts map[Bigram]int
	Salience     *float64
	Split        Split
}

// Tokens returns the number of term tokens, ignoring non-positive counts.
func (d *Document) Tokens() int {
	var n int
	for _, c := range d.TermCounts {
		if c > 0 {
			n += c
		}
	}
	return n
}

// SalienceOr returns the document salience or def when it has none.
func (d *Document) SalienceOr(def float64) float64 {
	if d.Salience == nil {
		return def
	}
	return *d.Salience
}

func (d *Document) sortedTerms() []string {
	return slices.Sorted(maps.Keys(d.TermCounts))
}

func (d *Document) sortedBigrams() []Bigram {
	return slices.SortedFunc(maps.Keys(d.BigramCounts), func(a, b Bigram) int {
		if c := strings.Compare(a.First, b.First); c != 0 {
			return c
		}
		return strings.Compare(a.Second, b.Second)
	})
}

// checkTraining reports why d cannot feed cell models, or SkipNone.
func (d *Document) checkTraining() SkipReason {
	switch {
	case d.Split != SplitTraining:
		return SkipNotTraining
	case d.Coord == nil || !d.Coord.finite():
		return SkipNoCoordinate
	case d.Tokens() == 0:
		return SkipEmptyDocument
	}
	return SkipNone
}

// SkipReason classifies a data-quality problem that caused an item to be
// skipped rather than failing the batch.
type SkipReason uint8

const (
	SkipNone SkipReason = iota
	SkipNotTraining
	SkipNoCoordinate
	SkipEmptyDocument
	SkipZeroSubcells
	SkipNonPositiveProbability
	SkipNoCell
	numSkipReasons
)

var skipReasonNames = [numSkipReasons]string{
	SkipNone:                   "added",
	SkipNotTraining:            "not_training",
	SkipNoCoordinate:           "no_coordinate",
	SkipEmptyDocument:          "empty_document",
	SkipZeroSubcells:           "zero_subcells",
	SkipNonPositiveProbability: "non_positive_probability",
	SkipNoCell:                 "no_cell",
}

func (r SkipReason) String() string {
	if r < numSkipReasons {
		return skipReasonNames[r]
	}
	return fmt.Sprintf("SkipReason(%d)", uint8(r))
}

// Err returns the sentinel error matching r, or nil.
func (r SkipReason) Err() error {
	switch r {
	case SkipNotTraining:
		return ErrNotTraining
	case SkipNoCoordinate:
		return ErrNoCoordinate
	case SkipEmptyDocument:
		return ErrEmptyDocument
	}
	return nil
}

// SkipCounters counts skips by reason. Safe for concurrent use.
type SkipCounters struct {
	counts [numSkipReasons]atomic.Int64
}

// Add records one skip.
func (s *SkipCounters) Add(r SkipReason) {
	if r < numSkipReasons {
		s.counts[r].Add(1)
	}
}

// Count returns the number of skips recorded for r.
func (s *SkipCounters) Count(r SkipReason) int64 {
	if r >= numSkipReasons {
		return 0
	}
	return s.counts[r].Load()
}

// Total returns the number of skips for every reason except SkipNone.
func (s *SkipCounters) Total() int64 {
	var n int64
	for r := SkipNone + 1; r < numSkipReasons; r++ {
		n += s.counts[r].Load()
	}
	return n
}

// Snapshot returns the nonzero counters keyed by reason name.
func (s *SkipCounters) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	for r := SkipNone + 1; r < numSkipReasons; r++ {
		if n := s.counts[r].Load(); n > 0 {
			out[r.String()] = n
		}
	}
	return out
}
