package geolocate

import (
	"cmp"
	"container/list"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// CellDistribution is a probability distribution over the nonempty cells
// of a grid, aligned with the grid's iteration order.
type CellDistribution struct {
	Cells []*Cell
	Probs []float64
	// Normalized is false when the total mass was zero and the
	// probabilities were left as computed.
	Normalized bool
}

func newCellDistribution(cells []*Cell, probs []float64) *CellDistribution {
	d := &CellDistribution{Cells: cells, Probs: probs}
	var total float64
	for _, p := range probs {
		total += p
	}
	if total != 0 {
		d.Normalized = true
		for i := range probs {
			probs[i] /= total
		}
	}
	return d
}

// Ranked returns the cells ordered by decreasing probability. Ties keep
// grid order.
func (d *CellDistribution) Ranked() []RankedCell {
	out := make([]RankedCell, len(d.Cells))
	for i, c := range d.Cells {
		out[i] = RankedCell{Cell: c, Score: d.Probs[i]}
	}
	sortRanked(out)
	return out
}

// CacheStats reports cell-distribution cache activity.
type CacheStats struct {
	Hits     int64
	Misses   int64
	Computes int64
	Len      int
}

type cachedDistribution struct {
	term TermID
	dist *CellDistribution
}

// CellDistributionCache inverts the cell models of a closed grid into
// term -> cell distributions, memoized under an LRU policy. It is the only
// structure that changes after a grid closes and is safe for concurrent
// use; concurrent misses for the same term share one computation.
type CellDistributionCache struct {
	cells    []*Cell
	vocab    *Vocabulary
	metrics  MetricsCollector
	capacity int

	mu    sync.Mutex
	items map[TermID]*list.Element
	order *list.List
	group singleflight.Group

	hits     atomic.Int64
	misses   atomic.Int64
	computes atomic.Int64
}

// NewCellDistributionCache creates a cache over the cells of g that have
// nonempty models. g must be closed.
func NewCellDistributionCache(g Grid) *CellDistributionCache {
	cfg := g.Config()
	return &CellDistributionCache{
		cells:    slices.Collect(g.NonemptyCells(true)),
		vocab:    g.Vocabulary(),
		metrics:  cfg.Metrics,
		capacity: cfg.CacheCapacity,
		items:    make(map[TermID]*list.Element),
		order:    list.New(),
	}
}

// Cells returns the cells every distribution is aligned with.
func (c *CellDistributionCache) Cells() []*Cell { return c.cells }

// Lookup returns the distribution of term over cells:
// p[cell] = P(term | cell) / sum over cells of P(term | cell).
func (c *CellDistributionCache) Lookup(term TermID) *CellDistribution {
	c.mu.Lock()
	if el, ok := c.items[term]; ok {
		c.order.MoveToFront(el)
		c.mu.Unlock()
		c.hits.Add(1)
		c.metrics.RecordCacheLookup(true)
		return el.Value.(*cachedDistribution).dist
	}
	c.mu.Unlock()
	c.misses.Add(1)
	c.metrics.RecordCacheLookup(false)

	v, _, _ := c.group.Do(strconv.FormatUint(uint64(term), 10), func() (any, error) {
		d := c.compute(term)
		c.store(term, d)
		return d, nil
	})
	return v.(*CellDistribution)
}

// LookupTerm is Lookup for a term string. It reports false for terms the
// grid's vocabulary has never seen.
func (c *CellDistributionCache) LookupTerm(s string) (*CellDistribution, bool) {
	id, ok := c.vocab.Lookup(s)
	if !ok {
		return nil, false
	}
	return c.Lookup(id), true
}

func (c *CellDistributionCache) compute(term TermID) *CellDistribution {
	c.computes.Add(1)
	probs := make([]float64, len(c.cells))
	for i, cell := range c.cells {
		probs[i] = cell.model.Probability(term)
	}
	return newCellDistribution(c.cells, probs)
}

func (c *CellDistributionCache) store(term TermID, d *CellDistribution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[term]; ok {
		c.order.MoveToFront(el)
		return
	}
	c.items[term] = c.order.PushFront(&cachedDistribution{term: term, dist: d})
	for c.order.Len() > c.capacity {
		el := c.order.Back()
		c.order.Remove(el)
		delete(c.items, el.Value.(*cachedDistribution).term)
	}
}

// Contains reports whether term is cached, without touching its recency.
func (c *CellDistributionCache) Contains(term TermID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[term]
	return ok
}

// ForModel combines the distributions of every term of m, weighted by the
// term's count, and renormalizes.
func (c *CellDistributionCache) ForModel(m LanguageModel) *CellDistribution {
	probs := make([]float64, len(c.cells))
	for _, term := range m.Terms() {
		count := m.Count(term)
		for i, p := range c.Lookup(term).Probs {
			probs[i] += count * p
		}
	}
	return newCellDistribution(c.cells, probs)
}

// Stats returns a snapshot of the cache counters.
func (c *CellDistributionCache) Stats() CacheStats {
	c.mu.Lock()
	n := c.order.Len()
	c.mu.Unlock()
	return CacheStats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Computes: c.computes.Load(),
		Len:      n,
	}
}

// sortRanked orders best first, keeping the incoming order for ties.
func sortRanked(r []RankedCell) {
	slices.SortStableFunc(r, func(a, b RankedCell) int {
		return cmp.Compare(b.Score, a.Score)
	})
}
