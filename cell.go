package geolocate

import (
	"fmt"

	geohash "github.com/TomiHiltunen/geohash-golang"
)

// Cell is a spatial region that owns one aggregated language model. A cell
// is OPEN while its grid accumulates documents and CLOSED once the grid has
// finished smoothing.
type Cell struct {
	ordinal int // position in the grid's iteration order
	tile    TileIndex
	node    int // k-d node id, -1 for tiling cells
	depth   int
	bounds  Box
	center  Coord

	model    LanguageModel
	numDocs  int
	salience float64

	mostSalient      DocumentID
	mostSalientScore float64

	closed bool
}

func newCell(model LanguageModel, bounds Box, center Coord) *Cell {
	return &Cell{
		node:   -1,
		bounds: bounds,
		center: center,
		model:  model,
	}
}

// Tile returns the index of the southwest tile of a fixed-grid cell.
func (c *Cell) Tile() TileIndex { return c.tile }

// Node returns the k-d node id of an adaptive-grid cell, or -1.
func (c *Cell) Node() int { return c.node }

// Depth returns the k-d depth of the cell, 0 for the root and tiling cells.
func (c *Cell) Depth() int { return c.depth }

// Ordinal is the position of the cell in its grid's iteration order.
func (c *Cell) Ordinal() int { return c.ordinal }

// Bounds returns the rectangle covered by the cell.
func (c *Cell) Bounds() Box { return c.bounds }

// Center returns the cell's reference point used for distances.
func (c *Cell) Center() Coord { return c.center }

// Model returns the cell's language model.
func (c *Cell) Model() LanguageModel { return c.model }

// NumDocuments returns the number of training documents aggregated.
func (c *Cell) NumDocuments() int { return c.numDocs }

// Salience returns the summed salience of the cell's documents.
func (c *Cell) Salience() float64 { return c.salience }

// MostSalient returns the identifier of the cell's most salient document.
func (c *Cell) MostSalient() (DocumentID, bool) {
	return c.mostSalient, c.mostSalient != ""
}

// Closed reports whether the cell has been finalized.
func (c *Cell) Closed() bool { return c.closed }

// Geohash labels the cell centre with a geohash of the given precision.
func (c *Cell) Geohash(precision int) string {
	return geohash.EncodeWithPrecision(c.center.Lat, c.center.Long, precision)
}

func (c *Cell) String() string {
	if c.node >= 0 {
		return fmt.Sprintf("node %d %s-%s", c.node, c.bounds.SW, c.bounds.NE)
	}
	return fmt.Sprintf("tile %s %s-%s", c.tile, c.bounds.SW, c.bounds.NE)
}

// accumulate merges a document model into the cell. The document model must
// still be open.
func (c *Cell) accumulate(doc *Document, docModel LanguageModel) {
	if c.closed {
		violate("Cell.accumulate", "cell %s is closed", c)
	}
	c.model.Merge(docModel)
	c.addBookkeeping(doc)
}

// addBookkeeping updates the document counters without touching the model.
func (c *Cell) addBookkeeping(doc *Document) {
	c.numDocs++
	s := doc.SalienceOr(0)
	c.salience += s
	if doc.Salience != nil && (c.mostSalient == "" || s > c.mostSalientScore) {
		c.mostSalient = doc.ID
		c.mostSalientScore = s
	}
}

// mergeCell folds another open cell for the same region into c.
func (c *Cell) mergeCell(o *Cell) {
	if c.closed || o.closed {
		violate("Cell.merge", "cell %s is closed", c)
	}
	c.model.Merge(o.model)
	c.numDocs += o.numDocs
	c.salience += o.salience
	if o.mostSalient != "" && (c.mostSalient == "" || o.mostSalientScore > c.mostSalientScore) {
		c.mostSalient = o.mostSalient
		c.mostSalientScore = o.mostSalientScore
	}
}

// close runs both smoothing phases and freezes the cell.
func (c *Cell) close(minCount int, stats *CorpusStats) {
	if c.closed {
		violate("Cell.close", "cell %s closed twice", c)
	}
	c.model.FinishLocal(minCount)
	c.model.FinishGlobal(stats)
	c.closed = true
}
