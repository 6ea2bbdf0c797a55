package geolocate

import (
	"cmp"
	"fmt"
	"iter"
	"maps"
	"slices"
	"time"
)

// FixedGrid tiles the Earth with square tiles of a fixed size in degrees.
// Each cell is a multi-cell of Width x Width tiles identified by its
// southwest tile; with Width > 1 neighbouring multi-cells overlap and a
// document is accumulated into every multi-cell whose block covers its tile.
type FixedGrid struct {
	gridBase
	space *CoordinateSpace

	cells     map[TileIndex]*Cell // multi-cells, keyed by southwest tile
	occupancy map[TileIndex]int   // training documents per tile
	ordered   []*Cell
}

var _ Grid = (*FixedGrid)(nil)

// NewFixedGrid creates an empty open FixedGrid.
func NewFixedGrid(opts ...Option) (*FixedGrid, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	return newFixedGrid(cfg, nil)
}

func newFixedGrid(cfg *Config, vocab *Vocabulary) (*FixedGrid, error) {
	space, err := NewCoordinateSpace(cfg.DegreesPerCell, cfg.MultiCellWidth)
	if err != nil {
		return nil, err
	}
	return &FixedGrid{
		gridBase:  newGridBase(GridFixed, cfg, vocab),
		space:     space,
		cells:     make(map[TileIndex]*Cell),
		occupancy: make(map[TileIndex]int),
	}, nil
}

func (g *FixedGrid) shard() Grid {
	s, err := newFixedGrid(g.cfg, g.vocab)
	if err != nil {
		// g was built from the same configuration.
		panic(err)
	}
	return s
}

// Space returns the grid's coordinate space.
func (g *FixedGrid) Space() *CoordinateSpace { return g.space }

func (g *FixedGrid) cellFor(idx TileIndex) *Cell {
	if c, ok := g.cells[idx]; ok {
		return c
	}
	c := newCell(g.newModel(), g.space.MultiCellBox(idx), g.space.MultiCellCoord(idx, CornerCenter))
	c.tile = idx
	g.cells[idx] = c
	return c
}

// AddDocument implements Grid.
func (g *FixedGrid) AddDocument(doc *Document) error {
	m, err := g.admit("FixedGrid.AddDocument", doc)
	if err != nil {
		return err
	}
	tile := g.space.TileIndex(*doc.Coord)
	g.occupancy[tile]++
	for _, idx := range g.space.MultiCellsCovering(tile) {
		g.cellFor(idx).accumulate(doc, m)
	}
	return nil
}

// Merge implements Grid.
func (g *FixedGrid) Merge(other Grid) error {
	o, ok := other.(*FixedGrid)
	if !ok {
		return fmt.Errorf("FixedGrid.Merge with %v grid: %w", other.Kind(), ErrGridKindMismatch)
	}
	if o.space.deg != g.space.deg || o.space.width != g.space.width {
		return fmt.Errorf("FixedGrid.Merge: tiling %gx%d differs from %gx%d: %w",
			o.space.deg, o.space.width, g.space.deg, g.space.width, ErrGridKindMismatch)
	}
	if err := g.mergeBase("FixedGrid.Merge", &o.gridBase); err != nil {
		return err
	}
	for _, idx := range slices.SortedFunc(maps.Keys(o.cells), compareTiles) {
		g.cellFor(idx).mergeCell(o.cells[idx])
	}
	for t, n := range o.occupancy {
		g.occupancy[t] += n
	}
	return nil
}

func compareTiles(a, b TileIndex) int {
	if c := cmp.Compare(a.Lat, b.Lat); c != 0 {
		return c
	}
	return cmp.Compare(a.Long, b.Long)
}

// Close implements Grid. Cells are ordered by southwest tile, south to north
// then west to east.
func (g *FixedGrid) Close() error {
	g.mustBeOpen("FixedGrid.Close")
	started := time.Now()
	g.ordered = make([]*Cell, 0, len(g.cells))
	for _, idx := range slices.SortedFunc(maps.Keys(g.cells), compareTiles) {
		g.ordered = append(g.ordered, g.cells[idx])
	}
	g.closeCells(g.ordered, started)
	return nil
}

// NonemptyCells implements Grid.
func (g *FixedGrid) NonemptyCells(requireModel bool) iter.Seq[*Cell] {
	g.mustBeClosed("FixedGrid.NonemptyCells")
	return iterCells(g.ordered, requireModel)
}

// LocateCell implements Grid. The multi-cell index is computed directly.
func (g *FixedGrid) LocateCell(c Coord) (*Cell, bool) {
	g.mustBeClosed("FixedGrid.LocateCell")
	cell, ok := g.cells[g.space.MultiCellIndex(c)]
	return cell, ok
}

// CenterFor implements Grid.
func (g *FixedGrid) CenterFor(c Coord) Coord {
	return g.space.MultiCellCoord(g.space.MultiCellIndex(c), CornerCenter)
}

// CellAt returns the multi-cell whose southwest tile is idx.
func (g *FixedGrid) CellAt(idx TileIndex) (*Cell, bool) {
	g.mustBeClosed("FixedGrid.CellAt")
	cell, ok := g.cells[g.space.CoerceIndex(idx)]
	return cell, ok
}

// CellsWithin implements Grid by walking the tiles of b, which may cross
// the date line, rather than scanning every cell. The walk starts W-1 tiles
// southwest of b since a multi-cell's centre lies northeast of its key.
func (g *FixedGrid) CellsWithin(b Box) []*Cell {
	g.mustBeClosed("FixedGrid.CellsWithin")
	var out []*Cell
	sw := g.space.TileIndex(b.SW)
	sw.Lat -= g.space.width - 1
	sw.Long -= g.space.width - 1
	g.space.ForEachTile(sw, g.space.TileIndex(b.NE), func(t TileIndex) bool {
		if c, ok := g.cells[t]; ok && b.Contains(c.center) {
			out = append(out, c)
		}
		return true
	})
	slices.SortFunc(out, func(a, b *Cell) int { return cmp.Compare(a.ordinal, b.ordinal) })
	return slices.Compact(out)
}

// TileOccupancy returns the number of training documents in each nonempty
// tile. Multi-cell overlap is not counted.
func (g *FixedGrid) TileOccupancy() map[TileIndex]int {
	return maps.Clone(g.occupancy)
}

// TileOccupancy is a fixed-grid diagnostic. It fails with
// ErrGridKindMismatch for other grids.
func TileOccupancy(g Grid) (map[TileIndex]int, error) {
	fg, ok := g.(*FixedGrid)
	if !ok {
		return nil, fmt.Errorf("tile occupancy needs a fixed grid, got %v: %w", g.Kind(), ErrGridKindMismatch)
	}
	return fg.TileOccupancy(), nil
}
