package geolocate

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/s2"
)

const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0

	// indexEpsilon is added, in tile units, before flooring a coordinate.
	// Without it, a coordinate sitting exactly on a tile boundary can land
	// one tile short because of float rounding in c/deg.
	indexEpsilon = 1e-9
)

// Coord is a point on the Earth in degrees. The valid envelope is
// [-90,90] x [-180,180).
type Coord struct {
	Lat  float64
	Long float64
}

// NewCoord returns c with latitude clamped and longitude wrapped into the
// valid envelope. NaN components are rejected.
func NewCoord(lat, long float64) (Coord, error) {
	if math.IsNaN(lat) || math.IsNaN(long) || math.IsInf(lat, 0) || math.IsInf(long, 0) {
		return Coord{}, fmt.Errorf("coordinate (%v, %v): %w", lat, long, errInvalidCoord)
	}
	return Coord{Lat: clampLat(lat), Long: wrapLong(long)}, nil
}

var errInvalidCoord = errors.New("not a finite coordinate")

func (c Coord) String() string {
	return fmt.Sprintf("(%.2f,%.2f)", c.Lat, c.Long)
}

// LatLng converts c for use with the s2 geometry package.
func (c Coord) LatLng() s2.LatLng {
	return s2.LatLngFromDegrees(c.Lat, c.Long)
}

// Valid reports whether c lies inside the envelope.
func (c Coord) Valid() bool {
	return c.LatLng().IsValid() && c.Long < MaxLongitude
}

func (c Coord) finite() bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Long) && !math.IsInf(c.Lat, 0) && !math.IsInf(c.Long, 0)
}

func clampLat(lat float64) float64 {
	return math.Max(MinLatitude, math.Min(MaxLatitude, lat))
}

func wrapLong(long float64) float64 {
	if long >= MinLongitude && long < MaxLongitude {
		return long
	}
	long = math.Mod(long-MinLongitude, 360)
	if long < 0 {
		long += 360
	}
	return long + MinLongitude
}

// Box is a latitude/longitude rectangle. When SW.Long > NE.Long the box
// crosses the date line.
type Box struct {
	SW Coord
	NE Coord
}

// Contains reports whether c falls inside the box, edges included.
func (b Box) Contains(c Coord) bool {
	if c.Lat < b.SW.Lat || c.Lat > b.NE.Lat {
		return false
	}
	if b.SW.Long <= b.NE.Long {
		return c.Long >= b.SW.Long && c.Long <= b.NE.Long
	}
	return c.Long >= b.SW.Long || c.Long <= b.NE.Long
}

// Center returns the midpoint of the box, accounting for date-line crossing.
func (b Box) Center() Coord {
	ne := b.NE.Long
	if b.SW.Long > ne {
		ne += 360
	}
	return Coord{Lat: (b.SW.Lat + b.NE.Lat) / 2, Long: wrapLong((b.SW.Long + ne) / 2)}
}

// TileIndex identifies a tile by the indices of its southwest corner.
type TileIndex struct {
	Lat  int
	Long int
}

func (t TileIndex) String() string {
	return fmt.Sprintf("%d,%d", t.Lat, t.Long)
}

// Corner selects a reference point of a tile or multi-cell.
type Corner int

const (
	CornerSW Corner = iota
	CornerCenter
	CornerNE
)

// CoordinateSpace converts between coordinates and tile indices for a fixed
// tile size. A multi-cell groups Width x Width tiles and is identified by the
// index of its southwest tile.
type CoordinateSpace struct {
	deg   float64
	width int

	minLat, maxLat   int
	minLong, maxLong int
}

// NewCoordinateSpace creates a coordinate space with tiles of deg degrees and
// multi-cells width tiles wide.
func NewCoordinateSpace(deg float64, width int) (*CoordinateSpace, error) {
	if !(deg > 0) || deg > 180 {
		return nil, &ConfigError{Field: "DegreesPerCell", Value: deg, cause: errors.New("must be in (0, 180]")}
	}
	if width < 1 {
		return nil, &ConfigError{Field: "MultiCellWidth", Value: width, cause: errors.New("must be >= 1")}
	}
	cs := &CoordinateSpace{deg: deg, width: width}
	// The top row ends just below the pole so that 90N does not get a
	// degenerate tile of its own when deg divides 180.
	cs.minLat = floorIndex(MinLatitude / deg)
	cs.maxLat = int(math.Ceil(MaxLatitude/deg-indexEpsilon)) - 1
	cs.minLong = floorIndex(MinLongitude / deg)
	cs.maxLong = int(math.Ceil(MaxLongitude/deg-indexEpsilon)) - 1
	return cs, nil
}

func floorIndex(v float64) int {
	return int(math.Floor(v + indexEpsilon))
}

// DegreesPerCell returns the tile size.
func (cs *CoordinateSpace) DegreesPerCell() float64 { return cs.deg }

// Width returns the multi-cell width in tiles.
func (cs *CoordinateSpace) Width() int { return cs.width }

// LatRange returns the inclusive range of latitude indices.
func (cs *CoordinateSpace) LatRange() (lo, hi int) { return cs.minLat, cs.maxLat }

// LongRange returns the inclusive range of longitude indices.
func (cs *CoordinateSpace) LongRange() (lo, hi int) { return cs.minLong, cs.maxLong }

func (cs *CoordinateSpace) longCount() int { return cs.maxLong - cs.minLong + 1 }

// TileIndex returns the index of the tile containing c.
func (cs *CoordinateSpace) TileIndex(c Coord) TileIndex {
	return cs.CoerceIndex(TileIndex{
		Lat:  floorIndex(c.Lat / cs.deg),
		Long: floorIndex(c.Long / cs.deg),
	})
}

// MultiCellIndex returns the index of the multi-cell whose block is centred
// as closely as possible on c. The coordinate is shifted (W-1)/2 tiles
// southwest before flooring. For even widths this puts the block centre on
// the tile corner nearest c.
func (cs *CoordinateSpace) MultiCellIndex(c Coord) TileIndex {
	sub := float64(cs.width-1) / 2
	return cs.CoerceIndex(TileIndex{
		Lat:  floorIndex(c.Lat/cs.deg - sub),
		Long: floorIndex(c.Long/cs.deg - sub),
	})
}

// CoerceIndex clamps the latitude index and wraps the longitude index.
// Latitude is never wrapped: going over a pole is not a neighbouring tile.
func (cs *CoordinateSpace) CoerceIndex(t TileIndex) TileIndex {
	if t.Lat < cs.minLat {
		t.Lat = cs.minLat
	} else if t.Lat > cs.maxLat {
		t.Lat = cs.maxLat
	}
	if t.Long < cs.minLong || t.Long > cs.maxLong {
		n := cs.longCount()
		t.Long = ((t.Long-cs.minLong)%n+n)%n + cs.minLong
	}
	return t
}

// TileCoord returns a reference coordinate of tile t.
func (cs *CoordinateSpace) TileCoord(t TileIndex, corner Corner) Coord {
	return cs.offsetCoord(t, cornerOffset(corner, 1))
}

// MultiCellCoord returns a reference coordinate of the multi-cell whose
// southwest tile is t.
func (cs *CoordinateSpace) MultiCellCoord(t TileIndex, corner Corner) Coord {
	return cs.offsetCoord(t, cornerOffset(corner, cs.width))
}

// MultiCellBox returns the bounds of the multi-cell whose southwest tile is t.
func (cs *CoordinateSpace) MultiCellBox(t TileIndex) Box {
	return Box{SW: cs.MultiCellCoord(t, CornerSW), NE: cs.MultiCellCoord(t, CornerNE)}
}

func cornerOffset(corner Corner, width int) float64 {
	switch corner {
	case CornerCenter:
		return float64(width) / 2
	case CornerNE:
		return float64(width)
	default:
		return 0
	}
}

func (cs *CoordinateSpace) offsetCoord(t TileIndex, off float64) Coord {
	lat := (float64(t.Lat) + off) * cs.deg
	long := (float64(t.Long) + off) * cs.deg
	if off == 0 && long < MinLongitude {
		// The westernmost tile may start before -180 when deg does not
		// divide 360; keep its corner inside the same tile.
		long = MinLongitude
	}
	return Coord{Lat: clampLat(lat), Long: wrapLong(long)}
}

// MultiCellsCovering returns the indices of every multi-cell whose block
// contains tile t, deduplicated after clamping and wrapping.
func (cs *CoordinateSpace) MultiCellsCovering(t TileIndex) []TileIndex {
	out := make([]TileIndex, 0, cs.width*cs.width)
	seen := make(map[TileIndex]struct{}, cs.width*cs.width)
	for i := t.Lat - cs.width + 1; i <= t.Lat; i++ {
		for j := t.Long - cs.width + 1; j <= t.Long; j++ {
			idx := cs.CoerceIndex(TileIndex{Lat: i, Long: j})
			if _, ok := seen[idx]; ok {
				continue
			}
			seen[idx] = struct{}{}
			out = append(out, idx)
		}
	}
	return out
}

// ForEachTile calls fn for every tile in the rectangle with corners sw and ne,
// rows south to north. When sw.Long > ne.Long the rectangle crosses the date
// line and longitudes run east to the last column, then from the first.
// Iteration stops when fn returns false.
func (cs *CoordinateSpace) ForEachTile(sw, ne TileIndex, fn func(TileIndex) bool) {
	sw, ne = cs.CoerceIndex(sw), cs.CoerceIndex(ne)
	for i := sw.Lat; i <= ne.Lat; i++ {
		if sw.Long <= ne.Long {
			for j := sw.Long; j <= ne.Long; j++ {
				if !fn(TileIndex{Lat: i, Long: j}) {
					return
				}
			}
			continue
		}
		for j := sw.Long; j <= cs.maxLong; j++ {
			if !fn(TileIndex{Lat: i, Long: j}) {
				return
			}
		}
		for j := cs.minLong; j <= ne.Long; j++ {
			if !fn(TileIndex{Lat: i, Long: j}) {
				return
			}
		}
	}
}

// ForEachTileInBox calls fn for every tile overlapping b.
func (cs *CoordinateSpace) ForEachTileInBox(b Box, fn func(TileIndex) bool) {
	cs.ForEachTile(cs.TileIndex(b.SW), cs.TileIndex(b.NE), fn)
}
