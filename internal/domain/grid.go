package domain

import (
	"math"
	"time"

	"github.com/ctessum/geom"
)

// GridSpec describes the placement of a north-up raster.
type GridSpec struct {
	Cols        int
	Rows        int
	OriginX     float64 // x of the outer upper-left corner
	OriginY     float64 // y of the outer upper-left corner
	PixelWidth  float64
	PixelHeight float64 // positive; rows run southward
	SR          string  // PROJ.4 or WKT
}

// Grid is a single-band raster with one no-data sentinel.
type Grid struct {
	GridSpec
	NoData float64
	Values []float64 // row-major, len Cols*Rows
}

// Tile is one masked or unmasked satellite image for an acquisition date.
type Tile struct {
	ID   string
	Date time.Time
	Grid *Grid
}

// NewGrid allocates a grid with every pixel set to noData.
func NewGrid(spec GridSpec, noData float64) *Grid {
	g := &Grid{
		GridSpec: spec,
		NoData:   noData,
		Values:   make([]float64, spec.Cols*spec.Rows),
	}
	for i := range g.Values {
		g.Values[i] = noData
	}
	return g
}

// At returns the value at col, row.
func (g *Grid) At(col, row int) float64 {
	return g.Values[row*g.Cols+col]
}

// Set stores v at col, row.
func (g *Grid) Set(col, row int, v float64) {
	g.Values[row*g.Cols+col] = v
}

// Valid reports whether v is a measurement rather than no-data.
func (g *Grid) Valid(v float64) bool {
	return v != g.NoData && !math.IsNaN(v)
}

// CountValid returns the number of pixels holding a measurement.
func (g *Grid) CountValid() int {
	n := 0
	for _, v := range g.Values {
		if g.Valid(v) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of g.
func (g *Grid) Clone() *Grid {
	out := &Grid{GridSpec: g.GridSpec, NoData: g.NoData, Values: make([]float64, len(g.Values))}
	copy(out.Values, g.Values)
	return out
}

// PixelArea returns the planar area of one pixel in SR units.
func (s GridSpec) PixelArea() float64 {
	return s.PixelWidth * s.PixelHeight
}

// PixelBounds returns the footprint of the pixel at col, row.
func (s GridSpec) PixelBounds(col, row int) *geom.Bounds {
	x0 := s.OriginX + float64(col)*s.PixelWidth
	y1 := s.OriginY - float64(row)*s.PixelHeight
	return &geom.Bounds{
		Min: geom.Point{X: x0, Y: y1 - s.PixelHeight},
		Max: geom.Point{X: x0 + s.PixelWidth, Y: y1},
	}
}

// PixelCenter returns the centre of the pixel at col, row.
func (s GridSpec) PixelCenter(col, row int) geom.Point {
	return geom.Point{
		X: s.OriginX + (float64(col)+0.5)*s.PixelWidth,
		Y: s.OriginY - (float64(row)+0.5)*s.PixelHeight,
	}
}

// Bounds returns the outer extent of the grid.
func (s GridSpec) Bounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: s.OriginX, Y: s.OriginY - float64(s.Rows)*s.PixelHeight},
		Max: geom.Point{X: s.OriginX + float64(s.Cols)*s.PixelWidth, Y: s.OriginY},
	}
}

// PixelRange returns the half-open col/row window of pixels overlapping b,
// clamped to the grid. Empty windows have c0 >= c1 or r0 >= r1.
func (s GridSpec) PixelRange(b *geom.Bounds) (c0, r0, c1, r1 int) {
	const eps = 1e-9
	c0 = int(math.Floor((b.Min.X-s.OriginX)/s.PixelWidth + eps))
	c1 = int(math.Ceil((b.Max.X-s.OriginX)/s.PixelWidth - eps))
	r0 = int(math.Floor((s.OriginY-b.Max.Y)/s.PixelHeight + eps))
	r1 = int(math.Ceil((s.OriginY-b.Min.Y)/s.PixelHeight - eps))
	c0 = max(c0, 0)
	r0 = max(r0, 0)
	c1 = min(c1, s.Cols)
	r1 = min(r1, s.Rows)
	return c0, r0, c1, r1
}

// SameResolution reports whether both specs use the same pixel size.
func (s GridSpec) SameResolution(o GridSpec) bool {
	return nearlyEqual(s.PixelWidth, o.PixelWidth) && nearlyEqual(s.PixelHeight, o.PixelHeight)
}

// Aligned reports whether o's pixel edges fall on s's pixel lattice.
func (s GridSpec) Aligned(o GridSpec) bool {
	if !s.SameResolution(o) {
		return false
	}
	return onLattice((o.OriginX-s.OriginX)/s.PixelWidth) && onLattice((s.OriginY-o.OriginY)/s.PixelHeight)
}

// SameGrid reports whether s and o describe identical pixel placement.
func (s GridSpec) SameGrid(o GridSpec) bool {
	return s.Cols == o.Cols && s.Rows == o.Rows &&
		nearlyEqual(s.OriginX, o.OriginX) && nearlyEqual(s.OriginY, o.OriginY) &&
		s.SameResolution(o)
}

func onLattice(v float64) bool {
	return math.Abs(v-math.Round(v)) < 1e-6
}

func nearlyEqual(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= 1e-9*math.Max(scale, 1)
}
