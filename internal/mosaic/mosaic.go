// Package mosaic builds one boundary-clipped raster per acquisition date from
// a set of masked satellite tiles.
package mosaic

import (
	"math"

	"github.com/ctessum/geom"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/geo"
)

// Mask returns a copy of tile where every pixel whose mask value is in invalid,
// or whose mask is no-data, is set to no-data. The mask must share the tile's
// grid exactly.
func Mask(tile, mask *domain.Grid, invalid []float64) (*domain.Grid, error) {
	if !tile.SameGrid(mask.GridSpec) {
		return nil, domain.DateDataErrorf("mask grid %dx%d does not match tile grid %dx%d",
			mask.Cols, mask.Rows, tile.Cols, tile.Rows)
	}
	if !geo.SameSR(tile.SR, mask.SR) {
		return nil, domain.DateDataErrorf("mask spatial reference differs from its tile")
	}

	bad := make(map[float64]struct{}, len(invalid))
	for _, v := range invalid {
		bad[v] = struct{}{}
	}

	out := tile.Clone()
	for i, m := range mask.Values {
		if _, isBad := bad[m]; isBad || !mask.Valid(m) {
			out.Values[i] = out.NoData
		}
	}
	return out, nil
}

// CheckCompatible verifies that grids can be merged: one spatial reference,
// one pixel size and a shared pixel lattice. Violations are configuration
// errors.
func CheckCompatible(specs ...domain.GridSpec) error {
	if len(specs) == 0 {
		return nil
	}
	first := specs[0]
	for i, s := range specs[1:] {
		if !geo.SameSR(first.SR, s.SR) {
			return domain.ConfigErrorf("tile %d spatial reference differs from tile 0", i+1)
		}
		if !first.SameResolution(s) {
			return domain.ConfigErrorf("tile %d resolution %gx%g differs from tile 0 resolution %gx%g",
				i+1, s.PixelWidth, s.PixelHeight, first.PixelWidth, first.PixelHeight)
		}
		if !first.Aligned(s) {
			return domain.ConfigErrorf("tile %d is not aligned to the pixel grid of tile 0", i+1)
		}
	}
	return nil
}

// Merge combines tiles into one grid covering their union extent. Tiles are in
// priority order: on overlap the first tile holding a valid pixel wins.
func Merge(tiles ...*domain.Grid) (*domain.Grid, error) {
	if len(tiles) == 0 {
		return nil, domain.DateDataErrorf("no tiles to merge")
	}
	specs := make([]domain.GridSpec, len(tiles))
	for i, t := range tiles {
		specs[i] = t.GridSpec
	}
	if err := CheckCompatible(specs...); err != nil {
		return nil, err
	}

	base := tiles[0]
	ext := base.Bounds()
	for _, t := range tiles[1:] {
		b := t.Bounds()
		ext.Min.X = math.Min(ext.Min.X, b.Min.X)
		ext.Min.Y = math.Min(ext.Min.Y, b.Min.Y)
		ext.Max.X = math.Max(ext.Max.X, b.Max.X)
		ext.Max.Y = math.Max(ext.Max.Y, b.Max.Y)
	}

	spec := base.GridSpec
	spec.OriginX = ext.Min.X
	spec.OriginY = ext.Max.Y
	spec.Cols = int(math.Round((ext.Max.X - ext.Min.X) / spec.PixelWidth))
	spec.Rows = int(math.Round((ext.Max.Y - ext.Min.Y) / spec.PixelHeight))
	out := domain.NewGrid(spec, base.NoData)

	for _, t := range tiles {
		offCol := int(math.Round((t.OriginX - spec.OriginX) / spec.PixelWidth))
		offRow := int(math.Round((spec.OriginY - t.OriginY) / spec.PixelHeight))
		for row := 0; row < t.Rows; row++ {
			for col := 0; col < t.Cols; col++ {
				v := t.At(col, row)
				if !t.Valid(v) {
					continue
				}
				if out.Valid(out.At(offCol+col, offRow+row)) {
					continue
				}
				out.Set(offCol+col, offRow+row, v)
			}
		}
	}
	return out, nil
}

// Clip crops g to the region's extent, snapped outward to the pixel grid, and
// sets every pixel whose centre lies outside the region to no-data. The region
// is reprojected into the grid's spatial reference. Clipping a clipped grid
// with the same region returns an identical grid.
func Clip(g *domain.Grid, region domain.Boundary) (*domain.Grid, error) {
	shape, err := geo.Between(region.Geometry, region.SR, g.SR)
	if err != nil {
		return nil, err
	}
	if geo.IsEmpty(shape) {
		return nil, domain.ConfigErrorf("clip region is empty")
	}

	c0, r0, c1, r1 := g.PixelRange(shape.Bounds())
	if c0 >= c1 || r0 >= r1 {
		return nil, domain.DateDataErrorf("raster does not overlap the clip region")
	}

	spec := g.GridSpec
	spec.Cols = c1 - c0
	spec.Rows = r1 - r0
	spec.OriginX = g.OriginX + float64(c0)*g.PixelWidth
	spec.OriginY = g.OriginY - float64(r0)*g.PixelHeight
	out := domain.NewGrid(spec, g.NoData)

	for row := 0; row < spec.Rows; row++ {
		for col := 0; col < spec.Cols; col++ {
			v := g.At(c0+col, r0+row)
			if !g.Valid(v) {
				continue
			}
			if spec.PixelCenter(col, row).Within(shape) == geom.Outside {
				continue
			}
			out.Set(col, row, v)
		}
	}
	return out, nil
}
