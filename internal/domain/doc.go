// Package domain models the zones, rasters and observations that flow through
// the surface-water preparation pipeline.
//
// # Input Conventions
//
// Satellite tiles and their quality masks live side by side in one directory:
//
//	<tile>_<YYYYMMDD>_data.tif   pixel values (e.g. a water classification)
//	<tile>_<YYYYMMDD>_mask.tif   quality mask on the identical grid
//
// Every .tif carries two sidecars with the same base name: a world file (.tfw)
// holding the affine geotransform and a .prj holding the spatial reference as a
// PROJ.4 or WKT string. Rotated world files are rejected.
//
// Tiles are listed in priority order by configuration. When two tiles overlap,
// the first tile with a valid pixel wins.
//
// # Rasters
//
// A [Grid] is a north-up single band. OriginX/OriginY is the outer upper-left
// corner and PixelHeight is positive even though rows run southward. One
// sentinel value marks no-data; no-data pixels are excluded from every sum.
//
// Clipped per-date rasters are written as:
//
//	<prefix>_<YYYY-MM-DD>.tif
//
// and that directory is the hand-off between the mosaic and aggregation stages.
//
// # Zonal Statistics
//
// Pixels straddling a zone edge are apportioned by area: a pixel contributes
// value × area(pixel ∩ zone) / area(pixel). When qualifying values are
// configured, a pixel contributes only its covered fraction if its value is in
// the set. The resulting sum is converted to a physical area with
//
//	derived_area = raw_count × pixel_area_sqm ÷ unit_sqm
//
// where unit_sqm is 4046.86 for acres, 10000 for hectares and 1 for square meters.
//
// # Repair Annotations
//
// After gap filling every row carries one of "observed", "midpoint" or
// "interpolated". Dropped dates never appear in the output.
package domain
