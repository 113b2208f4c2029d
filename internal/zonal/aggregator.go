// Package zonal computes per-zone statistics from clipped rasters.
//
// Pixels split by a zone edge are apportioned by area: a pixel contributes
// its value times the fraction of its footprint inside the zone. When
// qualifying values are configured a pixel contributes that fraction when its
// value qualifies and nothing otherwise, so raw counts are fractional pixel
// counts. No-data pixels contribute nothing.
package zonal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"gonum.org/v1/gonum/floats"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/geo"
)

// Area unit conversion factors in square metres per unit.
const (
	SqMPerAcre    = 4046.86
	SqMPerHectare = 10000.0
	SqMPerSqM     = 1.0
)

// UnitFactor returns the square metres in one named area unit.
func UnitFactor(unit string) (float64, error) {
	switch unit {
	case "acre":
		return SqMPerAcre, nil
	case "hectare":
		return SqMPerHectare, nil
	case "sqm":
		return SqMPerSqM, nil
	default:
		return 0, domain.ConfigErrorf("unknown area unit %q", unit)
	}
}

// Options controls aggregation.
type Options struct {
	PixelAreaSqM float64   // ground area of one pixel
	UnitFactor   float64   // square metres per output area unit
	Qualifying   []float64 // empty sums pixel values
	CacheSize    int       // projected zone sets kept, keyed by SR

	// CacheObserver, when set, is called on every zone index lookup.
	CacheObserver func(hit bool)
}

// Aggregator sums raster pixels per zone.
type Aggregator struct {
	zones      domain.ZoneSet
	opts       Options
	qualifying map[float64]struct{}
	cache      *indexCache
	logger     *slog.Logger
}

// NewAggregator creates an Aggregator over zones.
func NewAggregator(zones domain.ZoneSet, opts Options, logger *slog.Logger) *Aggregator {
	var q map[float64]struct{}
	if len(opts.Qualifying) > 0 {
		q = make(map[float64]struct{}, len(opts.Qualifying))
		for _, v := range opts.Qualifying {
			q[v] = struct{}{}
		}
	}
	if opts.UnitFactor == 0 {
		opts.UnitFactor = SqMPerSqM
	}
	return &Aggregator{
		zones:      zones,
		opts:       opts,
		qualifying: q,
		cache:      newIndexCache(opts.CacheSize),
		logger:     logger,
	}
}

// zoneIndex is the zone set projected into one raster SR.
type zoneIndex struct {
	tree  *rtree.Rtree
	count int
}

type indexedZone struct {
	geom.Polygonal
	pos int
}

// Aggregate returns one observation per zone for the raster g acquired on
// date, in zone-set order. Zones without valid pixels get zero.
func (a *Aggregator) Aggregate(ctx context.Context, date time.Time, g *domain.Grid) ([]domain.Observation, error) {
	idx, err := a.index(g.SR)
	if err != nil {
		return nil, err
	}

	parts := make([][]float64, idx.count)
	pixelArea := g.PixelArea()
	for row := 0; row < g.Rows; row++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for col := 0; col < g.Cols; col++ {
			v := g.At(col, row)
			if !g.Valid(v) {
				continue
			}
			weight, ok := a.weight(v)
			if !ok {
				continue
			}
			b := g.PixelBounds(col, row)
			candidates := idx.tree.SearchIntersect(b)
			if len(candidates) == 0 {
				continue
			}
			pixel := boundsPolygon(b)
			for _, c := range candidates {
				z := c.(*indexedZone)
				isect := geo.Intersect(pixel, z.Polygonal)
				if isect == nil {
					continue
				}
				parts[z.pos] = append(parts[z.pos], weight*isect.Area()/pixelArea)
			}
		}
	}

	out := make([]domain.Observation, len(a.zones.Zones))
	for i, z := range a.zones.Zones {
		raw := floats.Sum(parts[i])
		out[i] = domain.Observation{
			ZoneID:      z.ID,
			Date:        date,
			RawCount:    raw,
			DerivedArea: a.DerivedArea(raw),
			Repair:      domain.RepairObserved,
		}
	}
	return out, nil
}

// DerivedArea converts a raw pixel count to the configured area unit.
func (a *Aggregator) DerivedArea(raw float64) float64 {
	return raw * a.opts.PixelAreaSqM / a.opts.UnitFactor
}

func (a *Aggregator) weight(v float64) (float64, bool) {
	if a.qualifying == nil {
		return v, true
	}
	if _, ok := a.qualifying[v]; ok {
		return 1, true
	}
	return 0, false
}

// index returns the zone set projected into sr, building it on a cache miss.
func (a *Aggregator) index(sr string) (*zoneIndex, error) {
	if idx, ok := a.cache.get(sr); ok {
		a.observe(true)
		return idx, nil
	}
	a.observe(false)

	t, err := geo.NewTransform(a.zones.SR, sr)
	if err != nil {
		return nil, fmt.Errorf("zone transform: %w", err)
	}
	tree := rtree.NewTree(25, 50)
	for i, z := range a.zones.Zones {
		p, err := geo.Reproject(z.Geometry, t)
		if err != nil {
			return nil, fmt.Errorf("reproject zone %s: %w", z.ID, err)
		}
		tree.Insert(&indexedZone{Polygonal: p, pos: i})
	}
	idx := &zoneIndex{tree: tree, count: len(a.zones.Zones)}
	a.cache.put(sr, idx)
	a.logger.Debug("zone index built", "zones", idx.count)
	return idx, nil
}

func (a *Aggregator) observe(hit bool) {
	if a.opts.CacheObserver != nil {
		a.opts.CacheObserver(hit)
	}
}

func boundsPolygon(b *geom.Bounds) geom.Polygon {
	return geom.Polygon{{
		{X: b.Min.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Max.Y},
		{X: b.Min.X, Y: b.Max.Y},
		{X: b.Min.X, Y: b.Min.Y},
	}}
}
