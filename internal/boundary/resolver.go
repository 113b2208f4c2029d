// Package boundary resolves the canonical zone set: ZIP-code polygons clipped
// to the intersection of a county and a groundwater basin, with slivers
// removed by an equal-area cutoff.
//
// Slivers from near-tangent intersections are handled by a minimum-area
// filter applied to the clipped geometry. Zones therefore carry clipped
// shapes rather than whole ZIP polygons.
package boundary

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ctessum/geom"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/adapter/shapefile"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/geo"
)

// Options controls zone resolution.
type Options struct {
	CountyField   string  // attribute holding the county name
	CountyName    string  // empty selects every county feature
	ZIPField      string  // attribute holding the ZIP code
	MinAreaSqM    float64 // candidates below this are discarded
	EqualAreaProj string  // SR used to measure areas
	DisplayProj   string  // SR of the output zone set
}

// Layers are the three input polygon layers, each in its own SR.
type Layers struct {
	County *shapefile.Layer
	Basin  *shapefile.Layer
	ZIP    *shapefile.Layer
}

// Result is the study region and the zones inside it.
type Result struct {
	Region    domain.Boundary
	Zones     domain.ZoneSet
	Discarded []Discarded
}

// Discarded records a candidate removed by the area filter.
type Discarded struct {
	ZoneID  string
	AreaSqM float64
}

// Resolver intersects the input layers into a zone set.
type Resolver struct {
	opts   Options
	logger *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(opts Options, logger *slog.Logger) *Resolver {
	return &Resolver{opts: opts, logger: logger}
}

// Resolve computes county ∩ basin, clips ZIP polygons to it and filters
// slivers by equal-area size. Output zones are in DisplayProj, sorted by id.
func (r *Resolver) Resolve(ctx context.Context, in Layers) (Result, error) {
	if in.County == nil || in.Basin == nil || in.ZIP == nil {
		return Result{}, domain.ConfigErrorf("county, basin and ZIP layers are all required")
	}

	county, err := r.selectCounty(in.County)
	if err != nil {
		return Result{}, err
	}
	basin := geo.UnionAll(geometries(in.Basin.Features))
	if basin == nil {
		return Result{}, domain.ConfigErrorf("basin layer has no polygons")
	}
	basin, err = geo.Between(basin, in.Basin.SR, in.County.SR)
	if err != nil {
		return Result{}, fmt.Errorf("reproject basin: %w", err)
	}
	region := geo.Intersect(county, basin)
	if region == nil {
		return Result{}, domain.ConfigErrorf("county %q does not overlap the basin", r.opts.CountyName)
	}

	toCounty, err := geo.NewTransform(in.ZIP.SR, in.County.SR)
	if err != nil {
		return Result{}, fmt.Errorf("zip transform: %w", err)
	}
	toEqualArea, err := geo.NewTransform(in.County.SR, r.opts.EqualAreaProj)
	if err != nil {
		return Result{}, fmt.Errorf("equal-area transform: %w", err)
	}
	toDisplay, err := geo.NewTransform(in.County.SR, r.opts.DisplayProj)
	if err != nil {
		return Result{}, fmt.Errorf("display transform: %w", err)
	}

	zips, err := dissolveByID(in.ZIP, r.opts.ZIPField)
	if err != nil {
		return Result{}, err
	}

	res := Result{Zones: domain.ZoneSet{SR: r.opts.DisplayProj}}
	for _, id := range sortedKeys(zips) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		shape, err := geo.Reproject(zips[id], toCounty)
		if err != nil {
			return Result{}, fmt.Errorf("reproject zip %s: %w", id, err)
		}
		clipped := geo.Intersect(shape, region)
		if clipped == nil {
			continue
		}
		measured, err := geo.Reproject(clipped, toEqualArea)
		if err != nil {
			return Result{}, fmt.Errorf("measure zip %s: %w", id, err)
		}
		area := measured.Area()
		if area < r.opts.MinAreaSqM {
			r.logger.Info("discarding sliver zone", "zone_id", id, "area_sqm", area, "min_area_sqm", r.opts.MinAreaSqM)
			res.Discarded = append(res.Discarded, Discarded{ZoneID: id, AreaSqM: area})
			continue
		}
		display, err := geo.Reproject(clipped, toDisplay)
		if err != nil {
			return Result{}, fmt.Errorf("display zip %s: %w", id, err)
		}
		res.Zones.Zones = append(res.Zones.Zones, domain.Zone{ID: id, AreaSqM: area, Geometry: display})
	}

	displayRegion, err := geo.Reproject(region, toDisplay)
	if err != nil {
		return Result{}, fmt.Errorf("display region: %w", err)
	}
	res.Region = domain.Boundary{SR: r.opts.DisplayProj, Geometry: displayRegion}

	r.logger.Info("zones resolved",
		"zones", len(res.Zones.Zones),
		"discarded", len(res.Discarded),
		"county", r.opts.CountyName,
	)
	return res, nil
}

func (r *Resolver) selectCounty(layer *shapefile.Layer) (geom.Polygonal, error) {
	var parts []geom.Polygonal
	for _, f := range layer.Features {
		if r.opts.CountyName == "" || f.Fields[r.opts.CountyField] == r.opts.CountyName {
			parts = append(parts, f.Geometry)
		}
	}
	county := geo.UnionAll(parts)
	if county == nil {
		return nil, domain.ConfigErrorf("no county feature with %s=%q", r.opts.CountyField, r.opts.CountyName)
	}
	return county, nil
}

// dissolveByID unions ZIP records sharing an identifier.
func dissolveByID(layer *shapefile.Layer, field string) (map[string]geom.Polygonal, error) {
	parts := make(map[string][]geom.Polygonal)
	for i, f := range layer.Features {
		id := f.Fields[field]
		if id == "" {
			return nil, domain.ConfigErrorf("zip record %d has no %s attribute", i, field)
		}
		parts[id] = append(parts[id], f.Geometry)
	}
	out := make(map[string]geom.Polygonal, len(parts))
	for id, p := range parts {
		if u := geo.UnionAll(p); u != nil {
			out[id] = u
		}
	}
	return out, nil
}

func geometries(features []shapefile.Feature) []geom.Polygonal {
	out := make([]geom.Polygonal, len(features))
	for i, f := range features {
		out[i] = f.Geometry
	}
	return out
}

func sortedKeys(m map[string]geom.Polygonal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
