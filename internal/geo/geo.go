// Package geo makes every change of spatial reference explicit. Layers and
// rasters never share a reference frame by assumption: callers build a
// transform from the source SR to the destination SR and apply it.
package geo

import (
	"fmt"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
)

const (
	// WGS84 is the display reference for zone outputs and trap coordinates.
	WGS84 = "+proj=longlat +datum=WGS84 +no_defs"

	// CONUSAlbers is an equal-area projection used for zone areas.
	CONUSAlbers = "+proj=aea +lat_1=29.5 +lat_2=45.5 +lat_0=23 +lon_0=-96 +x_0=0 +y_0=0 +ellps=GRS80 +units=m +no_defs"
)

// Transform maps coordinates between two spatial references.
// A nil Transform is the identity.
type Transform = proj.Transformer

// SameSR reports whether two SR strings are textually equivalent.
func SameSR(a, b string) bool {
	return NormalizeSR(a) == NormalizeSR(b)
}

// NormalizeSR collapses runs of whitespace so equivalent SR strings compare
// and hash equal.
func NormalizeSR(sr string) string {
	return strings.Join(strings.Fields(sr), " ")
}

// NewTransform builds the transform from one SR to another. Identical
// references return a nil (identity) transform. Unparseable references are
// configuration errors.
func NewTransform(from, to string) (Transform, error) {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return nil, domain.ConfigErrorf("missing spatial reference (from=%q to=%q)", from, to)
	}
	if SameSR(from, to) {
		return nil, nil
	}
	src, err := proj.Parse(from)
	if err != nil {
		return nil, domain.ConfigErrorf("parse spatial reference %q: %v", from, err)
	}
	dst, err := proj.Parse(to)
	if err != nil {
		return nil, domain.ConfigErrorf("parse spatial reference %q: %v", to, err)
	}
	t, err := src.NewTransform(dst)
	if err != nil {
		return nil, domain.ConfigErrorf("transform %q -> %q: %v", from, to, err)
	}
	// Unknown projection names parse cleanly and only fail when applied.
	if _, _, err := t(0, 0); err != nil {
		return nil, domain.ConfigErrorf("transform %q -> %q: %v", from, to, err)
	}
	return t, nil
}

// Reproject applies t to a polygonal geometry. A geometry the transform
// cannot carry is a configuration error.
func Reproject(p geom.Polygonal, t Transform) (geom.Polygonal, error) {
	if t == nil || p == nil {
		return p, nil
	}
	g, err := p.Transform(t)
	if err != nil {
		return nil, domain.ConfigErrorf("reproject geometry: %v", err)
	}
	out, ok := g.(geom.Polygonal)
	if !ok {
		return nil, fmt.Errorf("reproject geometry: unexpected result %T", g)
	}
	return out, nil
}

// ReprojectPoint applies t to a single point.
func ReprojectPoint(p geom.Point, t Transform) (geom.Point, error) {
	if t == nil {
		return p, nil
	}
	x, y, err := t(p.X, p.Y)
	if err != nil {
		return geom.Point{}, fmt.Errorf("reproject point: %w", err)
	}
	return geom.Point{X: x, Y: y}, nil
}

// Between reprojects p from one SR to another in a single call.
func Between(p geom.Polygonal, from, to string) (geom.Polygonal, error) {
	t, err := NewTransform(from, to)
	if err != nil {
		return nil, err
	}
	return Reproject(p, t)
}

// IsEmpty reports whether p has no area.
func IsEmpty(p geom.Polygonal) bool {
	return p == nil || p.Area() <= 0
}

// Intersect returns a ∩ b, or nil when they do not overlap.
func Intersect(a, b geom.Polygonal) geom.Polygonal {
	if a == nil || b == nil || !a.Bounds().Overlaps(b.Bounds()) {
		return nil
	}
	out := a.Intersection(b)
	if IsEmpty(out) {
		return nil
	}
	return out
}

// UnionAll dissolves parts into a single geometry. It returns nil for no parts.
func UnionAll(parts []geom.Polygonal) geom.Polygonal {
	var out geom.Polygonal
	for _, p := range parts {
		if IsEmpty(p) {
			continue
		}
		if out == nil {
			out = p
			continue
		}
		out = out.Union(p)
	}
	return out
}

// Flatten gathers every ring of p into one polygon, the form a shapefile
// polygon record stores.
func Flatten(p geom.Polygonal) geom.Polygon {
	var out geom.Polygon
	if p == nil {
		return out
	}
	for _, poly := range p.Polygons() {
		out = append(out, poly...)
	}
	return out
}

// Vertices returns every ring vertex of p.
func Vertices(p geom.Polygonal) []geom.Point {
	var out []geom.Point
	if p == nil {
		return out
	}
	for _, poly := range p.Polygons() {
		for _, ring := range poly {
			out = append(out, ring...)
		}
	}
	return out
}
