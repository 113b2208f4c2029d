// Package shapefile reads polygon layers and persists resolved zone sets.
// The spatial reference of a layer is the text of its .prj sidecar.
package shapefile

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/geo"
)

const (
	fieldZoneID  = "ZoneID"
	fieldAreaSqM = "AreaSqM"
)

// Feature is one polygon record with the requested attribute values.
type Feature struct {
	Geometry geom.Polygonal
	Fields   map[string]string
}

// Layer is a decoded polygon layer in its native spatial reference.
type Layer struct {
	SR       string
	Features []Feature
}

// PrjPath returns the .prj sidecar path of a shapefile.
func PrjPath(path string) string {
	return strings.TrimSuffix(path, ".shp") + ".prj"
}

// ReadLayer decodes every polygon record of path, keeping the named fields.
// A missing file or .prj is a configuration error.
func ReadLayer(path string, fields ...string) (*Layer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, domain.ConfigErrorf("required layer %s: %v", path, err)
	}
	prj, err := os.ReadFile(PrjPath(path))
	if err != nil {
		return nil, domain.ConfigErrorf("layer %s has no resolvable spatial reference: %v", path, err)
	}

	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile %s: %w", path, err)
	}
	defer dec.Close()

	layer := &Layer{SR: strings.TrimSpace(string(prj))}
	for {
		g, values, more := dec.DecodeRowFields(fields...)
		if !more {
			break
		}
		poly, ok := g.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("shapefile %s: record %d is %T, want polygon", path, len(layer.Features), g)
		}
		cleaned := make(map[string]string, len(values))
		for k, v := range values {
			cleaned[k] = cleanField(v)
		}
		layer.Features = append(layer.Features, Feature{Geometry: poly, Fields: cleaned})
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("decode shapefile %s: %w", path, err)
	}
	return layer, nil
}

// cleanField strips dBase padding.
func cleanField(s string) string {
	return strings.Trim(s, "\x00* ")
}

// zoneRecord is the on-disk form of a zone.
type zoneRecord struct {
	geom.Polygon
	ZoneID  string
	AreaSqM float64
}

// WriteZones persists a zone set with its spatial reference.
func WriteZones(path string, zs domain.ZoneSet) error {
	enc, err := shp.NewEncoder(path, zoneRecord{})
	if err != nil {
		return fmt.Errorf("create zone shapefile: %w", err)
	}
	for _, z := range zs.Zones {
		rec := zoneRecord{Polygon: geo.Flatten(z.Geometry), ZoneID: z.ID, AreaSqM: z.AreaSqM}
		if err := enc.Encode(rec); err != nil {
			enc.Close()
			return fmt.Errorf("encode zone %s: %w", z.ID, err)
		}
	}
	enc.Close()
	if err := os.WriteFile(PrjPath(path), []byte(zs.SR+"\n"), 0o644); err != nil {
		return fmt.Errorf("write zone spatial reference: %w", err)
	}
	return nil
}

// ReadZones loads a zone set written by WriteZones.
func ReadZones(path string) (domain.ZoneSet, error) {
	layer, err := ReadLayer(path, fieldZoneID, fieldAreaSqM)
	if err != nil {
		return domain.ZoneSet{}, err
	}
	zs := domain.ZoneSet{SR: layer.SR, Zones: make([]domain.Zone, 0, len(layer.Features))}
	for i, f := range layer.Features {
		id := f.Fields[fieldZoneID]
		if id == "" {
			return domain.ZoneSet{}, fmt.Errorf("zone shapefile %s: record %d has no %s", path, i, fieldZoneID)
		}
		area, err := strconv.ParseFloat(f.Fields[fieldAreaSqM], 64)
		if err != nil {
			return domain.ZoneSet{}, fmt.Errorf("zone shapefile %s: zone %s area: %w", path, id, err)
		}
		zs.Zones = append(zs.Zones, domain.Zone{ID: id, AreaSqM: area, Geometry: f.Geometry})
	}
	return zs, nil
}

// WriteBoundary persists the study region as a single-record layer.
func WriteBoundary(path string, b domain.Boundary) error {
	type boundaryRecord struct {
		geom.Polygon
		Name string
	}
	enc, err := shp.NewEncoder(path, boundaryRecord{})
	if err != nil {
		return fmt.Errorf("create boundary shapefile: %w", err)
	}
	if err := enc.Encode(boundaryRecord{Polygon: geo.Flatten(b.Geometry), Name: "region"}); err != nil {
		enc.Close()
		return fmt.Errorf("encode boundary: %w", err)
	}
	enc.Close()
	if err := os.WriteFile(PrjPath(path), []byte(b.SR+"\n"), 0o644); err != nil {
		return fmt.Errorf("write boundary spatial reference: %w", err)
	}
	return nil
}

// ReadBoundary loads a region, dissolving all records into one geometry.
func ReadBoundary(path string) (domain.Boundary, error) {
	layer, err := ReadLayer(path)
	if err != nil {
		return domain.Boundary{}, err
	}
	parts := make([]geom.Polygonal, len(layer.Features))
	for i, f := range layer.Features {
		parts[i] = f.Geometry
	}
	g := geo.UnionAll(parts)
	if g == nil {
		return domain.Boundary{}, domain.ConfigErrorf("boundary %s is empty", path)
	}
	return domain.Boundary{SR: layer.SR, Geometry: g}, nil
}
