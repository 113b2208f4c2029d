package domain

import "github.com/ctessum/geom"

// Zone is an aggregation unit, here a ZIP code clipped to the study region.
type Zone struct {
	ID       string
	AreaSqM  float64 // equal-area footprint computed at resolution time
	Geometry geom.Polygonal
}

// ZoneSet is the resolved zone layer in a single spatial reference.
type ZoneSet struct {
	SR    string
	Zones []Zone
}

// Boundary is the study region (county ∩ basin) used to clip rasters.
type Boundary struct {
	SR       string
	Geometry geom.Polygonal
}

// IDs returns the zone identifiers in set order.
func (s ZoneSet) IDs() []string {
	ids := make([]string, len(s.Zones))
	for i, z := range s.Zones {
		ids[i] = z.ID
	}
	return ids
}

// Lookup finds a zone by identifier.
func (s ZoneSet) Lookup(id string) (Zone, bool) {
	for _, z := range s.Zones {
		if z.ID == id {
			return z, true
		}
	}
	return Zone{}, false
}
