package domain

import (
	"sort"
	"time"
)

// RepairState annotates how an observation's value was obtained.
type RepairState string

const (
	RepairObserved     RepairState = "observed"
	RepairMidpoint     RepairState = "midpoint"
	RepairInterpolated RepairState = "interpolated"
)

// Observation is one zonal statistic for a (zone, date) pair.
type Observation struct {
	ZoneID      string      `json:"zone_id"`
	Date        time.Time   `json:"date"`
	RawCount    float64     `json:"raw_count"`
	DerivedArea float64     `json:"derived_area"`
	Repair      RepairState `json:"repair,omitempty"`
}

// SortObservations orders observations by zone, then date.
func SortObservations(obs []Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		if obs[i].ZoneID != obs[j].ZoneID {
			return obs[i].ZoneID < obs[j].ZoneID
		}
		return obs[i].Date.Before(obs[j].Date)
	})
}

// GroupByZone splits observations into per-zone series ordered by date.
// The returned keys are sorted.
func GroupByZone(obs []Observation) ([]string, map[string][]Observation) {
	groups := make(map[string][]Observation)
	for _, o := range obs {
		groups[o.ZoneID] = append(groups[o.ZoneID], o)
	}
	ids := make([]string, 0, len(groups))
	for id, series := range groups {
		sort.SliceStable(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, groups
}
