// Package trapjoin assigns mosquito-trap collections to zones and tallies
// them per zone and date.
package trapjoin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/geo"
)

// Result holds the per-zone tallies and the number of unmatched records.
type Result struct {
	Tallies   []domain.TrapTally // sorted by zone, then date
	Unmatched int
}

type indexedZone struct {
	geom.Polygonal
	pos int
}

// Joiner locates trap points in a zone set.
type Joiner struct {
	zones  domain.ZoneSet
	tree   *rtree.Rtree
	toZone geo.Transform
	logger *slog.Logger
}

// NewJoiner indexes zones. Trap coordinates are WGS84 longitude/latitude.
func NewJoiner(zones domain.ZoneSet, logger *slog.Logger) (*Joiner, error) {
	t, err := geo.NewTransform(geo.WGS84, zones.SR)
	if err != nil {
		return nil, fmt.Errorf("trap transform: %w", err)
	}
	tree := rtree.NewTree(25, 50)
	for i, z := range zones.Zones {
		tree.Insert(&indexedZone{Polygonal: z.Geometry, pos: i})
	}
	return &Joiner{zones: zones, tree: tree, toZone: t, logger: logger}, nil
}

// Locate returns the zone containing the WGS84 point, preferring the first
// zone in set order when a point lies on a shared edge.
func (j *Joiner) Locate(lon, lat float64) (string, bool, error) {
	p, err := geo.ReprojectPoint(geom.Point{X: lon, Y: lat}, j.toZone)
	if err != nil {
		return "", false, err
	}
	best := -1
	for _, c := range j.tree.SearchIntersect(p.Bounds()) {
		z := c.(*indexedZone)
		if p.Within(z.Polygonal) == geom.Outside {
			continue
		}
		if best < 0 || z.pos < best {
			best = z.pos
		}
	}
	if best < 0 {
		return "", false, nil
	}
	return j.zones.Zones[best].ID, true, nil
}

type tallyKey struct {
	zone string
	date string
}

// Join tallies traps per zone and date. Traps outside every zone are counted
// and logged.
func (j *Joiner) Join(ctx context.Context, traps []domain.TrapRecord) (Result, error) {
	tallies := make(map[tallyKey]*domain.TrapTally)
	var res Result
	for _, tr := range traps {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		zone, ok, err := j.Locate(tr.Lon, tr.Lat)
		if err != nil {
			return Result{}, fmt.Errorf("trap %s: %w", tr.TrapID, err)
		}
		if !ok {
			res.Unmatched++
			j.logger.Debug("trap outside every zone", "trap_id", tr.TrapID, "lon", tr.Lon, "lat", tr.Lat)
			continue
		}
		key := tallyKey{zone: zone, date: domain.FormatDate(tr.Date)}
		t, ok := tallies[key]
		if !ok {
			t = &domain.TrapTally{ZoneID: zone, Date: tr.Date}
			tallies[key] = t
		}
		t.Traps++
		t.Count += tr.Count
	}

	res.Tallies = make([]domain.TrapTally, 0, len(tallies))
	for _, t := range tallies {
		res.Tallies = append(res.Tallies, *t)
	}
	sort.Slice(res.Tallies, func(a, b int) bool {
		if res.Tallies[a].ZoneID != res.Tallies[b].ZoneID {
			return res.Tallies[a].ZoneID < res.Tallies[b].ZoneID
		}
		return res.Tallies[a].Date.Before(res.Tallies[b].Date)
	})
	if res.Unmatched > 0 {
		j.logger.Info("traps outside the zone set", "count", res.Unmatched)
	}
	return res, nil
}
