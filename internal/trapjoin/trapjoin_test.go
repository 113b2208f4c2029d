package trapjoin_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/geo"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/trapjoin"
)

func rect(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{
		{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0},
	}}
}

func testZones() domain.ZoneSet {
	return domain.ZoneSet{SR: geo.WGS84, Zones: []domain.Zone{
		{ID: "93301", Geometry: rect(-119.1, 35.3, -119.0, 35.4)},
		{ID: "93304", Geometry: rect(-119.0, 35.3, -118.9, 35.4)},
	}}
}

func TestJoin_TalliesPerZoneAndDate(t *testing.T) {
	j, err := trapjoin.NewJoiner(testZones(), slog.Default())
	require.NoError(t, err)

	d1 := time.Date(2021, 7, 6, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 7)
	res, err := j.Join(context.Background(), []domain.TrapRecord{
		{TrapID: "T1", Date: d1, Lon: -119.05, Lat: 35.35, Count: 12},
		{TrapID: "T2", Date: d1, Lon: -119.02, Lat: 35.31, Count: 3},
		{TrapID: "T3", Date: d1, Lon: -118.95, Lat: 35.35, Count: 7},
		{TrapID: "T1", Date: d2, Lon: -119.05, Lat: 35.35, Count: 4},
		{TrapID: "T9", Date: d2, Lon: -120.00, Lat: 36.00, Count: 50},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Unmatched)
	require.Len(t, res.Tallies, 3)
	assert.Equal(t, domain.TrapTally{ZoneID: "93301", Date: d1, Traps: 2, Count: 15}, res.Tallies[0])
	assert.Equal(t, domain.TrapTally{ZoneID: "93301", Date: d2, Traps: 1, Count: 4}, res.Tallies[1])
	assert.Equal(t, domain.TrapTally{ZoneID: "93304", Date: d1, Traps: 1, Count: 7}, res.Tallies[2])
}

func TestLocate_Outside(t *testing.T) {
	j, err := trapjoin.NewJoiner(testZones(), slog.Default())
	require.NoError(t, err)

	_, ok, err := j.Locate(0, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}
