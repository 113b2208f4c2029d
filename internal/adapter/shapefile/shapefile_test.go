package shapefile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
)

const testSR = "+proj=utm +zone=11 +datum=WGS84 +units=m +no_defs"

func rect(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{
		{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0},
	}}
}

func TestZones_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.shp")
	zs := domain.ZoneSet{SR: testSR, Zones: []domain.Zone{
		{ID: "93301", AreaSqM: 3e6, Geometry: rect(0, 0, 1500, 2000)},
		{ID: "93304", AreaSqM: 4e6, Geometry: rect(1500, 0, 3500, 2000)},
	}}
	require.NoError(t, WriteZones(path, zs))

	got, err := ReadZones(path)
	require.NoError(t, err)
	assert.Equal(t, testSR, got.SR)
	require.Len(t, got.Zones, 2)
	assert.Equal(t, []string{"93301", "93304"}, got.IDs())
	assert.InDelta(t, 3e6, got.Zones[0].AreaSqM, 1e-6)
	assert.InDelta(t, 4e6, got.Zones[1].AreaSqM, 1e-6)
	assert.InDelta(t, 3e6, got.Zones[0].Geometry.Area(), 1e-6)
}

func TestBoundary_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boundary.shp")
	region := geom.MultiPolygon{rect(0, 0, 10, 10), rect(20, 0, 30, 10)}
	require.NoError(t, WriteBoundary(path, domain.Boundary{SR: testSR, Geometry: region}))

	got, err := ReadBoundary(path)
	require.NoError(t, err)
	assert.Equal(t, testSR, got.SR)
	assert.InDelta(t, 200, got.Geometry.Area(), 1e-9)
}

func TestReadLayer_Fields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.shp")
	require.NoError(t, WriteZones(path, domain.ZoneSet{SR: testSR, Zones: []domain.Zone{
		{ID: "93305", AreaSqM: 1, Geometry: rect(0, 0, 1, 1)},
	}}))

	layer, err := ReadLayer(path, fieldZoneID)
	require.NoError(t, err)
	require.Len(t, layer.Features, 1)
	assert.Equal(t, "93305", layer.Features[0].Fields[fieldZoneID])
	_, hasArea := layer.Features[0].Fields[fieldAreaSqM]
	assert.False(t, hasArea, "only requested fields are kept")
}

func TestReadLayer_MissingInputsAreConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadLayer(filepath.Join(dir, "absent.shp"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))

	path := filepath.Join(dir, "noprj.shp")
	require.NoError(t, WriteZones(path, domain.ZoneSet{SR: testSR, Zones: []domain.Zone{
		{ID: "1", AreaSqM: 1, Geometry: rect(0, 0, 1, 1)},
	}}))
	require.NoError(t, os.Remove(PrjPath(path)))

	_, err = ReadLayer(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
	assert.Contains(t, err.Error(), "spatial reference")
}

func TestCleanField(t *testing.T) {
	assert.Equal(t, "93301", cleanField("93301\x00\x00  "))
	assert.Equal(t, "", cleanField("****"))
}
