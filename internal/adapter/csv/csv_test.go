package csv_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/adapter/csv"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
)

func TestWriteObservations_SortedWithHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "observations_filled.csv")
	d1 := time.Date(2021, 7, 14, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 16)

	err := csv.WriteObservations(path, []domain.Observation{
		{ZoneID: "93304", Date: d1, RawCount: 3, DerivedArea: 0.667, Repair: domain.RepairObserved},
		{ZoneID: "93301", Date: d2, RawCount: 15, DerivedArea: 3.3358, Repair: domain.RepairMidpoint},
		{ZoneID: "93301", Date: d1, RawCount: 10, DerivedArea: 2.2239},
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "zone_id,date,raw_count,derived_area,repair\n" +
		"93301,2021-07-14,10,2.2239,observed\n" +
		"93301,2021-07-30,15,3.3358,midpoint\n" +
		"93304,2021-07-14,3,0.667,observed\n"
	assert.Equal(t, want, string(raw))
}

func TestReadObservations_WithoutRepairColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte("Zone_ID, date ,raw_count,derived_area\n93301,2021-07-14,10.5,2.6\n"), 0o644))

	obs, err := csv.ReadObservations(path)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, domain.Observation{
		ZoneID:      "93301",
		Date:        time.Date(2021, 7, 14, 0, 0, 0, 0, time.UTC),
		RawCount:    10.5,
		DerivedArea: 2.6,
		Repair:      domain.RepairObserved,
	}, obs[0])
}

func TestObservations_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obs.csv")
	in := []domain.Observation{
		{ZoneID: "a", Date: time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC), RawCount: 1.25, DerivedArea: 0.1, Repair: domain.RepairObserved},
		{ZoneID: "a", Date: time.Date(2021, 6, 2, 0, 0, 0, 0, time.UTC), RawCount: 2, DerivedArea: 0.2, Repair: domain.RepairInterpolated},
	}
	require.NoError(t, csv.WriteObservations(path, in))

	out, err := csv.ReadObservations(path)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadObservations_MissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("zone_id,date\n93301,2021-07-14\n"), 0o644))

	_, err := csv.ReadObservations(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raw_count")
}

func TestReadObservations_BadDateReportsLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("zone_id,date,raw_count,derived_area\n93301,2021-07-14,1,1\n93301,14/07/2021,1,1\n"), 0o644))

	_, err := csv.ReadObservations(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestReadTraps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traps.csv")
	require.NoError(t, os.WriteFile(path, []byte("trap_id,date,longitude,latitude,count\nKRN-01,2021-07-06,-119.02,35.37,14\n"), 0o644))

	traps, err := csv.ReadTraps(path)
	require.NoError(t, err)
	require.Len(t, traps, 1)
	assert.Equal(t, "KRN-01", traps[0].TrapID)
	assert.InDelta(t, -119.02, traps[0].Lon, 1e-12)
	assert.InDelta(t, 35.37, traps[0].Lat, 1e-12)
	assert.Equal(t, 14.0, traps[0].Count)
}

func TestWriteTallies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traps_by_zone.csv")
	require.NoError(t, csv.WriteTallies(path, []domain.TrapTally{
		{ZoneID: "93301", Date: time.Date(2021, 7, 6, 0, 0, 0, 0, time.UTC), Traps: 2, Count: 15},
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "zone_id,date,traps,count\n93301,2021-07-06,2,15\n", string(raw))
}
