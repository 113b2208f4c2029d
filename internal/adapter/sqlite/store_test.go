package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/adapter/sqlite"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "observations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func date(day int) time.Time {
	return time.Date(2021, 7, day, 0, 0, 0, 0, time.UTC)
}

func TestStore_UpsertReplacesByZoneAndDate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []domain.Observation{
		{ZoneID: "93304", Date: date(14), RawCount: 3, DerivedArea: 0.6},
		{ZoneID: "93301", Date: date(14), RawCount: 10, DerivedArea: 2.2},
	}))
	// A re-run of the same date overwrites rather than duplicates.
	require.NoError(t, s.Upsert(ctx, []domain.Observation{
		{ZoneID: "93301", Date: date(14), RawCount: 11, DerivedArea: 2.4},
		{ZoneID: "93301", Date: date(30), RawCount: 7, DerivedArea: 1.5},
	}))

	got, err := s.Observations(ctx)
	require.NoError(t, err)
	want := []domain.Observation{
		{ZoneID: "93301", Date: date(14), RawCount: 11, DerivedArea: 2.4, Repair: domain.RepairObserved},
		{ZoneID: "93301", Date: date(30), RawCount: 7, DerivedArea: 1.5, Repair: domain.RepairObserved},
		{ZoneID: "93304", Date: date(14), RawCount: 3, DerivedArea: 0.6, Repair: domain.RepairObserved},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("observations mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_ReplaceRepaired(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceRepaired(ctx, []domain.Observation{
		{ZoneID: "old", Date: date(1), Repair: domain.RepairObserved},
	}))
	require.NoError(t, s.ReplaceRepaired(ctx, []domain.Observation{
		{ZoneID: "93301", Date: date(14), RawCount: 15, DerivedArea: 3.3, Repair: domain.RepairMidpoint},
	}))

	got, err := s.Repaired(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "93301", got[0].ZoneID)
	assert.Equal(t, domain.RepairMidpoint, got[0].Repair)
}

func TestStore_LastUpdated(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	ts, err := s.LastUpdated(ctx)
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	fixed := time.Date(2024, 4, 27, 6, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(fixed))
	defer domain.SetClock(nil)

	require.NoError(t, s.Upsert(ctx, []domain.Observation{{ZoneID: "a", Date: date(1)}}))
	ts, err = s.LastUpdated(ctx)
	require.NoError(t, err)
	assert.True(t, ts.Equal(fixed))
}
