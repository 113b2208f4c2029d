package gapfill_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/gapfill"
)

func day(n int) time.Time {
	return time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func obs(zone string, d int, raw, area float64) domain.Observation {
	return domain.Observation{ZoneID: zone, Date: day(d), RawCount: raw, DerivedArea: area, Repair: domain.RepairObserved}
}

func newFiller(t *testing.T, cal domain.RepairCalendar, policy gapfill.Policy) *gapfill.Filler {
	t.Helper()
	f, err := gapfill.New(cal, policy, slog.Default())
	require.NoError(t, err)
	return f
}

func rawCounts(observations []domain.Observation) []float64 {
	out := make([]float64, len(observations))
	for i, o := range observations {
		out[i] = o.RawCount
	}
	return out
}

func TestFill_MidpointIsMeanOfNeighbours(t *testing.T) {
	f := newFiller(t, domain.RepairCalendar{Midpoint: []time.Time{day(1)}}, gapfill.PolicyReject)

	res, err := f.Fill(context.Background(), []domain.Observation{
		obs("z", 0, 10, 1.0),
		obs("z", 1, 99, 9.9),
		obs("z", 2, 20, 2.0),
	})
	require.NoError(t, err)
	require.Len(t, res.Observations, 3)

	mid := res.Observations[1]
	assert.Equal(t, 15.0, mid.RawCount)
	assert.InDelta(t, 1.5, mid.DerivedArea, 1e-12)
	assert.Equal(t, domain.RepairMidpoint, mid.Repair)
	assert.Equal(t, 1, res.Repairs[domain.RepairMidpoint])
	assert.Equal(t, 2, res.Repairs[domain.RepairObserved])
}

func TestFill_LinearRun(t *testing.T) {
	cal := domain.RepairCalendar{Interpolate: []time.Time{day(1), day(2)}}
	f := newFiller(t, cal, gapfill.PolicyReject)

	// day 1 is absent from the table; day 2 is present with a bad value.
	res, err := f.Fill(context.Background(), []domain.Observation{
		obs("z", 0, 10, 1),
		obs("z", 2, 0, 0),
		obs("z", 3, 40, 4),
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{10, 20, 30, 40}, rawCounts(res.Observations))
	assert.Equal(t, domain.RepairInterpolated, res.Observations[1].Repair)
	assert.Equal(t, domain.RepairInterpolated, res.Observations[2].Repair)
	assert.InDelta(t, 3.0, res.Observations[2].DerivedArea, 1e-12)
}

func TestFill_InterpolationIsTimeWeighted(t *testing.T) {
	f := newFiller(t, domain.RepairCalendar{Interpolate: []time.Time{day(1)}}, gapfill.PolicyReject)

	res, err := f.Fill(context.Background(), []domain.Observation{
		obs("z", 0, 0, 0),
		obs("z", 1, 5, 5),
		obs("z", 4, 8, 8),
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.Observations[1].RawCount)
	assert.InDelta(t, 2.0, res.Observations[1].DerivedArea, 1e-12)
}

func TestFill_CountsRoundedAreasNot(t *testing.T) {
	f := newFiller(t, domain.RepairCalendar{Midpoint: []time.Time{day(1)}}, gapfill.PolicyReject)

	res, err := f.Fill(context.Background(), []domain.Observation{
		obs("z", 0, 10, 0.25),
		obs("z", 1, 0, 0),
		obs("z", 2, 13, 0.5),
	})
	require.NoError(t, err)
	// 11.5 rounds half away from zero.
	assert.Equal(t, 12.0, res.Observations[1].RawCount)
	assert.InDelta(t, 0.375, res.Observations[1].DerivedArea, 1e-12)
}

func TestFill_ObservedValuesUntouched(t *testing.T) {
	f := newFiller(t, domain.RepairCalendar{}, gapfill.PolicyReject)
	in := []domain.Observation{obs("z", 0, 10.4, 1.04), obs("z", 1, 11.6, 1.16)}

	res, err := f.Fill(context.Background(), in)
	require.NoError(t, err)
	if diff := cmp.Diff(in, res.Observations); diff != "" {
		t.Errorf("observed series changed (-want +got):\n%s", diff)
	}
}

func TestFill_DroppedDatesAreAbsent(t *testing.T) {
	f := newFiller(t, domain.RepairCalendar{Drop: []time.Time{day(1)}}, gapfill.PolicyReject)

	res, err := f.Fill(context.Background(), []domain.Observation{
		obs("z", 0, 10, 1),
		obs("z", 1, 0, 0),
		obs("z", 2, 20, 2),
	})
	require.NoError(t, err)
	require.Len(t, res.Observations, 2)
	for _, o := range res.Observations {
		assert.False(t, o.Date.Equal(day(1)), "dropped date must not appear")
	}
}

func TestFill_ZonesAreIndependent(t *testing.T) {
	f := newFiller(t, domain.RepairCalendar{Midpoint: []time.Time{day(1)}}, gapfill.PolicyReject)

	res, err := f.Fill(context.Background(), []domain.Observation{
		obs("b", 0, 100, 10),
		obs("a", 0, 10, 1),
		obs("a", 1, 0, 0),
		obs("b", 1, 0, 0),
		obs("a", 2, 20, 2),
		obs("b", 2, 300, 30),
	})
	require.NoError(t, err)
	require.Len(t, res.Observations, 6)

	assert.Equal(t, "a", res.Observations[1].ZoneID)
	assert.Equal(t, 15.0, res.Observations[1].RawCount)
	assert.Equal(t, "b", res.Observations[4].ZoneID)
	assert.Equal(t, 200.0, res.Observations[4].RawCount)
}

func TestFill_UnderflowAtBoundaryRejected(t *testing.T) {
	f := newFiller(t, domain.RepairCalendar{Interpolate: []time.Time{day(2)}}, gapfill.PolicyReject)

	_, err := f.Fill(context.Background(), []domain.Observation{
		obs("z", 0, 10, 1),
		obs("z", 1, 20, 2),
		obs("z", 2, 0, 0),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gapfill.ErrUnderflow))

	var u gapfill.Underflow
	require.True(t, errors.As(err, &u))
	assert.Equal(t, "z", u.ZoneID)
	assert.True(t, u.Date.Equal(day(2)))
}

func TestFill_UnderflowDropped(t *testing.T) {
	cal := domain.RepairCalendar{Midpoint: []time.Time{day(0)}}
	f := newFiller(t, cal, gapfill.PolicyDrop)

	res, err := f.Fill(context.Background(), []domain.Observation{
		obs("z", 0, 0, 0),
		obs("z", 1, 20, 2),
		obs("z", 2, 30, 3),
	})
	require.NoError(t, err)
	require.Len(t, res.Dropped, 1)
	assert.True(t, res.Dropped[0].Date.Equal(day(0)))
	assert.Equal(t, []float64{20, 30}, rawCounts(res.Observations))
}

func TestFill_AdjacentMidpointsShareObservedNeighbours(t *testing.T) {
	cal := domain.RepairCalendar{Midpoint: []time.Time{day(1), day(2)}}
	f := newFiller(t, cal, gapfill.PolicyReject)

	res, err := f.Fill(context.Background(), []domain.Observation{
		obs("z", 0, 10, 1),
		obs("z", 1, 0, 0),
		obs("z", 2, 0, 0),
		obs("z", 3, 40, 4),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Dropped)
	assert.Equal(t, []float64{10, 25, 25, 40}, rawCounts(res.Observations))
}

func TestFill_MidpointAndInterpolateInOneZone(t *testing.T) {
	tests := []struct {
		name    string
		cal     domain.RepairCalendar
		in      []domain.Observation
		want    []float64
		repairs []domain.RepairState
	}{
		{
			name: "interpolate date absent after midpoint",
			cal:  domain.RepairCalendar{Midpoint: []time.Time{day(13)}, Interpolate: []time.Time{day(19)}},
			in: []domain.Observation{
				obs("z", 0, 10, 1),
				obs("z", 13, 999, 99.9),
				obs("z", 29, 20, 2),
			},
			// midpoint (10+20)/2 = 15 is a knot; day 19 is 6/16 of the way to 20.
			want:    []float64{10, 15, 17, 20},
			repairs: []domain.RepairState{domain.RepairObserved, domain.RepairMidpoint, domain.RepairInterpolated, domain.RepairObserved},
		},
		{
			name: "interpolate date present after midpoint",
			cal:  domain.RepairCalendar{Midpoint: []time.Time{day(13)}, Interpolate: []time.Time{day(19)}},
			in: []domain.Observation{
				obs("z", 0, 10, 1),
				obs("z", 13, 999, 99.9),
				obs("z", 19, 500, 50),
				obs("z", 29, 20, 2),
			},
			want:    []float64{10, 15, 17, 20},
			repairs: []domain.RepairState{domain.RepairObserved, domain.RepairMidpoint, domain.RepairInterpolated, domain.RepairObserved},
		},
		{
			name: "interpolate date absent before midpoint",
			cal:  domain.RepairCalendar{Midpoint: []time.Time{day(2)}, Interpolate: []time.Time{day(1)}},
			in: []domain.Observation{
				obs("z", 0, 10, 1),
				obs("z", 2, 99, 9.9),
				obs("z", 3, 30, 3),
			},
			want:    []float64{10, 15, 20, 30},
			repairs: []domain.RepairState{domain.RepairObserved, domain.RepairInterpolated, domain.RepairMidpoint, domain.RepairObserved},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFiller(t, tt.cal, gapfill.PolicyReject)

			res, err := f.Fill(context.Background(), tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rawCounts(res.Observations))

			got := make([]domain.RepairState, len(res.Observations))
			for i, o := range res.Observations {
				got[i] = o.Repair
			}
			assert.Equal(t, tt.repairs, got)
		})
	}
}

func TestFill_MidpointWithoutObservedSideDropped(t *testing.T) {
	cal := domain.RepairCalendar{Midpoint: []time.Time{day(2)}, Interpolate: []time.Time{day(3)}}
	f := newFiller(t, cal, gapfill.PolicyDrop)

	res, err := f.Fill(context.Background(), []domain.Observation{
		obs("z", 0, 10, 1),
		obs("z", 1, 20, 2),
		obs("z", 2, 0, 0),
		obs("z", 3, 0, 0),
	})
	require.NoError(t, err)
	require.Len(t, res.Dropped, 2)
	assert.True(t, res.Dropped[0].Date.Equal(day(2)))
	assert.Equal(t, []float64{10, 20}, rawCounts(res.Observations))
}

func TestFill_FlaggedDatesOutsideSeriesIgnored(t *testing.T) {
	f := newFiller(t, domain.RepairCalendar{Interpolate: []time.Time{day(10)}}, gapfill.PolicyReject)

	res, err := f.Fill(context.Background(), []domain.Observation{
		obs("z", 0, 10, 1),
		obs("z", 1, 20, 2),
	})
	require.NoError(t, err)
	assert.Len(t, res.Observations, 2)
}

func TestNew_OverlappingCalendarIsConfigError(t *testing.T) {
	_, err := gapfill.New(domain.RepairCalendar{
		Drop:     []time.Time{day(1)},
		Midpoint: []time.Time{day(1)},
	}, gapfill.PolicyReject, slog.Default())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestParsePolicy(t *testing.T) {
	p, err := gapfill.ParsePolicy("drop")
	require.NoError(t, err)
	assert.Equal(t, gapfill.PolicyDrop, p)

	_, err = gapfill.ParsePolicy("ignore")
	assert.True(t, errors.Is(err, domain.ErrConfig))
}
