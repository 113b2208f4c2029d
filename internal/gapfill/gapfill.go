// Package gapfill repairs per-zone time series on known-bad acquisition dates.
//
// Every (zone, date) entry starts observed. Membership of its date in the
// repair calendar moves it to flagged-midpoint, flagged-missing or dropped.
// One pass resolves every flagged entry to a filled value, and dropped dates
// leave the series entirely. Zones never share data.
//
// Midpoints take the mean of the nearest observed entries on each side.
// Interpolation is linear in calendar days between known values, so a run
// such as 10, NA, NA, 40 fills to 20, 30 only when the dates are evenly
// spaced; uneven acquisition gaps weight the fill by elapsed time.
package gapfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/interp"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
)

// ErrUnderflow marks a flagged entry that lacks the neighbours its repair needs.
var ErrUnderflow = errors.New("gap-fill underflow")

// Policy decides what happens to an entry that cannot be repaired.
type Policy string

const (
	// PolicyReject fails the run on the first underflow.
	PolicyReject Policy = "reject"
	// PolicyDrop removes the entry and records it in the result.
	PolicyDrop Policy = "drop"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyReject, PolicyDrop:
		return Policy(s), nil
	default:
		return "", domain.ConfigErrorf("unknown underflow policy %q (want reject or drop)", s)
	}
}

// state is the repair state of one series entry.
type state int

const (
	stateObserved state = iota
	stateFlaggedMidpoint
	stateFlaggedMissing
	stateFilledMidpoint
	stateFilledInterpolated
	stateUnderflow
)

// Underflow records an entry that could not be repaired.
type Underflow struct {
	ZoneID string
	Date   time.Time
	Reason string
}

func (u Underflow) Error() string {
	return fmt.Sprintf("zone %s date %s: %s", u.ZoneID, domain.FormatDate(u.Date), u.Reason)
}

// Result is the repaired table.
type Result struct {
	Observations []domain.Observation // sorted by zone, then date
	Dropped      []Underflow          // entries removed by PolicyDrop
	Repairs      map[domain.RepairState]int
}

// Filler applies a repair calendar to observation tables.
type Filler struct {
	calendar domain.RepairCalendar
	policy   Policy
	logger   *slog.Logger
}

// New creates a Filler. The calendar must be valid.
func New(calendar domain.RepairCalendar, policy Policy, logger *slog.Logger) (*Filler, error) {
	if err := calendar.Validate(); err != nil {
		return nil, err
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	return &Filler{calendar: calendar, policy: policy, logger: logger}, nil
}

// Fill repairs every zone's series independently.
func (f *Filler) Fill(ctx context.Context, obs []domain.Observation) (Result, error) {
	drop := domain.NewDateSet(f.calendar.Drop...)
	midpoint := domain.NewDateSet(f.calendar.Midpoint...)
	missing := domain.NewDateSet(f.calendar.Interpolate...)

	res := Result{Repairs: make(map[domain.RepairState]int)}
	ids, groups := domain.GroupByZone(obs)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		s := newSeries(id, groups[id], drop, midpoint, missing)
		s.fillMidpoints()
		s.interpolate()

		for _, u := range s.underflows() {
			if f.policy == PolicyReject {
				return Result{}, fmt.Errorf("%w: %w", ErrUnderflow, u)
			}
			f.logger.Warn("dropping unrepairable entry", "zone_id", u.ZoneID, "date", domain.FormatDate(u.Date), "reason", u.Reason)
			res.Dropped = append(res.Dropped, u)
		}
		for _, o := range s.observations() {
			res.Repairs[o.Repair]++
			res.Observations = append(res.Observations, o)
		}
	}
	return res, nil
}

type entry struct {
	obs    domain.Observation
	state  state
	reason string
}

// series is one zone's entries ordered by date with dropped dates removed.
type series struct {
	zoneID  string
	entries []entry
}

func newSeries(zoneID string, obs []domain.Observation, drop, midpoint, missing domain.DateSet) *series {
	s := &series{zoneID: zoneID}
	seen := make(domain.DateSet, len(obs))
	for _, o := range obs {
		if drop.Has(o.Date) {
			continue
		}
		e := entry{obs: o, state: classify(o.Date, midpoint, missing)}
		e.obs.Repair = domain.RepairObserved
		if seen.Has(o.Date) {
			// later rows for the same date replace earlier ones
			s.entries[len(s.entries)-1] = e
			continue
		}
		seen[domain.FormatDate(o.Date)] = struct{}{}
		s.entries = append(s.entries, e)
	}
	if len(s.entries) == 0 {
		return s
	}

	// Flagged dates inside the series span that no raster produced become
	// missing entries to be filled.
	first, last := s.entries[0].obs.Date, s.entries[len(s.entries)-1].obs.Date
	var inserted []entry
	for _, set := range []domain.DateSet{midpoint, missing} {
		for _, d := range set.Sorted() {
			if seen.Has(d) || d.Before(first) || d.After(last) {
				continue
			}
			inserted = append(inserted, entry{
				obs:   domain.Observation{ZoneID: zoneID, Date: d},
				state: classify(d, midpoint, missing),
			})
			seen[domain.FormatDate(d)] = struct{}{}
		}
	}
	if len(inserted) > 0 {
		s.entries = mergeByDate(s.entries, inserted)
	}
	return s
}

func classify(d time.Time, midpoint, missing domain.DateSet) state {
	switch {
	case midpoint.Has(d):
		return stateFlaggedMidpoint
	case missing.Has(d):
		return stateFlaggedMissing
	default:
		return stateObserved
	}
}

func mergeByDate(a, b []entry) []entry {
	all := make([]entry, 0, len(a)+len(b))
	all = append(append(all, a...), b...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].obs.Date.Before(all[j].obs.Date) })
	return all
}

// fillMidpoints replaces flagged-midpoint entries with the mean of the
// nearest observed entries on either side. Flagged entries, whether present in
// the table or inserted for a date with no raster, never serve as neighbours.
func (s *series) fillMidpoints() {
	for i := range s.entries {
		e := &s.entries[i]
		if e.state != stateFlaggedMidpoint {
			continue
		}
		prev, okPrev := s.observedBefore(i)
		next, okNext := s.observedAfter(i)
		if !okPrev || !okNext {
			e.state, e.reason = stateUnderflow, "midpoint has no observed value on both sides"
			continue
		}
		e.obs.RawCount = (prev.obs.RawCount + next.obs.RawCount) / 2
		e.obs.DerivedArea = (prev.obs.DerivedArea + next.obs.DerivedArea) / 2
		e.state = stateFilledMidpoint
	}
}

func (s *series) observedBefore(i int) (entry, bool) {
	for j := i - 1; j >= 0; j-- {
		if s.entries[j].state == stateObserved {
			return s.entries[j], true
		}
	}
	return entry{}, false
}

func (s *series) observedAfter(i int) (entry, bool) {
	for j := i + 1; j < len(s.entries); j++ {
		if s.entries[j].state == stateObserved {
			return s.entries[j], true
		}
	}
	return entry{}, false
}

// interpolate fills flagged-missing entries piecewise-linearly in time between
// the nearest observed or midpoint-filled entries.
func (s *series) interpolate() {
	var xs, raw, area []float64
	for _, e := range s.entries {
		if e.state == stateObserved || e.state == stateFilledMidpoint {
			xs = append(xs, dayNumber(e.obs.Date))
			raw = append(raw, e.obs.RawCount)
			area = append(area, e.obs.DerivedArea)
		}
	}

	var rawFit, areaFit interp.PiecewiseLinear
	fitted := len(xs) >= 2 && rawFit.Fit(xs, raw) == nil && areaFit.Fit(xs, area) == nil

	for i := range s.entries {
		e := &s.entries[i]
		if e.state != stateFlaggedMissing {
			continue
		}
		x := dayNumber(e.obs.Date)
		if !fitted || x < xs[0] || x > xs[len(xs)-1] {
			e.state, e.reason = stateUnderflow, "no known value on both sides"
			continue
		}
		e.obs.RawCount = rawFit.Predict(x)
		e.obs.DerivedArea = areaFit.Predict(x)
		e.state = stateFilledInterpolated
	}
}

func (s *series) underflows() []Underflow {
	var out []Underflow
	for _, e := range s.entries {
		if e.state == stateUnderflow {
			out = append(out, Underflow{ZoneID: s.zoneID, Date: e.obs.Date, Reason: e.reason})
		}
	}
	return out
}

// observations returns the terminal series. Counts of repaired entries are
// rounded; areas never are.
func (s *series) observations() []domain.Observation {
	out := make([]domain.Observation, 0, len(s.entries))
	for _, e := range s.entries {
		o := e.obs
		switch e.state {
		case stateObserved:
			o.Repair = domain.RepairObserved
		case stateFilledMidpoint:
			o.Repair = domain.RepairMidpoint
			o.RawCount = math.Round(o.RawCount)
		case stateFilledInterpolated:
			o.Repair = domain.RepairInterpolated
			o.RawCount = math.Round(o.RawCount)
		default:
			continue
		}
		out = append(out, o)
	}
	return out
}

func dayNumber(t time.Time) float64 {
	return float64(t.Unix()) / 86400
}
