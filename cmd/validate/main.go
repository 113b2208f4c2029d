// Command validate performs end-to-end integrity checks on the artifacts of a
// preparation run: the zone shapefile, the raw observation table and the
// gap-filled table. It verifies zone geometry, table completeness, value
// bounds and that repairs never rewrite observed values.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -zones data/output/zones.shp \
//	  -filled data/output/observations_filled.csv \
//	  -raw data/output/observations.csv \
//	  -area-unit acre
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/adapter/csv"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/adapter/shapefile"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/geo"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/zonal"
)

// overlapToleranceSqM absorbs floating-point slivers along shared zone edges.
const overlapToleranceSqM = 1.0

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	zonesPath := flag.String("zones", "", "zone shapefile written by the resolve stage")
	filledPath := flag.String("filled", "", "gap-filled observation CSV")
	rawPath := flag.String("raw", "", "raw observation CSV (optional)")
	areaUnit := flag.String("area-unit", "acre", "unit of derived_area: acre, hectare or sqm")
	equalArea := flag.String("equal-area-proj", geo.CONUSAlbers, "equal-area projection for overlap checks")
	flag.Parse()

	if *zonesPath == "" || *filledPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*zonesPath, *filledPath, *rawPath, *areaUnit, *equalArea); code != 0 {
		os.Exit(code)
	}
}

func run(zonesPath, filledPath, rawPath, areaUnit, equalArea string) int {
	fmt.Println("=== Zonal Observation Integrity Validation ===")
	fmt.Println()

	factor, err := zonal.UnitFactor(areaUnit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	zones, err := shapefile.ReadZones(zonesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load zones: %v\n", err)
		return 1
	}
	filled, err := csv.ReadObservations(filledPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load filled table: %v\n", err)
		return 1
	}
	var raw []domain.Observation
	if rawPath != "" {
		if raw, err = csv.ReadObservations(rawPath); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load raw table: %v\n", err)
			return 1
		}
	}

	phases := []*phase{
		validateZones(zones, equalArea),
		validateCompleteness(filled, zones),
		validateBounds(filled, zones, factor),
	}
	if raw != nil {
		phases = append(phases, validateRepairs(filled, raw))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d zones, %d filled rows, %d raw rows\n", len(zones.Zones), len(filled), len(raw))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Zone set ──
// Zone ids are unique and zones do not overlap.

func validateZones(zs domain.ZoneSet, equalArea string) *phase {
	p := &phase{name: "Phase 1: Zone Set (ids, overlap)"}

	if len(zs.Zones) == 0 {
		p.errorf("zone set is empty")
		return p
	}
	seen := make(map[string]bool, len(zs.Zones))
	projected := make([]domain.Zone, 0, len(zs.Zones))
	for _, z := range zs.Zones {
		if seen[z.ID] {
			p.errorf("zone %s appears more than once", z.ID)
		}
		seen[z.ID] = true
		if z.AreaSqM <= 0 {
			p.errorf("zone %s has non-positive area %g", z.ID, z.AreaSqM)
		}
		g, err := geo.Between(z.Geometry, zs.SR, equalArea)
		if err != nil {
			p.errorf("zone %s: %v", z.ID, err)
			continue
		}
		projected = append(projected, domain.Zone{ID: z.ID, Geometry: g})
	}

	for i := range projected {
		for j := i + 1; j < len(projected); j++ {
			a, b := projected[i], projected[j]
			if !a.Geometry.Bounds().Overlaps(b.Geometry.Bounds()) {
				continue
			}
			if isect := geo.Intersect(a.Geometry, b.Geometry); isect != nil && isect.Area() > overlapToleranceSqM {
				p.errorf("zones %s and %s overlap by %.1f m²", a.ID, b.ID, isect.Area())
			}
		}
	}
	return p
}

// ── Phase 2: Completeness ──
// Every zone has exactly one row for every date in the table.

func validateCompleteness(obs []domain.Observation, zs domain.ZoneSet) *phase {
	p := &phase{name: "Phase 2: Completeness (zone × date)"}

	known := make(map[string]bool, len(zs.Zones))
	for _, z := range zs.Zones {
		known[z.ID] = true
	}
	dates := make(domain.DateSet)
	rows := make(map[string]int)
	for _, o := range obs {
		if !known[o.ZoneID] {
			p.errorf("zone %s on %s is not in the zone set", o.ZoneID, domain.FormatDate(o.Date))
		}
		dates[domain.FormatDate(o.Date)] = struct{}{}
		rows[o.ZoneID+"|"+domain.FormatDate(o.Date)]++
	}

	for _, z := range zs.Zones {
		for _, d := range dates.Sorted() {
			key := z.ID + "|" + domain.FormatDate(d)
			switch n := rows[key]; {
			case n == 0:
				p.errorf("zone %s has no row for %s", z.ID, domain.FormatDate(d))
			case n > 1:
				p.errorf("zone %s has %d rows for %s", z.ID, n, domain.FormatDate(d))
			}
		}
	}
	return p
}

// ── Phase 3: Value bounds ──
// Counts and areas are non-negative, repaired counts are whole numbers and no
// derived area exceeds its zone's footprint.

func validateBounds(obs []domain.Observation, zs domain.ZoneSet, unitFactor float64) *phase {
	p := &phase{name: "Phase 3: Value Bounds (counts, areas)"}

	for _, o := range obs {
		key := fmt.Sprintf("zone %s on %s", o.ZoneID, domain.FormatDate(o.Date))
		if o.RawCount < 0 {
			p.errorf("%s: negative raw_count %g", key, o.RawCount)
		}
		if o.DerivedArea < 0 {
			p.errorf("%s: negative derived_area %g", key, o.DerivedArea)
		}
		switch o.Repair {
		case domain.RepairObserved:
		case domain.RepairMidpoint, domain.RepairInterpolated:
			if o.RawCount != math.Round(o.RawCount) {
				p.errorf("%s: repaired raw_count %g is not rounded", key, o.RawCount)
			}
		default:
			p.errorf("%s: unknown repair state %q", key, o.Repair)
		}
		z, ok := zs.Lookup(o.ZoneID)
		if !ok {
			continue
		}
		footprint := z.AreaSqM / unitFactor
		if o.DerivedArea > footprint*(1+1e-6) {
			p.errorf("%s: derived_area %.4f exceeds zone footprint %.4f", key, o.DerivedArea, footprint)
		}
	}
	return p
}

// ── Phase 4: Repairs ──
// Observed rows of the filled table carry the raw values unchanged, and every
// raw row is either kept or sits on a dropped date.

func validateRepairs(filled, raw []domain.Observation) *phase {
	p := &phase{name: "Phase 4: Repairs (filled vs raw)"}

	rawIndex := make(map[string]domain.Observation, len(raw))
	for _, o := range raw {
		rawIndex[o.ZoneID+"|"+domain.FormatDate(o.Date)] = o
	}
	filledDates := make(domain.DateSet)
	for _, o := range filled {
		filledDates[domain.FormatDate(o.Date)] = struct{}{}
		if o.Repair != domain.RepairObserved {
			continue
		}
		key := o.ZoneID + "|" + domain.FormatDate(o.Date)
		r, ok := rawIndex[key]
		if !ok {
			p.errorf("observed row %s has no raw counterpart", key)
			continue
		}
		if r.RawCount != o.RawCount || r.DerivedArea != o.DerivedArea {
			p.errorf("observed row %s changed: raw (%g, %g) filled (%g, %g)", key, r.RawCount, r.DerivedArea, o.RawCount, o.DerivedArea)
		}
	}

	dropped := make(map[string]bool)
	for _, o := range raw {
		if !filledDates.Has(o.Date) {
			dropped[domain.FormatDate(o.Date)] = true
		}
	}
	if len(dropped) > 0 {
		dates := make([]string, 0, len(dropped))
		for d := range dropped {
			dates = append(dates, d)
		}
		sort.Strings(dates)
		fmt.Printf("  note: %d raw dates absent from the filled table (dropped): %v\n", len(dates), dates)
	}
	return p
}
