// Package csv reads and writes the long-format tables exchanged with
// downstream consumers.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
)

// ObservationHeader is the column order of observation tables.
var ObservationHeader = []string{"zone_id", "date", "raw_count", "derived_area", "repair"}

// TrapHeader is the column order of trap input files.
var TrapHeader = []string{"trap_id", "date", "longitude", "latitude", "count"}

// TallyHeader is the column order of per-zone trap tallies.
var TallyHeader = []string{"zone_id", "date", "traps", "count"}

// WriteObservations writes observations to path, sorted by zone then date.
func WriteObservations(path string, obs []domain.Observation) error {
	sorted := append([]domain.Observation(nil), obs...)
	domain.SortObservations(sorted)

	rows := make([][]string, 0, len(sorted))
	for _, o := range sorted {
		repair := o.Repair
		if repair == "" {
			repair = domain.RepairObserved
		}
		rows = append(rows, []string{
			o.ZoneID,
			domain.FormatDate(o.Date),
			formatFloat(o.RawCount),
			formatFloat(o.DerivedArea),
			string(repair),
		})
	}
	return writeAll(path, ObservationHeader, rows)
}

// ReadObservations loads an observation table. A missing repair column reads
// as observed.
func ReadObservations(path string) ([]domain.Observation, error) {
	header, records, err := readAll(path)
	if err != nil {
		return nil, err
	}
	col, err := columns(header, ObservationHeader[:4]...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	repairCol, hasRepair := indexOf(header, "repair")

	out := make([]domain.Observation, 0, len(records))
	for i, rec := range records {
		line := i + 2
		date, err := domain.ParseDate(rec[col["date"]])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		raw, err := strconv.ParseFloat(rec[col["raw_count"]], 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: raw_count: %w", path, line, err)
		}
		area, err := strconv.ParseFloat(rec[col["derived_area"]], 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: derived_area: %w", path, line, err)
		}
		o := domain.Observation{
			ZoneID:      rec[col["zone_id"]],
			Date:        date,
			RawCount:    raw,
			DerivedArea: area,
			Repair:      domain.RepairObserved,
		}
		if hasRepair && rec[repairCol] != "" {
			o.Repair = domain.RepairState(rec[repairCol])
		}
		out = append(out, o)
	}
	return out, nil
}

// ReadTraps loads trap collection records.
func ReadTraps(path string) ([]domain.TrapRecord, error) {
	header, records, err := readAll(path)
	if err != nil {
		return nil, err
	}
	col, err := columns(header, TrapHeader...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	out := make([]domain.TrapRecord, 0, len(records))
	for i, rec := range records {
		line := i + 2
		date, err := domain.ParseDate(rec[col["date"]])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		var vals [3]float64
		for j, name := range []string{"longitude", "latitude", "count"} {
			vals[j], err = strconv.ParseFloat(rec[col[name]], 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: %s: %w", path, line, name, err)
			}
		}
		out = append(out, domain.TrapRecord{
			TrapID: rec[col["trap_id"]],
			Date:   date,
			Lon:    vals[0],
			Lat:    vals[1],
			Count:  vals[2],
		})
	}
	return out, nil
}

// WriteTraps writes trap records in input format.
func WriteTraps(path string, traps []domain.TrapRecord) error {
	rows := make([][]string, 0, len(traps))
	for _, t := range traps {
		rows = append(rows, []string{
			t.TrapID,
			domain.FormatDate(t.Date),
			formatFloat(t.Lon),
			formatFloat(t.Lat),
			formatFloat(t.Count),
		})
	}
	return writeAll(path, TrapHeader, rows)
}

// WriteTallies writes per-zone trap tallies.
func WriteTallies(path string, tallies []domain.TrapTally) error {
	rows := make([][]string, 0, len(tallies))
	for _, t := range tallies {
		rows = append(rows, []string{
			t.ZoneID,
			domain.FormatDate(t.Date),
			strconv.Itoa(t.Traps),
			formatFloat(t.Count),
		})
	}
	return writeAll(path, TallyHeader, rows)
}

func writeAll(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write %s header: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func readAll(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%s: empty file", path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read %s header: %w", path, err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")))
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return header, records, nil
}

func columns(header []string, required ...string) (map[string]int, error) {
	col := make(map[string]int, len(required))
	for _, name := range required {
		i, ok := indexOf(header, name)
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		col[name] = i
	}
	return col, nil
}

func indexOf(header []string, name string) (int, bool) {
	for i, h := range header {
		if h == name {
			return i, true
		}
	}
	return 0, false
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
