package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	// DateLayout is the ISO 8601 calendar date used in outputs.
	DateLayout = "2006-01-02"
	// CompactDateLayout is the date form embedded in input tile names.
	CompactDateLayout = "20060102"
)

// tileNameRe matches <tile>_<YYYYMMDD>_<data|mask>.tif.
var tileNameRe = regexp.MustCompile(`^([A-Za-z0-9-]+)_(\d{8})_(data|mask)\.tif$`)

// TileKind distinguishes pixel data from its quality mask.
type TileKind string

const (
	KindData TileKind = "data"
	KindMask TileKind = "mask"
)

// ParseDate parses an ISO calendar date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders t as an ISO calendar date.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseTileName decodes an input tile file name.
func ParseTileName(name string) (tileID string, date time.Time, kind TileKind, ok bool) {
	m := tileNameRe.FindStringSubmatch(name)
	if m == nil {
		return "", time.Time{}, "", false
	}
	d, err := time.Parse(CompactDateLayout, m[2])
	if err != nil {
		return "", time.Time{}, "", false
	}
	return m[1], d, TileKind(m[3]), true
}

// TileName builds the input file name for a tile.
func TileName(tileID string, date time.Time, kind TileKind) string {
	return fmt.Sprintf("%s_%s_%s.tif", tileID, date.UTC().Format(CompactDateLayout), kind)
}

// RasterName builds the deterministic name of a clipped per-date raster.
func RasterName(prefix string, date time.Time) string {
	return fmt.Sprintf("%s_%s.tif", prefix, FormatDate(date))
}

// ParseRasterName extracts the date from a clipped raster name.
func ParseRasterName(prefix, name string) (time.Time, bool) {
	rest, found := strings.CutPrefix(name, prefix+"_")
	if !found {
		return time.Time{}, false
	}
	rest, found = strings.CutSuffix(rest, ".tif")
	if !found {
		return time.Time{}, false
	}
	d, err := time.Parse(DateLayout, rest)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// DateSet is a set of calendar dates keyed by their ISO form.
type DateSet map[string]struct{}

// NewDateSet builds a set from dates.
func NewDateSet(dates ...time.Time) DateSet {
	s := make(DateSet, len(dates))
	for _, d := range dates {
		s[FormatDate(d)] = struct{}{}
	}
	return s
}

// Has reports membership of d.
func (s DateSet) Has(d time.Time) bool {
	_, ok := s[FormatDate(d)]
	return ok
}

// Sorted returns the members in ascending order.
func (s DateSet) Sorted() []time.Time {
	out := make([]time.Time, 0, len(s))
	for k := range s {
		d, err := time.Parse(DateLayout, k)
		if err == nil {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
