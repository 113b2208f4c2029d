// Command genmock writes a small deterministic study area for local runs and
// smoke tests: county, basin and ZIP boundary layers, two adjacent satellite
// tiles with quality masks for each acquisition date, a repair calendar and a
// trap collection CSV. Everything is laid out in UTM zone 11N over a synthetic
// 8 km by 5 km county.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock \
//	  -dates 2021-07-01,2021-07-09,2021-07-17,2021-07-25,2021-08-02
//
// Point the pipeline at the result with INPUT_DIR=data/mock/tiles,
// COUNTY_SHP=data/mock/layers/county.shp and so on; the command prints the
// full environment when it finishes.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"gopkg.in/yaml.v3"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/adapter/csv"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/adapter/geotiff"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/adapter/shapefile"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/geo"
)

const (
	mockSR = "+proj=utm +zone=11 +datum=WGS84 +units=m +no_defs"

	// Upper-left corner of tile h01; h02 sits directly east of it.
	originX   = 300000.0
	originY   = 3920000.0
	pixelSize = 30.0
	tileSize  = 100 // pixels per side

	noData     = 65535
	maskClear  = 0
	maskCloudy = 1
)

// Layer records. Field names become dBase column names.
type countyRecord struct {
	geom.Polygon
	NAME string
}

type basinRecord struct {
	geom.Polygon
	BASIN string
}

type zipRecord struct {
	geom.Polygon
	ZCTA5CE10 string
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/mock", "output directory")
	dateList := flag.String("dates", "2021-07-01,2021-07-09,2021-07-17,2021-07-25,2021-08-02", "comma-separated acquisition dates")
	seed := flag.Int64("seed", 1, "random seed for water and cloud patterns")
	flag.Parse()

	dates, err := parseDates(*dateList)
	if err != nil {
		return err
	}
	if len(dates) < 3 {
		return fmt.Errorf("need at least 3 dates, got %d", len(dates))
	}

	layersDir := filepath.Join(*out, "layers")
	tilesDir := filepath.Join(*out, "tiles")
	for _, dir := range []string{layersDir, tilesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	if err := writeLayers(layersDir); err != nil {
		return fmt.Errorf("writing layers: %w", err)
	}
	log.Printf("wrote boundary layers: %s", layersDir)

	rng := rand.New(rand.NewSource(*seed))
	// The middle date loses its h02 mask so the run reports one skipped date.
	skipped := dates[len(dates)/2]
	for i, d := range dates {
		if err := writeTiles(tilesDir, d, i, rng, d.Equal(skipped)); err != nil {
			return fmt.Errorf("writing tiles for %s: %w", domain.FormatDate(d), err)
		}
	}
	log.Printf("wrote %d dates of tiles: %s", len(dates), tilesDir)

	calendarPath := filepath.Join(*out, "calendar.yaml")
	if err := writeCalendar(calendarPath, dates); err != nil {
		return fmt.Errorf("writing calendar: %w", err)
	}
	log.Printf("wrote repair calendar: %s", calendarPath)

	trapsPath := filepath.Join(*out, "traps.csv")
	traps, err := mockTraps(dates)
	if err != nil {
		return fmt.Errorf("building traps: %w", err)
	}
	if err := csv.WriteTraps(trapsPath, traps); err != nil {
		return fmt.Errorf("writing traps: %w", err)
	}
	log.Printf("wrote %d trap collections: %s", len(traps), trapsPath)

	printEnv(*out)
	return nil
}

func parseDates(list string) ([]time.Time, error) {
	var dates []time.Time
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		d, err := domain.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", s, err)
		}
		dates = append(dates, d)
	}
	return domain.NewDateSet(dates...).Sorted(), nil
}

func rect(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{
		{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0},
	}}
}

// writeLayers lays out one target county and a neighbour, a basin crossing the
// county line and four ZIP codes. ZIP 93399 only touches the region along a
// thin strip and is discarded as a sliver at the default minimum area.
func writeLayers(dir string) error {
	counties := []countyRecord{
		{Polygon: rect(299000, 3915000, 307000, 3920000), NAME: "Kern"},
		{Polygon: rect(307000, 3915000, 312000, 3920000), NAME: "Tulare"},
	}
	if err := writeLayer(filepath.Join(dir, "county.shp"), countyRecord{}, counties); err != nil {
		return err
	}

	basins := []basinRecord{
		{Polygon: rect(300500, 3917000, 308000, 3919500), BASIN: "Kern County Subbasin"},
	}
	if err := writeLayer(filepath.Join(dir, "basin.shp"), basinRecord{}, basins); err != nil {
		return err
	}

	zips := []zipRecord{
		{Polygon: rect(299000, 3915000, 302000, 3920000), ZCTA5CE10: "93301"},
		{Polygon: rect(302000, 3915000, 304000, 3920000), ZCTA5CE10: "93304"},
		{Polygon: rect(304000, 3915000, 306900, 3920000), ZCTA5CE10: "93305"},
		{Polygon: rect(306900, 3915000, 309000, 3920000), ZCTA5CE10: "93399"},
	}
	return writeLayer(filepath.Join(dir, "zip.shp"), zipRecord{}, zips)
}

func writeLayer[T any](path string, archetype T, records []T) error {
	enc, err := shp.NewEncoder(path, archetype)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			enc.Close()
			return fmt.Errorf("encode %s record %d: %w", path, i, err)
		}
	}
	enc.Close()
	return os.WriteFile(shapefile.PrjPath(path), []byte(mockSR+"\n"), 0o644)
}

func tileSpec(index int) domain.GridSpec {
	return domain.GridSpec{
		Cols:        tileSize,
		Rows:        tileSize,
		OriginX:     originX + float64(index*tileSize)*pixelSize,
		OriginY:     originY,
		PixelWidth:  pixelSize,
		PixelHeight: pixelSize,
		SR:          mockSR,
	}
}

// writeTiles writes data and mask rasters for both tiles on one date. Water is
// a disc that grows with the date index, and each tile gets a few random cloud
// patches in its mask.
func writeTiles(dir string, date time.Time, index int, rng *rand.Rand, dropMask bool) error {
	centreX := originX + float64(tileSize)*pixelSize
	centreY := originY - float64(tileSize)*pixelSize/2
	radius := 600 + 150*float64(index)

	for t, id := range []string{"h01", "h02"} {
		spec := tileSpec(t)
		data := domain.NewGrid(spec, noData)
		mask := domain.NewGrid(spec, noData)
		for row := 0; row < spec.Rows; row++ {
			for col := 0; col < spec.Cols; col++ {
				c := spec.PixelCenter(col, row)
				water := 0.0
				if math.Hypot(c.X-centreX, c.Y-centreY) <= radius {
					water = 1
				}
				data.Set(col, row, water)
				mask.Set(col, row, maskClear)
			}
		}
		for patch := 0; patch < 3; patch++ {
			c0, r0 := rng.Intn(tileSize-10), rng.Intn(tileSize-10)
			for row := r0; row < r0+8; row++ {
				for col := c0; col < c0+8; col++ {
					mask.Set(col, row, maskCloudy)
				}
			}
		}

		if err := geotiff.Write(filepath.Join(dir, domain.TileName(id, date, domain.KindData)), data); err != nil {
			return err
		}
		if dropMask && id == "h02" {
			continue
		}
		if err := geotiff.Write(filepath.Join(dir, domain.TileName(id, date, domain.KindMask)), mask); err != nil {
			return err
		}
	}
	return nil
}

// writeCalendar flags the second date for midpoint repair and the
// second-to-last for interpolation.
func writeCalendar(path string, dates []time.Time) error {
	cal := struct {
		Midpoint    []string `yaml:"midpoint"`
		Interpolate []string `yaml:"interpolate"`
	}{
		Midpoint:    []string{domain.FormatDate(dates[1])},
		Interpolate: []string{domain.FormatDate(dates[len(dates)-2])},
	}
	if cal.Midpoint[0] == cal.Interpolate[0] {
		cal.Interpolate = nil
	}
	raw, err := yaml.Marshal(cal)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// mockTraps places three traps, one per surviving ZIP zone, and records a
// collection at each on every date.
func mockTraps(dates []time.Time) ([]domain.TrapRecord, error) {
	toWGS84, err := geo.NewTransform(mockSR, geo.WGS84)
	if err != nil {
		return nil, err
	}
	sites := []struct {
		id string
		at geom.Point
	}{
		{"KERN-001", geom.Point{X: 301200, Y: 3918200}},
		{"KERN-002", geom.Point{X: 303100, Y: 3918500}},
		{"KERN-003", geom.Point{X: 305000, Y: 3917800}},
	}
	traps := make([]domain.TrapRecord, 0, len(sites)*len(dates))
	for i, d := range dates {
		for j, s := range sites {
			ll, err := geo.ReprojectPoint(s.at, toWGS84)
			if err != nil {
				return nil, err
			}
			traps = append(traps, domain.TrapRecord{
				TrapID: s.id,
				Date:   d,
				Lon:    ll.X,
				Lat:    ll.Y,
				Count:  float64(5*(i+1) + 3*j),
			})
		}
	}
	return traps, nil
}

func printEnv(out string) {
	fmt.Println("\n=== Environment for a mock run ===")
	fmt.Printf("INPUT_DIR=%s\n", filepath.Join(out, "tiles"))
	fmt.Printf("COUNTY_SHP=%s\n", filepath.Join(out, "layers", "county.shp"))
	fmt.Println("COUNTY_NAME=Kern")
	fmt.Printf("BASIN_SHP=%s\n", filepath.Join(out, "layers", "basin.shp"))
	fmt.Printf("ZIP_SHP=%s\n", filepath.Join(out, "layers", "zip.shp"))
	fmt.Printf("GAPFILL_CALENDAR_FILE=%s\n", filepath.Join(out, "calendar.yaml"))
	fmt.Printf("TRAPS_CSV=%s\n", filepath.Join(out, "traps.csv"))
	fmt.Println("QUALIFYING_VALUES=1")
	fmt.Printf("NODATA_VALUE=%d\n", noData)
}
