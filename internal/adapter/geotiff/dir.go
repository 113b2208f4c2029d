package geotiff

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
)

// RasterRef locates one clipped per-date raster.
type RasterRef struct {
	Date time.Time
	Path string
}

// Dir is the directory of clipped per-date rasters shared by the mosaic and
// aggregation stages.
type Dir struct {
	Path   string
	Prefix string
	NoData float64
}

// NewDir creates the directory if needed.
func NewDir(path, prefix string, noData float64) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create raster dir: %w", err)
	}
	return &Dir{Path: path, Prefix: prefix, NoData: noData}, nil
}

// Save writes the clipped raster for date under its deterministic name.
func (d *Dir) Save(_ context.Context, date time.Time, g *domain.Grid) error {
	return Write(filepath.Join(d.Path, domain.RasterName(d.Prefix, date)), g)
}

// List returns the rasters in the directory ordered by date.
func (d *Dir) List() ([]RasterRef, error) {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, fmt.Errorf("list raster dir: %w", err)
	}
	var refs []RasterRef
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		date, ok := domain.ParseRasterName(d.Prefix, e.Name())
		if !ok {
			continue
		}
		refs = append(refs, RasterRef{Date: date, Path: filepath.Join(d.Path, e.Name())})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Date.Before(refs[j].Date) })
	return refs, nil
}

// Load reads one raster from the directory.
func (d *Dir) Load(ref RasterRef) (*domain.Grid, error) {
	return Read(ref.Path, d.NoData)
}

// Reader reads input tiles with a fixed no-data sentinel.
type Reader struct {
	NoData float64
}

// ReadSpec reads a tile's placement without its pixels.
func (r Reader) ReadSpec(path string) (domain.GridSpec, error) {
	return ReadSpec(path)
}

// Read decodes a tile.
func (r Reader) Read(path string) (*domain.Grid, error) {
	return Read(path, r.NoData)
}
