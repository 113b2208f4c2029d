package mosaic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/geo"
)

// GridReader decodes raster files.
type GridReader interface {
	ReadSpec(path string) (domain.GridSpec, error)
	Read(path string) (*domain.Grid, error)
}

// Builder turns one work item into a clipped raster.
type Builder struct {
	reader  GridReader
	region  domain.Boundary
	invalid []float64
	logger  *slog.Logger
}

// NewBuilder creates a Builder clipping to region. Mask values listed in
// invalid mark pixels as no-data.
func NewBuilder(reader GridReader, region domain.Boundary, invalid []float64, logger *slog.Logger) *Builder {
	return &Builder{reader: reader, region: region, invalid: invalid, logger: logger}
}

// Build masks every tile of item, merges them in priority order and clips the
// result. Missing or unreadable inputs are per-date data errors.
func (b *Builder) Build(ctx context.Context, item domain.WorkItem) (*domain.Grid, error) {
	date := domain.FormatDate(item.Date)
	if missing := item.Missing(); len(missing) > 0 {
		return nil, domain.DateDataErrorf("date %s missing %s", date, strings.Join(missing, ", "))
	}

	masked := make([]*domain.Grid, 0, len(item.Tiles))
	for _, t := range item.Tiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := b.reader.Read(t.DataPath)
		if err != nil {
			return nil, domain.WrapDateData(err, "date %s tile %s data", date, t.TileID)
		}
		mask, err := b.reader.Read(t.MaskPath)
		if err != nil {
			return nil, domain.WrapDateData(err, "date %s tile %s mask", date, t.TileID)
		}
		m, err := Mask(data, mask, b.invalid)
		if err != nil {
			return nil, fmt.Errorf("date %s tile %s: %w", date, t.TileID, err)
		}
		b.logger.Debug("tile masked", "date", date, "tile", t.TileID, "valid_pixels", m.CountValid())
		masked = append(masked, m)
	}

	merged, err := Merge(masked...)
	if err != nil {
		return nil, fmt.Errorf("date %s merge: %w", date, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clipped, err := Clip(merged, b.region)
	if err != nil {
		return nil, fmt.Errorf("date %s clip: %w", date, err)
	}
	return clipped, nil
}

// Preflight reads only the headers of every tile in items and verifies that
// all tiles of all dates can be merged. It returns the first configuration
// error found, including a clip region that cannot be projected into the
// tiles' reference. Unreadable headers are left for Build to report per date.
func (b *Builder) Preflight(ctx context.Context, items []domain.WorkItem) error {
	var specs []domain.GridSpec
	for _, item := range items {
		for _, t := range item.Tiles {
			if err := ctx.Err(); err != nil {
				return err
			}
			if t.DataPath == "" {
				continue
			}
			spec, err := b.reader.ReadSpec(t.DataPath)
			if err != nil {
				if isConfig(err) {
					return fmt.Errorf("preflight %s: %w", t.DataPath, err)
				}
				b.logger.Warn("preflight could not read tile header", "path", t.DataPath, "error", err)
				continue
			}
			specs = append(specs, spec)
		}
	}
	if err := CheckCompatible(specs...); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	if len(specs) > 0 {
		if _, err := geo.Between(b.region.Geometry, b.region.SR, specs[0].SR); err != nil {
			return fmt.Errorf("preflight: project clip region into tile reference: %w", err)
		}
	}
	return nil
}

func isConfig(err error) bool {
	return errors.Is(err, domain.ErrConfig)
}
