// Package geotiff reads and writes single-band rasters as TIFF images with a
// world file (.tfw) and a spatial-reference sidecar (.prj).
package geotiff

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
)

// maxValue is the largest value a 16-bit sample can hold.
const maxValue = math.MaxUint16

func fitsSample(v float64) bool {
	return v >= 0 && v <= maxValue && v == math.Trunc(v)
}

// WorldFilePath returns the .tfw sidecar path of a raster.
func WorldFilePath(path string) string {
	return strings.TrimSuffix(path, ".tif") + ".tfw"
}

// PrjPath returns the .prj sidecar path of a raster.
func PrjPath(path string) string {
	return strings.TrimSuffix(path, ".tif") + ".prj"
}

// ReadSpec reads only the sidecars and the TIFF header, without pixel data.
func ReadSpec(path string) (domain.GridSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.GridSpec{}, fmt.Errorf("open raster: %w", err)
	}
	defer f.Close()

	cfg, err := tiff.DecodeConfig(f)
	if err != nil {
		return domain.GridSpec{}, fmt.Errorf("decode tiff header %s: %w", path, err)
	}
	spec, err := readSidecars(path)
	if err != nil {
		return domain.GridSpec{}, err
	}
	spec.Cols = cfg.Width
	spec.Rows = cfg.Height
	return spec, nil
}

// Read decodes a raster. Pixels equal to noData are kept as the grid's sentinel.
func Read(path string, noData float64) (*domain.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raster: %w", err)
	}
	defer f.Close()

	img, err := tiff.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("decode tiff %s: %w", path, err)
	}
	spec, err := readSidecars(path)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	spec.Cols = b.Dx()
	spec.Rows = b.Dy()
	g := domain.NewGrid(spec, noData)

	for row := 0; row < spec.Rows; row++ {
		for col := 0; col < spec.Cols; col++ {
			g.Set(col, row, sample(img, b.Min.X+col, b.Min.Y+row))
		}
	}
	return g, nil
}

func sample(img image.Image, x, y int) float64 {
	switch im := img.(type) {
	case *image.Gray16:
		return float64(im.Gray16At(x, y).Y)
	case *image.Gray:
		return float64(im.GrayAt(x, y).Y)
	case *image.Paletted:
		return float64(im.ColorIndexAt(x, y))
	default:
		return float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
	}
}

// Write encodes g as a 16-bit grayscale TIFF with its sidecars. Every valid
// value and the no-data value must be an integer in 0..65535; anything else
// is rejected rather than rounded.
func Write(path string, g *domain.Grid) error {
	if !fitsSample(g.NoData) {
		return fmt.Errorf("write raster %s: no-data %g does not fit a 16-bit sample", path, g.NoData)
	}

	img := image.NewGray16(image.Rect(0, 0, g.Cols, g.Rows))
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			v := g.At(col, row)
			if !g.Valid(v) {
				v = g.NoData
			} else if !fitsSample(v) {
				return fmt.Errorf("write raster %s: value %g at (%d,%d) does not fit a 16-bit sample", path, v, col, row)
			}
			img.SetGray16(col, row, color.Gray16{Y: uint16(v)})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create raster: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		f.Close()
		return fmt.Errorf("encode tiff %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write raster %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close raster %s: %w", path, err)
	}
	return writeSidecars(path, g.GridSpec)
}

// readSidecars parses the world file and .prj of a raster.
//
// World file lines: A (pixel width), D (row rotation), B (column rotation),
// E (negative pixel height), C and F (centre of the upper-left pixel).
func readSidecars(path string) (domain.GridSpec, error) {
	raw, err := os.ReadFile(WorldFilePath(path))
	if err != nil {
		return domain.GridSpec{}, fmt.Errorf("read world file: %w", err)
	}
	fields := strings.Fields(string(raw))
	if len(fields) != 6 {
		return domain.GridSpec{}, fmt.Errorf("world file %s: expected 6 values, got %d", WorldFilePath(path), len(fields))
	}
	var v [6]float64
	for i, s := range fields {
		v[i], err = strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.GridSpec{}, fmt.Errorf("world file %s line %d: %w", WorldFilePath(path), i+1, err)
		}
	}
	a, d, b, e, c, fy := v[0], v[1], v[2], v[3], v[4], v[5]
	if d != 0 || b != 0 {
		return domain.GridSpec{}, domain.ConfigErrorf("world file %s: rotated rasters are not supported", WorldFilePath(path))
	}
	if a <= 0 || e >= 0 {
		return domain.GridSpec{}, domain.ConfigErrorf("world file %s: raster must be north-up with positive pixel width", WorldFilePath(path))
	}

	prj, err := os.ReadFile(PrjPath(path))
	if err != nil {
		return domain.GridSpec{}, fmt.Errorf("read spatial reference: %w", err)
	}
	sr := strings.TrimSpace(string(prj))
	if sr == "" {
		return domain.GridSpec{}, domain.ConfigErrorf("%s: empty spatial reference", PrjPath(path))
	}

	return domain.GridSpec{
		OriginX:     c - a/2,
		OriginY:     fy - e/2,
		PixelWidth:  a,
		PixelHeight: -e,
		SR:          sr,
	}, nil
}

func writeSidecars(path string, spec domain.GridSpec) error {
	world := fmt.Sprintf("%s\n0\n0\n%s\n%s\n%s\n",
		formatFloat(spec.PixelWidth),
		formatFloat(-spec.PixelHeight),
		formatFloat(spec.OriginX+spec.PixelWidth/2),
		formatFloat(spec.OriginY-spec.PixelHeight/2),
	)
	if err := os.WriteFile(WorldFilePath(path), []byte(world), 0o644); err != nil {
		return fmt.Errorf("write world file: %w", err)
	}
	if err := os.WriteFile(PrjPath(path), []byte(spec.SR+"\n"), 0o644); err != nil {
		return fmt.Errorf("write spatial reference: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
