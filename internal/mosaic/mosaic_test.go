package mosaic_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/mosaic"
)

const (
	testSR = "+proj=utm +zone=11 +datum=WGS84 +units=m +no_defs"
	noData = 65535.0
)

func grid(originX, originY float64, cols, rows int, values ...float64) *domain.Grid {
	g := domain.NewGrid(domain.GridSpec{
		Cols: cols, Rows: rows,
		OriginX: originX, OriginY: originY,
		PixelWidth: 1, PixelHeight: 1,
		SR: testSR,
	}, noData)
	copy(g.Values, values)
	return g
}

func rect(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{
		{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0},
	}}
}

func region(p geom.Polygonal) domain.Boundary {
	return domain.Boundary{SR: testSR, Geometry: p}
}

func TestMask_InvalidCodesBecomeNoData(t *testing.T) {
	tile := grid(0, 2, 2, 2, 5, 6, 7, 8)
	mask := grid(0, 2, 2, 2, 0, 1, noData, 0)

	out, err := mosaic.Mask(tile, mask, []float64{1})
	require.NoError(t, err)
	assert.Equal(t, []float64{5, noData, noData, 8}, out.Values)
	assert.Equal(t, []float64{5, 6, 7, 8}, tile.Values, "input tile must not be modified")
}

func TestMask_GridMismatchIsDateDataError(t *testing.T) {
	tile := grid(0, 2, 2, 2, 1, 1, 1, 1)
	mask := grid(1, 2, 2, 2)

	_, err := mosaic.Mask(tile, mask, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDateData))
}

func TestMerge_DisjointTilesPreservesPixels(t *testing.T) {
	left := grid(0, 2, 2, 2, 1, 2, 3, 4)
	right := grid(2, 2, 2, 2, 5, 6, 7, 8)

	out, err := mosaic.Merge(left, right)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Cols)
	assert.Equal(t, 2, out.Rows)
	assert.Equal(t, []float64{1, 2, 5, 6, 3, 4, 7, 8}, out.Values)
}

func TestMerge_FirstTileWinsOnOverlap(t *testing.T) {
	first := grid(0, 1, 2, 1, 10, noData)
	second := grid(1, 1, 2, 1, 20, 30)

	out, err := mosaic.Merge(first, second)
	require.NoError(t, err)
	// Column 1 overlaps: first has no-data there so second fills it.
	assert.Equal(t, []float64{10, 20, 30}, out.Values)

	first = grid(0, 1, 2, 1, 10, 11)
	out, err = mosaic.Merge(first, second)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 11, 30}, out.Values)
}

func TestMerge_ResolutionMismatchIsConfigError(t *testing.T) {
	a := grid(0, 2, 2, 2)
	b := grid(2, 2, 2, 2)
	b.PixelWidth = 2

	_, err := mosaic.Merge(a, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestMerge_MisalignedIsConfigError(t *testing.T) {
	a := grid(0, 2, 2, 2)
	b := grid(2.5, 2, 2, 2)

	_, err := mosaic.Merge(a, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestMerge_SpatialReferenceMismatchIsConfigError(t *testing.T) {
	a := grid(0, 2, 2, 2)
	b := grid(2, 2, 2, 2)
	b.SR = "+proj=utm +zone=10 +datum=WGS84 +units=m +no_defs"

	_, err := mosaic.Merge(a, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestClip_CropsAndMasksOutside(t *testing.T) {
	g := grid(0, 4, 4, 4,
		1, 1, 1, 1,
		1, 1, 1, 1,
		1, 1, 1, 1,
		1, 1, 1, 1,
	)
	// L-shape over the 2x2 block at (1..3, 1..3) with its upper-right quarter cut away.
	ell := geom.Polygon{{
		{X: 1, Y: 1}, {X: 3, Y: 1}, {X: 3, Y: 2}, {X: 2, Y: 2}, {X: 2, Y: 3}, {X: 1, Y: 3}, {X: 1, Y: 1},
	}}

	out, err := mosaic.Clip(g, region(ell))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Cols)
	assert.Equal(t, 2, out.Rows)
	assert.InDelta(t, 1.0, out.OriginX, 1e-9)
	assert.InDelta(t, 3.0, out.OriginY, 1e-9)
	// Only the upper-right pixel centre (2.5, 2.5) lies outside the shape.
	assert.Equal(t, []float64{1, noData, 1, 1}, out.Values)
}

func TestClip_ReclipIsNoOp(t *testing.T) {
	g := grid(0, 4, 4, 4,
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	)
	shape := geom.Polygon{{{X: 0.2, Y: 0.4}, {X: 3.7, Y: 0.9}, {X: 2.1, Y: 3.6}, {X: 0.2, Y: 0.4}}}

	once, err := mosaic.Clip(g, region(shape))
	require.NoError(t, err)
	twice, err := mosaic.Clip(once, region(shape))
	require.NoError(t, err)

	assert.Equal(t, once.GridSpec, twice.GridSpec)
	assert.Equal(t, once.Values, twice.Values)
}

func TestClip_NoOverlapIsDateDataError(t *testing.T) {
	g := grid(0, 2, 2, 2, 1, 1, 1, 1)

	_, err := mosaic.Clip(g, region(rect(10, 10, 12, 12)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDateData))
}

func TestMergeAndClip_PreservesValidPixelsInsideRegion(t *testing.T) {
	// Two 3x3 tiles with a 1-pixel masked border on the outer edge of the
	// mosaic, leaving a 1x4 strip of valid pixels.
	left := grid(0, 3, 3, 3, 1, 1, 1, 1, 1, 1, 1, 1, 1)
	right := grid(3, 3, 3, 3, 1, 1, 1, 1, 1, 1, 1, 1, 1)
	leftMask := grid(0, 3, 3, 3, 9, 9, 9, 9, 0, 0, 9, 9, 9)
	rightMask := grid(3, 3, 3, 3, 9, 9, 9, 0, 0, 9, 9, 9, 9)

	l, err := mosaic.Mask(left, leftMask, []float64{9})
	require.NoError(t, err)
	r, err := mosaic.Mask(right, rightMask, []float64{9})
	require.NoError(t, err)

	merged, err := mosaic.Merge(l, r)
	require.NoError(t, err)
	assert.Equal(t, 4, merged.CountValid())

	clipped, err := mosaic.Clip(merged, region(rect(0, 0, 6, 3)))
	require.NoError(t, err)
	assert.Equal(t, merged.Values, clipped.Values)
	assert.Equal(t, 4, clipped.CountValid())
}

// --- builder ---

type fakeReader struct {
	grids map[string]*domain.Grid
	errs  map[string]error
}

func (f *fakeReader) ReadSpec(path string) (domain.GridSpec, error) {
	g, err := f.Read(path)
	if err != nil {
		return domain.GridSpec{}, err
	}
	return g.GridSpec, nil
}

func (f *fakeReader) Read(path string) (*domain.Grid, error) {
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	g, ok := f.grids[path]
	if !ok {
		return nil, errors.New("no such file")
	}
	return g, nil
}

func testItem() domain.WorkItem {
	return domain.WorkItem{
		Date: time.Date(2021, 7, 14, 0, 0, 0, 0, time.UTC),
		Tiles: []domain.TileFiles{
			{TileID: "A", DataPath: "A_data", MaskPath: "A_mask"},
			{TileID: "B", DataPath: "B_data", MaskPath: "B_mask"},
		},
	}
}

func TestBuilder_Build(t *testing.T) {
	reader := &fakeReader{grids: map[string]*domain.Grid{
		"A_data": grid(0, 1, 2, 1, 3, 4),
		"A_mask": grid(0, 1, 2, 1, 0, 0),
		"B_data": grid(2, 1, 2, 1, 5, 6),
		"B_mask": grid(2, 1, 2, 1, 0, 1),
	}}
	b := mosaic.NewBuilder(reader, region(rect(0, 0, 4, 1)), []float64{1}, slog.Default())

	out, err := b.Build(context.Background(), testItem())
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, 5, noData}, out.Values)
}

func TestBuilder_Build_MissingMaskIsDateDataError(t *testing.T) {
	item := testItem()
	item.Tiles[1].MaskPath = ""
	b := mosaic.NewBuilder(&fakeReader{}, region(rect(0, 0, 4, 1)), nil, slog.Default())

	_, err := b.Build(context.Background(), item)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDateData))
	assert.Contains(t, err.Error(), "B/mask")
}

func TestBuilder_Build_CorruptTileIsDateDataError(t *testing.T) {
	reader := &fakeReader{
		grids: map[string]*domain.Grid{"A_mask": grid(0, 1, 2, 1)},
		errs:  map[string]error{"A_data": errors.New("tiff: invalid format")},
	}
	b := mosaic.NewBuilder(reader, region(rect(0, 0, 4, 1)), nil, slog.Default())

	_, err := b.Build(context.Background(), testItem())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDateData))
}

func TestBuilder_Preflight_ResolutionMismatch(t *testing.T) {
	coarse := grid(2, 1, 1, 1)
	coarse.PixelWidth = 2
	reader := &fakeReader{grids: map[string]*domain.Grid{
		"A_data": grid(0, 1, 2, 1),
		"B_data": coarse,
	}}
	b := mosaic.NewBuilder(reader, region(rect(0, 0, 4, 1)), nil, slog.Default())

	err := b.Preflight(context.Background(), []domain.WorkItem{testItem()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestBuilder_Preflight_SkipsUnreadableHeaders(t *testing.T) {
	reader := &fakeReader{grids: map[string]*domain.Grid{
		"A_data": grid(0, 1, 2, 1),
	}}
	b := mosaic.NewBuilder(reader, region(rect(0, 0, 4, 1)), nil, slog.Default())

	require.NoError(t, b.Preflight(context.Background(), []domain.WorkItem{testItem()}))
}

func TestBuilder_Preflight_UnknownTileReferenceIsConfigError(t *testing.T) {
	const unknownSR = "+proj=nonsense +datum=WGS84"
	a, b := grid(0, 1, 2, 1), grid(2, 1, 2, 1)
	a.SR, b.SR = unknownSR, unknownSR
	reader := &fakeReader{grids: map[string]*domain.Grid{"A_data": a, "B_data": b}}
	builder := mosaic.NewBuilder(reader, region(rect(0, 0, 4, 1)), nil, slog.Default())

	err := builder.Preflight(context.Background(), []domain.WorkItem{testItem()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestClip_UnknownReferenceIsConfigError(t *testing.T) {
	g := grid(0, 1, 2, 1, 1, 1)
	g.SR = "+proj=nonsense +datum=WGS84"

	_, err := mosaic.Clip(g, region(rect(0, 0, 2, 1)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}
