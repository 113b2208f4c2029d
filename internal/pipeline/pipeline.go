// Package pipeline orchestrates the preparation stages: boundary resolution,
// per-date mosaicking, zonal aggregation, gap filling and the trap join.
//
// Per-date errors never abort a stage. Data errors skip the date, unexpected
// errors fail it, and both are counted and reported. Configuration errors
// abort the run before later dates are processed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"golang.org/x/sync/errgroup"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/adapter/csv"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/adapter/geotiff"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/adapter/shapefile"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/boundary"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/config"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/gapfill"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/mosaic"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/observability"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/trapjoin"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/zonal"
)

// Output file names under OUTPUT_DIR.
const (
	ObservationsFile = "observations.csv"
	FilledFile       = "observations_filled.csv"
	TalliesFile      = "traps_by_zone.csv"
)

const publishAttempts = 3

// Stage names one step of the pipeline.
type Stage string

const (
	StageResolve   Stage = "resolve"
	StageMosaic    Stage = "mosaic"
	StageAggregate Stage = "aggregate"
	StageGapFill   Stage = "gapfill"
	StageTraps     Stage = "traps"
)

// DefaultStages is a full preparation run in dependency order.
var DefaultStages = []Stage{StageResolve, StageMosaic, StageAggregate, StageGapFill}

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	switch st := Stage(strings.ToLower(s)); st {
	case StageResolve, StageMosaic, StageAggregate, StageGapFill, StageTraps:
		return st, nil
	default:
		return "", fmt.Errorf("unknown stage %q", s)
	}
}

// RasterStore holds the clipped per-date rasters between stages.
type RasterStore interface {
	Save(ctx context.Context, date time.Time, g *domain.Grid) error
	List() ([]geotiff.RasterRef, error)
	Load(ref geotiff.RasterRef) (*domain.Grid, error)
}

// ObservationStore persists raw and repaired observations across runs.
type ObservationStore interface {
	Upsert(ctx context.Context, obs []domain.Observation) error
	Observations(ctx context.Context) ([]domain.Observation, error)
	ReplaceRepaired(ctx context.Context, obs []domain.Observation) error
	Ping(ctx context.Context) error
}

// Publisher hands repaired observations to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, obs []domain.Observation) error
}

// Deps are the adapters the pipeline drives.
type Deps struct {
	Tiles     mosaic.GridReader
	Rasters   RasterStore
	Store     ObservationStore
	Publisher Publisher // nil disables publishing
}

// Pipeline runs stages against the configured inputs and outputs.
type Pipeline struct {
	cfg       *config.Config
	tiles     mosaic.GridReader
	rasters   RasterStore
	store     ObservationStore
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool

	mu   sync.Mutex
	last *RunReport
}

// New creates a Pipeline. Tile reads are bounded by cfg.FileTimeout.
func New(cfg *config.Config, deps Deps, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		tiles:     withTimeout(deps.Tiles, cfg.FileTimeout),
		rasters:   deps.Rasters,
		store:     deps.Store,
		publisher: deps.Publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once a run has completed and the observation
// store is reachable.
func (p *Pipeline) CheckReadiness(ctx context.Context) error {
	if !p.ready.Load() {
		return errors.New("no run has completed yet")
	}
	return p.store.Ping(ctx)
}

// LastReport returns the report of the most recent run, or nil.
func (p *Pipeline) LastReport() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	return p.last
}

// Run executes stages in order, stopping at the first stage error. With no
// stages it runs DefaultStages. The report is returned even on error.
func (p *Pipeline) Run(ctx context.Context, stages ...Stage) (*RunReport, error) {
	if len(stages) == 0 {
		stages = DefaultStages
	}
	p.logger.Info("pipeline started", "stages", stages, "workers", p.cfg.Workers)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	report := &RunReport{StartedAt: domain.Now()}
	var runErr error
	for _, stage := range stages {
		s := newStageReport(stage)
		report.Stages = append(report.Stages, s)

		err := p.runStage(ctx, s)
		s.finish(err)
		p.metrics.StageDuration.WithLabelValues(string(stage)).Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
		if err != nil {
			runErr = fmt.Errorf("%s: %w", stage, err)
			break
		}
		success, skipped, failed := s.Tally()
		p.logger.Info("stage finished",
			"stage", stage,
			"success", success,
			"skipped", skipped,
			"failed", failed,
			"counts", s.Counts,
		)
	}
	report.FinishedAt = domain.Now()

	if runErr != nil {
		report.Error = runErr.Error()
		p.logger.Error("pipeline failed", "error", runErr)
	} else {
		p.ready.Store(true)
		p.logger.Info("pipeline finished", "duration", report.FinishedAt.Sub(report.StartedAt))
	}

	p.mu.Lock()
	p.last = report
	p.mu.Unlock()
	return report, runErr
}

func (p *Pipeline) runStage(ctx context.Context, s *StageReport) error {
	switch s.Stage {
	case StageResolve:
		return p.resolve(ctx, s)
	case StageMosaic:
		return p.mosaic(ctx, s)
	case StageAggregate:
		return p.aggregate(ctx, s)
	case StageGapFill:
		return p.gapFill(ctx, s)
	case StageTraps:
		return p.traps(ctx, s)
	default:
		return fmt.Errorf("unknown stage %q", s.Stage)
	}
}

// resolve builds the zone set and study region from the boundary layers.
func (p *Pipeline) resolve(ctx context.Context, s *StageReport) error {
	county, err := shapefile.ReadLayer(p.cfg.CountyShp, p.cfg.CountyField)
	if err != nil {
		return err
	}
	basin, err := shapefile.ReadLayer(p.cfg.BasinShp)
	if err != nil {
		return err
	}
	zip, err := shapefile.ReadLayer(p.cfg.ZIPShp, p.cfg.ZIPField)
	if err != nil {
		return err
	}

	resolver := boundary.NewResolver(boundary.Options{
		CountyField:   p.cfg.CountyField,
		CountyName:    p.cfg.CountyName,
		ZIPField:      p.cfg.ZIPField,
		MinAreaSqM:    p.cfg.MinZoneArea,
		EqualAreaProj: p.cfg.EqualAreaProj,
		DisplayProj:   p.cfg.DisplayProj,
	}, p.logger)
	res, err := resolver.Resolve(ctx, boundary.Layers{County: county, Basin: basin, ZIP: zip})
	if err != nil {
		return err
	}

	for _, path := range []string{p.cfg.ZonesShp, p.cfg.BoundaryShp} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := shapefile.WriteZones(p.cfg.ZonesShp, res.Zones); err != nil {
		return err
	}
	if err := shapefile.WriteBoundary(p.cfg.BoundaryShp, res.Region); err != nil {
		return err
	}

	s.count("zones", len(res.Zones.Zones))
	s.count("zones_discarded", len(res.Discarded))
	p.metrics.ZonesResolved.Set(float64(len(res.Zones.Zones)))
	p.metrics.ZonesDiscarded.Add(float64(len(res.Discarded)))
	return nil
}

// mosaic masks, merges and clips every planned date, WORKERS at a time.
func (p *Pipeline) mosaic(ctx context.Context, s *StageReport) error {
	region, err := shapefile.ReadBoundary(p.cfg.BoundaryShp)
	if err != nil {
		return err
	}
	items, err := Plan(p.cfg.InputDir, p.cfg.TileIDs)
	if err != nil {
		return err
	}
	s.count("work_items", len(items))
	if len(items) == 0 {
		p.logger.Warn("no input tiles found", "dir", p.cfg.InputDir)
		return nil
	}

	builder := mosaic.NewBuilder(p.tiles, region, p.cfg.MaskInvalid, p.logger)
	if err := builder.Preflight(ctx, items); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, item := range items {
		g.Go(func() error {
			return p.settle(s, item.Date, p.mosaicDate(gctx, builder, item))
		})
	}
	return g.Wait()
}

func (p *Pipeline) mosaicDate(ctx context.Context, b *mosaic.Builder, item domain.WorkItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g, err := b.Build(ctx, item)
	if err != nil {
		return err
	}
	if err := p.rasters.Save(ctx, item.Date, g); err != nil {
		return fmt.Errorf("save raster %s: %w", domain.FormatDate(item.Date), err)
	}
	p.logger.Debug("date mosaicked", "item", describe(item), "valid_pixels", g.CountValid())
	return nil
}

// aggregate computes zonal statistics for every clipped raster and exports
// the accumulated observation table.
func (p *Pipeline) aggregate(ctx context.Context, s *StageReport) error {
	zones, err := shapefile.ReadZones(p.cfg.ZonesShp)
	if err != nil {
		return err
	}
	if len(zones.Zones) == 0 {
		return domain.ConfigErrorf("zone set %s is empty", p.cfg.ZonesShp)
	}

	agg := zonal.NewAggregator(zones, zonal.Options{
		PixelAreaSqM:  p.cfg.PixelAreaSqM,
		UnitFactor:    p.cfg.AreaUnitFactor,
		Qualifying:    p.cfg.QualifyingValues,
		CacheSize:     p.cfg.ZoneCacheSize,
		CacheObserver: p.metrics.ObserveZoneCache,
	}, p.logger)

	refs, err := p.rasters.List()
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		p.logger.Warn("no clipped rasters to aggregate", "dir", p.cfg.RasterDir)
	}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := p.aggregateDate(ctx, agg, ref)
		if err := p.settle(s, ref.Date, err); err != nil {
			return err
		}
		s.count("observations_written", n)
	}

	all, err := p.store.Observations(ctx)
	if err != nil {
		return err
	}
	if err := p.writeOutput(ObservationsFile, func(path string) error { return csv.WriteObservations(path, all) }); err != nil {
		return err
	}
	s.count("observations_total", len(all))
	return nil
}

func (p *Pipeline) aggregateDate(ctx context.Context, agg *zonal.Aggregator, ref geotiff.RasterRef) (int, error) {
	g, err := p.rasters.Load(ref)
	if err != nil {
		return 0, domain.WrapDateData(err, "load raster %s", domain.FormatDate(ref.Date))
	}
	obs, err := agg.Aggregate(ctx, ref.Date, g)
	if err != nil {
		return 0, err
	}
	if err := p.store.Upsert(ctx, obs); err != nil {
		return 0, err
	}
	p.metrics.ObservationsWritten.Add(float64(len(obs)))
	return len(obs), nil
}

// gapFill repairs the stored series and exports, persists and optionally
// publishes the result.
func (p *Pipeline) gapFill(ctx context.Context, s *StageReport) error {
	obs, err := p.store.Observations(ctx)
	if err != nil {
		return err
	}
	filler, err := gapfill.New(p.cfg.Calendar, p.cfg.UnderflowPolicy, p.logger)
	if err != nil {
		return err
	}
	res, err := filler.Fill(ctx, obs)
	if err != nil {
		return err
	}

	if err := p.writeOutput(FilledFile, func(path string) error { return csv.WriteObservations(path, res.Observations) }); err != nil {
		return err
	}
	if err := p.store.ReplaceRepaired(ctx, res.Observations); err != nil {
		return err
	}

	for state, n := range res.Repairs {
		s.count(string(state), n)
		p.metrics.Repairs.WithLabelValues(string(state)).Add(float64(n))
	}
	if len(res.Dropped) > 0 {
		s.count("dropped", len(res.Dropped))
		p.metrics.Repairs.WithLabelValues("dropped").Add(float64(len(res.Dropped)))
	}

	if p.publisher == nil {
		return nil
	}
	if err := p.publish(ctx, res.Observations); err != nil {
		return err
	}
	s.count("published", len(res.Observations))
	return nil
}

// publish retries with exponential backoff, starting at 200ms and capped at 5s.
func (p *Pipeline) publish(ctx context.Context, obs []domain.Observation) error {
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second
	for attempt := 1; ; attempt++ {
		err := p.publisher.Publish(ctx, obs)
		if err == nil {
			return nil
		}
		if attempt == publishAttempts || ctx.Err() != nil {
			return fmt.Errorf("publish repaired observations: %w", err)
		}
		p.logger.Warn("publish failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		if !retry.SleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
}

// traps tallies trap collections per zone and date.
func (p *Pipeline) traps(ctx context.Context, s *StageReport) error {
	if p.cfg.TrapsCSV == "" {
		return domain.ConfigErrorf("TRAPS_CSV is required for the traps stage")
	}
	zones, err := shapefile.ReadZones(p.cfg.ZonesShp)
	if err != nil {
		return err
	}
	records, err := csv.ReadTraps(p.cfg.TrapsCSV)
	if err != nil {
		return err
	}
	joiner, err := trapjoin.NewJoiner(zones, p.logger)
	if err != nil {
		return err
	}
	res, err := joiner.Join(ctx, records)
	if err != nil {
		return err
	}
	if err := p.writeOutput(TalliesFile, func(path string) error { return csv.WriteTallies(path, res.Tallies) }); err != nil {
		return err
	}

	s.count("traps", len(records))
	s.count("traps_unmatched", res.Unmatched)
	s.count("tallies", len(res.Tallies))
	p.metrics.TrapsUnmatched.Add(float64(res.Unmatched))
	return nil
}

// settle records the outcome of one date and decides whether the stage goes on.
func (p *Pipeline) settle(s *StageReport, date time.Time, err error) error {
	var status Status
	switch {
	case err == nil:
		status = StatusSuccess
	case errors.Is(err, domain.ErrConfig):
		s.record(date, StatusFailed, err.Error())
		p.metrics.DatesProcessed.WithLabelValues(string(s.Stage), string(StatusFailed)).Inc()
		return err
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, domain.ErrDateData):
		status = StatusSkipped
		p.logger.Warn("date skipped", "stage", s.Stage, "date", domain.FormatDate(date), "error", err)
	default:
		status = StatusFailed
		p.logger.Warn("date failed", "stage", s.Stage, "date", domain.FormatDate(date), "error", err)
	}

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	s.record(date, status, reason)
	p.metrics.DatesProcessed.WithLabelValues(string(s.Stage), string(status)).Inc()
	return nil
}

func (p *Pipeline) writeOutput(name string, write func(path string) error) error {
	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return write(filepath.Join(p.cfg.OutputDir, name))
}
