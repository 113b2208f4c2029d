// Command wnvprep prepares per-zone surface-water time series from satellite
// tiles: it resolves the zone set, masks, merges and clips each acquisition
// date, aggregates the clipped rasters per zone and repairs the series.
//
// Usage:
//
//	wnvprep [-serve] [run|resolve|mosaic|aggregate|gapfill|traps]...
//
// With no stage it runs resolve, mosaic, aggregate and gapfill, plus traps
// when TRAPS_CSV is set. All settings come from the environment.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/adapter/geotiff"
	httpadapter "github.com/n-mcmanus/wnv-shiny-ERI/internal/adapter/http"
	kafkaadapter "github.com/n-mcmanus/wnv-shiny-ERI/internal/adapter/kafka"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/adapter/sqlite"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/config"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/observability"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/pipeline"
)

func main() {
	serve := flag.Bool("serve", false, "keep the HTTP server up after the run until interrupted (needs HTTP_ADDR)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-serve] [run|resolve|mosaic|aggregate|gapfill|traps]...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	stages, err := stagesFor(flag.Args(), cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(cfg, stages, *serve))
}

func run(cfg *config.Config, stages []pipeline.Stage, serve bool) int {
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.ObservationDB), 0o755); err != nil {
		logger.Error("failed to create observation db dir", "error", err)
		return 1
	}
	store, err := sqlite.Open(ctx, cfg.ObservationDB)
	if err != nil {
		logger.Error("failed to open observation store", "error", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("observation store close error", "error", err)
		}
	}()

	rasters, err := geotiff.NewDir(cfg.RasterDir, cfg.RasterPrefix, cfg.NoDataValue)
	if err != nil {
		logger.Error("failed to open raster dir", "error", err)
		return 1
	}

	deps := pipeline.Deps{
		Tiles:   geotiff.Reader{NoData: cfg.NoDataValue},
		Rasters: rasters,
		Store:   store,
	}
	if cfg.KafkaEnabled() {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		deps.Publisher = writer
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	p := pipeline.New(cfg, deps, logger, metrics)

	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	report, runErr := p.Run(ctx, stages...)
	if err := report.Render(os.Stdout); err != nil {
		logger.Error("render run report", "error", err)
	}
	if ts, err := store.LastUpdated(context.Background()); err != nil {
		logger.Warn("read observation store timestamp", "error", err)
	} else if !ts.IsZero() {
		logger.Info("observation store updated", "db", cfg.ObservationDB, "last_updated", ts)
	}
	if cfg.MetricsFile != "" {
		if err := observability.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Error("write metrics textfile", "error", err, "path", cfg.MetricsFile)
		}
	}

	if srv != nil {
		if serve && ctx.Err() == nil {
			logger.Info("run complete, serving until interrupted", "addr", cfg.HTTPAddr)
			<-ctx.Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}

	if runErr != nil {
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

// stagesFor maps command-line stage names to pipeline stages. "run" or no
// argument selects the full run.
func stagesFor(args []string, cfg *config.Config) ([]pipeline.Stage, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "run") {
		stages := append([]pipeline.Stage(nil), pipeline.DefaultStages...)
		if cfg.TrapsCSV != "" {
			stages = append(stages, pipeline.StageTraps)
		}
		return stages, nil
	}
	stages := make([]pipeline.Stage, 0, len(args))
	for _, a := range args {
		st, err := pipeline.ParseStage(a)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, nil
}
