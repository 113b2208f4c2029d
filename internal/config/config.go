package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v3"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/gapfill"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/geo"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/zonal"
)

// Config holds all pipeline settings, populated from environment variables.
type Config struct {
	InputDir  string
	RasterDir string
	OutputDir string

	// Boundary resolution.
	CountyShp     string
	CountyField   string
	CountyName    string
	BasinShp      string
	ZIPShp        string
	ZIPField      string
	ZonesShp      string
	BoundaryShp   string
	MinZoneArea   float64
	EqualAreaProj string
	DisplayProj   string

	// Masking and merging.
	TileIDs      []string
	MaskInvalid  []float64
	NoDataValue  float64
	RasterPrefix string
	Workers      int
	FileTimeout  time.Duration

	// Aggregation.
	QualifyingValues []float64
	PixelAreaSqM     float64
	AreaUnit         string
	AreaUnitFactor   float64
	ZoneCacheSize    int

	// Gap filling.
	Calendar        domain.RepairCalendar
	UnderflowPolicy gapfill.Policy
	ObservationDB   string
	TrapsCSV        string

	// Outer surfaces.
	KafkaBrokers    []string
	KafkaTopic      string
	HTTPAddr        string
	MetricsFile     string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// KafkaEnabled reports whether repaired observations are published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	outputDir := sharedcfg.EnvOrDefault("OUTPUT_DIR", "data/output")
	cfg := &Config{
		InputDir:  sharedcfg.EnvOrDefault("INPUT_DIR", "data/input"),
		RasterDir: sharedcfg.EnvOrDefault("RASTER_DIR", "data/rasters"),
		OutputDir: outputDir,

		CountyShp:     sharedcfg.EnvOrDefault("COUNTY_SHP", "data/layers/county.shp"),
		CountyField:   sharedcfg.EnvOrDefault("COUNTY_FIELD", "NAME"),
		CountyName:    os.Getenv("COUNTY_NAME"),
		BasinShp:      sharedcfg.EnvOrDefault("BASIN_SHP", "data/layers/basin.shp"),
		ZIPShp:        sharedcfg.EnvOrDefault("ZIP_SHP", "data/layers/zip.shp"),
		ZIPField:      sharedcfg.EnvOrDefault("ZIP_FIELD", "ZCTA5CE10"),
		ZonesShp:      sharedcfg.EnvOrDefault("ZONES_SHP", filepath.Join(outputDir, "zones.shp")),
		BoundaryShp:   sharedcfg.EnvOrDefault("BOUNDARY_SHP", filepath.Join(outputDir, "boundary.shp")),
		EqualAreaProj: sharedcfg.EnvOrDefault("EQUAL_AREA_PROJ", geo.CONUSAlbers),
		DisplayProj:   sharedcfg.EnvOrDefault("DISPLAY_PROJ", geo.WGS84),

		TileIDs:      splitList(os.Getenv("TILE_IDS")),
		RasterPrefix: sharedcfg.EnvOrDefault("RASTER_PREFIX", "water"),

		AreaUnit: sharedcfg.EnvOrDefault("AREA_UNIT", "acre"),

		ObservationDB: sharedcfg.EnvOrDefault("OBSERVATION_DB", filepath.Join(outputDir, "observations.db")),
		TrapsCSV:      os.Getenv("TRAPS_CSV"),

		KafkaBrokers:    sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:      sharedcfg.EnvOrDefault("KAFKA_TOPIC", "wnv-zonal-observations"),
		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		MetricsFile:     os.Getenv("METRICS_FILE"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if cfg.MinZoneArea, err = parseFloat("MIN_ZONE_AREA_SQM", "1000000"); err != nil {
		return nil, err
	}
	if cfg.MinZoneArea < 0 {
		return nil, errors.New("invalid MIN_ZONE_AREA_SQM: must not be negative")
	}
	if cfg.MaskInvalid, err = parseFloats("MASK_INVALID_VALUES", "1"); err != nil {
		return nil, err
	}
	if cfg.NoDataValue, err = parseFloat("NODATA_VALUE", "65535"); err != nil {
		return nil, err
	}
	if cfg.NoDataValue < 0 || cfg.NoDataValue > 65535 || cfg.NoDataValue != float64(int(cfg.NoDataValue)) {
		return nil, errors.New("invalid NODATA_VALUE: must be an integer in 0..65535")
	}
	if cfg.QualifyingValues, err = parseFloats("QUALIFYING_VALUES", ""); err != nil {
		return nil, err
	}
	if cfg.PixelAreaSqM, err = parseFloat("PIXEL_AREA_SQM", "900"); err != nil {
		return nil, err
	}
	if cfg.PixelAreaSqM <= 0 {
		return nil, errors.New("invalid PIXEL_AREA_SQM: must be positive")
	}
	if cfg.AreaUnitFactor, err = zonal.UnitFactor(cfg.AreaUnit); err != nil {
		return nil, fmt.Errorf("invalid AREA_UNIT: %w", err)
	}
	if cfg.Workers, err = parsePositiveInt("WORKERS", "1"); err != nil {
		return nil, err
	}
	if cfg.ZoneCacheSize, err = parsePositiveInt("ZONE_CACHE_SIZE", "4"); err != nil {
		return nil, err
	}
	if cfg.FileTimeout, err = parseDuration("FILE_TIMEOUT", "2m"); err != nil {
		return nil, err
	}
	if cfg.UnderflowPolicy, err = gapfill.ParsePolicy(sharedcfg.EnvOrDefault("GAPFILL_UNDERFLOW", string(gapfill.PolicyReject))); err != nil {
		return nil, fmt.Errorf("invalid GAPFILL_UNDERFLOW: %w", err)
	}
	if cfg.Calendar, err = loadCalendar(); err != nil {
		return nil, err
	}

	if cfg.RasterPrefix == "" || strings.ContainsAny(cfg.RasterPrefix, `/\`) {
		return nil, errors.New("invalid RASTER_PREFIX: must be a non-empty file name prefix")
	}
	if cfg.KafkaEnabled() && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q: want json or text", cfg.LogFormat)
	}

	return cfg, nil
}

// calendarFile is the YAML form of the repair calendar.
type calendarFile struct {
	Drop        []string `yaml:"drop"`
	Midpoint    []string `yaml:"midpoint"`
	Interpolate []string `yaml:"interpolate"`
}

// loadCalendar reads the repair calendar from GAPFILL_CALENDAR_FILE or the
// GAPFILL_*_DATES lists. Setting both is an error.
func loadCalendar() (domain.RepairCalendar, error) {
	lists := calendarFile{
		Drop:        splitList(os.Getenv("GAPFILL_DROP_DATES")),
		Midpoint:    splitList(os.Getenv("GAPFILL_MIDPOINT_DATES")),
		Interpolate: splitList(os.Getenv("GAPFILL_INTERPOLATE_DATES")),
	}
	fromEnv := len(lists.Drop)+len(lists.Midpoint)+len(lists.Interpolate) > 0

	source := "GAPFILL_*_DATES"
	if path := os.Getenv("GAPFILL_CALENDAR_FILE"); path != "" {
		if fromEnv {
			return domain.RepairCalendar{}, domain.ConfigErrorf("set GAPFILL_CALENDAR_FILE or GAPFILL_*_DATES, not both")
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return domain.RepairCalendar{}, domain.ConfigErrorf("read GAPFILL_CALENDAR_FILE: %v", err)
		}
		if err := yaml.Unmarshal(raw, &lists); err != nil {
			return domain.RepairCalendar{}, domain.ConfigErrorf("parse GAPFILL_CALENDAR_FILE: %v", err)
		}
		source = path
	}

	var cal domain.RepairCalendar
	var err error
	if cal.Drop, err = parseDates(source, "drop", lists.Drop); err != nil {
		return cal, err
	}
	if cal.Midpoint, err = parseDates(source, "midpoint", lists.Midpoint); err != nil {
		return cal, err
	}
	if cal.Interpolate, err = parseDates(source, "interpolate", lists.Interpolate); err != nil {
		return cal, err
	}
	if err := cal.Validate(); err != nil {
		return cal, fmt.Errorf("repair calendar %s: %w", source, err)
	}
	return cal, nil
}

func parseDates(source, set string, values []string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(values))
	for _, v := range values {
		d, err := domain.ParseDate(v)
		if err != nil {
			return nil, domain.ConfigErrorf("repair calendar %s (%s): %v", source, set, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseFloat(name, def string) (float64, error) {
	v, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(name, def), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func parseFloats(name, def string) ([]float64, error) {
	parts := splitList(sharedcfg.EnvOrDefault(name, def))
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parsePositiveInt(name, def string) (int, error) {
	n, err := strconv.Atoi(sharedcfg.EnvOrDefault(name, def))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", name)
	}
	return n, nil
}

func parseDuration(name, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", name)
	}
	return d, nil
}
