package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
	"github.com/couchcryptid/risk-grid-service/internal/retry"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Elevation tiles.
	TileCacheDir      string
	TileCacheCapacity int
	TileSourceURL     string
	TileZoom          int
	TileFetchTimeout  time.Duration

	// Retry policy shared by the HTTP collaborators.
	Retry retry.Policy

	// Tessellation defaults.
	DefaultResolution  int
	CellBudget         int
	ScoringWorkers     int
	SpilloverFactor    float64
	DiffusionPasses    int
	DiffusionMaxPasses int
	PlaceRings         int

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Hazard feeds; kinds without a URL are not queried.
	HazardURLs     map[domain.HazardKind]string
	HazardTimeout  time.Duration
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	HazardCacheTTL time.Duration

	DatabaseURL string

	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaJobsTopic     string
	KafkaZonesTopic    string
	KafkaGroupID       string
	BatchSize          int
	BatchFlushInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		TileCacheDir:      os.Getenv("TILE_CACHE_DIR"),
		TileCacheCapacity: p.positiveInt("TILE_CACHE_CAPACITY", 64),
		TileSourceURL:     os.Getenv("TILE_SOURCE_URL"),
		TileZoom:          p.intInRange("TILE_ZOOM", 10, 0, 15),
		TileFetchTimeout:  p.duration("TILE_FETCH_TIMEOUT", 5*time.Second),

		Retry: retry.Policy{
			MaxAttempts: p.positiveInt("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   p.duration("RETRY_BASE_DELAY", 200*time.Millisecond),
			MaxDelay:    p.duration("RETRY_MAX_DELAY", 2*time.Second),
			Multiplier:  2,
			Jitter:      p.floatInRange("RETRY_JITTER", 0.2, 0, 1),
		},

		DefaultResolution:  p.intInRange("GRID_DEFAULT_RESOLUTION", 7, domain.MinResolution, domain.MaxResolution),
		CellBudget:         p.intInRange("GRID_CELL_BUDGET", 3000, 1, domain.MaxCellBudget),
		ScoringWorkers:     p.positiveInt("SCORING_WORKERS", 8),
		SpilloverFactor:    p.floatInRange("SPILLOVER_FACTOR", 0.2, 0, 1),
		DiffusionPasses:    p.positiveInt("DIFFUSION_PASSES", 1),
		DiffusionMaxPasses: p.intInRange("DIFFUSION_MAX_PASSES", 10, 1, 1000),
		PlaceRings:         p.positiveInt("PLACE_RINGS", 3),

		MapboxToken:     os.Getenv("MAPBOX_TOKEN"),
		MapboxTimeout:   p.duration("MAPBOX_TIMEOUT", 5*time.Second),
		MapboxCacheSize: p.positiveInt("MAPBOX_CACHE_SIZE", 1000),

		HazardURLs:     hazardURLs(),
		HazardTimeout:  p.duration("HAZARD_TIMEOUT", 3*time.Second),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        p.intInRange("REDIS_DB", 0, 0, 15),
		HazardCacheTTL: p.duration("HAZARD_CACHE_TTL", 24*time.Hour),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		KafkaEnabled:       p.boolean("KAFKA_ENABLED", false),
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaJobsTopic:     sharedcfg.EnvOrDefault("KAFKA_JOBS_TOPIC", "tessellation-jobs"),
		KafkaZonesTopic:    sharedcfg.EnvOrDefault("KAFKA_ZONES_TOPIC", "risk-zones"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "risk-grid"),
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
	}
	if p.err != nil {
		return nil, p.err
	}

	cfg.MapboxEnabled = cfg.MapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		cfg.MapboxEnabled = v == "true"
	}

	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if cfg.SpilloverFactor == 0 {
		return nil, errors.New("SPILLOVER_FACTOR must be greater than 0")
	}
	if cfg.DiffusionPasses > cfg.DiffusionMaxPasses {
		return nil, fmt.Errorf("DIFFUSION_PASSES %d exceeds DIFFUSION_MAX_PASSES %d", cfg.DiffusionPasses, cfg.DiffusionMaxPasses)
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaJobsTopic == "" {
			return nil, errors.New("KAFKA_JOBS_TOPIC is required")
		}
		if cfg.KafkaZonesTopic == "" {
			return nil, errors.New("KAFKA_ZONES_TOPIC is required")
		}
	}

	return cfg, nil
}

func hazardURLs() map[domain.HazardKind]string {
	urls := make(map[domain.HazardKind]string)
	for _, kind := range domain.HazardKinds {
		key := "HAZARD_" + strings.ToUpper(string(kind)) + "_URL"
		if v := os.Getenv(key); v != "" {
			urls[kind] = v
		}
	}
	return urls
}

// parser reads typed variables and keeps the first error.
type parser struct {
	err error
}

func (p *parser) fail(key, value, want string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %s", key, value, want)
	}
}

func (p *parser) positiveInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		p.fail(key, s, "must be a positive integer")
		return def
	}
	return n
}

func (p *parser) intInRange(key string, def, lo, hi int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		p.fail(key, s, fmt.Sprintf("must be an integer in [%d,%d]", lo, hi))
		return def
	}
	return n
}

func (p *parser) floatInRange(key string, def, lo, hi float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < lo || f > hi {
		p.fail(key, s, fmt.Sprintf("must be a number in [%g,%g]", lo, hi))
		return def
	}
	return f
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		p.fail(key, s, "must be a positive duration")
		return def
	}
	return d
}

func (p *parser) boolean(key string, def bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(key, s, "must be true or false")
		return def
	}
	return b
}
