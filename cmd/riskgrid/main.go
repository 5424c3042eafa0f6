package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	httpadapter "github.com/couchcryptid/risk-grid-service/internal/adapter/http"
	"github.com/couchcryptid/risk-grid-service/internal/adapter/hazard"
	kafkaadapter "github.com/couchcryptid/risk-grid-service/internal/adapter/kafka"
	"github.com/couchcryptid/risk-grid-service/internal/adapter/mapbox"
	"github.com/couchcryptid/risk-grid-service/internal/adapter/postgres"
	"github.com/couchcryptid/risk-grid-service/internal/adapter/terrarium"
	"github.com/couchcryptid/risk-grid-service/internal/config"
	"github.com/couchcryptid/risk-grid-service/internal/domain"
	"github.com/couchcryptid/risk-grid-service/internal/observability"
	"github.com/couchcryptid/risk-grid-service/internal/pipeline"
	"github.com/couchcryptid/risk-grid-service/internal/terrain"
	"github.com/couchcryptid/risk-grid-service/internal/tessellation"
	"github.com/couchcryptid/risk-grid-service/internal/tilecache"
)

func main() {
	_ = godotenv.Load() // optional .env for local runs

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Elevation tiles back the terrain provider and /v1/elevation.
	fetcher, err := terrarium.NewClient(cfg.TileSourceURL, cfg.Retry, logger)
	if err != nil {
		logger.Error("invalid tile source", "error", err)
		os.Exit(1)
	}
	tiles, err := tilecache.New(tilecache.Options{
		Dir:          cfg.TileCacheDir,
		Capacity:     cfg.TileCacheCapacity,
		FetchTimeout: cfg.TileFetchTimeout,
	}, fetcher, logger, metrics)
	if err != nil {
		logger.Error("failed to create tile cache", "error", err)
		os.Exit(1)
	}

	// Geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, cfg.Retry, logger, metrics)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
	}
	hazards := buildHazardSources(cfg, rdb, logger, metrics)

	signals := tessellation.NewSignalAssembler(
		hazards,
		terrain.New(tiles, cfg.TileZoom, logger),
		domain.DefaultScenarioModel(),
		logger,
		metrics,
	)

	svcCfg := tessellation.Config{
		DefaultResolution: cfg.DefaultResolution,
		CellBudget:        cfg.CellBudget,
		Workers:           cfg.ScoringWorkers,
		Spillover:         cfg.SpilloverFactor,
		Passes:            cfg.DiffusionPasses,
		MaxPasses:         cfg.DiffusionMaxPasses,
		PlaceRings:        cfg.PlaceRings,
		Weighted:          domain.DefaultWeightedModel(),
	}

	// Stores every run reaches regardless of entry point.
	var storeSinks []tessellation.ZoneSink
	ready := httpadapter.Readiness{tiles}
	api := httpadapter.API{Elevation: tiles, ElevationZoom: cfg.TileZoom}

	if cfg.DatabaseURL != "" {
		store, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Error("failed to create schema", "error", err)
			os.Exit(1)
		}
		storeSinks = append(storeSinks, store)
		ready = append(ready, store)
		api.Zones = store
		logger.Info("postgres zone store enabled")
	}

	clock := clockwork.NewRealClock()
	httpSinks := storeSinks

	var (
		p      *pipeline.Pipeline
		reader *kafkaadapter.Reader
		writer *kafkaadapter.Writer
	)
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		writer = kafkaadapter.NewWriter(cfg, logger)
		httpSinks = append(httpSinks, writer)

		// Pipeline runs publish through the loader so a failed publish is
		// retried before the job is committed.
		jobs := tessellation.NewService(svcCfg, signals, geocoder, clock, logger, metrics, storeSinks...)
		p = pipeline.New(reader, jobs, writer, logger, metrics, cfg.BatchSize)
		ready = append(ready, p)
		logger.Info("kafka pipeline enabled", "jobs_topic", cfg.KafkaJobsTopic, "zones_topic", cfg.KafkaZonesTopic)
	}

	api.Tessellator = tessellation.NewService(svcCfg, signals, geocoder, clock, logger, metrics, httpSinks...)
	srv := httpadapter.NewServer(cfg.HTTPAddr, api, ready, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Start job pipeline.
	if p != nil {
		go func() {
			if err := p.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// buildHazardSources creates one client per configured feed, wrapped in the
// Redis cache when one is available.
func buildHazardSources(cfg *config.Config, rdb *redis.Client, logger *slog.Logger, metrics *observability.Metrics) map[domain.HazardKind]domain.HazardSource {
	sources := make(map[domain.HazardKind]domain.HazardSource, len(cfg.HazardURLs))
	for kind, url := range cfg.HazardURLs {
		client := hazard.NewClient(kind, url, cfg.HazardTimeout, cfg.Retry, logger)
		if rdb != nil {
			sources[kind] = hazard.NewCachedSource(kind, client, rdb, cfg.HazardCacheTTL, logger, metrics)
		} else {
			sources[kind] = client
		}
		logger.Info("hazard feed enabled", "kind", client.Kind(), "cached", rdb != nil)
	}
	return sources
}

