package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
)

const (
	defaultBroker   = "localhost:9092"
	testMapboxToken = "pk.test-token"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)

	assert.Empty(t, cfg.TileCacheDir)
	assert.Equal(t, 64, cfg.TileCacheCapacity)
	assert.Equal(t, 10, cfg.TileZoom)
	assert.Equal(t, 5*time.Second, cfg.TileFetchTimeout)

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 2*time.Second, cfg.Retry.MaxDelay)
	assert.InDelta(t, 0.2, cfg.Retry.Jitter, 0)

	assert.Equal(t, 7, cfg.DefaultResolution)
	assert.Equal(t, 3000, cfg.CellBudget)
	assert.Equal(t, 8, cfg.ScoringWorkers)
	assert.InDelta(t, 0.2, cfg.SpilloverFactor, 0)
	assert.Equal(t, 1, cfg.DiffusionPasses)
	assert.Equal(t, 10, cfg.DiffusionMaxPasses)
	assert.Equal(t, 3, cfg.PlaceRings)

	assert.False(t, cfg.MapboxEnabled)
	assert.Empty(t, cfg.MapboxToken)
	assert.Equal(t, 5*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, 1000, cfg.MapboxCacheSize)

	assert.Empty(t, cfg.HazardURLs)
	assert.Equal(t, 24*time.Hour, cfg.HazardCacheTTL)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.DatabaseURL)

	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "tessellation-jobs", cfg.KafkaJobsTopic)
	assert.Equal(t, "risk-zones", cfg.KafkaZonesTopic)
	assert.Equal(t, "risk-grid", cfg.KafkaGroupID)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchFlushInterval)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("TILE_CACHE_DIR", "/var/cache/tiles")
	t.Setenv("TILE_CACHE_CAPACITY", "128")
	t.Setenv("TILE_ZOOM", "12")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("RETRY_JITTER", "0")
	t.Setenv("GRID_DEFAULT_RESOLUTION", "5")
	t.Setenv("GRID_CELL_BUDGET", "500")
	t.Setenv("SPILLOVER_FACTOR", "0.35")
	t.Setenv("DIFFUSION_PASSES", "3")
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_TIMEOUT", "10s")
	t.Setenv("MAPBOX_CACHE_SIZE", "500")
	t.Setenv("HAZARD_SEISMIC_URL", "http://hazards/seismic")
	t.Setenv("HAZARD_CONFLICT_URL", "http://hazards/conflict")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("HAZARD_CACHE_TTL", "1h")
	t.Setenv("DATABASE_URL", "postgres://localhost/risk")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_JOBS_TOPIC", "custom-jobs")
	t.Setenv("KAFKA_ZONES_TOPIC", "custom-zones")
	t.Setenv("KAFKA_GROUP_ID", "custom-group")
	t.Setenv("BATCH_SIZE", "100")
	t.Setenv("BATCH_FLUSH_INTERVAL", "1s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "/var/cache/tiles", cfg.TileCacheDir)
	assert.Equal(t, 128, cfg.TileCacheCapacity)
	assert.Equal(t, 12, cfg.TileZoom)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.InDelta(t, 0.0, cfg.Retry.Jitter, 0)
	assert.Equal(t, 5, cfg.DefaultResolution)
	assert.Equal(t, 500, cfg.CellBudget)
	assert.InDelta(t, 0.35, cfg.SpilloverFactor, 0)
	assert.Equal(t, 3, cfg.DiffusionPasses)
	assert.True(t, cfg.MapboxEnabled)
	assert.Equal(t, testMapboxToken, cfg.MapboxToken)
	assert.Equal(t, 10*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, 500, cfg.MapboxCacheSize)
	assert.Equal(t, map[domain.HazardKind]string{
		domain.HazardSeismic:  "http://hazards/seismic",
		domain.HazardConflict: "http://hazards/conflict",
	}, cfg.HazardURLs)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, time.Hour, cfg.HazardCacheTTL)
	assert.Equal(t, "postgres://localhost/risk", cfg.DatabaseURL)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-jobs", cfg.KafkaJobsTopic)
	assert.Equal(t, "custom-zones", cfg.KafkaZonesTopic)
	assert.Equal(t, "custom-group", cfg.KafkaGroupID)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 1*time.Second, cfg.BatchFlushInterval)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"TILE_CACHE_CAPACITY", "0"},
		{"TILE_ZOOM", "16"},
		{"TILE_FETCH_TIMEOUT", "-1s"},
		{"RETRY_MAX_ATTEMPTS", "abc"},
		{"RETRY_JITTER", "1.5"},
		{"GRID_DEFAULT_RESOLUTION", "16"},
		{"GRID_CELL_BUDGET", "-5"},
		{"GRID_CELL_BUDGET", "250001"},
		{"DIFFUSION_MAX_PASSES", "0"},
		{"DIFFUSION_MAX_PASSES", "5000"},
		{"SPILLOVER_FACTOR", "1.2"},
		{"SPILLOVER_FACTOR", "0"},
		{"MAPBOX_TIMEOUT", "soon"},
		{"REDIS_DB", "99"},
		{"KAFKA_ENABLED", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_PassesAboveMaximum(t *testing.T) {
	t.Setenv("DIFFUSION_PASSES", "12")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DIFFUSION_MAX_PASSES")

	t.Setenv("DIFFUSION_MAX_PASSES", "12")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.DiffusionPasses)
}

func TestLoad_MapboxEnabledWithoutToken(t *testing.T) {
	t.Setenv("MAPBOX_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAPBOX_TOKEN")
}

func TestLoad_MapboxExplicitlyDisabled(t *testing.T) {
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.MapboxEnabled)
}
