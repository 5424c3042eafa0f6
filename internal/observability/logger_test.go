package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/couchcryptid/risk-grid-service/internal/config"
)

func TestNewLogger_LevelFromConfig(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := NewLogger(&config.Config{LogLevel: "warn", LogFormat: "text"})

	ctx := context.Background()
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))
	assert.True(t, slog.Default().Enabled(ctx, slog.LevelError), "installed as default")
	assert.False(t, slog.Default().Enabled(ctx, slog.LevelInfo))
}

func TestNewLogger_DefaultsToInfo(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := NewLogger(&config.Config{LogLevel: "bogus", LogFormat: "json"})

	ctx := context.Background()
	assert.False(t, logger.Enabled(ctx, slog.LevelDebug))
	assert.True(t, logger.Enabled(ctx, slog.LevelInfo))
}

func TestNewMetricsForTesting_IsolatedRegistries(t *testing.T) {
	// Two instances must not collide; NewMetrics would panic on re-registration.
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.ResolutionDowngrades.Inc()
	assert.NotSame(t, a.ResolutionDowngrades, b.ResolutionDowngrades)
	assert.Len(t, a.collectors(), 21)
}
