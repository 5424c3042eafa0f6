//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
	"github.com/couchcryptid/risk-grid-service/internal/observability"
	"github.com/couchcryptid/risk-grid-service/internal/retry"
)

// These tests hit the real Mapbox API and require a valid MAPBOX_TOKEN env var.
// Run with: go test -tags=mapbox ./internal/adapter/mapbox/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Fatal("MAPBOX_TOKEN must be set to run smoke tests")
	}
	return NewClient(token, 10*time.Second, retry.DefaultPolicy(),
		slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
}

func TestSmoke_Resolve(t *testing.T) {
	c := smokeClient(t)

	place, err := c.Resolve(context.Background(), "Miami, Florida")
	require.NoError(t, err)

	assert.InDelta(t, 25.77, place.Lat, 0.2, "lat should be near Miami")
	assert.InDelta(t, -80.19, place.Lon, 0.2, "lon should be near Miami")
	assert.Contains(t, place.DisplayName, "Miami")
	assert.Equal(t, "us", place.CountryCode)
	require.NotNil(t, place.BoundingBox)
	assert.NoError(t, place.BoundingBox.Validate())
}

func TestSmoke_Resolve_Country(t *testing.T) {
	c := smokeClient(t)

	place, err := c.Resolve(context.Background(), "Kenya")
	require.NoError(t, err)
	assert.Equal(t, "ke", place.CountryCode)
}

func TestSmoke_Resolve_Nonsense(t *testing.T) {
	c := smokeClient(t)

	// Mapbox's fuzzy matching may still return results for nonsense queries,
	// so the only requirement is a clean answer or a clean not-found.
	_, err := c.Resolve(context.Background(), "XYZNONEXISTENT99")
	if err != nil {
		require.ErrorIs(t, err, domain.ErrPlaceNotFound)
	}
}

func TestSmoke_CachedGeocoder(t *testing.T) {
	c := smokeClient(t)
	cached := NewCachedGeocoder(c, 10, observability.NewMetricsForTesting())

	// First call: cache miss → real API call.
	r1, err := cached.Resolve(context.Background(), "Dallas, Texas")
	require.NoError(t, err)
	assert.Contains(t, r1.DisplayName, "Dallas")

	// Second call: cache hit → no API call.
	r2, err := cached.Resolve(context.Background(), "Dallas, Texas")
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}
