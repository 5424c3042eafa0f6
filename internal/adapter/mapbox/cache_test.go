package mapbox

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
)

// --- mock for cache tests ---

type countingGeocoder struct {
	calls  int
	result domain.Place
	err    error
}

func (m *countingGeocoder) Resolve(_ context.Context, _ string) (domain.Place, error) {
	m.calls++
	return m.result, m.err
}

// --- CachedGeocoder tests ---

func TestCachedGeocoder_CacheHit(t *testing.T) {
	inner := &countingGeocoder{
		result: domain.Place{Lat: 30.0, Lon: -97.0, DisplayName: "Austin, Texas", CountryCode: "us"},
	}
	m := testMetrics()
	cached := NewCachedGeocoder(inner, 10, m)

	r1, err := cached.Resolve(context.Background(), "Austin")
	require.NoError(t, err)
	assert.Equal(t, "Austin, Texas", r1.DisplayName)

	r2, err := cached.Resolve(context.Background(), "  AUSTIN ")
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	assert.Equal(t, 1, inner.calls, "should only call inner once")
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.GeocodeCache.WithLabelValues("hit")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.GeocodeCache.WithLabelValues("miss")), 0)
}

func TestCachedGeocoder_DifferentKeysMiss(t *testing.T) {
	inner := &countingGeocoder{result: domain.Place{DisplayName: "Place"}}
	cached := NewCachedGeocoder(inner, 10, testMetrics())

	_, _ = cached.Resolve(context.Background(), "Austin")
	_, _ = cached.Resolve(context.Background(), "Dallas")

	assert.Equal(t, 2, inner.calls)
}

func TestCachedGeocoder_ErrorsAreNotCached(t *testing.T) {
	for _, failure := range []error{domain.ErrPlaceNotFound, errors.New("mapbox API error: status 503")} {
		inner := &countingGeocoder{err: failure}
		cached := NewCachedGeocoder(inner, 10, testMetrics())

		_, err := cached.Resolve(context.Background(), "Atlantis")
		require.ErrorIs(t, err, failure)
		_, err = cached.Resolve(context.Background(), "Atlantis")
		require.ErrorIs(t, err, failure)

		assert.Equal(t, 2, inner.calls)
	}
}

func TestCachedGeocoder_EvictsLeastRecentlyUsed(t *testing.T) {
	inner := &countingGeocoder{result: domain.Place{DisplayName: "X"}}
	cached := NewCachedGeocoder(inner, 2, testMetrics())
	ctx := context.Background()

	_, _ = cached.Resolve(ctx, "a")
	_, _ = cached.Resolve(ctx, "b")
	_, _ = cached.Resolve(ctx, "a") // promote a
	_, _ = cached.Resolve(ctx, "c") // evicts b
	_, _ = cached.Resolve(ctx, "a")
	assert.Equal(t, 3, inner.calls)

	_, _ = cached.Resolve(ctx, "b")
	assert.Equal(t, 4, inner.calls)
}
