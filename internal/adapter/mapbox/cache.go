package mapbox

import (
	"context"
	"strings"

	"github.com/couchcryptid/risk-grid-service/internal/cache"
	"github.com/couchcryptid/risk-grid-service/internal/domain"
	"github.com/couchcryptid/risk-grid-service/internal/observability"
)

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *cache.LRU[string, domain.Place]
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   cache.New[string, domain.Place](maxEntries),
		metrics: metrics,
	}
}

// Resolve serves repeated place names from memory.
func (c *CachedGeocoder) Resolve(ctx context.Context, place string) (domain.Place, error) {
	key := strings.ToLower(strings.TrimSpace(place))
	if result, ok := c.cache.Get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return result, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	result, err := c.inner.Resolve(ctx, place)
	if err != nil {
		// Not-found and transient errors are not cached so they can be retried.
		return result, err
	}
	c.cache.Put(key, result)
	return result, nil
}
