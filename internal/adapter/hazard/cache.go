package hazard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
	"github.com/couchcryptid/risk-grid-service/internal/observability"
)

// Store is the subset of the Redis client used by the cache.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CachedSource wraps a HazardSource with a shared Redis cache. Redis
// failures fall through to the inner source; they never fail a lookup.
type CachedSource struct {
	kind    domain.HazardKind
	inner   domain.HazardSource
	store   Store
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCachedSource creates a cache decorator around inner.
func NewCachedSource(kind domain.HazardKind, inner domain.HazardSource, store Store, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *CachedSource {
	return &CachedSource{
		kind:    kind,
		inner:   inner,
		store:   store,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

// Score returns the cached score for q, or asks the inner source and caches
// its answer.
func (c *CachedSource) Score(ctx context.Context, q domain.HazardQuery) (domain.SubScore, error) {
	key := cacheKey(c.kind, q)

	raw, err := c.store.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var s domain.SubScore
		if jsonErr := json.Unmarshal(raw, &s); jsonErr == nil {
			c.metrics.HazardCache.WithLabelValues("hit").Inc()
			return s, nil
		}
		c.metrics.HazardCache.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		c.metrics.HazardCache.WithLabelValues("miss").Inc()
	default:
		c.metrics.HazardCache.WithLabelValues("error").Inc()
		c.logger.Debug("hazard cache read failed", "key", key, "error", err)
	}

	s, err := c.inner.Score(ctx, q)
	if err != nil {
		return s, err
	}

	data, err := json.Marshal(s)
	if err == nil {
		err = c.store.Set(ctx, key, data, c.ttl).Err()
	}
	if err != nil {
		c.logger.Debug("hazard cache write failed", "key", key, "error", err)
	}
	return s, nil
}

// cacheKey rounds coordinates to four decimals (about 11 m) so nearby
// centroids of the same cell share an entry.
func cacheKey(kind domain.HazardKind, q domain.HazardQuery) string {
	return fmt.Sprintf("hazard:%s:%.4f:%.4f:%s:%d:%s", kind, q.Lat, q.Lon, q.Country, q.Year, q.Scenario)
}
