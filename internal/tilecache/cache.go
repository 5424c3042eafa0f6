// Package tilecache serves point elevations from Terrarium-encoded raster
// tiles through a memory LRU, an on-disk tile store and a network fetcher.
package tilecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/risk-grid-service/internal/cache"
	"github.com/couchcryptid/risk-grid-service/internal/observability"
)

// DefaultCapacity is the number of decoded tiles kept in memory.
const DefaultCapacity = 64

// TileFetcher retrieves the encoded PNG bytes of one tile.
type TileFetcher interface {
	FetchTile(ctx context.Context, z, x, y int) ([]byte, error)
}

// Options configures a Cache.
type Options struct {
	// Dir is the root of the disk tier. Empty disables it.
	Dir string

	// Capacity bounds the memory tier; values below 1 use DefaultCapacity.
	Capacity int

	// FetchTimeout bounds each network fetch. Zero means no extra bound
	// beyond the caller's context.
	FetchTimeout time.Duration
}

// Cache answers elevation queries. It is safe for concurrent use; concurrent
// misses for the same tile share a single fetch.
type Cache struct {
	dir     string
	timeout time.Duration
	fetcher TileFetcher
	mem     *cache.LRU[TileKey, *Raster]
	group   singleflight.Group
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Cache, creating the disk directory if one is configured.
func New(opts Options, fetcher TileFetcher, logger *slog.Logger, metrics *observability.Metrics) (*Cache, error) {
	if opts.Capacity < 1 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create tile cache dir: %w", err)
		}
	}
	c := &Cache{
		dir:     opts.Dir,
		timeout: opts.FetchTimeout,
		fetcher: fetcher,
		mem:     cache.New[TileKey, *Raster](opts.Capacity),
		logger:  logger,
		metrics: metrics,
	}
	c.mem.OnEvict(func(k TileKey, _ *Raster) {
		metrics.TileEvictions.Inc()
		logger.Debug("tile evicted", "tile", k.String())
	})
	return c, nil
}

// Elevation returns the elevation in metres at a point, or false when no
// tile could be obtained. A missing value is never reported as zero.
func (c *Cache) Elevation(ctx context.Context, lat, lon float64, zoom int) (float64, bool) {
	if zoom < 0 || zoom > MaxZoom {
		return 0, false
	}
	key, px, py := TileFor(lat, lon, zoom)
	r, err := c.Tile(ctx, key)
	if err != nil {
		c.logger.Debug("elevation unavailable", "tile", key.String(), "error", err)
		return 0, false
	}
	return r.At(px, py), true
}

// Tile returns the decoded raster for a tile, consulting memory, disk and
// finally the network.
func (c *Cache) Tile(ctx context.Context, key TileKey) (*Raster, error) {
	if r, ok := c.mem.Get(key); ok {
		c.metrics.TileLookups.WithLabelValues("memory", "hit").Inc()
		return r, nil
	}
	c.metrics.TileLookups.WithLabelValues("memory", "miss").Inc()

	// The shared load is detached from any single caller's cancellation so
	// that one impatient caller does not fail the others waiting on it.
	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.load(context.WithoutCancel(ctx), key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Raster), nil
	}
}

// Len reports the number of tiles held in memory.
func (c *Cache) Len() int {
	return c.mem.Len()
}

// CheckReadiness reports whether the disk tier is usable.
func (c *Cache) CheckReadiness(_ context.Context) error {
	if c.dir == "" {
		return nil
	}
	info, err := os.Stat(c.dir)
	if err != nil {
		return fmt.Errorf("tile cache dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("tile cache dir %s is not a directory", c.dir)
	}
	return nil
}

func (c *Cache) load(ctx context.Context, key TileKey) (*Raster, error) {
	// Another flight may have filled memory between the caller's miss and
	// this flight starting.
	if r, ok := c.mem.Get(key); ok {
		return r, nil
	}

	if r, ok := c.readDisk(key); ok {
		c.store(key, r)
		return r, nil
	}

	data, err := c.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	r, err := DecodeRaster(data)
	if err != nil {
		c.metrics.TileLookups.WithLabelValues("network", "error").Inc()
		return nil, fmt.Errorf("tile %s: %w", key, err)
	}
	c.writeDisk(key, data)
	c.store(key, r)
	return r, nil
}

func (c *Cache) fetch(ctx context.Context, key TileKey) ([]byte, error) {
	if c.fetcher == nil {
		return nil, errors.New("no tile fetcher configured")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	data, err := c.fetcher.FetchTile(ctx, key.Z, key.X, key.Y)
	c.metrics.TileFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.TileLookups.WithLabelValues("network", "error").Inc()
		c.logger.Warn("tile fetch failed", "tile", key.String(), "error", err)
		return nil, fmt.Errorf("fetch tile %s: %w", key, err)
	}
	c.metrics.TileLookups.WithLabelValues("network", "hit").Inc()
	return data, nil
}

func (c *Cache) store(key TileKey, r *Raster) {
	c.mem.Put(key, r)
	c.metrics.TileCacheEntries.Set(float64(c.mem.Len()))
}

func (c *Cache) path(key TileKey) string {
	return filepath.Join(c.dir, strconv.Itoa(key.Z), strconv.Itoa(key.X), strconv.Itoa(key.Y)+".png")
}

// readDisk loads a tile from disk. Undecodable files are deleted so the next
// lookup refetches them.
func (c *Cache) readDisk(key TileKey) (*Raster, bool) {
	if c.dir == "" {
		return nil, false
	}
	p := c.path(key)
	data, err := os.ReadFile(p)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("tile read failed", "path", p, "error", err)
		}
		c.metrics.TileLookups.WithLabelValues("disk", "miss").Inc()
		return nil, false
	}
	r, err := DecodeRaster(data)
	if err != nil {
		c.metrics.TileCorruptFiles.Inc()
		c.metrics.TileLookups.WithLabelValues("disk", "error").Inc()
		c.logger.Warn("corrupt tile removed", "path", p, "error", err)
		if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			c.logger.Error("remove corrupt tile", "path", p, "error", rmErr)
		}
		return nil, false
	}
	c.metrics.TileLookups.WithLabelValues("disk", "hit").Inc()
	return r, true
}

// writeDisk persists tile bytes with a temp file and rename so readers never
// observe a partial file. Failures only cost a future refetch.
func (c *Cache) writeDisk(key TileKey, data []byte) {
	if c.dir == "" {
		return
	}
	p := c.path(key)
	if err := writeAtomic(p, data); err != nil {
		c.logger.Warn("tile write failed", "path", p, "error", err)
	}
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tile-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
