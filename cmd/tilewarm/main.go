// Command tilewarm pre-fetches the elevation tiles covering a bounding box
// into the disk tier of the tile cache, so a service started with the same
// TILE_CACHE_DIR answers terrain queries without network access.
//
// Usage:
//
//	go run ./cmd/tilewarm \
//	  -bbox 25.70,-80.32,25.86,-80.13 \
//	  -zoom 10 \
//	  -dir /var/cache/risk-grid/tiles
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/risk-grid-service/internal/adapter/terrarium"
	"github.com/couchcryptid/risk-grid-service/internal/domain"
	"github.com/couchcryptid/risk-grid-service/internal/observability"
	"github.com/couchcryptid/risk-grid-service/internal/retry"
	"github.com/couchcryptid/risk-grid-service/internal/tilecache"
)

// maxTiles guards against accidentally warming a continent at high zoom.
const maxTiles = 10000

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	bboxFlag := flag.String("bbox", "", "min_lat,min_lon,max_lat,max_lon")
	zoom := flag.Int("zoom", 10, "tile zoom level (0-15)")
	dir := flag.String("dir", "", "tile cache directory")
	source := flag.String("source", "", "tile URL template with {z}/{x}/{y} (default: AWS terrain tiles)")
	workers := flag.Int("workers", 8, "concurrent downloads")
	timeout := flag.Duration("timeout", 10*time.Second, "per-tile fetch timeout")
	flag.Parse()

	if *bboxFlag == "" || *dir == "" {
		flag.Usage()
		return fmt.Errorf("-bbox and -dir are required")
	}
	bbox, err := parseBBox(*bboxFlag)
	if err != nil {
		return err
	}
	if *zoom < 0 || *zoom > tilecache.MaxZoom {
		return fmt.Errorf("zoom %d outside [0,%d]", *zoom, tilecache.MaxZoom)
	}

	lo, hi := tilecache.TileRange(bbox.MinLat, bbox.MinLon, bbox.MaxLat, bbox.MaxLon, *zoom)
	total := (hi.X - lo.X + 1) * (hi.Y - lo.Y + 1)
	if total > maxTiles {
		return fmt.Errorf("%d tiles requested, limit is %d; lower -zoom or shrink -bbox", total, maxTiles)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	fetcher, err := terrarium.NewClient(*source, retry.DefaultPolicy(), logger)
	if err != nil {
		return err
	}
	cache, err := tilecache.New(tilecache.Options{Dir: *dir, Capacity: 1, FetchTimeout: *timeout},
		fetcher, logger, observability.NewMetricsForTesting())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ok, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, *workers))
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			key := tilecache.TileKey{Z: *zoom, X: x, Y: y}
			g.Go(func() error {
				if _, err := cache.Tile(gctx, key); err != nil {
					failed.Add(1)
					logger.Warn("tile unavailable", "tile", key.String(), "error", err)
					return nil
				}
				ok.Add(1)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("warmed %d/%d tiles at zoom %d into %s (%d failed)\n", ok.Load(), total, *zoom, *dir, failed.Load())
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func parseBBox(s string) (domain.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return domain.BoundingBox{}, fmt.Errorf("bbox needs 4 comma-separated values, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.BoundingBox{}, fmt.Errorf("bbox value %q: %w", p, err)
		}
		v[i] = f
	}
	b := domain.BoundingBox{MinLat: v[0], MinLon: v[1], MaxLat: v[2], MaxLon: v[3]}
	return b, b.Validate()
}
