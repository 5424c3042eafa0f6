package tilecache

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/risk-grid-service/internal/observability"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// encodeTile builds a uniform Terrarium tile.
func encodeTile(t *testing.T, size int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// 128,100,128 decodes to 100.5 m.
var seaLevelPlus100 = color.NRGBA{R: 128, G: 100, B: 128, A: 255}

type fakeFetcher struct {
	mu    sync.Mutex
	data  []byte
	err   error
	calls atomic.Int32
	gate  chan struct{} // when set, fetches block until closed
	seen  []TileKey
}

func (f *fakeFetcher) FetchTile(ctx context.Context, z, x, y int) ([]byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, TileKey{Z: z, X: x, Y: y})
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func newCache(t *testing.T, opts Options, f TileFetcher) (*Cache, *observability.Metrics) {
	t.Helper()
	m := observability.NewMetricsForTesting()
	c, err := New(opts, f, discardLogger(), m)
	require.NoError(t, err)
	return c, m
}

func TestTileFor(t *testing.T) {
	key, px, py := TileFor(0, 0, 0)
	assert.Equal(t, TileKey{Z: 0, X: 0, Y: 0}, key)
	assert.Equal(t, 128, px)
	assert.Equal(t, 128, py)

	key, _, _ = TileFor(52.52, 13.405, 10)
	assert.Equal(t, TileKey{Z: 10, X: 550, Y: 335}, key)

	key, px, _ = TileFor(0, 180, 3)
	assert.Equal(t, 7, key.X, "east edge stays on the grid")
	assert.Equal(t, TileSize-1, px)

	north, _, _ := TileFor(89.9, 0, 4)
	limit, _, _ := TileFor(MaxLatitude, 0, 4)
	assert.Equal(t, limit, north, "latitude is clamped")
	assert.Equal(t, 0, north.Y)
}

func TestTileRange(t *testing.T) {
	lo, hi := TileRange(25.70, -80.30, 25.85, -80.15, 10)
	assert.LessOrEqual(t, lo.X, hi.X)
	assert.LessOrEqual(t, lo.Y, hi.Y)
}

func TestDecodeTerrarium(t *testing.T) {
	assert.InDelta(t, -32768.0, DecodeTerrarium(0, 0, 0), 1e-9)
	assert.InDelta(t, 0.0, DecodeTerrarium(128, 0, 0), 1e-9)
	assert.InDelta(t, 100.5, DecodeTerrarium(128, 100, 128), 1e-9)
}

func TestDecodeRaster(t *testing.T) {
	r, err := DecodeRaster(encodeTile(t, TileSize, seaLevelPlus100))
	require.NoError(t, err)
	assert.InDelta(t, 100.5, r.At(0, 0), 1e-6)
	assert.InDelta(t, 100.5, r.At(255, 255), 1e-6)

	_, err = DecodeRaster(encodeTile(t, 64, seaLevelPlus100))
	require.Error(t, err, "wrong dimensions")

	_, err = DecodeRaster([]byte("not a png"))
	require.Error(t, err)
}

func TestCache_FetchesThenServesFromMemory(t *testing.T) {
	f := &fakeFetcher{data: encodeTile(t, TileSize, seaLevelPlus100)}
	c, m := newCache(t, Options{}, f)

	v, ok := c.Elevation(context.Background(), 25.76, -80.19, 10)
	require.True(t, ok)
	assert.InDelta(t, 100.5, v, 1e-6)

	v, ok = c.Elevation(context.Background(), 25.76, -80.19, 10)
	require.True(t, ok)
	assert.InDelta(t, 100.5, v, 1e-6)

	assert.Equal(t, int32(1), f.calls.Load())
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.TileLookups.WithLabelValues("memory", "hit")), 0)
}

func TestCache_ZeroPixelIsNotAbsent(t *testing.T) {
	f := &fakeFetcher{data: encodeTile(t, TileSize, color.NRGBA{A: 255})}
	c, _ := newCache(t, Options{}, f)

	v, ok := c.Elevation(context.Background(), 0, 0, 0)
	require.True(t, ok)
	assert.InDelta(t, -32768.0, v, 1e-9)
}

func TestCache_PersistsToDiskAndReloads(t *testing.T) {
	dir := t.TempDir()
	f := &fakeFetcher{data: encodeTile(t, TileSize, seaLevelPlus100)}
	c, _ := newCache(t, Options{Dir: dir}, f)

	_, ok := c.Elevation(context.Background(), 0, 0, 2)
	require.True(t, ok)
	key, _, _ := TileFor(0, 0, 2)
	assert.FileExists(t, filepath.Join(dir, "2", "2", "2.png"))
	assert.Equal(t, TileKey{Z: 2, X: 2, Y: 2}, key)

	// A fresh cache over the same directory never touches the network.
	offline := &fakeFetcher{err: errors.New("offline")}
	c2, m2 := newCache(t, Options{Dir: dir}, offline)
	v, ok := c2.Elevation(context.Background(), 0, 0, 2)
	require.True(t, ok)
	assert.InDelta(t, 100.5, v, 1e-6)
	assert.Equal(t, int32(0), offline.calls.Load())
	assert.InDelta(t, 1.0, testutil.ToFloat64(m2.TileLookups.WithLabelValues("disk", "hit")), 0)
}

func TestCache_CorruptDiskTileIsReplaced(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "1", "1", "1.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("truncated garbage"), 0o644))

	f := &fakeFetcher{data: encodeTile(t, TileSize, seaLevelPlus100)}
	c, m := newCache(t, Options{Dir: dir}, f)

	v, ok := c.Elevation(context.Background(), -10, 10, 1)
	require.True(t, ok)
	assert.InDelta(t, 100.5, v, 1e-6)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.TileCorruptFiles), 0)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	_, err = DecodeRaster(data)
	assert.NoError(t, err, "corrupt file was overwritten with a good tile")
}

func TestCache_NeverExceedsCapacity(t *testing.T) {
	f := &fakeFetcher{data: encodeTile(t, TileSize, seaLevelPlus100)}
	c, m := newCache(t, Options{Capacity: 2}, f)
	ctx := context.Background()

	keys := []TileKey{{Z: 3, X: 0, Y: 0}, {Z: 3, X: 1, Y: 0}, {Z: 3, X: 2, Y: 0}}
	for _, k := range keys {
		_, err := c.Tile(ctx, k)
		require.NoError(t, err)
		assert.LessOrEqual(t, c.Len(), 2)
	}
	assert.Equal(t, 2, c.Len())
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.TileEvictions), 0)

	// The evicted tile is fetched again.
	_, err := c.Tile(ctx, keys[0])
	require.NoError(t, err)
	assert.Equal(t, int32(4), f.calls.Load())
}

func TestCache_FetchFailureIsAbsentAndNotCached(t *testing.T) {
	dir := t.TempDir()
	f := &fakeFetcher{err: errors.New("503")}
	c, _ := newCache(t, Options{Dir: dir}, f)

	_, ok := c.Elevation(context.Background(), 0, 0, 4)
	assert.False(t, ok)
	_, ok = c.Elevation(context.Background(), 0, 0, 4)
	assert.False(t, ok)
	assert.Equal(t, int32(2), f.calls.Load(), "failures are retried on the next lookup")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCache_UndecodableFetchIsAbsent(t *testing.T) {
	dir := t.TempDir()
	f := &fakeFetcher{data: []byte("<html>rate limited</html>")}
	c, _ := newCache(t, Options{Dir: dir}, f)

	_, ok := c.Elevation(context.Background(), 0, 0, 4)
	assert.False(t, ok)
	assert.NoFileExists(t, filepath.Join(dir, "4", "8", "8.png"))
}

func TestCache_FetchTimeout(t *testing.T) {
	f := &fakeFetcher{data: encodeTile(t, TileSize, seaLevelPlus100), gate: make(chan struct{})}
	defer close(f.gate)
	c, _ := newCache(t, Options{FetchTimeout: 20 * time.Millisecond}, f)

	start := time.Now()
	_, ok := c.Elevation(context.Background(), 0, 0, 5)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCache_CallerCancellation(t *testing.T) {
	f := &fakeFetcher{data: encodeTile(t, TileSize, seaLevelPlus100), gate: make(chan struct{})}
	defer close(f.gate)
	c, _ := newCache(t, Options{}, f)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := c.Elevation(ctx, 0, 0, 5)
	assert.False(t, ok)
}

func TestCache_ConcurrentMissesShareOneFetch(t *testing.T) {
	f := &fakeFetcher{data: encodeTile(t, TileSize, seaLevelPlus100), gate: make(chan struct{})}
	c, _ := newCache(t, Options{}, f)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]bool, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = c.Elevation(context.Background(), 12.5, 45.1, 9)
		}()
	}

	require.Eventually(t, func() bool { return f.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	for i, ok := range results {
		assert.True(t, ok, "caller %d", i)
	}
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestCache_ZoomOutOfRange(t *testing.T) {
	f := &fakeFetcher{data: encodeTile(t, TileSize, seaLevelPlus100)}
	c, _ := newCache(t, Options{}, f)

	_, ok := c.Elevation(context.Background(), 0, 0, MaxZoom+1)
	assert.False(t, ok)
	_, ok = c.Elevation(context.Background(), 0, 0, -1)
	assert.False(t, ok)
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestCache_CheckReadiness(t *testing.T) {
	dir := t.TempDir()
	c, _ := newCache(t, Options{Dir: dir}, nil)
	require.NoError(t, c.CheckReadiness(context.Background()))

	require.NoError(t, os.RemoveAll(dir))
	assert.Error(t, c.CheckReadiness(context.Background()))
}
