package tilecache

import (
	"fmt"
	"math"
)

const (
	// TileSize is the pixel width and height of a raster tile.
	TileSize = 256

	// MaxLatitude is the Web Mercator latitude limit; inputs beyond it are
	// clamped.
	MaxLatitude = 85.0511

	// MaxZoom is the deepest zoom the elevation tiles are published at.
	MaxZoom = 15
)

// TileKey identifies one slippy-map tile.
type TileKey struct {
	Z int
	X int
	Y int
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Z, k.X, k.Y)
}

// TileFor projects a point onto the Web Mercator tile grid at a zoom level
// and returns the tile plus the pixel offset inside it.
func TileFor(lat, lon float64, zoom int) (key TileKey, px, py int) {
	lat = math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
	n := math.Exp2(float64(zoom))
	xf := (lon + 180) / 360 * n
	yf := (1 - math.Atanh(math.Sin(lat*math.Pi/180))/math.Pi) / 2 * n

	last := int(n) - 1
	tx := clampInt(int(math.Floor(xf)), 0, last)
	ty := clampInt(int(math.Floor(yf)), 0, last)
	px = clampInt(int(math.Floor((xf-float64(tx))*TileSize)), 0, TileSize-1)
	py = clampInt(int(math.Floor((yf-float64(ty))*TileSize)), 0, TileSize-1)
	return TileKey{Z: zoom, X: tx, Y: ty}, px, py
}

// TileRange returns the inclusive tile span covering a box at a zoom level.
func TileRange(minLat, minLon, maxLat, maxLon float64, zoom int) (lo, hi TileKey) {
	// Tile rows grow southward, so the north-west corner has the lowest y.
	lo, _, _ = TileFor(maxLat, minLon, zoom)
	hi, _, _ = TileFor(minLat, maxLon, zoom)
	return lo, hi
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
