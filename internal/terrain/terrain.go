// Package terrain derives ocean membership and coastline distance from the
// elevation tiles.
package terrain

import (
	"context"
	"log/slog"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
)

// Elevations answers point elevation queries; false means unknown.
type Elevations interface {
	Elevation(ctx context.Context, lat, lon float64, zoom int) (float64, bool)
}

// DefaultProbeDistancesKm are the rings searched for open water, nearest
// first. The last entry is the largest distance ever reported.
var DefaultProbeDistancesKm = []float64{1, 2, 5, 10, 20, 50}

const bearings = 8

// Provider implements domain.TerrainProvider on top of an elevation source.
// A point is treated as ocean when its elevation is at or below sea level.
type Provider struct {
	tiles  Elevations
	zoom   int
	probes []float64
	logger *slog.Logger
}

// New creates a Provider reading tiles at the given zoom.
func New(tiles Elevations, zoom int, logger *slog.Logger) *Provider {
	return &Provider{
		tiles:  tiles,
		zoom:   zoom,
		probes: DefaultProbeDistancesKm,
		logger: logger,
	}
}

// Terrain reports elevation, ocean membership and the distance to the
// nearest water found by probing outward. Unknown values stay nil.
func (p *Provider) Terrain(ctx context.Context, lat, lon float64) domain.TerrainReading {
	elev, ok := p.tiles.Elevation(ctx, lat, lon, p.zoom)
	if !ok {
		return domain.TerrainReading{}
	}
	ocean := elev <= 0
	reading := domain.TerrainReading{ElevationMeters: &elev, Ocean: &ocean}
	if ocean {
		zero := 0.0
		reading.CoastDistanceKm = &zero
		return reading
	}
	reading.CoastDistanceKm = p.coastDistance(ctx, lat, lon)
	return reading
}

func (p *Provider) coastDistance(ctx context.Context, lat, lon float64) *float64 {
	if len(p.probes) == 0 {
		return nil
	}
	origin := orb.Point{lon, lat}
	known := false
	for _, km := range p.probes {
		for i := range bearings {
			if ctx.Err() != nil {
				return nil
			}
			pt := geo.PointAtBearingAndDistance(origin, float64(i)*360/bearings, km*1000)
			e, ok := p.tiles.Elevation(ctx, pt.Lat(), wrapLongitude(pt.Lon()), p.zoom)
			if !ok {
				continue
			}
			known = true
			if e <= 0 {
				d := km
				return &d
			}
		}
	}
	if !known {
		p.logger.Debug("coast distance unknown", "lat", lat, "lon", lon)
		return nil
	}
	farthest := p.probes[len(p.probes)-1]
	return &farthest
}

// wrapLongitude maps a longitude into [-180, 180). Probes across the
// antimeridian come back outside that range.
func wrapLongitude(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
