package domain

import "context"

// HazardKind names an external hazard feed.
type HazardKind string

const (
	HazardSeismic    HazardKind = "seismic"
	HazardMarine     HazardKind = "marine"
	HazardConflict   HazardKind = "conflict"
	HazardVegetation HazardKind = "vegetation"
)

// HazardKinds lists every kind in a stable order.
var HazardKinds = []HazardKind{HazardSeismic, HazardMarine, HazardConflict, HazardVegetation}

// HazardQuery locates a hazard lookup. Country and Year are optional.
type HazardQuery struct {
	Lat      float64
	Lon      float64
	Country  string
	Year     int
	Scenario string
}

// HazardSource scores one hazard at a point.
type HazardSource interface {
	// Score returns a value in [0,1] and a confidence label.
	Score(ctx context.Context, q HazardQuery) (SubScore, error)
}

// TerrainProvider describes the physical setting of a point: elevation,
// ocean membership and distance to the nearest coastline.
type TerrainProvider interface {
	Terrain(ctx context.Context, lat, lon float64) TerrainReading
}

// Geocoder resolves place names.
type Geocoder interface {
	// Resolve returns ErrPlaceNotFound when nothing matches.
	Resolve(ctx context.Context, place string) (Place, error)
}
