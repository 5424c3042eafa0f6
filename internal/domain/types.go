package domain

import "time"

// Coordinate is a WGS-84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundingBox is an axis-aligned latitude/longitude box. Boxes crossing the
// antimeridian are not supported: MinLon must not exceed MaxLon.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() Coordinate {
	return Coordinate{Lat: (b.MinLat + b.MaxLat) / 2, Lon: (b.MinLon + b.MaxLon) / 2}
}

// Contains reports whether c lies inside the box, edges included.
func (b BoundingBox) Contains(c Coordinate) bool {
	return c.Lat >= b.MinLat && c.Lat <= b.MaxLat && c.Lon >= b.MinLon && c.Lon <= b.MaxLon
}

// HexCell is one cell of the hexagonal grid. Cells are immutable once built.
type HexCell struct {
	ID         string       `json:"id"`
	Resolution int          `json:"resolution"`
	Centroid   Coordinate   `json:"centroid"`
	Boundary   []Coordinate `json:"boundary"` // closed ring, first == last
}

// EventType classifies the hazard behind a severity score.
type EventType string

const (
	EventConflict   EventType = "conflict"
	EventDrought    EventType = "drought"
	EventFlood      EventType = "flood"
	EventEarthquake EventType = "earthquake"
	EventWildfire   EventType = "wildfire"
	EventFamine     EventType = "famine"
	EventOther      EventType = "other"
)

// Confidence labels how much of a score rests on real data.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// rank orders confidences so the weakest one can be selected.
func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

// Lowest returns the weaker of two confidence labels.
func (c Confidence) Lowest(other Confidence) Confidence {
	if other.rank() < c.rank() {
		return other
	}
	return c
}

// SubScore is a normalized hazard score in [0,1] with the confidence reported
// by its source.
type SubScore struct {
	Value      float64    `json:"value"`
	Confidence Confidence `json:"confidence"`
}

// RiskSignal bundles the raw inputs for one cell or point. Pointer fields are
// optional; nil means the collaborator had no answer.
type RiskSignal struct {
	BaseSeverity int       `json:"base_severity"`
	EventType    EventType `json:"event_type"`
	Population   *int64    `json:"population,omitempty"`

	ElevationMeters *float64 `json:"elevation_meters,omitempty"`
	CoastDistanceKm *float64 `json:"coast_distance_km,omitempty"`
	SSTAnomalyC     *float64 `json:"sst_anomaly_c,omitempty"`

	Climate    *SubScore `json:"climate,omitempty"`
	Seismic    *SubScore `json:"seismic,omitempty"`
	Marine     *SubScore `json:"marine,omitempty"`
	Conflict   *SubScore `json:"conflict,omitempty"`
	Vegetation *SubScore `json:"vegetation,omitempty"`
}

// HazardEvent is a flagged incident at a point, the input of severity mode.
type HazardEvent struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Severity   int       `json:"severity"`
	EventType  EventType `json:"event_type"`
	Population *int64    `json:"population,omitempty"`
}

// Signal converts the event into a severity-mode signal bundle.
func (e HazardEvent) Signal() RiskSignal {
	return RiskSignal{
		BaseSeverity: e.Severity,
		EventType:    e.EventType,
		Population:   e.Population,
	}
}

// RiskZone is the scored state of one cell.
type RiskZone struct {
	CellID          string      `json:"cell_id"`
	Resolution      int         `json:"resolution"`
	BaseScore       float64     `json:"base_score"`
	NeighboringRisk float64     `json:"neighboring_risk"`
	EventType       EventType   `json:"event_type,omitempty"`
	Population      *int64      `json:"population,omitempty"`
	Mode            ScoringMode `json:"mode"`
	Confidence      Confidence  `json:"confidence"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TotalRisk is base plus neighbouring risk, capped at 100 for display.
func (z RiskZone) TotalRisk() float64 {
	return clampScore(z.BaseScore + z.NeighboringRisk)
}

// Place is a geocoded location.
type Place struct {
	Lat         float64      `json:"lat"`
	Lon         float64      `json:"lon"`
	DisplayName string       `json:"display_name"`
	CountryCode string       `json:"country_code,omitempty"`
	BoundingBox *BoundingBox `json:"bounding_box,omitempty"`
}

// TerrainReading describes the physical setting of a point. Nil fields are
// unknown.
type TerrainReading struct {
	ElevationMeters *float64 `json:"elevation_meters,omitempty"`
	CoastDistanceKm *float64 `json:"coast_distance_km,omitempty"`
	Ocean           *bool    `json:"ocean,omitempty"`
}
