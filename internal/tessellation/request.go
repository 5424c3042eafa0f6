package tessellation

import (
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
)

// Request asks for a scored hexagonal mesh over an area. Exactly one of
// BBox, Point or Place selects the area.
type Request struct {
	ID    string              `json:"id,omitempty"`
	BBox  *domain.BoundingBox `json:"bbox,omitempty"`
	Point *domain.Coordinate  `json:"point,omitempty"`
	Rings int                 `json:"rings,omitempty"` // around Point or an unbounded Place
	Place string              `json:"place,omitempty"`

	Mode   domain.ScoringMode   `json:"mode,omitempty"`
	Events []domain.HazardEvent `json:"events,omitempty"` // scored in severity mode

	Resolution *int     `json:"resolution,omitempty"`
	CellBudget int      `json:"cell_budget,omitempty"`
	Spillover  *float64 `json:"spillover,omitempty"`
	Passes     int      `json:"passes,omitempty"`

	Scenario string `json:"scenario,omitempty"`
	Year     int    `json:"year,omitempty"`
}

// Response is a packaged run: metadata plus the GeoJSON mesh.
type Response struct {
	RequestID           string             `json:"request_id"`
	Mode                domain.ScoringMode `json:"mode"`
	RequestedResolution int                `json:"requested_resolution"`
	Resolution          int                `json:"resolution"`
	Degraded            bool               `json:"degraded"`
	CellCount           int                `json:"cell_count"`
	Place               *domain.Place      `json:"place,omitempty"`
	GeneratedAt         time.Time          `json:"generated_at"`

	Collection *geojson.FeatureCollection `json:"collection"`

	// Zones mirrors the features in cell order for sinks and callers that
	// do not want to parse GeoJSON.
	Zones []domain.RiskZone `json:"-"`
}

func invalidField(field, format string, args ...any) error {
	return &domain.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func validateEvents(events []domain.HazardEvent) error {
	for i, e := range events {
		if err := domain.ValidateCoordinate(e.Lat, e.Lon); err != nil {
			return invalidField(fmt.Sprintf("events[%d]", i), "%v", err)
		}
	}
	return nil
}
