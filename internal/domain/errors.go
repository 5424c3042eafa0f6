package domain

import (
	"errors"
	"fmt"
	"math"
)

// ErrPlaceNotFound is returned by geocoders when a name resolves to nothing.
var ErrPlaceNotFound = errors.New("place not found")

// ErrZoneNotFound is returned by zone stores for cells never persisted.
var ErrZoneNotFound = errors.New("zone not found")

// ValidationError reports malformed caller input. It is always a client error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// invalid builds a ValidationError with a formatted message.
func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidateCoordinate rejects NaN and out-of-range latitude/longitude.
func ValidateCoordinate(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return invalid("lat", "latitude %v outside [-90, 90]", lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return invalid("lon", "longitude %v outside [-180, 180]", lon)
	}
	return nil
}

// Validate rejects boxes with out-of-range corners or inverted edges. Boxes
// are never clamped or swapped.
func (b BoundingBox) Validate() error {
	if err := ValidateCoordinate(b.MinLat, b.MinLon); err != nil {
		return withFieldPrefix(err, "min_")
	}
	if err := ValidateCoordinate(b.MaxLat, b.MaxLon); err != nil {
		return withFieldPrefix(err, "max_")
	}
	if b.MinLat > b.MaxLat {
		return invalid("min_lat", "min_lat %v greater than max_lat %v", b.MinLat, b.MaxLat)
	}
	if b.MinLon > b.MaxLon {
		return invalid("min_lon", "min_lon %v greater than max_lon %v", b.MinLon, b.MaxLon)
	}
	return nil
}

// ValidateResolution rejects grid resolutions outside 0–15.
func ValidateResolution(res int) error {
	if res < MinResolution || res > MaxResolution {
		return invalid("resolution", "resolution %d outside [%d, %d]", res, MinResolution, MaxResolution)
	}
	return nil
}

// ValidateSpillover rejects spillover factors outside (0, 1].
func ValidateSpillover(f float64) error {
	if math.IsNaN(f) || f <= 0 || f > 1 {
		return invalid("spillover", "spillover factor %v outside (0, 1]", f)
	}
	return nil
}

func withFieldPrefix(err error, prefix string) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &ValidationError{Field: prefix + ve.Field, Message: ve.Message}
	}
	return err
}

// Grid resolution bounds.
const (
	MinResolution = 0
	MaxResolution = 15
)

// Request size ceilings. A k-ring of MaxRings holds about three million
// cells before budget degradation.
const (
	MaxRings      = 1000
	MaxCellBudget = 250_000
)

// ValidateRings rejects negative ring counts and counts above MaxRings.
func ValidateRings(rings int) error {
	if rings < 0 || rings > MaxRings {
		return invalid("rings", "rings %d outside [0, %d]", rings, MaxRings)
	}
	return nil
}

// ValidateCellBudget rejects budgets outside [1, MaxCellBudget].
func ValidateCellBudget(budget int) error {
	if budget < 1 || budget > MaxCellBudget {
		return invalid("cell_budget", "cell budget %d outside [1, %d]", budget, MaxCellBudget)
	}
	return nil
}
