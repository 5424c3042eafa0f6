package hexgrid

import (
	"fmt"
	"math"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
)

// EarthRadiusKm is the mean Earth radius.
const EarthRadiusKm = 6371.0088

// averageAreaKm2 is the mean hexagon area per resolution, from the H3 tables.
var averageAreaKm2 = [...]float64{
	4357449.416078383,
	609788.441794133,
	86801.780398997,
	12393.434655088,
	1770.347654491,
	252.903858182,
	36.129062164,
	5.161293360,
	0.737327598,
	0.105332513,
	0.015047502,
	0.002149643,
	0.000307092,
	0.000043870,
	0.000006267,
	0.000000895,
}

// totalCells is the number of cells covering the globe at resolution r:
// 2 + 120*7^r.
func totalCells(res int) int {
	return 2 + 120*int(math.Pow(7, float64(res)))
}

// AverageCellAreaKm2 returns the mean cell area at a resolution.
func AverageCellAreaKm2(res int) (float64, error) {
	if err := domain.ValidateResolution(res); err != nil {
		return 0, err
	}
	return averageAreaKm2[res], nil
}

// BoundingBoxAreaKm2 is the spherical area of a latitude/longitude box.
func BoundingBoxAreaKm2(b domain.BoundingBox) float64 {
	dLon := (b.MaxLon - b.MinLon) * math.Pi / 180
	s := math.Sin(b.MaxLat*math.Pi/180) - math.Sin(b.MinLat*math.Pi/180)
	return math.Abs(EarthRadiusKm * EarthRadiusKm * dLon * s)
}

// EstimateBoundingBoxCells predicts how many cells CellsForBoundingBox will
// return without generating them: interior cells from the area ratio plus
// one band of partially covered cells along the perimeter.
func EstimateBoundingBoxCells(b domain.BoundingBox, res int) (int, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	cellArea, err := AverageCellAreaKm2(res)
	if err != nil {
		return 0, err
	}

	area := BoundingBoxAreaKm2(b)
	midLat := (b.MinLat + b.MaxLat) / 2 * math.Pi / 180
	widthKm := (b.MaxLon - b.MinLon) * math.Pi / 180 * EarthRadiusKm * math.Cos(midLat)
	heightKm := (b.MaxLat - b.MinLat) * math.Pi / 180 * EarthRadiusKm
	perimeter := 2 * (math.Abs(widthKm) + heightKm)

	est := area/cellArea + perimeter/math.Sqrt(cellArea) + 1
	return int(math.Min(math.Ceil(est), float64(totalCells(res)))), nil
}

// maxExactRings is the largest ring count whose cell count fits an int.
const maxExactRings = 1 << 30

// EstimateRingCells is the exact number of cells in a k-ring around a
// hexagon: 3k(k+1)+1. It saturates at math.MaxInt.
func EstimateRingCells(rings int) (int, error) {
	if rings < 0 {
		return 0, &domain.ValidationError{Field: "rings", Message: fmt.Sprintf("rings %d must not be negative", rings)}
	}
	if rings > maxExactRings {
		return math.MaxInt, nil
	}
	return 3*rings*(rings+1) + 1, nil
}

// RingsCoveringGlobe bounds the grid distance between any two cells at a
// resolution. A k-ring with k at or above it holds every cell, so larger
// ring counts are clamped to it.
func RingsCoveringGlobe(res int) int {
	return int(math.Ceil(math.Sqrt(float64(totalCells(res))))) + 2
}

// EstimatePointCells predicts the size of CellsAroundPoint at a resolution,
// never more than the cells on the globe.
func EstimatePointCells(rings, res int) (int, error) {
	if err := domain.ValidateResolution(res); err != nil {
		return 0, err
	}
	n, err := EstimateRingCells(min(rings, RingsCoveringGlobe(res)))
	if err != nil {
		return 0, err
	}
	return min(n, totalCells(res)), nil
}
