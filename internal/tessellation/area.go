package tessellation

import (
	"math"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
	"github.com/couchcryptid/risk-grid-service/internal/hexgrid"
)

// area is either a bounding box or a k-ring around a centre point.
type area struct {
	bbox   *domain.BoundingBox
	center domain.Coordinate
	rings  int
}

func (a area) estimate(res int) (int, error) {
	if a.bbox != nil {
		return hexgrid.EstimateBoundingBoxCells(*a.bbox, res)
	}
	return hexgrid.EstimatePointCells(a.rings, res)
}

func (a area) cells(res int) ([]domain.HexCell, error) {
	if a.bbox != nil {
		return hexgrid.CellsForBoundingBox(*a.bbox, res)
	}
	return hexgrid.CellsAroundPoint(a.center.Lat, a.center.Lon, res, a.rings)
}

// coarser returns the area to use one resolution down. A box is unchanged;
// a ring keeps roughly the same ground radius, since cell edges grow by
// about sqrt(7) per level.
func (a area) coarser() area {
	if a.bbox == nil {
		a.rings = int(math.Ceil(float64(a.rings) / math.Sqrt(7)))
	}
	return a
}
