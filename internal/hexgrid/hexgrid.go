// Package hexgrid wraps the H3 hierarchical hexagonal grid: cell generation
// for bounding boxes and rings, edge adjacency, boundaries and cell-count
// estimates used to enforce budgets before generating anything.
package hexgrid

import (
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	h3 "github.com/uber/h3-go/v4"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
)

// maxSliceWidthDeg bounds the longitudinal width of a polygon handed to H3;
// wider polygons have ambiguous edge directions on the sphere.
const maxSliceWidthDeg = 90.0

// CellID returns the id of the cell containing a point.
func CellID(lat, lon float64, res int) (string, error) {
	c, err := cellAt(lat, lon, res)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// Cell builds the full HexCell for an id.
func Cell(id string) (domain.HexCell, error) {
	c, err := parseCell(id)
	if err != nil {
		return domain.HexCell{}, err
	}
	return toHexCell(c)
}

// CellsForBoundingBox returns every cell whose area intersects the box,
// ordered by id. A box smaller than one cell yields the cell at its center.
func CellsForBoundingBox(bbox domain.BoundingBox, res int) ([]domain.HexCell, error) {
	if err := bbox.Validate(); err != nil {
		return nil, err
	}
	if err := domain.ValidateResolution(res); err != nil {
		return nil, err
	}

	seeds := make(map[h3.Cell]struct{})
	center, err := cellAt(bbox.Center().Lat, bbox.Center().Lon, res)
	if err != nil {
		return nil, err
	}
	seeds[center] = struct{}{}

	for _, slice := range splitByLongitude(bbox) {
		if slice.MinLat == slice.MaxLat || slice.MinLon == slice.MaxLon {
			continue
		}
		cells, err := h3.PolygonToCells(boxPolygon(slice), res)
		if err != nil {
			return nil, fmt.Errorf("polyfill bounding box: %w", err)
		}
		for _, c := range cells {
			seeds[c] = struct{}{}
		}
	}

	// Polyfill only keeps cells whose centre is inside the polygon. One ring
	// of dilation picks up the edge cells, which are then filtered exactly.
	candidates := make(map[h3.Cell]struct{}, len(seeds)*2)
	for c := range seeds {
		ring, err := c.GridDisk(1)
		if err != nil {
			return nil, fmt.Errorf("dilate cell %s: %w", c, err)
		}
		for _, n := range ring {
			if n != 0 {
				candidates[n] = struct{}{}
			}
		}
	}

	out := make([]domain.HexCell, 0, len(candidates))
	for c := range candidates {
		hc, err := toHexCell(c)
		if err != nil {
			return nil, err
		}
		if c == center || intersectsBox(hc, bbox) {
			out = append(out, hc)
		}
	}
	slices.SortFunc(out, func(a, b domain.HexCell) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// CellsAroundPoint returns the cell containing the point plus every cell
// within the given number of rings. Ring counts beyond RingsCoveringGlobe
// are clamped.
func CellsAroundPoint(lat, lon float64, res, rings int) ([]domain.HexCell, error) {
	if rings < 0 {
		return nil, &domain.ValidationError{Field: "rings", Message: fmt.Sprintf("rings %d must not be negative", rings)}
	}
	origin, err := cellAt(lat, lon, res)
	if err != nil {
		return nil, err
	}
	rings = min(rings, RingsCoveringGlobe(res))
	disk, err := origin.GridDisk(rings)
	if err != nil {
		return nil, fmt.Errorf("grid disk around %s: %w", origin, err)
	}
	out := make([]domain.HexCell, 0, len(disk))
	for _, c := range disk {
		if c == 0 {
			continue
		}
		hc, err := toHexCell(c)
		if err != nil {
			return nil, err
		}
		out = append(out, hc)
	}
	return out, nil
}

// Neighbors returns the cells sharing an edge with id: six for a hexagon,
// five for a pentagon.
func Neighbors(id string) ([]string, error) {
	c, err := parseCell(id)
	if err != nil {
		return nil, err
	}
	disk, err := c.GridDisk(1)
	if err != nil {
		return nil, fmt.Errorf("grid disk around %s: %w", id, err)
	}
	out := make([]string, 0, 6)
	for _, n := range disk {
		if n != 0 && n != c {
			out = append(out, n.String())
		}
	}
	slices.Sort(out)
	return out, nil
}

// Adjacency builds the neighbour map for a set of cells, restricted to
// neighbours that are themselves in the set.
func Adjacency(cells []domain.HexCell) (domain.Adjacency, error) {
	present := make(map[string]struct{}, len(cells))
	for _, c := range cells {
		present[c.ID] = struct{}{}
	}
	adj := make(domain.Adjacency, len(cells))
	for _, c := range cells {
		ns, err := Neighbors(c.ID)
		if err != nil {
			return nil, err
		}
		kept := ns[:0]
		for _, n := range ns {
			if _, ok := present[n]; ok {
				kept = append(kept, n)
			}
		}
		adj[c.ID] = kept
	}
	return adj, nil
}

// Boundary returns the closed vertex ring of a cell.
func Boundary(id string) ([]domain.Coordinate, error) {
	c, err := parseCell(id)
	if err != nil {
		return nil, err
	}
	return boundaryOf(c)
}

func cellAt(lat, lon float64, res int) (h3.Cell, error) {
	if err := domain.ValidateCoordinate(lat, lon); err != nil {
		return 0, err
	}
	if err := domain.ValidateResolution(res); err != nil {
		return 0, err
	}
	c, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), res)
	if err != nil {
		return 0, fmt.Errorf("index point (%v, %v): %w", lat, lon, err)
	}
	return c, nil
}

func parseCell(id string) (h3.Cell, error) {
	v, err := strconv.ParseUint(id, 16, 64)
	if err != nil {
		return 0, &domain.ValidationError{Field: "cell_id", Message: fmt.Sprintf("malformed cell id %q", id)}
	}
	c := h3.Cell(v)
	if !c.IsValid() {
		return 0, &domain.ValidationError{Field: "cell_id", Message: fmt.Sprintf("unknown cell id %q", id)}
	}
	return c, nil
}

func toHexCell(c h3.Cell) (domain.HexCell, error) {
	ll, err := c.LatLng()
	if err != nil {
		return domain.HexCell{}, fmt.Errorf("centroid of %s: %w", c, err)
	}
	boundary, err := boundaryOf(c)
	if err != nil {
		return domain.HexCell{}, err
	}
	return domain.HexCell{
		ID:         c.String(),
		Resolution: c.Resolution(),
		Centroid:   domain.Coordinate{Lat: ll.Lat, Lon: ll.Lng},
		Boundary:   boundary,
	}, nil
}

func boundaryOf(c h3.Cell) ([]domain.Coordinate, error) {
	b, err := c.Boundary()
	if err != nil {
		return nil, fmt.Errorf("boundary of %s: %w", c, err)
	}
	ring := make([]domain.Coordinate, 0, len(b)+1)
	for _, v := range b {
		ring = append(ring, domain.Coordinate{Lat: v.Lat, Lon: v.Lng})
	}
	if len(ring) > 0 {
		ring = append(ring, ring[0])
	}
	return ring, nil
}

func boxPolygon(b domain.BoundingBox) h3.GeoPolygon {
	return h3.GeoPolygon{
		GeoLoop: h3.GeoLoop{
			h3.NewLatLng(b.MinLat, b.MinLon),
			h3.NewLatLng(b.MinLat, b.MaxLon),
			h3.NewLatLng(b.MaxLat, b.MaxLon),
			h3.NewLatLng(b.MaxLat, b.MinLon),
		},
	}
}

func splitByLongitude(b domain.BoundingBox) []domain.BoundingBox {
	width := b.MaxLon - b.MinLon
	n := max(1, int(math.Ceil(width/maxSliceWidthDeg)))
	step := width / float64(n)
	out := make([]domain.BoundingBox, 0, n)
	for i := range n {
		s := b
		s.MinLon = b.MinLon + float64(i)*step
		if i < n-1 {
			s.MaxLon = s.MinLon + step
		}
		out = append(out, s)
	}
	return out
}

// intersectsBox reports whether a cell's area overlaps the box. Coordinates
// are treated as planar, which holds for cells that do not straddle the
// antimeridian.
func intersectsBox(c domain.HexCell, b domain.BoundingBox) bool {
	if b.Contains(c.Centroid) {
		return true
	}
	for _, v := range c.Boundary {
		if b.Contains(v) {
			return true
		}
	}

	ring := make(orb.Ring, 0, len(c.Boundary))
	for _, v := range c.Boundary {
		ring = append(ring, orb.Point{v.Lon, v.Lat})
	}
	corners := []orb.Point{
		{b.MinLon, b.MinLat},
		{b.MaxLon, b.MinLat},
		{b.MaxLon, b.MaxLat},
		{b.MinLon, b.MaxLat},
	}
	for _, p := range corners {
		if planar.RingContains(ring, p) {
			return true
		}
	}

	for i := 0; i+1 < len(ring); i++ {
		for j := range corners {
			if segmentsCross(ring[i], ring[i+1], corners[j], corners[(j+1)%len(corners)]) {
				return true
			}
		}
	}
	return false
}

func segmentsCross(p1, p2, q1, q2 orb.Point) bool {
	d1 := orientation(q1, q2, p1)
	d2 := orientation(q1, q2, p2)
	d3 := orientation(p1, p2, q1)
	d4 := orientation(p1, p2, q2)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

func orientation(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}
