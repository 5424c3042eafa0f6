package tessellation

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
)

// packageZones renders one polygon feature per cell. Property names are
// camelCase because map clients consume them directly.
func packageZones(cells []domain.HexCell, zones []domain.RiskZone) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, cell := range cells {
		z := zones[i]
		ring := make(orb.Ring, len(cell.Boundary))
		for j, v := range cell.Boundary {
			ring[j] = orb.Point{v.Lon, v.Lat}
		}

		f := geojson.NewFeature(orb.Polygon{ring})
		f.ID = cell.ID
		f.Properties["cellId"] = cell.ID
		f.Properties["resolution"] = cell.Resolution
		f.Properties["baseScore"] = z.BaseScore
		f.Properties["neighboringRisk"] = z.NeighboringRisk
		f.Properties["totalRisk"] = z.TotalRisk()
		f.Properties["mode"] = string(z.Mode)
		f.Properties["confidence"] = string(z.Confidence)
		f.Properties["updatedAt"] = z.UpdatedAt.Format(time.RFC3339)
		if z.EventType != "" {
			f.Properties["eventType"] = string(z.EventType)
		}
		if z.Population != nil {
			f.Properties["population"] = *z.Population
		}
		fc.Append(f)
	}
	return fc
}
