package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
	"github.com/couchcryptid/risk-grid-service/internal/hexgrid"
	"github.com/couchcryptid/risk-grid-service/internal/tessellation"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, body errorBody) {
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

// writeTessellationError maps service errors to HTTP statuses.
func (s *Server) writeTessellationError(c *gin.Context, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(c, http.StatusBadRequest, errorBody{Code: "invalid_argument", Field: ve.Field, Message: ve.Message})
	case errors.Is(err, domain.ErrPlaceNotFound):
		writeError(c, http.StatusNotFound, errorBody{Code: "not_found", Field: "place", Message: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusGatewayTimeout, errorBody{Code: "timeout", Message: "tessellation did not finish in time"})
	default:
		s.logger.Error("tessellation request failed", "error", err)
		writeError(c, http.StatusInternalServerError, errorBody{Code: "internal", Message: "internal error"})
	}
}

// handleCreateTessellation runs a tessellation described by a JSON body.
// POST /v1/tessellations
func (s *Server) handleCreateTessellation(c *gin.Context) {
	var req tessellation.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, errorBody{Code: "invalid_body", Message: err.Error()})
		return
	}
	s.tessellate(c, req)
}

// handleQueryTessellation runs a tessellation described by query parameters.
// GET /v1/tessellations?min_lat=..&min_lon=..&max_lat=..&max_lon=..&resolution=7
// GET /v1/tessellations?lat=..&lon=..&rings=3
// GET /v1/tessellations?place=Nairobi&mode=weighted&scenario=ssp245&year=2050
func (s *Server) handleQueryTessellation(c *gin.Context) {
	req, err := requestFromQuery(c)
	if err != nil {
		s.writeTessellationError(c, err)
		return
	}
	s.tessellate(c, req)
}

func (s *Server) tessellate(c *gin.Context, req tessellation.Request) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.api.RequestTimeout)
	defer cancel()

	resp, err := s.api.Tessellator.Tessellate(ctx, req)
	if err != nil {
		s.writeTessellationError(c, err)
		return
	}

	if c.Query("format") == "geojson" {
		c.JSON(http.StatusOK, resp.Collection)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleElevation returns the terrain height at a point.
// GET /v1/elevation?lat=..&lon=..&zoom=10
func (s *Server) handleElevation(c *gin.Context) {
	if s.api.Elevation == nil {
		writeError(c, http.StatusServiceUnavailable, errorBody{Code: "unavailable", Message: "elevation tiles are not configured"})
		return
	}

	q := queryParser{c: c}
	lat := q.requiredFloat("lat")
	lon := q.requiredFloat("lon")
	zoom := s.api.ElevationZoom
	if z := q.optionalInt("zoom"); z != nil {
		zoom = *z
	}
	if q.err != nil {
		s.writeTessellationError(c, q.err)
		return
	}
	if err := domain.ValidateCoordinate(lat, lon); err != nil {
		s.writeTessellationError(c, err)
		return
	}
	if zoom < 0 || zoom > 15 {
		s.writeTessellationError(c, &domain.ValidationError{Field: "zoom", Message: "must be between 0 and 15"})
		return
	}

	elev, ok := s.api.Elevation.Elevation(c.Request.Context(), lat, lon, zoom)
	body := gin.H{"lat": lat, "lon": lon, "zoom": zoom, "available": ok}
	if ok {
		body["elevation_meters"] = elev
	}
	c.JSON(http.StatusOK, body)
}

// handleGetZone returns the last persisted state of one cell.
// GET /v1/zones/:cell_id
func (s *Server) handleGetZone(c *gin.Context) {
	if s.api.Zones == nil {
		writeError(c, http.StatusServiceUnavailable, errorBody{Code: "unavailable", Message: "zone store is not configured"})
		return
	}

	cell, err := hexgrid.Cell(c.Param("cell_id"))
	if err != nil {
		s.writeTessellationError(c, err)
		return
	}

	z, err := s.api.Zones.GetZone(c.Request.Context(), cell.ID)
	if errors.Is(err, domain.ErrZoneNotFound) {
		writeError(c, http.StatusNotFound, errorBody{Code: "not_found", Field: "cell_id", Message: err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("zone lookup failed", "cell_id", c.Param("cell_id"), "error", err)
		writeError(c, http.StatusInternalServerError, errorBody{Code: "internal", Message: "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"zone": z, "total_risk": z.TotalRisk(), "centroid": cell.Centroid})
}

// requestFromQuery builds a request from query parameters. The area
// selector rules are enforced by the service.
func requestFromQuery(c *gin.Context) (tessellation.Request, error) {
	q := queryParser{c: c}
	req := tessellation.Request{
		Place:    c.Query("place"),
		Mode:     domain.ScoringMode(c.Query("mode")),
		Scenario: c.Query("scenario"),
	}

	minLat, minLon := q.optionalFloat("min_lat"), q.optionalFloat("min_lon")
	maxLat, maxLon := q.optionalFloat("max_lat"), q.optionalFloat("max_lon")
	if minLat != nil || minLon != nil || maxLat != nil || maxLon != nil {
		if minLat == nil || minLon == nil || maxLat == nil || maxLon == nil {
			return req, &domain.ValidationError{Field: "bbox", Message: "min_lat, min_lon, max_lat and max_lon are all required"}
		}
		req.BBox = &domain.BoundingBox{MinLat: *minLat, MinLon: *minLon, MaxLat: *maxLat, MaxLon: *maxLon}
	}

	lat, lon := q.optionalFloat("lat"), q.optionalFloat("lon")
	if lat != nil || lon != nil {
		if lat == nil || lon == nil {
			return req, &domain.ValidationError{Field: "point", Message: "lat and lon are both required"}
		}
		req.Point = &domain.Coordinate{Lat: *lat, Lon: *lon}
	}

	if v := q.optionalInt("rings"); v != nil {
		req.Rings = *v
	}
	req.Resolution = q.optionalInt("resolution")
	if v := q.optionalInt("budget"); v != nil {
		req.CellBudget = *v
	}
	req.Spillover = q.optionalFloat("spillover")
	if v := q.optionalInt("passes"); v != nil {
		req.Passes = *v
	}
	if v := q.optionalInt("year"); v != nil {
		req.Year = *v
	}

	return req, q.err
}

// queryParser reads typed query parameters and keeps the first error.
type queryParser struct {
	c   *gin.Context
	err error
}

func (q *queryParser) invalid(name, msg string) {
	if q.err == nil {
		q.err = &domain.ValidationError{Field: name, Message: msg}
	}
}

func (q *queryParser) optionalFloat(name string) *float64 {
	s, ok := q.c.GetQuery(name)
	if !ok || s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		q.invalid(name, "must be a number")
		return nil
	}
	return &f
}

func (q *queryParser) requiredFloat(name string) float64 {
	f := q.optionalFloat(name)
	if f == nil {
		q.invalid(name, "is required")
		return 0
	}
	return *f
}

func (q *queryParser) optionalInt(name string) *int {
	s, ok := q.c.GetQuery(name)
	if !ok || s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		q.invalid(name, "must be an integer")
		return nil
	}
	return &n
}
