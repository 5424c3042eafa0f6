// Package tessellation orchestrates one request end to end: generate the
// grid within a cell budget, score every cell, diffuse neighbouring risk and
// package the mesh as GeoJSON.
package tessellation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
	"github.com/couchcryptid/risk-grid-service/internal/hexgrid"
	"github.com/couchcryptid/risk-grid-service/internal/observability"
)

// Config tunes request defaults and limits.
type Config struct {
	DefaultResolution int
	CellBudget        int
	Workers           int
	Spillover         float64
	Passes            int
	MaxPasses         int // ceiling on per-request passes
	PlaceRings        int // rings around a geocoded place that has no bounding box

	Weighted domain.WeightedModel
}

// DefaultMaxPasses caps diffusion passes when Config.MaxPasses is unset.
const DefaultMaxPasses = 10

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultResolution: 7,
		CellBudget:        3000,
		Workers:           8,
		Spillover:         domain.DefaultSpillover,
		Passes:            1,
		MaxPasses:         DefaultMaxPasses,
		PlaceRings:        3,
		Weighted:          domain.DefaultWeightedModel(),
	}
}

// ZoneSink receives the zones of every packaged run.
type ZoneSink interface {
	Name() string
	SaveZones(ctx context.Context, requestID string, zones []domain.RiskZone) error
}

// Service runs tessellations. It holds no per-request state and is safe for
// concurrent use.
type Service struct {
	cfg      Config
	signals  SignalSource
	geocoder domain.Geocoder
	sinks    []ZoneSink
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewService creates a Service. signals and geocoder may be nil: weighted
// mode then scores from absent signals, and place lookups are rejected.
func NewService(
	cfg Config,
	signals SignalSource,
	geocoder domain.Geocoder,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
	sinks ...ZoneSink,
) *Service {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxPasses < 1 {
		cfg.MaxPasses = DefaultMaxPasses
	}
	return &Service{
		cfg:      cfg,
		signals:  signals,
		geocoder: geocoder,
		sinks:    sinks,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// plan is a validated request with every default applied.
type plan struct {
	id         string
	mode       domain.ScoringMode
	area       area
	resolution int
	budget     int
	spillover  float64
	passes     int
	events     []domain.HazardEvent
	query      domain.HazardQuery
	place      *domain.Place
	now        time.Time
}

// Tessellate validates req and runs it to completion. Validation failures
// return a *domain.ValidationError; collaborator failures only lower the
// confidence of the affected cells.
func (s *Service) Tessellate(ctx context.Context, req Request) (*Response, error) {
	start := s.clock.Now()

	p, err := s.plan(ctx, req)
	if err != nil {
		outcome := "error"
		if domain.IsValidationError(err) || errors.Is(err, domain.ErrPlaceNotFound) {
			outcome = "invalid"
		}
		s.metrics.TessellationsTotal.WithLabelValues(string(req.Mode), outcome).Inc()
		return nil, err
	}

	resp, err := s.execute(ctx, p)
	if err != nil {
		s.metrics.TessellationsTotal.WithLabelValues(string(p.mode), "error").Inc()
		s.logger.Error("tessellation failed", "request_id", p.id, "error", err)
		return nil, err
	}

	s.metrics.TessellationsTotal.WithLabelValues(string(p.mode), "ok").Inc()
	s.metrics.TessellationDuration.Observe(s.clock.Since(start).Seconds())
	s.metrics.CellsGenerated.Observe(float64(resp.CellCount))
	s.logger.Info("tessellation complete",
		"request_id", p.id,
		"mode", p.mode,
		"cells", resp.CellCount,
		"resolution", resp.Resolution,
		"degraded", resp.Degraded,
	)

	s.save(ctx, resp)
	return resp, nil
}

func (s *Service) plan(ctx context.Context, req Request) (*plan, error) {
	mode, err := domain.ParseScoringMode(string(req.Mode))
	if err != nil {
		return nil, err
	}

	p := &plan{
		id:         req.ID,
		mode:       mode,
		resolution: s.cfg.DefaultResolution,
		budget:     s.cfg.CellBudget,
		spillover:  s.cfg.Spillover,
		passes:     max(1, s.cfg.Passes),
		events:     req.Events,
		query:      domain.HazardQuery{Year: req.Year, Scenario: req.Scenario},
		now:        s.clock.Now().UTC(),
	}
	if p.id == "" {
		p.id = newRequestID()
	}

	if req.Resolution != nil {
		p.resolution = *req.Resolution
	}
	if err := domain.ValidateResolution(p.resolution); err != nil {
		return nil, err
	}
	if req.CellBudget != 0 {
		p.budget = req.CellBudget
	}
	if err := domain.ValidateCellBudget(p.budget); err != nil {
		return nil, err
	}
	if req.Spillover != nil {
		p.spillover = *req.Spillover
	}
	if err := domain.ValidateSpillover(p.spillover); err != nil {
		return nil, err
	}
	if req.Passes < 0 || req.Passes > s.cfg.MaxPasses {
		return nil, invalidField("passes", "diffusion passes %d outside [1, %d]", req.Passes, s.cfg.MaxPasses)
	}
	if req.Passes > 0 {
		p.passes = req.Passes
	}
	p.passes = min(p.passes, s.cfg.MaxPasses)
	if err := domain.ValidateRings(req.Rings); err != nil {
		return nil, err
	}
	if req.Year < 0 {
		return nil, invalidField("year", "year %d must not be negative", req.Year)
	}
	if err := validateEvents(req.Events); err != nil {
		return nil, err
	}

	a, place, err := s.resolveArea(ctx, req)
	if err != nil {
		return nil, err
	}
	p.area = a
	p.place = place
	if place != nil {
		p.query.Country = place.CountryCode
	}
	return p, nil
}

func (s *Service) resolveArea(ctx context.Context, req Request) (area, *domain.Place, error) {
	selectors := 0
	for _, set := range []bool{req.BBox != nil, req.Point != nil, req.Place != ""} {
		if set {
			selectors++
		}
	}
	if selectors != 1 {
		return area{}, nil, invalidField("area", "exactly one of bbox, point or place is required")
	}

	switch {
	case req.BBox != nil:
		if err := req.BBox.Validate(); err != nil {
			return area{}, nil, err
		}
		b := *req.BBox
		return area{bbox: &b}, nil, nil

	case req.Point != nil:
		if err := domain.ValidateCoordinate(req.Point.Lat, req.Point.Lon); err != nil {
			return area{}, nil, err
		}
		return area{center: *req.Point, rings: req.Rings}, nil, nil
	}

	if s.geocoder == nil {
		return area{}, nil, invalidField("place", "place lookup is not configured")
	}
	place, err := s.geocoder.Resolve(ctx, req.Place)
	if err != nil {
		return area{}, nil, fmt.Errorf("resolve place %q: %w", req.Place, err)
	}
	if place.BoundingBox != nil && place.BoundingBox.Validate() == nil {
		b := *place.BoundingBox
		return area{bbox: &b}, &place, nil
	}
	rings := req.Rings
	if rings == 0 {
		rings = s.cfg.PlaceRings
	}
	return area{center: domain.Coordinate{Lat: place.Lat, Lon: place.Lon}, rings: rings}, &place, nil
}

func (s *Service) execute(ctx context.Context, p *plan) (*Response, error) {
	r := &run{}

	cells, res, err := s.generate(p)
	if err != nil {
		return nil, err
	}
	if err := r.gridGenerated(len(cells)); err != nil {
		return nil, err
	}

	zones, err := s.score(ctx, p, cells)
	if err != nil {
		return nil, err
	}
	if err := r.scored(len(zones)); err != nil {
		return nil, err
	}

	zones, err = s.diffuse(ctx, p, cells, zones)
	if err != nil {
		return nil, err
	}
	if err := r.advance(StateDiffused); err != nil {
		return nil, err
	}

	fc := packageZones(cells, zones)
	if err := r.advance(StatePackaged); err != nil {
		return nil, err
	}

	return &Response{
		RequestID:           p.id,
		Mode:                p.mode,
		RequestedResolution: p.resolution,
		Resolution:          res,
		Degraded:            res != p.resolution,
		CellCount:           len(cells),
		Place:               p.place,
		GeneratedAt:         p.now,
		Collection:          fc,
		Zones:               zones,
	}, nil
}

// generate produces the grid, coarsening the resolution until the cell count
// fits the budget. At resolution 0 the mesh is returned even if it is still
// over budget.
func (s *Service) generate(p *plan) ([]domain.HexCell, int, error) {
	a := p.area
	res := p.resolution
	for res > domain.MinResolution {
		est, err := a.estimate(res)
		if err != nil {
			return nil, 0, err
		}
		if est <= p.budget {
			break
		}
		a, res = a.coarser(), res-1
		s.metrics.ResolutionDowngrades.Inc()
	}

	cells, err := a.cells(res)
	if err != nil {
		return nil, 0, err
	}
	for len(cells) > p.budget && res > domain.MinResolution {
		a, res = a.coarser(), res-1
		s.metrics.ResolutionDowngrades.Inc()
		if cells, err = a.cells(res); err != nil {
			return nil, 0, err
		}
	}
	if len(cells) > p.budget {
		s.logger.Warn("cell budget exceeded at coarsest resolution",
			"request_id", p.id, "cells", len(cells), "budget", p.budget)
	}
	if res != p.resolution {
		s.logger.Info("resolution degraded to fit cell budget",
			"request_id", p.id, "requested", p.resolution, "applied", res, "budget", p.budget)
	}
	return cells, res, nil
}

// score computes a zone for every cell on a bounded worker pool. Results are
// written by index so workers share nothing; Wait is the barrier before
// diffusion.
func (s *Service) score(ctx context.Context, p *plan, cells []domain.HexCell) ([]domain.RiskZone, error) {
	var events map[string]cellEvent
	if p.mode == domain.ModeSeverity && len(cells) > 0 {
		var err error
		if events, err = eventScores(p.events, cells[0].Resolution); err != nil {
			return nil, err
		}
	}

	zones := make([]domain.RiskZone, len(cells))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, cell := range cells {
		g.Go(func() error {
			zones[i] = s.scoreCell(gctx, p, cell, events)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return zones, nil
}

func (s *Service) scoreCell(ctx context.Context, p *plan, cell domain.HexCell, events map[string]cellEvent) (zone domain.RiskZone) {
	zone = domain.RiskZone{
		CellID:     cell.ID,
		Resolution: cell.Resolution,
		Mode:       p.mode,
		Confidence: domain.ConfidenceHigh,
		UpdatedAt:  p.now,
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.metrics.CellScoreFailures.Inc()
			s.logger.Error("cell scoring failed", "request_id", p.id, "cell_id", cell.ID, "panic", rec)
			zone.BaseScore = s.fallbackScore(p.mode)
			zone.Confidence = domain.ConfidenceLow
			zone.EventType = ""
			zone.Population = nil
		}
	}()

	switch p.mode {
	case domain.ModeWeighted:
		q := p.query
		q.Lat, q.Lon = cell.Centroid.Lat, cell.Centroid.Lon
		var sig domain.RiskSignal
		if s.signals != nil {
			sig = s.signals.Signal(ctx, q)
		}
		ws := s.cfg.Weighted.Compose(sig)
		zone.BaseScore = ws.Total
		zone.Confidence = ws.Conf
	default:
		if ev, ok := events[cell.ID]; ok {
			zone.BaseScore = ev.score.Score
			zone.EventType = ev.score.EventType
			zone.Population = ev.population
		}
	}
	return zone
}

func (s *Service) fallbackScore(mode domain.ScoringMode) float64 {
	if mode == domain.ModeWeighted {
		return math.Round(s.cfg.Weighted.Neutral * 100)
	}
	return 0
}

// cellEvent is the highest-scoring event inside one cell.
type cellEvent struct {
	score      domain.SeverityScore
	population *int64
}

// eventScores bins events into cells and keeps the highest score per cell.
func eventScores(events []domain.HazardEvent, res int) (map[string]cellEvent, error) {
	out := make(map[string]cellEvent, len(events))
	for _, e := range events {
		id, err := hexgrid.CellID(e.Lat, e.Lon, res)
		if err != nil {
			return nil, err
		}
		sc := domain.ComposeSeverity(e.Signal())
		if cur, ok := out[id]; !ok || sc.Score > cur.score.Score {
			out[id] = cellEvent{score: sc, population: e.Population}
		}
	}
	return out, nil
}

func (s *Service) diffuse(ctx context.Context, p *plan, cells []domain.HexCell, zones []domain.RiskZone) ([]domain.RiskZone, error) {
	adj, err := hexgrid.Adjacency(cells)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.RiskZone, len(zones))
	for _, z := range zones {
		byID[z.CellID] = z
	}
	diffused, err := domain.DiffuseIterations(ctx, byID, adj, p.spillover, p.passes)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RiskZone, len(zones))
	for i, z := range zones {
		out[i] = diffused[z.CellID]
	}
	return out, nil
}

// save hands the zones to every sink. Sink failures are logged and counted
// but never fail the request.
func (s *Service) save(ctx context.Context, resp *Response) {
	for _, sink := range s.sinks {
		if err := sink.SaveZones(ctx, resp.RequestID, resp.Zones); err != nil {
			s.metrics.SinkErrors.WithLabelValues(sink.Name()).Inc()
			s.logger.Error("zone sink failed", "sink", sink.Name(), "request_id", resp.RequestID, "error", err)
		}
	}
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
