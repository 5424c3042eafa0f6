package tessellation

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
	"github.com/couchcryptid/risk-grid-service/internal/observability"
)

// SignalSource gathers the weighted-mode inputs for a point.
type SignalSource interface {
	Signal(ctx context.Context, q domain.HazardQuery) domain.RiskSignal
}

// SignalAssembler queries hazard feeds and terrain for one point. Any
// collaborator failure leaves its field nil, which the composer treats as
// absent and reflects in the confidence label.
type SignalAssembler struct {
	hazards  map[domain.HazardKind]domain.HazardSource
	terrain  domain.TerrainProvider
	scenario domain.ScenarioModel
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewSignalAssembler wires the collaborators. Nil terrain and missing hazard
// kinds are allowed.
func NewSignalAssembler(
	hazards map[domain.HazardKind]domain.HazardSource,
	terrain domain.TerrainProvider,
	scenario domain.ScenarioModel,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *SignalAssembler {
	return &SignalAssembler{
		hazards:  hazards,
		terrain:  terrain,
		scenario: scenario,
		logger:   logger,
		metrics:  metrics,
	}
}

// Signal assembles the signal bundle for q.
func (a *SignalAssembler) Signal(ctx context.Context, q domain.HazardQuery) domain.RiskSignal {
	var sig domain.RiskSignal

	for _, kind := range domain.HazardKinds {
		src, ok := a.hazards[kind]
		if !ok || src == nil {
			continue
		}
		score, err := src.Score(ctx, q)
		if err != nil {
			a.metrics.HazardRequests.WithLabelValues(string(kind), "error").Inc()
			a.logger.Debug("hazard source unavailable", "kind", kind, "lat", q.Lat, "lon", q.Lon, "error", err)
			continue
		}
		a.metrics.HazardRequests.WithLabelValues(string(kind), "success").Inc()
		s := score
		switch kind {
		case domain.HazardSeismic:
			sig.Seismic = &s
		case domain.HazardMarine:
			sig.Marine = &s
		case domain.HazardConflict:
			sig.Conflict = &s
		case domain.HazardVegetation:
			sig.Vegetation = &s
		}
	}

	if a.terrain != nil {
		t := a.terrain.Terrain(ctx, q.Lat, q.Lon)
		sig.ElevationMeters = t.ElevationMeters
		sig.CoastDistanceKm = t.CoastDistanceKm
	}

	if sst, ok := a.scenario.SSTAnomaly(q.Scenario, q.Year); ok {
		sig.SSTAnomalyC = &sst
	}
	return sig
}
