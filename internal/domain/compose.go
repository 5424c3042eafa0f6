package domain

import (
	"fmt"
	"math"
)

// ScoringMode names a composition strategy.
type ScoringMode string

const (
	ModeSeverity ScoringMode = "severity"
	ModeWeighted ScoringMode = "weighted"
)

// ParseScoringMode maps user input to a mode. Empty input selects severity.
func ParseScoringMode(s string) (ScoringMode, error) {
	switch ScoringMode(s) {
	case "", ModeSeverity:
		return ModeSeverity, nil
	case ModeWeighted:
		return ModeWeighted, nil
	default:
		return "", invalid("mode", "unknown scoring mode %q", s)
	}
}

// Score is the result of one composition. It is implemented only by
// SeverityScore and WeightedScore; callers type-switch on the concrete type.
type Score interface {
	Mode() ScoringMode
	Value() float64
	Confidence() Confidence
	isScore()
}

// SeverityScore breaks down a multiplicative severity-mode score.
type SeverityScore struct {
	Severity   int       `json:"severity"` // after clamping
	EventType  EventType `json:"event_type"`
	Base       float64   `json:"base"`
	Multiplier float64   `json:"multiplier"`
	PopFactor  float64   `json:"pop_factor"`
	Raw        float64   `json:"raw"`
	Score      float64   `json:"score"`
}

func (SeverityScore) Mode() ScoringMode      { return ModeSeverity }
func (s SeverityScore) Value() float64       { return s.Score }
func (SeverityScore) Confidence() Confidence { return ConfidenceHigh }
func (SeverityScore) isScore()               {}

// WeightedScore breaks down a weighted-sum score. Sub-scores are nil when no
// data was available for them.
type WeightedScore struct {
	Climate  *float64   `json:"climate,omitempty"`
	Conflict *float64   `json:"conflict,omitempty"`
	Seismic  *float64   `json:"seismic,omitempty"`
	Total    float64    `json:"total"` // 0–100
	Conf     Confidence `json:"confidence"`
}

func (WeightedScore) Mode() ScoringMode        { return ModeWeighted }
func (s WeightedScore) Value() float64         { return s.Total }
func (s WeightedScore) Confidence() Confidence { return s.Conf }
func (WeightedScore) isScore()                 {}

// eventTypeMultipliers are tunable constants, not derived from data.
var eventTypeMultipliers = map[EventType]float64{
	EventConflict:   1.5,
	EventFamine:     1.6,
	EventEarthquake: 1.4,
	EventFlood:      1.3,
	EventDrought:    1.2,
	EventWildfire:   1.1,
	EventOther:      1.0,
}

// EventTypeMultiplier returns the severity multiplier for t; unknown types
// map to 1.0.
func EventTypeMultiplier(t EventType) float64 {
	if m, ok := eventTypeMultipliers[t]; ok {
		return m
	}
	return 1.0
}

// PopulationFactor scales severity by exposed population. Nil leaves the
// score unchanged.
func PopulationFactor(population *int64) float64 {
	if population == nil {
		return 1.0
	}
	switch p := *population; {
	case p > 1_000_000:
		return 1.3
	case p > 100_000:
		return 1.2
	case p > 10_000:
		return 1.1
	default:
		return 1.0
	}
}

// ComposeScore computes the severity-mode score for a signal bundle. The
// result is always within [0, 100].
func ComposeScore(sig RiskSignal) float64 {
	return ComposeSeverity(sig).Score
}

// ComposeSeverity is ComposeScore with its intermediate factors.
func ComposeSeverity(sig RiskSignal) SeverityScore {
	severity := min(max(sig.BaseSeverity, 1), 10)
	base := float64(severity) * 10
	mult := EventTypeMultiplier(sig.EventType)
	pop := PopulationFactor(sig.Population)
	raw := base * mult * pop
	return SeverityScore{
		Severity:   severity,
		EventType:  sig.EventType,
		Base:       base,
		Multiplier: mult,
		PopFactor:  pop,
		Raw:        raw,
		Score:      clampScore(round2(raw)),
	}
}

// WeightedModel holds the weights and climate parameters of weighted mode.
type WeightedModel struct {
	ClimateWeight  float64
	ConflictWeight float64
	SeismicWeight  float64

	// Neutral is used when no sub-score at all is available.
	Neutral float64

	// Elevations at or above FloodSafeElevationM contribute no flood exposure.
	FloodSafeElevationM float64

	// Coast distances at or beyond CoastalExposureKm contribute no surge exposure.
	CoastalExposureKm float64

	// SST anomalies at or above SSTSaturationC saturate the marine-heat term.
	SSTSaturationC float64
}

// DefaultWeightedModel returns the stock weights (0.5/0.3/0.2).
func DefaultWeightedModel() WeightedModel {
	return WeightedModel{
		ClimateWeight:       0.5,
		ConflictWeight:      0.3,
		SeismicWeight:       0.2,
		Neutral:             0.5,
		FloodSafeElevationM: 50,
		CoastalExposureKm:   50,
		SSTSaturationC:      3,
	}
}

// Validate rejects negative weights and an all-zero weight vector.
func (m WeightedModel) Validate() error {
	if m.ClimateWeight < 0 || m.ConflictWeight < 0 || m.SeismicWeight < 0 {
		return fmt.Errorf("weighted model: negative weight")
	}
	if m.ClimateWeight+m.ConflictWeight+m.SeismicWeight == 0 {
		return fmt.Errorf("weighted model: all weights are zero")
	}
	return nil
}

// Compose computes the weighted-mode score. Absent sub-scores drop out and
// the remaining weights are renormalized.
func (m WeightedModel) Compose(sig RiskSignal) WeightedScore {
	climate, climateConf := m.ClimateScore(sig)

	type term struct {
		value  *float64
		weight float64
		conf   Confidence
	}
	terms := []term{{climate, m.ClimateWeight, climateConf}}
	conflict := subValue(sig.Conflict)
	seismic := subValue(sig.Seismic)
	terms = append(terms,
		term{conflict, m.ConflictWeight, subConfidence(sig.Conflict)},
		term{seismic, m.SeismicWeight, subConfidence(sig.Seismic)},
	)

	var sum, usedWeight, totalWeight float64
	conf := ConfidenceHigh
	for _, t := range terms {
		totalWeight += t.weight
		if t.value == nil {
			continue
		}
		sum += *t.value * t.weight
		usedWeight += t.weight
		conf = conf.Lowest(t.conf)
	}

	var total float64
	switch {
	case usedWeight == 0:
		total = m.Neutral
		conf = ConfidenceLow
	default:
		total = sum / usedWeight
		coverage := usedWeight / totalWeight
		if coverage < 0.5 {
			conf = ConfidenceLow
		} else if coverage < 1 {
			conf = conf.Lowest(ConfidenceMedium)
		}
	}

	return WeightedScore{
		Climate:  climate,
		Conflict: conflict,
		Seismic:  seismic,
		Total:    clampScore(round2(clampUnit(total) * 100)),
		Conf:     conf,
	}
}

// ClimateScore returns the climate sub-score. An explicit Climate value wins;
// otherwise it is the mean of whatever climate evidence is present: marine and
// vegetation feeds, low-elevation flood exposure, coastal surge exposure and
// sea-surface warming.
func (m WeightedModel) ClimateScore(sig RiskSignal) (*float64, Confidence) {
	if sig.Climate != nil {
		v := clampUnit(sig.Climate.Value)
		return &v, sig.Climate.Confidence
	}

	var parts []float64
	conf := ConfidenceHigh
	if sig.Marine != nil {
		parts = append(parts, clampUnit(sig.Marine.Value))
		conf = conf.Lowest(sig.Marine.Confidence)
	}
	if sig.Vegetation != nil {
		parts = append(parts, clampUnit(sig.Vegetation.Value))
		conf = conf.Lowest(sig.Vegetation.Confidence)
	}
	if sig.ElevationMeters != nil && m.FloodSafeElevationM > 0 {
		parts = append(parts, clampUnit(1-*sig.ElevationMeters/m.FloodSafeElevationM))
	}
	if sig.CoastDistanceKm != nil && m.CoastalExposureKm > 0 {
		parts = append(parts, clampUnit(1-*sig.CoastDistanceKm/m.CoastalExposureKm))
	}
	if sig.SSTAnomalyC != nil && m.SSTSaturationC > 0 {
		parts = append(parts, clampUnit(*sig.SSTAnomalyC/m.SSTSaturationC))
	}
	if len(parts) == 0 {
		return nil, ConfidenceLow
	}

	var sum float64
	for _, p := range parts {
		sum += p
	}
	v := sum / float64(len(parts))
	if len(parts) < 2 {
		conf = conf.Lowest(ConfidenceMedium)
	}
	return &v, conf
}

// Compose scores sig in the given mode.
func Compose(mode ScoringMode, model WeightedModel, sig RiskSignal) Score {
	if mode == ModeWeighted {
		return model.Compose(sig)
	}
	return ComposeSeverity(sig)
}

func subValue(s *SubScore) *float64 {
	if s == nil || math.IsNaN(s.Value) {
		return nil
	}
	v := clampUnit(s.Value)
	return &v
}

func subConfidence(s *SubScore) Confidence {
	if s == nil || s.Confidence == "" {
		return ConfidenceLow
	}
	return s.Confidence
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(100, math.Max(0, v))
}
