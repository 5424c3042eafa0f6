package domain

import "strings"

// ScenarioModel time-shifts climate inputs along a named SSP pathway. The
// warming rates are tunable configuration, not calibrated projections.
type ScenarioModel struct {
	BaselineYear int
	// WarmingPerYearC maps a normalized scenario name (e.g. "ssp2-4.5") to
	// sea-surface warming in °C per year after BaselineYear.
	WarmingPerYearC map[string]float64
}

// DefaultScenarioModel returns rates for the four marker SSP pathways.
func DefaultScenarioModel() ScenarioModel {
	return ScenarioModel{
		BaselineYear: 2020,
		WarmingPerYearC: map[string]float64{
			"ssp1-2.6": 0.010,
			"ssp2-4.5": 0.020,
			"ssp3-7.0": 0.030,
			"ssp5-8.5": 0.040,
		},
	}
}

// NormalizeScenario lower-cases a scenario name and accepts the common
// spellings "SSP2-4.5", "ssp245" and "ssp2_45".
func NormalizeScenario(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	if len(s) == 6 && strings.HasPrefix(s, "ssp") && !strings.Contains(s, "-") {
		// ssp245 -> ssp2-4.5
		return s[:4] + "-" + s[4:5] + "." + s[5:]
	}
	if strings.HasPrefix(s, "ssp") && len(s) == 7 && s[4] == '-' && !strings.Contains(s[5:], ".") {
		// ssp2-45 -> ssp2-4.5
		return s[:6] + "." + s[6:]
	}
	return s
}

// SSTAnomaly returns the projected sea-surface anomaly for scenario and year.
// It reports false for unknown scenarios or years at or before the baseline.
func (m ScenarioModel) SSTAnomaly(scenario string, year int) (float64, bool) {
	if scenario == "" || year <= m.BaselineYear {
		return 0, false
	}
	rate, ok := m.WarmingPerYearC[NormalizeScenario(scenario)]
	if !ok {
		return 0, false
	}
	return rate * float64(year-m.BaselineYear), true
}
