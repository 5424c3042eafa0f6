// Package domain models hexagonal risk zones and the pure algorithms that
// score and smooth them.
//
// # Cells
//
// A [HexCell] is one hexagon of a global H3 tessellation. Its ID is the
// lower-case hexadecimal H3 index (e.g. "8844c0a31dfffff"), unique per
// coordinate and resolution. Boundaries are closed rings: the first vertex is
// repeated as the last one. Interior cells have six vertices; the twelve
// pentagons per resolution have five.
//
// # Scoring modes
//
// Two composition strategies exist and are deliberately not reconciled; the
// same location can score differently in each mode.
//
// Severity mode (multiplicative), see [ComposeScore]:
//
//	base       = clamp(severity, 1, 10) * 10
//	multiplier = conflict 1.5 | famine 1.6 | earthquake 1.4 | flood 1.3
//	             drought 1.2 | wildfire 1.1 | other/unknown 1.0
//	popFactor  = >1,000,000 → 1.3 | >100,000 → 1.2 | >10,000 → 1.1 | else 1.0
//	score      = min(100, round(base * multiplier * popFactor, 2))
//
// Weighted mode (sub-score sum), see [WeightedModel]:
//
//	total = (climate*0.5 + conflict*0.3 + seismic*0.2) * 100
//
// Sub-scores are normalized to [0,1]. An absent sub-score drops out of the
// sum and the remaining weights are renormalized; the result carries a
// lowered [Confidence]. When nothing is known the neutral value 0.5 is used.
//
// # Diffusion
//
// [Diffuse] propagates spillover one hop across adjacency using max
// aggregation:
//
//	n.NeighboringRisk = max(n.NeighboringRisk, c.BaseScore * spillover)
//
// for every cell c and every neighbour n of c. A cell's neighbouring risk
// therefore never depends on its own base score, never exceeds
// 100 * spillover, and repeated passes are monotone and reach a fixed point
// after the first one.
//
// # Collaborators
//
// External data (elevation, coastlines, hazard feeds, geocoding) enters
// through the small interfaces in collaborators.go. Unavailability is
// represented as absence (nil pointers, false flags), never as zero values.
package domain
