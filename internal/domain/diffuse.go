package domain

import (
	"context"
	"maps"
)

// DefaultSpillover is the fraction of a cell's base score that reaches its
// neighbours.
const DefaultSpillover = 0.2

// Adjacency maps a cell ID to the IDs of the cells sharing an edge with it.
type Adjacency map[string][]string

// Diffuse runs one spillover pass and returns the updated zones; the input map
// is not modified. Cells missing from adjacency take no part, and neighbours
// missing from zones are skipped.
func Diffuse(zones map[string]RiskZone, adjacency Adjacency, spillover float64) (map[string]RiskZone, error) {
	if err := ValidateSpillover(spillover); err != nil {
		return nil, err
	}

	out := maps.Clone(zones)
	if out == nil {
		out = map[string]RiskZone{}
	}
	for id, zone := range zones {
		contribution := clampScore(zone.BaseScore) * spillover
		if contribution == 0 {
			continue
		}
		for _, nid := range adjacency[id] {
			if nid == id {
				continue
			}
			n, ok := out[nid]
			if !ok {
				continue
			}
			if contribution > n.NeighboringRisk {
				n.NeighboringRisk = clampScore(contribution)
				out[nid] = n
			}
		}
	}
	return out, nil
}

// DiffuseIterations repeats Diffuse up to passes times. Each pass reads the
// base scores only, so neighbouring risk is non-decreasing across passes and
// stays below 100*spillover; the loop stops at the first pass that changes
// nothing. ctx is checked between passes.
func DiffuseIterations(ctx context.Context, zones map[string]RiskZone, adjacency Adjacency, spillover float64, passes int) (map[string]RiskZone, error) {
	if passes < 1 {
		return nil, invalid("passes", "diffusion passes must be at least 1, got %d", passes)
	}
	cur := zones
	for range passes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := Diffuse(cur, adjacency, spillover)
		if err != nil {
			return nil, err
		}
		stable := sameNeighboringRisk(cur, next)
		cur = next
		if stable {
			break
		}
	}
	return cur, nil
}

func sameNeighboringRisk(a, b map[string]RiskZone) bool {
	for id, z := range b {
		if a[id].NeighboringRisk != z.NeighboringRisk {
			return false
		}
	}
	return true
}
