// Command validate runs one tessellation request offline and checks the
// output against the service's invariants: unique cells, score bounds,
// one-hop diffusion, budget handling and GeoJSON shape. Hazard feeds and
// geocoding are not consulted; elevation tiles are used only with -tiles.
//
// Usage:
//
//	go run ./cmd/validate -request testdata/miami.json -out miami.geojson
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"

	"github.com/couchcryptid/risk-grid-service/internal/adapter/terrarium"
	"github.com/couchcryptid/risk-grid-service/internal/domain"
	"github.com/couchcryptid/risk-grid-service/internal/hexgrid"
	"github.com/couchcryptid/risk-grid-service/internal/observability"
	"github.com/couchcryptid/risk-grid-service/internal/retry"
	"github.com/couchcryptid/risk-grid-service/internal/terrain"
	"github.com/couchcryptid/risk-grid-service/internal/tessellation"
	"github.com/couchcryptid/risk-grid-service/internal/tilecache"
)

// tolerance absorbs the two-decimal rounding of published scores.
const tolerance = 0.011

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	requestPath := flag.String("request", "", "path to a JSON tessellation request")
	outPath := flag.String("out", "", "optional path for the GeoJSON output")
	useTiles := flag.Bool("tiles", false, "fetch elevation tiles for weighted-mode terrain")
	tileDir := flag.String("tile-dir", "", "disk cache directory for elevation tiles")
	flag.Parse()

	if *requestPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*requestPath, *outPath, *useTiles, *tileDir); code != 0 {
		os.Exit(code)
	}
}

func run(requestPath, outPath string, useTiles bool, tileDir string) int {
	req, err := loadRequest(requestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load request: %v\n", err)
		return 1
	}

	svc, cfg, err := newService(useTiles, tileDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	fmt.Println("=== Risk Grid Tessellation Validation ===")
	fmt.Println()

	resp, err := svc.Tessellate(context.Background(), req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: tessellate: %v\n", err)
		return 1
	}

	if outPath != "" {
		if err := writeGeoJSON(outPath, resp); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: write output: %v\n", err)
			return 1
		}
	}

	spillover := cfg.Spillover
	if req.Spillover != nil {
		spillover = *req.Spillover
	}
	budget := cfg.CellBudget
	if req.CellBudget > 0 {
		budget = req.CellBudget
	}
	passes := cfg.Passes
	if req.Passes > 0 {
		passes = req.Passes
	}

	phases := []*phase{
		validateMesh(resp),
		validateScores(resp, spillover),
		validateDiffusion(resp, spillover, passes),
		validateBudget(resp, budget),
		validateGeoJSON(resp),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Cells: %d at resolution %d (requested %d, degraded=%t), mode %s\n",
		resp.CellCount, resp.Resolution, resp.RequestedResolution, resp.Degraded, resp.Mode)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Setup ──

func loadRequest(path string) (tessellation.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tessellation.Request{}, err
	}
	var req tessellation.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return tessellation.Request{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return req, nil
}

func newService(useTiles bool, tileDir string) (*tessellation.Service, tessellation.Config, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	cfg := tessellation.DefaultConfig()

	var tp domain.TerrainProvider
	if useTiles {
		fetcher, err := terrarium.NewClient("", retry.DefaultPolicy(), logger)
		if err != nil {
			return nil, cfg, err
		}
		tiles, err := tilecache.New(tilecache.Options{Dir: tileDir, FetchTimeout: 10 * time.Second}, fetcher, logger, metrics)
		if err != nil {
			return nil, cfg, err
		}
		tp = terrain.New(tiles, 10, logger)
	}

	signals := tessellation.NewSignalAssembler(nil, tp, domain.DefaultScenarioModel(), logger, metrics)

	// A fixed clock keeps updatedAt reproducible across runs.
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	return tessellation.NewService(cfg, signals, nil, clock, logger, metrics), cfg, nil
}

func writeGeoJSON(path string, resp *tessellation.Response) error {
	data, err := json.MarshalIndent(resp.Collection, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ── Phases ──

func validateMesh(resp *tessellation.Response) *phase {
	p := &phase{name: "Mesh integrity"}
	if len(resp.Zones) != resp.CellCount {
		p.errorf("cell_count %d but %d zones", resp.CellCount, len(resp.Zones))
	}
	if resp.CellCount == 0 {
		p.errorf("empty mesh")
	}
	seen := make(map[string]bool, len(resp.Zones))
	for _, z := range resp.Zones {
		if seen[z.CellID] {
			p.errorf("duplicate cell %s", z.CellID)
		}
		seen[z.CellID] = true
		if z.Resolution != resp.Resolution {
			p.errorf("cell %s has resolution %d, mesh is %d", z.CellID, z.Resolution, resp.Resolution)
		}
		if z.Mode != resp.Mode {
			p.errorf("cell %s scored in mode %s, request used %s", z.CellID, z.Mode, resp.Mode)
		}
	}
	return p
}

func validateScores(resp *tessellation.Response, spillover float64) *phase {
	p := &phase{name: "Score bounds"}
	for _, z := range resp.Zones {
		if z.BaseScore < 0 || z.BaseScore > 100 {
			p.errorf("cell %s base score %.2f outside [0,100]", z.CellID, z.BaseScore)
		}
		if z.NeighboringRisk < 0 || z.NeighboringRisk > 100*spillover+tolerance {
			p.errorf("cell %s neighboring risk %.2f outside [0,%.2f]", z.CellID, z.NeighboringRisk, 100*spillover)
		}
		if z.TotalRisk() > 100 {
			p.errorf("cell %s total risk %.2f above 100", z.CellID, z.TotalRisk())
		}
	}
	return p
}

// validateDiffusion recomputes one-hop spillover. Multi-pass runs only
// check that no cell received less than the one-hop value.
func validateDiffusion(resp *tessellation.Response, spillover float64, passes int) *phase {
	p := &phase{name: "Diffusion consistency"}

	cells := make([]domain.HexCell, len(resp.Zones))
	base := make(map[string]float64, len(resp.Zones))
	for i, z := range resp.Zones {
		cells[i] = domain.HexCell{ID: z.CellID, Resolution: z.Resolution}
		base[z.CellID] = z.BaseScore
	}
	adj, err := hexgrid.Adjacency(cells)
	if err != nil {
		p.errorf("adjacency: %v", err)
		return p
	}

	for _, z := range resp.Zones {
		want := 0.0
		for _, n := range adj[z.CellID] {
			want = math.Max(want, base[n]*spillover)
		}
		want = math.Min(want, 100)
		switch {
		case passes == 1 && math.Abs(z.NeighboringRisk-want) > tolerance:
			p.errorf("cell %s neighboring risk %.2f, expected %.2f", z.CellID, z.NeighboringRisk, want)
		case passes > 1 && z.NeighboringRisk+tolerance < want:
			p.errorf("cell %s neighboring risk %.2f below one-hop value %.2f", z.CellID, z.NeighboringRisk, want)
		}
	}
	return p
}

func validateBudget(resp *tessellation.Response, budget int) *phase {
	p := &phase{name: "Budget and degradation"}
	if resp.CellCount > budget && resp.Resolution > domain.MinResolution {
		p.errorf("%d cells exceed budget %d at resolution %d", resp.CellCount, budget, resp.Resolution)
	}
	if resp.Degraded != (resp.Resolution != resp.RequestedResolution) {
		p.errorf("degraded=%t but resolution %d vs requested %d", resp.Degraded, resp.Resolution, resp.RequestedResolution)
	}
	if resp.Resolution > resp.RequestedResolution {
		p.errorf("resolution %d finer than requested %d", resp.Resolution, resp.RequestedResolution)
	}
	return p
}

func validateGeoJSON(resp *tessellation.Response) *phase {
	p := &phase{name: "GeoJSON shape"}
	if resp.Collection == nil {
		p.errorf("missing feature collection")
		return p
	}
	if len(resp.Collection.Features) != resp.CellCount {
		p.errorf("%d features for %d cells", len(resp.Collection.Features), resp.CellCount)
	}
	for i, f := range resp.Collection.Features {
		poly, ok := f.Geometry.(orb.Polygon)
		if !ok || len(poly) != 1 {
			p.errorf("feature %d is not a single-ring polygon", i)
			continue
		}
		ring := poly[0]
		if len(ring) < 6 || !ring.Closed() {
			p.errorf("feature %d ring has %d vertices or is open", i, len(ring))
		}
		if _, ok := f.Properties["cellId"].(string); !ok {
			p.errorf("feature %d has no cellId", i)
		}
		if total, ok := f.Properties["totalRisk"].(float64); !ok || total > 100 {
			p.errorf("feature %d totalRisk %v invalid", i, f.Properties["totalRisk"])
		}
	}
	return p
}
