package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
	"github.com/couchcryptid/risk-grid-service/internal/observability"
	"github.com/couchcryptid/risk-grid-service/internal/pipeline"
	"github.com/couchcryptid/risk-grid-service/internal/tessellation"
)

// --- mocks ---

type mockExtractor struct {
	jobs    []pipeline.Job
	fetched atomic.Bool
	err     error
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]pipeline.Job, error) {
	if m.err != nil {
		return nil, m.err
	}
	if !m.fetched.Swap(true) {
		return m.jobs, nil
	}
	// block until context cancelled to simulate waiting for jobs
	<-ctx.Done()
	return nil, ctx.Err()
}

type mockTessellator struct {
	err   error
	calls []tessellation.Request
}

func (m *mockTessellator) Tessellate(_ context.Context, req tessellation.Request) (*tessellation.Response, error) {
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	return &tessellation.Response{
		RequestID: req.ID,
		Zones:     []domain.RiskZone{{CellID: "a"}, {CellID: "b"}},
	}, nil
}

type mockLoader struct {
	mu      sync.Mutex
	loaded  []*tessellation.Response
	failFor int
}

func (m *mockLoader) LoadBatch(_ context.Context, results []*tessellation.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor > 0 {
		m.failFor--
		return errors.New("broker unavailable")
	}
	m.loaded = append(m.loaded, results...)
	return nil
}

func (m *mockLoader) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loaded)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	var committed atomic.Int32
	job := makeJob(t, "job-1", &committed)

	ext := &mockExtractor{jobs: []pipeline.Job{job}}
	tsl := &mockTessellator{}
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New(ext, tsl, ldr, discardLogger(), metrics, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	require.Equal(t, 1, ldr.count())
	assert.Equal(t, "job-1", ldr.loaded[0].RequestID)
	assert.Equal(t, int32(1), committed.Load())
	require.NoError(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.ZonesPublished), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.JobsConsumed), 0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(metrics.PipelineRunning), 0)
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ext := &mockExtractor{}
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTessellator{}, ldr, discardLogger(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Zero(t, ldr.count())
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_InvalidJobIsCommittedAndSkipped(t *testing.T) {
	var committed atomic.Int32
	job := makeJob(t, "job-2", &committed)

	ext := &mockExtractor{jobs: []pipeline.Job{job}}
	tsl := &mockTessellator{err: &domain.ValidationError{Field: "resolution", Message: "out of range"}}
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New(ext, tsl, ldr, discardLogger(), metrics, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Zero(t, ldr.count())
	assert.Equal(t, int32(1), committed.Load())
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.JobsFailed), 0)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_MalformedJobIsSkipped(t *testing.T) {
	var committed atomic.Int32
	job := pipeline.Job{
		Value: []byte("not json"),
		Commit: func(context.Context) error {
			committed.Add(1)
			return nil
		},
	}

	tsl := &mockTessellator{}
	p := pipeline.New(&mockExtractor{jobs: []pipeline.Job{job}}, tsl, &mockLoader{}, discardLogger(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, tsl.calls)
	assert.Equal(t, int32(1), committed.Load())
}

func TestPipeline_Run_LoadFailureDoesNotCommit(t *testing.T) {
	var committed atomic.Int32
	job := makeJob(t, "job-3", &committed)

	ldr := &mockLoader{failFor: 1000}
	p := pipeline.New(&mockExtractor{jobs: []pipeline.Job{job}}, &mockTessellator{}, ldr, discardLogger(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Zero(t, committed.Load())
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_ExtractErrorBacksOff(t *testing.T) {
	ext := &mockExtractor{err: errors.New("broker down")}
	p := pipeline.New(ext, &mockTessellator{}, &mockLoader{}, discardLogger(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, p.Run(ctx))
	assert.Less(t, time.Since(start), time.Second)
}

func TestDecodeRequest(t *testing.T) {
	res := 6
	want := tessellation.Request{
		ID:         "job-9",
		Point:      &domain.Coordinate{Lat: 9.03, Lon: 38.74},
		Rings:      2,
		Mode:       domain.ModeWeighted,
		Resolution: &res,
		Scenario:   "ssp245",
		Year:       2050,
	}
	body, err := json.Marshal(want)
	require.NoError(t, err)

	got, err := pipeline.DecodeRequest(pipeline.Job{Value: body})
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decoded request mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRequest_InheritsKeyAsID(t *testing.T) {
	got, err := pipeline.DecodeRequest(pipeline.Job{
		Key:   []byte("from-key"),
		Value: []byte(`{"place":"Nairobi"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "from-key", got.ID)
	assert.Equal(t, "Nairobi", got.Place)
}

func TestDecodeRequest_Invalid(t *testing.T) {
	_, err := pipeline.DecodeRequest(pipeline.Job{Value: []byte("{")})
	assert.Error(t, err)
}

// --- helpers ---

func makeJob(t *testing.T, id string, committed *atomic.Int32) pipeline.Job {
	t.Helper()
	data, err := json.Marshal(tessellation.Request{
		ID:    id,
		Point: &domain.Coordinate{Lat: 25.77, Lon: -80.19},
		Rings: 1,
	})
	require.NoError(t, err)
	return pipeline.Job{
		Key:   []byte(id),
		Value: data,
		Topic: "tessellation-jobs",
		Commit: func(context.Context) error {
			committed.Add(1)
			return nil
		},
	}
}
