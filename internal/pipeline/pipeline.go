// Package pipeline runs tessellation jobs consumed from a message stream and
// publishes the resulting zones.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
	"github.com/couchcryptid/risk-grid-service/internal/observability"
	"github.com/couchcryptid/risk-grid-service/internal/tessellation"
)

// BatchExtractor reads up to batchSize jobs from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]Job, error)
}

// Tessellator runs one request.
type Tessellator interface {
	Tessellate(ctx context.Context, req tessellation.Request) (*tessellation.Response, error)
}

// BatchLoader publishes the zones of finished runs.
type BatchLoader interface {
	LoadBatch(ctx context.Context, results []*tessellation.Response) error
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Pipeline orchestrates the extract-tessellate-load loop.
type Pipeline struct {
	extractor   BatchExtractor
	tessellator Tessellator
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int
	backoff     *backoff.ExponentialBackOff
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Tessellator, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.MaxInterval = maxBackoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return &Pipeline{
		extractor:   e,
		tessellator: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   max(1, batchSize),
		backoff:     b,
	}
}

// CheckReadiness returns nil once the pipeline has processed a batch.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any jobs yet")
	}
	return nil
}

// Run executes the batch loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx) {
			return nil
		}
	}
}

// processBatch runs one extract-tessellate-load cycle. Returns false if the
// pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context) bool {
	start := time.Now()

	jobs, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx)
	}

	if len(jobs) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.JobsConsumed.Add(float64(len(jobs)))
	p.metrics.BatchSize.Observe(float64(len(jobs)))
	p.backoff.Reset()

	loaded, ok := p.tessellateAndLoad(ctx, jobs)
	if !ok {
		return false
	}

	if loaded > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}
	return true
}

// tessellateAndLoad runs each job, publishes the successes and commits.
// Jobs that can never succeed are committed and skipped. Returns the number
// of published runs and false if the pipeline should stop.
func (p *Pipeline) tessellateAndLoad(ctx context.Context, jobs []Job) (int, bool) {
	results := make([]*tessellation.Response, 0, len(jobs))
	done := make([]Job, 0, len(jobs))

	for _, job := range jobs {
		resp, err := p.run(ctx, job)
		if err != nil {
			if ctx.Err() != nil {
				return 0, false
			}
			p.logger.Warn("tessellation job failed, skipping",
				"error", err,
				"invalid", domain.IsValidationError(err) || errors.Is(err, domain.ErrPlaceNotFound),
				"topic", job.Topic,
				"partition", job.Partition,
				"offset", job.Offset,
			)
			p.metrics.JobsFailed.Inc()
			p.commit(ctx, job)
			continue
		}
		results = append(results, resp)
		done = append(done, job)
	}

	if len(results) == 0 {
		return 0, true
	}

	if err := p.loader.LoadBatch(ctx, results); err != nil {
		p.logger.Error("load batch failed", "error", err, "batch_size", len(results))
		return 0, p.backoffOrStop(ctx)
	}

	zones := 0
	for _, r := range results {
		zones += len(r.Zones)
	}
	p.metrics.ZonesPublished.Add(float64(zones))

	for _, job := range done {
		p.commit(ctx, job)
	}
	return len(results), true
}

func (p *Pipeline) run(ctx context.Context, job Job) (*tessellation.Response, error) {
	req, err := DecodeRequest(job)
	if err != nil {
		return nil, err
	}
	return p.tessellator.Tessellate(ctx, req)
}

// backoffOrStop sleeps for the next backoff interval. Returns false if the
// pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return sleepWithContext(ctx, p.backoff.NextBackOff())
}

// commit acknowledges the job if a commit function is available.
func (p *Pipeline) commit(ctx context.Context, job Job) {
	if job.Commit == nil {
		return
	}
	if err := job.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", job.Topic, "partition", job.Partition, "offset", job.Offset)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
