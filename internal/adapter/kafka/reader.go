package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/risk-grid-service/internal/config"
	"github.com/couchcryptid/risk-grid-service/internal/pipeline"
)

// messageSource is the part of *kafkago.Reader the Reader uses.
type messageSource interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Reader consumes tessellation jobs from a Kafka topic.
// It implements pipeline.BatchExtractor.
type Reader struct {
	reader        messageSource
	flushInterval time.Duration
	logger        *slog.Logger
}

// NewReader creates a consumer-group reader for the configured jobs topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaJobsTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Reader{reader: r, flushInterval: cfg.BatchFlushInterval, logger: logger}
}

// ExtractBatch blocks for the first job, then collects more until batchSize
// is reached or the flush interval elapses. Offsets are committed by the
// pipeline through each job's Commit func.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]pipeline.Job, error) {
	first, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	jobs := []pipeline.Job{r.toJob(first)}

	flushCtx, cancel := context.WithTimeout(ctx, r.flushInterval)
	defer cancel()

	for len(jobs) < batchSize {
		msg, err := r.reader.FetchMessage(flushCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			if ctx.Err() == nil {
				// Already fetched jobs are handed on so their offsets get
				// committed; the next fetch surfaces a persistent error.
				r.logger.Warn("kafka fetch failed mid-batch", "jobs", len(jobs), "error", err)
			}
			return jobs, nil
		}
		jobs = append(jobs, r.toJob(msg))
	}
	return jobs, nil
}

// Close closes the underlying reader.
func (r *Reader) Close() error {
	return r.reader.Close()
}

func (r *Reader) toJob(msg kafkago.Message) pipeline.Job {
	job := mapMessageToJob(msg)
	job.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return job
}

// mapMessageToJob converts a Kafka message to a job without a commit func.
func mapMessageToJob(msg kafkago.Message) pipeline.Job {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return pipeline.Job{
		Key:       msg.Key,
		Value:     msg.Value,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Headers:   headers,
	}
}
