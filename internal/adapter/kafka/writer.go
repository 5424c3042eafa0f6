package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/risk-grid-service/internal/config"
	"github.com/couchcryptid/risk-grid-service/internal/domain"
	"github.com/couchcryptid/risk-grid-service/internal/tessellation"
)

// Writer publishes scored zones to a Kafka topic, one message per cell.
// It implements pipeline.BatchLoader and tessellation.ZoneSink.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured zones topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaZonesTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "kafka" }

// SaveZones publishes the zones of one run in a single WriteMessages call.
func (w *Writer) SaveZones(ctx context.Context, requestID string, zones []domain.RiskZone) error {
	if len(zones) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(zones))
	for i := range zones {
		msg, err := serializeToMessage(requestID, zones[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

// LoadBatch publishes the zones of several runs in one call.
func (w *Writer) LoadBatch(ctx context.Context, results []*tessellation.Response) error {
	var msgs []kafkago.Message
	for _, r := range results {
		for i := range r.Zones {
			msg, err := serializeToMessage(r.RequestID, r.Zones[i])
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// zoneMessage is the published form of a zone.
type zoneMessage struct {
	RequestID string `json:"request_id"`
	domain.RiskZone
	TotalRisk float64 `json:"total_risk"`
}

// serializeToMessage marshals a zone into a Kafka message keyed by cell id,
// so updates of one cell stay ordered within a partition.
func serializeToMessage(requestID string, zone domain.RiskZone) (kafkago.Message, error) {
	data, err := json.Marshal(zoneMessage{RequestID: requestID, RiskZone: zone, TotalRisk: zone.TotalRisk()})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize risk zone: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(zone.CellID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "request_id", Value: []byte(requestID)},
			{Key: "mode", Value: []byte(zone.Mode)},
			{Key: "updated_at", Value: []byte(zone.UpdatedAt.Format(time.RFC3339))},
		},
	}, nil
}
