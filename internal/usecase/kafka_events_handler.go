package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	pkgkafka "SignalFlow/pkg/kafka"
)

// KafkaEventsHandler consumes event records from Kafka and writes them to the event log.
type KafkaEventsHandler struct {
	topic   string
	storage domrepo.EventLog
	metrics domrepo.Metrics
}

func NewKafkaEventsHandler(topic string, storage domrepo.EventLog, metrics domrepo.Metrics) *KafkaEventsHandler {
	return &KafkaEventsHandler{topic: topic, storage: storage, metrics: metrics}
}

func (h *KafkaEventsHandler) Topic() string { return h.topic }

func (h *KafkaEventsHandler) Handle(ctx context.Context, b []byte) error {
	var rec models.EventRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if rec.ID == "" || rec.Symbol == "" {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("event record missing id or symbol")
	}
	// detection to consumption
	h.metrics.RecordLatency("event_e2e", time.Since(rec.Timestamp).Seconds())

	start := time.Now()
	err := h.storage.StoreBatch(ctx, []models.EventRecord{rec})
	h.metrics.RecordLatency("event_log_insert", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaEventsHandler)(nil)
