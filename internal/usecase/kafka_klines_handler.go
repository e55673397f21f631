package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"Pond/internal/domain/models"
	domrepo "Pond/internal/domain/repository"
	"Pond/internal/domain/table"
	pkgkafka "Pond/pkg/kafka"
)

// KafkaKlinesHandler consumes formatted batches from Kafka and writes them to
// ClickHouse.
type KafkaKlinesHandler struct {
	topic   string
	store   domrepo.KlineStore
	metrics domrepo.Metrics
}

func NewKafkaKlinesHandler(topic string, store domrepo.KlineStore, metrics domrepo.Metrics) *KafkaKlinesHandler {
	return &KafkaKlinesHandler{topic: topic, store: store, metrics: metrics}
}

func (h *KafkaKlinesHandler) Topic() string { return h.topic }

// Handle decodes a models.BatchMessage. Undecodable messages and unknown
// tables are permanent failures; store errors are retried by the consumer.
func (h *KafkaKlinesHandler) Handle(ctx context.Context, b []byte) error {
	var m models.BatchMessage
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		h.recordError("consumer_unmarshal")
		return backoff.Permanent(fmt.Errorf("decode batch: %w", err))
	}
	desc, ok := table.Lookup(m.Table)
	if !ok {
		h.recordError("consumer_table")
		return backoff.Permanent(fmt.Errorf("%w %q", ErrUnknownTable, m.Table))
	}

	raw := table.NewBatch(m.Columns...)
	for i, row := range m.Rows {
		if err := raw.AppendRow(row...); err != nil {
			h.recordError("consumer_row")
			return backoff.Permanent(fmt.Errorf("row %d: %w", i, err))
		}
	}
	// values lost their Go types in JSON
	out, err := desc.Format(raw)
	if err != nil {
		h.recordError("consumer_format")
		return backoff.Permanent(err)
	}

	start := time.Now()
	err = h.store.Store(ctx, desc, out)
	if h.metrics != nil {
		h.metrics.RecordLatency("ch_insert_seconds", time.Since(start).Seconds())
	}
	if err != nil {
		h.recordError("consumer_store")
		return err
	}
	if h.metrics != nil {
		h.metrics.RecordRowsWritten("clickhouse", desc.Name(), out.Len())
	}
	return nil
}

func (h *KafkaKlinesHandler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

var _ pkgkafka.MessageHandler = (*KafkaKlinesHandler)(nil)
