package repository

import (
	"context"
	"fmt"
	"math"

	"Pond/internal/domain/models"
	"Pond/internal/domain/repository"
	"Pond/internal/domain/table"
	pkgkafka "Pond/pkg/kafka"
)

// KafkaPublisher implements Publisher for Kafka. Each symbol's rows go out as
// one message keyed by the symbol, so a partition sees a series in order.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
	chunk    int
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) repository.Publisher {
	return &KafkaPublisher{producer: producer, topic: topic, chunk: messageChunk}
}

// messageChunk keeps messages below the default 1 MiB broker limit.
const messageChunk = 2000

func (p *KafkaPublisher) Publish(ctx context.Context, desc *table.Descriptor, b *table.Batch) error {
	msgs, err := batchMessages(desc, b, p.chunk)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	out := make([]pkgkafka.Message, len(msgs))
	for i, m := range msgs {
		out[i] = pkgkafka.Message{Key: []byte(m.Symbol), Value: m}
	}
	return p.producer.PublishBatch(ctx, p.topic, out)
}

// batchMessages splits b by symbol, in first-seen order, and chunks each group.
func batchMessages(desc *table.Descriptor, b *table.Batch, chunk int) ([]models.BatchMessage, error) {
	if b.Empty() {
		return nil, nil
	}
	symCol, ok := desc.SymbolColumn()
	if !ok {
		return nil, fmt.Errorf("publish %s: no symbol column", desc.Name())
	}
	syms := b.Column(symCol.Name)
	if syms == nil {
		return nil, fmt.Errorf("publish %s: batch has no %s column", desc.Name(), symCol.Name)
	}

	columns := b.Columns()
	groups := make(map[string][][]any)
	var order []string
	for i := 0; i < b.Len(); i++ {
		sym := fmt.Sprint(syms[i])
		if _, ok := groups[sym]; !ok {
			order = append(order, sym)
		}
		row := b.Row(i)
		for j, v := range row {
			if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
				row[j] = nil
			}
		}
		groups[sym] = append(groups[sym], row)
	}

	var msgs []models.BatchMessage
	for _, sym := range order {
		rows := groups[sym]
		for lo := 0; lo < len(rows); lo += chunk {
			hi := lo + chunk
			if hi > len(rows) {
				hi = len(rows)
			}
			msgs = append(msgs, models.BatchMessage{Table: desc.Name(), Symbol: sym, Columns: columns, Rows: rows[lo:hi]})
		}
	}
	return msgs, nil
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
