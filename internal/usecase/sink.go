package usecase

import (
	"context"
	"fmt"
	"strings"

	drepo "Pond/internal/domain/repository"
	"Pond/internal/domain/table"
	applogger "Pond/pkg/logger"
)

const (
	BackendClickHouse = "clickhouse"
	BackendKafka      = "kafka"
)

// Sink formats labeled batches for a table and routes them to the configured
// backend: straight into ClickHouse, or onto Kafka for the sink consumer.
type Sink struct {
	backend   string
	store     drepo.KlineStore
	publisher drepo.Publisher
	metrics   drepo.Metrics
	log       *applogger.Logger
}

func NewSink(backend string, store drepo.KlineStore, publisher drepo.Publisher, metrics drepo.Metrics, l *applogger.Logger) *Sink {
	if backend == "" {
		backend = BackendClickHouse
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Sink{backend: backend, store: store, publisher: publisher, metrics: metrics, log: l}
}

// Backend returns the configured backend name.
func (s *Sink) Backend() string { return s.backend }

// Write formats b with desc and hands it to the backend. Declared columns the
// batch cannot supply are logged here and rejected by the store.
func (s *Sink) Write(ctx context.Context, desc *table.Descriptor, b *table.Batch) (int, error) {
	if b.Empty() {
		return 0, nil
	}
	if miss := desc.Missing(b); len(miss) > 0 {
		s.log.Warn("batch misses declared columns",
			applogger.String("table", desc.Name()),
			applogger.String("missing", strings.Join(miss, ",")))
	}
	out, err := desc.Format(b)
	if err != nil {
		s.recordError("format")
		return 0, err
	}

	switch s.backend {
	case BackendKafka:
		if s.publisher == nil {
			return 0, fmt.Errorf("sink: kafka backend without publisher")
		}
		if err := desc.Conforms(out); err != nil {
			s.recordError("schema")
			return 0, err
		}
		err = s.publisher.Publish(ctx, desc, out)
	default:
		if s.store == nil {
			return 0, fmt.Errorf("sink: clickhouse backend without store")
		}
		err = s.store.Store(ctx, desc, out)
	}
	if err != nil {
		s.recordError("write_" + s.backend)
		return 0, fmt.Errorf("write %s to %s: %w", desc.Name(), s.backend, err)
	}
	if s.metrics != nil {
		s.metrics.RecordRowsWritten(s.backend, desc.Name(), out.Len())
	}
	return out.Len(), nil
}

func (s *Sink) recordError(kind string) {
	if s.metrics != nil {
		s.metrics.RecordError(kind)
	}
}
