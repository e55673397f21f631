package repository

import (
	"context"
	"time"

	"Pond/internal/domain/models"
	"Pond/internal/domain/table"
)

// KlineSource fetches one window of bars for one symbol. A nil batch with a nil
// error means the upstream has no data for the window.
type KlineSource interface {
	Name() string
	Klines(ctx context.Context, req models.KlineRequest) (*table.Batch, error)
}

type KlineStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Kline, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

type Publisher interface {
	Publish(ctx context.Context, desc *table.Descriptor, b *table.Batch) error
	Close() error
}

type KlineStore interface {
	Init(ctx context.Context) error // ensure database and tables
	Store(ctx context.Context, desc *table.Descriptor, b *table.Batch) error
	TimeKeys(ctx context.Context, desc *table.Descriptor, column, symbol string, from, to time.Time) ([]time.Time, error)
	Query(ctx context.Context, desc *table.Descriptor, symbol string, from, to time.Time, limit int) ([]map[string]any, error)
	Health(ctx context.Context) error // ping
	Close() error
}

type Metrics interface {
	RecordRowsWritten(backend, table string, n int)
	RecordFetch(source, symbol string)
	RecordSupplyWindow(source string, ok bool)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
