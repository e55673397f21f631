package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"Pond/internal/domain/models"
	"Pond/internal/domain/table"
)

// fakeSource serves bars every step from its fn, or a generated series.
type fakeSource struct {
	name string
	fn   func(req models.KlineRequest) (*table.Batch, error)

	mu       sync.Mutex
	requests []models.KlineRequest
}

func (f *fakeSource) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeSource) Klines(_ context.Context, req models.KlineRequest) (*table.Batch, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// series builds a binance-shaped batch with one bar per step in [start, end).
func series(symbol string, start, end int64, step time.Duration) *table.Batch {
	b := table.NewBatch("open_time", "open", "high", "low", "close", "volume", "close_time",
		"quote_volume", "count", "taker_buy_volume", "taker_buy_quote_volume", "jj_code")
	for t := start; t < end; t += step.Milliseconds() {
		_ = b.AppendRow(t, 1.0, 2.0, 0.5, 1.5, 10.0, t+step.Milliseconds()-1, 15.0, int64(3), 4.0, 6.0, symbol)
	}
	if b.Empty() {
		return nil
	}
	return b
}

type fakeMetrics struct {
	mu      sync.Mutex
	rows    map[string]int
	windows map[bool]int
	errors  map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{rows: map[string]int{}, windows: map[bool]int{}, errors: map[string]int{}}
}

func (m *fakeMetrics) RecordRowsWritten(backend, tbl string, n int) {
	m.mu.Lock()
	m.rows[backend+"/"+tbl] += n
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordFetch(string, string) {}
func (m *fakeMetrics) RecordSupplyWindow(_ string, ok bool) {
	m.mu.Lock()
	m.windows[ok]++
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordLatency(string, float64) {}

type storedBatch struct {
	table string
	batch *table.Batch
}

type fakeStore struct {
	mu       sync.Mutex
	stored   []storedBatch
	times    []time.Time
	timesErr error
	storeErr error
}

func (s *fakeStore) Init(context.Context) error { return nil }

func (s *fakeStore) Store(_ context.Context, desc *table.Descriptor, b *table.Batch) error {
	if err := desc.Conforms(b); err != nil {
		return err
	}
	if s.storeErr != nil {
		return s.storeErr
	}
	s.mu.Lock()
	s.stored = append(s.stored, storedBatch{table: desc.Name(), batch: b})
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) TimeKeys(_ context.Context, _ *table.Descriptor, _, _ string, _, _ time.Time) ([]time.Time, error) {
	return s.times, s.timesErr
}

func (s *fakeStore) Query(context.Context, *table.Descriptor, string, time.Time, time.Time, int) ([]map[string]any, error) {
	return nil, nil
}

func (s *fakeStore) Health(context.Context) error { return nil }
func (s *fakeStore) Close() error                 { return nil }

func (s *fakeStore) rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.stored {
		n += b.batch.Len()
	}
	return n
}

type fakePublisher struct {
	mu      sync.Mutex
	batches []*table.Batch
}

func (p *fakePublisher) Publish(_ context.Context, _ *table.Descriptor, b *table.Batch) error {
	p.mu.Lock()
	p.batches = append(p.batches, b)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fakeStream struct {
	klines chan *models.Kline
	errs   chan error

	mu         sync.Mutex
	connected  bool
	closed     bool
	failures   int
	reconnects int
}

func newFakeStream() *fakeStream {
	return &fakeStream{klines: make(chan *models.Kline, 16), errs: make(chan error, 1)}
}

func (f *fakeStream) Connect(context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}
func (f *fakeStream) Subscribe(context.Context) error { return nil }
func (f *fakeStream) Read(context.Context) (<-chan *models.Kline, <-chan error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.klines, f.errs
}

// Reconnect fails the first failures calls, then hands out a fresh error
// channel like a new connection would.
func (f *fakeStream) Reconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	if f.failures > 0 {
		f.failures--
		f.connected = false
		return errors.New("dial refused")
	}
	f.connected = true
	f.errs = make(chan error, 1)
	return nil
}

func (f *fakeStream) reconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}
func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.connected, f.closed = false, true
	f.mu.Unlock()
	return nil
}
func (f *fakeStream) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
