package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Pond/internal/domain/models"
	"Pond/internal/domain/table"
	"Pond/pkg/cache"
)

var syncNow = time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC)

func hourlySource() *fakeSource {
	return &fakeSource{name: "binance-um", fn: func(req models.KlineRequest) (*table.Batch, error) {
		if req.Symbol == "BAD" {
			return nil, errors.New("invalid symbol")
		}
		return series(req.Symbol, req.Start, req.End, time.Hour), nil
	}}
}

func futuresJob(symbols ...string) models.Job {
	return models.Job{
		Name: "futures", Table: table.FuturesKline1H.Name(), Source: "binance",
		Symbols: symbols, Interval: models.Interval1h, Lookback: 24 * time.Hour,
	}
}

func TestSyncWritesClosedWindow(t *testing.T) {
	src := hourlySource()
	store := &fakeStore{}
	sync := NewKlineSync(Sources{"binance": src}, NewSink(BackendClickHouse, store, nil, nil, nil), store, withClock(func() time.Time { return syncNow }))

	n, err := sync.Sync(context.Background(), futuresJob("BTCUSDT", "ETHUSDT"))
	require.NoError(t, err)
	assert.Equal(t, 48, n)
	assert.Equal(t, 48, store.rows())

	req := src.requests[0]
	assert.Equal(t, syncNow.Truncate(time.Hour).Add(-24*time.Hour).UnixMilli(), req.Start)
	assert.Equal(t, syncNow.Truncate(time.Hour).UnixMilli(), req.End)

	b := store.stored[0].batch
	assert.Equal(t, table.FuturesKline1H.ColumnNames(), b.Columns())
	assert.Equal(t, "BTCUSDT", b.Column("code")[0])
}

func TestSyncPagesByLimit(t *testing.T) {
	src := hourlySource()
	store := &fakeStore{}
	sync := NewKlineSync(Sources{"binance": src}, NewSink("", store, nil, nil, nil), store,
		WithSupply(2, 10), withClock(func() time.Time { return syncNow }))

	n, err := sync.Sync(context.Background(), futuresJob("BTCUSDT"))
	require.NoError(t, err)
	assert.Equal(t, 24, n)
	assert.Equal(t, 3, src.calls())
	for _, r := range src.requests {
		assert.LessOrEqual(t, r.End-r.Start, 10*time.Hour.Milliseconds())
	}
}

func TestSyncSkipsRepairOnKafkaBackend(t *testing.T) {
	src := hourlySource()
	pub := &fakePublisher{}
	// the store has not seen the published rows yet
	store := &fakeStore{}
	sync := NewKlineSync(Sources{"binance": src}, NewSink(BackendKafka, nil, pub, nil, nil), store,
		withClock(func() time.Time { return syncNow }))

	job := futuresJob("BTCUSDT")
	job.Repair = true
	n, err := sync.Sync(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 24, n)
	assert.Equal(t, 1, src.calls())
	published := 0
	for _, b := range pub.batches {
		published += b.Len()
	}
	assert.Equal(t, 24, published)
}

func TestSyncIsolatesSymbols(t *testing.T) {
	store := &fakeStore{}
	m := newFakeMetrics()
	sync := NewKlineSync(Sources{"binance": hourlySource()}, NewSink("", store, nil, m, nil), store,
		WithSyncMetrics(m), withClock(func() time.Time { return syncNow }))

	n, err := sync.Sync(context.Background(), futuresJob("BTCUSDT", "BAD", "ETHUSDT"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BAD")
	assert.Equal(t, 48, n)
	assert.Equal(t, 48, m.rows["clickhouse/kline_futures_1h"])
}

func TestSyncResolvesInputs(t *testing.T) {
	store := &fakeStore{}
	sync := NewKlineSync(Sources{"binance": hourlySource()}, NewSink("", store, nil, nil, nil), store)

	_, err := sync.Sync(context.Background(), models.Job{Name: "x", Table: "nope", Source: "binance"})
	assert.ErrorIs(t, err, ErrUnknownTable)

	_, err = sync.Sync(context.Background(), models.Job{Name: "x", Table: table.KlineDailyHFQ.Name(), Source: "polygon", Symbols: []string{"AAPL"}})
	assert.ErrorIs(t, err, ErrUnknownSource)

	_, err = sync.Sync(context.Background(), futuresJob())
	assert.Error(t, err)
}

type listingSource struct {
	*fakeSource
	symbols []string
}

func (l *listingSource) PerpetualSymbols(context.Context) ([]string, error) { return l.symbols, nil }

func TestSyncListsSymbolsWhenNoneConfigured(t *testing.T) {
	src := &listingSource{fakeSource: hourlySource(), symbols: []string{"BTCUSDT", "SOLUSDT"}}
	store := &fakeStore{}
	sync := NewKlineSync(Sources{"binance": src}, NewSink("", store, nil, nil, nil), store, withClock(func() time.Time { return syncNow }))

	n, err := sync.Sync(context.Background(), futuresJob())
	require.NoError(t, err)
	assert.Equal(t, 48, n)
}

func TestSourcesResolvePrefersTable(t *testing.T) {
	hfq, nfq := &fakeSource{name: "hfq"}, &fakeSource{name: "nfq"}
	s := Sources{"polygon": hfq, "polygon/kline_daily_nfq": nfq}

	got, err := s.Resolve("polygon", "kline_daily_nfq")
	require.NoError(t, err)
	assert.Equal(t, "nfq", got.Name())
	got, err = s.Resolve("polygon", "kline_daily_hfq")
	require.NoError(t, err)
	assert.Equal(t, "hfq", got.Name())
}

func TestRepairFillsDetectedGaps(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(12 * time.Hour)
	store := &fakeStore{times: hours(from, 0, 1, 2, 6, 7, 8, 9)}
	src := hourlySource()
	sync := NewKlineSync(Sources{"binance": src}, NewSink("", store, nil, nil, nil), store)

	res, err := sync.Repair(context.Background(), RepairParams{
		Table: table.FuturesKline1H.Name(), Source: "binance", Symbol: "BTCUSDT",
		Interval: models.Interval1h, From: from, To: to,
	})
	require.NoError(t, err)
	ms := func(h int) int64 { return from.Add(time.Duration(h) * time.Hour).UnixMilli() }
	assert.Equal(t, []int64{ms(3), ms(6), ms(10), ms(12)}, res.Lack)
	assert.Equal(t, 5, res.Rows)
	assert.Equal(t, 2, src.calls())
}

func TestRepairNothingMissing(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{times: hours(from, 0, 1, 2)}
	src := hourlySource()
	sync := NewKlineSync(Sources{"binance": src}, NewSink("", store, nil, nil, nil), store)

	res, err := sync.Repair(context.Background(), RepairParams{
		Table: table.FuturesKline1H.Name(), Source: "binance", Symbol: "BTCUSDT",
		Interval: models.Interval1h, From: from, To: from.Add(3 * time.Hour),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Lack)
	assert.Zero(t, src.calls())
}

func TestRepairHonorsLock(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	store := &fakeStore{}
	sync := NewKlineSync(Sources{"binance": hourlySource()}, NewSink("", store, nil, nil, nil), store, WithLocks(mc, time.Minute))

	key := cache.Key("pond", "repair", table.FuturesKline1H.Name(), "BTCUSDT")
	_, ok, err := mc.TryLock(context.Background(), key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := RepairParams{Table: table.FuturesKline1H.Name(), Source: "binance", Symbol: "btcusdt",
		Interval: models.Interval1h, From: from, To: from.Add(2 * time.Hour)}
	_, err = sync.Repair(context.Background(), p)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, mc.Delete(context.Background(), key))
	res, err := sync.Repair(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)

	// released after the run
	_, ok, err = mc.TryLock(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSinkKafkaBackend(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewSink(BackendKafka, nil, pub, nil, nil)

	n, err := sink.Write(context.Background(), table.FuturesKline1H, series("BTCUSDT", 0, 3*time.Hour.Milliseconds(), time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, pub.batches, 1)
	assert.NoError(t, table.FuturesKline1H.Conforms(pub.batches[0]))

	// incomplete batches never reach the topic
	raw := table.NewBatch("open_time", "close")
	require.NoError(t, raw.AppendRow(int64(0), 1.0))
	_, err = sink.Write(context.Background(), table.FuturesKline1H, raw)
	assert.ErrorIs(t, err, table.ErrSchemaMismatch)
	assert.Len(t, pub.batches, 1)
}
