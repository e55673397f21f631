package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Pond/internal/domain/models"
	"Pond/internal/domain/table"
)

func TestKafkaKlinesHandlerStoresBatch(t *testing.T) {
	d0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	msg := models.BatchMessage{
		Table:   table.KlineDailyNFQ.Name(),
		Symbol:  "AAPL",
		Columns: table.KlineDailyNFQ.ColumnNames(),
		Rows: [][]any{
			{d0, "AAPL", 185.0, 186.5, 183.2, 185.6, 8.2e7, 1.52e10, nil},
			{d0.AddDate(0, 0, 1), "AAPL", 185.6, 187.0, 184.9, 186.1, 7.1e7, 1.32e10, nil},
		},
	}
	payload, err := json.Marshal(msg)
	require.NoError(t, err)

	store := &fakeStore{}
	m := newFakeMetrics()
	h := NewKafkaKlinesHandler("pond.klines", store, m)
	assert.Equal(t, "pond.klines", h.Topic())

	require.NoError(t, h.Handle(context.Background(), payload))
	require.Len(t, store.stored, 1)
	b := store.stored[0].batch
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, d0.AddDate(0, 0, 1), b.Column("datetime")[1])
	assert.Equal(t, 185.6, b.Column("close")[0])
	assert.Equal(t, 2, m.rows["clickhouse/kline_daily_nfq"])
}

func TestKafkaKlinesHandlerPermanentFailures(t *testing.T) {
	h := NewKafkaKlinesHandler("pond.klines", &fakeStore{}, nil)
	var perm *backoff.PermanentError

	err := h.Handle(context.Background(), []byte("{not json"))
	assert.True(t, errors.As(err, &perm))

	err = h.Handle(context.Background(), []byte(`{"table":"nope","columns":[],"rows":[]}`))
	assert.True(t, errors.As(err, &perm))
	assert.ErrorIs(t, err, ErrUnknownTable)

	err = h.Handle(context.Background(), []byte(`{"table":"kline_daily_nfq","columns":["datetime","code"],"rows":[["2024-01-02"]]}`))
	assert.True(t, errors.As(err, &perm))
}

func TestKafkaKlinesHandlerStoreErrorIsRetryable(t *testing.T) {
	boom := errors.New("clickhouse down")
	h := NewKafkaKlinesHandler("pond.klines", &fakeStore{storeErr: boom}, nil)
	payload, _ := json.Marshal(models.BatchMessage{
		Table:   table.KlineDailyHFQ.Name(),
		Columns: table.KlineDailyHFQ.ColumnNames(),
		Rows:    [][]any{{"2024-01-02", "AAPL", 1, 2, 0.5, 1.5, 10, 15, nil}},
	})

	err := h.Handle(context.Background(), payload)
	require.ErrorIs(t, err, boom)
	var perm *backoff.PermanentError
	assert.False(t, errors.As(err, &perm))
}
