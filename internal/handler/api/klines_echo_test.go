package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Pond/internal/domain/models"
	"Pond/internal/domain/table"
	"Pond/internal/service/binance"
	"Pond/internal/usecase"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type memStore struct {
	times  []time.Time
	stored int
	rows   []map[string]any
}

func (s *memStore) Init(context.Context) error { return nil }
func (s *memStore) Store(_ context.Context, d *table.Descriptor, b *table.Batch) error {
	if err := d.Conforms(b); err != nil {
		return err
	}
	s.stored += b.Len()
	return nil
}
func (s *memStore) TimeKeys(context.Context, *table.Descriptor, string, string, time.Time, time.Time) ([]time.Time, error) {
	return s.times, nil
}
func (s *memStore) Query(context.Context, *table.Descriptor, string, time.Time, time.Time, int) ([]map[string]any, error) {
	return s.rows, nil
}
func (s *memStore) Health(context.Context) error { return nil }
func (s *memStore) Close() error                 { return nil }

type hourSource struct{}

func (hourSource) Name() string { return "binance-um" }
func (hourSource) Klines(_ context.Context, req models.KlineRequest) (*table.Batch, error) {
	var ks []*models.Kline
	for t := req.Start; t < req.End; t += time.Hour.Milliseconds() {
		ks = append(ks, &models.Kline{Symbol: req.Symbol, OpenTime: t, CloseTime: t + time.Hour.Milliseconds() - 1, Close: 1})
	}
	return binance.BatchFromKlines(ks), nil
}

func newTestEcho(store *memStore) *echo.Echo {
	sink := usecase.NewSink(usecase.BackendClickHouse, store, nil, nil, nil)
	sync := usecase.NewKlineSync(usecase.Sources{"binance": hourSource{}}, sink, store)
	h := NewKlinesEchoHandler(nil, usecase.NewKlinesQueryUseCase(store), sync)
	e := echo.New()
	h.RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestTablesAndHealth(t *testing.T) {
	e := newTestEcho(&memStore{})

	rec := do(e, http.MethodGet, "/api/tables", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows  []usecase.TableInfo `json:"rows"`
		Total int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &list))
	assert.Equal(t, 3, list.Total)
	assert.Equal(t, "kline_daily_hfq", list.Rows[0].Name)

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/healthz", "").Code)
}

func TestKlinesValidation(t *testing.T) {
	e := newTestEcho(&memStore{})

	rec := do(e, http.MethodGet, "/api/klines?table=kline_futures_1h", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_REQUIRED")

	rec = do(e, http.MethodGet, "/api/klines?table=nope&symbol=BTCUSDT", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(e, http.MethodGet, "/api/klines?table=kline_futures_1h&symbol=BTCUSDT&limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGapsEndpoint(t *testing.T) {
	store := &memStore{times: []time.Time{base, base.Add(time.Hour), base.Add(3 * time.Hour)}}
	e := newTestEcho(store)

	rec := do(e, http.MethodGet, "/api/gaps?table=kline_futures_1h&symbol=BTCUSDT&interval=1h&from=2024-01-01&to=2024-01-01T05:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Lack    []int64    `json:"lack"`
		Windows [][]string `json:"windows"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &res))
	ms := func(h int) int64 { return base.Add(time.Duration(h) * time.Hour).UnixMilli() }
	assert.Equal(t, []int64{ms(2), ms(3), ms(4), ms(5)}, res.Lack)
	assert.Equal(t, []string{"2024-01-01 02:00:00", "2024-01-01 03:00:00"}, res.Windows[0])

	rec = do(e, http.MethodGet, "/api/gaps?table=kline_futures_1h&symbol=BTCUSDT&interval=7h&from=2024-01-01&to=2024-01-02", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSupplyEndpoint(t *testing.T) {
	store := &memStore{times: []time.Time{base}}
	e := newTestEcho(store)

	body := `{"table":"kline_futures_1h","symbol":"BTCUSDT","interval":"1h","from":"2024-01-01T00:00:00Z","to":"2024-01-01T04:00:00Z"}`
	rec := do(e, http.MethodPost, "/api/supply", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res usecase.RepairResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &res))
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 3, store.stored)

	rec = do(e, http.MethodPost, "/api/supply", `{"table":"kline_futures_1h","symbol":"BTCUSDT","from":"2024-01-02","to":"2024-01-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// daily tables default to polygon, which is not wired here
	rec = do(e, http.MethodPost, "/api/supply", `{"table":"kline_daily_hfq","symbol":"AAPL","interval":"1d","from":"2024-01-01","to":"2024-01-05"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
