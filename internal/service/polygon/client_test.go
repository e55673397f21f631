package polygon

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	pmodels "github.com/polygon-io/client-go/rest/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Pond/internal/domain/models"
	"Pond/internal/domain/table"
)

type sliceIter struct {
	items []pmodels.Agg
	pos   int
	err   error
	nexts int
}

func (s *sliceIter) Next() bool {
	s.nexts++
	if s.pos >= len(s.items) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceIter) Item() pmodels.Agg { return s.items[s.pos-1] }
func (s *sliceIter) Err() error        { return s.err }

func agg(day time.Time, close, volume, vwap float64) pmodels.Agg {
	return pmodels.Agg{
		Open: close - 1, High: close + 1, Low: close - 2, Close: close,
		Volume: volume, VWAP: vwap, Timestamp: pmodels.Millis(day),
	}
}

func TestKlinesMapsAggregates(t *testing.T) {
	d0 := time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC)
	var got *pmodels.ListAggsParams
	c := newClient(func(_ context.Context, p *pmodels.ListAggsParams) aggIter {
		got = p
		return &sliceIter{items: []pmodels.Agg{agg(d0, 10, 100, 9.5), agg(d0.AddDate(0, 0, 1), 11, 200, 10.5)}}
	}, WithAdjusted(false))

	b, err := c.Klines(context.Background(), models.KlineRequest{
		Symbol: "aapl", Interval: models.Interval1d,
		Start: d0.UnixMilli(), End: d0.AddDate(0, 0, 2).UnixMilli(),
	})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "AAPL", got.Ticker)
	assert.Equal(t, 1, got.Multiplier)
	assert.Equal(t, pmodels.Day, got.Timespan)
	require.NotNil(t, got.Adjusted)
	assert.False(t, *got.Adjusted)
	assert.Equal(t, "polygon-nfq", c.Name())

	require.Equal(t, 2, b.Len())
	assert.Equal(t, []any{"aapl", "aapl"}, b.Column(LabelSymbol))
	assert.Equal(t, 950.0, b.Column("Amount")[0])
	assert.True(t, math.IsNaN(b.Column(LabelTurnover)[1].(float64)))

	out, err := table.KlineDailyNFQ.Format(b)
	require.NoError(t, err)
	require.NoError(t, table.KlineDailyNFQ.Conforms(out))
	assert.Equal(t, d0.AddDate(0, 0, 1), out.Column("datetime")[1])
}

func TestKlinesEmptyIsNil(t *testing.T) {
	c := newClient(func(context.Context, *pmodels.ListAggsParams) aggIter { return &sliceIter{} })
	b, err := c.Klines(context.Background(), models.KlineRequest{Symbol: "AAPL", Start: 1, End: 2})
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestKlinesStopsAtLimit(t *testing.T) {
	d0 := time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC)
	it := &sliceIter{}
	for i := 0; i < 5; i++ {
		it.items = append(it.items, agg(d0.AddDate(0, 0, i), 10, 100, 9.5))
	}
	c := newClient(func(context.Context, *pmodels.ListAggsParams) aggIter { return it })

	b, err := c.Klines(context.Background(), models.KlineRequest{
		Symbol: "AAPL", Interval: models.Interval1d, Limit: 2,
		Start: d0.UnixMilli(), End: d0.AddDate(0, 0, 5).UnixMilli(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, b.Len())
	// a third Next would fetch past the limit
	assert.Equal(t, 2, it.nexts)
}

func TestKlinesRetriesServerError(t *testing.T) {
	calls := 0
	c := newClient(func(context.Context, *pmodels.ListAggsParams) aggIter {
		calls++
		if calls == 1 {
			return &sliceIter{err: &pmodels.ErrorResponse{StatusCode: 502}}
		}
		return &sliceIter{items: []pmodels.Agg{agg(time.Unix(0, 0), 1, 1, 1)}}
	}, WithRetry(2, time.Millisecond, time.Millisecond))

	b, err := c.Klines(context.Background(), models.KlineRequest{Symbol: "AAPL", Start: 1, End: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 2, calls)
}

func TestKlinesClientErrorIsFinal(t *testing.T) {
	calls := 0
	c := newClient(func(context.Context, *pmodels.ListAggsParams) aggIter {
		calls++
		return &sliceIter{err: &pmodels.ErrorResponse{StatusCode: 403}}
	}, WithRetry(3, time.Millisecond, time.Millisecond))

	_, err := c.Klines(context.Background(), models.KlineRequest{Symbol: "AAPL", Start: 1, End: 2})
	require.Error(t, err)
	var er *pmodels.ErrorResponse
	assert.True(t, errors.As(err, &er))
	assert.Equal(t, 1, calls)
}

func TestTimespan(t *testing.T) {
	cases := []struct {
		in   models.Interval
		mult int
		span pmodels.Timespan
	}{
		{models.Interval1m, 1, pmodels.Minute},
		{models.Interval15m, 15, pmodels.Minute},
		{models.Interval4h, 4, pmodels.Hour},
		{models.Interval1d, 1, pmodels.Day},
		{models.Interval3d, 3, pmodels.Day},
		{models.Interval1w, 1, pmodels.Week},
		{models.Interval1M, 1, pmodels.Month},
	}
	for _, tc := range cases {
		m, s, err := timespan(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.mult, m, tc.in)
		assert.Equal(t, tc.span, s, tc.in)
	}
	_, _, err := timespan("7x")
	assert.Error(t, err)
}
