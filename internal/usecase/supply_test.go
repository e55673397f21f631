package usecase

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Pond/internal/domain/models"
	"Pond/internal/domain/table"
	applogger "Pond/pkg/logger"
)

const (
	day   = 24 * time.Hour
	start = int64(1700000000000)
	end   = int64(1700086400000)
)

func TestSupplyOddBoundaries(t *testing.T) {
	src := &fakeSource{fn: func(models.KlineRequest) (*table.Batch, error) { return nil, nil }}
	b, err := NewSupplier(src).Supply(context.Background(), "BTCUSDT", models.Interval1d, []int64{start, end, end + 1})
	assert.ErrorIs(t, err, ErrOddBoundaries)
	assert.Nil(t, b)
	assert.Zero(t, src.calls())
}

func TestSupplyEmptyListSpawnsNothing(t *testing.T) {
	src := &fakeSource{fn: func(models.KlineRequest) (*table.Batch, error) {
		t.Fatal("no fetch expected")
		return nil, nil
	}}
	b, err := NewSupplier(src).Supply(context.Background(), "BTCUSDT", models.Interval1d, nil)
	require.NoError(t, err)
	assert.True(t, b.Empty())
	assert.Zero(t, src.calls())
}

func TestSupplySingleWindowKeepsOnlyInsideRows(t *testing.T) {
	src := &fakeSource{fn: func(req models.KlineRequest) (*table.Batch, error) {
		// upstream returns one bar on each side of the window
		return series("BTCUSDT", req.Start-day.Milliseconds(), req.End+day.Milliseconds(), 6*time.Hour), nil
	}}
	var buf bytes.Buffer
	s := NewSupplier(src, WithLimit(1000), WithSupplyLogger(applogger.NewWriter(&buf)))

	b, err := s.Supply(context.Background(), "BTCUSDT", models.Interval1d, []int64{start, end})
	require.NoError(t, err)

	require.Equal(t, 1, src.calls())
	req := src.requests[0]
	assert.Equal(t, models.KlineRequest{Symbol: "BTCUSDT", Interval: models.Interval1d, Start: start, End: end, Limit: 1000}, req)

	require.Equal(t, 4, b.Len())
	for _, v := range b.Column("open_time") {
		ms := v.(int64)
		assert.True(t, ms >= start && ms < end, "row %d outside window", ms)
	}
	assert.Contains(t, buf.String(), "[BTCUSDT] supplement missing 1d data: 2023-11-14 22:13:20 -> 2023-11-15 22:13:20")
}

func TestSupplyFanInAndRowCount(t *testing.T) {
	const n = 12
	var done int32
	src := &fakeSource{fn: func(req models.KlineRequest) (*table.Batch, error) {
		// later windows finish first
		time.Sleep(time.Duration(n-int((req.Start-start)/day.Milliseconds())) * time.Millisecond)
		defer atomic.AddInt32(&done, 1)
		return series(req.Symbol, req.Start, req.End, time.Hour), nil
	}}

	lack := make([]int64, 0, 2*n)
	want := 0
	for i := 0; i < n; i++ {
		s := start + int64(i)*day.Milliseconds()
		hours := i%3 + 1
		lack = append(lack, s, s+int64(hours)*time.Hour.Milliseconds())
		want += hours
	}

	b, err := NewSupplier(src, WithConcurrency(4)).Supply(context.Background(), "ETHUSDT", models.Interval1h, lack)
	require.NoError(t, err)
	assert.Equal(t, int32(n), atomic.LoadInt32(&done))
	assert.Equal(t, n, src.calls())
	assert.Equal(t, want, b.Len())

	// merged in request order
	col := b.Column("open_time")
	for i := 1; i < len(col); i++ {
		assert.Less(t, col[i-1].(int64), col[i].(int64))
	}
}

func TestSupplyBoundedConcurrency(t *testing.T) {
	var inflight, peak int32
	src := &fakeSource{fn: func(req models.KlineRequest) (*table.Batch, error) {
		cur := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		return nil, nil
	}}

	var lack []int64
	for i := 0; i < 20; i++ {
		s := start + int64(i)*day.Milliseconds()
		lack = append(lack, s, s+day.Milliseconds())
	}
	_, err := NewSupplier(src, WithConcurrency(3)).Supply(context.Background(), "X", models.Interval1d, lack)
	require.NoError(t, err)
	assert.Equal(t, 20, src.calls())
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestSupplyIsolatesFailures(t *testing.T) {
	boom := errors.New("upstream 502")
	second := start + day.Milliseconds()
	src := &fakeSource{fn: func(req models.KlineRequest) (*table.Batch, error) {
		if req.Start == second {
			return nil, boom
		}
		return series(req.Symbol, req.Start, req.End, time.Hour), nil
	}}
	m := newFakeMetrics()
	lack := []int64{
		start, start + 2*time.Hour.Milliseconds(),
		second, second + 5*time.Hour.Milliseconds(),
		start + 2*day.Milliseconds(), start + 2*day.Milliseconds() + 3*time.Hour.Milliseconds(),
	}

	b, err := NewSupplier(src, WithSupplyMetrics(m)).Supply(context.Background(), "BTCUSDT", models.Interval1h, lack)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var serr *SupplyError
	require.True(t, errors.As(err, &serr))
	require.Len(t, serr.Failures, 1)
	assert.Equal(t, second, serr.Failures[0].Start)

	assert.Equal(t, 5, b.Len())
	assert.Equal(t, 3, src.calls())
	assert.Equal(t, 2, m.windows[true])
	assert.Equal(t, 1, m.windows[false])
}

func TestSupplyRejectsEmptyWindowAndMissingLabel(t *testing.T) {
	src := &fakeSource{fn: func(req models.KlineRequest) (*table.Batch, error) {
		b := table.NewBatch("Date", "Close")
		_ = b.AppendRow(time.UnixMilli(req.Start), 1.0)
		return b, nil
	}}
	_, err := NewSupplier(src).Supply(context.Background(), "AAPL", models.Interval1d, []int64{end, start, start, end})
	assert.ErrorIs(t, err, ErrEmptyWindow)
	assert.ErrorIs(t, err, ErrNoTimeLabel)

	b, err := NewSupplier(src, WithTimeLabel("Date")).Supply(context.Background(), "AAPL", models.Interval1d, []int64{start, end})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Len())
}
