package table

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func futuresRaw(t *testing.T) *Batch {
	t.Helper()
	b := NewBatch("open_time", "open", "high", "low", "close", "volume", "close_time",
		"quote_volume", "count", "taker_buy_volume", "taker_buy_quote_volume", "ignore")
	require.NoError(t, b.AppendRow(json.Number("1700000000000"), "36500.1", "36600", "36400.5", "36550",
		"12.5", json.Number("1700003599999"), "456000.75", json.Number("321"), "6.1", "222000.2", "0"))
	require.NoError(t, b.AppendRow(json.Number("1700003600000"), "36550", "36700", "36500", "36650",
		"9.75", json.Number("1700007199999"), "357000", json.Number("250"), "4", "146000", "0"))
	b.SetConst("jj_code", "BTCUSDT")
	return b
}

func TestFormatOrdersStorageColumns(t *testing.T) {
	out, err := FuturesKline1H.Format(futuresRaw(t))
	require.NoError(t, err)

	assert.Equal(t, FuturesKline1H.ColumnNames(), out.Columns())
	assert.NoError(t, FuturesKline1H.Conforms(out))
	assert.Equal(t, 2, out.Len())
	assert.False(t, out.Has("ignore"))

	row := out.Row(0)
	assert.Equal(t, "BTCUSDT", row[0])
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), row[1])
	assert.Equal(t, 36500.1, row[2])
	assert.Equal(t, time.UnixMilli(1700003599999).UTC(), row[7])
	assert.Equal(t, 321.0, row[9])
}

func TestFormatStockLabels(t *testing.T) {
	b := NewBatch("Date", "Open", "High", "Low", "Close", "Volume", "Amount", "Turnover", "Extra")
	require.NoError(t, b.AppendRow("2024-03-01", 10.0, 11.0, 9.5, 10.5, int64(1000), 10500.0, math.NaN(), "x"))
	b.SetConst("Symbol", "AAPL")

	out, err := KlineDailyHFQ.Format(b)
	require.NoError(t, err)
	assert.Equal(t, KlineDailyHFQ.ColumnNames(), out.Columns())
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), out.Column("datetime")[0])
	assert.Equal(t, "AAPL", out.Column("code")[0])
	assert.Equal(t, 1000.0, out.Column("volume")[0])
}

func TestFormatSkipsMissingColumns(t *testing.T) {
	b := NewBatch("Date", "Close")
	require.NoError(t, b.AppendRow("2024-03-01", "10.5"))

	out, err := KlineDailyNFQ.Format(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"datetime", "close"}, out.Columns())
	assert.Equal(t, []string{"code", "open", "high", "low", "volume", "amount", "turn"}, KlineDailyNFQ.Missing(b))
	assert.ErrorIs(t, KlineDailyNFQ.Conforms(out), ErrSchemaMismatch)
}

func TestFormatPrefersStorageName(t *testing.T) {
	b := NewBatch("close", "Close", "Date")
	require.NoError(t, b.AppendRow(1.0, 2.0, "2024-01-02"))

	out, err := KlineDailyNFQ.Format(b)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Column("close")[0])
}

func TestFormatIsIdempotent(t *testing.T) {
	once, err := FuturesKline1H.Format(futuresRaw(t))
	require.NoError(t, err)
	twice, err := FuturesKline1H.Format(once)
	require.NoError(t, err)
	assert.Equal(t, once.Rows(), twice.Rows())
}

func TestCoerceIdempotent(t *testing.T) {
	inputs := []any{"42.9", json.Number("7"), int64(3), 2.5, int64(1700000000000)}
	for _, typ := range []ColumnType{String, Int64, Float64} {
		for _, in := range inputs {
			first, err := Coerce(typ, in)
			require.NoError(t, err, "%s %v", typ, in)
			second, err := Coerce(typ, first)
			require.NoError(t, err)
			assert.Equal(t, first, second, "%s %v", typ, in)
		}
	}
	for _, in := range []any{"2024-01-02T03:04:05Z", int64(1700000000000), json.Number("1700000000000")} {
		first, err := Coerce(DateTime64, in)
		require.NoError(t, err)
		second, err := Coerce(DateTime64, first)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestCoerceTruncatesIntegers(t *testing.T) {
	v, err := Coerce(Int64, 3.99)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = Coerce(Int64, "-7.6")
	require.NoError(t, err)
	assert.Equal(t, int64(-7), v)
}

func TestFormatReportsCoercionFailure(t *testing.T) {
	b := NewBatch("Date", "Open")
	require.NoError(t, b.AppendRow("2024-01-02", "not-a-number"))

	_, err := KlineDailyNFQ.Format(b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCoerce))
}

func TestFormatNilBatch(t *testing.T) {
	out, err := KlineDailyNFQ.Format(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
}
