package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
environment: test
backend:
  type: clickhouse
clickhouse:
  host: ch
  database: market
jobs:
  - name: futures-hourly
    table: kline_futures_1h
    source: binance
    symbols: [BTCUSDT, ETHUSDT]
    cron: "5 * * * *"
    repair: true
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "market", c.ClickHouse.Database)
	assert.Equal(t, 9000, c.ClickHouse.Port)
	assert.Equal(t, 8, c.Supply.Concurrency)
	assert.Equal(t, 1000, c.Supply.Limit)
	assert.Equal(t, "um", c.Binance.Market)
	assert.Equal(t, 10*time.Second, c.Binance.Timeout)
	require.Len(t, c.Jobs, 1)
	assert.Equal(t, "1h", c.Jobs[0].Interval)
	assert.Equal(t, 24*time.Hour, c.Jobs[0].Lookback)
	assert.True(t, c.Jobs[0].Repair)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad backend":       "backend:\n  type: postgres\n",
		"kafka no brokers":  "backend:\n  type: kafka\n",
		"bad source":        "jobs:\n  - {name: a, table: t, source: yahoo, cron: '* * * * *'}\n",
		"duplicate job":     "jobs:\n  - {name: a, table: t, source: binance, cron: '@hourly'}\n  - {name: a, table: t, source: binance, cron: '@hourly'}\n",
		"polygon needs key": "jobs:\n  - {name: a, table: kline_daily_hfq, source: polygon, cron: '@daily'}\n",
		"concurrency":       "supply:\n  concurrency: 0\n",
		"repair on kafka":   "backend:\n  type: kafka\nkafka:\n  brokers: [k:9092]\njobs:\n  - {name: a, table: t, source: binance, cron: '@hourly', repair: true}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "jobs:\n  - {name: stocks, table: kline_daily_hfq, source: polygon, symbols: [AAPL], cron: '@daily'}\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	t.Setenv("POLYGON_API_KEY", "secret")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", c.Polygon.APIKey)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
}
