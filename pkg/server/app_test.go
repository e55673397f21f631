package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Pond/internal/domain/models"
	"Pond/pkg/config"
)

func TestJobs(t *testing.T) {
	cfg, err := config.Parse([]byte(`
jobs:
  - name: futures-1h
    table: kline_futures_1h
    source: binance
    cron: "5 * * * *"
    repair: true
  - name: stocks
    table: kline_daily_hfq
    source: binance
    symbols: [AAPL]
    interval: 1d
    lookback: 168h
    cron: "30 22 * * 1-5"
`))
	require.NoError(t, err)

	jobs, err := Jobs(cfg)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, models.Interval1h, jobs[0].Interval)
	assert.Equal(t, 24*time.Hour, jobs[0].Lookback)
	assert.Equal(t, "clickhouse", jobs[0].Backend)
	assert.True(t, jobs[0].Repair)

	assert.Equal(t, models.Interval("1d"), jobs[1].Interval)
	assert.Equal(t, 168*time.Hour, jobs[1].Lookback)
	assert.Equal(t, []string{"AAPL"}, jobs[1].Symbols)
}

func TestJobsRejectsBadInterval(t *testing.T) {
	cfg := &config.Config{Jobs: []config.Job{{Name: "x", Interval: "7h"}}}
	_, err := Jobs(cfg)
	assert.Error(t, err)
}
