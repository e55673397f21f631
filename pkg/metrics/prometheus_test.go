package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordRowsWritten("clickhouse", "kline_futures_1h", 24)
	r.RecordRowsWritten("clickhouse", "kline_futures_1h", 6)
	r.RecordSupplyWindow("binance-um", true)
	r.RecordSupplyWindow("binance-um", false)
	r.RecordSupplyWindow("binance-um", false)

	if got := testutil.ToFloat64(r.rowsWritten.WithLabelValues("clickhouse", "kline_futures_1h")); got != 30 {
		t.Fatalf("rows written = %v, want 30", got)
	}
	if got := testutil.ToFloat64(r.supplyWindows.WithLabelValues("binance-um", "failed")); got != 2 {
		t.Fatalf("failed windows = %v, want 2", got)
	}
}
