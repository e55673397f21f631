package table

import "sort"

func dailyStockSpec(name, comment string) Spec {
	return Spec{
		Name:    name,
		Comment: comment,
		Columns: []Column{
			{Name: "datetime", Label: "Date", Type: DateTime64, Primary: true},
			{Name: "code", Label: "Symbol", Type: String},
			{Name: "open", Label: "Open"},
			{Name: "high", Label: "High"},
			{Name: "low", Label: "Low"},
			{Name: "close", Label: "Close"},
			{Name: "volume", Label: "Volume"},
			{Name: "amount", Label: "Amount"},
			{Name: "turn", Label: "Turnover"},
		},
		TimeKey:      "datetime",
		OrderBy:      []string{"datetime", "code"},
		PrimaryKey:   []string{"datetime", "code"},
		WeekdaysOnly: true,
	}
}

var (
	// KlineDailyHFQ holds adjusted daily stock bars.
	KlineDailyHFQ = MustDescriptor(dailyStockSpec("kline_daily_hfq", "daily kline, adjusted"))

	// KlineDailyNFQ holds unadjusted daily stock bars.
	KlineDailyNFQ = MustDescriptor(dailyStockSpec("kline_daily_nfq", "daily kline, unadjusted"))

	// FuturesKline1H holds hourly futures bars keyed by close time.
	FuturesKline1H = MustDescriptor(Spec{
		Name: "kline_futures_1h",
		Columns: []Column{
			{Name: "code", Label: "jj_code", Type: String},
			{Name: "open_time", Label: "open_time", Type: DateTime64, Primary: true},
			{Name: "open", Label: "open"},
			{Name: "high", Label: "high"},
			{Name: "low", Label: "low"},
			{Name: "close", Label: "close"},
			{Name: "volume", Label: "volume"},
			{Name: "datetime", Label: "close_time", Type: DateTime64, Primary: true},
			{Name: "quote_volume", Label: "quote_volume"},
			{Name: "count", Label: "count"},
			{Name: "taker_buy_volume", Label: "taker_buy_volume"},
			{Name: "taker_buy_quote_volume", Label: "taker_buy_quote_volume"},
		},
		TimeKey:    "datetime",
		OrderBy:    []string{"datetime", "code"},
		PrimaryKey: []string{"datetime", "code"},
	})
)

var registry = map[string]*Descriptor{
	KlineDailyHFQ.Name():  KlineDailyHFQ,
	KlineDailyNFQ.Name():  KlineDailyNFQ,
	FuturesKline1H.Name(): FuturesKline1H,
}

// Lookup returns the registered table called name.
func Lookup(name string) (*Descriptor, bool) {
	d, ok := registry[name]
	return d, ok
}

// All returns every registered table sorted by name.
func All() []*Descriptor {
	out := make([]*Descriptor, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
