package models

import "time"

// Kline is one fixed-width OHLCV bar as published by futures exchanges.
type Kline struct {
	Symbol              string
	Interval            Interval
	OpenTime            int64 // epoch ms
	CloseTime           int64 // epoch ms
	Open                float64
	High                float64
	Low                 float64
	Close               float64
	Volume              float64
	QuoteVolume         float64
	Count               int64
	TakerBuyVolume      float64
	TakerBuyQuoteVolume float64
	Closed              bool
}

// OpenAt returns OpenTime as UTC time.
func (k *Kline) OpenAt() time.Time { return time.UnixMilli(k.OpenTime).UTC() }

// KlineRequest asks a source for bars of one symbol in [Start, End).
type KlineRequest struct {
	Symbol   string
	Interval Interval
	Start    int64 // epoch ms, inclusive
	End      int64 // epoch ms, exclusive
	Limit    int
}

// Window returns the request bounds as UTC times.
func (r KlineRequest) Window() (time.Time, time.Time) {
	return time.UnixMilli(r.Start).UTC(), time.UnixMilli(r.End).UTC()
}

// Job is a scheduled sync of one table from one source.
type Job struct {
	Name     string
	Table    string
	Source   string
	Backend  string
	Symbols  []string
	Interval Interval
	Lookback time.Duration
	Cron     string
	Repair   bool
}
