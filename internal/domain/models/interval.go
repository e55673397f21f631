package models

import (
	"fmt"
	"time"
)

// Interval is a K-line resolution as spelled by Binance.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval3d  Interval = "3d"
	Interval1w  Interval = "1w"
	Interval1M  Interval = "1M"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval3m:  3 * time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval30m: 30 * time.Minute,
	Interval1h:  time.Hour,
	Interval2h:  2 * time.Hour,
	Interval4h:  4 * time.Hour,
	Interval6h:  6 * time.Hour,
	Interval8h:  8 * time.Hour,
	Interval12h: 12 * time.Hour,
	Interval1d:  24 * time.Hour,
	Interval3d:  72 * time.Hour,
	Interval1w:  7 * 24 * time.Hour,
}

// IsValid returns true if i is a supported interval.
func (i Interval) IsValid() bool {
	if i == Interval1M {
		return true
	}
	_, ok := intervalDurations[i]
	return ok
}

// Duration returns the fixed width of i. Calendar intervals (1M) have none.
func (i Interval) Duration() (time.Duration, bool) {
	d, ok := intervalDurations[i]
	return d, ok
}

func (i Interval) String() string { return string(i) }

// ParseInterval validates s. An empty string yields DefaultInterval.
func ParseInterval(s string) (Interval, error) {
	if s == "" {
		return DefaultInterval(), nil
	}
	i := Interval(s)
	if !i.IsValid() {
		return "", fmt.Errorf("unsupported interval %q", s)
	}
	return i, nil
}

// DefaultInterval returns the default interval.
func DefaultInterval() Interval { return Interval1h }
