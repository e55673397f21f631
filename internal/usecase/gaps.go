package usecase

import (
	"fmt"
	"sort"
	"time"

	"Pond/internal/domain/models"
)

// GapOption configures DetectGaps.
type GapOption func(*gapConfig)

type gapConfig struct {
	open func(time.Time) bool
}

// WithSessions only reports bars whose open time satisfies open. Missing bars
// outside sessions, such as weekends for stocks, are not gaps.
func WithSessions(open func(time.Time) bool) GapOption {
	return func(c *gapConfig) { c.open = open }
}

// Weekdays is a session predicate for markets closed on Saturday and Sunday.
func Weekdays(t time.Time) bool {
	switch t.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// DetectGaps returns the missing-range list of a series over [from, to): pairs
// of epoch-ms boundaries, each a half-open window with no bar. A gap is only
// reported when at least one whole interval fits in it, so a bar that has not
// closed by to is not treated as missing.
func DetectGaps(times []time.Time, interval models.Interval, from, to time.Time, opts ...GapOption) ([]int64, error) {
	var cfg gapConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	step, ok := interval.Duration()
	if !ok {
		return nil, fmt.Errorf("detect gaps: interval %q has no fixed width", interval)
	}
	if !to.After(from) {
		return nil, fmt.Errorf("detect gaps: empty range %s -> %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	ts := make([]time.Time, 0, len(times))
	for _, t := range times {
		if !t.Before(from) && t.Before(to) {
			ts = append(ts, t)
		}
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })

	var lack []int64
	cursor := from
	for _, t := range ts {
		if t.Sub(cursor) >= step {
			lack = append(lack, cursor.UnixMilli(), t.UnixMilli())
		}
		if next := t.Add(step); next.After(cursor) {
			cursor = next
		}
	}
	if to.Sub(cursor) >= step {
		lack = append(lack, cursor.UnixMilli(), to.UnixMilli())
	}
	if cfg.open != nil {
		lack = inSessions(lack, step, cfg.open)
	}
	return lack, nil
}

// inSessions splits each window into runs of in-session bar slots and drops
// the rest.
func inSessions(lack []int64, step time.Duration, open func(time.Time) bool) []int64 {
	var out []int64
	for i := 0; i+1 < len(lack); i += 2 {
		end := time.UnixMilli(lack[i+1]).UTC()
		run := int64(-1)
		for t := time.UnixMilli(lack[i]).UTC(); t.Before(end); t = t.Add(step) {
			if open(t) {
				if run < 0 {
					run = t.UnixMilli()
				}
				continue
			}
			if run >= 0 {
				out = append(out, run, t.UnixMilli())
				run = -1
			}
		}
		// a run cut short by the window end is only a gap if a whole bar fits
		if run >= 0 && end.UnixMilli()-run >= step.Milliseconds() {
			out = append(out, run, end.UnixMilli())
		}
	}
	return out
}
