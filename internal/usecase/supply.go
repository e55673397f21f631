package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"Pond/internal/domain/models"
	drepo "Pond/internal/domain/repository"
	"Pond/internal/domain/table"
	applogger "Pond/pkg/logger"
	"Pond/pkg/util"
)

var (
	// ErrOddBoundaries is returned when a missing-range list does not pair up.
	ErrOddBoundaries = errors.New("missing-range list has odd length")
	// ErrEmptyWindow is reported for a pair whose end is not after its start.
	ErrEmptyWindow = errors.New("empty window")
	// ErrNoTimeLabel is reported when a fetched batch lacks the time label.
	ErrNoTimeLabel = errors.New("batch has no time label")
)

// WindowError is one failed [Start, End) refetch.
type WindowError struct {
	Start, End int64
	Err        error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("window %s -> %s: %v", util.FormatMillis(e.Start), util.FormatMillis(e.End), e.Err)
}

func (e *WindowError) Unwrap() error { return e.Err }

// SupplyError lists the windows that could not be refetched. Rows from the
// other windows are still returned alongside it.
type SupplyError struct {
	Symbol   string
	Failures []*WindowError
}

func (e *SupplyError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("supply %s: %d window(s) failed: %s", e.Symbol, len(e.Failures), strings.Join(msgs, "; "))
}

func (e *SupplyError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f
	}
	return out
}

// timeLabeler is implemented by sources that know which label keys their bars.
type timeLabeler interface {
	TimeLabel() string
}

// Supplier refetches missing ranges of a series from one source.
type Supplier struct {
	source      drepo.KlineSource
	timeLabel   string
	concurrency int
	limit       int
	log         *applogger.Logger
	metrics     drepo.Metrics
}

type SupplierOption func(*Supplier)

// WithConcurrency caps the number of windows fetched at once.
func WithConcurrency(n int) SupplierOption {
	return func(s *Supplier) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLimit sets the per-call record cap.
func WithLimit(n int) SupplierOption {
	return func(s *Supplier) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithTimeLabel overrides the label used to keep rows inside their window.
func WithTimeLabel(label string) SupplierOption {
	return func(s *Supplier) { s.timeLabel = label }
}

func WithSupplyLogger(l *applogger.Logger) SupplierOption {
	return func(s *Supplier) { s.log = l }
}

func WithSupplyMetrics(m drepo.Metrics) SupplierOption {
	return func(s *Supplier) { s.metrics = m }
}

// NewSupplier creates a Supplier over source.
func NewSupplier(source drepo.KlineSource, opts ...SupplierOption) *Supplier {
	s := &Supplier{
		source:      source,
		timeLabel:   "open_time",
		concurrency: 8,
		limit:       1000,
		log:         applogger.Nop(),
	}
	if tl, ok := source.(timeLabeler); ok {
		s.timeLabel = tl.TimeLabel()
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = applogger.Nop()
	}
	return s
}

// Source returns the upstream this supplier reads from.
func (s *Supplier) Source() drepo.KlineSource { return s.source }

// Supply fetches every [lack[2i], lack[2i+1]) window of symbol concurrently and
// merges the results in request order. An empty list yields nil without any
// fetch. A failed window does not stop the others: the merged rows of the
// successful windows are returned together with a *SupplyError.
func (s *Supplier) Supply(ctx context.Context, symbol string, interval models.Interval, lack []int64) (*table.Batch, error) {
	if len(lack)%2 != 0 {
		return nil, fmt.Errorf("supply %s: %w (%d)", symbol, ErrOddBoundaries, len(lack))
	}
	if len(lack) == 0 {
		return nil, nil
	}

	n := len(lack) / 2
	parts := make([]*table.Batch, n)
	errs := make([]error, n)

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := 0; i < n; i++ {
		i := i
		start, end := lack[2*i], lack[2*i+1]
		g.Go(func() error {
			parts[i], errs[i] = s.window(ctx, symbol, interval, start, end)
			return nil
		})
	}
	_ = g.Wait()

	var serr *SupplyError
	for i, err := range errs {
		if err == nil {
			continue
		}
		if serr == nil {
			serr = &SupplyError{Symbol: symbol}
		}
		serr.Failures = append(serr.Failures, &WindowError{Start: lack[2*i], End: lack[2*i+1], Err: err})
	}

	out, err := table.Concat(parts...)
	if err != nil {
		return nil, fmt.Errorf("supply %s: %w", symbol, err)
	}
	if serr != nil {
		return out, serr
	}
	return out, nil
}

func (s *Supplier) window(ctx context.Context, symbol string, interval models.Interval, start, end int64) (*table.Batch, error) {
	name := s.source.Name()
	if end <= start {
		s.record(name, false)
		return nil, ErrEmptyWindow
	}
	s.log.Info(fmt.Sprintf("[%s] supplement missing %s data: %s -> %s",
		symbol, interval, util.FormatMillis(start), util.FormatMillis(end)),
		applogger.String("source", name))

	began := time.Now()
	b, err := s.source.Klines(ctx, models.KlineRequest{
		Symbol:   symbol,
		Interval: interval,
		Start:    start,
		End:      end,
		Limit:    s.limit,
	})
	if s.metrics != nil {
		s.metrics.RecordFetch(name, symbol)
		s.metrics.RecordLatency("supply_window", time.Since(began).Seconds())
	}
	if err != nil {
		s.record(name, false)
		s.log.Warn("supplement window failed",
			applogger.String("symbol", symbol),
			applogger.String("source", name),
			applogger.Error(err))
		return nil, err
	}

	b, err = s.clip(b, start, end)
	s.record(name, err == nil)
	return b, err
}

// clip keeps the rows whose time label falls inside [start, end).
func (s *Supplier) clip(b *table.Batch, start, end int64) (*table.Batch, error) {
	if b.Empty() {
		return nil, nil
	}
	if !b.Has(s.timeLabel) {
		return nil, fmt.Errorf("%w %q", ErrNoTimeLabel, s.timeLabel)
	}
	col := b.Column(s.timeLabel)
	return b.Filter(func(i int) bool {
		v, err := table.Coerce(table.DateTime64, col[i])
		if err != nil {
			return false
		}
		ms := v.(time.Time).UnixMilli()
		return ms >= start && ms < end
	}), nil
}

func (s *Supplier) record(source string, ok bool) {
	if s.metrics != nil {
		s.metrics.RecordSupplyWindow(source, ok)
	}
}
