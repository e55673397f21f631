package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"Pond/internal/domain/models"
	drepo "Pond/internal/domain/repository"
	"Pond/internal/domain/table"
	"Pond/pkg/cache"
	applogger "Pond/pkg/logger"
	"Pond/pkg/util"
)

var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownSource = errors.New("unknown source")
	// ErrLocked is returned when another process is repairing the same series.
	ErrLocked = errors.New("repair already running")
)

// Sources resolves the upstream for a (source, table) pair. An entry keyed
// "source/table" wins over one keyed by the source alone.
type Sources map[string]drepo.KlineSource

func (s Sources) Resolve(source, tbl string) (drepo.KlineSource, error) {
	if src, ok := s[source+"/"+tbl]; ok {
		return src, nil
	}
	if src, ok := s[source]; ok {
		return src, nil
	}
	return nil, fmt.Errorf("%w %q for table %s", ErrUnknownSource, source, tbl)
}

// symbolLister is implemented by sources that can enumerate their universe.
type symbolLister interface {
	PerpetualSymbols(ctx context.Context) ([]string, error)
}

// RepairParams selects one series and window to repair.
type RepairParams struct {
	Table    string
	Source   string
	Symbol   string
	Interval models.Interval
	From     time.Time
	To       time.Time
}

type RepairResult struct {
	Table  string  `json:"table"`
	Symbol string  `json:"symbol"`
	Lack   []int64 `json:"lack"`
	Rows   int     `json:"rows"`
}

// KlineSync pulls recent bars for scheduled jobs and repairs holes in stored
// series.
type KlineSync struct {
	sources     Sources
	sink        *Sink
	store       drepo.KlineStore
	locks       cache.Service
	lockTTL     time.Duration
	concurrency int
	limit       int
	metrics     drepo.Metrics
	log         *applogger.Logger
	now         func() time.Time
}

type SyncOption func(*KlineSync)

// WithLocks guards Repair with a per-series lock held for ttl.
func WithLocks(c cache.Service, ttl time.Duration) SyncOption {
	return func(s *KlineSync) {
		s.locks = c
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithSupply sets the gap-fill concurrency and per-call record cap.
func WithSupply(concurrency, limit int) SyncOption {
	return func(s *KlineSync) {
		if concurrency > 0 {
			s.concurrency = concurrency
		}
		if limit > 0 {
			s.limit = limit
		}
	}
}

func WithSyncLogger(l *applogger.Logger) SyncOption {
	return func(s *KlineSync) { s.log = l }
}

func WithSyncMetrics(m drepo.Metrics) SyncOption {
	return func(s *KlineSync) { s.metrics = m }
}

func withClock(now func() time.Time) SyncOption {
	return func(s *KlineSync) { s.now = now }
}

// NewKlineSync creates the sync use case. store is read for repairs and may
// differ from the sink's write path.
func NewKlineSync(sources Sources, sink *Sink, store drepo.KlineStore, opts ...SyncOption) *KlineSync {
	s := &KlineSync{
		sources:     sources,
		sink:        sink,
		store:       store,
		lockTTL:     10 * time.Minute,
		concurrency: 8,
		limit:       1000,
		log:         applogger.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = applogger.Nop()
	}
	return s
}

// Sync fetches the job's lookback window for every symbol and writes it. One
// symbol failing does not stop the others; failures are joined.
func (s *KlineSync) Sync(ctx context.Context, job models.Job) (int, error) {
	desc, ok := table.Lookup(job.Table)
	if !ok {
		return 0, fmt.Errorf("sync %s: %w %q", job.Name, ErrUnknownTable, job.Table)
	}
	src, err := s.sources.Resolve(job.Source, job.Table)
	if err != nil {
		return 0, fmt.Errorf("sync %s: %w", job.Name, err)
	}
	symbols, err := s.symbols(ctx, src, job.Symbols)
	if err != nil {
		return 0, fmt.Errorf("sync %s: %w", job.Name, err)
	}
	interval := job.Interval
	if interval == "" {
		interval = models.DefaultInterval()
	}
	from, to := s.window(interval, job.Lookback)

	// Rows published to kafka are not in the store until the consumer
	// flushes, so a repair right after would refetch the whole window.
	repair := job.Repair
	if repair && s.sink.Backend() == BackendKafka {
		s.log.Warn("repair skipped on the kafka backend", applogger.String("job", job.Name))
		repair = false
	}

	began := time.Now()
	total := 0
	var errs []error
	for _, sym := range symbols {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		n, err := s.syncSymbol(ctx, desc, src, sym, interval, from, to)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			s.log.Error("sync symbol failed",
				applogger.String("job", job.Name),
				applogger.String("symbol", sym),
				applogger.Error(err))
			continue
		}
		if repair {
			res, err := s.Repair(ctx, RepairParams{
				Table: job.Table, Source: job.Source, Symbol: sym,
				Interval: interval, From: from, To: to,
			})
			if res != nil {
				total += res.Rows
			}
			if err != nil && !errors.Is(err, ErrLocked) {
				errs = append(errs, fmt.Errorf("%s repair: %w", sym, err))
			}
		}
	}
	if s.metrics != nil {
		s.metrics.RecordLatency("sync_job", time.Since(began).Seconds())
	}
	s.log.Info("sync finished",
		applogger.String("job", job.Name),
		applogger.String("table", job.Table),
		applogger.Int("symbols", len(symbols)),
		applogger.Int("rows", total),
		applogger.Duration("took", time.Since(began)))
	return total, errors.Join(errs...)
}

// window ends at the start of the current bar so only closed bars are pulled.
func (s *KlineSync) window(interval models.Interval, lookback time.Duration) (time.Time, time.Time) {
	now := s.now().UTC()
	to := now
	if d, ok := interval.Duration(); ok {
		to = now.Truncate(d)
	}
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return to.Add(-lookback), to
}

func (s *KlineSync) symbols(ctx context.Context, src drepo.KlineSource, configured []string) ([]string, error) {
	if len(configured) > 0 {
		return configured, nil
	}
	if l, ok := src.(symbolLister); ok {
		return l.PerpetualSymbols(ctx)
	}
	return nil, fmt.Errorf("no symbols configured for %s", src.Name())
}

// syncSymbol pages through [from, to) in windows of at most limit bars.
func (s *KlineSync) syncSymbol(ctx context.Context, desc *table.Descriptor, src drepo.KlineSource, symbol string, interval models.Interval, from, to time.Time) (int, error) {
	start, end := from.UnixMilli(), to.UnixMilli()
	page := end - start
	if d, ok := interval.Duration(); ok {
		page = d.Milliseconds() * int64(s.limit)
	}
	total := 0
	for lo := start; lo < end; lo += page {
		hi := lo + page
		if hi > end {
			hi = end
		}
		b, err := src.Klines(ctx, models.KlineRequest{
			Symbol: symbol, Interval: interval, Start: lo, End: hi, Limit: s.limit,
		})
		if s.metrics != nil {
			s.metrics.RecordFetch(src.Name(), symbol)
		}
		if err != nil {
			return total, err
		}
		n, err := s.sink.Write(ctx, desc, b)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// gapColumn picks the stored column whose values mark bar starts.
func gapColumn(desc *table.Descriptor, column string) string {
	if column != "" {
		return column
	}
	if _, ok := desc.Column("open_time"); ok {
		return "open_time"
	}
	return desc.TimeKey()
}

// Gaps reports the missing-range list of a stored series.
func (s *KlineSync) Gaps(ctx context.Context, tbl, symbol string, interval models.Interval, from, to time.Time, column string) ([]int64, error) {
	desc, ok := table.Lookup(tbl)
	if !ok {
		return nil, fmt.Errorf("gaps: %w %q", ErrUnknownTable, tbl)
	}
	col := gapColumn(desc, column)
	if c, ok := desc.Column(col); !ok || c.Type != table.DateTime64 {
		return nil, fmt.Errorf("gaps: %s.%s is not a datetime column", tbl, col)
	}
	if s.store == nil {
		return nil, fmt.Errorf("gaps: no store configured")
	}
	times, err := s.store.TimeKeys(ctx, desc, col, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("gaps %s %s: %w", tbl, symbol, err)
	}
	var opts []GapOption
	if desc.WeekdaysOnly() {
		opts = append(opts, WithSessions(Weekdays))
	}
	return DetectGaps(times, interval, from, to, opts...)
}

// Repair detects holes in the stored series and refetches them. Rows from the
// windows that succeeded are written even when others fail.
func (s *KlineSync) Repair(ctx context.Context, p RepairParams) (*RepairResult, error) {
	desc, ok := table.Lookup(p.Table)
	if !ok {
		return nil, fmt.Errorf("repair: %w %q", ErrUnknownTable, p.Table)
	}
	src, err := s.sources.Resolve(p.Source, p.Table)
	if err != nil {
		return nil, fmt.Errorf("repair: %w", err)
	}

	if s.locks != nil {
		key := cache.Key("pond", "repair", p.Table, strings.ToUpper(p.Symbol))
		token, ok, err := s.locks.TryLock(ctx, key, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("repair lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s %s", ErrLocked, p.Table, p.Symbol)
		}
		defer func() {
			if err := s.locks.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
				s.log.Warn("repair unlock", applogger.String("key", key), applogger.Error(err))
			}
		}()
	}

	lack, err := s.Gaps(ctx, p.Table, p.Symbol, p.Interval, p.From, p.To, "")
	if err != nil {
		return nil, err
	}
	res := &RepairResult{Table: p.Table, Symbol: p.Symbol, Lack: lack}
	if len(lack) == 0 {
		return res, nil
	}
	s.log.Info("repairing series",
		applogger.String("table", p.Table),
		applogger.String("symbol", p.Symbol),
		applogger.Int("windows", len(lack)/2),
		applogger.String("from", util.FormatMillis(lack[0])),
		applogger.String("to", util.FormatMillis(lack[len(lack)-1])))

	sup := NewSupplier(src,
		WithConcurrency(s.concurrency),
		WithLimit(s.limit),
		WithSupplyLogger(s.log),
		WithSupplyMetrics(s.metrics))
	b, supplyErr := sup.Supply(ctx, p.Symbol, p.Interval, lack)

	n, err := s.sink.Write(ctx, desc, b)
	res.Rows = n
	if err != nil {
		return res, errors.Join(supplyErr, err)
	}
	return res, supplyErr
}
