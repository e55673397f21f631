// Package polygon fetches stock aggregates from Polygon.io.
package polygon

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	polygon "github.com/polygon-io/client-go/rest"
	pmodels "github.com/polygon-io/client-go/rest/models"
	"golang.org/x/time/rate"

	"Pond/internal/domain/models"
	"Pond/internal/domain/table"
)

// Labels produced by Klines, matching the stock daily tables.
const (
	LabelDate     = "Date"
	LabelSymbol   = "Symbol"
	LabelTurnover = "Turnover"
)

// MaxLimit is the largest aggregate page Polygon serves.
const MaxLimit = 50000

var aggLabels = []string{LabelDate, "Open", "High", "Low", "Close", "Volume", "Amount", LabelTurnover}

// aggIter is satisfied by the client-go iterator.
type aggIter interface {
	Next() bool
	Item() pmodels.Agg
	Err() error
}

type listAggsFunc func(ctx context.Context, params *pmodels.ListAggsParams) aggIter

// Client implements repository.KlineSource for Polygon aggregates.
type Client struct {
	list       listAggsFunc
	adjusted   bool
	timeout    time.Duration
	limiter    *rate.Limiter
	maxRetries uint64
	backoffMin time.Duration
	backoffMax time.Duration
}

// Option configures Client.
type Option func(*Client)

// WithAdjusted selects split/dividend adjusted bars (HFQ) or raw bars (NFQ).
func WithAdjusted(adjusted bool) Option {
	return func(c *Client) { c.adjusted = adjusted }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit allows r requests per second with the given burst. The free
// Polygon tier allows 5 requests per minute.
func WithRateLimit(r float64, burst int) Option {
	return func(c *Client) {
		if r > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(r), burst)
		}
	}
}

func WithRetry(maxRetries uint64, min, max time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		if min > 0 {
			c.backoffMin = min
		}
		if max > 0 {
			c.backoffMax = max
		}
	}
}

// WithLimiter shares a limiter between the HFQ and NFQ clients of one API key.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// New creates a Polygon source for apiKey.
func New(apiKey string, opts ...Option) *Client {
	pc := polygon.New(apiKey)
	return newClient(func(ctx context.Context, p *pmodels.ListAggsParams) aggIter {
		return pc.ListAggs(ctx, p)
	}, opts...)
}

func newClient(list listAggsFunc, opts ...Option) *Client {
	c := &Client{
		list:       list,
		adjusted:   true,
		timeout:    15 * time.Second,
		backoffMin: time.Second,
		backoffMax: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name identifies the source in logs and metrics.
func (c *Client) Name() string {
	if c.adjusted {
		return "polygon-hfq"
	}
	return "polygon-nfq"
}

// TimeLabel is the label bars are keyed by within a window.
func (c *Client) TimeLabel() string { return LabelDate }

// timespan maps an interval to Polygon's multiplier and timespan.
func timespan(i models.Interval) (int, pmodels.Timespan, error) {
	if i == "" {
		return 1, pmodels.Day, nil
	}
	if i == models.Interval1M {
		return 1, pmodels.Month, nil
	}
	d, ok := i.Duration()
	if !ok {
		return 0, "", fmt.Errorf("polygon: unsupported interval %q", i)
	}
	switch {
	case d%(7*24*time.Hour) == 0:
		return int(d / (7 * 24 * time.Hour)), pmodels.Week, nil
	case d%(24*time.Hour) == 0:
		return int(d / (24 * time.Hour)), pmodels.Day, nil
	case d%time.Hour == 0:
		return int(d / time.Hour), pmodels.Hour, nil
	default:
		return int(d / time.Minute), pmodels.Minute, nil
	}
}

// Klines fetches aggregates for req.Symbol in [req.Start, req.End). Amount is
// VWAP × volume. Turnover is NaN since Polygon does not publish it. A window
// with no bars yields nil.
func (c *Client) Klines(ctx context.Context, req models.KlineRequest) (*table.Batch, error) {
	mult, span, err := timespan(req.Interval)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}
	symbol := strings.ToUpper(req.Symbol)
	params := pmodels.ListAggsParams{
		Ticker:     symbol,
		Multiplier: mult,
		Timespan:   span,
		From:       pmodels.Millis(time.UnixMilli(req.Start)),
		To:         pmodels.Millis(time.UnixMilli(req.End - 1)),
	}.WithAdjusted(c.adjusted).WithOrder(pmodels.Asc).WithLimit(limit)

	var b *table.Batch
	op := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		b, err = c.fetch(ctx, params, limit)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffMin
	bo.MaxInterval = c.backoffMax
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)); err != nil {
		return nil, fmt.Errorf("%s aggs %s: %w", c.Name(), symbol, err)
	}
	if b.Empty() {
		return nil, nil
	}
	b.SetConst(LabelSymbol, req.Symbol)
	return b, nil
}

func (c *Client) fetch(ctx context.Context, params *pmodels.ListAggsParams, limit int) (*table.Batch, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	b := table.NewBatch(aggLabels...)
	it := c.list(ctx, params)
	// check the limit first so a full batch never pulls another page
	for b.Len() < limit && it.Next() {
		a := it.Item()
		_ = b.AppendRow(time.Time(a.Timestamp).UTC(), a.Open, a.High, a.Low, a.Close, a.Volume,
			a.VWAP*a.Volume, math.NaN())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return b, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var er *pmodels.ErrorResponse
	if errors.As(err, &er) {
		return er.StatusCode == http.StatusTooManyRequests || er.StatusCode >= 500
	}
	return true
}
