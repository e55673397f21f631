package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"Pond/internal/domain/models"
	drepo "Pond/internal/domain/repository"
	"Pond/internal/domain/table"
	applogger "Pond/pkg/logger"
)

// BatchFunc turns closed klines into a labeled batch for the target table.
type BatchFunc func([]*models.Kline) *table.Batch

// KlineCollector writes closed bars from a live stream. Bars are buffered and
// flushed when the buffer fills or flushEvery elapses, so all symbols closing
// on the same boundary land in one insert.
type KlineCollector struct {
	stream     drepo.KlineStream
	sink       *Sink
	desc       *table.Descriptor
	toBatch    BatchFunc
	metrics    drepo.Metrics
	log        *applogger.Logger
	batchSize  int
	flushEvery time.Duration
	retryMin   time.Duration
	retryMax   time.Duration

	mu  sync.Mutex
	buf []*models.Kline
	wg  sync.WaitGroup
}

// NewKlineCollector creates a collector writing into desc.
func NewKlineCollector(stream drepo.KlineStream, sink *Sink, desc *table.Descriptor, toBatch BatchFunc, metrics drepo.Metrics, l *applogger.Logger) *KlineCollector {
	if l == nil {
		l = applogger.Nop()
	}
	return &KlineCollector{
		stream:     stream,
		sink:       sink,
		desc:       desc,
		toBatch:    toBatch,
		metrics:    metrics,
		log:        l,
		batchSize:  500,
		flushEvery: 2 * time.Second,
		retryMin:   time.Second,
		retryMax:   time.Minute,
	}
}

// IsConnected returns true if the market stream is connected.
func (c *KlineCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *KlineCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	kCh, errCh := c.stream.Read(ctx)
	c.wg.Add(1)
	go c.consume(ctx, kCh, errCh)
	return nil
}

func (c *KlineCollector) consume(ctx context.Context, kCh <-chan *models.Kline, errCh <-chan error) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			c.flush(ctx)
		case err, ok := <-errCh:
			if !ok || err != nil {
				if err != nil {
					c.log.Warn("kline stream error", applogger.Error(err))
				}
				c.recordError("stream")
				c.flush(ctx)
				if err := c.reconnect(ctx); err != nil {
					return
				}
				kCh, errCh = c.stream.Read(ctx)
			}
		case k, ok := <-kCh:
			if !ok {
				kCh = nil
				continue
			}
			if k == nil {
				continue
			}
			c.mu.Lock()
			c.buf = append(c.buf, k)
			full := len(c.buf) >= c.batchSize
			c.mu.Unlock()
			if full {
				c.flush(ctx)
			}
		}
	}
}

// reconnect retries with exponential backoff until the stream is back or ctx
// ends.
func (c *KlineCollector) reconnect(ctx context.Context) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryMin
	eb.MaxInterval = c.retryMax
	eb.MaxElapsedTime = 0
	return backoff.RetryNotify(func() error {
		return c.stream.Reconnect(ctx)
	}, backoff.WithContext(eb, ctx), func(err error, wait time.Duration) {
		c.recordError("reconnect")
		c.log.Error("kline stream reconnect failed",
			applogger.Error(err),
			applogger.Duration("retry_in", wait))
	})
}

func (c *KlineCollector) flush(ctx context.Context) {
	c.mu.Lock()
	pending := c.buf
	c.buf = nil
	c.mu.Unlock()
	if len(pending) == 0 {
		return
	}
	n, err := c.sink.Write(ctx, c.desc, c.toBatch(pending))
	if err != nil {
		c.log.Error("write stream klines",
			applogger.String("table", c.desc.Name()),
			applogger.Int("klines", len(pending)),
			applogger.Error(err))
		return
	}
	c.log.Debug("stream klines written", applogger.String("table", c.desc.Name()), applogger.Int("rows", n))
}

func (c *KlineCollector) recordError(kind string) {
	if c.metrics != nil {
		c.metrics.RecordError(kind)
	}
}

// Shutdown waits for the consumer to drain and closes the stream. ctx passed
// to Start must be cancelled first.
func (c *KlineCollector) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return c.stream.Close()
}
