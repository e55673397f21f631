package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"Pond/internal/domain/models"
	"Pond/internal/domain/repository"
	"Pond/internal/domain/table"
	"Pond/internal/handler/api"
	internalrepo "Pond/internal/repository"
	"Pond/internal/service/binance"
	"Pond/internal/service/polygon"
	"Pond/internal/usecase"
	"Pond/pkg/cache"
	pkgch "Pond/pkg/clickhouse"
	"Pond/pkg/config"
	xhttp "Pond/pkg/http"
	pkgkafka "Pond/pkg/kafka"
	applogger "Pond/pkg/logger"
	"Pond/pkg/metrics"
	"Pond/pkg/server"
)

// ProvideLogger creates the application logger. When log.error_topic is set
// and a producer is available, error logs are digested to Kafka.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.ErrorTopic != "" && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			Service:      "pond",
			TimeInterval: cfg.Log.FlushInterval,
			Topic:        cfg.Log.ErrorTopic,
			Publisher:    producer,
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New(nil)
}

// ProvideClickHouseClient creates a ClickHouse client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database, true),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithPool(10, 5, 0),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithQuerySettings(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync, cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideKlineStore creates the ClickHouse store and makes sure every
// registered table exists.
func ProvideKlineStore(ch *pkgch.Client, l *applogger.Logger) (repository.KlineStore, error) {
	store := internalrepo.NewCHKlineStore(ch, table.All()...)
	store.SetLogger(l)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when no brokers are
// configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Producer.MaxAttempts, cfg.Kafka.Producer.Async),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePublisher creates the Kafka batch publisher.
func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)
}

// ProvideCache uses Redis when enabled so repair locks hold across
// instances, and an in-process cache otherwise.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix("pond"),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideBinanceClient creates the Binance futures REST client.
func ProvideBinanceClient(cfg *config.Config, c cache.Service) *binance.Client {
	hc := xhttp.NewClient(
		xhttp.WithTimeout(cfg.Binance.Timeout),
		xhttp.WithRateLimit(cfg.Binance.RateLimit, cfg.Binance.Burst),
		xhttp.WithRetry(cfg.Binance.MaxRetries, 200*time.Millisecond, 5*time.Second),
	)
	return binance.New(binance.Market(cfg.Binance.Market), hc,
		binance.WithBaseURL(cfg.Binance.BaseURL),
		binance.WithCache(c, cfg.Binance.SymbolsTTL),
	)
}

// ProvideSources maps source names to upstreams. Polygon HFQ and NFQ share
// one limiter since they share an API key.
func ProvideSources(cfg *config.Config, bn *binance.Client) usecase.Sources {
	sources := usecase.Sources{"binance": bn}
	if cfg.Polygon.APIKey == "" {
		return sources
	}
	burst := cfg.Polygon.Burst
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.Polygon.RateLimit), burst)
	opts := []polygon.Option{
		polygon.WithTimeout(cfg.Polygon.Timeout),
		polygon.WithRetry(cfg.Polygon.MaxRetries, 0, 0),
		polygon.WithLimiter(limiter),
	}
	hfq := polygon.New(cfg.Polygon.APIKey, append(opts, polygon.WithAdjusted(true))...)
	nfq := polygon.New(cfg.Polygon.APIKey, append(opts, polygon.WithAdjusted(false))...)
	sources["polygon"] = hfq
	sources["polygon/"+table.KlineDailyHFQ.Name()] = hfq
	sources["polygon/"+table.KlineDailyNFQ.Name()] = nfq
	return sources
}

// ProvideSink routes batches to the configured backend.
func ProvideSink(cfg *config.Config, store repository.KlineStore, pub repository.Publisher, m repository.Metrics, l *applogger.Logger) *usecase.Sink {
	return usecase.NewSink(cfg.Backend.Type, store, pub, m, l)
}

// ProvideKlineSync creates the sync and repair use case.
func ProvideKlineSync(
	cfg *config.Config,
	sources usecase.Sources,
	sink *usecase.Sink,
	store repository.KlineStore,
	locks cache.Service,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.KlineSync {
	return usecase.NewKlineSync(sources, sink, store,
		usecase.WithLocks(locks, cfg.Supply.LockTTL),
		usecase.WithSupply(cfg.Supply.Concurrency, cfg.Supply.Limit),
		usecase.WithSyncLogger(l),
		usecase.WithSyncMetrics(m),
	)
}

func ProvideKlinesQuery(store repository.KlineStore) *usecase.KlinesQueryUseCase {
	return usecase.NewKlinesQueryUseCase(store)
}

// ProvideKlineCollector creates the live stream collector, or nil when the
// stream is disabled.
func ProvideKlineCollector(cfg *config.Config, sink *usecase.Sink, m repository.Metrics, l *applogger.Logger) (*usecase.KlineCollector, error) {
	if !cfg.Stream.Enabled {
		return nil, nil
	}
	desc, ok := table.Lookup(cfg.Stream.Table)
	if !ok {
		return nil, fmt.Errorf("stream: %w %q", usecase.ErrUnknownTable, cfg.Stream.Table)
	}
	interval, err := models.ParseInterval(cfg.Stream.Interval)
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	symbols := make([]string, len(cfg.Stream.Symbols))
	for i, s := range cfg.Stream.Symbols {
		symbols[i] = strings.ToUpper(s)
	}
	stream := binance.NewStream(binance.Market(cfg.Binance.Market), cfg.Binance.WebSocketURL, symbols, interval,
		cfg.Binance.ReconnectDelay, cfg.Binance.PingInterval, l)
	return usecase.NewKlineCollector(stream, sink, desc, binance.BatchFromKlines, m, l), nil
}

// ProvideKafkaConsumer creates the Kafka consumer, or nil when disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideKafkaKlinesHandler stores batches consumed from the klines topic.
func ProvideKafkaKlinesHandler(cfg *config.Config, store repository.KlineStore, m repository.Metrics) *usecase.KafkaKlinesHandler {
	return usecase.NewKafkaKlinesHandler(cfg.Kafka.Topic, store, m)
}

// ProvideHTTPServer creates the ops API server.
func ProvideHTTPServer(cfg *config.Config, query *usecase.KlinesQueryUseCase, sync *usecase.KlineSync, l *applogger.Logger) *xhttp.Server {
	h := api.NewKlinesEchoHandler(l, query, sync)
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(h, l,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
	)
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	sync *usecase.KlineSync,
	collector *usecase.KlineCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaKlinesHandler,
	httpServer *xhttp.Server,
	store repository.KlineStore,
	chClient *pkgch.Client,
	pub repository.Publisher,
	c cache.Service,
) *server.App {
	app := server.New(cfg, l, sync, httpServer, store)
	app.AddCloser("clickhouse", chClient)
	if collector != nil {
		app.SetCollector(collector)
	}
	if consumer != nil {
		app.SetConsumer(consumer, kh)
	}
	if pub != nil {
		app.AddCloser("kafka publisher", pub)
	}
	app.AddCloser("cache", c)
	return app
}
