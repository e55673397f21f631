package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"

	"Pond/internal/domain/models"
	"Pond/internal/domain/repository"
	"Pond/internal/usecase"
	"Pond/pkg/config"
	xhttp "Pond/pkg/http"
	pkgkafka "Pond/pkg/kafka"
	applogger "Pond/pkg/logger"
)

type namedCloser struct {
	name string
	c    io.Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	sync       *usecase.KlineSync
	httpServer *xhttp.Server
	store      repository.KlineStore
	collector  *usecase.KlineCollector
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	scheduler  *gocron.Scheduler
	closers    []namedCloser
}

// New creates a new App instance with its core dependencies.
func New(cfg *config.Config, l *applogger.Logger, sync *usecase.KlineSync, httpServer *xhttp.Server, store repository.KlineStore) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:        cfg,
		log:        l,
		sync:       sync,
		httpServer: httpServer,
		store:      store,
		scheduler:  gocron.NewScheduler(time.UTC),
	}
}

// SetCollector enables the live kline stream.
func (a *App) SetCollector(c *usecase.KlineCollector) { a.collector = c }

// SetConsumer enables the Kafka to ClickHouse sink.
func (a *App) SetConsumer(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) {
	a.consumer = c
	a.kh = h
}

// AddCloser registers a resource released on shutdown, in reverse order.
func (a *App) AddCloser(name string, c io.Closer) {
	if c != nil {
		a.closers = append(a.closers, namedCloser{name: name, c: c})
	}
}

// Jobs converts configured jobs into sync jobs.
func Jobs(cfg *config.Config) ([]models.Job, error) {
	jobs := make([]models.Job, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		interval, err := models.ParseInterval(j.Interval)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", j.Name, err)
		}
		jobs = append(jobs, models.Job{
			Name:     j.Name,
			Table:    j.Table,
			Source:   j.Source,
			Backend:  cfg.Backend.Type,
			Symbols:  j.Symbols,
			Interval: interval,
			Lookback: j.Lookback,
			Cron:     j.Cron,
			Repair:   j.Repair,
		})
	}
	return jobs, nil
}

func (a *App) runJob(ctx context.Context, job models.Job) error {
	began := time.Now()
	n, err := a.sync.Sync(ctx, job)
	fields := []applogger.Field{
		applogger.String("job", job.Name),
		applogger.String("table", job.Table),
		applogger.Int("rows", n),
		applogger.Duration("took", time.Since(began)),
	}
	if err != nil {
		a.log.Error("job failed", append(fields, applogger.Error(err))...)
		return err
	}
	a.log.Info("job done", fields...)
	return nil
}

// RunOnce runs every configured job a single time, in order.
func (a *App) RunOnce(ctx context.Context) error {
	jobs, err := Jobs(a.cfg)
	if err != nil {
		return err
	}
	var errs []error
	for _, job := range jobs {
		if err := a.runJob(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
		}
	}
	a.close()
	return errors.Join(errs...)
}

func (a *App) schedule(ctx context.Context) error {
	jobs, err := Jobs(a.cfg)
	if err != nil {
		return err
	}
	a.scheduler.SingletonModeAll()
	for _, job := range jobs {
		job := job
		if _, err := a.scheduler.Cron(job.Cron).Tag(job.Name).Do(func() {
			_ = a.runJob(ctx, job)
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", job.Name, err)
		}
		a.log.Info("job scheduled",
			applogger.String("job", job.Name),
			applogger.String("cron", job.Cron),
			applogger.String("source", job.Source))
	}
	a.scheduler.StartAsync()
	return nil
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.store.Health(ctx); err != nil {
		a.log.Warn("store health check failed", applogger.Error(err))
	}
	if err := a.schedule(ctx); err != nil {
		return err
	}

	if a.collector != nil {
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				a.log.Error("collector error", applogger.Error(err))
			}
		}()
		a.log.Info("collector started", applogger.Strings("symbols", a.cfg.Stream.Symbols))
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case runErr = <-a.httpServer.Err():
	}
	a.shutdown()
	return runErr
}

// shutdown stops producers of work before the resources they write to.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	a.log.Info("shutting down...")

	a.scheduler.Stop()

	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}
	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	a.close()
	a.log.Info("shutdown complete")
}

func (a *App) close() {
	// the error digest may publish through a closer below
	a.log.RemoveCollector()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].c.Close(); err != nil {
			a.log.Warn("close error", applogger.String("resource", a.closers[i].name), applogger.Error(err))
		}
	}
	a.closers = nil
}
