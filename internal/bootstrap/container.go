package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"car-rental-backend/internal/config"
	"car-rental-backend/internal/events"
	"car-rental-backend/internal/gateway"
	"car-rental-backend/internal/jobs"
	"car-rental-backend/internal/lock"
	"car-rental-backend/internal/logger"
	"car-rental-backend/internal/metrics"
	"car-rental-backend/internal/payment"
	"car-rental-backend/internal/pkg/clock"
	"car-rental-backend/internal/repository/postgres"
	"car-rental-backend/internal/service"
	"car-rental-backend/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Container holds the wired services shared by the API server and the
// cronjob runner.
type Container struct {
	Config   *config.Config
	DB       *sql.DB
	Store    *postgres.Store
	Clock    clock.Clock
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Dispatcher   *events.Dispatcher
	Orchestrator *payment.Orchestrator

	Rentals        service.RentalService
	Penalties      service.PenaltyService
	Reconciliation service.ReconciliationService
	LateReturns    service.LateReturnService

	closers []func(context.Context) error
}

func NewContainer(ctx context.Context, db *sql.DB, cfg *config.Config) (*Container, error) {
	c := &Container{
		Config:   cfg,
		DB:       db,
		Store:    postgres.NewStore(db),
		Clock:    clock.NewRealClock(),
		Registry: prometheus.NewRegistry(),
	}
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = metrics.New(c.Registry)

	// 1. Tracing
	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, shutdownTracing)

	// 2. Event sink and dispatcher
	sink, err := newSink(cfg.Events)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Dispatcher = events.NewDispatcher(sink, cfg.Events.BufferSize, c.Metrics)
	c.Dispatcher.Start()
	c.closers = append(c.closers, func(ctx context.Context) error {
		err := c.Dispatcher.Close(ctx)
		return errors.Join(err, sink.Close())
	})

	// 3. Payment gateway
	var gw gateway.Gateway
	switch cfg.Payment.Gateway {
	case "midtrans":
		logger.Info("Using Midtrans payment gateway", "environment", cfg.Payment.Midtrans.Environment)
		gw = gateway.NewMidtrans(cfg.Payment.Midtrans.ServerKey, cfg.Payment.Midtrans.Environment)
	default:
		logger.Warn("Using sandbox payment gateway, no real money moves")
		gw = gateway.NewSandbox(c.Clock, c.Store.Settlements())
	}
	c.Orchestrator = payment.NewOrchestrator(gw, c.Store.Audit(), c.Clock, payment.Config{
		MaxAttempts:       cfg.Payment.MaxAttempts,
		InitialBackoff:    cfg.Payment.InitialBackoff,
		IdempotencyWindow: cfg.Payment.IdempotencyWindow,
	}, payment.WithMetrics(c.Metrics))

	// 4. Services
	penaltyCfg := cfg.Penalty.CalculatorConfig()
	inventory := service.NewInventory(c.Store.Cars(), c.Store.Rentals())
	c.Rentals = service.NewRentalService(c.Store, c.Store, inventory, c.Orchestrator, c.Dispatcher, c.Clock,
		service.RentalConfig{Penalty: penaltyCfg, MaxRentalDays: cfg.Penalty.MaxRentalDays})
	c.Penalties = service.NewPenaltyService(c.Store, c.Store, c.Orchestrator, c.Dispatcher, c.Clock)
	c.Reconciliation = service.NewReconciliationService(c.Store.Payments(), c.Store.Settlements(), c.Dispatcher, c.Metrics, c.Clock)
	c.LateReturns = service.NewLateReturnService(c.Store, c.Store.Rentals(), c.Dispatcher, c.Metrics, c.Clock,
		penaltyCfg, cfg.LateDetection.PageSize)

	return c, nil
}

func newSink(cfg config.EventsConfig) (events.Sink, error) {
	switch cfg.Driver {
	case "nats":
		logger.Info("Publishing events to NATS JetStream", "url", cfg.NatsURL, "stream", cfg.StreamName)
		return events.NewNatsSink(cfg.NatsURL, cfg.StreamName, cfg.Topic)
	case "kafka":
		logger.Info("Publishing events to Kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.Topic)
		return events.NewKafkaSink(cfg.KafkaBrokers, cfg.Topic), nil
	case "log":
		return events.NewLogSink(), nil
	default:
		return nil, fmt.Errorf("unknown event driver: %s", cfg.Driver)
	}
}

// NewLocker connects to redis for job locks. Without a redis url jobs run
// unguarded.
func (c *Container) NewLocker(ctx context.Context) (lock.Locker, error) {
	if c.Config.Redis.URL == "" {
		logger.Warn("Redis not configured, scheduled jobs run without a distributed lock")
		return lock.NoopLocker{}, nil
	}
	client, err := lock.Dial(ctx, c.Config.Redis.URL)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })
	return lock.NewRedisLocker(client, "jobs:"), nil
}

func (c *Container) JobRunner(locker lock.Locker) *jobs.JobRunner {
	return jobs.NewJobRunner(&jobs.Services{
		LateReturns:    c.LateReturns,
		Reconciliation: c.Reconciliation,
	}, locker, c.Metrics, c.Clock, c.Config)
}

// Close releases everything in reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
