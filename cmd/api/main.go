package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cimillas/ticket-processor/internal/app"
	"github.com/cimillas/ticket-processor/internal/clock"
	"github.com/cimillas/ticket-processor/internal/config"
	"github.com/cimillas/ticket-processor/internal/domain"
	"github.com/cimillas/ticket-processor/internal/idempotency"
	"github.com/cimillas/ticket-processor/internal/outbox"
	"github.com/cimillas/ticket-processor/internal/payment"
	"github.com/cimillas/ticket-processor/internal/storage/memory"
	"github.com/cimillas/ticket-processor/internal/storage/postgres"
	"github.com/cimillas/ticket-processor/internal/telemetry"
	transporthttp "github.com/cimillas/ticket-processor/internal/transport/http"
	"github.com/cimillas/ticket-processor/migrations"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// store is everything the services need from a storage backend.
type store interface {
	app.HoldStore
	app.FinalizerStore
	app.CancellationStore
	app.CatalogStore
	Ping(ctx context.Context) error
}

type guard interface {
	app.IdempotencyGuard
	Ping(ctx context.Context) error
}

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	seedDemo := pflag.Bool("seed-demo", false, "seed a demo event when running with in-memory storage")
	pflag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := config.NewLogger(cfg.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger, *seedDemo); err != nil {
		logger.Error("api stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger, seedDemo bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.InitTracer(ctx, cfg.Tracing.ServiceName, cfg.Env, cfg.Tracing.Endpoint)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	clk := clock.NewSystem()
	metrics := telemetry.NewMetrics()

	var (
		st   store
		idem guard
	)
	switch cfg.Storage {
	case config.StorageMemory:
		mem := memory.NewStore()
		if seedDemo {
			seedDemoEvent(mem)
		}
		st = mem
		idem = idempotency.NewMemoryGuard(clk)
		logger.Warn("using in-memory storage, state is lost on restart")
	default:
		startupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if cfg.Postgres.Migrate {
			if err := migrations.Apply(cfg.Postgres.URL); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
		}
		pool, err := postgres.NewPool(startupCtx, cfg.Postgres.URL, cfg.Postgres.MaxConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(startupCtx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}

		pgStore := postgres.NewStore(pool, cfg.Kafka.Topic)
		st = pgStore
		idem = idempotency.NewRedisGuard(rdb)

		if len(cfg.Kafka.Brokers) > 0 {
			publisher, err := outbox.NewKafkaPublisher(cfg.Kafka.Brokers)
			if err != nil {
				return fmt.Errorf("kafka producer: %w", err)
			}
			processor := outbox.NewProcessor(pgStore.OutboxRepository, publisher, logger, cfg.Kafka.OutboxBatch, cfg.Kafka.OutboxInterval)
			waitProcessor := processor.Run(ctx)
			// The producer is closed only after the in-flight batch finishes.
			defer func() {
				stop()
				waitProcessor()
				_ = publisher.Close()
			}()
		} else {
			logger.Info("kafka brokers not configured, outbox events stay unpublished")
		}
	}

	var gateway app.PaymentGateway
	if cfg.Payment.URL != "" {
		gateway = payment.NewHTTPGateway(cfg.Payment.URL, cfg.Payment.Timeout, logger)
	} else {
		logger.Warn("PAYMENT_URL not set, using sandbox payment gateway")
		gateway = payment.NewSandbox()
	}

	opts := []app.Option{
		app.WithHoldTTL(cfg.Reservation.HoldTTL),
		app.WithMaxHoldTTL(cfg.Reservation.MaxHoldTTL),
		app.WithConfirmAttempts(cfg.Reservation.ConfirmAttempts),
		app.WithLogger(logger),
		app.WithObserver(metrics),
	}
	services := transporthttp.Services{
		Holds:        app.NewHoldService(st, idem, clk, opts...),
		Reservations: app.NewReservationService(st, clk, opts...),
		Purchases:    app.NewPurchaseService(st, gateway, clk, opts...),
		Availability: app.NewAvailabilityService(st, clk),
		Catalog:      app.NewCatalogService(st, clk),
	}
	health := transporthttp.HandleHealth(
		transporthttp.HealthCheck{Name: "storage", Pinger: st},
		transporthttp.HealthCheck{Name: "idempotency", Pinger: idem},
	)
	mux := transporthttp.NewRouter(services, health, metrics.Handler(), metrics)
	handler := transporthttp.RequestLogger(transporthttp.CORS(cfg.HTTP.CORSOrigins, mux), logger)

	server := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("api listening", zap.String("port", cfg.HTTP.Port), zap.String("storage", cfg.Storage))

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}

func seedDemoEvent(s *memory.Store) {
	s.AddEvent("demo-event", "Demo Concert")
	s.AddTicketType(domain.TicketType{ID: "demo-general", EventID: "demo-event", Name: "General", Price: 4500, Capacity: 500, Version: 1})
	s.AddTicketType(domain.TicketType{ID: "demo-vip", EventID: "demo-event", Name: "VIP", Price: 12000, Capacity: 50, Version: 1})
}
