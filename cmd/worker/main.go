package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/joao-fontenele/shopflow/internal/config"
	"github.com/joao-fontenele/shopflow/internal/messaging"
	"github.com/joao-fontenele/shopflow/internal/notify"
	"github.com/joao-fontenele/shopflow/internal/orders"
	"github.com/joao-fontenele/shopflow/internal/payments"
	"github.com/joao-fontenele/shopflow/internal/store"
	"github.com/joao-fontenele/shopflow/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.PostgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "shop-worker",
		ServiceVersion: "0.1.0",
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = providers.Shutdown(context.Background()) }()

	db, err := telemetry.OpenPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	s := store.NewPostgresStore(db, logger)

	var publisher orders.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, cfg.EventsTopic)
		defer func() { _ = producer.Close() }()
		publisher = producer
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	var wg sync.WaitGroup

	repairer := payments.NewRepairer(s, publisher, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting payment repair loop", "interval", cfg.RepairInterval)
		repairer.Run(ctx, cfg.RepairInterval)
	}()

	switch {
	case len(cfg.KafkaBrokers) == 0:
		logger.Warn("KAFKA_BROKERS not set, notifications disabled")
	case cfg.EmailServiceURL == "":
		logger.Warn("EMAIL_SERVICE_URL not set, notifications disabled")
	default:
		consumer := messaging.NewConsumer(cfg.KafkaBrokers, cfg.EventsTopic, "notification-worker",
			messaging.WithLogger(logger),
			messaging.WithRetry(5, 500*time.Millisecond),
		)
		defer func() { _ = consumer.Close() }()
		handler := notify.NewHandler(cfg.EmailServiceURL, telemetry.NewHTTPClient(10*time.Second), logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("starting notification consumer", "brokers", cfg.KafkaBrokers, "topic", cfg.EventsTopic)
			if err := consumer.Consume(ctx, handler.Handle); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("consumer error", "error", err)
				cancel()
			}
		}()
	}

	wg.Wait()
	logger.Info("worker stopped")
}
