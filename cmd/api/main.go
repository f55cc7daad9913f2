package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/shopflow/internal/config"
	"github.com/joao-fontenele/shopflow/internal/httpx"
	"github.com/joao-fontenele/shopflow/internal/inventory"
	"github.com/joao-fontenele/shopflow/internal/lock"
	"github.com/joao-fontenele/shopflow/internal/messaging"
	"github.com/joao-fontenele/shopflow/internal/orders"
	"github.com/joao-fontenele/shopflow/internal/payments"
	"github.com/joao-fontenele/shopflow/internal/paystack"
	"github.com/joao-fontenele/shopflow/internal/store"
	"github.com/joao-fontenele/shopflow/internal/telemetry"
)

const serviceVersion = "0.1.0"

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	providers, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "shop-api",
		ServiceVersion: serviceVersion,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = providers.Shutdown(context.Background()) }()

	metrics, err := telemetry.NewShopMetrics(providers.MeterProvider)
	if err != nil {
		logger.Error("failed to create metrics", "error", err)
		os.Exit(1)
	}

	var s store.Store
	switch cfg.Store {
	case config.StoreMemory:
		mem := store.NewMemoryStore()
		for _, p := range demoCatalog() {
			mem.PutProduct(p)
		}
		logger.Warn("using in-memory store, data is lost on restart")
		s = mem
	default:
		if cfg.PostgresURL == "" {
			logger.Error("POSTGRES_URL environment variable is required")
			os.Exit(1)
		}
		var db *sql.DB
		db, err = telemetry.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		s = store.NewPostgresStore(db, logger)
	}

	var (
		orderOpts   = []orders.Option{orders.WithMetrics(metrics)}
		paymentOpts = []payments.Option{payments.WithMetrics(metrics)}
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, cfg.EventsTopic)
		defer func() { _ = producer.Close() }()
		orderOpts = append(orderOpts, orders.WithPublisher(producer))
		paymentOpts = append(paymentOpts, payments.WithPublisher(producer))
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events are not published")
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		locker = lock.NewRedis(rdb, "shop:verify:")
	} else {
		logger.Warn("REDIS_URL not set, verification lock is local to this process")
	}

	if cfg.PaystackSecretKey == "" {
		logger.Warn("PAYSTACK_SECRET_KEY not set, gateway calls will be refused")
	}
	gateway := paystack.NewClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey, telemetry.NewHTTPClient(cfg.GatewayTimeout))

	ledger := inventory.NewLedger(logger)
	orderService := orders.NewService(s, ledger, logger, orderOpts...)
	reconciler := payments.NewReconciler(s, gateway, locker, payments.Config{
		GatewayTimeout: cfg.GatewayTimeout,
		Currency:       cfg.Currency,
	}, logger, paymentOpts...)
	initializer := payments.NewInitializer(s, gateway, payments.InitializerConfig{
		FrontendURL:    cfg.FrontendURL,
		Currency:       cfg.Currency,
		GatewayTimeout: cfg.GatewayTimeout,
	}, logger)

	inventoryHandler := inventory.NewHandler(s, ledger, logger)
	orderHandler := orders.NewHandler(orderService, logger)
	paymentHandler := payments.NewHandler(s, reconciler, initializer, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /products/{id}/stock", telemetry.WithHTTPRoute(inventoryHandler.HandleGetStock))
	mux.HandleFunc("PUT /products/{id}/stock", telemetry.WithHTTPRoute(inventoryHandler.HandleSetStock))

	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(orderHandler.HandleCreate))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(orderHandler.HandleList))
	mux.HandleFunc("GET /orders/mine", telemetry.WithHTTPRoute(orderHandler.HandleListMine))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(orderHandler.HandleGet))
	mux.HandleFunc("PUT /orders/{id}/status", telemetry.WithHTTPRoute(orderHandler.HandleUpdateStatus))
	mux.HandleFunc("PUT /orders/{id}/cancel", telemetry.WithHTTPRoute(orderHandler.HandleCancel))
	mux.HandleFunc("PUT /orders/{id}/deliver", telemetry.WithHTTPRoute(orderHandler.HandleDeliver))

	mux.HandleFunc("POST /orders/{id}/verify-payment", telemetry.WithHTTPRoute(paymentHandler.HandleVerify))
	mux.HandleFunc("GET /orders/{id}/payments", telemetry.WithHTTPRoute(paymentHandler.HandleList))
	mux.HandleFunc("GET /payments", telemetry.WithHTTPRoute(paymentHandler.HandleListAll))
	mux.HandleFunc("POST /payments/initialize", telemetry.WithHTTPRoute(paymentHandler.HandleInitialize))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("GET /metrics", providers.MetricsHandler)

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(httpx.Chain(mux, cfg.HTTPTimeout), "shop-api",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTPTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("starting shop api", "port", cfg.Port, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
