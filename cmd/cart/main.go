package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/joao-fontenele/storeflow/internal/broker"
	"github.com/joao-fontenele/storeflow/internal/cart"
	"github.com/joao-fontenele/storeflow/internal/checkout"
	"github.com/joao-fontenele/storeflow/internal/config"
	"github.com/joao-fontenele/storeflow/internal/metrics"
	"github.com/joao-fontenele/storeflow/internal/telemetry"
)

const version = "0.1.0"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("8080", "cart")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.ServiceName, version, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(cfg.ServiceName, version)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	baseSink := metrics.NewOTelSink(otel.Meter("storeflow/cart"), logger)
	sink := metrics.WithLabels(baseSink, metrics.L("service", cfg.ServiceName))

	var store cart.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()

		if err := client.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		store = cart.NewRedisStore(client, 0)
	} else {
		logger.Warn("REDIS_ADDR not set, carts are kept in memory")
		store = cart.NewMemoryStore()
	}

	var deliverers []checkout.Deliverer

	if len(cfg.KafkaBrokers) > 0 {
		policy, err := broker.Policy(cfg.BrokerBackoff, cfg.BrokerBackoffDelay, cfg.BrokerBackoffMax)
		if err != nil {
			logger.Error("invalid broker backoff", "error", err)
			os.Exit(1)
		}

		supervisor := broker.NewSupervisor(broker.Config{
			Brokers:     cfg.KafkaBrokers,
			Topics:      []broker.Topic{{Name: cfg.OrdersTopic}},
			MaxAttempts: cfg.BrokerMaxAttempts,
			Backoff:     policy,
		}, logger, broker.WithMetrics(sink))

		channel, err := supervisor.Connect(ctx)
		if err != nil {
			logger.Error("failed to connect to broker", "error", err)
			os.Exit(1)
		}

		producer, err := channel.Producer(cfg.OrdersTopic)
		if err != nil {
			logger.Error("failed to create producer", "error", err)
			os.Exit(1)
		}
		defer func() { _ = producer.Close() }()

		deliverers = append(deliverers, checkout.NewBrokerDeliverer(producer))
	}

	if cfg.OrderWebhookURL != "" {
		httpClient := &http.Client{
			Timeout:   cfg.WebhookTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
		deliverers = append(deliverers, checkout.NewWebhookDeliverer(cfg.OrderWebhookURL, httpClient, cfg.WebhookTimeout))
	}

	if len(deliverers) == 0 {
		logger.Error("KAFKA_BROKERS or ORDER_WEBHOOK_URL is required")
		os.Exit(1)
	}

	publisher := checkout.NewPublisher(store, sink, logger, deliverers...)
	cartHandler := cart.NewHandler(store, logger)
	checkoutHandler := checkout.NewHandler(publisher, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("POST /cart/{ownerId}/items", telemetry.WithHTTPRoute(cartHandler.HandleAdd))
	mux.HandleFunc("GET /cart/{ownerId}/items", telemetry.WithHTTPRoute(cartHandler.HandleList))
	mux.HandleFunc("DELETE /cart/{ownerId}/items", telemetry.WithHTTPRoute(cartHandler.HandleClear))
	mux.HandleFunc("POST /cart/{ownerId}/checkout", telemetry.WithHTTPRoute(checkoutHandler.HandleCheckout))

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(telemetry.WithRequestMetrics(baseSink, cfg.ServiceName, mux), cfg.ServiceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting cart service", "port", cfg.Port)
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
