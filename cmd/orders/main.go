package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/joao-fontenele/storeflow/internal/broker"
	"github.com/joao-fontenele/storeflow/internal/config"
	"github.com/joao-fontenele/storeflow/internal/messaging"
	"github.com/joao-fontenele/storeflow/internal/metrics"
	"github.com/joao-fontenele/storeflow/internal/orders"
	"github.com/joao-fontenele/storeflow/internal/telemetry"
)

const version = "0.1.0"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("8081", "orders")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.ServiceName, version, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(cfg.ServiceName, version)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	baseSink := metrics.NewOTelSink(otel.Meter("storeflow/orders"), logger)
	sink := metrics.WithLabels(baseSink, metrics.L("service", cfg.ServiceName))

	if cfg.PostgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	db, err := telemetry.ConnectPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	repo := orders.NewOrderRepository(db)
	service := orders.NewService(repo, sink, logger)
	handler := orders.NewHandler(service, logger)

	var queue *messaging.Consumer
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

		queue, err = channel.Consumer(cfg.OrdersTopic, "order-service", messaging.WithMetrics(sink))
		if err != nil {
			logger.Error("failed to create consumer", "error", err)
			os.Exit(1)
		}
		defer func() { _ = queue.Close() }()

		consumer := orders.NewConsumer(service, sink, logger)
		go func() {
			logger.Info("consuming order events", "topic", cfg.OrdersTopic, "group", "order-service")
			if err := queue.Consume(ctx, consumer.Handle); err != nil {
				if errors.Is(ctx.Err(), context.Canceled) {
					logger.Info("consumer stopped")
					return
				}
				logger.Error("consumer error", "error", err)
				os.Exit(1)
			}
		}()
	} else {
		logger.Warn("KAFKA_BROKERS not set, accepting orders over the webhook only")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("POST /webhook/order", telemetry.WithHTTPRoute(handler.HandleWebhook))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(handler.HandleList))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(handler.HandleGet))
	mux.HandleFunc("PUT /orders/{id}/status", telemetry.WithHTTPRoute(handler.HandleUpdateStatus))

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
		logger.Info("starting orders service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
