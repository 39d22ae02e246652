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
	"github.com/joao-fontenele/storeflow/internal/shipping"
	"github.com/joao-fontenele/storeflow/internal/telemetry"
)

const version = "0.1.0"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("8082", "shipping")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.PostgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}
	if len(cfg.KafkaBrokers) == 0 {
		logger.Error("KAFKA_BROKERS environment variable is required")
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

	baseSink := metrics.NewOTelSink(otel.Meter("storeflow/shipping"), logger)
	sink := metrics.WithLabels(baseSink, metrics.L("service", cfg.ServiceName))

	db, err := telemetry.ConnectPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

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
		var fatal *broker.FatalStartupError
		if errors.As(err, &fatal) {
			logger.Error("broker unavailable, exiting", "error", err, "attempts", fatal.Attempts)
		} else {
			logger.Error("failed to connect to broker", "error", err)
		}
		os.Exit(1)
	}

	queue, err := channel.Consumer(cfg.OrdersTopic, "shipping-service", messaging.WithMetrics(sink))
	if err != nil {
		logger.Error("failed to create consumer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = queue.Close() }()

	service := shipping.NewService(shipping.NewShipmentRepository(db), sink, logger)
	handler := shipping.NewHandler(service, logger)
	consumer := shipping.NewConsumer(service, sink, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /shipments", telemetry.WithHTTPRoute(handler.HandleList))
	mux.HandleFunc("GET /shipments/{orderId}", telemetry.WithHTTPRoute(handler.HandleGet))
	mux.HandleFunc("PUT /shipments/{orderId}/status", telemetry.WithHTTPRoute(handler.HandleUpdateStatus))

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
		logger.Info("starting shipping service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("consuming order events", "topic", cfg.OrdersTopic, "group", "shipping-service")

	consumeErr := queue.Consume(ctx, consumer.Handle)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	if consumeErr != nil && !errors.Is(ctx.Err(), context.Canceled) {
		logger.Error("consumer error", "error", consumeErr)
		os.Exit(1)
	}
	logger.Info("consumer stopped")
}
