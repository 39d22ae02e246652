// Package config loads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	ServiceName string
	PostgresURL string
	RedisAddr   string

	KafkaBrokers []string
	OrdersTopic  string

	OrderWebhookURL string
	WebhookTimeout  time.Duration

	BrokerMaxAttempts  int
	BrokerBackoff      string
	BrokerBackoffDelay time.Duration
	BrokerBackoffMax   time.Duration

	OTLPEndpoint   string
	MigrationsPath string
}

// Load reads the environment. A missing .env file is not an error; malformed
// numeric or duration values are.
func Load(defaultPort, defaultService string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:            getenv("PORT", defaultPort),
		ServiceName:     getenv("SERVICE_NAME", defaultService),
		PostgresURL:     os.Getenv("POSTGRES_URL"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		KafkaBrokers:    splitCSV(os.Getenv("KAFKA_BROKERS")),
		OrdersTopic:     getenv("ORDERS_TOPIC", "orders"),
		OrderWebhookURL: os.Getenv("ORDER_WEBHOOK_URL"),
		BrokerBackoff:   getenv("BROKER_BACKOFF", "fixed"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		MigrationsPath:  getenv("MIGRATIONS_PATH", "file://migrations"),
	}

	var err error
	if cfg.WebhookTimeout, err = durationEnv("WEBHOOK_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.BrokerMaxAttempts, err = intEnv("BROKER_MAX_ATTEMPTS", 10); err != nil {
		return Config{}, err
	}
	if cfg.BrokerBackoffDelay, err = durationEnv("BROKER_BACKOFF_DELAY", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.BrokerBackoffMax, err = durationEnv("BROKER_BACKOFF_MAX", 30*time.Second); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("parse %s: must be positive, got %s", key, v)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("parse %s: must be at least 1, got %d", key, n)
	}
	return n, nil
}
