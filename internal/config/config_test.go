package config

import (
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		for _, key := range []string{"PORT", "SERVICE_NAME", "KAFKA_BROKERS", "ORDERS_TOPIC",
			"WEBHOOK_TIMEOUT", "BROKER_MAX_ATTEMPTS", "BROKER_BACKOFF", "BROKER_BACKOFF_DELAY", "BROKER_BACKOFF_MAX"} {
			t.Setenv(key, "")
		}

		cfg, err := Load("8081", "orders")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.Port != "8081" || cfg.ServiceName != "orders" {
			t.Errorf("unexpected port/service: %q/%q", cfg.Port, cfg.ServiceName)
		}
		if cfg.OrdersTopic != "orders" {
			t.Errorf("expected orders topic, got %q", cfg.OrdersTopic)
		}
		if cfg.WebhookTimeout != 5*time.Second {
			t.Errorf("expected 5s webhook timeout, got %s", cfg.WebhookTimeout)
		}
		if cfg.BrokerMaxAttempts != 10 || cfg.BrokerBackoff != "fixed" {
			t.Errorf("unexpected broker retry settings: %d %q", cfg.BrokerMaxAttempts, cfg.BrokerBackoff)
		}
		if cfg.BrokerBackoffDelay != 5*time.Second || cfg.BrokerBackoffMax != 30*time.Second {
			t.Errorf("unexpected backoff delays: %s %s", cfg.BrokerBackoffDelay, cfg.BrokerBackoffMax)
		}
		if len(cfg.KafkaBrokers) != 0 {
			t.Errorf("expected no brokers, got %v", cfg.KafkaBrokers)
		}
	})

	t.Run("reads overrides", func(t *testing.T) {
		t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
		t.Setenv("BROKER_MAX_ATTEMPTS", "3")
		t.Setenv("BROKER_BACKOFF", "exponential")
		t.Setenv("WEBHOOK_TIMEOUT", "750ms")

		cfg, err := Load("8080", "cart")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
			t.Errorf("unexpected brokers: %v", cfg.KafkaBrokers)
		}
		if cfg.BrokerMaxAttempts != 3 || cfg.BrokerBackoff != "exponential" {
			t.Errorf("unexpected broker retry settings: %d %q", cfg.BrokerMaxAttempts, cfg.BrokerBackoff)
		}
		if cfg.WebhookTimeout != 750*time.Millisecond {
			t.Errorf("expected 750ms, got %s", cfg.WebhookTimeout)
		}
	})

	t.Run("rejects malformed values", func(t *testing.T) {
		cases := map[string]string{
			"BROKER_MAX_ATTEMPTS":  "zero",
			"WEBHOOK_TIMEOUT":      "5",
			"BROKER_BACKOFF_DELAY": "-1s",
		}
		for key, value := range cases {
			t.Run(key, func(t *testing.T) {
				t.Setenv(key, value)
				if _, err := Load("8080", "cart"); err == nil {
					t.Errorf("expected error for %s=%q", key, value)
				}
			})
		}
	})
}
