// Package broker owns the connection to the message broker: it retries the
// initial connection with a pluggable backoff policy and declares the durable
// topics every service relies on before handing out a Channel.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/joao-fontenele/storeflow/internal/messaging"
	"github.com/joao-fontenele/storeflow/internal/metrics"
)

// FatalStartupError is returned when the broker stayed unreachable for the
// whole retry budget. The owning process is expected to exit.
type FatalStartupError struct {
	Attempts int
	Err      error
}

func (e *FatalStartupError) Error() string {
	return fmt.Sprintf("broker unreachable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *FatalStartupError) Unwrap() error {
	return e.Err
}

// Conn is the part of *kafka.Conn the supervisor needs.
type Conn interface {
	Controller() (kafka.Broker, error)
	CreateTopics(topics ...kafka.TopicConfig) error
	Close() error
}

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (Conn, error)
}

type kafkaDialer struct {
	dialer *kafka.Dialer
}

func (d kafkaDialer) DialContext(ctx context.Context, network, address string) (Conn, error) {
	conn, err := d.dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Topic struct {
	Name              string
	Partitions        int
	ReplicationFactor int
}

type Config struct {
	Brokers     []string
	Topics      []Topic
	MaxAttempts int
	Backoff     backoff.BackOff
}

type Supervisor struct {
	cfg    Config
	dialer Dialer
	sleep  func(context.Context, time.Duration) error
	sink   metrics.Sink
	logger *slog.Logger
}

type Option func(*Supervisor)

func WithDialer(d Dialer) Option {
	return func(s *Supervisor) { s.dialer = d }
}

func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(s *Supervisor) { s.sleep = sleep }
}

func WithMetrics(sink metrics.Sink) Option {
	return func(s *Supervisor) { s.sink = sink }
}

func NewSupervisor(cfg Config, logger *slog.Logger, opts ...Option) *Supervisor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff == nil {
		cfg.Backoff = Fixed(5 * time.Second)
	}

	s := &Supervisor{
		cfg:    cfg,
		dialer: kafkaDialer{dialer: &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}},
		sleep:  messaging.SleepContext,
		sink:   metrics.Nop{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect blocks until the broker is reachable and all topics are declared,
// or until the attempt budget is exhausted.
func (s *Supervisor) Connect(ctx context.Context) (*Channel, error) {
	s.cfg.Backoff.Reset()

	var lastErr error
	attempt := 0
	for attempt < s.cfg.MaxAttempts {
		attempt++
		s.sink.Increment("broker_connection_attempts_total")

		err := s.connectOnce(ctx)
		if err == nil {
			s.sink.Set("broker_connected", 1)
			s.logger.Info("connected to broker", "brokers", s.cfg.Brokers, "attempt", attempt)
			return newChannel(s.cfg.Brokers, s.cfg.Topics, s.logger), nil
		}

		lastErr = err
		s.sink.Set("broker_connected", 0)
		s.logger.Warn("broker not ready",
			"error", err,
			"attempt", attempt,
			"max_attempts", s.cfg.MaxAttempts,
		)

		if attempt == s.cfg.MaxAttempts {
			break
		}

		delay := s.cfg.Backoff.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		if err := s.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	s.logger.Error("giving up on broker", "error", lastErr, "attempts", attempt)
	return nil, &FatalStartupError{Attempts: attempt, Err: lastErr}
}

func (s *Supervisor) connectOnce(ctx context.Context) error {
	if len(s.cfg.Brokers) == 0 {
		return errors.New("no broker addresses configured")
	}

	var conn Conn
	var err error
	for _, addr := range s.cfg.Brokers {
		conn, err = s.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if len(s.cfg.Topics) == 0 {
		return nil
	}

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}

	controllerConn, err := s.dialer.DialContext(ctx, "tcp",
		net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer func() { _ = controllerConn.Close() }()

	configs := make([]kafka.TopicConfig, 0, len(s.cfg.Topics))
	for _, t := range s.cfg.Topics {
		configs = append(configs, topicConfig(t))
	}

	if err := controllerConn.CreateTopics(configs...); err != nil {
		return fmt.Errorf("declare topics: %w", err)
	}

	return nil
}

func topicConfig(t Topic) kafka.TopicConfig {
	partitions := t.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	replication := t.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}
	return kafka.TopicConfig{
		Topic:             t.Name,
		NumPartitions:     partitions,
		ReplicationFactor: replication,
	}
}
