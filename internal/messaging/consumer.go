package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/storeflow/internal/metrics"
)

var consumerTracer = otel.Tracer("messaging/consumer")

// Handler processes one delivered payload. A nil return acknowledges the
// message; any error leaves it unacknowledged.
type Handler func(ctx context.Context, payload []byte) error

// MessageReader is the subset of *kafka.Reader used by the consumer.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader     MessageReader
	topic      string
	groupID    string
	redelivery backoff.BackOff
	sleep      func(context.Context, time.Duration) error
	sink       metrics.Sink
	logger     *slog.Logger
}

type ConsumerOption func(*consumerOptions)

type consumerOptions struct {
	reader     kafka.ReaderConfig
	redelivery backoff.BackOff
	sleep      func(context.Context, time.Duration) error
	sink       metrics.Sink
	logger     *slog.Logger
}

func WithStartOffset(offset int64) ConsumerOption {
	return func(o *consumerOptions) {
		o.reader.StartOffset = offset
	}
}

// WithRedelivery sets the policy that paces redelivery of a message whose
// handler failed. When the policy stops, Consume returns without committing.
func WithRedelivery(policy backoff.BackOff) ConsumerOption {
	return func(o *consumerOptions) {
		o.redelivery = policy
	}
}

func WithSleep(sleep func(context.Context, time.Duration) error) ConsumerOption {
	return func(o *consumerOptions) {
		o.sleep = sleep
	}
}

func WithMetrics(sink metrics.Sink) ConsumerOption {
	return func(o *consumerOptions) {
		o.sink = sink
	}
}

func WithLogger(logger *slog.Logger) ConsumerOption {
	return func(o *consumerOptions) {
		o.logger = logger
	}
}

func NewConsumer(brokers []string, topic, groupID string, opts ...ConsumerOption) *Consumer {
	o := buildOptions(opts)
	o.reader.Brokers = brokers
	o.reader.Topic = topic
	o.reader.GroupID = groupID
	o.reader.MaxBytes = 10e6

	return newConsumer(kafka.NewReader(o.reader), topic, groupID, o)
}

func NewConsumerFromReader(reader MessageReader, topic, groupID string, opts ...ConsumerOption) *Consumer {
	return newConsumer(reader, topic, groupID, buildOptions(opts))
}

func buildOptions(opts []ConsumerOption) consumerOptions {
	o := consumerOptions{
		redelivery: backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(200*time.Millisecond),
			backoff.WithMaxInterval(30*time.Second),
			backoff.WithMaxElapsedTime(0),
		),
		sleep:  SleepContext,
		sink:   metrics.Nop{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newConsumer(reader MessageReader, topic, groupID string, o consumerOptions) *Consumer {
	return &Consumer{
		reader:     reader,
		topic:      topic,
		groupID:    groupID,
		redelivery: o.redelivery,
		sleep:      o.sleep,
		sink:       o.sink,
		logger:     o.logger,
	}
}

// Consume delivers messages in partition order. The offset of a message is
// committed only after handler returned nil for it.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		if err := c.deliver(ctx, msg, handler); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
		c.sink.Increment("messages_acknowledged_total", metrics.L("topic", c.topic))
	}
}

// deliver hands the message to handler until it succeeds. Later offsets are
// never committed past an unacknowledged one.
func (c *Consumer) deliver(ctx context.Context, msg kafka.Message, handler Handler) error {
	c.redelivery.Reset()

	for attempt := 1; ; attempt++ {
		err := c.processMessage(ctx, msg, handler)
		if err == nil {
			return nil
		}

		c.sink.Increment("messages_unacknowledged_total", metrics.L("topic", c.topic))
		c.logger.Warn("message left unacknowledged",
			"error", err,
			"topic", c.topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
		)

		delay := c.redelivery.NextBackOff()
		if delay == backoff.Stop {
			return fmt.Errorf("message %s/%d/%d not acknowledged after %d attempts: %w",
				c.topic, msg.Partition, msg.Offset, attempt, err)
		}

		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
		c.sink.Increment("messages_redelivered_total", metrics.L("topic", c.topic))
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message, handler Handler) error {
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, NewMessageCarrier(&msg))

	spanCtx, span := consumerTracer.Start(parentCtx, "process "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingKafkaConsumerGroup(c.groupID),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
		),
	)
	defer span.End()

	if err := handler(spanCtx, msg.Value); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
