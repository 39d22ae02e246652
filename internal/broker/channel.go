package broker

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/joao-fontenele/storeflow/internal/messaging"
)

var ErrUndeclaredTopic = errors.New("topic was not declared")

// Channel is a live broker handle whose topics are known to exist.
type Channel struct {
	brokers []string
	topics  map[string]bool
	logger  *slog.Logger
}

func newChannel(brokers []string, topics []Topic, logger *slog.Logger) *Channel {
	declared := make(map[string]bool, len(topics))
	for _, t := range topics {
		declared[t.Name] = true
	}
	return &Channel{brokers: brokers, topics: declared, logger: logger}
}

func (c *Channel) Brokers() []string {
	return c.brokers
}

func (c *Channel) Producer(topic string) (*messaging.Producer, error) {
	if !c.topics[topic] {
		return nil, fmt.Errorf("%w: %s", ErrUndeclaredTopic, topic)
	}
	return messaging.NewProducer(c.brokers, topic), nil
}

func (c *Channel) Consumer(topic, groupID string, opts ...messaging.ConsumerOption) (*messaging.Consumer, error) {
	if !c.topics[topic] {
		return nil, fmt.Errorf("%w: %s", ErrUndeclaredTopic, topic)
	}
	opts = append([]messaging.ConsumerOption{messaging.WithLogger(c.logger)}, opts...)
	return messaging.NewConsumer(c.brokers, topic, groupID, opts...), nil
}
