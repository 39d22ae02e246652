package orders

import (
	"context"
	"log/slog"

	"github.com/joao-fontenele/storeflow/internal/domain"
	"github.com/joao-fontenele/storeflow/internal/metrics"
)

// Consumer adapts Service to the broker. Its Handle method is a
// messaging.Handler.
type Consumer struct {
	service *Service
	sink    metrics.Sink
	logger  *slog.Logger
}

func NewConsumer(service *Service, sink metrics.Sink, logger *slog.Logger) *Consumer {
	return &Consumer{
		service: service,
		sink:    sink,
		logger:  logger,
	}
}

// Handle persists one queue payload. Malformed payloads are dropped, since
// redelivering them cannot succeed; storage failures are returned so the
// message stays unacknowledged.
func (c *Consumer) Handle(ctx context.Context, payload []byte) error {
	event, err := domain.DecodeOrderEvent(payload)
	if err != nil {
		c.sink.Increment("orders_failed_total", metrics.L("reason", "invalid"))
		c.logger.Warn("dropping malformed order event", "error", err, "payload_bytes", len(payload))
		return nil
	}

	if _, err := c.service.Receive(ctx, event, "queue"); err != nil {
		if domain.IsValidation(err) {
			c.logger.Warn("dropping order event the store rejected", "error", err, "event_id", event.EventID)
			return nil
		}
		return err
	}
	return nil
}
