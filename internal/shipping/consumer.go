package shipping

import (
	"context"
	"log/slog"

	"github.com/joao-fontenele/storeflow/internal/domain"
	"github.com/joao-fontenele/storeflow/internal/metrics"
)

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

// Handle is a messaging.Handler. It acknowledges duplicates and malformed
// payloads and returns storage errors so the message is redelivered.
func (c *Consumer) Handle(ctx context.Context, payload []byte) error {
	event, err := domain.DecodeOrderEvent(payload)
	if err != nil {
		c.sink.Increment("shipments_failed_total", metrics.L("reason", "invalid"))
		c.logger.Warn("dropping malformed order event", "error", err, "payload_bytes", len(payload))
		return nil
	}

	if _, _, err := c.service.Process(ctx, event); err != nil {
		if domain.IsValidation(err) {
			c.logger.Warn("dropping order event the store rejected", "error", err, "event_id", event.EventID)
			return nil
		}
		return err
	}
	return nil
}
