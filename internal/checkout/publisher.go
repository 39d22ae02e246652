// Package checkout turns a cart into an order event and hands it to the order
// pipeline, falling back to a synchronous webhook when the broker is down.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joao-fontenele/storeflow/internal/domain"
	"github.com/joao-fontenele/storeflow/internal/metrics"
)

var errNoTransport = errors.New("no delivery transport configured")

// DeliveryError means no transport accepted the event. The cart was left as is.
type DeliveryError struct {
	Errs []error
}

func (e *DeliveryError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return "checkout delivery failed: " + strings.Join(msgs, "; ")
}

func (e *DeliveryError) Unwrap() []error {
	return e.Errs
}

// Cart is the part of cart.Store the publisher needs.
type Cart interface {
	Snapshot(ctx context.Context, ownerID string) (domain.CartSnapshot, error)
	Remove(ctx context.Context, snapshot domain.CartSnapshot) error
}

type Publisher struct {
	cart       Cart
	deliverers []Deliverer
	sink       metrics.Sink
	logger     *slog.Logger
	now        func() time.Time
}

// NewPublisher tries deliverers in order until one accepts the event. Nil
// deliverers are skipped.
func NewPublisher(cart Cart, sink metrics.Sink, logger *slog.Logger, deliverers ...Deliverer) *Publisher {
	configured := make([]Deliverer, 0, len(deliverers))
	for _, d := range deliverers {
		if d != nil {
			configured = append(configured, d)
		}
	}

	return &Publisher{
		cart:       cart,
		deliverers: configured,
		sink:       sink,
		logger:     logger,
		now:        time.Now,
	}
}

// Checkout snapshots the owner's cart, delivers it as an order event and
// removes the snapshotted items only once a transport accepted the event. Delivery is not
// retried.
func (p *Publisher) Checkout(ctx context.Context, ownerID string) (domain.OrderEvent, error) {
	snapshot, err := p.cart.Snapshot(ctx, ownerID)
	if err != nil {
		return domain.OrderEvent{}, fmt.Errorf("snapshot cart: %w", err)
	}

	event := domain.NewOrderEvent(snapshot, p.now())

	if len(p.deliverers) == 0 {
		p.sink.Increment("checkouts_failed_total")
		return domain.OrderEvent{}, &DeliveryError{Errs: []error{errNoTransport}}
	}

	var errs []error
	for _, d := range p.deliverers {
		err := d.Deliver(ctx, event)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
			p.sink.Increment("checkout_delivery_failures_total", metrics.L("transport", d.Name()))
			p.logger.Warn("order event delivery failed",
				"error", err,
				"transport", d.Name(),
				"owner_id", ownerID,
				"event_id", event.EventID,
			)
			continue
		}

		p.sink.Increment("checkouts_total", metrics.L("transport", d.Name()))
		p.logger.Info("order event delivered",
			"transport", d.Name(),
			"owner_id", ownerID,
			"event_id", event.EventID,
			"items", len(event.Items),
		)

		// The event is already accepted. A failed clear leaves a stale cart
		// that a later checkout would submit again. Only the ordered
		// quantities are removed.
		if err := p.cart.Remove(ctx, snapshot); err != nil {
			p.sink.Increment("cart_clear_failures_total")
			p.logger.Error("failed to clear cart after checkout",
				"error", err,
				"owner_id", ownerID,
				"event_id", event.EventID,
			)
		}
		return event, nil
	}

	p.sink.Increment("checkouts_failed_total")
	return domain.OrderEvent{}, &DeliveryError{Errs: errs}
}
