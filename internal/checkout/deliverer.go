package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/joao-fontenele/storeflow/internal/domain"
)

// Deliverer hands an order event to the order pipeline over one transport.
type Deliverer interface {
	Deliver(ctx context.Context, event domain.OrderEvent) error
	Name() string
}

// EventPublisher is satisfied by *messaging.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// BrokerDeliverer publishes the event on the orders topic keyed by owner, so
// events of one owner stay ordered within a partition.
type BrokerDeliverer struct {
	producer EventPublisher
}

func NewBrokerDeliverer(producer EventPublisher) *BrokerDeliverer {
	return &BrokerDeliverer{producer: producer}
}

func (d *BrokerDeliverer) Name() string {
	return "broker"
}

func (d *BrokerDeliverer) Deliver(ctx context.Context, event domain.OrderEvent) error {
	if err := d.producer.Publish(ctx, event.OwnerID, event); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

const DefaultWebhookTimeout = 5 * time.Second

// WebhookDeliverer posts the event to the order service's webhook. Only a 2xx
// response counts as delivered.
type WebhookDeliverer struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

func NewWebhookDeliverer(baseURL string, client *http.Client, timeout time.Duration) *WebhookDeliverer {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookDeliverer{
		baseURL: baseURL,
		client:  client,
		timeout: timeout,
	}
}

func (d *WebhookDeliverer) Name() string {
	return "webhook"
}

func (d *WebhookDeliverer) Deliver(ctx context.Context, event domain.OrderEvent) error {
	body, err := domain.NewWebhookOrder(event)
	if err != nil {
		return err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/webhook/order", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("call order webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("order webhook returned status %d", resp.StatusCode)
	}

	return nil
}
