package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusReceived  OrderStatus = "received"
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

var orderTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusReceived:  {OrderStatusCreated: true, OrderStatusFailed: true},
	OrderStatusCreated:   {OrderStatusCompleted: true},
	OrderStatusCompleted: {},
	OrderStatusFailed:    {},
}

func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransition reports whether an order may move from one status to another.
// Statuses only move forward.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	return orderTransitions[s][to]
}

type OrderItem struct {
	ProductID string           `json:"productId"`
	Qty       int              `json:"qty"`
	UnitPrice *decimal.Decimal `json:"unitPrice,omitempty"`
}

type Order struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"ownerId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Items          []OrderItem     `json:"items"`
	Total          decimal.Decimal `json:"total"`
	Status         OrderStatus     `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// NewOrder builds the authoritative record for an event. The total is fixed here
// and never recomputed.
func NewOrder(event OrderEvent, now time.Time) *Order {
	items := make([]OrderItem, 0, len(event.Items))
	for _, item := range event.Items {
		items = append(items, OrderItem(item))
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return &Order{
		ID:             event.OrderID(),
		OwnerID:        event.OwnerID,
		IdempotencyKey: event.IdempotencyKey(),
		Items:          items,
		Total:          event.Total(),
		Status:         OrderStatusReceived,
		CreatedAt:      createdAt.UTC(),
		UpdatedAt:      now.UTC(),
	}
}
