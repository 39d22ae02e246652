package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ShipmentStatus string

const (
	ShipmentStatusPending    ShipmentStatus = "pending"
	ShipmentStatusProcessing ShipmentStatus = "processing"
	ShipmentStatusShipped    ShipmentStatus = "shipped"
)

var shipmentRank = map[ShipmentStatus]int{
	ShipmentStatusPending:    0,
	ShipmentStatusProcessing: 1,
	ShipmentStatusShipped:    2,
}

func (s ShipmentStatus) Valid() bool {
	_, ok := shipmentRank[s]
	return ok
}

func (s ShipmentStatus) CanTransition(to ShipmentStatus) bool {
	from, ok := shipmentRank[s]
	if !ok {
		return false
	}
	next, ok := shipmentRank[to]
	return ok && next > from
}

type Shipment struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"orderId"`
	OwnerID     string          `json:"ownerId"`
	Items       []OrderItem     `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Status      ShipmentStatus  `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func NewShipment(event OrderEvent, now time.Time) *Shipment {
	items := make([]OrderItem, 0, len(event.Items))
	for _, item := range event.Items {
		items = append(items, OrderItem(item))
	}

	return &Shipment{
		OrderID:     event.OrderID(),
		OwnerID:     event.OwnerID,
		Items:       items,
		TotalAmount: event.Total(),
		Status:      ShipmentStatusProcessing,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
}
