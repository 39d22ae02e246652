package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// Prices travel as JSON numbers on the wire.
	decimal.MarshalJSONWithoutQuotes = true
}

var orderNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("storeflow:order"))

type EventItem struct {
	ProductID string           `json:"productId"`
	Qty       int              `json:"qty"`
	UnitPrice *decimal.Decimal `json:"unitPrice,omitempty"`
}

// OrderEvent is the message published on the orders topic for every checkout attempt.
type OrderEvent struct {
	EventID   string      `json:"eventId,omitempty"`
	OwnerID   string      `json:"ownerId"`
	Items     []EventItem `json:"items"`
	CreatedAt time.Time   `json:"createdAt"`
	Status    string      `json:"status,omitempty"`
}

func NewOrderEvent(snapshot CartSnapshot, now time.Time) OrderEvent {
	items := make([]EventItem, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		items = append(items, EventItem(item))
	}

	return OrderEvent{
		EventID:   uuid.New().String(),
		OwnerID:   snapshot.OwnerID,
		Items:     items,
		CreatedAt: now.UTC(),
	}
}

// IdempotencyKey identifies the checkout attempt. Events without an explicit
// id fall back to owner and creation time.
func (e OrderEvent) IdempotencyKey() string {
	if e.EventID != "" {
		return "event:" + e.EventID
	}
	return e.OwnerID + "|" + e.CreatedAt.UTC().Format(time.RFC3339Nano)
}

// OrderID is derived from the idempotency key so that independent consumers of
// the same event agree on the order identity.
func (e OrderEvent) OrderID() string {
	return uuid.NewSHA1(orderNamespace, []byte(e.IdempotencyKey())).String()
}

// Total sums unitPrice*qty over all items. A missing unit price counts as zero.
func (e OrderEvent) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range e.Items {
		if item.UnitPrice == nil {
			continue
		}
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Qty))))
	}
	return total
}

// Amounts are stored as numeric(12,2) and quantities as int.
const (
	MaxQty         = math.MaxInt32
	amountDigits   = 10
	amountDecimals = 2
)

var maxAmount = decimal.New(1, amountDigits)

// Validate rejects events that cannot be stored. Without an event id the
// creation time is part of the identity, so it is required.
func (e OrderEvent) Validate() error {
	if strings.TrimSpace(e.OwnerID) == "" {
		return &ValidationError{Field: "ownerId", Message: "is required"}
	}
	if e.EventID == "" && e.CreatedAt.IsZero() {
		return &ValidationError{Field: "createdAt", Message: "is required when eventId is absent"}
	}
	return validateItems(e.Items)
}

func validateItems(items []EventItem) error {
	for i, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return &ValidationError{Field: fmt.Sprintf("items[%d].productId", i), Message: "is required"}
		}
		if err := validateQty(fmt.Sprintf("items[%d].qty", i), item.Qty); err != nil {
			return err
		}
		if err := validatePrice(fmt.Sprintf("items[%d].unitPrice", i), item.UnitPrice); err != nil {
			return err
		}
	}

	total := OrderEvent{Items: items}.Total()
	if total.GreaterThanOrEqual(maxAmount) {
		return &ValidationError{Field: "items", Message: "total exceeds " + maxAmount.Sub(decimal.New(1, -amountDecimals)).String()}
	}
	return nil
}

func validateQty(field string, qty int) error {
	if qty < 1 {
		return &ValidationError{Field: field, Message: "must be at least 1"}
	}
	if qty > MaxQty {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be at most %d", MaxQty)}
	}
	return nil
}

func validatePrice(field string, price *decimal.Decimal) error {
	if price == nil {
		return nil
	}
	if price.IsNegative() {
		return &ValidationError{Field: field, Message: "must not be negative"}
	}
	if price.GreaterThanOrEqual(maxAmount) {
		return &ValidationError{Field: field, Message: "is too large"}
	}
	if !price.Equal(price.Round(amountDecimals)) {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must have at most %d decimal places", amountDecimals)}
	}
	return nil
}

// DecodeOrderEvent parses a queue payload and validates it.
func DecodeOrderEvent(payload []byte) (OrderEvent, error) {
	var event OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return OrderEvent{}, &ValidationError{Message: "malformed order event: " + err.Error()}
	}
	if err := event.Validate(); err != nil {
		return OrderEvent{}, err
	}
	return event, nil
}

// WebhookOrder is the body of the synchronous fallback call.
type WebhookOrder struct {
	EventID string          `json:"eventId,omitempty"`
	UserID  string          `json:"userId"`
	Items   json.RawMessage `json:"items"`
	At      time.Time       `json:"at"`
}

func NewWebhookOrder(event OrderEvent) (WebhookOrder, error) {
	items, err := json.Marshal(event.Items)
	if err != nil {
		return WebhookOrder{}, fmt.Errorf("marshal items: %w", err)
	}
	return WebhookOrder{
		EventID: event.EventID,
		UserID:  event.OwnerID,
		Items:   items,
		At:      event.CreatedAt,
	}, nil
}

// Event validates the webhook body and converts it to an OrderEvent.
func (w WebhookOrder) Event() (OrderEvent, error) {
	if strings.TrimSpace(w.UserID) == "" {
		return OrderEvent{}, &ValidationError{Field: "userId", Message: "is required"}
	}

	raw := strings.TrimSpace(string(w.Items))
	if !strings.HasPrefix(raw, "[") {
		return OrderEvent{}, &ValidationError{Field: "items", Message: "must be an array"}
	}

	var items []EventItem
	if err := json.Unmarshal(w.Items, &items); err != nil {
		return OrderEvent{}, &ValidationError{Field: "items", Message: "malformed: " + err.Error()}
	}
	if err := validateItems(items); err != nil {
		return OrderEvent{}, err
	}

	at := w.At
	if at.IsZero() {
		at = time.Now()
	}

	return OrderEvent{
		EventID:   w.EventID,
		OwnerID:   w.UserID,
		Items:     items,
		CreatedAt: at.UTC(),
	}, nil
}
