package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestOrderEvent_Total(t *testing.T) {
	t.Run("treats a missing unit price as zero", func(t *testing.T) {
		event := OrderEvent{
			OwnerID: "u1",
			Items: []EventItem{
				{ProductID: "desk01", Qty: 2, UnitPrice: price("19.99")},
				{ProductID: "lamp01", Qty: 1},
			},
		}

		if got := event.Total(); !got.Equal(decimal.RequireFromString("39.98")) {
			t.Errorf("expected total 39.98, got %s", got)
		}
	})

	t.Run("empty event totals zero", func(t *testing.T) {
		if got := (OrderEvent{OwnerID: "u1"}).Total(); !got.IsZero() {
			t.Errorf("expected zero total, got %s", got)
		}
	})

	t.Run("does not lose cents", func(t *testing.T) {
		event := OrderEvent{Items: []EventItem{{ProductID: "p", Qty: 3, UnitPrice: price("0.10")}}}
		if got := event.Total(); !got.Equal(decimal.RequireFromString("0.30")) {
			t.Errorf("expected 0.30, got %s", got)
		}
	})
}

func TestOrderEvent_Identity(t *testing.T) {
	createdAt := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)

	t.Run("same event id yields same order id", func(t *testing.T) {
		a := OrderEvent{EventID: "e-1", OwnerID: "u1", CreatedAt: createdAt}
		b := OrderEvent{EventID: "e-1", OwnerID: "u1", CreatedAt: createdAt.Add(time.Hour)}
		if a.OrderID() != b.OrderID() {
			t.Errorf("expected equal order ids, got %s and %s", a.OrderID(), b.OrderID())
		}
	})

	t.Run("falls back to owner and creation time", func(t *testing.T) {
		a := OrderEvent{OwnerID: "u1", CreatedAt: createdAt}
		b := OrderEvent{OwnerID: "u1", CreatedAt: createdAt}
		c := OrderEvent{OwnerID: "u2", CreatedAt: createdAt}
		if a.IdempotencyKey() != b.IdempotencyKey() {
			t.Error("expected equal keys for identical owner and time")
		}
		if a.OrderID() == c.OrderID() {
			t.Error("expected different order ids for different owners")
		}
	})
}

func TestDecodeOrderEvent(t *testing.T) {
	t.Run("decodes numeric unit prices", func(t *testing.T) {
		payload := []byte(`{"ownerId":"u1","items":[{"productId":"chair01","qty":1,"unitPrice":49.99}],"createdAt":"2026-01-01T00:00:00Z"}`)
		event, err := DecodeOrderEvent(payload)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !event.Total().Equal(decimal.RequireFromString("49.99")) {
			t.Errorf("expected total 49.99, got %s", event.Total())
		}
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		_, err := DecodeOrderEvent([]byte(`{not json`))
		if !IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("rejects zero quantity", func(t *testing.T) {
		_, err := DecodeOrderEvent([]byte(`{"ownerId":"u1","items":[{"productId":"p","qty":0}]}`))
		if !IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("rejects missing owner", func(t *testing.T) {
		_, err := DecodeOrderEvent([]byte(`{"items":[]}`))
		if !IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("requires createdAt without an event id", func(t *testing.T) {
		_, err := DecodeOrderEvent([]byte(`{"ownerId":"u1","items":[{"productId":"chair01","qty":1}]}`))
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "createdAt" {
			t.Errorf("expected createdAt validation error, got %v", err)
		}
	})

	t.Run("accepts a missing createdAt when the event id is set", func(t *testing.T) {
		_, err := DecodeOrderEvent([]byte(`{"eventId":"e-1","ownerId":"u1","items":[{"productId":"chair01","qty":1}]}`))
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestDecodeOrderEvent_StorageLimits(t *testing.T) {
	tests := []struct {
		name  string
		items string
		field string
	}{
		{name: "quantity above int range", items: `[{"productId":"p","qty":3000000000}]`, field: "items[0].qty"},
		{name: "unit price too large", items: `[{"productId":"p","qty":1,"unitPrice":1e10}]`, field: "items[0].unitPrice"},
		{name: "unit price with sub-cent digits", items: `[{"productId":"p","qty":1,"unitPrice":1.005}]`, field: "items[0].unitPrice"},
		{name: "total too large", items: `[{"productId":"p","qty":2,"unitPrice":9999999999.99}]`, field: "items"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := `{"eventId":"e-1","ownerId":"u1","items":` + tt.items + `,"createdAt":"2026-01-01T00:00:00Z"}`
			_, err := DecodeOrderEvent([]byte(payload))
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, ve.Field)
			}
		})
	}

	t.Run("largest storable values pass", func(t *testing.T) {
		payload := `{"eventId":"e-1","ownerId":"u1","items":[{"productId":"p","qty":1,"unitPrice":9999999999.99}],"createdAt":"2026-01-01T00:00:00Z"}`
		if _, err := DecodeOrderEvent([]byte(payload)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestOrderEvent_MarshalsPricesAsNumbers(t *testing.T) {
	event := OrderEvent{OwnerID: "u1", Items: []EventItem{{ProductID: "p", Qty: 1, UnitPrice: price("49.99")}}}
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var raw struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := raw.Items[0]["unitPrice"].(float64); !ok {
		t.Errorf("expected numeric unitPrice, got %T", raw.Items[0]["unitPrice"])
	}
}

func TestWebhookOrder_Event(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"userId":"u1","items":[{"productId":"p","qty":1}],"at":"2026-01-01T00:00:00Z"}`},
		{name: "empty items", body: `{"userId":"u1","items":[]}`},
		{name: "missing user", body: `{"items":[]}`, wantErr: true},
		{name: "items not an array", body: `{"userId":"u1","items":{"productId":"p"}}`, wantErr: true},
		{name: "missing items", body: `{"userId":"u1"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body WebhookOrder
			if err := json.Unmarshal([]byte(tt.body), &body); err != nil {
				t.Fatalf("unexpected decode error: %v", err)
			}
			_, err := body.Event()
			if tt.wantErr && !IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWebhookOrder_RoundTripKeepsIdentity(t *testing.T) {
	event := OrderEvent{EventID: "e-9", OwnerID: "u1", Items: []EventItem{{ProductID: "p", Qty: 2}}, CreatedAt: time.Now().UTC()}
	body, err := NewWebhookOrder(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	back, err := body.Event()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back.OrderID() != event.OrderID() {
		t.Errorf("expected order id %s, got %s", event.OrderID(), back.OrderID())
	}
}
