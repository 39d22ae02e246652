package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/joao-fontenele/storeflow/internal/domain"
)

type fakeCheckouter struct {
	event domain.OrderEvent
	err   error
}

func (c *fakeCheckouter) Checkout(context.Context, string) (domain.OrderEvent, error) {
	return c.event, c.err
}

func TestHandler_HandleCheckout(t *testing.T) {
	tests := []struct {
		name       string
		checkouter *fakeCheckouter
		wantStatus int
	}{
		{"placed", &fakeCheckouter{event: testEvent()}, http.StatusOK},
		{"delivery failed", &fakeCheckouter{err: &DeliveryError{Errs: []error{errors.New("down")}}}, http.StatusBadGateway},
		{"cart unreadable", &fakeCheckouter{err: errors.New("redis down")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(tt.checkouter, discardLogger())

			req := httptest.NewRequest(http.MethodPost, "/cart/u1/checkout", nil)
			req.SetPathValue("ownerId", "u1")
			rec := httptest.NewRecorder()

			handler.HandleCheckout(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}

			var body map[string]any
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}

			switch tt.wantStatus {
			case http.StatusOK:
				if body["ok"] != true || body["message"] != "Order placed!" {
					t.Errorf("unexpected body: %v", body)
				}
			case http.StatusBadGateway:
				if body["error"] != "checkout failed" {
					t.Errorf("unexpected body: %v", body)
				}
			}
		})
	}
}
