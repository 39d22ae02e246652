package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joao-fontenele/storeflow/internal/domain"
	"github.com/joao-fontenele/storeflow/internal/metrics"
)

func newTestHandler(repo Repository) (*Handler, *Service) {
	service := NewService(repo, metrics.Nop{}, discardLogger())
	return NewHandler(service, discardLogger()), service
}

func TestHandler_HandleWebhook(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		repo       Repository
		wantStatus int
	}{
		{
			name:       "stores the order",
			body:       `{"userId":"u1","items":[{"productId":"chair01","qty":1,"unitPrice":49.99}],"at":"2025-01-02T03:04:05Z"}`,
			repo:       NewMemoryRepository(),
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing user",
			body:       `{"items":[]}`,
			repo:       NewMemoryRepository(),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "items not an array",
			body:       `{"userId":"u1","items":"chair01"}`,
			repo:       NewMemoryRepository(),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `{"userId":`,
			repo:       NewMemoryRepository(),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "storage down",
			body:       `{"userId":"u1","items":[]}`,
			repo:       &failingRepository{MemoryRepository: NewMemoryRepository(), failures: 1},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _ := newTestHandler(tt.repo)

			req := httptest.NewRequest(http.MethodPost, "/webhook/order", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			handler.HandleWebhook(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}

	t.Run("webhook and queue deliveries of one event share an order", func(t *testing.T) {
		repo := NewMemoryRepository()
		handler, service := newTestHandler(repo)

		event := sampleEvent()
		if _, err := service.Receive(context.Background(), event, "queue"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		body, err := domain.NewWebhookOrder(event)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		req := httptest.NewRequest(http.MethodPost, "/webhook/order", strings.NewReader(string(mustJSON(t, body))))
		rec := httptest.NewRecorder()

		handler.HandleWebhook(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		orders, _ := repo.List(context.Background())
		if len(orders) != 1 {
			t.Errorf("expected 1 order, got %d", len(orders))
		}
	})
}

func TestHandler_HandleUpdateStatus(t *testing.T) {
	seed := func(t *testing.T) (*Handler, string) {
		t.Helper()
		handler, service := newTestHandler(NewMemoryRepository())
		order, err := service.Receive(context.Background(), sampleEvent(), "queue")
		if err != nil {
			t.Fatalf("seed order: %v", err)
		}
		return handler, order.ID
	}

	tests := []struct {
		name       string
		id         string
		body       string
		wantStatus int
	}{
		{"forward", "", `{"status":"created"}`, http.StatusOK},
		{"same status", "", `{"status":"received"}`, http.StatusOK},
		{"missing status", "", `{}`, http.StatusBadRequest},
		{"unknown status", "", `{"status":"teleported"}`, http.StatusBadRequest},
		{"unknown order", "missing", `{"status":"created"}`, http.StatusNotFound},
		{"rejected transition", "", `{"status":"completed"}`, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, id := seed(t)
			if tt.id != "" {
				id = tt.id
			}

			req := httptest.NewRequest(http.MethodPut, "/orders/"+id+"/status", strings.NewReader(tt.body))
			req.SetPathValue("id", id)
			rec := httptest.NewRecorder()

			handler.HandleUpdateStatus(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}

			if rec.Code == http.StatusOK {
				var resp struct {
					OK    bool          `json:"ok"`
					Order *domain.Order `json:"order"`
				}
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if !resp.OK || resp.Order == nil || resp.Order.ID != id {
					t.Errorf("unexpected response: %+v", resp)
				}
			}
		})
	}
}

func TestHandler_HandleGet(t *testing.T) {
	handler, service := newTestHandler(NewMemoryRepository())
	order, _ := service.Receive(context.Background(), sampleEvent(), "queue")

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/orders/"+order.ID, nil)
		req.SetPathValue("id", order.ID)
		rec := httptest.NewRecorder()

		handler.HandleGet(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		var got domain.Order
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if got.Total.String() != "39.98" {
			t.Errorf("expected total 39.98, got %s", got.Total)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/orders/missing", nil)
		req.SetPathValue("id", "missing")
		rec := httptest.NewRecorder()

		handler.HandleGet(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleList(t *testing.T) {
	handler, service := newTestHandler(NewMemoryRepository())
	_, _ = service.Receive(context.Background(), sampleEvent(), "queue")

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rec := httptest.NewRecorder()

	handler.HandleList(rec, req)

	var orders []domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&orders); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(orders) != 1 {
		t.Errorf("expected 1 order, got %d", len(orders))
	}
}
