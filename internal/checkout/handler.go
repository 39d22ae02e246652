package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storeflow/internal/domain"
)

type Checkouter interface {
	Checkout(ctx context.Context, ownerID string) (domain.OrderEvent, error)
}

type Handler struct {
	publisher Checkouter
	logger    *slog.Logger
}

func NewHandler(publisher Checkouter, logger *slog.Logger) *Handler {
	return &Handler{
		publisher: publisher,
		logger:    logger,
	}
}

type checkoutResponse struct {
	OK      bool              `json:"ok"`
	Message string            `json:"message"`
	Event   domain.OrderEvent `json:"event"`
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	ownerID := r.PathValue("ownerId")
	if ownerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing owner id")
		return
	}

	event, err := h.publisher.Checkout(r.Context(), ownerID)
	if err != nil {
		var de *DeliveryError
		if errors.As(err, &de) {
			h.logger.Error("checkout failed", "error", err, "owner_id", ownerID)
			h.writeError(w, http.StatusBadGateway, "checkout failed")
			return
		}
		h.logger.Error("failed to read cart for checkout", "error", err, "owner_id", ownerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, checkoutResponse{OK: true, Message: "Order placed!", Event: event})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
