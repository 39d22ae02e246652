package orders

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storeflow/internal/domain"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// HandleWebhook accepts the synchronous fallback delivery from checkout.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var body domain.WebhookOrder
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	event, err := body.Event()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	if _, err := h.service.Receive(r.Context(), event, "webhook"); err != nil {
		if domain.IsValidation(err) {
			h.writeError(w, http.StatusBadRequest, validationMessage(err))
			return
		}
		h.writeError(w, http.StatusBadGateway, "order could not be stored")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

type updateStatusResponse struct {
	OK    bool          `json:"ok"`
	Order *domain.Order `json:"order"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == "" {
		h.writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	order, err := h.service.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		switch {
		case domain.IsValidation(err):
			h.writeError(w, http.StatusBadRequest, validationMessage(err))
		case errors.Is(err, ErrNotFound):
			h.writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrInvalidTransition):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("failed to update order status", "error", err, "id", id)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, updateStatusResponse{OK: true, Order: order})
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

func validationMessage(err error) string {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		if ve.Field == "" {
			return ve.Message
		}
		return ve.Field + " " + ve.Message
	}
	return err.Error()
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
