package cart

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storeflow/internal/domain"
)

type Handler struct {
	store  Store
	logger *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	ownerID := r.PathValue("ownerId")
	if ownerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing owner id")
		return
	}

	var item domain.CartItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := item.Validate(); err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			h.writeError(w, http.StatusBadRequest, ve.Field+" "+ve.Message)
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.store.Add(r.Context(), ownerID, item)
	if err != nil {
		h.logger.Error("failed to add cart item", "error", err, "owner_id", ownerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("cart item added", "owner_id", ownerID, "product_id", item.ProductID, "qty", item.Qty)
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ownerID := r.PathValue("ownerId")
	if ownerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing owner id")
		return
	}

	snapshot, err := h.store.Snapshot(r.Context(), ownerID)
	if err != nil {
		h.logger.Error("failed to read cart", "error", err, "owner_id", ownerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, snapshot.Items)
}

func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	ownerID := r.PathValue("ownerId")
	if ownerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing owner id")
		return
	}

	if err := h.store.Clear(r.Context(), ownerID); err != nil {
		h.logger.Error("failed to clear cart", "error", err, "owner_id", ownerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("cart cleared", "owner_id", ownerID)
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
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
