package feedback

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/marketbase/fulfillment/internal/domain"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.OrderItemID == "" {
		h.writeError(w, http.StatusBadRequest, "user_id and order_item_id are required")
		return
	}

	f, err := h.service.Submit(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err, "failed to submit feedback")
		return
	}

	h.writeJSON(w, http.StatusCreated, f)
}

func (h *Handler) HandleListByProduct(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("id")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	feedbacks, err := h.service.ListByProduct(r.Context(), productID)
	if err != nil {
		h.writeDomainError(w, err, "failed to list feedback")
		return
	}

	h.writeJSON(w, http.StatusOK, feedbacks)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(logMsg, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
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
