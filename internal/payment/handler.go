package payment

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

type confirmRequest struct {
	OrderID    string `json:"order_id"`
	PaymentKey string `json:"payment_key"`
	Amount     int64  `json:"amount"`
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrderID == "" {
		h.writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}

	payment, err := h.service.Confirm(r.Context(), req.OrderID, req.PaymentKey, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrConflict):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrUpstreamFailure):
			h.logger.Error("gateway confirmation failed", "error", err, "order_id", req.OrderID)
			h.writeError(w, http.StatusBadGateway, "payment gateway unavailable, retry safely")
		default:
			h.logger.Error("failed to confirm payment", "error", err, "order_id", req.OrderID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, payment)
}

type failRequest struct {
	OrderID string `json:"order_id"`
}

func (h *Handler) HandleFail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrderID == "" {
		h.writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}

	if err := h.service.Fail(r.Context(), req.OrderID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("failed to record payment failure", "error", err, "order_id", req.OrderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
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
