package orders

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/marketbase/fulfillment/internal/domain"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.AddressRef == "" {
		h.writeError(w, http.StatusBadRequest, "user_id and address_ref are required")
		return
	}

	order, err := h.service.Checkout(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err, "checkout failed")
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "failed to get order")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	orders, err := h.service.ListByUser(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err, "failed to list orders")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

type confirmRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		h.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	order, err := h.service.ManualConfirm(r.Context(), id, req.UserID)
	if err != nil {
		h.writeDomainError(w, err, "failed to confirm order")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

// HandleExport streams the order grid as CSV for operational tooling. Pure
// projection, no writes.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListAll(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "failed to export orders")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="orders.csv"`)

	cw := csv.NewWriter(w)
	header := []string{"order_id", "user_id", "status", "total", "used_points", "pay_amount",
		"created_at", "delivered_at", "confirmed_at", "confirmation_type"}
	if err := cw.Write(header); err != nil {
		h.logger.Error("failed to write csv header", "error", err)
		return
	}

	for _, order := range orders {
		record := []string{
			order.ID,
			order.UserID,
			string(order.Status),
			strconv.FormatInt(order.Total, 10),
			strconv.FormatInt(order.UsedPoints, 10),
			strconv.FormatInt(order.PayAmount, 10),
			order.CreatedAt.Format(time.RFC3339),
			formatTimePtr(order.DeliveredAt),
			formatTimePtr(order.ConfirmedAt),
			string(order.ConfirmationType),
		}
		if err := cw.Write(record); err != nil {
			h.logger.Error("failed to write csv record", "error", err, "order_id", order.ID)
			return
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Error("failed to flush csv", "error", err)
	}
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance):
		h.writeError(w, http.StatusUnprocessableEntity, "insufficient point balance")
	case errors.Is(err, domain.ErrUpstreamFailure):
		h.logger.Error(logMsg, "error", err)
		h.writeError(w, http.StatusBadGateway, "upstream service unavailable")
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
