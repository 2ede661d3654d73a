package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/marketbase/fulfillment/internal/clock"
	"github.com/marketbase/fulfillment/internal/domain"
)

// OrderReader is what shipment registration needs from the order side.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (*domain.Order, error)
	Promote(ctx context.Context, orderID string, candidate domain.OrderStatus) error
}

type Handler struct {
	repo   *Repository
	orders OrderReader
	clock  clock.Clock
	logger *slog.Logger
}

func NewHandler(repo *Repository, orders OrderReader, clk clock.Clock, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, orders: orders, clock: clk, logger: logger}
}

type registerRequest struct {
	SellerID       string `json:"seller_id"`
	CourierCode    string `json:"courier_code"`
	TrackingNumber string `json:"tracking_number"`
}

// HandleRegister records a seller dispatch for a paid order. The first
// registration moves the order to READY.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	if orderID == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SellerID == "" || req.CourierCode == "" || req.TrackingNumber == "" {
		h.writeError(w, http.StatusBadRequest, "seller_id, courier_code and tracking_number are required")
		return
	}

	order, err := h.orders.Get(r.Context(), orderID)
	if err != nil {
		h.writeDomainError(w, err, "failed to load order for shipment")
		return
	}
	if order.Status.Rank() < domain.OrderStatusPaid.Rank() {
		h.writeError(w, http.StatusConflict,
			fmt.Sprintf("order %s is %s, shipments require payment first", orderID, order.Status))
		return
	}

	shipment := &domain.Shipment{
		ID:             uuid.New().String(),
		OrderID:        orderID,
		SellerID:       req.SellerID,
		CourierCode:    req.CourierCode,
		TrackingNumber: req.TrackingNumber,
		Status:         domain.ShipmentStatusReady,
		CreatedAt:      h.clock.Now(),
	}
	if err := h.repo.Create(r.Context(), shipment); err != nil {
		h.writeDomainError(w, err, "failed to create shipment")
		return
	}
	if err := h.orders.Promote(r.Context(), orderID, domain.OrderStatusReady); err != nil {
		h.logger.Error("failed to promote order after shipment registration", "error", err, "order_id", orderID)
	}

	h.logger.Info("shipment registered",
		"shipment_id", shipment.ID,
		"order_id", orderID,
		"tracking_number", req.TrackingNumber)

	h.writeJSON(w, http.StatusCreated, shipment)
}

func (h *Handler) HandleListByOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	if orderID == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	shipments, err := h.repo.ListByOrder(r.Context(), orderID)
	if err != nil {
		h.writeDomainError(w, err, "failed to list shipments")
		return
	}

	h.writeJSON(w, http.StatusOK, shipments)
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
