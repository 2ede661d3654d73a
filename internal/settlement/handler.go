package settlement

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/marketbase/fulfillment/internal/domain"
)

type Calculator interface {
	DailyByDate(ctx context.Context, day time.Time) ([]domain.SellerSettlement, error)
}

type Handler struct {
	calculator Calculator
	logger     *slog.Logger
}

func NewHandler(calculator Calculator, logger *slog.Logger) *Handler {
	return &Handler{calculator: calculator, logger: logger}
}

// HandleDaily serves GET /settlements?date=YYYY-MM-DD.
func (h *Handler) HandleDaily(w http.ResponseWriter, r *http.Request) {
	dateParam := r.URL.Query().Get("date")
	if dateParam == "" {
		h.writeError(w, http.StatusBadRequest, "date query parameter is required")
		return
	}
	day, err := time.ParseInLocation("2006-01-02", dateParam, time.UTC)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	settlements, err := h.calculator.DailyByDate(r.Context(), day)
	if err != nil {
		h.logger.Error("failed to compute settlements", "error", err, "date", dateParam)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if settlements == nil {
		settlements = []domain.SellerSettlement{}
	}

	h.writeJSON(w, http.StatusOK, settlements)
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
