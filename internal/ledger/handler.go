package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/marketbase/fulfillment/internal/domain"
)

// Journal is the slice of the ledger the HTTP surface needs.
type Journal interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Entries(ctx context.Context, userID string) ([]domain.LedgerEntry, error)
	RequestRedemption(ctx context.Context, userID string, amount int64) (*domain.Redemption, error)
	ResolveRedemption(ctx context.Context, id string, status domain.RedemptionStatus) (*domain.Redemption, error)
}

type Handler struct {
	journal Journal
	logger  *slog.Logger
}

func NewHandler(journal Journal, logger *slog.Logger) *Handler {
	return &Handler{journal: journal, logger: logger}
}

type balanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	balance, err := h.journal.Balance(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to read balance", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{UserID: userID, Balance: balance})
}

func (h *Handler) HandleEntries(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	entries, err := h.journal.Entries(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list ledger entries", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}

	h.writeJSON(w, http.StatusOK, entries)
}

type redemptionRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

func (h *Handler) HandleRequestRedemption(w http.ResponseWriter, r *http.Request) {
	var req redemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.Amount <= 0 {
		h.writeError(w, http.StatusBadRequest, "user_id and a positive amount are required")
		return
	}

	red, err := h.journal.RequestRedemption(r.Context(), req.UserID, req.Amount)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			h.writeError(w, http.StatusUnprocessableEntity, "insufficient point balance")
			return
		}
		h.logger.Error("failed to request redemption", "error", err, "user_id", req.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("redemption requested", "redemption_id", red.ID, "user_id", red.UserID, "amount", red.Amount)
	h.writeJSON(w, http.StatusCreated, red)
}

func (h *Handler) HandleApproveRedemption(w http.ResponseWriter, r *http.Request) {
	h.resolveRedemption(w, r, domain.RedemptionApproved)
}

func (h *Handler) HandleRejectRedemption(w http.ResponseWriter, r *http.Request) {
	h.resolveRedemption(w, r, domain.RedemptionRejected)
}

func (h *Handler) resolveRedemption(w http.ResponseWriter, r *http.Request, status domain.RedemptionStatus) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing redemption id")
		return
	}

	red, err := h.journal.ResolveRedemption(r.Context(), id, status)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "redemption not found")
		case errors.Is(err, domain.ErrConflict):
			h.writeError(w, http.StatusConflict, "redemption already resolved")
		default:
			h.logger.Error("failed to resolve redemption", "error", err, "redemption_id", id)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.logger.Info("redemption resolved", "redemption_id", red.ID, "status", red.Status)
	h.writeJSON(w, http.StatusOK, red)
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
