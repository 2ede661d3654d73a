package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/marketbase/fulfillment/internal/domain"
)

type fakeJournal struct {
	balances    map[string]int64
	entries     map[string][]domain.LedgerEntry
	redemptions map[string]*domain.Redemption
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{
		balances:    make(map[string]int64),
		entries:     make(map[string][]domain.LedgerEntry),
		redemptions: make(map[string]*domain.Redemption),
	}
}

func (f *fakeJournal) Balance(_ context.Context, userID string) (int64, error) {
	return f.balances[userID], nil
}

func (f *fakeJournal) Entries(_ context.Context, userID string) ([]domain.LedgerEntry, error) {
	return f.entries[userID], nil
}

func (f *fakeJournal) RequestRedemption(_ context.Context, userID string, amount int64) (*domain.Redemption, error) {
	if f.balances[userID] < amount {
		return nil, domain.ErrInsufficientBalance
	}
	f.balances[userID] -= amount
	red := &domain.Redemption{
		ID: fmt.Sprintf("red-%d", len(f.redemptions)+1), UserID: userID,
		Amount: amount, Status: domain.RedemptionRequested,
	}
	f.redemptions[red.ID] = red
	return red, nil
}

func (f *fakeJournal) ResolveRedemption(_ context.Context, id string, status domain.RedemptionStatus) (*domain.Redemption, error) {
	red, ok := f.redemptions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if red.Status != domain.RedemptionRequested && red.Status != status {
		return nil, domain.ErrConflict
	}
	red.Status = status
	if status == domain.RedemptionRejected {
		f.balances[red.UserID] += red.Amount
	}
	return red, nil
}

func newTestHandler(journal Journal) *Handler {
	return NewHandler(journal, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func routeRequest(h *Handler, method, target, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/{userId}/points/balance", h.HandleBalance)
	mux.HandleFunc("GET /users/{userId}/points/entries", h.HandleEntries)
	mux.HandleFunc("POST /redemptions", h.HandleRequestRedemption)
	mux.HandleFunc("POST /redemptions/{id}/approve", h.HandleApproveRedemption)
	mux.HandleFunc("POST /redemptions/{id}/reject", h.HandleRejectRedemption)

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleBalance(t *testing.T) {
	journal := newFakeJournal()
	journal.balances["user-1"] = 2500
	h := newTestHandler(journal)

	rec := routeRequest(h, http.MethodGet, "/users/user-1/points/balance", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp balanceResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Balance != 2500 {
		t.Errorf("balance = %d, want 2500", resp.Balance)
	}
}

func TestHandleEntriesEmpty(t *testing.T) {
	h := newTestHandler(newFakeJournal())

	rec := routeRequest(h, http.MethodGet, "/users/user-1/points/entries", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want empty json array", body)
	}
}

func TestHandleEntries(t *testing.T) {
	journal := newFakeJournal()
	journal.entries["user-1"] = []domain.LedgerEntry{
		{ID: "e1", UserID: "user-1", Amount: -3000, Reason: domain.ReasonOrderPay,
			RefKey: "order-1", CreatedAt: time.Now()},
	}
	h := newTestHandler(journal)

	rec := routeRequest(h, http.MethodGet, "/users/user-1/points/entries", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var entries []domain.LedgerEntry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(entries) != 1 || entries[0].Amount != -3000 {
		t.Errorf("entries = %+v, want one debit of 3000", entries)
	}
}

func TestRedemptionFlow(t *testing.T) {
	t.Run("request then reject restores balance", func(t *testing.T) {
		journal := newFakeJournal()
		journal.balances["user-1"] = 5000
		h := newTestHandler(journal)

		rec := routeRequest(h, http.MethodPost, "/redemptions",
			`{"user_id": "user-1", "amount": 4000}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("request status = %d, want 201", rec.Code)
		}
		var red domain.Redemption
		if err := json.NewDecoder(rec.Body).Decode(&red); err != nil {
			t.Fatalf("decode redemption: %v", err)
		}

		rec = routeRequest(h, http.MethodPost, "/redemptions/"+red.ID+"/reject", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("reject status = %d, want 200", rec.Code)
		}
		if journal.balances["user-1"] != 5000 {
			t.Errorf("balance after reject = %d, want 5000 restored", journal.balances["user-1"])
		}
	})

	t.Run("insufficient balance is unprocessable", func(t *testing.T) {
		h := newTestHandler(newFakeJournal())

		rec := routeRequest(h, http.MethodPost, "/redemptions",
			`{"user_id": "user-1", "amount": 100}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rec.Code)
		}
	})

	t.Run("unknown redemption is not found", func(t *testing.T) {
		h := newTestHandler(newFakeJournal())

		rec := routeRequest(h, http.MethodPost, "/redemptions/missing/approve", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("non-positive amount is a bad request", func(t *testing.T) {
		h := newTestHandler(newFakeJournal())

		rec := routeRequest(h, http.MethodPost, "/redemptions",
			`{"user_id": "user-1", "amount": 0}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}
