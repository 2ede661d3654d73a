package settlement

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marketbase/fulfillment/internal/domain"
)

type fakeCalculator struct {
	settlements []domain.SellerSettlement
	gotDay      time.Time
}

func (f *fakeCalculator) DailyByDate(_ context.Context, day time.Time) ([]domain.SellerSettlement, error) {
	f.gotDay = day
	return f.settlements, nil
}

func TestHandleDaily(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("returns per-seller rows for the requested day", func(t *testing.T) {
		calc := &fakeCalculator{settlements: []domain.SellerSettlement{
			{SellerID: "seller-1", Date: "2026-03-15", ItemTotal: 10000,
				FeedbackTotal: 300, PlatformFee: 300, Payout: 9400},
		}}
		h := NewHandler(calc, logger)

		req := httptest.NewRequest(http.MethodGet, "/settlements?date=2026-03-15", nil)
		rec := httptest.NewRecorder()
		h.HandleDaily(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
		if !calc.gotDay.Equal(want) {
			t.Errorf("parsed day = %v, want %v", calc.gotDay, want)
		}

		var got []domain.SellerSettlement
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if len(got) != 1 || got[0].Payout != 9400 {
			t.Errorf("body = %+v, want one row with payout 9400", got)
		}
	})

	t.Run("empty day returns an empty array", func(t *testing.T) {
		h := NewHandler(&fakeCalculator{}, logger)

		req := httptest.NewRequest(http.MethodGet, "/settlements?date=2026-03-15", nil)
		rec := httptest.NewRecorder()
		h.HandleDaily(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if body := rec.Body.String(); body != "[]\n" {
			t.Errorf("body = %q, want empty json array", body)
		}
	})

	t.Run("missing date is a bad request", func(t *testing.T) {
		h := NewHandler(&fakeCalculator{}, logger)

		req := httptest.NewRequest(http.MethodGet, "/settlements", nil)
		rec := httptest.NewRecorder()
		h.HandleDaily(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("malformed date is a bad request", func(t *testing.T) {
		h := NewHandler(&fakeCalculator{}, logger)

		req := httptest.NewRequest(http.MethodGet, "/settlements?date=15-03-2026", nil)
		rec := httptest.NewRecorder()
		h.HandleDaily(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}
