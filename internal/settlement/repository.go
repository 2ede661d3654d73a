package settlement

import (
	"context"
	"database/sql"
	"time"

	"github.com/marketbase/fulfillment/internal/domain"
)

// Repository computes daily seller payouts by reading order item snapshots
// and issued rewards. It never writes; re-running a day is always safe.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// DailyByDate aggregates orders confirmed on the given UTC day, one row per
// seller. Lines whose reward was actually paid count into feedback_total;
// unpaid rewards stay with the platform.
func (r *Repository) DailyByDate(ctx context.Context, day time.Time) ([]domain.SellerSettlement, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	rows, err := r.db.QueryContext(ctx, `
		SELECT oi.seller_id,
		       SUM(oi.unit_price * oi.quantity),
		       COALESCE(SUM(CASE WHEN f.id IS NOT NULL THEN oi.feedback_reward * oi.quantity ELSE 0 END), 0)
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		LEFT JOIN feedback f ON f.order_item_id = oi.id
		WHERE o.status = $1
		  AND o.confirmed_at >= $2
		  AND o.confirmed_at < $3
		GROUP BY oi.seller_id
		ORDER BY oi.seller_id
	`, domain.OrderStatusConfirmed, start, end)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	date := start.Format("2006-01-02")
	var settlements []domain.SellerSettlement
	for rows.Next() {
		var s domain.SellerSettlement
		if err := rows.Scan(&s.SellerID, &s.ItemTotal, &s.FeedbackTotal); err != nil {
			return nil, err
		}
		s.Date = date
		s.PlatformFee = domain.PlatformFee(s.ItemTotal)
		s.Payout = s.ItemTotal - s.FeedbackTotal - s.PlatformFee
		settlements = append(settlements, s)
	}
	return settlements, rows.Err()
}
