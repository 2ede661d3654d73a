package feedback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/marketbase/fulfillment/internal/domain"
	"github.com/marketbase/fulfillment/internal/ledger"
)

const uniqueViolation = "23505"

type Repository struct {
	db     *sql.DB
	ledger *ledger.Repository
}

func NewRepository(db *sql.DB, led *ledger.Repository) *Repository {
	return &Repository{db: db, ledger: led}
}

// Create inserts the review and its reward credit in one transaction; a
// review can never land without its reward. The table enforces one review
// per (user, product) and per order item; a duplicate surfaces as
// ErrConflict.
func (r *Repository) Create(ctx context.Context, f *domain.Feedback, reward int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO feedback (id, user_id, order_item_id, product_id, rating, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, f.ID, f.UserID, f.OrderItemID, f.ProductID, f.Rating, f.Content, f.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("feedback already exists for product %s: %w", f.ProductID, domain.ErrConflict)
		}
		return err
	}

	if err := r.ledger.AccrueTx(ctx, tx, f.UserID, reward, domain.ReasonFeedbackReward, f.OrderItemID); err != nil {
		return fmt.Errorf("pay feedback reward for item %s: %w", f.OrderItemID, err)
	}
	return tx.Commit()
}

func (r *Repository) ListByProduct(ctx context.Context, productID string) ([]domain.Feedback, error) {
	return r.list(ctx, `WHERE product_id = $1`, productID)
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]domain.Feedback, error) {
	return r.list(ctx, `WHERE user_id = $1`, userID)
}

func (r *Repository) list(ctx context.Context, where string, args ...any) ([]domain.Feedback, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, order_item_id, product_id, rating, content, created_at
		FROM feedback `+where+`
		ORDER BY created_at DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var feedbacks []domain.Feedback
	for rows.Next() {
		var f domain.Feedback
		if err := rows.Scan(&f.ID, &f.UserID, &f.OrderItemID, &f.ProductID,
			&f.Rating, &f.Content, &f.CreatedAt); err != nil {
			return nil, err
		}
		feedbacks = append(feedbacks, f)
	}
	return feedbacks, rows.Err()
}
