package payment

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/marketbase/fulfillment/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetByKey looks a payment record up by its gateway key. Nil when no record
// exists yet.
func (r *Repository) GetByKey(ctx context.Context, paymentKey string) (*domain.Payment, error) {
	p := &domain.Payment{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, payment_key, amount, method, approved_at, created_at
		FROM payments
		WHERE payment_key = $1
	`, paymentKey).Scan(&p.ID, &p.OrderID, &p.PaymentKey, &p.Amount, &p.Method, &p.ApprovedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// GetByOrder returns the payment recorded for an order, nil if none.
func (r *Repository) GetByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	p := &domain.Payment{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, payment_key, amount, method, approved_at, created_at
		FROM payments
		WHERE order_id = $1
	`, orderID).Scan(&p.ID, &p.OrderID, &p.PaymentKey, &p.Amount, &p.Method, &p.ApprovedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// Create persists the payment record. A unique violation on either the
// payment key or the order id means a concurrent confirmation already
// recorded it; the stored record is returned so the caller can verify it
// matches and treat the write as applied.
func (r *Repository) Create(ctx context.Context, p *domain.Payment) (*domain.Payment, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (id, order_id, payment_key, amount, method, approved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.OrderID, p.PaymentKey, p.Amount, p.Method, p.ApprovedAt, p.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			existing, getErr := r.GetByKey(ctx, p.PaymentKey)
			if getErr != nil {
				return nil, getErr
			}
			if existing == nil {
				existing, getErr = r.GetByOrder(ctx, p.OrderID)
				if getErr != nil {
					return nil, getErr
				}
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}
	return p, nil
}
