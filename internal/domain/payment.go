package domain

import "time"

// Payment records one confirmed capture against an order. PaymentKey is the
// gateway-issued key; for zero-pay orders a synthetic key derived from the
// order id is stored so the fully-point-covered path stays idempotent too.
type Payment struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	PaymentKey string    `json:"payment_key"`
	Amount     int64     `json:"amount"`
	Method     string    `json:"method"`
	ApprovedAt time.Time `json:"approved_at"`
	CreatedAt  time.Time `json:"created_at"`
}
