package domain

import "time"

// OrderPaidEvent is published after FinalizePaid commits.
type OrderPaidEvent struct {
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	PayAmount int64     `json:"pay_amount"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderConfirmedEvent is published when an order reaches CONFIRMED, whether
// by the user or by the auto-confirm job.
type OrderConfirmedEvent struct {
	OrderID          string           `json:"order_id"`
	UserID           string           `json:"user_id"`
	ConfirmationType ConfirmationType `json:"confirmation_type"`
	Timestamp        time.Time        `json:"timestamp"`
}
