package domain

import "time"

// Feedback is a user's review of one order item. At most one per
// (user, product); the reward payout is keyed by the order item.
type Feedback struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	OrderItemID string    `json:"order_item_id"`
	ProductID   string    `json:"product_id"`
	Rating      int       `json:"rating"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}
