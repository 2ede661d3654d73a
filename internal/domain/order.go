package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusReady     OrderStatus = "READY"
	OrderStatusInTransit OrderStatus = "IN_TRANSIT"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
)

// statusRank is the total order over lifecycle statuses. A transition is
// legal only if it strictly increases the rank; everything else is a no-op.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:   0,
	OrderStatusPaid:      1,
	OrderStatusReady:     2,
	OrderStatusInTransit: 3,
	OrderStatusDelivered: 4,
	OrderStatusConfirmed: 5,
}

// Rank returns the promotion rank of s, or -1 for an unknown status.
func (s OrderStatus) Rank() int {
	rank, ok := statusRank[s]
	if !ok {
		return -1
	}
	return rank
}

// CanPromoteTo reports whether moving from s to candidate is a strict
// promotion. CONFIRMED is terminal.
func (s OrderStatus) CanPromoteTo(candidate OrderStatus) bool {
	if s == OrderStatusConfirmed {
		return false
	}
	return candidate.Rank() > s.Rank()
}

type ConfirmationType string

const (
	ConfirmationManual ConfirmationType = "MANUAL"
	ConfirmationAuto   ConfirmationType = "AUTO"
)

// OrderItem carries immutable snapshots taken at checkout time so later
// catalog edits never change historical money or reward amounts.
type OrderItem struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	SKUID          string `json:"sku_id"`
	ProductID      string `json:"product_id"`
	SellerID       string `json:"seller_id"`
	OptionName     string `json:"option_name"`
	UnitPrice      int64  `json:"unit_price"`
	Quantity       int    `json:"quantity"`
	FeedbackReward int64  `json:"feedback_reward"`
}

type Order struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	Status           OrderStatus      `json:"status"`
	Items            []OrderItem      `json:"items"`
	Total            int64            `json:"total"`
	UsedPoints       int64            `json:"used_points"`
	PayAmount        int64            `json:"pay_amount"`
	Address          AddressSnapshot  `json:"address"`
	CreatedAt        time.Time        `json:"created_at"`
	DeliveredAt      *time.Time       `json:"delivered_at,omitempty"`
	ConfirmedAt      *time.Time       `json:"confirmed_at,omitempty"`
	ConfirmationType ConfirmationType `json:"confirmation_type,omitempty"`
}

// AddressSnapshot is the shipping address copied from the address book at
// checkout time.
type AddressSnapshot struct {
	Recipient string `json:"recipient"`
	Phone     string `json:"phone"`
	Line1     string `json:"line1"`
	Line2     string `json:"line2,omitempty"`
	ZipCode   string `json:"zip_code"`
}
