package domain

import "time"

// LedgerReason is the business event class behind a ledger entry. Together
// with the caller-supplied ref key and the user id it forms the idempotency
// key that makes every write safe to retry.
type LedgerReason string

const (
	ReasonOrderPay       LedgerReason = "ORDER_PAY"
	ReasonOrderCancel    LedgerReason = "ORDER_CANCEL"
	ReasonFeedbackReward LedgerReason = "FEEDBACK_REWARD"
	ReasonRedeemRequest  LedgerReason = "REDEEM_REQUEST"
	ReasonRedeemReject   LedgerReason = "REDEEM_REJECT"
)

// LedgerEntry is one append-only row of the point journal. Credit amounts
// are positive, debits negative. Entries are immutable; corrections are
// written as offsetting entries.
type LedgerEntry struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Amount    int64        `json:"amount"`
	Reason    LedgerReason `json:"reason"`
	RefKey    string       `json:"ref_key"`
	CreatedAt time.Time    `json:"created_at"`
}

type RedemptionStatus string

const (
	RedemptionRequested RedemptionStatus = "REQUESTED"
	RedemptionApproved  RedemptionStatus = "APPROVED"
	RedemptionRejected  RedemptionStatus = "REJECTED"
)

// Redemption is a request to convert points to an external reward.
// Rejection writes the offsetting ledger credit.
type Redemption struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Amount    int64            `json:"amount"`
	Status    RedemptionStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
