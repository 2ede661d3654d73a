package domain

// SellerSettlement is the per-seller payout for one calendar day, derived
// entirely from order item snapshots and issued rewards. Recomputing it is
// always safe; nothing here is written back.
type SellerSettlement struct {
	SellerID      string `json:"seller_id"`
	Date          string `json:"date"`
	ItemTotal     int64  `json:"item_total"`
	FeedbackTotal int64  `json:"feedback_total"`
	PlatformFee   int64  `json:"platform_fee"`
	Payout        int64  `json:"payout"`
}

// PlatformFee is round(itemTotal * 0.03) computed in integer math.
func PlatformFee(itemTotal int64) int64 {
	return (itemTotal*3 + 50) / 100
}
