package domain

import "time"

type ShipmentStatus string

const (
	ShipmentStatusReady     ShipmentStatus = "READY"
	ShipmentStatusInTransit ShipmentStatus = "IN_TRANSIT"
	ShipmentStatusDelivered ShipmentStatus = "DELIVERED"
)

// Movement levels are the canonical 1-6 scale carrier event text is
// normalized to.
const (
	MovementPreparing      = 1
	MovementPickedUp       = 2
	MovementInTransit      = 3
	MovementAtHub          = 4
	MovementOutForDelivery = 5
	MovementDelivered      = 6
)

// StatusForMovement collapses a movement level onto a shipment status.
func StatusForMovement(level int) ShipmentStatus {
	switch {
	case level <= MovementPickedUp:
		return ShipmentStatusReady
	case level <= MovementOutForDelivery:
		return ShipmentStatusInTransit
	default:
		return ShipmentStatusDelivered
	}
}

// Shipment is one seller-dispatch-unit of an order. An order may have
// several, and each is tracked independently against the carrier feed.
type Shipment struct {
	ID             string         `json:"id"`
	OrderID        string         `json:"order_id"`
	SellerID       string         `json:"seller_id"`
	CourierCode    string         `json:"courier_code"`
	TrackingNumber string         `json:"tracking_number"`
	Status         ShipmentStatus `json:"status"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	SyncedAt       *time.Time     `json:"synced_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ShipmentEvent is one raw carrier status update. Events are append-only
// and never edited; the sync process keeps only the latest per tracking
// number when deriving state.
type ShipmentEvent struct {
	ID             string    `json:"id"`
	TrackingNumber string    `json:"tracking_number"`
	StatusText     string    `json:"status_text"`
	Location       string    `json:"location,omitempty"`
	Level          int       `json:"level"`
	OccurredAt     time.Time `json:"occurred_at"`
}
