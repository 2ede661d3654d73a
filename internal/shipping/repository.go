package shipping

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/marketbase/fulfillment/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, s *domain.Shipment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO shipments (id, order_id, seller_id, courier_code, tracking_number, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, s.OrderID, s.SellerID, s.CourierCode, s.TrackingNumber, s.Status, s.CreatedAt)
	return err
}

func (r *Repository) ListByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error) {
	return r.list(ctx, `WHERE order_id = $1`, orderID)
}

// ListUnresolved returns the shipments the sync still has work for: anything
// short of DELIVERED, plus delivered shipments whose order has not caught up
// yet, so a failed order advance is retried on the next pass.
func (r *Repository) ListUnresolved(ctx context.Context) ([]domain.Shipment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.order_id, s.seller_id, s.courier_code, s.tracking_number, s.status, s.delivered_at, s.synced_at, s.created_at
		FROM shipments s
		JOIN orders o ON o.id = s.order_id
		WHERE s.status != $1 OR o.status NOT IN ($2, $3)
		ORDER BY s.created_at
	`, domain.ShipmentStatusDelivered, domain.OrderStatusDelivered, domain.OrderStatusConfirmed)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var shipments []domain.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		shipments = append(shipments, *s)
	}
	return shipments, rows.Err()
}

func (r *Repository) list(ctx context.Context, where string, args ...any) ([]domain.Shipment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, seller_id, courier_code, tracking_number, status, delivered_at, synced_at, created_at
		FROM shipments `+where+`
		ORDER BY created_at
	`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var shipments []domain.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		shipments = append(shipments, *s)
	}
	return shipments, rows.Err()
}

// AppendEvents records raw carrier events. The feed is re-fetched whole on
// every poll, so re-seen events are dropped by the uniqueness constraint
// instead of piling up.
func (r *Repository) AppendEvents(ctx context.Context, events []domain.ShipmentEvent) error {
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO shipment_events (id, tracking_number, status_text, location, level, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (tracking_number, occurred_at, status_text) DO NOTHING
		`, e.ID, e.TrackingNumber, e.StatusText, e.Location, e.Level, e.OccurredAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateStatus writes the derived status and the sync stamp. delivered_at is
// first-set-wins; later delivery confirmations never overwrite it.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status domain.ShipmentStatus, deliveredAt *time.Time, syncedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE shipments
		SET status = $2,
		    delivered_at = COALESCE(delivered_at, $3),
		    synced_at = $4
		WHERE id = $1
	`, id, status, deliveredAt, syncedAt)
	return err
}

// OrderDelivery reports whether every shipment of the order is delivered,
// and the latest of their delivery timestamps. The order is only as
// delivered as its slowest package.
func (r *Repository) OrderDelivery(ctx context.Context, orderID string) (bool, time.Time, error) {
	var total, delivered int
	var latest sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(delivered_at),
		       MAX(delivered_at)
		FROM shipments
		WHERE order_id = $1
	`, orderID).Scan(&total, &delivered, &latest)
	if err != nil {
		return false, time.Time{}, err
	}
	if total == 0 || delivered < total {
		return false, time.Time{}, nil
	}
	return true, latest.Time, nil
}

// SellerDeliveredAt is the latest delivery timestamp among a seller's
// shipments under one order. Replacement shipments registered later push it
// forward, which is what the feedback window keys off.
func (r *Repository) SellerDeliveredAt(ctx context.Context, orderID, sellerID string) (*time.Time, error) {
	var latest sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(delivered_at)
		FROM shipments
		WHERE order_id = $1 AND seller_id = $2 AND delivered_at IS NOT NULL
	`, orderID, sellerID).Scan(&latest)
	if err != nil {
		return nil, err
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShipment(s rowScanner) (*domain.Shipment, error) {
	sh := &domain.Shipment{}
	var deliveredAt, syncedAt sql.NullTime
	err := s.Scan(&sh.ID, &sh.OrderID, &sh.SellerID, &sh.CourierCode, &sh.TrackingNumber,
		&sh.Status, &deliveredAt, &syncedAt, &sh.CreatedAt)
	if err != nil {
		return nil, err
	}
	if deliveredAt.Valid {
		sh.DeliveredAt = &deliveredAt.Time
	}
	if syncedAt.Valid {
		sh.SyncedAt = &syncedAt.Time
	}
	return sh, nil
}
