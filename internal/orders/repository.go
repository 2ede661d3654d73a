package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/marketbase/fulfillment/internal/catalog"
	"github.com/marketbase/fulfillment/internal/domain"
)

type Repository struct {
	db      *sql.DB
	catalog *catalog.Repository
}

func NewRepository(db *sql.DB, cat *catalog.Repository) *Repository {
	return &Repository{db: db, catalog: cat}
}

func (r *Repository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, status, total, used_points, pay_amount,
			addr_recipient, addr_phone, addr_line1, addr_line2, addr_zip,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, order.ID, order.UserID, order.Status, order.Total, order.UsedPoints, order.PayAmount,
		order.Address.Recipient, order.Address.Phone, order.Address.Line1, order.Address.Line2,
		order.Address.ZipCode, order.CreatedAt)
	if err != nil {
		return err
	}

	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.OrderID = order.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, sku_id, product_id, seller_id, option_name,
				unit_price, quantity, feedback_reward
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, item.ID, item.OrderID, item.SKUID, item.ProductID, item.SellerID,
			item.OptionName, item.UnitPrice, item.Quantity, item.FeedbackReward)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, total, used_points, pay_amount,
		       addr_recipient, addr_phone, addr_line1, addr_line2, addr_zip,
		       created_at, delivered_at, confirmed_at, confirmation_type
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, sku_id, product_id, seller_id, option_name,
		       unit_price, quantity, feedback_reward
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.SKUID, &item.ProductID, &item.SellerID,
			&item.OptionName, &item.UnitPrice, &item.Quantity, &item.FeedbackReward); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

// GetItem loads one order line together with its owning order.
func (r *Repository) GetItem(ctx context.Context, itemID string) (*domain.OrderItem, *domain.Order, error) {
	item := &domain.OrderItem{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, sku_id, product_id, seller_id, option_name,
		       unit_price, quantity, feedback_reward
		FROM order_items
		WHERE id = $1
	`, itemID).Scan(&item.ID, &item.OrderID, &item.SKUID, &item.ProductID, &item.SellerID,
		&item.OptionName, &item.UnitPrice, &item.Quantity, &item.FeedbackReward)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, domain.ErrNotFound
		}
		return nil, nil, err
	}

	order, err := r.GetByID(ctx, item.OrderID)
	if err != nil {
		return nil, nil, err
	}
	return item, order, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return r.list(ctx, `WHERE user_id = $1`, userID)
}

func (r *Repository) List(ctx context.Context) ([]domain.Order, error) {
	return r.list(ctx, ``)
}

func (r *Repository) list(ctx context.Context, where string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, status, total, used_points, pay_amount,
		       addr_recipient, addr_phone, addr_line1, addr_line2, addr_zip,
		       created_at, delivered_at, confirmed_at, confirmation_type
		FROM orders `+where+`
		ORDER BY created_at DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrderRows(rows)
		if err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, sku_id, product_id, seller_id, option_name,
		       unit_price, quantity, feedback_reward
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var item domain.OrderItem
		if err := itemRows.Scan(&item.ID, &item.OrderID, &item.SKUID, &item.ProductID, &item.SellerID,
			&item.OptionName, &item.UnitPrice, &item.Quantity, &item.FeedbackReward); err != nil {
			return nil, err
		}
		order := orderMap[item.OrderID]
		order.Items = append(order.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}
	return orders, nil
}

// FinalizePaid commits inventory and advances the order to PAID inside one
// transaction holding the order row lock: every line's stock is decremented
// conditionally or none is. Calling it on an order that is already PAID or
// beyond is a no-op; the returned bool reports whether this call made the
// transition.
func (r *Repository) FinalizePaid(ctx context.Context, orderID string) (*domain.Order, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	status, err := lockStatus(ctx, tx, orderID)
	if err != nil {
		return nil, false, err
	}
	if status.Rank() >= domain.OrderStatusPaid.Rank() {
		order, err := r.GetByID(ctx, orderID)
		return order, false, err
	}

	type line struct {
		skuID string
		qty   int
	}
	var lines []line

	itemRows, err := tx.QueryContext(ctx, `
		SELECT sku_id, quantity FROM order_items WHERE order_id = $1 ORDER BY sku_id
	`, orderID)
	if err != nil {
		return nil, false, err
	}
	for itemRows.Next() {
		var l line
		if err := itemRows.Scan(&l.skuID, &l.qty); err != nil {
			_ = itemRows.Close()
			return nil, false, err
		}
		lines = append(lines, l)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, false, err
	}
	_ = itemRows.Close()

	for _, l := range lines {
		if err := r.catalog.DecrementStock(ctx, tx, l.skuID, l.qty); err != nil {
			if errors.Is(err, catalog.ErrInsufficientStock) {
				return nil, false, fmt.Errorf("sku %s short at finalize: %w", l.skuID, domain.ErrConflict)
			}
			return nil, false, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2
	`, domain.OrderStatusPaid, orderID); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	order, err := r.GetByID(ctx, orderID)
	return order, true, err
}

// Promote applies candidate only if it strictly outranks the current status.
// The row lock keeps concurrent triggers from racing past the rank check.
func (r *Repository) Promote(ctx context.Context, orderID string, candidate domain.OrderStatus) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	changed, err := promoteLocked(ctx, tx, orderID, candidate)
	if err != nil {
		return false, err
	}
	return changed, tx.Commit()
}

// MarkDelivered promotes the order to DELIVERED and stamps delivered_at,
// first set wins. deliveredAt should be the latest of the order's shipment
// delivery timestamps.
func (r *Repository) MarkDelivered(ctx context.Context, orderID string, deliveredAt time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	changed, err := promoteLocked(ctx, tx, orderID, domain.OrderStatusDelivered)
	if err != nil {
		return false, err
	}
	if changed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET delivered_at = COALESCE(delivered_at, $1), updated_at = NOW()
			WHERE id = $2
		`, deliveredAt, orderID); err != nil {
			return false, err
		}
	}
	return changed, tx.Commit()
}

// Confirm promotes a DELIVERED order to CONFIRMED and stamps how it was
// confirmed. Confirming an already-confirmed order is a no-op.
func (r *Repository) Confirm(ctx context.Context, orderID string, ctype domain.ConfirmationType, at time.Time) (*domain.Order, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	status, err := lockStatus(ctx, tx, orderID)
	if err != nil {
		return nil, false, err
	}

	if status == domain.OrderStatusConfirmed {
		order, err := r.GetByID(ctx, orderID)
		return order, false, err
	}
	if status != domain.OrderStatusDelivered {
		return nil, false, fmt.Errorf("order %s is %s, not DELIVERED: %w", orderID, status, domain.ErrConflict)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, confirmed_at = $2, confirmation_type = $3, updated_at = NOW()
		WHERE id = $4
	`, domain.OrderStatusConfirmed, at, ctype, orderID); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	order, err := r.GetByID(ctx, orderID)
	return order, true, err
}

// ListAutoConfirmable returns orders sitting in DELIVERED since before the
// cutoff. Already-confirmed orders are never selected.
func (r *Repository) ListAutoConfirmable(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM orders
		WHERE status = $1 AND delivered_at IS NOT NULL AND delivered_at < $2
		ORDER BY delivered_at
	`, domain.OrderStatusDelivered, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func lockStatus(ctx context.Context, tx *sql.Tx, orderID string) (domain.OrderStatus, error) {
	var status domain.OrderStatus
	err := tx.QueryRowContext(ctx, `
		SELECT status FROM orders WHERE id = $1 FOR UPDATE
	`, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return status, nil
}

func promoteLocked(ctx context.Context, tx *sql.Tx, orderID string, candidate domain.OrderStatus) (bool, error) {
	status, err := lockStatus(ctx, tx, orderID)
	if err != nil {
		return false, err
	}

	if !status.CanPromoteTo(candidate) {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2
	`, candidate, orderID); err != nil {
		return false, err
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row *sql.Row) (*domain.Order, error) {
	order, err := scanOrderRows(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

func scanOrderRows(s rowScanner) (*domain.Order, error) {
	order := &domain.Order{}
	var deliveredAt, confirmedAt sql.NullTime
	var ctype sql.NullString
	err := s.Scan(&order.ID, &order.UserID, &order.Status, &order.Total, &order.UsedPoints,
		&order.PayAmount, &order.Address.Recipient, &order.Address.Phone, &order.Address.Line1,
		&order.Address.Line2, &order.Address.ZipCode, &order.CreatedAt, &deliveredAt, &confirmedAt, &ctype)
	if err != nil {
		return nil, err
	}
	if deliveredAt.Valid {
		order.DeliveredAt = &deliveredAt.Time
	}
	if confirmedAt.Valid {
		order.ConfirmedAt = &confirmedAt.Time
	}
	if ctype.Valid {
		order.ConfirmationType = domain.ConfirmationType(ctype.String)
	}
	return order, nil
}
