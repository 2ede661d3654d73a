package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/marketbase/fulfillment/internal/domain"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// SKU is a concrete stock-keeping unit resolved from a product and option
// selection, with the price and reward the checkout snapshot is taken from.
type SKU struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	SellerID       string `json:"seller_id"`
	OptionName     string `json:"option_name"`
	Price          int64  `json:"price"`
	AddonPrice     int64  `json:"addon_price"`
	FeedbackReward int64  `json:"feedback_reward"`
	Stock          int    `json:"stock"`
}

// UnitPrice is the price a checkout line is snapshotted at.
func (s SKU) UnitPrice() int64 { return s.Price + s.AddonPrice }

// DBTX lets the stock decrement run either on the pool or inside the
// caller's order transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ResolveSKU maps a product id and option selection to its stock-keeping
// unit. Returns domain.ErrNotFound when the combination does not exist.
func (r *Repository) ResolveSKU(ctx context.Context, productID, optionName string) (*SKU, error) {
	sku := &SKU{}
	err := r.db.QueryRowContext(ctx, `
		SELECT s.id, s.product_id, p.seller_id, s.option_name, s.price, s.addon_price, s.feedback_reward, s.stock
		FROM product_skus s
		JOIN products p ON p.id = s.product_id
		WHERE s.product_id = $1 AND s.option_name = $2
	`, productID, optionName).Scan(
		&sku.ID, &sku.ProductID, &sku.SellerID, &sku.OptionName,
		&sku.Price, &sku.AddonPrice, &sku.FeedbackReward, &sku.Stock,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return sku, nil
}

// DecrementStock commits inventory with a conditional decrement evaluated
// by the database, never a read-modify-write in the application. Zero rows
// affected means the stock is short.
func (r *Repository) DecrementStock(ctx context.Context, tx DBTX, skuID string, quantity int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE product_skus
		SET stock = stock - $2
		WHERE id = $1 AND stock >= $2
	`, skuID, quantity)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrInsufficientStock
	}
	return nil
}
