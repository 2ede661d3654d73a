package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marketbase/fulfillment/internal/clock"
	"github.com/marketbase/fulfillment/internal/domain"
)

// rewardWindow is how long after delivery a review still pays out.
const rewardWindow = 7 * 24 * time.Hour

// Store persists the review together with its reward credit; the pairing is
// the store's atomicity contract, not the service's.
type Store interface {
	Create(ctx context.Context, f *domain.Feedback, reward int64) error
	ListByProduct(ctx context.Context, productID string) ([]domain.Feedback, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Feedback, error)
}

type OrderStore interface {
	GetItem(ctx context.Context, itemID string) (*domain.OrderItem, *domain.Order, error)
}

// DeliveryReader resolves when a seller's part of an order actually arrived.
type DeliveryReader interface {
	SellerDeliveredAt(ctx context.Context, orderID, sellerID string) (*time.Time, error)
}

type Service struct {
	store      Store
	orders     OrderStore
	deliveries DeliveryReader
	clock      clock.Clock
	logger     *slog.Logger
}

func NewService(store Store, orders OrderStore, deliveries DeliveryReader, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		orders:     orders,
		deliveries: deliveries,
		clock:      clk,
		logger:     logger,
	}
}

type SubmitRequest struct {
	UserID      string `json:"user_id"`
	OrderItemID string `json:"order_item_id"`
	Rating      int    `json:"rating"`
	Content     string `json:"content"`
}

// Submit records a review and pays the reward snapshotted on the order item.
// Rewards only flow for manually confirmed orders reviewed within the window
// after the seller's shipment arrived; the ledger ref key is the order item,
// so a retried submit can never pay twice.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*domain.Feedback, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, fmt.Errorf("rating must be between 1 and 5: %w", domain.ErrConflict)
	}

	item, order, err := s.orders.GetItem(ctx, req.OrderItemID)
	if err != nil {
		return nil, err
	}
	if order.UserID != req.UserID {
		return nil, domain.ErrNotFound
	}
	if order.ConfirmationType != domain.ConfirmationManual {
		return nil, fmt.Errorf("order %s is not manually confirmed: %w", order.ID, domain.ErrConflict)
	}

	deliveredAt, err := s.effectiveDeliveredAt(ctx, order, item)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if now.After(deliveredAt.Add(rewardWindow)) {
		return nil, fmt.Errorf("review window for item %s closed at %s: %w",
			item.ID, deliveredAt.Add(rewardWindow).Format(time.RFC3339), domain.ErrConflict)
	}

	f := &domain.Feedback{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		OrderItemID: item.ID,
		ProductID:   item.ProductID,
		Rating:      req.Rating,
		Content:     req.Content,
		CreatedAt:   now,
	}
	reward := item.FeedbackReward * int64(item.Quantity)
	if err := s.store.Create(ctx, f, reward); err != nil {
		return nil, err
	}

	s.logger.Info("feedback recorded",
		"feedback_id", f.ID,
		"user_id", req.UserID,
		"product_id", item.ProductID,
		"reward", reward)

	return f, nil
}

// effectiveDeliveredAt prefers the seller's own shipment delivery over the
// order-level timestamp, so a late replacement shipment reopens the window
// only for that seller's items.
func (s *Service) effectiveDeliveredAt(ctx context.Context, order *domain.Order, item *domain.OrderItem) (time.Time, error) {
	sellerAt, err := s.deliveries.SellerDeliveredAt(ctx, order.ID, item.SellerID)
	if err != nil {
		return time.Time{}, err
	}
	if sellerAt != nil {
		return *sellerAt, nil
	}
	if order.DeliveredAt != nil {
		return *order.DeliveredAt, nil
	}
	return time.Time{}, fmt.Errorf("order %s has no delivery record: %w", order.ID, domain.ErrConflict)
}

func (s *Service) ListByProduct(ctx context.Context, productID string) ([]domain.Feedback, error) {
	return s.store.ListByProduct(ctx, productID)
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]domain.Feedback, error) {
	return s.store.ListByUser(ctx, userID)
}
