package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marketbase/fulfillment/internal/catalog"
	"github.com/marketbase/fulfillment/internal/clock"
	"github.com/marketbase/fulfillment/internal/domain"
)

// autoConfirmAfter is how long an order may sit in DELIVERED before the
// scheduler confirms it on the user's behalf.
const autoConfirmAfter = 7 * 24 * time.Hour

// Store is the persistence surface the lifecycle service drives. Implemented
// by *Repository.
type Store interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	FinalizePaid(ctx context.Context, orderID string) (*domain.Order, bool, error)
	Promote(ctx context.Context, orderID string, candidate domain.OrderStatus) (bool, error)
	MarkDelivered(ctx context.Context, orderID string, deliveredAt time.Time) (bool, error)
	Confirm(ctx context.Context, orderID string, ctype domain.ConfirmationType, at time.Time) (*domain.Order, bool, error)
	ListAutoConfirmable(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Ledger is the slice of the point journal checkout and rollback need.
type Ledger interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Spend(ctx context.Context, userID string, amount int64, reason domain.LedgerReason, refKey string) error
	Accrue(ctx context.Context, userID string, amount int64, reason domain.LedgerReason, refKey string) error
}

// Catalog resolves product/option selections to stock-keeping units.
type Catalog interface {
	ResolveSKU(ctx context.Context, productID, optionName string) (*catalog.SKU, error)
}

// Publisher emits an order event; nil-safe at the call sites so the service
// runs without a broker in tests and local setups.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Service struct {
	store              Store
	ledger             Ledger
	catalog            Catalog
	addresses          AddressBook
	paidPublisher      Publisher
	confirmedPublisher Publisher
	clock              clock.Clock
	logger             *slog.Logger
}

type ServiceConfig struct {
	Store              Store
	Ledger             Ledger
	Catalog            Catalog
	Addresses          AddressBook
	PaidPublisher      Publisher
	ConfirmedPublisher Publisher
	Clock              clock.Clock
	Logger             *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		store:              cfg.Store,
		ledger:             cfg.Ledger,
		catalog:            cfg.Catalog,
		addresses:          cfg.Addresses,
		paidPublisher:      cfg.PaidPublisher,
		confirmedPublisher: cfg.ConfirmedPublisher,
		clock:              cfg.Clock,
		logger:             cfg.Logger,
	}
}

type CheckoutLine struct {
	ProductID  string `json:"product_id"`
	OptionName string `json:"option_name"`
	Quantity   int    `json:"quantity"`
}

type CheckoutRequest struct {
	UserID      string         `json:"user_id"`
	AddressRef  string         `json:"address_ref"`
	PointsToUse int64          `json:"points_to_use"`
	Lines       []CheckoutLine `json:"lines"`
}

// Checkout creates a PENDING order with price and reward snapshots, and
// debits any used points up front keyed by the new order id. Stock is only
// soft-checked here; FinalizePaid holds the authoritative decrement.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*domain.Order, error) {
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("checkout needs at least one line: %w", domain.ErrConflict)
	}

	address, err := s.addresses.Resolve(ctx, req.UserID, req.AddressRef)
	if err != nil {
		return nil, err
	}

	orderID := uuid.New().String()
	var items []domain.OrderItem
	var total int64
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("quantity must be positive for product %s: %w", line.ProductID, domain.ErrConflict)
		}
		sku, err := s.catalog.ResolveSKU(ctx, line.ProductID, line.OptionName)
		if err != nil {
			return nil, err
		}
		if sku.Stock < line.Quantity {
			return nil, fmt.Errorf("product %s option %q has %d in stock, %d requested: %w",
				line.ProductID, line.OptionName, sku.Stock, line.Quantity, domain.ErrConflict)
		}

		unitPrice := sku.UnitPrice()
		total += unitPrice * int64(line.Quantity)
		items = append(items, domain.OrderItem{
			ID:             uuid.New().String(),
			OrderID:        orderID,
			SKUID:          sku.ID,
			ProductID:      sku.ProductID,
			SellerID:       sku.SellerID,
			OptionName:     sku.OptionName,
			UnitPrice:      unitPrice,
			Quantity:       line.Quantity,
			FeedbackReward: sku.FeedbackReward,
		})
	}

	usedPoints := req.PointsToUse
	if usedPoints < 0 {
		usedPoints = 0
	}
	if usedPoints > 0 {
		balance, err := s.ledger.Balance(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if usedPoints > balance {
			usedPoints = balance
		}
	}
	if usedPoints > total {
		usedPoints = total
	}

	if usedPoints > 0 {
		if err := s.ledger.Spend(ctx, req.UserID, usedPoints, domain.ReasonOrderPay, orderID); err != nil {
			return nil, err
		}
	}

	order := &domain.Order{
		ID:         orderID,
		UserID:     req.UserID,
		Status:     domain.OrderStatusPending,
		Items:      items,
		Total:      total,
		UsedPoints: usedPoints,
		PayAmount:  total - usedPoints,
		Address:    *address,
		CreatedAt:  s.clock.Now(),
	}

	if err := s.store.Create(ctx, order); err != nil {
		// The point hold is already taken; give it back before failing.
		if usedPoints > 0 {
			if rbErr := s.ledger.Accrue(ctx, req.UserID, usedPoints, domain.ReasonOrderCancel, orderID); rbErr != nil {
				s.logger.Error("failed to roll back point hold after checkout failure",
					"error", rbErr, "order_id", orderID, "user_id", req.UserID)
			}
		}
		return nil, err
	}

	s.logger.Info("order created", "order_id", order.ID, "user_id", order.UserID,
		"total", order.Total, "used_points", order.UsedPoints, "pay_amount", order.PayAmount)
	return order, nil
}

// FinalizePaid commits stock and advances the order to PAID. Idempotent: a
// second call for an already-paid order does nothing and publishes nothing.
func (s *Service) FinalizePaid(ctx context.Context, orderID string) error {
	order, changed, err := s.store.FinalizePaid(ctx, orderID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	s.logger.Info("order finalized", "order_id", order.ID, "pay_amount", order.PayAmount)

	if s.paidPublisher != nil {
		event := domain.OrderPaidEvent{
			OrderID:   order.ID,
			UserID:    order.UserID,
			PayAmount: order.PayAmount,
			Timestamp: s.clock.Now(),
		}
		if err := s.paidPublisher.Publish(ctx, order.ID, event); err != nil {
			s.logger.Error("failed to publish order paid event", "error", err, "order_id", order.ID)
		}
	}
	return nil
}

// RollbackPointHold credits back any points debited at checkout. Keyed by
// the order id, so calling it repeatedly credits once. Only a PENDING order
// still has a hold to release; a failure signal arriving after the order is
// paid is a conflict, not a refund.
func (s *Service) RollbackPointHold(ctx context.Context, orderID string) error {
	order, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status.Rank() >= domain.OrderStatusPaid.Rank() {
		return fmt.Errorf("order %s is already %s: %w", order.ID, order.Status, domain.ErrConflict)
	}
	if order.UsedPoints == 0 {
		return nil
	}
	if err := s.ledger.Accrue(ctx, order.UserID, order.UsedPoints, domain.ReasonOrderCancel, order.ID); err != nil {
		return err
	}
	s.logger.Info("point hold rolled back", "order_id", order.ID, "user_id", order.UserID, "points", order.UsedPoints)
	return nil
}

// Promote is the gate every status writer goes through. Lower or equal
// ranks are silently ignored.
func (s *Service) Promote(ctx context.Context, orderID string, candidate domain.OrderStatus) error {
	changed, err := s.store.Promote(ctx, orderID, candidate)
	if err != nil {
		return err
	}
	if changed {
		s.logger.Info("order promoted", "order_id", orderID, "status", candidate)
	}
	return nil
}

// MarkDelivered promotes to DELIVERED with the supplied timestamp, which the
// shipment sync computes as the latest of the order's shipment deliveries.
func (s *Service) MarkDelivered(ctx context.Context, orderID string, deliveredAt time.Time) error {
	changed, err := s.store.MarkDelivered(ctx, orderID, deliveredAt)
	if err != nil {
		return err
	}
	if changed {
		s.logger.Info("order delivered", "order_id", orderID, "delivered_at", deliveredAt)
	}
	return nil
}

// ManualConfirm is the user acknowledging delivery. Only manual confirmation
// opens the feedback reward window.
func (s *Service) ManualConfirm(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	order, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.ErrNotFound
	}

	order, changed, err := s.store.Confirm(ctx, orderID, domain.ConfirmationManual, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info("order confirmed", "order_id", order.ID, "confirmation_type", domain.ConfirmationManual)
		s.publishConfirmed(ctx, order)
	}
	return order, nil
}

// AutoConfirmDelivered promotes orders delivered more than seven days ago.
// Safe to run twice: re-selection misses confirmed orders and Confirm is
// rank-gated anyway. Returns the number of orders confirmed.
func (s *Service) AutoConfirmDelivered(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-autoConfirmAfter)
	ids, err := s.store.ListAutoConfirmable(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	confirmed := 0
	for _, id := range ids {
		order, changed, err := s.store.Confirm(ctx, id, domain.ConfirmationAuto, s.clock.Now())
		if err != nil {
			if errors.Is(err, domain.ErrConflict) {
				// Promoted by someone else between select and confirm.
				continue
			}
			s.logger.Error("auto-confirm failed", "error", err, "order_id", id)
			continue
		}
		if changed {
			confirmed++
			s.logger.Info("order auto-confirmed", "order_id", id)
			s.publishConfirmed(ctx, order)
		}
	}
	return confirmed, nil
}

func (s *Service) publishConfirmed(ctx context.Context, order *domain.Order) {
	if s.confirmedPublisher == nil {
		return
	}
	event := domain.OrderConfirmedEvent{
		OrderID:          order.ID,
		UserID:           order.UserID,
		ConfirmationType: order.ConfirmationType,
		Timestamp:        s.clock.Now(),
	}
	if err := s.confirmedPublisher.Publish(ctx, order.ID, event); err != nil {
		s.logger.Error("failed to publish order confirmed event", "error", err, "order_id", order.ID)
	}
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.store.GetByID(ctx, orderID)
}

// ListByUser returns a user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return s.store.ListByUser(ctx, userID)
}

// ListAll returns every order, used by the operational CSV export.
func (s *Service) ListAll(ctx context.Context) ([]domain.Order, error) {
	return s.store.List(ctx)
}
