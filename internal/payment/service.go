package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/marketbase/fulfillment/internal/clock"
	"github.com/marketbase/fulfillment/internal/domain"
)

// PaymentStore is the persistence surface of the reconciler. Implemented by
// *Repository.
type PaymentStore interface {
	GetByKey(ctx context.Context, paymentKey string) (*domain.Payment, error)
	GetByOrder(ctx context.Context, orderID string) (*domain.Payment, error)
	Create(ctx context.Context, p *domain.Payment) (*domain.Payment, error)
}

// OrderLifecycle is the slice of the order service the reconciler drives.
type OrderLifecycle interface {
	Get(ctx context.Context, orderID string) (*domain.Order, error)
	FinalizePaid(ctx context.Context, orderID string) error
	RollbackPointHold(ctx context.Context, orderID string) error
}

// Service validates and idempotently records gateway confirmations.
type Service struct {
	store   PaymentStore
	orders  OrderLifecycle
	gateway Gateway
	clock   clock.Clock
	logger  *slog.Logger
}

func NewService(store PaymentStore, orders OrderLifecycle, gateway Gateway, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{store: store, orders: orders, gateway: gateway, clock: clk, logger: logger}
}

// zeroPayKey derives the synthetic payment key for orders fully covered by
// points, where no gateway key exists. One per order, so retried zero-pay
// confirmations collapse onto the same record.
func zeroPayKey(orderID string) string {
	return "ZERO-" + orderID
}

// Confirm validates a gateway confirmation against the order and finalizes
// it. Retried confirmations with the same key return the prior result; a key
// seen on a different order is a hard conflict.
func (s *Service) Confirm(ctx context.Context, orderID, paymentKey string, amount int64) (*domain.Payment, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.PayAmount == 0 {
		return s.confirmZeroPay(ctx, order)
	}

	if amount != order.PayAmount {
		return nil, fmt.Errorf("amount %d does not match order pay amount %d: %w",
			amount, order.PayAmount, domain.ErrConflict)
	}
	if paymentKey == "" {
		return nil, fmt.Errorf("payment key is required: %w", domain.ErrConflict)
	}

	// A duplicate confirmation must not hit the gateway again.
	existing, err := s.store.GetByKey(ctx, paymentKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.OrderID != orderID {
			return nil, fmt.Errorf("payment key %s already used for order %s: %w",
				paymentKey, existing.OrderID, domain.ErrConflict)
		}
		if existing.Amount != amount {
			return nil, fmt.Errorf("payment key %s recorded with amount %d, got %d: %w",
				paymentKey, existing.Amount, amount, domain.ErrConflict)
		}
		if err := s.orders.FinalizePaid(ctx, orderID); err != nil {
			return nil, err
		}
		return existing, nil
	}

	// Already finalized without a record under this key would mean a second
	// key for the same order; the unique order constraint surfaces it below
	// as a conflict instead of double-charging.
	if order.Status.Rank() >= domain.OrderStatusPaid.Rank() {
		prior, err := s.store.GetByOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return prior, nil
		}
	}

	conf, err := s.gateway.Confirm(ctx, paymentKey, orderID, amount)
	if err != nil {
		return nil, err
	}
	if conf.OrderID != orderID || conf.Amount != amount {
		return nil, fmt.Errorf("gateway echoed order %s amount %d, expected order %s amount %d: %w",
			conf.OrderID, conf.Amount, orderID, amount, domain.ErrConflict)
	}

	record, err := s.store.Create(ctx, &domain.Payment{
		ID:         uuid.New().String(),
		OrderID:    orderID,
		PaymentKey: paymentKey,
		Amount:     amount,
		Method:     conf.Method,
		ApprovedAt: conf.ApprovedAt,
		CreatedAt:  s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	if record.PaymentKey != paymentKey || record.Amount != amount {
		return nil, fmt.Errorf("order %s already paid under key %s: %w",
			orderID, record.PaymentKey, domain.ErrConflict)
	}

	if err := s.orders.FinalizePaid(ctx, orderID); err != nil {
		return nil, err
	}

	s.logger.Info("payment confirmed", "order_id", orderID, "payment_key", paymentKey, "amount", amount)
	return record, nil
}

// confirmZeroPay records the synthetic zero-value payment for orders fully
// covered by points. No gateway call happens, but the path is idempotent the
// same way.
func (s *Service) confirmZeroPay(ctx context.Context, order *domain.Order) (*domain.Payment, error) {
	record, err := s.store.Create(ctx, &domain.Payment{
		ID:         uuid.New().String(),
		OrderID:    order.ID,
		PaymentKey: zeroPayKey(order.ID),
		Amount:     0,
		Method:     "POINTS",
		ApprovedAt: s.clock.Now(),
		CreatedAt:  s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}

	if err := s.orders.FinalizePaid(ctx, order.ID); err != nil {
		return nil, err
	}

	s.logger.Info("zero-pay order confirmed", "order_id", order.ID)
	return record, nil
}

// Fail handles the widget's failure/cancellation notification: the point
// hold is released. Safe to call any number of times.
func (s *Service) Fail(ctx context.Context, orderID string) error {
	if err := s.orders.RollbackPointHold(ctx, orderID); err != nil {
		return err
	}
	s.logger.Info("payment failed, point hold released", "order_id", orderID)
	return nil
}
