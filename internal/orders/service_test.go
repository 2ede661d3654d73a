package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/marketbase/fulfillment/internal/catalog"
	"github.com/marketbase/fulfillment/internal/clock"
	"github.com/marketbase/fulfillment/internal/domain"
)

type fakeLedger struct {
	balances map[string]int64
	entries  map[string]int64 // key: user|reason|refKey
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[string]int64{}, entries: map[string]int64{}}
}

func entryKey(userID string, reason domain.LedgerReason, refKey string) string {
	return fmt.Sprintf("%s|%s|%s", userID, reason, refKey)
}

func (l *fakeLedger) Balance(_ context.Context, userID string) (int64, error) {
	return l.balances[userID], nil
}

func (l *fakeLedger) Spend(_ context.Context, userID string, amount int64, reason domain.LedgerReason, refKey string) error {
	key := entryKey(userID, reason, refKey)
	if _, ok := l.entries[key]; ok {
		return nil
	}
	if l.balances[userID] < amount {
		return domain.ErrInsufficientBalance
	}
	l.entries[key] = -amount
	l.balances[userID] -= amount
	return nil
}

func (l *fakeLedger) Accrue(_ context.Context, userID string, amount int64, reason domain.LedgerReason, refKey string) error {
	if amount <= 0 {
		return nil
	}
	key := entryKey(userID, reason, refKey)
	if _, ok := l.entries[key]; ok {
		return nil
	}
	l.entries[key] = amount
	l.balances[userID] += amount
	return nil
}

type fakeStore struct {
	orders    map[string]*domain.Order
	createErr error
	finalized []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: map[string]*domain.Order{}}
}

func (s *fakeStore) Create(_ context.Context, order *domain.Order) error {
	if s.createErr != nil {
		return s.createErr
	}
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *order
	return &cp, nil
}

func (s *fakeStore) ListByUser(_ context.Context, userID string) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeStore) List(_ context.Context) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (s *fakeStore) FinalizePaid(_ context.Context, orderID string) (*domain.Order, bool, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if order.Status.Rank() >= domain.OrderStatusPaid.Rank() {
		cp := *order
		return &cp, false, nil
	}
	order.Status = domain.OrderStatusPaid
	s.finalized = append(s.finalized, orderID)
	cp := *order
	return &cp, true, nil
}

func (s *fakeStore) Promote(_ context.Context, orderID string, candidate domain.OrderStatus) (bool, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !order.Status.CanPromoteTo(candidate) {
		return false, nil
	}
	order.Status = candidate
	return true, nil
}

func (s *fakeStore) MarkDelivered(ctx context.Context, orderID string, deliveredAt time.Time) (bool, error) {
	changed, err := s.Promote(ctx, orderID, domain.OrderStatusDelivered)
	if err != nil || !changed {
		return changed, err
	}
	order := s.orders[orderID]
	if order.DeliveredAt == nil {
		order.DeliveredAt = &deliveredAt
	}
	return true, nil
}

func (s *fakeStore) Confirm(_ context.Context, orderID string, ctype domain.ConfirmationType, at time.Time) (*domain.Order, bool, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if order.Status == domain.OrderStatusConfirmed {
		cp := *order
		return &cp, false, nil
	}
	if order.Status != domain.OrderStatusDelivered {
		return nil, false, domain.ErrConflict
	}
	order.Status = domain.OrderStatusConfirmed
	order.ConfirmedAt = &at
	order.ConfirmationType = ctype
	cp := *order
	return &cp, true, nil
}

func (s *fakeStore) ListAutoConfirmable(_ context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	for id, o := range s.orders {
		if o.Status == domain.OrderStatusDelivered && o.DeliveredAt != nil && o.DeliveredAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type fakeCatalog struct {
	skus map[string]*catalog.SKU // key: productID|optionName
}

func (c *fakeCatalog) ResolveSKU(_ context.Context, productID, optionName string) (*catalog.SKU, error) {
	sku, ok := c.skus[productID+"|"+optionName]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *sku
	return &cp, nil
}

type fakeAddresses struct{}

func (fakeAddresses) Resolve(_ context.Context, _, addressRef string) (*domain.AddressSnapshot, error) {
	if addressRef == "missing" {
		return nil, domain.ErrNotFound
	}
	return &domain.AddressSnapshot{Recipient: "Test User", Line1: "1 Test St", ZipCode: "00001"}, nil
}

type fakePublisher struct {
	events []any
}

func (p *fakePublisher) Publish(_ context.Context, _ string, event any) error {
	p.events = append(p.events, event)
	return nil
}

type fixture struct {
	service   *Service
	store     *fakeStore
	ledger    *fakeLedger
	paid      *fakePublisher
	confirmed *fakePublisher
	now       time.Time
}

func newFixture() *fixture {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		store:     newFakeStore(),
		ledger:    newFakeLedger(),
		paid:      &fakePublisher{},
		confirmed: &fakePublisher{},
		now:       now,
	}
	cat := &fakeCatalog{skus: map[string]*catalog.SKU{
		"prod-1|blue/L": {ID: "sku-1", ProductID: "prod-1", SellerID: "seller-1", OptionName: "blue/L",
			Price: 4500, AddonPrice: 500, FeedbackReward: 100, Stock: 10},
		"prod-2|default": {ID: "sku-2", ProductID: "prod-2", SellerID: "seller-2", OptionName: "default",
			Price: 10000, AddonPrice: 0, FeedbackReward: 300, Stock: 1},
	}}
	f.service = NewService(ServiceConfig{
		Store:              f.store,
		Ledger:             f.ledger,
		Catalog:            cat,
		Addresses:          fakeAddresses{},
		PaidPublisher:      f.paid,
		ConfirmedPublisher: f.confirmed,
		Clock:              clock.Fixed{T: now},
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func TestService_Checkout(t *testing.T) {
	ctx := context.Background()

	t.Run("snapshots price and reward onto items", func(t *testing.T) {
		f := newFixture()
		order, err := f.service.Checkout(ctx, CheckoutRequest{
			UserID:     "user-1",
			AddressRef: "addr-1",
			Lines:      []CheckoutLine{{ProductID: "prod-1", OptionName: "blue/L", Quantity: 2}},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.Status != domain.OrderStatusPending {
			t.Errorf("expected PENDING, got %s", order.Status)
		}
		if order.Total != 10000 {
			t.Errorf("expected total 10000, got %d", order.Total)
		}
		if len(order.Items) != 1 {
			t.Fatalf("expected 1 item, got %d", len(order.Items))
		}
		item := order.Items[0]
		if item.UnitPrice != 5000 || item.FeedbackReward != 100 || item.SellerID != "seller-1" {
			t.Errorf("bad snapshot: %+v", item)
		}
	})

	t.Run("clamps points to balance and total", func(t *testing.T) {
		f := newFixture()
		f.ledger.balances["user-1"] = 12000

		order, err := f.service.Checkout(ctx, CheckoutRequest{
			UserID:      "user-1",
			AddressRef:  "addr-1",
			PointsToUse: 99999,
			Lines:       []CheckoutLine{{ProductID: "prod-1", OptionName: "blue/L", Quantity: 2}},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.UsedPoints != 10000 {
			t.Errorf("expected 10000 points used, got %d", order.UsedPoints)
		}
		if order.PayAmount != 0 {
			t.Errorf("expected pay amount 0, got %d", order.PayAmount)
		}
		if got := f.ledger.balances["user-1"]; got != 2000 {
			t.Errorf("expected balance 2000 after debit, got %d", got)
		}
		if got := f.ledger.entries[entryKey("user-1", domain.ReasonOrderPay, order.ID)]; got != -10000 {
			t.Errorf("expected one -10000 entry keyed to the order, got %d", got)
		}
	})

	t.Run("rejects quantity above available stock", func(t *testing.T) {
		f := newFixture()
		_, err := f.service.Checkout(ctx, CheckoutRequest{
			UserID:     "user-1",
			AddressRef: "addr-1",
			Lines:      []CheckoutLine{{ProductID: "prod-2", OptionName: "default", Quantity: 2}},
		})
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("unknown product option fails with not found", func(t *testing.T) {
		f := newFixture()
		_, err := f.service.Checkout(ctx, CheckoutRequest{
			UserID:     "user-1",
			AddressRef: "addr-1",
			Lines:      []CheckoutLine{{ProductID: "prod-1", OptionName: "green/S", Quantity: 1}},
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("rolls back point debit when order persist fails", func(t *testing.T) {
		f := newFixture()
		f.ledger.balances["user-1"] = 5000
		f.store.createErr = errors.New("db down")

		_, err := f.service.Checkout(ctx, CheckoutRequest{
			UserID:      "user-1",
			AddressRef:  "addr-1",
			PointsToUse: 3000,
			Lines:       []CheckoutLine{{ProductID: "prod-1", OptionName: "blue/L", Quantity: 1}},
		})
		if err == nil {
			t.Fatal("expected an error")
		}
		if got := f.ledger.balances["user-1"]; got != 5000 {
			t.Errorf("expected balance restored to 5000, got %d", got)
		}
	})
}

func TestService_FinalizePaid(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes order paid event once", func(t *testing.T) {
		f := newFixture()
		order, err := f.service.Checkout(ctx, CheckoutRequest{
			UserID:     "user-1",
			AddressRef: "addr-1",
			Lines:      []CheckoutLine{{ProductID: "prod-1", OptionName: "blue/L", Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}

		if err := f.service.FinalizePaid(ctx, order.ID); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if err := f.service.FinalizePaid(ctx, order.ID); err != nil {
			t.Fatalf("second finalize: %v", err)
		}

		if len(f.store.finalized) != 1 {
			t.Errorf("expected one finalize transition, got %d", len(f.store.finalized))
		}
		if len(f.paid.events) != 1 {
			t.Errorf("expected one paid event, got %d", len(f.paid.events))
		}
	})
}

func TestService_RollbackPointHold(t *testing.T) {
	ctx := context.Background()

	t.Run("credits back once no matter how often called", func(t *testing.T) {
		f := newFixture()
		f.ledger.balances["user-1"] = 5000
		order, err := f.service.Checkout(ctx, CheckoutRequest{
			UserID:      "user-1",
			AddressRef:  "addr-1",
			PointsToUse: 3000,
			Lines:       []CheckoutLine{{ProductID: "prod-1", OptionName: "blue/L", Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}
		if got := f.ledger.balances["user-1"]; got != 2000 {
			t.Fatalf("expected balance 2000 after hold, got %d", got)
		}

		for i := 0; i < 3; i++ {
			if err := f.service.RollbackPointHold(ctx, order.ID); err != nil {
				t.Fatalf("rollback %d: %v", i, err)
			}
		}
		if got := f.ledger.balances["user-1"]; got != 5000 {
			t.Errorf("expected balance 5000 after rollback, got %d", got)
		}
	})

	t.Run("refuses to refund once the order is paid", func(t *testing.T) {
		f := newFixture()
		f.ledger.balances["user-1"] = 5000
		order, err := f.service.Checkout(ctx, CheckoutRequest{
			UserID:      "user-1",
			AddressRef:  "addr-1",
			PointsToUse: 3000,
			Lines:       []CheckoutLine{{ProductID: "prod-1", OptionName: "blue/L", Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}
		if err := f.service.FinalizePaid(ctx, order.ID); err != nil {
			t.Fatalf("finalize: %v", err)
		}

		err = f.service.RollbackPointHold(ctx, order.ID)
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict for a paid order, got %v", err)
		}
		if got := f.ledger.balances["user-1"]; got != 2000 {
			t.Errorf("expected hold kept and balance 2000, got %d", got)
		}
	})

	t.Run("no-op for an order without points", func(t *testing.T) {
		f := newFixture()
		order, err := f.service.Checkout(ctx, CheckoutRequest{
			UserID:     "user-1",
			AddressRef: "addr-1",
			Lines:      []CheckoutLine{{ProductID: "prod-1", OptionName: "blue/L", Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}
		if err := f.service.RollbackPointHold(ctx, order.ID); err != nil {
			t.Fatalf("rollback: %v", err)
		}
		if got := f.ledger.balances["user-1"]; got != 0 {
			t.Errorf("expected balance 0, got %d", got)
		}
	})
}

func TestService_ManualConfirm(t *testing.T) {
	ctx := context.Background()

	seedDelivered := func(f *fixture) *domain.Order {
		order, err := f.service.Checkout(ctx, CheckoutRequest{
			UserID:     "user-1",
			AddressRef: "addr-1",
			Lines:      []CheckoutLine{{ProductID: "prod-1", OptionName: "blue/L", Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}
		f.store.orders[order.ID].Status = domain.OrderStatusDelivered
		deliveredAt := f.now.Add(-time.Hour)
		f.store.orders[order.ID].DeliveredAt = &deliveredAt
		return order
	}

	t.Run("stamps manual confirmation", func(t *testing.T) {
		f := newFixture()
		order := seedDelivered(f)

		confirmed, err := f.service.ManualConfirm(ctx, order.ID, "user-1")
		if err != nil {
			t.Fatalf("confirm: %v", err)
		}
		if confirmed.Status != domain.OrderStatusConfirmed {
			t.Errorf("expected CONFIRMED, got %s", confirmed.Status)
		}
		if confirmed.ConfirmationType != domain.ConfirmationManual {
			t.Errorf("expected MANUAL, got %s", confirmed.ConfirmationType)
		}
		if len(f.confirmed.events) != 1 {
			t.Errorf("expected one confirmed event, got %d", len(f.confirmed.events))
		}
	})

	t.Run("another user's order reads as not found", func(t *testing.T) {
		f := newFixture()
		order := seedDelivered(f)

		_, err := f.service.ManualConfirm(ctx, order.ID, "user-2")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("rejects confirm before delivery", func(t *testing.T) {
		f := newFixture()
		order, err := f.service.Checkout(ctx, CheckoutRequest{
			UserID:     "user-1",
			AddressRef: "addr-1",
			Lines:      []CheckoutLine{{ProductID: "prod-1", OptionName: "blue/L", Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}
		_, err = f.service.ManualConfirm(ctx, order.ID, "user-1")
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})
}

func TestService_AutoConfirmDelivered(t *testing.T) {
	ctx := context.Background()

	t.Run("confirms only orders delivered over seven days ago", func(t *testing.T) {
		f := newFixture()

		mkOrder := func(deliveredAgo time.Duration, status domain.OrderStatus) string {
			order, err := f.service.Checkout(ctx, CheckoutRequest{
				UserID:     "user-1",
				AddressRef: "addr-1",
				Lines:      []CheckoutLine{{ProductID: "prod-1", OptionName: "blue/L", Quantity: 1}},
			})
			if err != nil {
				t.Fatalf("checkout: %v", err)
			}
			stored := f.store.orders[order.ID]
			stored.Status = status
			at := f.now.Add(-deliveredAgo)
			stored.DeliveredAt = &at
			return order.ID
		}

		oldDelivered := mkOrder(8*24*time.Hour, domain.OrderStatusDelivered)
		recentDelivered := mkOrder(2*24*time.Hour, domain.OrderStatusDelivered)
		alreadyConfirmed := mkOrder(9*24*time.Hour, domain.OrderStatusConfirmed)

		confirmed, err := f.service.AutoConfirmDelivered(ctx)
		if err != nil {
			t.Fatalf("auto-confirm: %v", err)
		}
		if confirmed != 1 {
			t.Errorf("expected 1 confirmation, got %d", confirmed)
		}
		if f.store.orders[oldDelivered].Status != domain.OrderStatusConfirmed {
			t.Error("expected old delivered order to be confirmed")
		}
		if f.store.orders[oldDelivered].ConfirmationType != domain.ConfirmationAuto {
			t.Error("expected AUTO confirmation type")
		}
		if f.store.orders[recentDelivered].Status != domain.OrderStatusDelivered {
			t.Error("expected recent delivery to stay DELIVERED")
		}
		if f.store.orders[alreadyConfirmed].ConfirmationType != "" {
			t.Error("expected untouched confirmation type on already-confirmed order")
		}
	})

	t.Run("second run is a no-op", func(t *testing.T) {
		f := newFixture()
		order, err := f.service.Checkout(ctx, CheckoutRequest{
			UserID:     "user-1",
			AddressRef: "addr-1",
			Lines:      []CheckoutLine{{ProductID: "prod-1", OptionName: "blue/L", Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}
		stored := f.store.orders[order.ID]
		stored.Status = domain.OrderStatusDelivered
		at := f.now.Add(-8 * 24 * time.Hour)
		stored.DeliveredAt = &at

		if n, err := f.service.AutoConfirmDelivered(ctx); err != nil || n != 1 {
			t.Fatalf("first run: n=%d err=%v", n, err)
		}
		if n, err := f.service.AutoConfirmDelivered(ctx); err != nil || n != 0 {
			t.Fatalf("second run: n=%d err=%v", n, err)
		}
		if len(f.confirmed.events) != 1 {
			t.Errorf("expected one confirmed event total, got %d", len(f.confirmed.events))
		}
	})
}
