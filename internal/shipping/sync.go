package shipping

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/marketbase/fulfillment/internal/clock"
	"github.com/marketbase/fulfillment/internal/domain"
)

// ShipmentStore is the persistence surface the sync needs.
type ShipmentStore interface {
	ListUnresolved(ctx context.Context) ([]domain.Shipment, error)
	AppendEvents(ctx context.Context, events []domain.ShipmentEvent) error
	UpdateStatus(ctx context.Context, id string, status domain.ShipmentStatus, deliveredAt *time.Time, syncedAt time.Time) error
	OrderDelivery(ctx context.Context, orderID string) (bool, time.Time, error)
}

// OrderPromoter advances the owning order as its shipments move.
type OrderPromoter interface {
	Promote(ctx context.Context, orderID string, candidate domain.OrderStatus) error
	MarkDelivered(ctx context.Context, orderID string, deliveredAt time.Time) error
}

// Syncer polls the carrier feed for every undelivered shipment and folds
// the result back into shipment and order state. One failing shipment never
// stops the rest of the batch.
type Syncer struct {
	store   ShipmentStore
	carrier Carrier
	orders  OrderPromoter
	clock   clock.Clock
	logger  *slog.Logger

	syncedCounter  metric.Int64Counter
	failureCounter metric.Int64Counter
}

func NewSyncer(store ShipmentStore, carrier Carrier, orders OrderPromoter, clk clock.Clock, logger *slog.Logger) *Syncer {
	meter := otel.Meter("fulfillment/shipping")
	synced, _ := meter.Int64Counter("shipment_sync_processed_total",
		metric.WithDescription("Shipments processed by the tracking sync"))
	failures, _ := meter.Int64Counter("shipment_sync_failures_total",
		metric.WithDescription("Shipments skipped due to carrier or store errors"))

	return &Syncer{
		store:          store,
		carrier:        carrier,
		orders:         orders,
		clock:          clk,
		logger:         logger,
		syncedCounter:  synced,
		failureCounter: failures,
	}
}

// Run performs one sync pass. It returns the first listing error; per-shipment
// errors are logged and counted but do not abort the pass.
func (s *Syncer) Run(ctx context.Context) error {
	shipments, err := s.store.ListUnresolved(ctx)
	if err != nil {
		return err
	}

	for _, shipment := range shipments {
		if err := s.syncOne(ctx, shipment); err != nil {
			s.failureCounter.Add(ctx, 1)
			s.logger.Error("shipment sync failed",
				"error", err,
				"shipment_id", shipment.ID,
				"tracking_number", shipment.TrackingNumber)
			continue
		}
		s.syncedCounter.Add(ctx, 1)
	}

	s.logger.Info("shipment sync pass complete", "shipments", len(shipments))
	return nil
}

func (s *Syncer) syncOne(ctx context.Context, shipment domain.Shipment) error {
	// A delivered shipment comes back here only when its order has not
	// caught up yet, because an earlier order write failed. Reconcile the
	// order without another carrier call.
	if shipment.Status == domain.ShipmentStatusDelivered {
		return s.advanceOrder(ctx, shipment.OrderID, shipment.Status)
	}

	feed, err := s.carrier.Fetch(ctx, shipment.CourierCode, shipment.TrackingNumber)
	if err != nil {
		return err
	}
	if len(feed) == 0 {
		return nil
	}

	events := make([]domain.ShipmentEvent, 0, len(feed))
	latest := feed[0]
	for _, e := range feed {
		if e.OccurredAt.After(latest.OccurredAt) {
			latest = e
		}
		events = append(events, domain.ShipmentEvent{
			TrackingNumber: shipment.TrackingNumber,
			StatusText:     e.StatusText,
			Location:       e.Location,
			Level:          MovementLevel(e.StatusText),
			OccurredAt:     e.OccurredAt,
		})
	}
	if err := s.store.AppendEvents(ctx, events); err != nil {
		return err
	}

	level := MovementLevel(latest.StatusText)
	status := domain.StatusForMovement(level)

	var deliveredAt *time.Time
	if status == domain.ShipmentStatusDelivered {
		t := latest.OccurredAt
		deliveredAt = &t
	}
	if err := s.store.UpdateStatus(ctx, shipment.ID, status, deliveredAt, s.clock.Now()); err != nil {
		return err
	}
	if status == shipment.Status {
		return nil
	}

	s.logger.Info("shipment moved",
		"shipment_id", shipment.ID,
		"order_id", shipment.OrderID,
		"from", shipment.Status,
		"to", status,
		"level", level)

	return s.advanceOrder(ctx, shipment.OrderID, status)
}

// advanceOrder mirrors shipment movement onto the order. Any movement past
// READY puts the order in transit; the order only becomes delivered once all
// of its shipments are, stamped with the latest delivery time among them.
func (s *Syncer) advanceOrder(ctx context.Context, orderID string, status domain.ShipmentStatus) error {
	if status == domain.ShipmentStatusReady {
		return nil
	}

	if err := s.orders.Promote(ctx, orderID, domain.OrderStatusInTransit); err != nil {
		return err
	}
	if status != domain.ShipmentStatusDelivered {
		return nil
	}

	allDelivered, latest, err := s.store.OrderDelivery(ctx, orderID)
	if err != nil {
		return err
	}
	if !allDelivered {
		return nil
	}
	return s.orders.MarkDelivered(ctx, orderID, latest)
}
