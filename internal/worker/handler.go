package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/marketbase/fulfillment/internal/domain"
)

// NotificationHandler turns order lifecycle events into user emails. Email
// is best-effort: a failed send is logged and the event is still committed,
// so a flaky mail service never wedges the consumer group.
type NotificationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

func (h *NotificationHandler) HandleOrderPaid(ctx context.Context, payload []byte) error {
	var event domain.OrderPaidEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("dropping malformed order paid event", "error", err)
		return nil
	}

	h.logger.Info("processing order paid event", "order_id", event.OrderID, "user_id", event.UserID)

	body := map[string]string{
		"to":      event.UserID + "@example.com",
		"subject": "Payment received for order " + event.OrderID,
		"body": fmt.Sprintf("We received your payment of %d for order %s. Your items are being prepared for shipment.",
			event.PayAmount, event.OrderID),
	}
	if err := h.sendEmail(ctx, body); err != nil {
		h.logger.Error("failed to send payment email", "error", err, "order_id", event.OrderID)
	}
	return nil
}

func (h *NotificationHandler) HandleOrderConfirmed(ctx context.Context, payload []byte) error {
	var event domain.OrderConfirmedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("dropping malformed order confirmed event", "error", err)
		return nil
	}

	h.logger.Info("processing order confirmed event",
		"order_id", event.OrderID, "user_id", event.UserID, "confirmation_type", event.ConfirmationType)

	text := fmt.Sprintf("Your order %s is confirmed. Thanks for shopping with us!", event.OrderID)
	if event.ConfirmationType == domain.ConfirmationManual {
		text = fmt.Sprintf("Your order %s is confirmed. Leave a review within 7 days of delivery to earn reward points.", event.OrderID)
	}

	body := map[string]string{
		"to":      event.UserID + "@example.com",
		"subject": "Order confirmed: " + event.OrderID,
		"body":    text,
	}
	if err := h.sendEmail(ctx, body); err != nil {
		h.logger.Error("failed to send confirmation email", "error", err, "order_id", event.OrderID)
	}
	return nil
}

func (h *NotificationHandler) sendEmail(ctx context.Context, body map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
