package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/marketbase/fulfillment/internal/domain"
)

// GatewayConfirmation is the gateway's echo of a successful capture. The
// reconciler cross-checks the echoed order id and amount before trusting it.
type GatewayConfirmation struct {
	PaymentKey string    `json:"payment_key"`
	OrderID    string    `json:"order_id"`
	Amount     int64     `json:"amount"`
	Method     string    `json:"method"`
	ApprovedAt time.Time `json:"approved_at"`
}

// Gateway confirms captures with the external payment provider.
type Gateway interface {
	Confirm(ctx context.Context, paymentKey, orderID string, amount int64) (*GatewayConfirmation, error)
}

// GatewayClient is the HTTPS client for the provider's confirm endpoint,
// authenticated by the server-held secret. The injected http.Client bounds
// the call; no database transaction is ever held across it.
type GatewayClient struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewGatewayClient(baseURL, secret string, client *http.Client) *GatewayClient {
	return &GatewayClient{baseURL: baseURL, secret: secret, client: client}
}

type confirmPayload struct {
	PaymentKey string `json:"payment_key"`
	OrderID    string `json:"order_id"`
	Amount     int64  `json:"amount"`
}

func (c *GatewayClient) Confirm(ctx context.Context, paymentKey, orderID string, amount int64) (*GatewayConfirmation, error) {
	data, err := json.Marshal(confirmPayload{PaymentKey: paymentKey, OrderID: orderID, Amount: amount})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payments/confirm", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.secret, "")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment gateway: %w: %w", domain.ErrUpstreamFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("payment gateway rejected key %s with status %d: %w",
			paymentKey, resp.StatusCode, domain.ErrConflict)
	default:
		return nil, fmt.Errorf("payment gateway returned status %d: %w", resp.StatusCode, domain.ErrUpstreamFailure)
	}

	var conf GatewayConfirmation
	if err := json.NewDecoder(resp.Body).Decode(&conf); err != nil {
		return nil, fmt.Errorf("decode gateway confirmation: %w", err)
	}
	return &conf, nil
}
