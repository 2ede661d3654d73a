package shipping

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/marketbase/fulfillment/internal/domain"
)

// TrackingEvent is one raw entry of a carrier's event feed.
type TrackingEvent struct {
	StatusText string    `json:"status_text"`
	Location   string    `json:"location"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Carrier pulls the tracking feed for one shipment. The real feed is
// poll-only; there is no push channel.
type Carrier interface {
	Fetch(ctx context.Context, courierCode, trackingNumber string) ([]TrackingEvent, error)
}

// CarrierClient talks to the tracking aggregator over HTTP.
type CarrierClient struct {
	baseURL string
	client  *http.Client
}

func NewCarrierClient(baseURL string, client *http.Client) *CarrierClient {
	return &CarrierClient{baseURL: baseURL, client: client}
}

type feedResponse struct {
	Events []TrackingEvent `json:"events"`
}

func (c *CarrierClient) Fetch(ctx context.Context, courierCode, trackingNumber string) ([]TrackingEvent, error) {
	u := fmt.Sprintf("%s/carriers/%s/tracks/%s", c.baseURL,
		url.PathEscape(courierCode), url.PathEscape(trackingNumber))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("carrier feed: %w: %w", domain.ErrUpstreamFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("carrier feed returned status %d for %s/%s: %w",
			resp.StatusCode, courierCode, trackingNumber, domain.ErrUpstreamFailure)
	}

	var feed feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode carrier feed: %w: %w", domain.ErrUpstreamFailure, err)
	}
	return feed.Events, nil
}
