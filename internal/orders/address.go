package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/marketbase/fulfillment/internal/domain"
)

// AddressBook resolves a user's saved address into the shipping snapshot
// stored on the order at checkout time.
type AddressBook interface {
	Resolve(ctx context.Context, userID, addressRef string) (*domain.AddressSnapshot, error)
}

// AddressClient talks to the address-book collaborator over HTTP.
type AddressClient struct {
	baseURL string
	client  *http.Client
}

func NewAddressClient(baseURL string, client *http.Client) *AddressClient {
	return &AddressClient{baseURL: baseURL, client: client}
}

func (c *AddressClient) Resolve(ctx context.Context, userID, addressRef string) (*domain.AddressSnapshot, error) {
	url := fmt.Sprintf("%s/users/%s/addresses/%s", c.baseURL, userID, addressRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("address book: %w: %w", domain.ErrUpstreamFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("address %s for user %s: %w", addressRef, userID, domain.ErrNotFound)
	default:
		return nil, fmt.Errorf("address book returned status %d: %w", resp.StatusCode, domain.ErrUpstreamFailure)
	}

	var snapshot domain.AddressSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	return &snapshot, nil
}
