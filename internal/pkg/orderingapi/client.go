// internal/pkg/orderingapi/client.go
package orderingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/your-org/storefront-gateway/internal/config"
)

// Client is the REST client for the ordering backend. The backend is a black
// box: this client only knows its request/response contracts.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new ordering backend client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL: cfg.Upstream.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Upstream.Timeout,
		},
	}
}

// cartPath returns the cart resource matching the session mode: the backend
// keys authenticated carts by user and guest carts by session id.
func cartPath(creds Credentials) string {
	if creds.IsAuthenticated() {
		return "/cart"
	}
	return "/guest-cart"
}

// GetCart fetches the authoritative cart for a branch.
func (c *Client) GetCart(ctx context.Context, creds Credentials, branchID string) (*CartSnapshot, error) {
	var resp struct {
		envelope
		Data CartSnapshot `json:"data"`
	}
	query := url.Values{"branchId": {branchID}}
	if err := c.do(ctx, creds, http.MethodGet, cartPath(creds), query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// AddCartItem adds a line and returns the server's full replacement cart.
func (c *Client) AddCartItem(ctx context.Context, creds Credentials, req AddItemRequest) (*CartSnapshot, error) {
	var resp struct {
		envelope
		Data CartSnapshot `json:"data"`
	}
	query := url.Values{"branchId": {req.BranchID}}
	if err := c.do(ctx, creds, http.MethodPost, cartPath(creds)+"/items", query, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// UpdateCartItem changes a line's quantity and returns the replacement cart.
func (c *Client) UpdateCartItem(ctx context.Context, creds Credentials, branchID, itemID string, quantity int) (*CartSnapshot, error) {
	var resp struct {
		envelope
		Data CartSnapshot `json:"data"`
	}
	query := url.Values{"branchId": {branchID}}
	body := map[string]int{"quantity": quantity}
	if err := c.do(ctx, creds, http.MethodPut, cartPath(creds)+"/items/"+itemID, query, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// RemoveCartItem deletes a line scoped by branch.
func (c *Client) RemoveCartItem(ctx context.Context, creds Credentials, branchID, itemID string) error {
	var resp envelope
	query := url.Values{"branchId": {branchID}}
	return c.do(ctx, creds, http.MethodDelete, cartPath(creds)+"/items/"+itemID, query, nil, &resp)
}

// ClearCart deletes the whole cart for a branch.
func (c *Client) ClearCart(ctx context.Context, creds Credentials, branchID string) error {
	var resp envelope
	query := url.Values{}
	if branchID != "" {
		query.Set("branchId", branchID)
	}
	return c.do(ctx, creds, http.MethodDelete, cartPath(creds), query, nil, &resp)
}

// MergeGuestCart merges a guest cart into the authenticated user's cart. The
// guest session id is invalid afterwards.
func (c *Client) MergeGuestCart(ctx context.Context, creds Credentials, guestSessionID string) error {
	var resp envelope
	body := map[string]string{"sessionId": guestSessionID}
	return c.do(ctx, creds, http.MethodPost, "/cart/merge", nil, body, &resp)
}

// CreateOrder submits the checkout payload. For card payment the response
// also carries the payment intent's client secret.
func (c *Client) CreateOrder(ctx context.Context, creds Credentials, req OrderRequest) (*OrderResult, error) {
	var resp struct {
		envelope
		Data    Order          `json:"data"`
		Payment *PaymentIntent `json:"payment,omitempty"`
	}
	query := url.Values{"branchId": {req.BranchID}}
	if err := c.do(ctx, creds, http.MethodPost, "/orders", query, req, &resp); err != nil {
		return nil, err
	}
	return &OrderResult{Order: resp.Data, Payment: resp.Payment}, nil
}

// ValidateDiscount validates a promo code against the full order context and
// returns the backend-resolved discount.
func (c *Client) ValidateDiscount(ctx context.Context, creds Credentials, req DiscountRequest) (*DiscountValidation, error) {
	var resp struct {
		envelope
		Data DiscountValidation `json:"data"`
	}
	if err := c.do(ctx, creds, http.MethodPost, "/discounts/validate", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// CheckAvailability asks whether a time slot is orderable for a branch.
func (c *Client) CheckAvailability(ctx context.Context, creds Credentials, branchID string, req AvailabilityRequest) (*Availability, error) {
	var resp struct {
		envelope
		Data Availability `json:"data"`
	}
	path := "/ordering-times/" + url.PathEscape(branchID) + "/check-availability"
	if err := c.do(ctx, creds, http.MethodPost, path, nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// ValidateDelivery asks whether the address is deliverable for the branch.
func (c *Client) ValidateDelivery(ctx context.Context, creds Credentials, req DeliveryCheckRequest) (*DeliveryValidation, error) {
	var resp struct {
		envelope
		Data DeliveryValidation `json:"data"`
	}
	if err := c.do(ctx, creds, http.MethodPost, "/settings/delivery-charges/validate-delivery", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// CalculateDeliveryFee returns the delivery charge for an already validated
// address. Callers must sequence ValidateDelivery before this.
func (c *Client) CalculateDeliveryFee(ctx context.Context, creds Credentials, req DeliveryCheckRequest) (*DeliveryFee, error) {
	var resp struct {
		envelope
		Data DeliveryFee `json:"data"`
	}
	if err := c.do(ctx, creds, http.MethodPost, "/settings/delivery-charges/calculate-checkout", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// LookupPostcode resolves a postcode to candidate addresses.
func (c *Client) LookupPostcode(ctx context.Context, creds Credentials, postcode string) ([]DeliveryAddress, error) {
	var resp struct {
		envelope
		Data []DeliveryAddress `json:"data"`
	}
	if err := c.do(ctx, creds, http.MethodGet, "/addresses/postcode/"+url.PathEscape(postcode), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetPaymentStatus re-checks an order's payment state server-side. Client-side
// payment confirmations are never trusted on their own.
func (c *Client) GetPaymentStatus(ctx context.Context, creds Credentials, orderID string) (*PaymentStatus, error) {
	var resp struct {
		envelope
		Data PaymentStatus `json:"data"`
	}
	if err := c.do(ctx, creds, http.MethodGet, "/orders/"+url.PathEscape(orderID)+"/payment-status", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// do executes one JSON round-trip against the backend.
func (c *Client) do(ctx context.Context, creds Credentials, method, path string, query url.Values, body interface{}, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if creds.IsAuthenticated() {
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	} else if creds.GuestSessionID != "" {
		req.Header.Set("x-session-id", creds.GuestSessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ordering api request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure envelope
		message := http.StatusText(resp.StatusCode)
		if err := json.Unmarshal(data, &failure); err == nil {
			if failure.Error != "" {
				message = failure.Error
			} else if failure.Message != "" {
				message = failure.Message
			}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
