// internal/pkg/orderingapi/types.go
package orderingapi

import (
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/your-org/storefront-gateway/internal/domain/pricing"
)

// Credentials selects the backend authentication mode for a call. Exactly one
// of Token (authenticated) or GuestSessionID (guest) is expected to be set.
type Credentials struct {
	Token          string
	GuestSessionID string
}

// IsAuthenticated reports whether the credentials carry a bearer token.
func (c Credentials) IsAuthenticated() bool {
	return c.Token != ""
}

// IsGuest reports whether the credentials carry a guest session id.
func (c Credentials) IsGuest() bool {
	return c.Token == "" && c.GuestSessionID != ""
}

// Empty reports whether no session identity exists at all.
func (c Credentials) Empty() bool {
	return c.Token == "" && c.GuestSessionID == ""
}

// APIError is a non-2xx backend response.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("ordering api: %d %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports a 401/403 response.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsClientError reports a 4xx response other than auth failures.
func (e *APIError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && !e.IsUnauthorized()
}

// IsServerError reports a 5xx response.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500
}

// envelope is the backend's standard response wrapper.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SelectedItem is one chosen add-on within an attribute.
type SelectedItem struct {
	ItemID    string          `json:"itemId"`
	ItemName  string          `json:"itemName"`
	ItemPrice decimal.Decimal `json:"itemPrice"`
	Quantity  int             `json:"quantity"`
}

// SelectedAttribute is the canonical normalized form of a product attribute
// selection sent to and returned by the backend.
type SelectedAttribute struct {
	AttributeID   string         `json:"attributeId"`
	AttributeName string         `json:"attributeName"`
	AttributeType string         `json:"attributeType"`
	SelectedItems []SelectedItem `json:"selectedItems"`
}

// CartItem is a server-confirmed cart line. The backend is authoritative for
// the line id, price structure and item total.
type CartItem struct {
	ID                  string              `json:"id"`
	ProductID           string              `json:"productId"`
	ProductName         string              `json:"productName,omitempty"`
	Quantity            int                 `json:"quantity"`
	SelectedAttributes  []SelectedAttribute `json:"selectedAttributes,omitempty"`
	SpecialRequirements string              `json:"specialRequirements,omitempty"`
	BranchID            string              `json:"branchId"`
	ItemTotal           decimal.Decimal     `json:"itemTotal"`
	Price               pricing.Price       `json:"price"`

	// Stock is nil when the backend does not track quantity for the product.
	Stock *int `json:"stock,omitempty"`
}

// CartSnapshot is the authoritative cart state for one branch.
type CartSnapshot struct {
	Items          []CartItem              `json:"items"`
	Subtotal       decimal.Decimal         `json:"subtotal"`
	DeliveryFee    decimal.Decimal         `json:"deliveryFee"`
	TaxRate        decimal.Decimal         `json:"taxRate"`
	ServiceCharges []pricing.ServiceCharge `json:"serviceCharges,omitempty"`
	ItemCount      int                     `json:"itemCount"`
	OrderType      string                  `json:"orderType,omitempty"`
}

// AddItemRequest is the structured payload for adding a line to the cart.
type AddItemRequest struct {
	ProductID           string              `json:"productId"`
	Quantity            int                 `json:"quantity"`
	BranchID            string              `json:"branchId"`
	SpecialRequirements string              `json:"specialRequirements,omitempty"`
	SelectedAttributes  []SelectedAttribute `json:"selectedAttributes,omitempty"`
}

// DeliveryAddress is a checkout delivery destination.
type DeliveryAddress struct {
	Street      string  `json:"street"`
	City        string  `json:"city"`
	State       string  `json:"state,omitempty"`
	Postcode    string  `json:"postcode"`
	Country     string  `json:"country"`
	FullAddress string  `json:"fullAddress,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
}

// IsZero reports whether no address fields are populated.
func (a DeliveryAddress) IsZero() bool {
	return a.Street == "" && a.City == "" && a.Postcode == "" && a.FullAddress == ""
}

// DiscountRequest carries the full validation context: eligibility depends on
// the order total and delivery method, not just the code.
type DiscountRequest struct {
	Code           string          `json:"code"`
	BranchID       string          `json:"branchId"`
	OrderTotal     decimal.Decimal `json:"orderTotal"`
	DeliveryMethod string          `json:"deliveryMethod"`
	UserID         string          `json:"userId,omitempty"`
}

// DiscountValidation is the backend's authoritative discount resolution.
// DiscountAmount is a pointer: an absent amount means the promotion is not
// applied, never a signal to compute it client-side.
type DiscountValidation struct {
	DiscountID     string           `json:"discountId"`
	Code           string           `json:"code"`
	DiscountType   string           `json:"discountType"`
	DiscountValue  decimal.Decimal  `json:"discountValue"`
	DiscountAmount *decimal.Decimal `json:"discountAmount,omitempty"`
	OriginalTotal  decimal.Decimal  `json:"originalTotal"`
	NewTotal       decimal.Decimal  `json:"newTotal"`
	Savings        decimal.Decimal  `json:"savings"`
}

// AvailabilityRequest asks whether a time slot can be ordered for.
type AvailabilityRequest struct {
	OrderType     string `json:"orderType"`
	RequestedTime string `json:"requestedTime"`
}

// Availability is the backend's time-slot answer.
type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// DeliveryCheckRequest is the shared payload for delivery validation and fee
// calculation.
type DeliveryCheckRequest struct {
	BranchID   string          `json:"branchId"`
	OrderTotal decimal.Decimal `json:"orderTotal"`
	Address    DeliveryAddress `json:"address"`
}

// DeliveryValidation is the backend's deliverability answer.
type DeliveryValidation struct {
	Deliverable bool   `json:"deliverable"`
	Reason      string `json:"reason,omitempty"`
}

// DeliveryFee is the calculated delivery charge for a validated address.
type DeliveryFee struct {
	Fee decimal.Decimal `json:"fee"`
}

// ContactDetails identify the person placing the order.
type ContactDetails struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// OrderLine is one submitted order line.
type OrderLine struct {
	ProductID          string              `json:"productId"`
	Quantity           int                 `json:"quantity"`
	Price              pricing.Price       `json:"price"`
	Notes              string              `json:"notes,omitempty"`
	SelectedAttributes []SelectedAttribute `json:"selectedAttributes,omitempty"`
}

// OrderRequest is the full checkout submission payload.
type OrderRequest struct {
	BranchID        string              `json:"branchId"`
	Items           []OrderLine         `json:"items"`
	OrderType       string              `json:"orderType"`
	RequestedTime   string              `json:"requestedTime"`
	DeliveryAddress *DeliveryAddress    `json:"deliveryAddress,omitempty"`
	Contact         ContactDetails      `json:"contact"`
	PaymentMethod   string              `json:"paymentMethod"`
	CouponCode      string              `json:"couponCode,omitempty"`
	Totals          pricing.OrderTotals `json:"totals"`
}

// Order is the backend's created-order record.
type Order struct {
	ID          string          `json:"id"`
	OrderNumber string          `json:"orderNumber"`
	Status      string          `json:"status"`
	Total       decimal.Decimal `json:"total"`
}

// PaymentIntent carries the hosted-payment client secret for card orders.
type PaymentIntent struct {
	ClientSecret string `json:"clientSecret"`
}

// OrderResult is the order-creation response: the order plus, for card
// payment, the payment intent.
type OrderResult struct {
	Order   Order          `json:"order"`
	Payment *PaymentIntent `json:"payment,omitempty"`
}

// PaymentStatus is the server-side payment state for an order.
type PaymentStatus struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Paid    bool   `json:"paid"`
}
