// internal/domain/checkout/service.go
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-gateway/internal/config"
	"github.com/your-org/storefront-gateway/internal/domain/cart"
	"github.com/your-org/storefront-gateway/internal/domain/delivery"
	"github.com/your-org/storefront-gateway/internal/domain/pricing"
	"github.com/your-org/storefront-gateway/internal/domain/promotion"
	"github.com/your-org/storefront-gateway/internal/domain/session"
	"github.com/your-org/storefront-gateway/internal/pkg/kv"
	"github.com/your-org/storefront-gateway/internal/pkg/orderingapi"
)

// Payment methods accepted at checkout.
const (
	PaymentMethodCash = "cash"
	PaymentMethodCard = "card"
)

// Outcome values tell the caller what to do next. The service reports a
// decision; it never performs navigation itself.
const (
	OutcomeCompleted       = "completed"
	OutcomeAwaitingPayment = "awaiting_payment"
	OutcomeAuthRequired    = "auth_required"
	OutcomeCancelled       = "cancelled"
	OutcomeFailed          = "failed"
)

// processingTTL bounds how long a checkout lock can be held, covering the
// hosted card payment flow with margin.
const processingTTL = 10 * time.Minute

// submitFailedMessage is shown for transient submission failures.
const submitFailedMessage = "Something went wrong placing your order. Please try again."

var (
	// ErrEmptyCart rejects checkout with nothing in the cart.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrAlreadyProcessing is returned when a submission is already in flight
	// for this session. Repeat confirms are no-ops, not duplicate orders.
	ErrAlreadyProcessing = errors.New("an order is already being processed")

	// ErrNoPendingPayment is returned when payment completion is reported with
	// no card order awaiting payment.
	ErrNoPendingPayment = errors.New("no payment is awaiting completion")
)

// ValidationError carries per-field checkout validation messages.
type ValidationError struct {
	Fields map[string]string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("checkout validation failed for %d field(s)", len(e.Fields))
}

// Details is everything the customer supplies on the checkout form.
type Details struct {
	RequestedTime             string                       `json:"requestedTime"`
	FirstName                 string                       `json:"firstName"`
	LastName                  string                       `json:"lastName,omitempty"`
	Email                     string                       `json:"email,omitempty"`
	Phone                     string                       `json:"phone,omitempty"`
	Address                   *orderingapi.DeliveryAddress `json:"deliveryAddress,omitempty"`
	PaymentMethod             string                       `json:"paymentMethod"`
	AcceptTerms               bool                         `json:"acceptTerms"`
	AcceptedOptionalChargeIDs []string                     `json:"acceptedOptionalChargeIds,omitempty"`
}

// Result is the decision a checkout call resolved to.
type Result struct {
	Outcome        string              `json:"outcome"`
	RedirectTo     string              `json:"redirectTo,omitempty"`
	Message        string              `json:"message,omitempty"`
	Order          *orderingapi.Order  `json:"order,omitempty"`
	ClientSecret   string              `json:"clientSecret,omitempty"`
	Totals         pricing.OrderTotals `json:"totals"`
	TotalsMismatch bool                `json:"totalsMismatch,omitempty"`
}

// Summary is the checkout page's view of the order before submission.
type Summary struct {
	Snapshot  orderingapi.CartSnapshot `json:"cart"`
	Totals    pricing.OrderTotals      `json:"totals"`
	Formatted pricing.FormattedTotals  `json:"formattedTotals"`
	Promotion *promotion.Applied       `json:"promotion,omitempty"`
	Quote     *delivery.Quote          `json:"deliveryQuote,omitempty"`
}

// Service orchestrates checkout: validation, totals, submission and the two
// payment flows.
type Service struct {
	kv       kv.Store
	sessions *session.Store
	api      *orderingapi.Client
	cart     *cart.Service
	promos   *promotion.Service
	delivery *delivery.Service
	config   *config.Config
	logger   *logrus.Logger
}

// NewService creates a new checkout service
func NewService(store kv.Store, sessions *session.Store, api *orderingapi.Client, cartService *cart.Service, promos *promotion.Service, deliveryService *delivery.Service, cfg *config.Config, logger *logrus.Logger) *Service {
	return &Service{
		kv:       store,
		sessions: sessions,
		api:      api,
		cart:     cartService,
		promos:   promos,
		delivery: deliveryService,
		config:   cfg,
		logger:   logger,
	}
}

func lockKey(sessionID string) string {
	return fmt.Sprintf("storefront:checkout-lock:%s", sessionID)
}

func pendingOrderKey(sessionID string) string {
	return fmt.Sprintf("storefront:pending-order:%s", sessionID)
}

// Summarize assembles the pre-submission checkout view: cached cart, the
// still-valid promotion, the current delivery quote and composed totals.
func (s *Service) Summarize(ctx context.Context, sess *session.Session, acceptedChargeIDs []string) (*Summary, error) {
	snapshot := s.cart.Snapshot(ctx, sess)

	applied, err := s.promos.Current(ctx, sess)
	if err != nil {
		return nil, err
	}

	var promoCode string
	var discount *pricing.Discount
	if applied != nil {
		promoCode = applied.Code
		discount = &pricing.Discount{Amount: applied.DiscountAmount}
	}

	quote, err := s.currentQuote(ctx, sess, &snapshot, sess.LastAddress, promoCode)
	if err != nil {
		return nil, err
	}

	totals := composeTotals(&snapshot, discount, acceptedChargeIDs, quote, sess.OrderType)
	return &Summary{
		Snapshot:  snapshot,
		Totals:    totals,
		Formatted: totals.Formatted(s.config.Currency.Symbol),
		Promotion: applied,
		Quote:     quote,
	}, nil
}

// CheckAvailability asks the backend whether the requested time slot can still
// be ordered for.
func (s *Service) CheckAvailability(ctx context.Context, sess *session.Session, requestedTime string) (*orderingapi.Availability, error) {
	if sess.SelectedBranchID == "" {
		return nil, cart.ErrNoBranchSelected
	}
	return s.api.CheckAvailability(ctx, sess.Credentials(), sess.SelectedBranchID, orderingapi.AvailabilityRequest{
		OrderType:     sess.OrderType,
		RequestedTime: requestedTime,
	})
}

// Confirm validates the checkout form and submits the order. Cash orders
// complete immediately; card orders return a client secret and leave the cart
// untouched until the payment is confirmed.
func (s *Service) Confirm(ctx context.Context, sess *session.Session, details Details) (*Result, error) {
	if sess.SelectedBranchID == "" {
		return nil, cart.ErrNoBranchSelected
	}

	snapshot := s.cart.Snapshot(ctx, sess)
	if len(snapshot.Items) == 0 {
		return nil, ErrEmptyCart
	}

	if details.Address == nil && sess.LastAddress != nil {
		details.Address = sess.LastAddress
	}

	if verr := s.validateFields(sess, &details); verr != nil {
		return nil, verr
	}

	applied, err := s.promos.Current(ctx, sess)
	if err != nil {
		return nil, err
	}
	var promoCode string
	var discount *pricing.Discount
	if applied != nil {
		promoCode = applied.Code
		discount = &pricing.Discount{Amount: applied.DiscountAmount}
	}

	// A fee computed for a different address, branch or cart must never reach
	// the order payload: re-resolve against the submitted details.
	var quote *delivery.Quote
	if sess.OrderType == session.OrderTypeDelivery {
		quote, err = s.currentQuote(ctx, sess, &snapshot, details.Address, promoCode)
		if err != nil {
			return nil, err
		}
		if quote == nil || !quote.Deliverable {
			reason := delivery.RetryMessage
			if quote != nil && quote.Reason != "" {
				reason = quote.Reason
			}
			return nil, &ValidationError{Fields: map[string]string{"deliveryAddress": reason}}
		}
	}

	availability, err := s.CheckAvailability(ctx, sess, details.RequestedTime)
	if err != nil {
		return s.submissionFailure(ctx, sess, err)
	}
	if !availability.Available {
		reason := availability.Reason
		if reason == "" {
			reason = "the selected time slot is no longer available"
		}
		return nil, &ValidationError{Fields: map[string]string{"requestedTime": reason}}
	}

	acquired, err := s.kv.SetNX(ctx, lockKey(sess.ID), "1", processingTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire checkout lock: %w", err)
	}
	if !acquired {
		return nil, ErrAlreadyProcessing
	}

	totals := composeTotals(&snapshot, discount, details.AcceptedOptionalChargeIDs, quote, sess.OrderType)

	result, err := s.api.CreateOrder(ctx, sess.Credentials(), s.buildOrderRequest(sess, &snapshot, details, promoCode, totals))
	if err != nil {
		s.releaseLock(ctx, sess)
		return s.submissionFailure(ctx, sess, err)
	}

	mismatch := !result.Order.Total.IsZero() && !result.Order.Total.Equal(totals.Total)
	if mismatch {
		s.logger.WithFields(logrus.Fields{
			"order_id":     result.Order.ID,
			"local_total":  totals.Total.String(),
			"server_total": result.Order.Total.String(),
		}).Error("order total diverged from server-computed total")
	}

	if details.PaymentMethod == PaymentMethodCash {
		s.finalize(ctx, sess)
		return &Result{
			Outcome:        OutcomeCompleted,
			RedirectTo:     "/order-status/" + result.Order.ID,
			Order:          &result.Order,
			Totals:         totals,
			TotalsMismatch: mismatch,
		}, nil
	}

	if result.Payment == nil || result.Payment.ClientSecret == "" {
		s.releaseLock(ctx, sess)
		s.logger.WithField("order_id", result.Order.ID).Error("card order created without a payment intent")
		return &Result{Outcome: OutcomeFailed, Message: submitFailedMessage, Totals: totals}, nil
	}

	if err := s.kv.Set(ctx, pendingOrderKey(sess.ID), result.Order.ID, processingTTL); err != nil {
		s.releaseLock(ctx, sess)
		return nil, fmt.Errorf("failed to record pending order: %w", err)
	}

	return &Result{
		Outcome:        OutcomeAwaitingPayment,
		Order:          &result.Order,
		ClientSecret:   result.Payment.ClientSecret,
		Totals:         totals,
		TotalsMismatch: mismatch,
	}, nil
}

// CompletePayment re-checks the payment state server-side before treating a
// card order as done. The provider's client-side callback alone never clears
// the cart.
func (s *Service) CompletePayment(ctx context.Context, sess *session.Session) (*Result, error) {
	orderID, err := s.kv.Get(ctx, pendingOrderKey(sess.ID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNoPendingPayment
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending order: %w", err)
	}

	status, err := s.api.GetPaymentStatus(ctx, sess.Credentials(), orderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("payment status check failed")
		return &Result{Outcome: OutcomeFailed, Message: "Unable to confirm your payment right now. Please try again."}, nil
	}

	if !status.Paid {
		_ = s.kv.Del(ctx, pendingOrderKey(sess.ID))
		s.releaseLock(ctx, sess)
		return &Result{Outcome: OutcomeFailed, Message: "Your payment was not completed. Your cart has been kept."}, nil
	}

	_ = s.kv.Del(ctx, pendingOrderKey(sess.ID))
	s.finalize(ctx, sess)
	return &Result{
		Outcome:    OutcomeCompleted,
		RedirectTo: "/order-status/" + orderID,
	}, nil
}

// CancelPayment abandons a card payment. The cart and applied promotion stay
// intact so the customer can retry.
func (s *Service) CancelPayment(ctx context.Context, sess *session.Session) (*Result, error) {
	_ = s.kv.Del(ctx, pendingOrderKey(sess.ID))
	s.releaseLock(ctx, sess)
	return &Result{Outcome: OutcomeCancelled, Message: "Payment cancelled. Your cart has been kept."}, nil
}

func (s *Service) validateFields(sess *session.Session, details *Details) *ValidationError {
	fields := map[string]string{}

	if details.RequestedTime == "" {
		fields["requestedTime"] = "please choose a time slot"
	}
	if details.FirstName == "" {
		fields["firstName"] = "first name is required"
	}
	if !details.AcceptTerms {
		fields["acceptTerms"] = "please accept the terms and conditions"
	}
	if details.PaymentMethod != PaymentMethodCash && details.PaymentMethod != PaymentMethodCard {
		fields["paymentMethod"] = "please choose a payment method"
	}
	if !sess.IsAuthenticated() {
		if details.Email == "" {
			fields["email"] = "email is required"
		}
		if details.Phone == "" {
			fields["phone"] = "phone number is required"
		}
	}
	if sess.OrderType == session.OrderTypeDelivery {
		if details.Address == nil || details.Address.IsZero() {
			fields["deliveryAddress"] = "delivery address is required"
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// currentQuote returns a delivery quote matching the current dependency set,
// resolving a fresh one when none is cached. Collection orders have no quote.
func (s *Service) currentQuote(ctx context.Context, sess *session.Session, snapshot *orderingapi.CartSnapshot, address *orderingapi.DeliveryAddress, promoCode string) (*delivery.Quote, error) {
	if sess.OrderType != session.OrderTypeDelivery {
		return nil, nil
	}

	subtotal := cart.ComposeTotals(snapshot, nil, nil).Subtotal
	fingerprint := delivery.Fingerprint(sess.OrderType, sess.SelectedBranchID, address, subtotal, promoCode)

	quote, err := s.delivery.Current(ctx, sess, fingerprint)
	if err != nil {
		return nil, err
	}
	if quote != nil {
		return quote, nil
	}

	quote, err = s.delivery.Resolve(ctx, sess, subtotal, address, promoCode)
	if errors.Is(err, delivery.ErrStaleQuote) {
		return quote, nil
	}
	return quote, err
}

func (s *Service) buildOrderRequest(sess *session.Session, snapshot *orderingapi.CartSnapshot, details Details, promoCode string, totals pricing.OrderTotals) orderingapi.OrderRequest {
	lines := make([]orderingapi.OrderLine, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		lines = append(lines, orderingapi.OrderLine{
			ProductID:          item.ProductID,
			Quantity:           item.Quantity,
			Price:              item.Price,
			Notes:              item.SpecialRequirements,
			SelectedAttributes: item.SelectedAttributes,
		})
	}

	req := orderingapi.OrderRequest{
		BranchID:      sess.SelectedBranchID,
		Items:         lines,
		OrderType:     sess.OrderType,
		RequestedTime: details.RequestedTime,
		Contact: orderingapi.ContactDetails{
			FirstName: details.FirstName,
			LastName:  details.LastName,
			Email:     details.Email,
			Phone:     details.Phone,
		},
		PaymentMethod: details.PaymentMethod,
		CouponCode:    promoCode,
		Totals:        totals,
	}
	if sess.OrderType == session.OrderTypeDelivery {
		req.DeliveryAddress = details.Address
	}
	return req
}

// submissionFailure maps a backend error to a checkout decision. The cart is
// left intact on every failure path.
func (s *Service) submissionFailure(ctx context.Context, sess *session.Session, err error) (*Result, error) {
	var apiErr *orderingapi.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsUnauthorized():
			if serr := s.sessions.SetReturnURL(ctx, sess, "/checkout"); serr != nil {
				s.logger.WithError(serr).Warn("failed to record checkout return url")
			}
			return &Result{
				Outcome:    OutcomeAuthRequired,
				RedirectTo: "/auth/login",
				Message:    "Please sign in to complete your order.",
			}, nil
		case apiErr.IsClientError():
			return &Result{Outcome: OutcomeFailed, Message: apiErr.Message}, nil
		}
	}

	s.logger.WithError(err).Error("order submission failed")
	return &Result{Outcome: OutcomeFailed, Message: submitFailedMessage}, nil
}

// finalize clears the ordered cart, the applied promotion and the checkout
// lock after a confirmed order.
func (s *Service) finalize(ctx context.Context, sess *session.Session) {
	if err := s.cart.Clear(ctx, sess); err != nil {
		s.logger.WithError(err).Warn("failed to clear cart after order, dropping local copy")
		_ = s.cart.ClearLocal(ctx, sess)
	}
	if err := s.promos.Remove(ctx, sess); err != nil {
		s.logger.WithError(err).Warn("failed to clear applied promotion after order")
	}
	_ = s.delivery.Invalidate(ctx, sess)
	s.releaseLock(ctx, sess)
}

func (s *Service) releaseLock(ctx context.Context, sess *session.Session) {
	if err := s.kv.Del(ctx, lockKey(sess.ID)); err != nil {
		s.logger.WithError(err).Warn("failed to release checkout lock")
	}
}

// composeTotals folds the resolved delivery fee into the snapshot before
// composing: the snapshot's own fee only applies when no quote supersedes it.
func composeTotals(snapshot *orderingapi.CartSnapshot, discount *pricing.Discount, acceptedChargeIDs []string, quote *delivery.Quote, orderType string) pricing.OrderTotals {
	adjusted := *snapshot
	if orderType == session.OrderTypeDelivery {
		if quote != nil && quote.Deliverable {
			adjusted.DeliveryFee = quote.Fee
		}
	} else {
		adjusted.DeliveryFee = decimal.Zero
	}
	return cart.ComposeTotals(&adjusted, discount, acceptedChargeIDs)
}
