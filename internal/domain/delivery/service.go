// internal/domain/delivery/service.go
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-gateway/internal/config"
	"github.com/your-org/storefront-gateway/internal/domain/session"
	"github.com/your-org/storefront-gateway/internal/pkg/kv"
	"github.com/your-org/storefront-gateway/internal/pkg/orderingapi"
)

// ErrStaleQuote marks a quote whose dependencies (address, branch, order type,
// cart total, promo state) changed while the backend calls were in flight.
var ErrStaleQuote = errors.New("delivery quote is stale")

// RetryMessage is the user-facing message for transient validation failures.
const RetryMessage = "Unable to verify delivery to this address right now. Please try again."

// Quote is the resolved deliverability and fee for one dependency state.
// Deliverability is entirely delegated to the backend: there is no client-side
// geofencing.
type Quote struct {
	Deliverable bool            `json:"deliverable"`
	Reason      string          `json:"reason,omitempty"`
	Fee         decimal.Decimal `json:"fee"`
	Fingerprint string          `json:"fingerprint"`
	QuotedAt    time.Time       `json:"quotedAt"`
}

// Service answers "is delivery possible to this address, and what does it
// cost" by sequencing the backend's validate and calculate calls.
type Service struct {
	kv     kv.Store
	api    *orderingapi.Client
	config *config.Config
	logger *logrus.Logger
}

// NewService creates a new delivery service
func NewService(store kv.Store, api *orderingapi.Client, cfg *config.Config, logger *logrus.Logger) *Service {
	return &Service{
		kv:     store,
		api:    api,
		config: cfg,
		logger: logger,
	}
}

func quoteKey(sessionID string) string {
	return fmt.Sprintf("storefront:delivery-quote:%s", sessionID)
}

// Fingerprint identifies the dependency set a fee was computed for. Any change
// in these inputs invalidates a previously computed fee.
func Fingerprint(orderType, branchID string, address *orderingapi.DeliveryAddress, cartTotal decimal.Decimal, promoCode string) string {
	var addressPart string
	if address != nil {
		addressPart = strings.Join([]string{
			address.Street, address.City, address.Postcode, address.Country, address.FullAddress,
		}, "|")
	}
	return strings.Join([]string{orderType, branchID, addressPart, cartTotal.String(), promoCode}, "#")
}

// Resolve runs the validate-then-calculate sequence for the given address and
// order subtotal. The fee is never produced without a preceding successful
// validation, and any failure resolves to "not deliverable" rather than
// "deliverable with fee 0".
func (s *Service) Resolve(ctx context.Context, sess *session.Session, subtotal decimal.Decimal, address *orderingapi.DeliveryAddress, promoCode string) (*Quote, error) {
	branchID := sess.SelectedBranchID
	if branchID == "" {
		return nil, fmt.Errorf("no branch selected")
	}

	fingerprint := Fingerprint(sess.OrderType, branchID, address, subtotal, promoCode)
	quote := &Quote{Fingerprint: fingerprint, QuotedAt: time.Now().UTC()}

	if address == nil || address.IsZero() {
		quote.Reason = "delivery address required"
		return s.commit(ctx, sess, quote)
	}

	check := orderingapi.DeliveryCheckRequest{
		BranchID:   branchID,
		OrderTotal: subtotal,
		Address:    *address,
	}

	validation, err := s.api.ValidateDelivery(ctx, sess.Credentials(), check)
	if err != nil {
		s.logger.WithError(err).WithField("branch_id", branchID).Warn("delivery validation failed")
		quote.Reason = RetryMessage
		return s.commit(ctx, sess, quote)
	}
	if !validation.Deliverable {
		quote.Reason = validation.Reason
		return s.commit(ctx, sess, quote)
	}

	fee, err := s.api.CalculateDeliveryFee(ctx, sess.Credentials(), check)
	if err != nil {
		s.logger.WithError(err).WithField("branch_id", branchID).Warn("delivery fee calculation failed")
		quote.Reason = RetryMessage
		return s.commit(ctx, sess, quote)
	}

	quote.Deliverable = true
	quote.Fee = fee.Fee
	return s.commit(ctx, sess, quote)
}

// Current returns the stored quote only if it still matches the given
// dependency fingerprint; a fee computed for a previous address is never
// surfaced after the address changed.
func (s *Service) Current(ctx context.Context, sess *session.Session, fingerprint string) (*Quote, error) {
	data, err := s.kv.Get(ctx, quoteKey(sess.ID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read delivery quote: %w", err)
	}

	var quote Quote
	if err := json.Unmarshal([]byte(data), &quote); err != nil {
		return nil, fmt.Errorf("failed to decode delivery quote: %w", err)
	}
	if quote.Fingerprint != fingerprint {
		return nil, nil
	}
	return &quote, nil
}

// Invalidate drops the stored quote.
func (s *Service) Invalidate(ctx context.Context, sess *session.Session) error {
	return s.kv.Del(ctx, quoteKey(sess.ID))
}

// commit stores the quote unless its dependency set went stale while the
// backend calls were in flight.
func (s *Service) commit(ctx context.Context, sess *session.Session, quote *Quote) (*Quote, error) {
	data, err := json.Marshal(quote)
	if err != nil {
		return nil, fmt.Errorf("failed to encode delivery quote: %w", err)
	}

	stored, err := s.kv.Get(ctx, quoteKey(sess.ID))
	if err == nil {
		var existing Quote
		if json.Unmarshal([]byte(stored), &existing) == nil && existing.QuotedAt.After(quote.QuotedAt) {
			// A newer quote landed while this one was in flight; keep it.
			return quote, ErrStaleQuote
		}
	}

	if err := s.kv.Set(ctx, quoteKey(sess.ID), string(data), s.config.Session.CartTTL); err != nil {
		return nil, fmt.Errorf("failed to store delivery quote: %w", err)
	}
	return quote, nil
}
