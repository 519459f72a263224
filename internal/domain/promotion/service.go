// internal/domain/promotion/service.go
package promotion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-gateway/internal/config"
	"github.com/your-org/storefront-gateway/internal/domain/cart"
	"github.com/your-org/storefront-gateway/internal/domain/pricing"
	"github.com/your-org/storefront-gateway/internal/domain/session"
	"github.com/your-org/storefront-gateway/internal/pkg/kv"
	"github.com/your-org/storefront-gateway/internal/pkg/orderingapi"
)

var (
	// ErrEmptyCart is returned when a promo code is applied to an empty cart.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrDiscountNotResolved is returned when the backend validated a code but
	// supplied no absolute discount amount. The discount stays unapplied: the
	// client never derives the amount from a percentage itself.
	ErrDiscountNotResolved = errors.New("discount amount not resolved by the backend")
)

// Applied is a backend-confirmed promotion bound to the cart contents it was
// validated against.
type Applied struct {
	DiscountID      string          `json:"discountId"`
	Code            string          `json:"code"`
	DiscountType    string          `json:"discountType"`
	DiscountValue   decimal.Decimal `json:"discountValue"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	OriginalTotal   decimal.Decimal `json:"originalTotal"`
	NewTotal        decimal.Decimal `json:"newTotal"`
	Savings         decimal.Decimal `json:"savings"`
	DeliveryMethod  string          `json:"deliveryMethod"`
	CartFingerprint string          `json:"cartFingerprint"`
	AppliedAt       time.Time       `json:"appliedAt"`
}

// Service validates promo codes against the backend and keeps the applied
// promotion consistent with the cart it was validated for.
type Service struct {
	kv     kv.Store
	api    *orderingapi.Client
	cart   *cart.Service
	config *config.Config
	logger *logrus.Logger
}

// NewService creates a new promotion service
func NewService(store kv.Store, api *orderingapi.Client, cartService *cart.Service, cfg *config.Config, logger *logrus.Logger) *Service {
	return &Service{
		kv:     store,
		api:    api,
		cart:   cartService,
		config: cfg,
		logger: logger,
	}
}

func promoKey(sess *session.Session) string {
	identity := "guest:" + sess.GuestSessionID
	if sess.IsAuthenticated() {
		identity = "user:" + sess.UserID
	}
	return fmt.Sprintf("storefront:promo:%s:%s", identity, sess.SelectedBranchID)
}

// Apply validates a promo code with full order context and stores the
// backend-resolved discount. Invalid or ineligible codes leave no partial
// discount behind.
func (s *Service) Apply(ctx context.Context, sess *session.Session, code string) (*Applied, error) {
	if sess.SelectedBranchID == "" {
		return nil, cart.ErrNoBranchSelected
	}

	snapshot := s.cart.Snapshot(ctx, sess)
	if len(snapshot.Items) == 0 {
		return nil, ErrEmptyCart
	}

	applied, err := s.validate(ctx, sess, code, &snapshot)
	if err != nil {
		// A failed validation also clears any previously applied promotion.
		_ = s.kv.Del(ctx, promoKey(sess))
		return nil, err
	}

	if err := s.store(ctx, sess, applied); err != nil {
		return nil, err
	}
	return applied, nil
}

// Remove clears the applied promotion.
func (s *Service) Remove(ctx context.Context, sess *session.Session) error {
	return s.kv.Del(ctx, promoKey(sess))
}

// Current returns the applied promotion, or nil when none is applied or the
// stored one no longer matches the cart contents.
func (s *Service) Current(ctx context.Context, sess *session.Session) (*Applied, error) {
	if sess.SelectedBranchID == "" {
		return nil, nil
	}

	data, err := s.kv.Get(ctx, promoKey(sess))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read applied promotion: %w", err)
	}

	var applied Applied
	if err := json.Unmarshal([]byte(data), &applied); err != nil {
		return nil, fmt.Errorf("failed to decode applied promotion: %w", err)
	}

	snapshot := s.cart.Snapshot(ctx, sess)
	if applied.CartFingerprint != cart.Fingerprint(&snapshot) {
		// Stale against current cart contents; treat as unapplied.
		_ = s.kv.Del(ctx, promoKey(sess))
		return nil, nil
	}
	return &applied, nil
}

// Discount returns the applied promotion as a pricing discount, or nil.
func (s *Service) Discount(ctx context.Context, sess *session.Session) *pricing.Discount {
	applied, err := s.Current(ctx, sess)
	if err != nil || applied == nil {
		return nil
	}
	return &pricing.Discount{Amount: applied.DiscountAmount}
}

// ReconcileAfterCartChange re-validates the applied promotion against the new
// cart contents. Failed re-validation clears the promotion: a discount amount
// captured against different contents is never reused.
func (s *Service) ReconcileAfterCartChange(ctx context.Context, sess *session.Session, snapshot *orderingapi.CartSnapshot) {
	data, err := s.kv.Get(ctx, promoKey(sess))
	if errors.Is(err, kv.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.WithError(err).Warn("failed to read applied promotion for reconciliation")
		return
	}

	var applied Applied
	if err := json.Unmarshal([]byte(data), &applied); err != nil {
		_ = s.kv.Del(ctx, promoKey(sess))
		return
	}

	if snapshot == nil || len(snapshot.Items) == 0 {
		_ = s.kv.Del(ctx, promoKey(sess))
		return
	}

	revalidated, err := s.validate(ctx, sess, applied.Code, snapshot)
	if err != nil {
		s.logger.WithError(err).WithField("code", applied.Code).
			Info("promotion no longer valid after cart change, clearing")
		_ = s.kv.Del(ctx, promoKey(sess))
		return
	}

	if err := s.store(ctx, sess, revalidated); err != nil {
		s.logger.WithError(err).Warn("failed to store re-validated promotion")
	}
}

func (s *Service) validate(ctx context.Context, sess *session.Session, code string, snapshot *orderingapi.CartSnapshot) (*Applied, error) {
	totals := cart.ComposeTotals(snapshot, nil, nil)

	validation, err := s.api.ValidateDiscount(ctx, sess.Credentials(), orderingapi.DiscountRequest{
		Code:           code,
		BranchID:       sess.SelectedBranchID,
		OrderTotal:     totals.Total,
		DeliveryMethod: sess.OrderType,
		UserID:         sess.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to validate promo code: %w", err)
	}

	if validation.DiscountAmount == nil {
		return nil, ErrDiscountNotResolved
	}

	return &Applied{
		DiscountID:      validation.DiscountID,
		Code:            validation.Code,
		DiscountType:    validation.DiscountType,
		DiscountValue:   validation.DiscountValue,
		DiscountAmount:  *validation.DiscountAmount,
		OriginalTotal:   validation.OriginalTotal,
		NewTotal:        validation.NewTotal,
		Savings:         validation.Savings,
		DeliveryMethod:  sess.OrderType,
		CartFingerprint: cart.Fingerprint(snapshot),
		AppliedAt:       time.Now().UTC(),
	}, nil
}

func (s *Service) store(ctx context.Context, sess *session.Session, applied *Applied) error {
	data, err := json.Marshal(applied)
	if err != nil {
		return fmt.Errorf("failed to encode applied promotion: %w", err)
	}
	if err := s.kv.Set(ctx, promoKey(sess), string(data), s.config.Session.PromoTTL); err != nil {
		return fmt.Errorf("failed to store applied promotion: %w", err)
	}
	return nil
}
