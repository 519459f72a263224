// internal/domain/cart/service.go
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-gateway/internal/config"
	"github.com/your-org/storefront-gateway/internal/domain/pricing"
	"github.com/your-org/storefront-gateway/internal/domain/session"
	"github.com/your-org/storefront-gateway/internal/pkg/kv"
	"github.com/your-org/storefront-gateway/internal/pkg/orderingapi"
)

// PromotionReconciler is notified after every cart mutation so an applied
// promotion can be re-validated or cleared instead of going stale.
type PromotionReconciler interface {
	ReconcileAfterCartChange(ctx context.Context, sess *session.Session, snapshot *orderingapi.CartSnapshot)
}

// Service is the branch-scoped cart store: the single source of truth for what
// is in the cart, reconciled with the backend and partitioned per branch.
type Service struct {
	kv       kv.Store
	sessions *session.Store
	api      *orderingapi.Client
	config   *config.Config
	logger   *logrus.Logger
	promos   PromotionReconciler
}

// NewService creates a new cart service
func NewService(store kv.Store, sessions *session.Store, api *orderingapi.Client, cfg *config.Config, logger *logrus.Logger) *Service {
	return &Service{
		kv:       store,
		sessions: sessions,
		api:      api,
		config:   cfg,
		logger:   logger,
	}
}

// SetPromotionReconciler wires the promotion service in after construction.
func (s *Service) SetPromotionReconciler(promos PromotionReconciler) {
	s.promos = promos
}

// AddRequest is a storefront add-to-cart request. Selections may arrive either
// already normalized or as raw option choices plus the product's attribute
// definitions.
type AddRequest struct {
	ProductID           string                          `json:"productId" binding:"required"`
	Quantity            int                             `json:"quantity" binding:"required,min=1"`
	SpecialRequirements string                          `json:"specialRequirements,omitempty"`
	SelectedAttributes  []orderingapi.SelectedAttribute `json:"selectedAttributes,omitempty"`
	SelectedOptions     map[string][]OptionSelection    `json:"selectedOptions,omitempty"`
	AttributeDefs       []AttributeDefinition           `json:"attributeDefinitions,omitempty"`

	// Stock is the product's known stock quantity; nil when the catalog does
	// not supply one, in which case the configured fallback policy applies.
	Stock *int `json:"stock,omitempty"`

	// ConfirmBranchSwitch acknowledges clearing another branch's cart.
	ConfirmBranchSwitch bool `json:"confirmBranchSwitch,omitempty"`
}

// LoadResult is the outcome of a cart load. Stale is set when a transient
// fetch failure left the previously cached snapshot in place.
type LoadResult struct {
	Snapshot orderingapi.CartSnapshot
	Stale    bool
}

// Load fetches the authoritative cart for the session's selected branch and
// replaces the local cache with it. On a transient backend failure the prior
// cached snapshot is kept rather than wiped.
func (s *Service) Load(ctx context.Context, sess *session.Session) (*LoadResult, error) {
	branchID := sess.SelectedBranchID
	if branchID == "" {
		return &LoadResult{Snapshot: emptySnapshot()}, nil
	}
	if sess.Credentials().Empty() {
		return &LoadResult{Snapshot: emptySnapshot()}, nil
	}

	snapshot, err := s.api.GetCart(ctx, sess.Credentials(), branchID)
	if err != nil {
		cached, cacheErr := s.cachedBranchCart(ctx, sess, branchID)
		if cacheErr != nil {
			return nil, fmt.Errorf("failed to load cart: %w", err)
		}
		s.logger.WithError(err).WithField("branch_id", branchID).
			Warn("cart fetch failed, serving cached snapshot")
		return &LoadResult{Snapshot: cached.Snapshot, Stale: true}, nil
	}

	// A fetch started for one branch must not overwrite state after the user
	// switched to another: re-read the selection before committing.
	current, err := s.sessions.Load(ctx, sess.ID)
	if err == nil && current.SelectedBranchID != branchID {
		return nil, ErrStaleBranch
	}

	tagBranch(snapshot, branchID)
	if err := s.commitSnapshot(ctx, sess, branchID, snapshot); err != nil {
		return nil, err
	}
	return &LoadResult{Snapshot: *snapshot}, nil
}

// Add adds an item to the selected branch's cart. Guards run locally before
// any backend call; the server's returned item list replaces local state.
func (s *Service) Add(ctx context.Context, sess *session.Session, req AddRequest) (*orderingapi.CartSnapshot, error) {
	branchID := sess.SelectedBranchID
	if branchID == "" {
		return nil, ErrNoBranchSelected
	}

	if sess.Credentials().Empty() {
		if !s.config.Session.AllowGuestCheckout {
			return nil, ErrAuthenticationRequired
		}
		if err := s.sessions.EnsureGuest(ctx, sess); err != nil {
			return nil, fmt.Errorf("failed to create guest session: %w", err)
		}
	}

	// Single-branch invariant: at most one branch's cart may be non-empty.
	populated, err := s.populatedBranch(ctx, sess)
	if err != nil {
		return nil, err
	}
	if populated != "" && populated != branchID {
		if !req.ConfirmBranchSwitch {
			return nil, ErrBranchConflict
		}
		if err := s.ClearBranch(ctx, sess, populated); err != nil {
			return nil, fmt.Errorf("failed to clear cart for branch %s: %w", populated, err)
		}
	}

	if err := s.checkStock(req.Quantity, req.Stock); err != nil {
		return nil, err
	}

	selectedAttributes := req.SelectedAttributes
	if len(selectedAttributes) == 0 {
		selectedAttributes = NormalizeSelections(req.SelectedOptions, req.AttributeDefs)
	}

	snapshot, err := s.api.AddCartItem(ctx, sess.Credentials(), orderingapi.AddItemRequest{
		ProductID:           req.ProductID,
		Quantity:            req.Quantity,
		BranchID:            branchID,
		SpecialRequirements: req.SpecialRequirements,
		SelectedAttributes:  selectedAttributes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add item to cart: %w", err)
	}

	tagBranch(snapshot, branchID)
	if err := s.commitSnapshot(ctx, sess, branchID, snapshot); err != nil {
		return nil, err
	}
	s.reconcilePromotions(ctx, sess, snapshot)
	return snapshot, nil
}

// UpdateQuantity changes a line's quantity. Quantities below one delegate to
// removal; a non-positive quantity is never stored.
func (s *Service) UpdateQuantity(ctx context.Context, sess *session.Session, itemID string, quantity int) (*orderingapi.CartSnapshot, error) {
	if quantity < 1 {
		return s.Remove(ctx, sess, itemID)
	}

	branchID := sess.SelectedBranchID
	if branchID == "" {
		return nil, ErrNoBranchSelected
	}

	snapshot, err := s.api.UpdateCartItem(ctx, sess.Credentials(), branchID, itemID, quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to update cart item: %w", err)
	}

	tagBranch(snapshot, branchID)
	if err := s.commitSnapshot(ctx, sess, branchID, snapshot); err != nil {
		return nil, err
	}
	s.reconcilePromotions(ctx, sess, snapshot)
	return snapshot, nil
}

// Remove deletes a line from the selected branch's cart. The local line is
// removed only after the backend confirms the delete.
func (s *Service) Remove(ctx context.Context, sess *session.Session, itemID string) (*orderingapi.CartSnapshot, error) {
	branchID := sess.SelectedBranchID
	if branchID == "" {
		return nil, ErrNoBranchSelected
	}

	if err := s.api.RemoveCartItem(ctx, sess.Credentials(), branchID, itemID); err != nil {
		return nil, fmt.Errorf("failed to remove cart item: %w", err)
	}

	cached, err := s.cachedBranchCart(ctx, sess, branchID)
	if err != nil {
		// No cache to patch; fall back to a fresh authoritative load.
		snapshot, loadErr := s.api.GetCart(ctx, sess.Credentials(), branchID)
		if loadErr != nil {
			return nil, fmt.Errorf("failed to reload cart after removal: %w", loadErr)
		}
		tagBranch(snapshot, branchID)
		if err := s.commitSnapshot(ctx, sess, branchID, snapshot); err != nil {
			return nil, err
		}
		s.reconcilePromotions(ctx, sess, snapshot)
		return snapshot, nil
	}

	snapshot := cached.Snapshot
	kept := snapshot.Items[:0]
	for _, item := range snapshot.Items {
		if item.ID != itemID {
			kept = append(kept, item)
		}
	}
	snapshot.Items = kept
	count := 0
	for _, item := range kept {
		count += item.Quantity
	}
	snapshot.ItemCount = count

	if err := s.commitSnapshot(ctx, sess, branchID, &snapshot); err != nil {
		return nil, err
	}
	s.reconcilePromotions(ctx, sess, &snapshot)
	return &snapshot, nil
}

// Clear deletes the selected branch's cart server-side and locally.
func (s *Service) Clear(ctx context.Context, sess *session.Session) error {
	branchID := sess.SelectedBranchID
	if branchID == "" {
		return ErrNoBranchSelected
	}
	return s.ClearBranch(ctx, sess, branchID)
}

// ClearBranch deletes one branch's cart server-side and locally.
func (s *Service) ClearBranch(ctx context.Context, sess *session.Session, branchID string) error {
	if err := s.api.ClearCart(ctx, sess.Credentials(), branchID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}

	identity := identityKey(sess)
	if err := s.kv.Del(ctx, branchCartKey(identity, branchID)); err != nil {
		return fmt.Errorf("failed to drop cached cart: %w", err)
	}

	populated, err := s.populatedBranch(ctx, sess)
	if err == nil && populated == branchID {
		_ = s.kv.Del(ctx, populatedBranchKey(identity))
	}

	s.reconcilePromotions(ctx, sess, nil)
	return nil
}

// ClearLocal drops cached cart state without touching the backend. Used when
// the identity itself changes (login merge, logout).
func (s *Service) ClearLocal(ctx context.Context, sess *session.Session) error {
	identity := identityKey(sess)
	keys := []string{populatedBranchKey(identity)}
	if sess.SelectedBranchID != "" {
		keys = append(keys, branchCartKey(identity, sess.SelectedBranchID))
	}
	return s.kv.Del(ctx, keys...)
}

// MergeGuestCart folds a guest cart into the authenticated user's cart after
// login and drops the now-invalid guest cache.
func (s *Service) MergeGuestCart(ctx context.Context, sess *session.Session, guestSessionID string) error {
	if !sess.IsAuthenticated() {
		return ErrAuthenticationRequired
	}
	if guestSessionID == "" {
		return nil
	}

	if err := s.api.MergeGuestCart(ctx, sess.Credentials(), guestSessionID); err != nil {
		return fmt.Errorf("failed to merge guest cart: %w", err)
	}

	guestIdentity := "guest:" + guestSessionID
	keys := []string{populatedBranchKey(guestIdentity)}
	if sess.SelectedBranchID != "" {
		keys = append(keys, branchCartKey(guestIdentity, sess.SelectedBranchID))
	}
	return s.kv.Del(ctx, keys...)
}

// Snapshot returns the cached cart for the selected branch, or an empty
// snapshot when no branch is selected or nothing is cached.
func (s *Service) Snapshot(ctx context.Context, sess *session.Session) orderingapi.CartSnapshot {
	branchID := sess.SelectedBranchID
	if branchID == "" {
		return emptySnapshot()
	}
	cached, err := s.cachedBranchCart(ctx, sess, branchID)
	if err != nil {
		return emptySnapshot()
	}
	return cached.Snapshot
}

// ItemCount returns the number of units across the selected branch's lines.
func (s *Service) ItemCount(ctx context.Context, sess *session.Session) int {
	snapshot := s.Snapshot(ctx, sess)
	count := 0
	for _, item := range snapshot.Items {
		count += item.Quantity
	}
	return count
}

// CartTotal sums the line totals of the selected branch's cart.
func (s *Service) CartTotal(ctx context.Context, sess *session.Session) decimal.Decimal {
	snapshot := s.Snapshot(ctx, sess)
	total := decimal.Zero
	for _, item := range snapshot.Items {
		total = total.Add(pricing.ComputeItemTotal(pricingLine(item)))
	}
	return total
}

// DeliveryFee returns the snapshot's delivery fee, zero with no branch.
func (s *Service) DeliveryFee(ctx context.Context, sess *session.Session) decimal.Decimal {
	return s.Snapshot(ctx, sess).DeliveryFee
}

// TaxAmount returns the tax portion of the order total, zero with no branch.
func (s *Service) TaxAmount(ctx context.Context, sess *session.Session) decimal.Decimal {
	return s.OrderTotals(ctx, sess, nil, nil).TaxAmount
}

// OrderTotal returns the full composed order total, zero with no branch.
func (s *Service) OrderTotal(ctx context.Context, sess *session.Session) decimal.Decimal {
	return s.OrderTotals(ctx, sess, nil, nil).Total
}

// OrderTotals composes the order breakdown from the cached snapshot.
func (s *Service) OrderTotals(ctx context.Context, sess *session.Session, discount *pricing.Discount, acceptedOptionalChargeIDs []string) pricing.OrderTotals {
	snapshot := s.Snapshot(ctx, sess)
	return ComposeTotals(&snapshot, discount, acceptedOptionalChargeIDs)
}

// ComposeTotals derives order totals from a cart snapshot.
func ComposeTotals(snapshot *orderingapi.CartSnapshot, discount *pricing.Discount, acceptedOptionalChargeIDs []string) pricing.OrderTotals {
	lines := make([]pricing.Line, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		lines = append(lines, pricingLine(item))
	}
	return pricing.ComputeOrderTotals(pricing.TotalsInput{
		Lines:                     lines,
		DeliveryFee:               snapshot.DeliveryFee,
		TaxRate:                   snapshot.TaxRate,
		ServiceCharges:            snapshot.ServiceCharges,
		AcceptedOptionalChargeIDs: acceptedOptionalChargeIDs,
		Discount:                  discount,
	})
}

// Fingerprint identifies the cart contents a promotion was validated against.
func Fingerprint(snapshot *orderingapi.CartSnapshot) string {
	type lineKey struct {
		ID       string `json:"id"`
		Quantity int    `json:"quantity"`
		Total    string `json:"total"`
	}
	keys := make([]lineKey, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		keys = append(keys, lineKey{
			ID:       item.ID,
			Quantity: item.Quantity,
			Total:    pricing.ComputeItemTotal(pricingLine(item)).String(),
		})
	}
	data, _ := json.Marshal(keys)
	return string(data)
}

// Internal helpers

func emptySnapshot() orderingapi.CartSnapshot {
	return orderingapi.CartSnapshot{Items: []orderingapi.CartItem{}}
}

func pricingLine(item orderingapi.CartItem) pricing.Line {
	return pricing.Line{
		Price:     item.Price,
		Quantity:  item.Quantity,
		ItemTotal: item.ItemTotal,
	}
}

func tagBranch(snapshot *orderingapi.CartSnapshot, branchID string) {
	for i := range snapshot.Items {
		snapshot.Items[i].BranchID = branchID
	}
}

func identityKey(sess *session.Session) string {
	if sess.IsAuthenticated() {
		return "user:" + sess.UserID
	}
	return "guest:" + sess.GuestSessionID
}

func branchCartKey(identity, branchID string) string {
	return fmt.Sprintf("storefront:cart:%s:%s", identity, branchID)
}

func populatedBranchKey(identity string) string {
	return fmt.Sprintf("storefront:cart-branch:%s", identity)
}

func (s *Service) checkStock(quantity int, stock *int) error {
	if stock == nil {
		if s.config.Catalog.StockFallback == config.StockFallbackLimited {
			stock = &s.config.Catalog.StockFallbackLimit
		} else {
			return nil
		}
	}
	if quantity > *stock {
		return fmt.Errorf("insufficient stock, available: %d", *stock)
	}
	return nil
}

func (s *Service) cachedBranchCart(ctx context.Context, sess *session.Session, branchID string) (*BranchCart, error) {
	data, err := s.kv.Get(ctx, branchCartKey(identityKey(sess), branchID))
	if err != nil {
		return nil, err
	}
	var cached BranchCart
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		return nil, fmt.Errorf("failed to decode cached cart: %w", err)
	}
	return &cached, nil
}

// commitSnapshot replaces the local branch cache with the server's snapshot
// and keeps the populated-branch marker in step.
func (s *Service) commitSnapshot(ctx context.Context, sess *session.Session, branchID string, snapshot *orderingapi.CartSnapshot) error {
	identity := identityKey(sess)
	cached := BranchCart{BranchID: branchID, Snapshot: *snapshot, UpdatedAt: time.Now().UTC()}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to encode cart cache: %w", err)
	}
	if err := s.kv.Set(ctx, branchCartKey(identity, branchID), string(data), s.config.Session.CartTTL); err != nil {
		return fmt.Errorf("failed to cache cart: %w", err)
	}

	if len(snapshot.Items) > 0 {
		return s.kv.Set(ctx, populatedBranchKey(identity), branchID, s.config.Session.CartTTL)
	}
	return s.kv.Del(ctx, populatedBranchKey(identity))
}

func (s *Service) populatedBranch(ctx context.Context, sess *session.Session) (string, error) {
	branchID, err := s.kv.Get(ctx, populatedBranchKey(identityKey(sess)))
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read populated branch: %w", err)
	}
	return branchID, nil
}

func (s *Service) reconcilePromotions(ctx context.Context, sess *session.Session, snapshot *orderingapi.CartSnapshot) {
	if s.promos == nil {
		return
	}
	s.promos.ReconcileAfterCartChange(ctx, sess, snapshot)
}
