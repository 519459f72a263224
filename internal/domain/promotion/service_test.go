// internal/domain/promotion/service_test.go
package promotion

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/storefront-gateway/internal/config"
	"github.com/your-org/storefront-gateway/internal/domain/cart"
	"github.com/your-org/storefront-gateway/internal/domain/pricing"
	"github.com/your-org/storefront-gateway/internal/domain/session"
	"github.com/your-org/storefront-gateway/internal/pkg/kv"
	"github.com/your-org/storefront-gateway/internal/pkg/orderingapi"
)

// promoBackend is a scriptable fake of the ordering backend's cart and
// discount endpoints.
type promoBackend struct {
	mu             sync.Mutex
	cartItems      []orderingapi.CartItem
	validateStatus int
	discountAmount string
}

func (b *promoBackend) set(items []orderingapi.CartItem, status int, amount string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cartItems = items
	b.validateStatus = status
	b.discountAmount = amount
}

func (b *promoBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	items := b.cartItems
	status := b.validateStatus
	amount := b.discountAmount
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/guest-cart", "/guest-cart/items":
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    orderingapi.CartSnapshot{Items: items, ItemCount: len(items)},
		})
	case "/discounts/validate":
		if status != http.StatusOK {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"error":   "This code is not valid for your order",
			})
			return
		}
		data := map[string]interface{}{
			"discountId":    "discount-1",
			"code":          "SAVE5",
			"discountType":  "fixed",
			"discountValue": "5",
			"originalTotal": "20",
			"newTotal":      "15",
			"savings":       "5",
		}
		if amount != "" {
			data["discountAmount"] = amount
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": data})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type promoEnv struct {
	backend     *promoBackend
	store       *kv.Memory
	sessions    *session.Store
	cartService *cart.Service
	service     *Service
}

func newPromoEnv(t *testing.T) *promoEnv {
	t.Helper()

	backend := &promoBackend{validateStatus: http.StatusOK, discountAmount: "5"}
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{BaseURL: server.URL, Timeout: 5 * time.Second},
		Session: config.SessionConfig{
			TTL:                time.Hour,
			CartTTL:            time.Hour,
			PromoTTL:           time.Hour,
			AllowGuestCheckout: true,
		},
		Catalog: config.CatalogConfig{StockFallback: config.StockFallbackUnlimited},
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := kv.NewMemory()
	sessions := session.NewStore(store, cfg)
	client := orderingapi.NewClient(cfg)
	cartService := cart.NewService(store, sessions, client, cfg, logger)
	service := NewService(store, client, cartService, cfg, logger)
	cartService.SetPromotionReconciler(service)

	return &promoEnv{
		backend:     backend,
		store:       store,
		sessions:    sessions,
		cartService: cartService,
		service:     service,
	}
}

func promoSession(t *testing.T, env *promoEnv) *session.Session {
	t.Helper()

	sess := &session.Session{
		ID:               "sess-1",
		GuestSessionID:   "guest-1",
		SelectedBranchID: "branch-1",
		OrderType:        session.OrderTypeCollection,
	}
	require.NoError(t, env.sessions.Save(context.Background(), sess))
	return sess
}

func promoItem(id string, quantity int, price string) orderingapi.CartItem {
	return orderingapi.CartItem{
		ID:        id,
		ProductID: "product-" + id,
		Quantity:  quantity,
		Price:     pricing.FlatPrice(decimal.RequireFromString(price)),
	}
}

func loadCart(t *testing.T, env *promoEnv, sess *session.Session, items ...orderingapi.CartItem) {
	t.Helper()

	env.backend.mu.Lock()
	env.backend.cartItems = items
	env.backend.mu.Unlock()

	_, err := env.cartService.Load(context.Background(), sess)
	require.NoError(t, err)
}

func TestApplyRequiresBranch(t *testing.T) {
	env := newPromoEnv(t)
	sess := &session.Session{ID: "sess-1", GuestSessionID: "guest-1"}
	require.NoError(t, env.sessions.Save(context.Background(), sess))

	_, err := env.service.Apply(context.Background(), sess, "SAVE5")
	assert.ErrorIs(t, err, cart.ErrNoBranchSelected)
}

func TestApplyRejectsEmptyCart(t *testing.T) {
	env := newPromoEnv(t)
	sess := promoSession(t, env)

	_, err := env.service.Apply(context.Background(), sess, "SAVE5")
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestApplyStoresBackendResolvedDiscount(t *testing.T) {
	env := newPromoEnv(t)
	sess := promoSession(t, env)
	loadCart(t, env, sess, promoItem("item-1", 2, "10"))

	applied, err := env.service.Apply(context.Background(), sess, "SAVE5")
	require.NoError(t, err)

	assert.Equal(t, "SAVE5", applied.Code)
	assert.True(t, applied.DiscountAmount.Equal(decimal.NewFromInt(5)))

	current, err := env.service.Current(context.Background(), sess)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.True(t, current.DiscountAmount.Equal(decimal.NewFromInt(5)))

	discount := env.service.Discount(context.Background(), sess)
	require.NotNil(t, discount)
	assert.True(t, discount.Amount.Equal(decimal.NewFromInt(5)))
}

func TestApplyWithoutResolvedAmountFails(t *testing.T) {
	env := newPromoEnv(t)
	sess := promoSession(t, env)
	loadCart(t, env, sess, promoItem("item-1", 2, "10"))

	env.backend.set(env.backend.cartItems, http.StatusOK, "")

	_, err := env.service.Apply(context.Background(), sess, "SAVE5")
	assert.ErrorIs(t, err, ErrDiscountNotResolved)

	current, err := env.service.Current(context.Background(), sess)
	require.NoError(t, err)
	assert.Nil(t, current, "an unresolved discount is never applied")
}

func TestApplyInvalidCodeClearsPreviousPromotion(t *testing.T) {
	env := newPromoEnv(t)
	sess := promoSession(t, env)
	loadCart(t, env, sess, promoItem("item-1", 2, "10"))

	_, err := env.service.Apply(context.Background(), sess, "SAVE5")
	require.NoError(t, err)

	env.backend.set(env.backend.cartItems, http.StatusBadRequest, "")
	_, err = env.service.Apply(context.Background(), sess, "BOGUS")
	require.Error(t, err)

	current, err := env.service.Current(context.Background(), sess)
	require.NoError(t, err)
	assert.Nil(t, current, "a failed validation leaves no partial discount behind")
}

func TestCurrentClearsOnFingerprintMismatch(t *testing.T) {
	env := newPromoEnv(t)
	sess := promoSession(t, env)
	loadCart(t, env, sess, promoItem("item-1", 2, "10"))

	applied, err := env.service.Apply(context.Background(), sess, "SAVE5")
	require.NoError(t, err)

	applied.CartFingerprint = "stale-fingerprint"
	require.NoError(t, env.service.store(context.Background(), sess, applied))

	current, err := env.service.Current(context.Background(), sess)
	require.NoError(t, err)
	assert.Nil(t, current, "a discount bound to different cart contents is dropped")
}

func TestCartChangeRevalidatesPromotion(t *testing.T) {
	env := newPromoEnv(t)
	sess := promoSession(t, env)
	loadCart(t, env, sess, promoItem("item-1", 2, "10"))

	_, err := env.service.Apply(context.Background(), sess, "SAVE5")
	require.NoError(t, err)

	// The next cart mutation drops the order below the code's threshold.
	env.backend.set([]orderingapi.CartItem{promoItem("item-1", 1, "10")}, http.StatusBadRequest, "")

	_, err = env.cartService.Add(context.Background(), sess, cart.AddRequest{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	current, err := env.service.Current(context.Background(), sess)
	require.NoError(t, err)
	assert.Nil(t, current, "re-validation failure clears the applied promotion")
}

func TestCartChangeKeepsStillValidPromotion(t *testing.T) {
	env := newPromoEnv(t)
	sess := promoSession(t, env)
	loadCart(t, env, sess, promoItem("item-1", 2, "10"))

	_, err := env.service.Apply(context.Background(), sess, "SAVE5")
	require.NoError(t, err)

	env.backend.set([]orderingapi.CartItem{promoItem("item-1", 3, "10")}, http.StatusOK, "5")

	_, err = env.cartService.Add(context.Background(), sess, cart.AddRequest{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	current, err := env.service.Current(context.Background(), sess)
	require.NoError(t, err)
	require.NotNil(t, current, "a still-valid promotion survives the cart change")
	assert.True(t, current.DiscountAmount.Equal(decimal.NewFromInt(5)))
}

func TestRemoveClearsPromotion(t *testing.T) {
	env := newPromoEnv(t)
	sess := promoSession(t, env)
	loadCart(t, env, sess, promoItem("item-1", 2, "10"))

	_, err := env.service.Apply(context.Background(), sess, "SAVE5")
	require.NoError(t, err)

	require.NoError(t, env.service.Remove(context.Background(), sess))

	current, err := env.service.Current(context.Background(), sess)
	require.NoError(t, err)
	assert.Nil(t, current)
}
