// internal/domain/checkout/service_test.go
package checkout

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
	"github.com/your-org/storefront-gateway/internal/domain/delivery"
	"github.com/your-org/storefront-gateway/internal/domain/pricing"
	"github.com/your-org/storefront-gateway/internal/domain/promotion"
	"github.com/your-org/storefront-gateway/internal/domain/session"
	"github.com/your-org/storefront-gateway/internal/pkg/kv"
	"github.com/your-org/storefront-gateway/internal/pkg/orderingapi"
)

// checkoutBackend fakes every ordering backend endpoint checkout touches.
type checkoutBackend struct {
	mu           sync.Mutex
	cartItems    []orderingapi.CartItem
	available    bool
	reason       string
	orderStatus  int
	orderError   string
	orderTotal   string
	clientSecret string
	paid         bool
	deliverable  bool
	fee          string
	clearCalls   int
	orderCalls   int
}

func (b *checkoutBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	ok := func(data interface{}) {
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": data})
	}

	isCart := r.URL.Path == "/cart" || r.URL.Path == "/guest-cart"

	switch {
	case isCart && r.Method == http.MethodGet:
		ok(orderingapi.CartSnapshot{Items: b.cartItems, ItemCount: len(b.cartItems)})
	case isCart && r.Method == http.MethodDelete:
		b.clearCalls++
		b.cartItems = nil
		ok(nil)
	case r.URL.Path == "/ordering-times/branch-1/check-availability":
		ok(map[string]interface{}{"available": b.available, "reason": b.reason})
	case r.URL.Path == "/settings/delivery-charges/validate-delivery":
		ok(map[string]interface{}{"deliverable": b.deliverable})
	case r.URL.Path == "/settings/delivery-charges/calculate-checkout":
		ok(map[string]interface{}{"fee": b.fee})
	case r.URL.Path == "/orders" && r.Method == http.MethodPost:
		b.orderCalls++
		if b.orderStatus != http.StatusOK {
			w.WriteHeader(b.orderStatus)
			json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": b.orderError})
			return
		}
		resp := map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"id":          "order-1",
				"orderNumber": "1001",
				"status":      "pending",
				"total":       b.orderTotal,
			},
		}
		if b.clientSecret != "" {
			resp["payment"] = map[string]interface{}{"clientSecret": b.clientSecret}
		}
		json.NewEncoder(w).Encode(resp)
	case r.URL.Path == "/orders/order-1/payment-status":
		ok(map[string]interface{}{"orderId": "order-1", "status": "checked", "paid": b.paid})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type checkoutEnv struct {
	backend     *checkoutBackend
	store       *kv.Memory
	sessions    *session.Store
	cartService *cart.Service
	service     *Service
}

func newCheckoutEnv(t *testing.T) *checkoutEnv {
	t.Helper()

	backend := &checkoutBackend{
		available:   true,
		orderStatus: http.StatusOK,
		orderTotal:  "20",
		deliverable: true,
		fee:         "3.5",
	}
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
		Catalog:  config.CatalogConfig{StockFallback: config.StockFallbackUnlimited},
		Currency: config.CurrencyConfig{Symbol: "£", Code: "GBP"},
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := kv.NewMemory()
	sessions := session.NewStore(store, cfg)
	client := orderingapi.NewClient(cfg)
	cartService := cart.NewService(store, sessions, client, cfg, logger)
	promoService := promotion.NewService(store, client, cartService, cfg, logger)
	cartService.SetPromotionReconciler(promoService)
	deliveryService := delivery.NewService(store, client, cfg, logger)
	service := NewService(store, sessions, client, cartService, promoService, deliveryService, cfg, logger)

	return &checkoutEnv{
		backend:     backend,
		store:       store,
		sessions:    sessions,
		cartService: cartService,
		service:     service,
	}
}

func checkoutSession(t *testing.T, env *checkoutEnv, orderType string) *session.Session {
	t.Helper()

	sess := &session.Session{
		ID:               "sess-1",
		Token:            "backend-token",
		UserID:           "user-1",
		SelectedBranchID: "branch-1",
		OrderType:        orderType,
	}
	require.NoError(t, env.sessions.Save(context.Background(), sess))
	return sess
}

func loadCheckoutCart(t *testing.T, env *checkoutEnv, sess *session.Session) {
	t.Helper()

	env.backend.mu.Lock()
	env.backend.cartItems = []orderingapi.CartItem{{
		ID:        "item-1",
		ProductID: "product-1",
		Quantity:  2,
		Price:     pricing.FlatPrice(decimal.NewFromInt(10)),
	}}
	env.backend.mu.Unlock()

	_, err := env.cartService.Load(context.Background(), sess)
	require.NoError(t, err)
}

func validDetails() Details {
	return Details{
		RequestedTime: "2026-08-27T18:30:00Z",
		FirstName:     "Ada",
		PaymentMethod: PaymentMethodCash,
		AcceptTerms:   true,
	}
}

func TestConfirmRequiresBranch(t *testing.T) {
	env := newCheckoutEnv(t)
	sess := &session.Session{ID: "sess-1", Token: "backend-token", UserID: "user-1"}
	require.NoError(t, env.sessions.Save(context.Background(), sess))

	_, err := env.service.Confirm(context.Background(), sess, validDetails())
	assert.ErrorIs(t, err, cart.ErrNoBranchSelected)
}

func TestConfirmRejectsEmptyCart(t *testing.T) {
	env := newCheckoutEnv(t)
	sess := checkoutSession(t, env, session.OrderTypeCollection)

	_, err := env.service.Confirm(context.Background(), sess, validDetails())
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestConfirmValidatesFields(t *testing.T) {
	env := newCheckoutEnv(t)
	sess := checkoutSession(t, env, session.OrderTypeCollection)
	loadCheckoutCart(t, env, sess)

	_, err := env.service.Confirm(context.Background(), sess, Details{})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "requestedTime")
	assert.Contains(t, verr.Fields, "firstName")
	assert.Contains(t, verr.Fields, "acceptTerms")
	assert.Contains(t, verr.Fields, "paymentMethod")
	assert.NotContains(t, verr.Fields, "email", "authenticated users need no contact details")
}

func TestConfirmRequiresGuestContactDetails(t *testing.T) {
	env := newCheckoutEnv(t)
	sess := &session.Session{
		ID:               "sess-1",
		GuestSessionID:   "guest-1",
		SelectedBranchID: "branch-1",
		OrderType:        session.OrderTypeCollection,
	}
	require.NoError(t, env.sessions.Save(context.Background(), sess))

	env.backend.mu.Lock()
	env.backend.cartItems = []orderingapi.CartItem{{
		ID: "item-1", ProductID: "product-1", Quantity: 1,
		Price: pricing.FlatPrice(decimal.NewFromInt(10)),
	}}
	env.backend.mu.Unlock()
	snapshot, err := env.cartService.Load(context.Background(), sess)
	require.NoError(t, err)
	require.NotEmpty(t, snapshot.Snapshot.Items)

	_, err = env.service.Confirm(context.Background(), sess, validDetails())

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "email")
	assert.Contains(t, verr.Fields, "phone")
}

func TestConfirmRequiresDeliveryAddress(t *testing.T) {
	env := newCheckoutEnv(t)
	sess := checkoutSession(t, env, session.OrderTypeDelivery)
	loadCheckoutCart(t, env, sess)

	_, err := env.service.Confirm(context.Background(), sess, validDetails())

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "deliveryAddress")
}

func TestConfirmRejectsUndeliverableAddress(t *testing.T) {
	env := newCheckoutEnv(t)
	env.backend.deliverable = false
	sess := checkoutSession(t, env, session.OrderTypeDelivery)
	loadCheckoutCart(t, env, sess)

	details := validDetails()
	details.Address = &orderingapi.DeliveryAddress{Street: "1 Far Away", City: "Nowhere", Postcode: "XX1 1XX", Country: "GB"}

	_, err := env.service.Confirm(context.Background(), sess, details)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "deliveryAddress")
}

func TestConfirmDeliveryFoldsFeeIntoTotals(t *testing.T) {
	env := newCheckoutEnv(t)
	env.backend.orderTotal = "23.5" // 2 x 10 + 3.5 delivery
	sess := checkoutSession(t, env, session.OrderTypeDelivery)
	loadCheckoutCart(t, env, sess)

	details := validDetails()
	details.Address = &orderingapi.DeliveryAddress{Street: "1 High Street", City: "London", Postcode: "SW1A 1AA", Country: "GB"}

	result, err := env.service.Confirm(context.Background(), sess, details)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.True(t, result.Totals.DeliveryFee.Equal(decimal.RequireFromString("3.5")))
	assert.False(t, result.TotalsMismatch)
}

func TestConfirmRejectsUnavailableTimeSlot(t *testing.T) {
	env := newCheckoutEnv(t)
	env.backend.available = false
	env.backend.reason = "kitchen closes at 22:00"
	sess := checkoutSession(t, env, session.OrderTypeCollection)
	loadCheckoutCart(t, env, sess)

	_, err := env.service.Confirm(context.Background(), sess, validDetails())

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "kitchen closes at 22:00", verr.Fields["requestedTime"])
}

func TestConfirmCashCompletesAndClearsCart(t *testing.T) {
	env := newCheckoutEnv(t)
	sess := checkoutSession(t, env, session.OrderTypeCollection)
	loadCheckoutCart(t, env, sess)

	result, err := env.service.Confirm(context.Background(), sess, validDetails())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, "/order-status/order-1", result.RedirectTo)
	assert.False(t, result.TotalsMismatch)
	require.NotNil(t, result.Order)
	assert.Equal(t, "order-1", result.Order.ID)

	env.backend.mu.Lock()
	assert.Equal(t, 1, env.backend.clearCalls, "cart cleared server-side")
	env.backend.mu.Unlock()

	snapshot := env.cartService.Snapshot(context.Background(), sess)
	assert.Empty(t, snapshot.Items, "local cart cleared")

	_, err = env.store.Get(context.Background(), lockKey(sess.ID))
	assert.ErrorIs(t, err, kv.ErrNotFound, "checkout lock released")
}

func TestConfirmFlagsTotalsDivergence(t *testing.T) {
	env := newCheckoutEnv(t)
	env.backend.orderTotal = "25"
	sess := checkoutSession(t, env, session.OrderTypeCollection)
	loadCheckoutCart(t, env, sess)

	result, err := env.service.Confirm(context.Background(), sess, validDetails())
	require.NoError(t, err)

	assert.True(t, result.TotalsMismatch, "server total 25 diverges from local 20")
}

func TestConfirmRepeatSubmissionIsRejected(t *testing.T) {
	env := newCheckoutEnv(t)
	sess := checkoutSession(t, env, session.OrderTypeCollection)
	loadCheckoutCart(t, env, sess)

	require.NoError(t, env.store.Set(context.Background(), lockKey(sess.ID), "1", time.Minute))

	_, err := env.service.Confirm(context.Background(), sess, validDetails())
	assert.ErrorIs(t, err, ErrAlreadyProcessing)

	env.backend.mu.Lock()
	assert.Zero(t, env.backend.orderCalls, "no duplicate order reaches the backend")
	env.backend.mu.Unlock()
}

func TestConfirmUnauthorizedRedirectsToAuth(t *testing.T) {
	env := newCheckoutEnv(t)
	env.backend.orderStatus = http.StatusUnauthorized
	env.backend.orderError = "token expired"
	sess := checkoutSession(t, env, session.OrderTypeCollection)
	loadCheckoutCart(t, env, sess)

	result, err := env.service.Confirm(context.Background(), sess, validDetails())
	require.NoError(t, err)

	assert.Equal(t, OutcomeAuthRequired, result.Outcome)
	assert.Equal(t, "/auth/login", result.RedirectTo)

	reloaded, err := env.sessions.Load(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "/checkout", reloaded.ReturnURL, "checkout position preserved for after login")

	snapshot := env.cartService.Snapshot(context.Background(), sess)
	assert.NotEmpty(t, snapshot.Items, "cart kept on auth failure")
}

func TestConfirmSurfacesBackendRejection(t *testing.T) {
	env := newCheckoutEnv(t)
	env.backend.orderStatus = http.StatusBadRequest
	env.backend.orderError = "minimum order value not met"
	sess := checkoutSession(t, env, session.OrderTypeCollection)
	loadCheckoutCart(t, env, sess)

	result, err := env.service.Confirm(context.Background(), sess, validDetails())
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, "minimum order value not met", result.Message)

	snapshot := env.cartService.Snapshot(context.Background(), sess)
	assert.NotEmpty(t, snapshot.Items, "cart kept on rejection")
}

func TestConfirmCardAwaitsPayment(t *testing.T) {
	env := newCheckoutEnv(t)
	env.backend.clientSecret = "pi_secret_123"
	sess := checkoutSession(t, env, session.OrderTypeCollection)
	loadCheckoutCart(t, env, sess)

	details := validDetails()
	details.PaymentMethod = PaymentMethodCard

	result, err := env.service.Confirm(context.Background(), sess, details)
	require.NoError(t, err)

	assert.Equal(t, OutcomeAwaitingPayment, result.Outcome)
	assert.Equal(t, "pi_secret_123", result.ClientSecret)

	snapshot := env.cartService.Snapshot(context.Background(), sess)
	assert.NotEmpty(t, snapshot.Items, "cart untouched until payment confirms")
}

func TestCompletePaymentUnpaidKeepsCart(t *testing.T) {
	env := newCheckoutEnv(t)
	env.backend.clientSecret = "pi_secret_123"
	env.backend.paid = false
	sess := checkoutSession(t, env, session.OrderTypeCollection)
	loadCheckoutCart(t, env, sess)

	details := validDetails()
	details.PaymentMethod = PaymentMethodCard
	_, err := env.service.Confirm(context.Background(), sess, details)
	require.NoError(t, err)

	result, err := env.service.CompletePayment(context.Background(), sess)
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, result.Outcome)
	snapshot := env.cartService.Snapshot(context.Background(), sess)
	assert.NotEmpty(t, snapshot.Items, "only a server-confirmed payment clears the cart")
}

func TestCompletePaymentPaidClearsCart(t *testing.T) {
	env := newCheckoutEnv(t)
	env.backend.clientSecret = "pi_secret_123"
	env.backend.paid = true
	sess := checkoutSession(t, env, session.OrderTypeCollection)
	loadCheckoutCart(t, env, sess)

	details := validDetails()
	details.PaymentMethod = PaymentMethodCard
	_, err := env.service.Confirm(context.Background(), sess, details)
	require.NoError(t, err)

	result, err := env.service.CompletePayment(context.Background(), sess)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, "/order-status/order-1", result.RedirectTo)

	snapshot := env.cartService.Snapshot(context.Background(), sess)
	assert.Empty(t, snapshot.Items)

	_, err = env.service.CompletePayment(context.Background(), sess)
	assert.ErrorIs(t, err, ErrNoPendingPayment, "completion is one-shot")
}

func TestCompletePaymentWithoutPendingOrder(t *testing.T) {
	env := newCheckoutEnv(t)
	sess := checkoutSession(t, env, session.OrderTypeCollection)

	_, err := env.service.CompletePayment(context.Background(), sess)
	assert.ErrorIs(t, err, ErrNoPendingPayment)
}

func TestCancelPaymentKeepsCartAndReleasesLock(t *testing.T) {
	env := newCheckoutEnv(t)
	env.backend.clientSecret = "pi_secret_123"
	sess := checkoutSession(t, env, session.OrderTypeCollection)
	loadCheckoutCart(t, env, sess)

	details := validDetails()
	details.PaymentMethod = PaymentMethodCard
	_, err := env.service.Confirm(context.Background(), sess, details)
	require.NoError(t, err)

	result, err := env.service.CancelPayment(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, result.Outcome)

	snapshot := env.cartService.Snapshot(context.Background(), sess)
	assert.NotEmpty(t, snapshot.Items, "cart kept for retry")

	// A fresh confirm can run: the processing lock is gone.
	_, err = env.store.Get(context.Background(), lockKey(sess.ID))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestSummarizeComposesTotals(t *testing.T) {
	env := newCheckoutEnv(t)
	sess := checkoutSession(t, env, session.OrderTypeCollection)
	loadCheckoutCart(t, env, sess)

	summary, err := env.service.Summarize(context.Background(), sess, nil)
	require.NoError(t, err)

	require.Len(t, summary.Snapshot.Items, 1)
	assert.True(t, summary.Totals.Total.Equal(decimal.NewFromInt(20)), "total %s", summary.Totals.Total)
	assert.Equal(t, "£20.00", summary.Formatted.Total)
	assert.Equal(t, "£20.00", summary.Formatted.Subtotal)
	assert.Nil(t, summary.Promotion)
	assert.Nil(t, summary.Quote, "collection orders have no delivery quote")
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"firstName": "first name is required"}}
	assert.Contains(t, err.Error(), "1 field")
}
