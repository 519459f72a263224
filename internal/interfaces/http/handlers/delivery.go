// internal/interfaces/http/handlers/delivery.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/your-org/storefront-gateway/internal/domain/cart"
	"github.com/your-org/storefront-gateway/internal/domain/delivery"
	"github.com/your-org/storefront-gateway/internal/domain/promotion"
	"github.com/your-org/storefront-gateway/internal/interfaces/http/middleware"
	"github.com/your-org/storefront-gateway/internal/pkg/orderingapi"
)

// DeliveryHandler handles delivery fee endpoints
type DeliveryHandler struct {
	deliveryService *delivery.Service
	cartService     *cart.Service
	promoService    *promotion.Service
}

// NewDeliveryHandler creates a new delivery handler
func NewDeliveryHandler(deliveryService *delivery.Service, cartService *cart.Service, promoService *promotion.Service) *DeliveryHandler {
	return &DeliveryHandler{
		deliveryService: deliveryService,
		cartService:     cartService,
		promoService:    promoService,
	}
}

// Quote handles POST /delivery/quote. The request body may carry an address;
// when absent the session's last used address applies.
func (h *DeliveryHandler) Quote(c *gin.Context) {
	sess, _ := middleware.GetSessionFromContext(c)

	var req struct {
		Address *orderingapi.DeliveryAddress `json:"address,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	address := req.Address
	if address == nil {
		address = sess.LastAddress
	}

	snapshot := h.cartService.Snapshot(c.Request.Context(), sess)
	subtotal := cart.ComposeTotals(&snapshot, nil, nil).Subtotal

	var promoCode string
	if applied, err := h.promoService.Current(c.Request.Context(), sess); err == nil && applied != nil {
		promoCode = applied.Code
	}

	quote, err := h.deliveryService.Resolve(c.Request.Context(), sess, subtotal, address, promoCode)
	if err != nil && !errors.Is(err, delivery.ErrStaleQuote) {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Delivery quote resolved successfully",
		"data":    quote,
	})
}
