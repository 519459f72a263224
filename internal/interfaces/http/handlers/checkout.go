// internal/interfaces/http/handlers/checkout.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/your-org/storefront-gateway/internal/domain/checkout"
	"github.com/your-org/storefront-gateway/internal/interfaces/http/middleware"
)

// CheckoutHandler handles checkout endpoints
type CheckoutHandler struct {
	checkoutService *checkout.Service
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(checkoutService *checkout.Service) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
	}
}

// GetSummary handles GET /checkout/summary
func (h *CheckoutHandler) GetSummary(c *gin.Context) {
	sess, _ := middleware.GetSessionFromContext(c)

	summary, err := h.checkoutService.Summarize(c.Request.Context(), sess, c.QueryArray("acceptedChargeId"))
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Checkout summary retrieved successfully",
		"data":    summary,
	})
}

// CheckAvailability handles POST /checkout/availability
func (h *CheckoutHandler) CheckAvailability(c *gin.Context) {
	sess, _ := middleware.GetSessionFromContext(c)

	var req struct {
		RequestedTime string `json:"requestedTime" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	availability, err := h.checkoutService.CheckAvailability(c.Request.Context(), sess, req.RequestedTime)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Availability checked successfully",
		"data":    availability,
	})
}

// Confirm handles POST /checkout/confirm
func (h *CheckoutHandler) Confirm(c *gin.Context) {
	sess, _ := middleware.GetSessionFromContext(c)

	var details checkout.Details
	if err := c.ShouldBindJSON(&details); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	result, err := h.checkoutService.Confirm(c.Request.Context(), sess, details)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Checkout processed",
		"data":    result,
	})
}

// CompletePayment handles POST /checkout/payment/complete
func (h *CheckoutHandler) CompletePayment(c *gin.Context) {
	sess, _ := middleware.GetSessionFromContext(c)

	result, err := h.checkoutService.CompletePayment(c.Request.Context(), sess)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Payment completion processed",
		"data":    result,
	})
}

// CancelPayment handles POST /checkout/payment/cancel
func (h *CheckoutHandler) CancelPayment(c *gin.Context) {
	sess, _ := middleware.GetSessionFromContext(c)

	result, err := h.checkoutService.CancelPayment(c.Request.Context(), sess)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Payment cancelled",
		"data":    result,
	})
}
