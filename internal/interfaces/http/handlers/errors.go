// internal/interfaces/http/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/your-org/storefront-gateway/internal/domain/cart"
	"github.com/your-org/storefront-gateway/internal/domain/checkout"
	"github.com/your-org/storefront-gateway/internal/domain/promotion"
	"github.com/your-org/storefront-gateway/internal/pkg/orderingapi"
)

// respondDomainError maps domain errors to HTTP responses
func respondDomainError(c *gin.Context, err error) {
	var validationErr *checkout.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "Validation failed",
			"fields": validationErr.Fields,
		})
		return
	}

	var apiErr *orderingapi.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		if apiErr.IsServerError() {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"error": apiErr.Message,
		})
		return
	}

	switch {
	case errors.Is(err, cart.ErrNoBranchSelected):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Please select a branch first",
		})
	case errors.Is(err, cart.ErrAuthenticationRequired):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Authentication required",
		})
	case errors.Is(err, cart.ErrBranchConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":                "Your cart contains items from another branch",
			"confirmationRequired": true,
		})
	case errors.Is(err, cart.ErrStaleBranch):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Branch selection changed, please reload",
		})
	case errors.Is(err, promotion.ErrEmptyCart), errors.Is(err, checkout.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Your cart is empty",
		})
	case errors.Is(err, promotion.ErrDiscountNotResolved):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "This code could not be applied to your order",
		})
	case errors.Is(err, checkout.ErrAlreadyProcessing):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Your order is already being processed",
		})
	case errors.Is(err, checkout.ErrNoPendingPayment):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "No payment is awaiting completion",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Something went wrong, please try again",
		})
	}
}
