// internal/interfaces/http/handlers/address.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/your-org/storefront-gateway/internal/domain/address"
	"github.com/your-org/storefront-gateway/internal/interfaces/http/middleware"
	"github.com/your-org/storefront-gateway/internal/pkg/orderingapi"
)

// AddressHandler handles postcode lookup endpoints
type AddressHandler struct {
	lookup *address.Lookup
}

// NewAddressHandler creates a new address handler
func NewAddressHandler(lookup *address.Lookup) *AddressHandler {
	return &AddressHandler{
		lookup: lookup,
	}
}

// LookupPostcode handles GET /addresses/postcode/:postcode
func (h *AddressHandler) LookupPostcode(c *gin.Context) {
	sess, _ := middleware.GetSessionFromContext(c)
	postcode := c.Param("postcode")

	results, err := h.lookup.Search(c.Request.Context(), sess, postcode)
	if errors.Is(err, address.ErrSuperseded) {
		// A newer query from the same session replaced this one.
		c.JSON(http.StatusConflict, gin.H{
			"error": "Lookup superseded by a newer query",
		})
		return
	}
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Addresses retrieved successfully",
		"data":    results,
	})
}

// RememberAddress handles PUT /addresses/last
func (h *AddressHandler) RememberAddress(c *gin.Context) {
	sess, _ := middleware.GetSessionFromContext(c)

	var req orderingapi.DeliveryAddress
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	if err := h.lookup.Remember(c.Request.Context(), sess, req); err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Address saved successfully",
		"data":    sess.LastAddress,
	})
}
