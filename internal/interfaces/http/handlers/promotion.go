// internal/interfaces/http/handlers/promotion.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/your-org/storefront-gateway/internal/domain/promotion"
	"github.com/your-org/storefront-gateway/internal/interfaces/http/middleware"
)

// PromotionHandler handles promo code endpoints
type PromotionHandler struct {
	promoService *promotion.Service
}

// NewPromotionHandler creates a new promotion handler
func NewPromotionHandler(promoService *promotion.Service) *PromotionHandler {
	return &PromotionHandler{
		promoService: promoService,
	}
}

// ApplyPromotion handles POST /promotions/apply
func (h *PromotionHandler) ApplyPromotion(c *gin.Context) {
	sess, _ := middleware.GetSessionFromContext(c)

	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	applied, err := h.promoService.Apply(c.Request.Context(), sess, req.Code)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Promo code applied successfully",
		"data":    applied,
	})
}

// RemovePromotion handles DELETE /promotions
func (h *PromotionHandler) RemovePromotion(c *gin.Context) {
	sess, _ := middleware.GetSessionFromContext(c)

	if err := h.promoService.Remove(c.Request.Context(), sess); err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Promo code removed successfully",
	})
}

// GetPromotion handles GET /promotions
func (h *PromotionHandler) GetPromotion(c *gin.Context) {
	sess, _ := middleware.GetSessionFromContext(c)

	applied, err := h.promoService.Current(c.Request.Context(), sess)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Applied promotion retrieved successfully",
		"data":    applied,
	})
}
