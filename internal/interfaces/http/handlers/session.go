// internal/interfaces/http/handlers/session.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-gateway/internal/config"
	"github.com/your-org/storefront-gateway/internal/domain/cart"
	"github.com/your-org/storefront-gateway/internal/domain/session"
	"github.com/your-org/storefront-gateway/internal/interfaces/http/middleware"
	"github.com/your-org/storefront-gateway/internal/pkg/auth"
	"github.com/your-org/storefront-gateway/internal/pkg/orderingapi"
)

// SessionHandler handles storefront session endpoints
type SessionHandler struct {
	sessions    *session.Store
	cartService *cart.Service
	jwtManager  *auth.JWTManager
	logger      *logrus.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *session.Store, cartService *cart.Service, cfg *config.Config, logger *logrus.Logger) *SessionHandler {
	return &SessionHandler{
		sessions:    sessions,
		cartService: cartService,
		jwtManager:  auth.NewJWTManager(cfg),
		logger:      logger,
	}
}

// GetSession handles GET /session
func (h *SessionHandler) GetSession(c *gin.Context) {
	sess, _ := middleware.GetSessionFromContext(c)

	c.JSON(http.StatusOK, gin.H{
		"message": "Session retrieved successfully",
		"data": gin.H{
			"authenticated":    sess.IsAuthenticated(),
			"userId":           sess.UserID,
			"selectedBranchId": sess.SelectedBranchID,
			"orderType":        sess.OrderType,
			"lastAddress":      sess.LastAddress,
			"returnUrl":        sess.ReturnURL,
		},
	})
}

// SelectBranch handles PUT /session/branch
func (h *SessionHandler) SelectBranch(c *gin.Context) {
	sess, _ := middleware.GetSessionFromContext(c)

	var req struct {
		BranchID string `json:"branchId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	if err := h.sessions.SelectBranch(c.Request.Context(), sess, req.BranchID); err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Branch selected successfully",
		"data": gin.H{
			"selectedBranchId": sess.SelectedBranchID,
		},
	})
}

// SetOrderType handles PUT /session/order-type
func (h *SessionHandler) SetOrderType(c *gin.Context) {
	sess, _ := middleware.GetSessionFromContext(c)

	var req struct {
		OrderType string `json:"orderType" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	if err := h.sessions.SetOrderType(c.Request.Context(), sess, req.OrderType); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Order type updated successfully",
		"data": gin.H{
			"orderType": sess.OrderType,
		},
	})
}

// SetAddress handles PUT /session/address
func (h *SessionHandler) SetAddress(c *gin.Context) {
	sess, _ := middleware.GetSessionFromContext(c)

	var req orderingapi.DeliveryAddress
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	if err := h.sessions.SetLastAddress(c.Request.Context(), sess, req); err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Address saved successfully",
		"data":    sess.LastAddress,
	})
}

// Login handles POST /session/login. The token comes from the ordering
// backend's own auth flow; the gateway validates it, switches the session to
// authenticated mode and folds the guest cart into the user's cart.
func (h *SessionHandler) Login(c *gin.Context) {
	sess, _ := middleware.GetSessionFromContext(c)

	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	claims, err := h.jwtManager.ValidateAccessToken(req.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid or expired token",
		})
		return
	}

	returnURL := sess.ReturnURL

	previousGuestID, err := h.sessions.Login(c.Request.Context(), sess, req.Token, claims.UserID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	if previousGuestID != "" {
		if err := h.cartService.MergeGuestCart(c.Request.Context(), sess, previousGuestID); err != nil {
			// The guest identity is already gone; the user keeps their own cart.
			h.logger.WithError(err).WithField("user_id", claims.UserID).
				Warn("guest cart merge failed after login")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Logged in successfully",
		"data": gin.H{
			"userId":    claims.UserID,
			"returnUrl": returnURL,
		},
	})
}

// Logout handles POST /session/logout
func (h *SessionHandler) Logout(c *gin.Context) {
	sess, _ := middleware.GetSessionFromContext(c)

	// Drop the authenticated identity's cached cart before the identity goes.
	if err := h.cartService.ClearLocal(c.Request.Context(), sess); err != nil {
		h.logger.WithError(err).Warn("failed to drop cached cart on logout")
	}

	if err := h.sessions.Logout(c.Request.Context(), sess); err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Logged out successfully",
	})
}
