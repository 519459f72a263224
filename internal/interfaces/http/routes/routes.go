// internal/interfaces/http/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-gateway/internal/config"
	"github.com/your-org/storefront-gateway/internal/domain/address"
	"github.com/your-org/storefront-gateway/internal/domain/cart"
	"github.com/your-org/storefront-gateway/internal/domain/checkout"
	"github.com/your-org/storefront-gateway/internal/domain/delivery"
	"github.com/your-org/storefront-gateway/internal/domain/promotion"
	"github.com/your-org/storefront-gateway/internal/domain/session"
	"github.com/your-org/storefront-gateway/internal/interfaces/http/handlers"
	"github.com/your-org/storefront-gateway/internal/interfaces/http/middleware"
	"github.com/your-org/storefront-gateway/internal/pkg/kv"
	"github.com/your-org/storefront-gateway/internal/pkg/orderingapi"
)

// SetupRoutes wires all storefront services and routes onto the API group
func SetupRoutes(api *gin.RouterGroup, store kv.Store, cfg *config.Config, logger *logrus.Logger) {
	// Services
	sessions := session.NewStore(store, cfg)
	apiClient := orderingapi.NewClient(cfg)
	cartService := cart.NewService(store, sessions, apiClient, cfg, logger)
	promoService := promotion.NewService(store, apiClient, cartService, cfg, logger)
	cartService.SetPromotionReconciler(promoService)
	deliveryService := delivery.NewService(store, apiClient, cfg, logger)
	addressLookup := address.NewLookup(apiClient, sessions, cfg, logger)
	checkoutService := checkout.NewService(store, sessions, apiClient, cartService, promoService, deliveryService, cfg, logger)

	// Handlers
	cartHandler := handlers.NewCartHandler(cartService, cfg)
	sessionHandler := handlers.NewSessionHandler(sessions, cartService, cfg, logger)
	promoHandler := handlers.NewPromotionHandler(promoService)
	deliveryHandler := handlers.NewDeliveryHandler(deliveryService, cartService, promoService)
	addressHandler := handlers.NewAddressHandler(addressLookup)
	checkoutHandler := handlers.NewCheckoutHandler(checkoutService)

	// Every route operates on the resolved storefront session.
	api.Use(middleware.Session(sessions, cfg))

	sessionRoutes := api.Group("/session")
	{
		sessionRoutes.GET("", sessionHandler.GetSession)
		sessionRoutes.PUT("/branch", sessionHandler.SelectBranch)
		sessionRoutes.PUT("/order-type", sessionHandler.SetOrderType)
		sessionRoutes.PUT("/address", sessionHandler.SetAddress)
		sessionRoutes.POST("/login", sessionHandler.Login)
		sessionRoutes.POST("/logout", sessionHandler.Logout)
	}

	cartRoutes := api.Group("/cart")
	{
		cartRoutes.GET("", cartHandler.GetCart)
		cartRoutes.GET("/count", cartHandler.GetCartCount)
		cartRoutes.POST("/items", cartHandler.AddToCart)
		cartRoutes.PUT("/items/:id", cartHandler.UpdateCartItem)
		cartRoutes.DELETE("/items/:id", cartHandler.RemoveFromCart)
		cartRoutes.DELETE("", cartHandler.ClearCart)
		cartRoutes.POST("/merge", middleware.RequireAuth(cfg), cartHandler.MergeCart)
	}

	promotionRoutes := api.Group("/promotions")
	{
		promotionRoutes.GET("", promoHandler.GetPromotion)
		promotionRoutes.POST("/apply", promoHandler.ApplyPromotion)
		promotionRoutes.DELETE("", promoHandler.RemovePromotion)
	}

	deliveryRoutes := api.Group("/delivery")
	{
		deliveryRoutes.POST("/quote", deliveryHandler.Quote)
	}

	addressRoutes := api.Group("/addresses")
	{
		addressRoutes.GET("/postcode/:postcode", addressHandler.LookupPostcode)
		addressRoutes.PUT("/last", addressHandler.RememberAddress)
	}

	checkoutRoutes := api.Group("/checkout")
	{
		checkoutRoutes.GET("/summary", checkoutHandler.GetSummary)
		checkoutRoutes.POST("/availability", checkoutHandler.CheckAvailability)
		checkoutRoutes.POST("/confirm", checkoutHandler.Confirm)
		checkoutRoutes.POST("/payment/complete", checkoutHandler.CompletePayment)
		checkoutRoutes.POST("/payment/cancel", checkoutHandler.CancelPayment)
	}
}
