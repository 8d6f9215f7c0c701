package routes

import (
	"market_values_backend/controllers"
	"market_values_backend/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, db *gorm.DB) {
	// Initialize controllers
	marketController := controllers.NewMarketController(services.GlobalQuoteService, services.GlobalMarketService)
	streamController := controllers.NewStreamController(
		services.GlobalStreamService,
		services.GlobalBrokerStreamManager,
		services.NewDBTokenSource(db),
	)

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Live quote routes
		stocks := api.Group("/stocks")
		{
			stocks.GET("", marketController.GetStocks)
		}

		// Market routes
		market := api.Group("/market")
		{
			market.GET("/overview", marketController.GetMarketOverview)
			market.GET("/sectors", marketController.GetSectorPerformance)
		}

		// Stream status
		api.GET("/stream/status", streamController.GetStreamStatus)
	}

	// Websocket endpoints
	router.GET("/ws/stocks", streamController.HandleStocks)
	router.GET("/ws/broker", streamController.HandleBroker)
}
