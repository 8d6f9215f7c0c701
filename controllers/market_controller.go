package controllers

import (
	"net/http"
	"strings"

	"market_values_backend/config"
	"market_values_backend/services"

	"github.com/gin-gonic/gin"
)

// MarketController handles live quote and market overview requests
type MarketController struct {
	quotes *services.QuoteService
	market *services.MarketService
}

// NewMarketController creates a new market controller
func NewMarketController(quotes *services.QuoteService, market *services.MarketService) *MarketController {
	return &MarketController{
		quotes: quotes,
		market: market,
	}
}

// GetStocks returns live quotes for the configured symbol universe, or for
// the symbols given in the "symbols" query parameter.
// GET /api/v1/stocks
func (mc *MarketController) GetStocks(c *gin.Context) {
	symbols := config.StockCodes
	if param := c.Query("symbols"); param != "" {
		symbols = strings.Split(param, ",")
	}

	quotes := mc.quotes.FetchAll(symbols)
	c.JSON(http.StatusOK, gin.H{
		"data": quotes,
	})
}

// GetMarketOverview returns indices plus top gainers, losers and movers.
// GET /api/v1/market/overview
func (mc *MarketController) GetMarketOverview(c *gin.Context) {
	c.JSON(http.StatusOK, mc.market.Overview())
}

// GetSectorPerformance returns the average move per sector.
// GET /api/v1/market/sectors
func (mc *MarketController) GetSectorPerformance(c *gin.Context) {
	c.JSON(http.StatusOK, mc.market.SectorPerformance())
}
