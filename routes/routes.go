package routes

import (
	"github.com/gin-gonic/gin"

	"go_market_ranking/config"
	"go_market_ranking/controllers"
	"go_market_ranking/middleware"
	"go_market_ranking/services/cache"
	"go_market_ranking/services/catalog"
	"go_market_ranking/services/pipeline"
	"go_market_ranking/services/ranking"
)

// SetupRoutes registers all API routes.
func SetupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	repo *ranking.Repository,
	cat *catalog.Store,
	p *pipeline.Pipeline,
	fetchCache *cache.Cache,
) {
	rankingController := controllers.NewRankingController(repo, cat)
	syncController := controllers.NewSyncController(p, fetchCache)

	api := router.Group("/api/v1")
	{
		rankings := api.Group("/rankings")
		{
			rankings.GET("/latest", rankingController.GetLatest)
			rankings.GET("/history/:symbol", rankingController.GetHistory)
			rankings.GET("/movers", rankingController.GetMovers)
		}

		api.GET("/instruments", rankingController.GetInstruments)
		api.GET("/sync/progress", syncController.GetProgress)

		admin := api.Group("/admin", middleware.JWTAuthMiddleware(cfg.JWTSecret))
		{
			admin.POST("/sync", syncController.TriggerSync)
			admin.GET("/cache/stats", syncController.GetCacheStats)
			admin.POST("/cache/invalidate", syncController.InvalidateCache)
		}
	}

	// Websocket progress stream
	router.GET("/ws/sync/progress", syncController.StreamProgress)

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"message": "Market Ranking API is running",
		})
	})
}
