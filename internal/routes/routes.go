package routes

import (
	"catalog-admin-api/internal/handlers"
	"catalog-admin-api/internal/middleware"
	"catalog-admin-api/internal/models"

	"github.com/gin-gonic/gin"
)

// SetupRoutes builds the router. limiter may be nil to disable rate limiting
// on the admin routes.
func SetupRoutes(deps handlers.Deps, limiter *middleware.RateLimiter) *gin.Engine {
	h := handlers.New(deps)

	// Create a new GIN Router
	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery(), middleware.RequestLogger(deps.Logger))

	// CORS middleware (for frontend integration)
	ginRouter.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check endpoint
	ginRouter.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"message": "Catalog Admin API is running",
		})
	})

	// Prometheus scrape endpoint for the cache metrics
	ginRouter.GET("/metrics", gin.WrapH(deps.Cache.Metrics().Handler()))

	// Public routes (no authentication required)
	api := ginRouter.Group("/api")
	{
		api.POST("/login", h.Login)

		api.GET("/products", h.GetProducts)
		api.GET("/products/count", h.CountProducts)
		api.GET("/products/:id", h.GetProductByID)
		api.GET("/categories", h.GetCategories)
	}

	// Admin routes (authentication and admin role required)
	adminRoutes := api.Group("/admin")
	adminRoutes.Use(middleware.JWTAuthMiddleware(deps.Tokens), middleware.RequireRole(string(models.RoleAdmin)))
	if limiter != nil {
		adminRoutes.Use(limiter.Middleware())
	}
	{
		// Product endpoints
		adminRoutes.POST("/products", h.CreateProduct)
		adminRoutes.POST("/products/import", h.ImportProducts)
		adminRoutes.PUT("/products/:id", h.UpdateProduct)
		adminRoutes.PATCH("/products/:id/stock", h.UpdateProductStock)
		adminRoutes.DELETE("/products/:id", h.DeleteProduct)
		// Category endpoints
		adminRoutes.POST("/categories", h.CreateCategory)
		// Users endpoint
		adminRoutes.GET("/users", h.GetAllUsers)
		// Cache management
		adminRoutes.POST("/cache/invalidate", h.InvalidateCache)
		adminRoutes.POST("/cache/clear", h.ClearCache)
		adminRoutes.POST("/cache/sweep", h.SweepCache)
		adminRoutes.GET("/cache/stats", h.CacheStats)
		// Live catalog and cache events
		adminRoutes.GET("/ws", h.Events)
	}

	return ginRouter
}
