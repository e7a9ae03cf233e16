package routes

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ukuvago/contractdesk/internal/config"
	"github.com/ukuvago/contractdesk/internal/handlers"
	"github.com/ukuvago/contractdesk/internal/middleware"
	"github.com/ukuvago/contractdesk/internal/services"
	"gorm.io/gorm"
)

// SetupRouter wires the contract API onto a new engine. db may be nil while
// the database is still connecting; API calls then answer 503.
func SetupRouter(cfg *config.Config, db *gorm.DB, deps services.Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.RequestLogger(), middleware.Recovery())

	// CORS configuration
	router.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"db_connected": ping(c, db),
		})
	})

	api := router.Group("/api")

	// Middleware to check Database Readiness
	api.Use(func(c *gin.Context) {
		if db == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "Service initializing, please try again shortly",
			})
			return
		}
		c.Next()
	})

	if db == nil {
		return router
	}

	// Initialize services
	authService := services.NewAuthService(cfg)
	contractService := services.NewContractService(cfg, db, authService, deps)

	// Initialize handlers
	contractHandler := handlers.NewContractHandler(contractService)
	publicHandler := handlers.NewPublicContractHandler(contractService)

	// Contract routes (tenant staff)
	contracts := api.Group("/opportunities/:opportunityId/contracts")
	contracts.Use(middleware.AuthMiddleware(authService))
	{
		contracts.GET("", contractHandler.ListContracts)
		contracts.GET("/:id", contractHandler.GetContract)
		contracts.GET("/:id/signatures", contractHandler.GetSignatures)
		contracts.GET("/:id/audit", contractHandler.GetAuditTrail)
		contracts.GET("/:id/audit/export", contractHandler.ExportAuditTrail)
		contracts.GET("/:id/pdf", contractHandler.DownloadContract)

		writes := contracts.Group("")
		writes.Use(middleware.RequireWrite())
		{
			writes.POST("", contractHandler.CreateContract)
			writes.POST("/generate", contractHandler.GenerateContract)
			writes.PATCH("/:id", contractHandler.UpdateContract)
			writes.DELETE("/:id", contractHandler.DeleteContract)
			writes.POST("/:id/regenerate", contractHandler.RegenerateContract)
			writes.POST("/:id/share", contractHandler.ShareContract)
			writes.POST("/:id/send", contractHandler.SendContract)
			writes.POST("/:id/void", contractHandler.VoidContract)
			writes.POST("/:id/activate", contractHandler.ActivateContract)
			writes.POST("/:id/revise", contractHandler.ReviseContract)
			writes.POST("/:id/signatures/:signatureId/resend", contractHandler.ResendSignature)
		}

		// Ending an active contract is reserved for admins and managers
		contracts.POST("/:id/terminate", middleware.RequireRole(services.RoleAdmin, services.RoleManager), contractHandler.TerminateContract)
	}

	// Public routes (share and signing tokens)
	public := api.Group("/public/contracts")
	public.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
	{
		public.GET("/:token", publicHandler.ViewSharedContract)
		public.POST("/:token/verify", publicHandler.VerifySharePassword)
		public.GET("/sign/:token", publicHandler.ViewSigningRequest)
		public.POST("/sign/:token", publicHandler.SignContract)
		public.POST("/sign/:token/decline", publicHandler.DeclineContract)
	}

	return router
}

func ping(c *gin.Context, db *gorm.DB) bool {
	if db == nil {
		return false
	}
	sqlDB, err := db.DB()
	if err != nil {
		return false
	}
	return sqlDB.PingContext(c.Request.Context()) == nil
}
