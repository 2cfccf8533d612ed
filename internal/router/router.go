package router

import (
	"strings"
	"time"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/config"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/handler"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/infra"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/middleware"
	"github.com/bugradavut/dev-vizionmenu-sub009/internal/service"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// New wires the HTTP surface and returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis; the
// service itself is constructed in the composition root (cmd/server) so
// the worker pool and drain cron share the same instance.
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, srmCB *infra.CircuitBreaker, fiscalSvc service.FiscalService) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(corsOrigins(cfg.CORSOrigins)...))
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.RateLimiter(1000, time.Minute)) // 1000 req/min per IP

	fiscalH := handler.NewFiscalHandler(fiscalSvc)

	// Public
	r.GET("/health", handler.Health(db, rdb, srmCB))

	// Protected routes
	jwtMW := middleware.JWTAuth(cfg.JWTSecret)
	v1 := r.Group("/v1", jwtMW)
	{
		fiscal := v1.Group("/fiscal")
		{
			// The order subsystem records fiscal events with its service token
			fiscal.POST("/transactions", middleware.RequireRole("service", "admin"), fiscalH.Create)

			fiscal.GET("/transactions/:id/status", middleware.RequireRole("operator", "admin", "service"), fiscalH.Status)
			fiscal.GET("/transactions/:id/history", middleware.RequireRole("operator", "admin", "service"), fiscalH.History)
			fiscal.GET("/receipts/:id/pdf", middleware.RequireRole("operator", "admin", "service"), fiscalH.ReceiptPDF)

			fiscal.POST("/queue/process", middleware.RequireRole("operator", "admin"), fiscalH.ProcessQueue)
			fiscal.GET("/queue/stats", middleware.RequireRole("operator", "admin"), fiscalH.QueueStats)

			// Resubmission of exhausted records is admin-only
			fiscal.POST("/transactions/:id/resubmit", middleware.RequireRole("admin"), fiscalH.Resubmit)
		}
	}

	// Swagger UI — only enabled outside production. Serving the spec
	// itself requires the generated docs package (`swag init` from the
	// repo root); until it is generated and imported the UI loads but
	// reports doc.json missing.
	if cfg.Env != "production" {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}

func corsOrigins(list string) []string {
	if list == "" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(list, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
