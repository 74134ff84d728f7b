package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
)

type RouterConfig struct {
	JWTSecret    string
	AllowOrigins []string
	// NewRelic is optional.
	NewRelic *newrelic.Application
	Log      *slog.Logger
}

func NewRouter(cfg RouterConfig, bookings *BookingHandler, admin *AdminHandler, webhooks *WebhookHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(cfg.Log))

	if cfg.NewRelic != nil {
		r.Use(nrgin.Middleware(cfg.NewRelic))
	}

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	hooks := r.Group("/webhooks")
	{
		hooks.POST("/gateway", webhooks.Gateway)
		hooks.POST("/payouts", webhooks.Payouts)
	}

	v1 := r.Group("/api/v1")
	v1.Use(JWTAuth(cfg.JWTSecret))
	{
		b := v1.Group("/bookings")
		b.POST("", RequireRole(domain.RoleClient), bookings.Create)
		b.GET("/:id", bookings.Get)
		b.POST("/:id/accept", RequireRole(domain.RoleProvider), bookings.Accept)
		b.POST("/:id/start", RequireRole(domain.RoleProvider), bookings.Start)
		b.POST("/:id/proof", RequireRole(domain.RoleProvider), bookings.SubmitProof)
		b.POST("/:id/confirm", RequireRole(domain.RoleClient), bookings.Confirm)
		b.POST("/:id/cancel", RequireRole(domain.RoleClient, domain.RoleProvider), bookings.Cancel)
		b.POST("/:id/dispute", RequireRole(domain.RoleClient, domain.RoleProvider), bookings.Dispute)
		b.POST("/:id/dispute/resolve", RequireRole(domain.RoleAdmin), bookings.ResolveDispute)

		a := v1.Group("/admin")
		a.Use(RequireRole(domain.RoleAdmin))
		a.POST("/payments/:id/payouts/retry", admin.RetryPayout)
		a.GET("/reconciliation", admin.Reconciliation)
	}

	return r
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		log.InfoContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(started),
		)
	}
}
