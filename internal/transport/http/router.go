package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/freelancehub/payments-service/internal/config"
)

func NewRouter(h *Handler, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(RecoveryMiddleware(log))
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))

	api := r.Group("/api/v1")
	{
		payments := api.Group("/payments/:gateway")
		{
			payments.POST("/webhook", h.Webhook)
			payments.POST("/charge", h.CreateCharge)
			payments.POST("/verify", h.Verify)
			payments.POST("/withdraw", h.Withdraw)
		}

		wallets := api.Group("/wallets/:user_id")
		{
			wallets.GET("/balance", h.Balance)
			wallets.GET("/history", h.History)
		}

		accounts := api.Group("/users/:user_id/bank-accounts")
		{
			accounts.GET("", h.ListBankAccounts)
			accounts.POST("", h.CreateBankAccount)
			accounts.GET("/:id", h.GetBankAccount)
			accounts.PUT("/:id", h.UpdateBankAccount)
			accounts.DELETE("/:id", h.DeleteBankAccount)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
