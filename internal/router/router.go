package router

import (
	"net/http"

	"github.com/TheRebzu/ecodeli-sub058/config"
	"github.com/TheRebzu/ecodeli-sub058/internal/domain"
	"github.com/TheRebzu/ecodeli-sub058/internal/handler"
	"github.com/TheRebzu/ecodeli-sub058/internal/metrics"
	"github.com/TheRebzu/ecodeli-sub058/internal/middleware"
	"github.com/TheRebzu/ecodeli-sub058/internal/service"
	"github.com/TheRebzu/ecodeli-sub058/internal/ws"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Services is everything the HTTP layer calls into.
type Services struct {
	Deliveries    *service.DeliveryService
	Wallets       *service.WalletService
	Settlement    *service.SettlementService
	Commission    *service.CommissionService
	Notifications *service.NotificationService
	Hub           *ws.Hub
	Limiter       *middleware.RateLimiter
}

func Setup(cfg *config.Config, svc Services, log *zap.Logger) *gin.Engine {
	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), metrics.Middleware())

	deliveryHandler := handler.NewDeliveryHandler(svc.Deliveries, log)
	walletHandler := handler.NewWalletHandler(svc.Wallets, log)
	withdrawalHandler := handler.NewWithdrawalHandler(svc.Wallets, log)
	notificationHandler := handler.NewNotificationHandler(svc.Notifications, log)
	adminHandler := handler.NewAdminHandler(svc.Deliveries, svc.Wallets, svc.Settlement, svc.Commission, log)
	payoutWebhookHandler := handler.NewPayoutWebhookHandler(svc.Settlement, cfg.Payout.WebhookSecret, log)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws/events", ws.UpgradeEventsWS(&cfg.JWT, svc.Hub))

	authMw := middleware.AuthRequired(&cfg.JWT)
	limitMw := middleware.RateLimit(svc.Limiter)

	api := r.Group("/api/v1")
	{
		api.POST("/webhooks/payout", payoutWebhookHandler.Handle)

		deliveries := api.Group("/deliveries")
		deliveries.Use(authMw, limitMw)
		{
			deliveries.POST("", middleware.RequireRole(domain.RoleClient, domain.RoleAdmin), deliveryHandler.Create)
			deliveries.GET("/:id", deliveryHandler.Get)
			deliveries.GET("/:id/events", deliveryHandler.History)
			deliveries.POST("/:id/accept", middleware.RequireRole(domain.RoleDeliverer), deliveryHandler.Accept)
			deliveries.POST("/:id/status", deliveryHandler.UpdateStatus)
			deliveries.POST("/:id/cancel", deliveryHandler.Cancel)
			deliveries.POST("/:id/dispute", deliveryHandler.Dispute)
			deliveries.POST("/:id/code", deliveryHandler.RegenerateCode)
		}

		me := api.Group("/me")
		me.Use(authMw, limitMw)
		{
			me.GET("/wallet", walletHandler.GetBalance)
			me.GET("/wallet/transactions", walletHandler.Transactions)
			me.POST("/withdrawals", withdrawalHandler.Create)
			me.GET("/withdrawals", withdrawalHandler.List)
			me.GET("/withdrawals/:id", withdrawalHandler.Get)
			me.POST("/withdrawals/:id/cancel", withdrawalHandler.Cancel)
			me.GET("/notifications", notificationHandler.List)
		}

		admin := api.Group("/admin")
		admin.Use(authMw, middleware.AdminRequired())
		{
			admin.POST("/settlements/run", adminHandler.RunSettlement)
			admin.POST("/settlements/:deliveryId/requeue", adminHandler.RequeueSettlement)
			admin.GET("/withdrawals/stale", adminHandler.StaleWithdrawals)
			admin.POST("/withdrawals/:id/resolve", adminHandler.ResolveWithdrawal)
			admin.POST("/deliveries/:id/resolve-dispute", adminHandler.ResolveDispute)
			admin.GET("/wallets/:id", adminHandler.WalletBalance)
			admin.GET("/wallets/:id/transactions", adminHandler.WalletTransactions)
			admin.GET("/wallets/:id/audit", adminHandler.AuditWallet)
			admin.POST("/wallets/:id/adjustments", adminHandler.ProposeAdjustment)
			admin.POST("/adjustments/:id/approve", adminHandler.ApproveAdjustment)
			admin.POST("/adjustments/:id/reject", adminHandler.RejectAdjustment)
			admin.PUT("/commission", adminHandler.SetCommission)
		}
	}

	return r
}
