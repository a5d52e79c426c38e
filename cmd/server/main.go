package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheRebzu/ecodeli-sub058/config"
	"github.com/TheRebzu/ecodeli-sub058/internal/database"
	"github.com/TheRebzu/ecodeli-sub058/internal/logger"
	"github.com/TheRebzu/ecodeli-sub058/internal/middleware"
	"github.com/TheRebzu/ecodeli-sub058/internal/router"
	"github.com/TheRebzu/ecodeli-sub058/internal/scheduler"
	"github.com/TheRebzu/ecodeli-sub058/internal/service"
	"github.com/TheRebzu/ecodeli-sub058/internal/ws"
	"github.com/TheRebzu/ecodeli-sub058/pkg/payment"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	zl, err := logger.New(cfg.Server.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck
	if err := cfg.Validate(); err != nil {
		zl.Fatal("config", zap.Error(err))
	}

	store, closeStore, err := database.OpenStore(&cfg.Database)
	if err != nil {
		zl.Fatal("database", zap.Error(err))
	}
	defer closeStore() //nolint:errcheck

	retry := service.RetryPolicy{Attempts: cfg.Retry.Attempts, BaseDelay: cfg.Retry.BaseDelay}
	hub := ws.NewHub()
	notifications := service.NewNotificationService(store.Notifications(), hub, zl.Named("notify"))
	wallets := service.NewWalletService(store, notifications, retry, cfg.Delivery.Currency, zl.Named("wallet"))
	deliveries := service.NewDeliveryService(store, wallets, notifications, service.DeliveryConfig{
		MaxCodeAttempts:       cfg.Delivery.MaxCodeAttempts,
		MaxActivePerDeliverer: cfg.Delivery.MaxActivePerDeliverer,
		Currency:              cfg.Delivery.Currency,
	}, retry, zl.Named("delivery"))
	commission := service.NewCommissionService(store.Commissions(), cfg.Settlement.DefaultCommission)

	var gateway payment.Gateway = &payment.StubGateway{}
	if cfg.Payout.BaseURL != "" {
		gateway = payment.NewTransferGateway(cfg.Payout.BaseURL, cfg.Payout.Email, cfg.Payout.Password,
			cfg.Payout.WebhookBaseURL, cfg.Payout.Timeout, zl.Named("payout"))
	} else {
		zl.Warn("PAYOUT_BASE_URL not set, payouts complete through the stub gateway")
	}
	settlement := service.NewSettlementService(store, wallets, deliveries, commission, gateway, notifications,
		service.SettlementConfig{
			BatchSize:       cfg.Settlement.BatchSize,
			Concurrency:     cfg.Settlement.Concurrency,
			MaxAttempts:     cfg.Settlement.MaxAttempts,
			PlatformOwnerID: cfg.Settlement.PlatformOwnerID,
			StaleAfter:      cfg.Settlement.StaleAfter,
		}, retry, zl.Named("settlement"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := scheduler.NewSettlementRunner(settlement, cfg.Settlement.Schedule, zl.Named("scheduler"))
	deliveries.OnDelivered(runner.Trigger)
	if err := runner.Start(ctx); err != nil {
		zl.Fatal("scheduler", zap.Error(err))
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	limiter.StartCleanup(5*time.Minute, ctx.Done())

	engine := router.Setup(cfg, router.Services{
		Deliveries:    deliveries,
		Wallets:       wallets,
		Settlement:    settlement,
		Commission:    commission,
		Notifications: notifications,
		Hub:           hub,
		Limiter:       limiter,
	}, zl)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		zl.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("db_driver", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")
	runner.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("server shutdown", zap.Error(err))
	}
	zl.Info("server stopped")
}
