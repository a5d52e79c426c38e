package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/TheRebzu/ecodeli-sub058/config"
	"github.com/TheRebzu/ecodeli-sub058/internal/auth"
	"github.com/TheRebzu/ecodeli-sub058/internal/domain"
	"github.com/TheRebzu/ecodeli-sub058/internal/middleware"
	"github.com/TheRebzu/ecodeli-sub058/internal/repository/memory"
	"github.com/TheRebzu/ecodeli-sub058/internal/service"
	"github.com/TheRebzu/ecodeli-sub058/internal/ws"
	"github.com/TheRebzu/ecodeli-sub058/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) (*gin.Engine, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		JWT:    config.JWTConfig{AccessSecret: "test-secret", Issuer: "ecodeli"},
		Payout: config.PayoutConfig{WebhookSecret: "whsec"},
	}
	log := zap.NewNop()
	store := memory.New()
	hub := ws.NewHub()
	notes := service.NewNotificationService(store.Notifications(), hub, log)
	retry := service.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond}
	wallets := service.NewWalletService(store, notes, retry, "EUR", log)
	deliveries := service.NewDeliveryService(store, wallets, notes, service.DeliveryConfig{Currency: "EUR"}, retry, log)
	commission := service.NewCommissionService(store.Commissions(), decimal.NewFromInt(15))
	settlement := service.NewSettlementService(store, wallets, deliveries, commission, &payment.StubGateway{}, notes,
		service.SettlementConfig{}, retry, log)

	r := Setup(cfg, Services{
		Deliveries:    deliveries,
		Wallets:       wallets,
		Settlement:    settlement,
		Commission:    commission,
		Notifications: notes,
		Hub:           hub,
		Limiter:       middleware.NewRateLimiter(100, 100),
	}, log)
	return r, cfg
}

func token(t *testing.T, cfg *config.Config, userID, role string) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken(&cfg.JWT, userID, userID+"@example.com", role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestRoutes(t *testing.T) {
	r, cfg := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		want   int
	}{
		{"health", http.MethodGet, "/healthz", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"wallet needs auth", http.MethodGet, "/api/v1/me/wallet", "", http.StatusUnauthorized},
		{"wallet", http.MethodGet, "/api/v1/me/wallet", token(t, cfg, "u1", domain.RoleDeliverer), http.StatusOK},
		{"notifications", http.MethodGet, "/api/v1/me/notifications", token(t, cfg, "u1", domain.RoleDeliverer), http.StatusOK},
		{"admin only", http.MethodPost, "/api/v1/admin/settlements/run", token(t, cfg, "u1", domain.RoleClient), http.StatusForbidden},
		{"admin run", http.MethodPost, "/api/v1/admin/settlements/run", token(t, cfg, "a1", domain.RoleAdmin), http.StatusOK},
		{"deliverer cannot create", http.MethodPost, "/api/v1/deliveries", token(t, cfg, "u1", domain.RoleDeliverer), http.StatusForbidden},
		{"unknown delivery", http.MethodGet, "/api/v1/deliveries/nope", token(t, cfg, "u1", domain.RoleClient), http.StatusNotFound},
		{"webhook unsigned", http.MethodPost, "/api/v1/webhooks/payout", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}
