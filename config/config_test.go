package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, 3, cfg.Delivery.MaxCodeAttempts)
	assert.Equal(t, 1, cfg.Delivery.MaxActivePerDeliverer)
	assert.Equal(t, "15", cfg.Settlement.DefaultCommission.String())
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.False(t, cfg.Server.IsProduction())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("DELIVERY_MAX_CODE_ATTEMPTS", "5")
	t.Setenv("SETTLEMENT_COMMISSION_PERCENT", "12.5")
	t.Setenv("SETTLEMENT_STALE_AFTER", "2h")
	t.Setenv("RATE_LIMIT_RPS", "not-a-number")

	cfg := Load()
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Delivery.MaxCodeAttempts)
	assert.Equal(t, "12.5", cfg.Settlement.DefaultCommission.String())
	assert.Equal(t, 2*time.Hour, cfg.Settlement.StaleAfter)
	assert.Equal(t, float64(20), cfg.RateLimit.RPS)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		driver  string
		payout  string
		secret  string
		wantErr string
	}{
		{"memory locally", "development", "memory", "", "", ""},
		{"mysql in production", "production", "mysql", "", "", ""},
		{"memory in production", "production", "memory", "", "", "DB_DRIVER=memory"},
		{"payout without secret", "production", "mysql", "https://payouts.example", "", "PAYOUT_WEBHOOK_SECRET"},
		{"payout with secret", "production", "mysql", "https://payouts.example", "s3cret", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server:   ServerConfig{Env: tt.env},
				Database: DatabaseConfig{Driver: tt.driver},
				Payout:   PayoutConfig{BaseURL: tt.payout, WebhookSecret: tt.secret},
			}
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
