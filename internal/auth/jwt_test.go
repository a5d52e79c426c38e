package auth

import (
	"testing"
	"time"

	"github.com/TheRebzu/ecodeli-sub058/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccessToken(t *testing.T) {
	cfg := &config.JWTConfig{AccessSecret: "s3cret", Issuer: "ecodeli"}
	tok, err := GenerateAccessToken(cfg, "u-1", "d@example.com", "DELIVERER", time.Minute)
	require.NoError(t, err)

	claims, err := ParseAccessToken(cfg, tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "DELIVERER", claims.Role)

	_, err = ParseAccessToken(&config.JWTConfig{AccessSecret: "other", Issuer: "ecodeli"}, tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, _ := GenerateAccessToken(cfg, "u-1", "", "CLIENT", -time.Minute)
	_, err = ParseAccessToken(cfg, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
