package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T, payout http.HandlerFunc) *TransferGateway {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/merchants/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
	})
	mux.HandleFunc("/api/v1/transactions/payouts", payout)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewTransferGateway(srv.URL, "ops@example.com", "secret", "https://hooks.example.com", time.Second, nil)
}

func TestTransferGateway_InitiatePayout(t *testing.T) {
	var got transferReq
	g := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "wd-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(transferResp{UUID: "po-9", OrderID: "wd-1", Status: "QUEUED"})
	})

	resp, err := g.InitiatePayout(context.Background(), PayoutRequest{
		Reference: "wd-1", Amount: decimal.RequireFromString("50"), Currency: "EUR", Destination: "FR7630006000011234567890189",
	})
	require.NoError(t, err)
	assert.Equal(t, "po-9", resp.PayoutID)
	assert.Equal(t, PayoutAccepted, resp.Status)
	assert.Equal(t, "50.00", got.Amount)
	assert.Equal(t, "wd-1", got.OrderID)
	assert.Equal(t, "https://hooks.example.com/api/v1/webhooks/payout", got.CallbackURL)
}

func TestTransferGateway_DuplicateReferenceReturnsExisting(t *testing.T) {
	g := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(transferResp{UUID: "po-1", Status: "COMPLETED"})
	})
	resp, err := g.InitiatePayout(context.Background(), PayoutRequest{Reference: "wd-1", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, PayoutCompleted, resp.Status)
}

func TestTransferGateway_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		declined bool
	}{
		{"bad gateway", http.StatusBadGateway, false},
		{"unavailable", http.StatusServiceUnavailable, false},
		{"request timeout", http.StatusRequestTimeout, false},
		{"throttled", http.StatusTooManyRequests, false},
		{"invalid account", http.StatusUnprocessableEntity, true},
		{"bad request", http.StatusBadRequest, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			_, err := g.InitiatePayout(context.Background(), PayoutRequest{Reference: "wd-1", Amount: decimal.NewFromInt(1)})
			require.Error(t, err)
			assert.Equal(t, tt.declined, IsDeclined(err))
		})
	}
}

func TestTransferGateway_TransportErrorIsNotDeclined(t *testing.T) {
	g := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(1500 * time.Millisecond)
	})
	_, err := g.InitiatePayout(context.Background(), PayoutRequest{Reference: "wd-1", Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.False(t, IsDeclined(err))
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("k")
	body := []byte(`{"order_id":"wd-1"}`)
	sig := Sign(secret, body)
	assert.True(t, VerifySignature(secret, body, sig))
	assert.False(t, VerifySignature(secret, []byte(`{}`), sig))
	assert.False(t, VerifySignature(nil, body, sig))
	assert.False(t, VerifySignature(secret, body, "zz"))
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, PayoutCompleted, ParseStatus("success"))
	assert.Equal(t, PayoutRejected, ParseStatus("FAILED"))
	assert.Equal(t, PayoutAccepted, ParseStatus("processing"))
}
