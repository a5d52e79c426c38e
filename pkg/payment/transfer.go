package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TransferGateway sends bank transfers through the payout provider's REST API.
type TransferGateway struct {
	BaseURL     string
	Email       string
	Password    string
	WebhookBase string
	client      *http.Client
	log         *zap.Logger
}

func NewTransferGateway(baseURL, email, password, webhookBase string, timeout time.Duration, log *zap.Logger) *TransferGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TransferGateway{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Email:       email,
		Password:    password,
		WebhookBase: strings.TrimRight(webhookBase, "/"),
		client:      &http.Client{Timeout: timeout},
		log:         log,
	}
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResp struct {
	Token string `json:"token"`
}

// getToken logs in and returns a fresh token for one payout call.
func (g *TransferGateway) getToken(ctx context.Context) (string, error) {
	body, _ := json.Marshal(loginReq{Email: g.Email, Password: g.Password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/api/v1/merchants/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed: %d", resp.StatusCode)
	}
	var out loginResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("login returned empty token")
	}
	return out.Token, nil
}

type transferReq struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
	Description string `json:"description"`
	OrderID     string `json:"order_id"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type transferResp struct {
	UUID                string `json:"uuid"`
	OrderID             string `json:"order_id"`
	Status              string `json:"status"`
	ResponseCode        string `json:"response_code"`
	ResponseDescription string `json:"response_description"`
}

// InitiatePayout posts a transfer keyed by req.Reference. A 409 means the provider
// already holds an instruction for this reference; its current state is returned.
func (g *TransferGateway) InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResponse, error) {
	token, err := g.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("payout login: %w", err)
	}
	callbackURL := req.CallbackURL
	if callbackURL == "" && g.WebhookBase != "" {
		callbackURL = g.WebhookBase + "/api/v1/webhooks/payout"
	}
	desc := req.Description
	if desc == "" {
		desc = "Wallet withdrawal"
	}
	body, _ := json.Marshal(transferReq{
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		Destination: req.Destination,
		Description: desc,
		OrderID:     req.Reference,
		CallbackURL: callbackURL,
	})
	apiReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/api/v1/transactions/payouts", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	apiReq.Header.Set("Content-Type", "application/json")
	apiReq.Header.Set("Authorization", "Bearer "+token)
	apiReq.Header.Set("Idempotency-Key", req.Reference)

	g.log.Info("payout request", zap.String("order_id", req.Reference), zap.String("amount", req.Amount.StringFixed(2)))
	resp, err := g.client.Do(apiReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	g.log.Info("payout response", zap.String("order_id", req.Reference), zap.Int("status", resp.StatusCode))

	switch code := resp.StatusCode; {
	case code == http.StatusOK, code == http.StatusCreated, code == http.StatusAccepted, code == http.StatusConflict:
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return nil, fmt.Errorf("payout api: %d %s", code, string(respBody))
	case code >= 400 && code < 500:
		return nil, &DeclinedError{StatusCode: code, Message: strings.TrimSpace(string(respBody))}
	default:
		return nil, fmt.Errorf("payout api: %d %s", code, string(respBody))
	}
	var out transferResp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("payout api: decode: %w", err)
	}
	return &PayoutResponse{
		PayoutID: out.UUID,
		Status:   ParseStatus(out.Status),
		Message:  out.ResponseDescription,
	}, nil
}

// ParseStatus maps provider status words onto PayoutStatus.
func ParseStatus(s string) PayoutStatus {
	switch strings.ToUpper(s) {
	case "COMPLETED", "SUCCESS", "SUCCESSFUL", "PAID":
		return PayoutCompleted
	case "FAILED", "REJECTED", "CANCELLED", "REVERSED":
		return PayoutRejected
	default:
		return PayoutAccepted
	}
}
