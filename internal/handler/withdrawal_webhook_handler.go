package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"
	"github.com/TheRebzu/ecodeli-sub058/internal/service"
	"github.com/TheRebzu/ecodeli-sub058/pkg/payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PayoutCallback is the webhook payload sent by the payout gateway.
type PayoutCallback struct {
	Reference         string `json:"reference"`
	MerchantOrderID   string `json:"merchant_order_id"`
	PayoutID          string `json:"transaction_uuid"`
	Status            string `json:"status"`
	StatusDescription string `json:"status_description"`
}

type PayoutWebhookHandler struct {
	settlement *service.SettlementService
	secret     []byte
	log        *zap.Logger
}

func NewPayoutWebhookHandler(settlement *service.SettlementService, secret string, log *zap.Logger) *PayoutWebhookHandler {
	return &PayoutWebhookHandler{settlement: settlement, secret: []byte(secret), log: log}
}

// Handle applies the gateway's final verdict on a payout. The body must carry a valid
// X-Signature. Unknown references are acknowledged so the gateway stops retrying.
func (h *PayoutWebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if !payment.VerifySignature(h.secret, body, c.GetHeader("X-Signature")) {
		h.log.Warn("payout callback with bad signature", zap.String("remote", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	var payload PayoutCallback
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ref := payload.Reference
	if ref == "" {
		ref = payload.MerchantOrderID
	}
	if ref == "" && payload.PayoutID == "" {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	status := payment.ParseStatus(payload.Status)
	w, err := h.settlement.HandlePayoutCallback(c.Request.Context(), ref, payload.PayoutID, status, payload.StatusDescription)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.log.Warn("payout callback for unknown withdrawal", zap.String("reference", ref), zap.String("payout_id", payload.PayoutID))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	case errors.Is(err, domain.ErrInvalidTransition):
		// Late or contradictory verdict on a closed withdrawal; keep the first one.
		h.log.Warn("payout callback ignored", zap.String("reference", ref), zap.String("status", string(status)), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	case err != nil:
		writeError(c, h.log, err)
		return
	}
	h.log.Info("payout callback applied", zap.String("withdrawal_id", w.ID), zap.String("status", string(w.Status)))
	c.JSON(http.StatusOK, gin.H{"received": true, "status": w.Status})
}
