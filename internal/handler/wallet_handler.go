package handler

import (
	"net/http"

	"github.com/TheRebzu/ecodeli-sub058/internal/middleware"
	"github.com/TheRebzu/ecodeli-sub058/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type WalletHandler struct {
	wallets *service.WalletService
	log     *zap.Logger
}

func NewWalletHandler(wallets *service.WalletService, log *zap.Logger) *WalletHandler {
	return &WalletHandler{wallets: wallets, log: log}
}

// GetBalance returns the caller's balance split into available and pending.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	b, err := h.wallets.GetBalanceForUser(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// Transactions handles GET /me/wallet/transactions, newest first.
func (h *WalletHandler) Transactions(c *gin.Context) {
	page, limit := parsePagination(c)
	list, err := h.wallets.TransactionsForUser(c.Request.Context(), middleware.GetUserID(c), limit, (page-1)*limit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "page": page, "limit": limit})
}
