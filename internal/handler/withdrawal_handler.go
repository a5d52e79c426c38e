package handler

import (
	"net/http"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"
	"github.com/TheRebzu/ecodeli-sub058/internal/middleware"
	"github.com/TheRebzu/ecodeli-sub058/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type WithdrawalHandler struct {
	wallets *service.WalletService
	log     *zap.Logger
}

func NewWithdrawalHandler(wallets *service.WalletService, log *zap.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{wallets: wallets, log: log}
}

// Create reserves the amount and queues the payout for the next settlement cycle.
func (h *WithdrawalHandler) Create(c *gin.Context) {
	var req struct {
		Amount      decimal.Decimal `json:"amount"`
		Destination string          `json:"destination" binding:"required,max=128"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	w, err := h.wallets.RequestWithdrawal(c.Request.Context(), middleware.GetUserID(c), req.Amount, req.Destination)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"withdrawal": w})
}

func (h *WithdrawalHandler) List(c *gin.Context) {
	page, limit := parsePagination(c)
	list, err := h.wallets.ListWithdrawals(c.Request.Context(), middleware.GetUserID(c), limit, (page-1)*limit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "page": page, "limit": limit})
}

func (h *WithdrawalHandler) Get(c *gin.Context) {
	w, err := h.wallets.GetWithdrawal(c.Request.Context(), c.Param("id"))
	if err == nil && w.UserID != middleware.GetUserID(c) {
		err = domain.ErrNotFound
	}
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": w})
}

// Cancel handles POST /me/withdrawals/:id/cancel while the request is still PENDING.
func (h *WithdrawalHandler) Cancel(c *gin.Context) {
	w, err := h.wallets.CancelWithdrawal(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": w})
}
