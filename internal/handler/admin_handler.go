package handler

import (
	"net/http"
	"strconv"

	"github.com/TheRebzu/ecodeli-sub058/internal/middleware"
	"github.com/TheRebzu/ecodeli-sub058/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type AdminHandler struct {
	deliveries *service.DeliveryService
	wallets    *service.WalletService
	settlement *service.SettlementService
	commission *service.CommissionService
	log        *zap.Logger
}

func NewAdminHandler(
	deliveries *service.DeliveryService,
	wallets *service.WalletService,
	settlement *service.SettlementService,
	commission *service.CommissionService,
	log *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		deliveries: deliveries,
		wallets:    wallets,
		settlement: settlement,
		commission: commission,
		log:        log,
	}
}

// RunSettlement handles POST /admin/settlements/run.
func (h *AdminHandler) RunSettlement(c *gin.Context) {
	res, err := h.settlement.RunCycle(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RequeueSettlement handles POST /admin/settlements/:deliveryId/requeue.
func (h *AdminHandler) RequeueSettlement(c *gin.Context) {
	req, err := h.settlement.Requeue(c.Request.Context(), middleware.GetUserID(c), c.Param("deliveryId"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlement": req})
}

// StaleWithdrawals handles GET /admin/withdrawals/stale.
func (h *AdminHandler) StaleWithdrawals(c *gin.Context) {
	list, err := h.settlement.StaleWithdrawals(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

// ResolveWithdrawal handles POST /admin/withdrawals/:id/resolve.
func (h *AdminHandler) ResolveWithdrawal(c *gin.Context) {
	var req struct {
		Confirm bool   `json:"confirm"`
		Note    string `json:"note" binding:"max=255"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	w, err := h.wallets.ResolveStuckWithdrawal(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.Confirm, req.Note)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": w})
}

// ResolveDispute handles POST /admin/deliveries/:id/resolve-dispute.
func (h *AdminHandler) ResolveDispute(c *gin.Context) {
	var req struct {
		Resolution string `json:"resolution" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	d, err := h.deliveries.ResolveDispute(c.Request.Context(), actorFrom(c), c.Param("id"), req.Resolution)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivery": d})
}

// WalletBalance handles GET /admin/wallets/:id.
func (h *AdminHandler) WalletBalance(c *gin.Context) {
	b, err := h.wallets.GetBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// WalletTransactions handles GET /admin/wallets/:id/transactions.
func (h *AdminHandler) WalletTransactions(c *gin.Context) {
	page, limit := parsePagination(c)
	list, err := h.wallets.Transactions(c.Request.Context(), c.Param("id"), limit, (page-1)*limit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "page": page, "limit": limit})
}

// AuditWallet handles GET /admin/wallets/:id/audit.
func (h *AdminHandler) AuditWallet(c *gin.Context) {
	rep, err := h.wallets.Audit(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// ProposeAdjustment handles POST /admin/wallets/:id/adjustments. The amount is signed.
func (h *AdminHandler) ProposeAdjustment(c *gin.Context) {
	var req struct {
		Amount      decimal.Decimal `json:"amount"`
		Reference   string          `json:"reference" binding:"required,max=128"`
		Description string          `json:"description" binding:"max=255"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	row, err := h.wallets.ProposeAdjustment(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.Amount, req.Reference, req.Description)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": row})
}

func (h *AdminHandler) ApproveAdjustment(c *gin.Context) {
	row, err := h.wallets.ApproveAdjustment(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": row})
}

func (h *AdminHandler) RejectAdjustment(c *gin.Context) {
	row, err := h.wallets.RejectAdjustment(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": row})
}

// SetCommission handles PUT /admin/commission. With user_id it sets a per-user
// override, otherwise the platform-wide percent.
func (h *AdminHandler) SetCommission(c *gin.Context) {
	var req struct {
		Percent decimal.Decimal `json:"percent"`
		UserID  string          `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	var err error
	if req.UserID != "" {
		err = h.commission.SetRate(c.Request.Context(), req.UserID, req.Percent)
	} else {
		err = h.commission.SetDefault(c.Request.Context(), req.Percent)
	}
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.log.Info("commission updated", zap.String("admin_id", middleware.GetUserID(c)),
		zap.String("user_id", req.UserID), zap.String("percent", req.Percent.String()))
	c.JSON(http.StatusOK, gin.H{"user_id": req.UserID, "percent": req.Percent})
}

func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
