package handler

import (
	"net/http"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"
	"github.com/TheRebzu/ecodeli-sub058/internal/middleware"
	"github.com/TheRebzu/ecodeli-sub058/internal/models"
	"github.com/TheRebzu/ecodeli-sub058/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type DeliveryHandler struct {
	svc *service.DeliveryService
	log *zap.Logger
}

func NewDeliveryHandler(svc *service.DeliveryService, log *zap.Logger) *DeliveryHandler {
	return &DeliveryHandler{svc: svc, log: log}
}

func actorFrom(c *gin.Context) service.Actor {
	return service.Actor{ID: middleware.GetUserID(c), Role: middleware.GetRole(c)}
}

// Create handles POST /deliveries. Admins (acting for the announcement service)
// may set the client and the captured payment; clients create for themselves.
func (h *DeliveryHandler) Create(c *gin.Context) {
	var req struct {
		AnnouncementID  string          `json:"announcement_id" binding:"required"`
		Price           decimal.Decimal `json:"price"`
		Currency        string          `json:"currency"`
		ClientID        string          `json:"client_id"`
		PaymentCaptured bool            `json:"payment_captured"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	actor := actorFrom(c)
	in := service.CreateDeliveryInput{
		ClientID:       actor.ID,
		AnnouncementID: req.AnnouncementID,
		Price:          req.Price,
		Currency:       req.Currency,
	}
	if actor.IsAdmin() {
		if req.ClientID != "" {
			in.ClientID = req.ClientID
		}
		in.PaymentCaptured = req.PaymentCaptured
	}
	d, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"delivery": d})
}

// Get handles GET /deliveries/:id. The validation code is shown to the client only.
func (h *DeliveryHandler) Get(c *gin.Context) {
	d, ok := h.load(c)
	if !ok {
		return
	}
	resp := gin.H{"delivery": d}
	if d.ClientID == middleware.GetUserID(c) && d.ValidationCode != nil {
		resp["validation_code"] = *d.ValidationCode
	}
	c.JSON(http.StatusOK, resp)
}

// History handles GET /deliveries/:id/events.
func (h *DeliveryHandler) History(c *gin.Context) {
	d, ok := h.load(c)
	if !ok {
		return
	}
	events, err := h.svc.History(c.Request.Context(), d.ID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// load fetches the delivery and checks the caller is a party to it or an admin.
func (h *DeliveryHandler) load(c *gin.Context) (*models.Delivery, bool) {
	d, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return nil, false
	}
	actor := actorFrom(c)
	if d.ClientID != actor.ID && !d.IsDeliverer(actor.ID) && !actor.IsAdmin() {
		writeError(c, h.log, domain.ErrNotFound)
		return nil, false
	}
	return d, true
}

// Accept handles POST /deliveries/:id/accept (deliverers).
func (h *DeliveryHandler) Accept(c *gin.Context) {
	d, _, err := h.svc.Accept(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivery": d})
}

// UpdateStatus handles POST /deliveries/:id/status. DELIVERED needs the client's code.
func (h *DeliveryHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
		Code   string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	d, err := h.svc.Advance(c.Request.Context(), c.Param("id"), actorFrom(c), domain.DeliveryStatus(req.Status), req.Code)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivery": d})
}

type reasonRequest struct {
	Reason string `json:"reason" binding:"max=512"`
}

func (h *DeliveryHandler) Cancel(c *gin.Context) {
	var req reasonRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	d, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), actorFrom(c), req.Reason)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivery": d})
}

func (h *DeliveryHandler) Dispute(c *gin.Context) {
	var req reasonRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	d, err := h.svc.Dispute(c.Request.Context(), c.Param("id"), actorFrom(c), req.Reason)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivery": d})
}

// RegenerateCode handles POST /deliveries/:id/code.
func (h *DeliveryHandler) RegenerateCode(c *gin.Context) {
	code, err := h.svc.RegenerateCode(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"validation_code": code})
}
