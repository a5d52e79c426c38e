package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps domain errors onto HTTP responses. Unknown errors are logged and
// reported as 500 without detail.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	var (
		codeErr  *domain.CodeError
		fundsErr *domain.FundsError
	)
	switch {
	case errors.As(err, &codeErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":              err.Error(),
			"code":               "INVALID_CODE",
			"remaining_attempts": codeErr.Remaining,
		})
	case errors.As(err, &fundsErr):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":     err.Error(),
			"code":      "INSUFFICIENT_FUNDS",
			"available": fundsErr.Available.StringFixed(2),
		})
	case errors.Is(err, domain.ErrCodeLocked):
		c.JSON(http.StatusLocked, gin.H{"error": err.Error(), "code": "CODE_LOCKED"})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "code": "NOT_FOUND"})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "FORBIDDEN"})
	case errors.Is(err, domain.ErrNotEligible):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "NOT_ELIGIBLE"})
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_INPUT"})
	case errors.Is(err, domain.ErrAlreadyValidated):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "ALREADY_VALIDATED"})
	case errors.Is(err, domain.ErrDuplicateOperation):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "DUPLICATE"})
	case errors.Is(err, domain.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "resource busy, retry", "code": "CONFLICT"})
	case errors.Is(err, domain.ErrSettlementFrozen):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "SETTLEMENT_FROZEN"})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": "INVALID_TRANSITION"})
	case errors.Is(err, domain.ErrPayoutGateway):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "code": "PAYOUT_FAILED"})
	default:
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_INPUT"})
}

// bindOptionalJSON binds the body when there is one; an empty body leaves v untouched.
func bindOptionalJSON(c *gin.Context, v interface{}) error {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
