package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/applyflow/autofill-service/internal/dtos"
	"github.com/applyflow/autofill-service/internal/ledger"
	"github.com/applyflow/autofill-service/internal/services"
)

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// AutofillHandler exposes the autofill orchestrator over HTTP.
type AutofillHandler struct {
	Autofill autofiller
}

type autofiller interface {
	Autofill(ctx context.Context, req *dtos.AutofillRequest) (*services.FilledForm, error)
}

func NewAutofillHandler(autofill autofiller) *AutofillHandler {
	return &AutofillHandler{Autofill: autofill}
}

// Fill is the POST /autofill endpoint.
func (h *AutofillHandler) Fill(c *gin.Context) {
	var req dtos.AutofillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
		return
	}

	form, err := h.Autofill.Autofill(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientCredits):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient credits"})
		case errors.Is(err, ledger.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		case errors.Is(err, context.DeadlineExceeded):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Autofill timed out, please retry"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Autofill failed: " + err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    form,
	})
}
