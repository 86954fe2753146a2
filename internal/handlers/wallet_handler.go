package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/applyflow/autofill-service/internal/dtos"
	"github.com/applyflow/autofill-service/internal/ledger"
)

// WalletHandler exposes the credit ledger boundary: balance reads and
// standalone signed-delta updates for top-up flows.
type WalletHandler struct {
	Ledger ledger.Store
}

func NewWalletHandler(store ledger.Store) *WalletHandler {
	return &WalletHandler{Ledger: store}
}

// GetBalance is the GET /users/:id/balance endpoint.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	balance, err := h.Ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read balance: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "credit_balance": balance})
}

// UpdateBalance is the POST /users/:id/balance endpoint.
func (h *WalletHandler) UpdateBalance(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	var req dtos.BalanceUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
		return
	}

	balance, err := h.Ledger.UpdateBalance(c.Request.Context(), userID, req.Delta)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		case errors.Is(err, ledger.ErrInsufficientCredits):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient credits"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update balance: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "credit_balance": balance})
}

// ProvisionUser is the POST /users endpoint.
func (h *WalletHandler) ProvisionUser(c *gin.Context) {
	var req dtos.ProvisionUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
		return
	}

	user, err := h.Ledger.Provision(c.Request.Context(), req.Email, req.InitialCredits)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to provision user: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, user)
}

func parseUserID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return 0, false
	}
	return uint(id), true
}
