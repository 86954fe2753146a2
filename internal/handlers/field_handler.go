package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/applyflow/autofill-service/internal/dtos"
	"github.com/applyflow/autofill-service/internal/registry"
)

// FieldHandler exposes the field lookup boundary consumed by the form
// ingestion flow before it invokes autofill.
type FieldHandler struct {
	Registry registry.Store
}

func NewFieldHandler(store registry.Store) *FieldHandler {
	return &FieldHandler{Registry: store}
}

// Lookup is the POST /fields/lookup endpoint. It partitions the requested
// hashes into cached records and unseen hashes.
func (h *FieldHandler) Lookup(c *gin.Context) {
	var req dtos.FieldLookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
		return
	}

	found, missing, err := h.Registry.LookupMany(c.Request.Context(), req.Hashes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Field lookup failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"found": found, "missing": missing})
}
