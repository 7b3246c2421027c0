package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/EternisAI/silo-portal/internal/api/http/dto"
	"github.com/EternisAI/silo-portal/internal/operations"
	"github.com/gin-gonic/gin"
)

type OperationsHandler struct {
	correlator *operations.Correlator
}

func NewOperationsHandler(correlator *operations.Correlator) *OperationsHandler {
	return &OperationsHandler{correlator: correlator}
}

// GET /api/operations/:id
func (h *OperationsHandler) GetOperation(c *gin.Context) {
	op, err := h.correlator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, operations.ErrOperationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
			return
		}
		slog.Error("Failed to get operation", "error", err, "operation_id", c.Param("id"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, toOperationResponse(op))
}

func toOperationResponse(op *operations.Operation) dto.OperationResponse {
	return dto.OperationResponse{
		ID:          op.ID,
		AgentID:     op.AgentID,
		Kind:        string(op.Kind),
		Target:      op.Target,
		Status:      op.Status,
		Error:       op.Error,
		Result:      op.Result,
		RequestedBy: op.RequestedBy,
		CreatedAt:   op.CreatedAt,
		CompletedAt: op.CompletedAt,
	}
}
