package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/EternisAI/silo-portal/internal/agents"
	"github.com/EternisAI/silo-portal/internal/api/http/dto"
	"github.com/EternisAI/silo-portal/internal/api/http/middleware"
	"github.com/EternisAI/silo-portal/internal/operations"
	"github.com/EternisAI/silo-portal/internal/protocol"
	"github.com/gin-gonic/gin"
)

const (
	DefaultAwaitTimeout = 30 * time.Second
	agentOfflineReason  = "Agent offline"
)

// Dispatcher turns REST calls into operations on an agent's channel.
type Dispatcher struct {
	agentService *agents.Service
	correlator   *operations.Correlator
	awaitTimeout time.Duration
}

func NewDispatcher(agentService *agents.Service, correlator *operations.Correlator, awaitTimeout time.Duration) *Dispatcher {
	if awaitTimeout <= 0 {
		awaitTimeout = DefaultAwaitTimeout
	}
	return &Dispatcher{
		agentService: agentService,
		correlator:   correlator,
		awaitTimeout: awaitTimeout,
	}
}

// dispatch writes the error response itself and reports false when the
// operation could not be handed to the agent.
func (d *Dispatcher) dispatch(c *gin.Context, kind protocol.OperationKind, target string, payload protocol.Instruction) (string, bool) {
	agentID := c.Param("agentId")
	ctx := c.Request.Context()

	if _, err := d.agentService.GetAgentByID(ctx, agentID); err != nil {
		if errors.Is(err, agents.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
			return "", false
		}
		slog.Error("Failed to get agent", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return "", false
	}

	id, err := d.correlator.Dispatch(ctx, operations.Request{
		AgentID:     agentID,
		Kind:        kind,
		Target:      target,
		RequestedBy: c.GetString(middleware.UserIDKey),
		Payload:     payload,
	})
	if errors.Is(err, operations.ErrAgentUnreachable) {
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, failErr := d.correlator.Fail(failCtx, id, agentOfflineReason); failErr != nil {
			slog.Error("Failed to mark operation failed", "error", failErr, "operation_id", id)
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Agent is offline or unreachable", "operationId": id})
		return "", false
	}
	if err != nil {
		slog.Error("Failed to dispatch operation", "error", err, "agent_id", agentID, "kind", kind)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return "", false
	}
	return id, true
}

// dispatchAndAwait dispatches and then waits for the agent's answer,
// writing the result payload on success.
func (d *Dispatcher) dispatchAndAwait(c *gin.Context, kind protocol.OperationKind, target string, payload protocol.Instruction) {
	id, ok := d.dispatch(c, kind, target, payload)
	if !ok {
		return
	}

	op, err := d.correlator.Await(c.Request.Context(), id, d.awaitTimeout)
	switch {
	case errors.Is(err, operations.ErrAwaitTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Agent did not respond in time", "operationId": id})
		return
	case err != nil:
		slog.Error("Failed to await operation", "error", err, "operation_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if op.Status == operations.StatusFailed {
		c.JSON(http.StatusBadGateway, gin.H{"error": op.Error, "operationId": id})
		return
	}
	if len(op.Result) == 0 {
		c.JSON(http.StatusOK, gin.H{"operationId": id})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", op.Result)
}

func (d *Dispatcher) accepted(c *gin.Context, id, message, target string) {
	c.JSON(http.StatusOK, dto.DispatchResponse{
		Message:     message,
		OperationID: id,
		AgentID:     c.Param("agentId"),
		Target:      target,
	})
}
