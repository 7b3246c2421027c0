package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/EternisAI/silo-portal/internal/agents"
	"github.com/EternisAI/silo-portal/internal/api/http/dto"
	"github.com/EternisAI/silo-portal/internal/api/http/middleware"
	"github.com/EternisAI/silo-portal/internal/operations"
	"github.com/gin-gonic/gin"
)

// Presence is the live view of connected agents.
type Presence interface {
	IsOnline(agentID string) bool
	ListOnline() []string
	Disconnect(agentID string) bool
}

type AgentsHandler struct {
	agentService *agents.Service
	correlator   *operations.Correlator
	presence     Presence
}

func NewAgentsHandler(agentService *agents.Service, correlator *operations.Correlator, presence Presence) *AgentsHandler {
	return &AgentsHandler{
		agentService: agentService,
		correlator:   correlator,
		presence:     presence,
	}
}

// ListAgents returns every known agent, most recently seen first
// GET /api/agents
func (h *AgentsHandler) ListAgents(c *gin.Context) {
	agentList, err := h.agentService.ListAgents(c.Request.Context())
	if err != nil {
		slog.Error("Failed to list agents", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list agents"})
		return
	}

	responses := make([]dto.AgentResponse, len(agentList))
	for i := range agentList {
		responses[i] = h.toResponse(&agentList[i])
	}
	c.JSON(http.StatusOK, dto.ListAgentsResponse{Agents: responses, Count: len(responses)})
}

// OnlineAgents is a snapshot of the registry; it may be stale by the time
// the caller reads it.
// GET /api/agents/online
func (h *AgentsHandler) OnlineAgents(c *gin.Context) {
	ids := h.presence.ListOnline()
	c.JSON(http.StatusOK, dto.OnlineAgentsResponse{Agents: ids, Count: len(ids)})
}

// GET /api/agents/:id
func (h *AgentsHandler) GetAgent(c *gin.Context) {
	agentID := c.Param("id")
	agent, err := h.agentService.GetAgentByID(c.Request.Context(), agentID)
	if err != nil {
		if errors.Is(err, agents.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		slog.Error("Failed to get agent", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get agent"})
		return
	}
	c.JSON(http.StatusOK, h.toResponse(agent))
}

// DeleteAgent removes the agent record and drops its channel if connected
// DELETE /api/agents/:id
func (h *AgentsHandler) DeleteAgent(c *gin.Context) {
	agentID := c.Param("id")
	if err := h.agentService.DeleteAgent(c.Request.Context(), agentID); err != nil {
		if errors.Is(err, agents.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		slog.Error("Failed to delete agent", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete agent"})
		return
	}

	if h.presence.Disconnect(agentID) {
		slog.Info("Agent forcefully disconnected", "agent_id", agentID)
	}
	slog.Info("Agent deleted", "agent_id", agentID, "user_id", c.GetString(middleware.UserIDKey))
	c.JSON(http.StatusOK, gin.H{"message": "Agent deleted successfully"})
}

// GET /api/agents/:id/stats
func (h *AgentsHandler) AgentStats(c *gin.Context) {
	agentID := c.Param("id")
	if _, err := h.agentService.GetAgentByID(c.Request.Context(), agentID); err != nil {
		if errors.Is(err, agents.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		slog.Error("Failed to get agent", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get agent"})
		return
	}

	stats, err := h.correlator.Stats(c.Request.Context(), agentID)
	if err != nil {
		slog.Error("Failed to get agent stats", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get agent stats"})
		return
	}

	c.JSON(http.StatusOK, dto.AgentStatsResponse{
		AgentID:    agentID,
		Total:      stats.Total,
		Successful: stats.Successful,
		Failed:     stats.Failed,
		Pending:    stats.Pending,
	})
}

func (h *AgentsHandler) toResponse(a *agents.Agent) dto.AgentResponse {
	return dto.AgentResponse{
		ID:          a.ID,
		Name:        a.Name,
		Hostname:    a.Hostname,
		Platform:    a.Platform,
		Arch:        a.Arch,
		Version:     a.Version,
		IPAddress:   a.IPAddress,
		TotalMemory: a.TotalMemory,
		Status:      a.Status,
		LastSeen:    a.LastSeen,
		CreatedAt:   a.CreatedAt,
		Connected:   h.presence.IsOnline(a.ID),
	}
}
