package handler

import (
	"net/http"
	"strings"

	"github.com/EternisAI/silo-portal/internal/api/http/dto"
	"github.com/EternisAI/silo-portal/internal/protocol"
	"github.com/gin-gonic/gin"
)

type SystemHandler struct {
	dispatcher *Dispatcher
}

func NewSystemHandler(dispatcher *Dispatcher) *SystemHandler {
	return &SystemHandler{dispatcher: dispatcher}
}

// POST /api/system/execute/:agentId
func (h *SystemHandler) Execute(c *gin.Context) {
	var req dto.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Command is required"})
		return
	}
	if req.Args == nil {
		req.Args = []string{}
	}

	target := strings.TrimSpace(req.Command + " " + strings.Join(req.Args, " "))
	id, ok := h.dispatcher.dispatch(c, protocol.KindExecute, target, &protocol.ExecuteCommand{
		Command: req.Command,
		Args:    req.Args,
	})
	if !ok {
		return
	}
	h.dispatcher.accepted(c, id, "Command sent to agent", target)
}

// POST /api/system/install/:agentId
func (h *SystemHandler) Install(c *gin.Context) {
	var req dto.InstallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Package name is required"})
		return
	}

	id, ok := h.dispatcher.dispatch(c, protocol.KindInstall, req.PackageName, &protocol.InstallPackage{
		PackageName: req.PackageName,
		PackageURL:  req.PackageURL,
		InstallPath: req.InstallPath,
	})
	if !ok {
		return
	}
	h.dispatcher.accepted(c, id, "Package installation initiated", req.PackageName)
}

// Info waits for the agent's telemetry like ListFiles does
// GET /api/system/info/:agentId
func (h *SystemHandler) Info(c *gin.Context) {
	h.dispatcher.dispatchAndAwait(c, protocol.KindInfo, "", &protocol.SystemInfoRequest{})
}

// POST /api/system/restart/:agentId
func (h *SystemHandler) Restart(c *gin.Context) {
	id, ok := h.dispatcher.dispatch(c, protocol.KindRestart, "", &protocol.RestartAgent{})
	if !ok {
		return
	}
	h.dispatcher.accepted(c, id, "Restart command sent to agent", "")
}
