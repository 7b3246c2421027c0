package dto

import (
	"encoding/json"
	"time"
)

type OperationResponse struct {
	ID          string          `json:"id"`
	AgentID     string          `json:"agent_id"`
	Kind        string          `json:"kind"`
	Target      string          `json:"target,omitempty"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	RequestedBy string          `json:"requested_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

type ListOperationsResponse struct {
	Operations []OperationResponse `json:"operations"`
	Count      int                 `json:"count"`
}

// DispatchResponse is returned by endpoints that do not wait for the agent.
type DispatchResponse struct {
	Message     string `json:"message"`
	OperationID string `json:"operationId"`
	AgentID     string `json:"agentId"`
	Target      string `json:"target,omitempty"`
}

type DeleteFileRequest struct {
	Path string `json:"path" binding:"required"`
}

type ExecuteRequest struct {
	Command string   `json:"command" binding:"required"`
	Args    []string `json:"args"`
}

type InstallRequest struct {
	PackageName string `json:"packageName" binding:"required"`
	PackageURL  string `json:"packageUrl"`
	InstallPath string `json:"installPath"`
}
