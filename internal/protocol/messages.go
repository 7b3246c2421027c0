package protocol

import "time"

const (
	TypeAgentRegister       = "agent_register"
	TypeRegistrationSuccess = "registration_success"
	TypeRegistrationFailed  = "registration_failed"
	TypeAgentStatus         = "agent_status"
	TypePing                = "ping"
	TypePong                = "pong"
	TypeError               = "error"

	TypeFileListRequest  = "file_list_request"
	TypeFileListResponse = "file_list_response"
	TypeFileListError    = "file_list_error"
	TypeFileUpload       = "file_upload"
	TypeFileDelete       = "file_delete"
	TypeExecuteCommand   = "execute_command"
	TypeInstallPackage   = "install_package"
	TypeSystemInfoReq    = "system_info_request"
	TypeSystemInfoResp   = "system_info_response"
	TypeSystemInfoError  = "system_info_error"
	TypeRestartAgent     = "restart_agent"

	TypeOperationResult = "file_operation_result"

	// Pushed to every open channel.
	TypeAgentStatusChange = "agent_status_change"
	TypeOperationUpdate   = "file_operation_update"
)

// Close codes sent by the portal.
const (
	CloseAuthFailed = 4001
)

// Query parameter values identifying the principal type at connection time.
const (
	ConnTypeAgent    = "agent"
	ConnTypeOperator = "operator"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	ResultCompleted = "completed"
	ResultFailed    = "failed"
)

type RegisterPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Hostname    string `json:"hostname"`
	Platform    string `json:"platform"`
	Arch        string `json:"arch"`
	Version     string `json:"version"`
	IPAddress   string `json:"ip_address"`
	TotalMemory uint64 `json:"total_memory"`
	AgentToken  string `json:"agentToken"`
}

type RegistrationPayload struct {
	AgentID string `json:"agentId,omitempty"`
	Message string `json:"message"`
}

type StatusPayload struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

type AgentStatusChange struct {
	AgentID string `json:"agentId"`
	Status  string `json:"status"`
}

type FileEntry struct {
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

type FileListResponse struct {
	OperationRef
	Path  string      `json:"path"`
	Files []FileEntry `json:"files"`
}

type SystemInfo struct {
	Hostname    string    `json:"hostname"`
	Platform    string    `json:"platform"`
	Arch        string    `json:"arch"`
	TotalMemory uint64    `json:"totalMemory"`
	FreeMemory  uint64    `json:"freeMemory"`
	Uptime      uint64    `json:"uptime"`
	LoadAverage []float64 `json:"loadAverage"`
	CPUs        int       `json:"cpus"`
}

type SystemInfoResponse struct {
	OperationRef
	Info SystemInfo `json:"info"`
}

// OperationError carries file_list_error and system_info_error.
type OperationError struct {
	OperationRef
	Error string `json:"error"`
}

// OperationResult is the generic result carrier for upload, delete,
// execute, install and restart.
type OperationResult struct {
	OperationRef
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

type OperationUpdate struct {
	OperationID string `json:"operationId"`
	AgentID     string `json:"agentId"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	Result      any    `json:"result,omitempty"`
}
