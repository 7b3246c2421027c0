package dto

import "time"

type AgentResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Hostname    string    `json:"hostname"`
	Platform    string    `json:"platform"`
	Arch        string    `json:"arch"`
	Version     string    `json:"version"`
	IPAddress   string    `json:"ip_address"`
	TotalMemory uint64    `json:"total_memory"`
	Status      string    `json:"status"`
	LastSeen    time.Time `json:"last_seen"`
	CreatedAt   time.Time `json:"created_at"`
	Connected   bool      `json:"connected"`
}

type ListAgentsResponse struct {
	Agents []AgentResponse `json:"agents"`
	Count  int             `json:"count"`
}

type OnlineAgentsResponse struct {
	Agents []string `json:"agents"`
	Count  int      `json:"count"`
}

type AgentStatsResponse struct {
	AgentID    string `json:"agent_id"`
	Total      int64  `json:"total_operations"`
	Successful int64  `json:"successful_operations"`
	Failed     int64  `json:"failed_operations"`
	Pending    int64  `json:"pending_operations"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"`
}
