package operations

import (
	"encoding/json"
	"time"

	"github.com/EternisAI/silo-portal/internal/protocol"
)

const (
	StatusPending   = "pending"
	StatusCompleted = protocol.ResultCompleted
	StatusFailed    = protocol.ResultFailed

	DefaultListLimit = 50
	MaxListLimit     = 500
)

type Operation struct {
	ID          string
	AgentID     string
	Kind        protocol.OperationKind
	Target      string
	Status      string
	Error       string
	Result      json.RawMessage
	RequestedBy string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

func (o *Operation) Terminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusFailed
}

type Completion struct {
	ID      string
	AgentID string
	Status  string
	Error   string
	Result  json.RawMessage
	At      time.Time
}

type Filter struct {
	AgentID string
	Limit   int
}

type Stats struct {
	Total      int64
	Successful int64
	Failed     int64
	Pending    int64
}
