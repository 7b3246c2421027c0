package agents

import (
	"time"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type Agent struct {
	ID          string
	Name        string
	Hostname    string
	Platform    string
	Arch        string
	Version     string
	IPAddress   string
	TotalMemory uint64
	Status      string
	LastSeen    time.Time
	CreatedAt   time.Time
}

// Registration is what an agent reports about itself when it connects.
type Registration struct {
	ID          string
	Name        string
	Hostname    string
	Platform    string
	Arch        string
	Version     string
	IPAddress   string
	TotalMemory uint64
}
