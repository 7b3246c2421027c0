package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	ErrAgentNotFound  = errors.New("agent not found")
	ErrInvalidAgentID = errors.New("invalid agent ID")
)

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Register records a successful agent registration and marks it online.
func (s *Service) Register(ctx context.Context, reg Registration) (*Agent, error) {
	if reg.ID == "" {
		return nil, ErrInvalidAgentID
	}

	now := s.now().UTC()
	a := &Agent{
		ID:          reg.ID,
		Name:        reg.Name,
		Hostname:    reg.Hostname,
		Platform:    reg.Platform,
		Arch:        reg.Arch,
		Version:     reg.Version,
		IPAddress:   reg.IPAddress,
		TotalMemory: reg.TotalMemory,
		Status:      StatusOnline,
		LastSeen:    now,
		CreatedAt:   now,
	}
	if err := s.store.Upsert(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to register agent: %w", err)
	}

	slog.Info("Agent record updated", "agent_id", a.ID, "name", a.Name, "ip_address", a.IPAddress)
	return a, nil
}

func (s *Service) Heartbeat(ctx context.Context, agentID string) error {
	if err := s.store.Touch(ctx, agentID, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to update last seen: %w", err)
	}
	return nil
}

func (s *Service) MarkOffline(ctx context.Context, agentID string) error {
	if err := s.store.SetStatus(ctx, agentID, StatusOffline, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	slog.Info("Agent status updated", "agent_id", agentID, "status", StatusOffline)
	return nil
}

func (s *Service) GetAgentByID(ctx context.Context, agentID string) (*Agent, error) {
	return s.store.Get(ctx, agentID)
}

func (s *Service) ListAgents(ctx context.Context) ([]Agent, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return list, nil
}

func (s *Service) DeleteAgent(ctx context.Context, agentID string) error {
	return s.store.Delete(ctx, agentID)
}
