package agents

import (
	"context"
	"sort"
	"sync"
	"time"
)

type Store interface {
	// Upsert inserts the agent or overwrites every field except CreatedAt.
	Upsert(ctx context.Context, a *Agent) error
	Touch(ctx context.Context, id string, at time.Time) error
	SetStatus(ctx context.Context, id, status string, at time.Time) error
	Get(ctx context.Context, id string) (*Agent, error)
	List(ctx context.Context) ([]Agent, error)
	Delete(ctx context.Context, id string) error
}

type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]Agent)}
}

func (s *MemoryStore) Upsert(_ context.Context, a *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *a
	if existing, ok := s.agents[a.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	s.agents[a.ID] = stored
	a.CreatedAt = stored.CreatedAt
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	a.LastSeen = at
	a.Status = StatusOnline
	s.agents[id] = a
	return nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	a.Status = status
	a.LastSeen = at
	s.agents[id] = a
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return &a, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Agent, error) {
	s.mu.RLock()
	result := make([]Agent, 0, len(s.agents))
	for _, a := range s.agents {
		result = append(result, a)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].LastSeen.After(result[j].LastSeen) })
	return result, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; !ok {
		return ErrAgentNotFound
	}
	delete(s.agents, id)
	return nil
}
