package operations

import (
	"context"
	"sort"
	"sync"
)

type Store interface {
	Insert(ctx context.Context, op *Operation) error
	// Complete moves a pending operation owned by c.AgentID to its terminal
	// status. It reports false when the operation is unknown, already
	// terminal or owned by another agent.
	Complete(ctx context.Context, c Completion) (*Operation, bool, error)
	Get(ctx context.Context, id string) (*Operation, error)
	List(ctx context.Context, f Filter) ([]Operation, error)
	Stats(ctx context.Context, agentID string) (Stats, error)
}

type MemoryStore struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[string]Operation)}
}

func (s *MemoryStore) Insert(_ context.Context, op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.ID] = *op
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, c Completion) (*Operation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[c.ID]
	if !ok || op.Status != StatusPending {
		return nil, false, nil
	}
	if c.AgentID != "" && op.AgentID != c.AgentID {
		return nil, false, nil
	}

	at := c.At
	op.Status = c.Status
	op.Error = c.Error
	op.Result = c.Result
	op.CompletedAt = &at
	s.ops[c.ID] = op
	return &op, true, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.ops[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return &op, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Operation, error) {
	s.mu.RLock()
	result := make([]Operation, 0, len(s.ops))
	for _, op := range s.ops {
		if f.AgentID != "" && op.AgentID != f.AgentID {
			continue
		}
		result = append(result, op)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (s *MemoryStore) Stats(_ context.Context, agentID string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	for _, op := range s.ops {
		if op.AgentID != agentID {
			continue
		}
		st.Total++
		switch op.Status {
		case StatusCompleted:
			st.Successful++
		case StatusFailed:
			st.Failed++
		default:
			st.Pending++
		}
	}
	return st, nil
}
