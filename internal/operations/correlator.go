package operations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/EternisAI/silo-portal/internal/protocol"
	"github.com/google/uuid"
)

var (
	ErrAgentUnreachable  = errors.New("agent is offline or unreachable")
	ErrOperationNotFound = errors.New("operation not found")
	ErrAwaitTimeout      = errors.New("timed out waiting for operation result")
	ErrInvalidStatus     = errors.New("invalid operation status")
)

// Sender delivers an envelope to the live channel of an agent. It reports
// false when the agent has no writable channel.
type Sender interface {
	Send(agentID string, env *protocol.Envelope) bool
}

type Broadcaster interface {
	Broadcast(msgType string, payload any)
}

type Request struct {
	AgentID     string
	Kind        protocol.OperationKind
	Target      string
	RequestedBy string
	Payload     protocol.Instruction
}

type Result struct {
	OperationID string
	AgentID     string
	Status      string
	Error       string
	Data        json.RawMessage
}

// Correlator assigns ids to dispatched instructions and reconciles the
// asynchronous results agents send back.
type Correlator struct {
	store       Store
	sender      Sender
	broadcaster Broadcaster
	now         func() time.Time

	mu      sync.Mutex
	waiters map[string][]chan *Operation
}

func NewCorrelator(store Store, sender Sender, broadcaster Broadcaster) *Correlator {
	return &Correlator{
		store:       store,
		sender:      sender,
		broadcaster: broadcaster,
		now:         time.Now,
		waiters:     make(map[string][]chan *Operation),
	}
}

// Dispatch persists a pending operation and hands the instruction to the
// agent's channel without waiting for the result. When the agent cannot
// be reached the operation id is returned together with
// ErrAgentUnreachable and the record stays pending.
func (c *Correlator) Dispatch(ctx context.Context, req Request) (string, error) {
	msgType, err := req.Kind.MessageType()
	if err != nil {
		return "", err
	}
	if req.Payload == nil {
		return "", fmt.Errorf("%s: payload is required", req.Kind)
	}

	id := uuid.NewString()
	req.Payload.SetOperationID(id)
	env, err := protocol.NewEnvelope(msgType, req.Payload, id)
	if err != nil {
		return "", err
	}

	op := &Operation{
		ID:          id,
		AgentID:     req.AgentID,
		Kind:        req.Kind,
		Target:      req.Target,
		Status:      StatusPending,
		RequestedBy: req.RequestedBy,
		CreatedAt:   c.now().UTC(),
	}
	if err := c.store.Insert(ctx, op); err != nil {
		return "", fmt.Errorf("persist operation: %w", err)
	}

	if !c.sender.Send(req.AgentID, env) {
		slog.Warn("Operation not delivered", "operation_id", id, "agent_id", req.AgentID, "kind", req.Kind)
		return id, ErrAgentUnreachable
	}

	slog.Info("Operation dispatched", "operation_id", id, "agent_id", req.AgentID, "kind", req.Kind)
	return id, nil
}

// Complete records the terminal state of an operation. Results for unknown
// or already finished operations are ignored and yield a nil operation.
func (c *Correlator) Complete(ctx context.Context, res Result) (*Operation, error) {
	if res.Status != StatusCompleted && res.Status != StatusFailed {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, res.Status)
	}

	op, ok, err := c.store.Complete(ctx, Completion{
		ID:      res.OperationID,
		AgentID: res.AgentID,
		Status:  res.Status,
		Error:   res.Error,
		Result:  res.Data,
		At:      c.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("complete operation: %w", err)
	}
	if !ok {
		slog.Debug("Ignoring result for unknown or finished operation",
			"operation_id", res.OperationID, "agent_id", res.AgentID)
		return nil, nil
	}

	slog.Info("Operation finished", "operation_id", op.ID, "agent_id", op.AgentID, "status", op.Status)
	c.notify(op)

	if c.broadcaster != nil {
		update := protocol.OperationUpdate{
			OperationID: op.ID,
			AgentID:     op.AgentID,
			Kind:        string(op.Kind),
			Status:      op.Status,
			Error:       op.Error,
		}
		if len(op.Result) > 0 {
			update.Result = op.Result
		}
		c.broadcaster.Broadcast(protocol.TypeOperationUpdate, update)
	}
	return op, nil
}

func (c *Correlator) Fail(ctx context.Context, operationID, reason string) (*Operation, error) {
	return c.Complete(ctx, Result{OperationID: operationID, Status: StatusFailed, Error: reason})
}

// Await blocks until the operation is terminal, the timeout passes or ctx
// is done. A timeout leaves the operation pending.
func (c *Correlator) Await(ctx context.Context, operationID string, timeout time.Duration) (*Operation, error) {
	ch := make(chan *Operation, 1)
	c.mu.Lock()
	c.waiters[operationID] = append(c.waiters[operationID], ch)
	c.mu.Unlock()
	defer c.removeWaiter(operationID, ch)

	op, err := c.store.Get(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if op.Terminal() {
		return op, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case op := <-ch:
		return op, nil
	case <-timer.C:
		return nil, ErrAwaitTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Correlator) Get(ctx context.Context, operationID string) (*Operation, error) {
	return c.store.Get(ctx, operationID)
}

func (c *Correlator) List(ctx context.Context, f Filter) ([]Operation, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	f.Limit = min(f.Limit, MaxListLimit)
	return c.store.List(ctx, f)
}

func (c *Correlator) Stats(ctx context.Context, agentID string) (Stats, error) {
	return c.store.Stats(ctx, agentID)
}

func (c *Correlator) notify(op *Operation) {
	c.mu.Lock()
	chans := c.waiters[op.ID]
	delete(c.waiters, op.ID)
	c.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- op:
		default:
		}
	}
}

func (c *Correlator) removeWaiter(operationID string, ch chan *Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := slices.DeleteFunc(c.waiters[operationID], func(w chan *Operation) bool { return w == ch })
	if len(remaining) == 0 {
		delete(c.waiters, operationID)
		return
	}
	c.waiters[operationID] = remaining
}
