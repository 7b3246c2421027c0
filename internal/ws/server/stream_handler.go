package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/EternisAI/silo-portal/internal/agents"
	"github.com/EternisAI/silo-portal/internal/auth"
	"github.com/EternisAI/silo-portal/internal/operations"
	"github.com/EternisAI/silo-portal/internal/protocol"
	"github.com/gorilla/websocket"
)

const storeTimeout = 5 * time.Second

type AgentAuthenticator interface {
	Authenticate(secret string) error
}

type AgentTracker interface {
	Register(ctx context.Context, reg agents.Registration) (*agents.Agent, error)
	Heartbeat(ctx context.Context, agentID string) error
	MarkOffline(ctx context.Context, agentID string) error
}

type ResultSink interface {
	Complete(ctx context.Context, res operations.Result) (*operations.Operation, error)
}

// StreamHandler runs the per-channel actor: registration, the read loop and
// message dispatch. Writes happen on the channel's own writer goroutine.
type StreamHandler struct {
	registry  *Registry
	agentAuth AgentAuthenticator
	agents    AgentTracker
	results   ResultSink
	cfg       Config
}

func NewStreamHandler(registry *Registry, agentAuth AgentAuthenticator, tracker AgentTracker, results ResultSink, cfg Config) *StreamHandler {
	return &StreamHandler{
		registry:  registry,
		agentAuth: agentAuth,
		agents:    tracker,
		results:   results,
		cfg:       cfg.withDefaults(),
	}
}

func (sh *StreamHandler) HandleConnection(ctx context.Context, conn *websocket.Conn, principal auth.Principal, remoteAddr string) {
	ch := newChannel(conn, principal, remoteAddr)
	sh.registry.Add(ch)
	defer sh.release(ch)

	slog.Info("Channel opened", "channel_id", ch.ID(), "principal", principal.Kind, "remote_addr", remoteAddr)

	go ch.writeLoop(sh.cfg.pingPeriod(), sh.cfg.WriteTimeout)

	conn.SetReadLimit(sh.cfg.MaxMessageBytes)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(sh.cfg.ReadTimeout))
	})

	if principal.IsAgent() {
		if err := sh.awaitRegistration(ctx, ch); err != nil {
			slog.Warn("Agent registration failed", "channel_id", ch.ID(), "remote_addr", remoteAddr, "error", err)
			return
		}
	}

	sh.readLoop(ctx, ch)
}

func (sh *StreamHandler) awaitRegistration(ctx context.Context, ch *Channel) error {
	_ = ch.conn.SetReadDeadline(time.Now().Add(sh.cfg.RegistrationTimeout))
	_, data, err := ch.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to receive first message: %w", err)
	}

	env, err := protocol.Parse(data)
	if err != nil || env.Type != protocol.TypeAgentRegister {
		sh.rejectRegistration(ch, "Registration required")
		return errors.New("first message is not a registration")
	}

	var reg protocol.RegisterPayload
	if err := env.Decode(&reg); err != nil {
		sh.rejectRegistration(ch, "Invalid registration payload")
		return err
	}
	if err := sh.agentAuth.Authenticate(reg.AgentToken); err != nil {
		sh.rejectRegistration(ch, "Invalid agent token")
		return err
	}
	if reg.ID == "" {
		sh.rejectRegistration(ch, "Agent id is required")
		return agents.ErrInvalidAgentID
	}
	if err := ch.bindAgent(reg.ID); err != nil {
		return err
	}

	sh.registry.Register(reg.ID, ch)

	ipAddress := reg.IPAddress
	if ipAddress == "" {
		ipAddress = ch.RemoteAddr()
	}
	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if _, err := sh.agents.Register(storeCtx, agents.Registration{
		ID:          reg.ID,
		Name:        reg.Name,
		Hostname:    reg.Hostname,
		Platform:    reg.Platform,
		Arch:        reg.Arch,
		Version:     reg.Version,
		IPAddress:   ipAddress,
		TotalMemory: reg.TotalMemory,
	}); err != nil {
		slog.Error("Failed to persist agent registration", "agent_id", reg.ID, "error", err)
	}

	ch.send(protocol.TypeRegistrationSuccess, protocol.RegistrationPayload{
		AgentID: reg.ID,
		Message: "Agent registered successfully",
	})
	sh.registry.Broadcast(protocol.TypeAgentStatusChange, protocol.AgentStatusChange{
		AgentID: reg.ID,
		Status:  protocol.StatusOnline,
	})

	slog.Info("Agent connection established", "agent_id", reg.ID, "name", reg.Name, "channel_id", ch.ID())
	return nil
}

func (sh *StreamHandler) rejectRegistration(ch *Channel, message string) {
	ch.send(protocol.TypeRegistrationFailed, protocol.RegistrationPayload{Message: message})
	ch.closeWith(protocol.CloseAuthFailed, "Authentication failed", sh.cfg.WriteTimeout)
}

func (sh *StreamHandler) readLoop(ctx context.Context, ch *Channel) {
	for {
		_ = ch.conn.SetReadDeadline(time.Now().Add(sh.cfg.ReadTimeout))
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Info("Channel read error", "channel_id", ch.ID(), "error", err)
			}
			return
		}

		env, err := protocol.Parse(data)
		if err != nil {
			slog.Debug("Malformed frame", "channel_id", ch.ID(), "error", err)
			ch.send(protocol.TypeError, protocol.ErrorMessage{Message: "Invalid message format"})
			continue
		}

		slog.Debug("Message received", "channel_id", ch.ID(), "type", env.Type, "request_id", env.RequestID)
		sh.processMessage(ctx, ch, env)
	}
}

func (sh *StreamHandler) processMessage(ctx context.Context, ch *Channel, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypePing:
		ch.send(protocol.TypePong, map[string]any{"timestamp": time.Now().UTC()})

	case protocol.TypeAgentStatus:
		agentID, ok := sh.requireAgent(ch)
		if !ok {
			return
		}
		storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		if err := sh.agents.Heartbeat(storeCtx, agentID); err != nil {
			slog.Debug("Failed to update last seen", "agent_id", agentID, "error", err)
		}

	case protocol.TypeOperationResult:
		agentID, ok := sh.requireAgent(ch)
		if !ok {
			return
		}
		var res protocol.OperationResult
		if err := env.Decode(&res); err != nil {
			ch.send(protocol.TypeError, protocol.ErrorMessage{Message: "Invalid message format"})
			return
		}
		status := protocol.ResultFailed
		if res.Status == protocol.ResultCompleted {
			status = protocol.ResultCompleted
		}
		sh.complete(ctx, operations.Result{
			OperationID: operationID(res.OperationID, env),
			AgentID:     agentID,
			Status:      status,
			Error:       res.Error,
			Data:        env.Payload,
		})

	case protocol.TypeFileListResponse, protocol.TypeSystemInfoResp:
		agentID, ok := sh.requireAgent(ch)
		if !ok {
			return
		}
		var ref protocol.OperationRef
		if err := env.Decode(&ref); err != nil {
			ch.send(protocol.TypeError, protocol.ErrorMessage{Message: "Invalid message format"})
			return
		}
		sh.complete(ctx, operations.Result{
			OperationID: operationID(ref.OperationID, env),
			AgentID:     agentID,
			Status:      protocol.ResultCompleted,
			Data:        env.Payload,
		})

	case protocol.TypeFileListError, protocol.TypeSystemInfoError:
		agentID, ok := sh.requireAgent(ch)
		if !ok {
			return
		}
		var opErr protocol.OperationError
		if err := env.Decode(&opErr); err != nil {
			ch.send(protocol.TypeError, protocol.ErrorMessage{Message: "Invalid message format"})
			return
		}
		sh.complete(ctx, operations.Result{
			OperationID: operationID(opErr.OperationID, env),
			AgentID:     agentID,
			Status:      protocol.ResultFailed,
			Error:       opErr.Error,
		})

	case protocol.TypeAgentRegister:
		if _, ok := sh.requireAgent(ch); ok {
			ch.send(protocol.TypeError, protocol.ErrorMessage{Message: "Already registered"})
		}

	default:
		slog.Warn("Unknown message type", "channel_id", ch.ID(), "type", env.Type)
		ch.send(protocol.TypeError, protocol.ErrorMessage{Message: "Unknown message type"})
	}
}

// requireAgent checks the channel tag before an agent-only handler runs.
func (sh *StreamHandler) requireAgent(ch *Channel) (string, bool) {
	agentID, ok := ch.AgentID()
	if !ok {
		slog.Warn("Agent message on non-agent channel", "channel_id", ch.ID(), "principal", ch.Principal().Kind)
		ch.send(protocol.TypeError, protocol.ErrorMessage{Message: "forbidden"})
		return "", false
	}
	return agentID, true
}

func (sh *StreamHandler) complete(ctx context.Context, res operations.Result) {
	if res.OperationID == "" {
		slog.Warn("Result without operation id", "agent_id", res.AgentID)
		return
	}
	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if _, err := sh.results.Complete(storeCtx, res); err != nil {
		slog.Error("Failed to record operation result", "operation_id", res.OperationID, "agent_id", res.AgentID, "error", err)
	}
}

func (sh *StreamHandler) release(ch *Channel) {
	sh.registry.Remove(ch)

	if agentID, ok := ch.AgentID(); ok {
		if _, removed := sh.registry.Unregister(ch); removed {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			if err := sh.agents.MarkOffline(ctx, agentID); err != nil {
				slog.Error("Failed to mark agent offline", "agent_id", agentID, "error", err)
			}
			cancel()
			sh.registry.Broadcast(protocol.TypeAgentStatusChange, protocol.AgentStatusChange{
				AgentID: agentID,
				Status:  protocol.StatusOffline,
			})
		} else {
			slog.Info("Superseded channel closed", "agent_id", agentID, "channel_id", ch.ID())
		}
	}

	ch.Close()
	slog.Info("Channel closed", "channel_id", ch.ID())
}

func operationID(fromPayload string, env *protocol.Envelope) string {
	if fromPayload != "" {
		return fromPayload
	}
	return env.RequestID
}
