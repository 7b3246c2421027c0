package server

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/EternisAI/silo-portal/internal/protocol"
)

// Registry maps agent ids to their live channel and tracks every open
// channel for broadcasts. All state sits behind a single mutex.
type Registry struct {
	mu       sync.Mutex
	agents   map[string]*Channel
	channels map[*Channel]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		agents:   make(map[string]*Channel),
		channels: make(map[*Channel]struct{}),
	}
}

// Add tracks an accepted channel of any principal type. An agent channel
// receives broadcasts only once it has registered.
func (r *Registry) Add(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch] = struct{}{}
}

func (r *Registry) Remove(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, ch)
}

// Register points agentID at ch and returns the channel it superseded, if
// any. The superseded channel is left to close on its own.
func (r *Registry) Register(agentID string, ch *Channel) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.agents[agentID]
	if previous == ch {
		previous = nil
	}
	r.agents[agentID] = ch

	if previous != nil {
		slog.Warn("Agent already connected, replacing connection",
			"agent_id", agentID, "previous_channel", previous.ID(), "channel_id", ch.ID())
	}
	slog.Info("Agent registered", "agent_id", agentID, "total_connections", len(r.agents))
	return previous
}

// Unregister removes the entry whose value is ch. It is a no-op when ch
// has been superseded or was never registered.
func (r *Registry) Unregister(ch *Channel) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for agentID, current := range r.agents {
		if current == ch {
			delete(r.agents, agentID)
			slog.Info("Agent deregistered", "agent_id", agentID, "total_connections", len(r.agents))
			return agentID, true
		}
	}
	return "", false
}

// Send queues env on the agent's channel. A false result means the agent
// is offline for the caller's purposes.
func (r *Registry) Send(agentID string, env *protocol.Envelope) bool {
	data, err := env.Marshal()
	if err != nil {
		slog.Error("Failed to marshal message", "agent_id", agentID, "type", env.Type, "error", err)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.agents[agentID]
	if !ok {
		return false
	}
	if !ch.trySend(data) {
		slog.Warn("Agent channel not writable", "agent_id", agentID, "channel_id", ch.ID())
		return false
	}
	slog.Debug("Message queued for agent", "agent_id", agentID, "type", env.Type, "request_id", env.RequestID)
	return true
}

// Broadcast fans a message out to every open, authenticated channel.
// Per-recipient failures are dropped.
func (r *Registry) Broadcast(msgType string, payload any) {
	env, err := protocol.NewEnvelope(msgType, payload, "")
	if err != nil {
		slog.Error("Failed to build broadcast", "type", msgType, "error", err)
		return
	}
	data, err := env.Marshal()
	if err != nil {
		slog.Error("Failed to marshal broadcast", "type", msgType, "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for ch := range r.channels {
		if !ch.authenticated() {
			continue
		}
		if !ch.trySend(data) {
			slog.Debug("Broadcast not delivered", "channel_id", ch.ID(), "type", msgType)
		}
	}
}

// ListOnline returns the registered agent ids at the instant of the call.
// The set may change as soon as the lock is released.
func (r *Registry) ListOnline() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) IsOnline(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.agents[agentID]
	return ok
}

// Disconnect closes the agent's live channel, if any.
func (r *Registry) Disconnect(agentID string) bool {
	r.mu.Lock()
	ch, ok := r.agents[agentID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	ch.Close()
	return true
}

func (r *Registry) ChannelCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// CloseAll sends a close frame to every open channel.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	channels := make([]*Channel, 0, len(r.channels))
	for ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch.sendCh <- outbound{closeCode: code, closeReason: reason}:
		default:
			ch.Close()
		}
	}
}
