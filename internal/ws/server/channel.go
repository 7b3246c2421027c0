package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/EternisAI/silo-portal/internal/auth"
	"github.com/EternisAI/silo-portal/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const sendChannelBuffer = 256

var errAlreadyBound = errors.New("channel identity already bound")

type outbound struct {
	data        []byte
	closeCode   int
	closeReason string
}

// Channel is one live duplex connection. Its principal is fixed when the
// channel is accepted; an agent channel additionally binds its agent id
// once, at registration.
type Channel struct {
	id         string
	conn       *websocket.Conn
	remoteAddr string
	sendCh     chan outbound
	done       chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu        sync.RWMutex
	principal auth.Principal
	bound     bool
}

func newChannel(conn *websocket.Conn, principal auth.Principal, remoteAddr string) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		id:         uuid.NewString(),
		conn:       conn,
		remoteAddr: remoteAddr,
		sendCh:     make(chan outbound, sendChannelBuffer),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		principal:  principal,
		bound:      principal.IsOperator(),
	}
}

func (ch *Channel) ID() string { return ch.id }

func (ch *Channel) RemoteAddr() string { return ch.remoteAddr }

func (ch *Channel) Principal() auth.Principal {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.principal
}

// AgentID returns the bound agent id of a registered agent channel.
func (ch *Channel) AgentID() (string, bool) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	if !ch.principal.IsAgent() || !ch.bound {
		return "", false
	}
	return ch.principal.ID, true
}

// authenticated is true for operators and for agents that have proved the
// shared secret.
func (ch *Channel) authenticated() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.bound
}

func (ch *Channel) bindAgent(agentID string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.principal.IsAgent() || ch.bound {
		return errAlreadyBound
	}
	ch.principal = auth.AgentPrincipal(agentID)
	ch.bound = true
	return nil
}

func (ch *Channel) Open() bool {
	return ch.ctx.Err() == nil
}

// trySend queues data without blocking. It fails when the channel is
// closed or its buffer is full.
func (ch *Channel) trySend(data []byte) bool {
	if !ch.Open() {
		return false
	}
	select {
	case ch.sendCh <- outbound{data: data}:
		return true
	default:
		return false
	}
}

func (ch *Channel) sendEnvelope(env *protocol.Envelope) bool {
	data, err := env.Marshal()
	if err != nil {
		slog.Error("Failed to marshal message", "channel_id", ch.id, "type", env.Type, "error", err)
		return false
	}
	return ch.trySend(data)
}

func (ch *Channel) send(msgType string, payload any) bool {
	env, err := protocol.NewEnvelope(msgType, payload, "")
	if err != nil {
		slog.Error("Failed to build message", "channel_id", ch.id, "type", msgType, "error", err)
		return false
	}
	return ch.sendEnvelope(env)
}

// closeWith queues a close frame behind any pending messages and waits
// for the writer to flush it.
func (ch *Channel) closeWith(code int, reason string, wait time.Duration) {
	select {
	case ch.sendCh <- outbound{closeCode: code, closeReason: reason}:
	default:
		ch.Close()
		return
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ch.done:
	case <-timer.C:
		ch.Close()
	}
}

func (ch *Channel) Close() {
	ch.closeOnce.Do(func() {
		ch.cancel()
		if ch.conn != nil {
			_ = ch.conn.Close()
		}
	})
}

func (ch *Channel) writeLoop(pingPeriod, writeWait time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ch.Close()
		close(ch.done)
	}()

	for {
		select {
		case <-ch.ctx.Done():
			return
		case out := <-ch.sendCh:
			if out.closeCode != 0 {
				msg := websocket.FormatCloseMessage(out.closeCode, out.closeReason)
				_ = ch.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			_ = ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ch.conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
				slog.Debug("Error sending message", "channel_id", ch.id, "error", err)
				return
			}
		case <-ticker.C:
			if err := ch.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				slog.Debug("Ping failed", "channel_id", ch.id, "error", err)
				return
			}
		}
	}
}
