package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EternisAI/silo-portal/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	sendChannelBuffer          = 100
	DefaultReconnectInterval   = 5 * time.Second
	DefaultHeartbeatInterval   = 30 * time.Second
	DefaultReadTimeout         = 90 * time.Second
	DefaultRegistrationTimeout = 30 * time.Second
	DefaultWriteTimeout        = 10 * time.Second
)

var (
	ErrRegistrationRejected = errors.New("registration rejected")
	errShutdownRequested    = errors.New("shutdown requested")
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateRegistering
	StateReady
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRegistering:
		return "registering"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Identity is what the agent reports about itself at registration.
type Identity struct {
	ID          string
	Name        string
	Hostname    string
	Platform    string
	Arch        string
	Version     string
	IPAddress   string
	TotalMemory uint64
}

type Config struct {
	ServerURL           string
	AgentSecret         string
	ReconnectInterval   time.Duration
	HeartbeatInterval   time.Duration
	ReadTimeout         time.Duration
	RegistrationTimeout time.Duration
	WriteTimeout        time.Duration
	TLS                 *tls.Config
}

func (c Config) withDefaults() Config {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.RegistrationTimeout <= 0 {
		c.RegistrationTimeout = DefaultRegistrationTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

type outbound struct {
	data  []byte
	final bool
}

// Client is the agent runtime. It owns one outbound channel to the portal
// and reconnects on a fixed interval until stopped or told to restart.
type Client struct {
	cfg      Config
	identity Identity
	handler  *RequestHandler
	dialer   *websocket.Dialer

	state    atomic.Int32
	restart  atomic.Bool
	sendCh   chan outbound
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	conn   *websocket.Conn
}

func NewClient(cfg Config, identity Identity, handler *RequestHandler) *Client {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		identity: identity,
		handler:  handler,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			TLSClientConfig:  cfg.TLS,
		},
		sendCh: make(chan outbound, sendChannelBuffer),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) Start() error {
	if _, err := c.endpoint(); err != nil {
		return err
	}
	go c.connectionLoop()
	return nil
}

// Stop closes the channel and waits for the connection loop to exit.
func (c *Client) Stop() error {
	slog.Info("Stopping agent client")
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.cancel()
	c.closeConn()
	<-c.doneCh
	slog.Info("Agent client stopped")
	return nil
}

// Done is closed once the connection loop has exited for good.
func (c *Client) Done() <-chan struct{} { return c.doneCh }

// RestartRequested reports whether the loop ended because the portal sent
// a restart instruction.
func (c *Client) RestartRequested() bool { return c.restart.Load() }

func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) AgentID() string { return c.identity.ID }

func (c *Client) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		slog.Debug("Agent state changed", "from", prev, "to", s)
	}
}

// Send queues env for the current or next channel without blocking.
func (c *Client) Send(env *protocol.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", env.Type, err)
	}
	select {
	case c.sendCh <- outbound{data: data}:
		return nil
	default:
		return fmt.Errorf("send channel full")
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url scheme: %q", u.Scheme)
	}
	q := u.Query()
	q.Set("type", protocol.ConnTypeAgent)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) connectionLoop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.stopCh:
			c.setState(StateShuttingDown)
			return
		default:
		}

		err := c.session()
		if errors.Is(err, errShutdownRequested) {
			c.setState(StateShuttingDown)
			slog.Info("Agent shutting down after restart instruction", "agent_id", c.identity.ID)
			return
		}
		c.setState(StateDisconnected)
		if err != nil {
			slog.Error("Connection lost", "error", err, "retry_in", c.cfg.ReconnectInterval)
		}

		timer := time.NewTimer(c.cfg.ReconnectInterval)
		select {
		case <-timer.C:
		case <-c.stopCh:
			timer.Stop()
			c.setState(StateShuttingDown)
			return
		}
	}
}

// session runs one Connecting→Registering→Ready cycle and returns when the
// channel is gone.
func (c *Client) session() error {
	c.setState(StateConnecting)

	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}
	slog.Info("Connecting to portal", "url", c.cfg.ServerURL)

	conn, resp, err := c.dialer.DialContext(c.ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to dial portal: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer c.closeConn()

	c.setState(StateRegistering)
	if err := c.register(conn); err != nil {
		return err
	}

	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	c.setState(StateReady)
	slog.Info("Agent registered with portal", "agent_id", c.identity.ID)

	done := make(chan struct{})
	errChan := make(chan error, 3)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); c.receiveLoop(conn, done, errChan) }()
	go func() { defer wg.Done(); c.sendLoop(conn, done, errChan) }()
	go func() { defer wg.Done(); c.heartbeatLoop(done) }()

	select {
	case err = <-errChan:
	case <-c.stopCh:
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "agent stopping")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
		err = nil
	}
	close(done)
	c.closeConn()
	wg.Wait()
	return err
}

func (c *Client) register(conn *websocket.Conn) error {
	env, err := protocol.NewEnvelope(protocol.TypeAgentRegister, protocol.RegisterPayload{
		ID:          c.identity.ID,
		Name:        c.identity.Name,
		Hostname:    c.identity.Hostname,
		Platform:    c.identity.Platform,
		Arch:        c.identity.Arch,
		Version:     c.identity.Version,
		IPAddress:   c.identity.IPAddress,
		TotalMemory: c.identity.TotalMemory,
		AgentToken:  c.cfg.AgentSecret,
	}, "")
	if err != nil {
		return err
	}
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send registration: %w", err)
	}

	deadline := time.Now().Add(c.cfg.RegistrationTimeout)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to receive registration response: %w", err)
		}
		reply, err := protocol.Parse(data)
		if err != nil {
			slog.Warn("Dropping malformed frame", "error", err)
			continue
		}

		switch reply.Type {
		case protocol.TypeRegistrationSuccess:
			return nil
		case protocol.TypeRegistrationFailed:
			var p protocol.RegistrationPayload
			_ = reply.Decode(&p)
			return fmt.Errorf("%w: %s", ErrRegistrationRejected, p.Message)
		default:
			slog.Debug("Ignoring message before registration", "type", reply.Type)
		}
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) receiveLoop(conn *websocket.Conn, done chan struct{}, errChan chan error) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				errChan <- err
			}
			return
		}

		env, err := protocol.Parse(data)
		if err != nil {
			slog.Warn("Dropping malformed frame", "error", err)
			continue
		}
		slog.Debug("Message received", "type", env.Type, "request_id", env.RequestID)
		c.processMessage(env)
	}
}

func (c *Client) sendLoop(conn *websocket.Conn, done chan struct{}, errChan chan error) {
	for {
		select {
		case <-done:
			return
		case out := <-c.sendCh:
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
				slog.Error("Error sending message", "error", err)
				errChan <- err
				return
			}
			if out.final {
				c.restart.Store(true)
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "agent restarting")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
				errChan <- errShutdownRequested
				return
			}
		}
	}
}

// heartbeatLoop lives only as long as one Ready session, so a reconnecting
// agent never has two heartbeat timers.
func (c *Client) heartbeatLoop(done chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if c.State() != StateReady {
				continue
			}
			env, err := protocol.NewEnvelope(protocol.TypeAgentStatus, protocol.StatusPayload{
				ID:        c.identity.ID,
				Status:    protocol.StatusOnline,
				Timestamp: time.Now().UTC(),
			}, "")
			if err != nil {
				continue
			}
			if err := c.Send(env); err != nil {
				slog.Warn("Failed to queue heartbeat", "error", err)
			}
		}
	}
}

func (c *Client) processMessage(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypePong, protocol.TypeRegistrationSuccess:
	case protocol.TypeAgentStatusChange, protocol.TypeOperationUpdate:
		slog.Debug("Ignoring broadcast", "type", env.Type)
	case protocol.TypeError:
		var msg protocol.ErrorMessage
		_ = env.Decode(&msg)
		slog.Warn("Portal reported error", "message", msg.Message)
	default:
		if !IsInstruction(env.Type) {
			slog.Warn("Unknown message type", "type", env.Type)
			return
		}
		go c.handleInstruction(env)
	}
}

func (c *Client) handleInstruction(env *protocol.Envelope) {
	reply, restart := c.handler.HandleInstruction(c.ctx, env)
	if reply == nil {
		return
	}
	send := c.Send
	if restart {
		send = c.enqueueFinal
	}
	if err := send(reply); err != nil {
		slog.Error("Failed to send result", "error", err, "type", reply.Type, "request_id", reply.RequestID)
	}
}

// enqueueFinal waits up to the write timeout for room in the send queue.
// The restart flag is raised by the send loop once the message is written.
func (c *Client) enqueueFinal(env *protocol.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", env.Type, err)
	}
	timer := time.NewTimer(c.cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case c.sendCh <- outbound{data: data, final: true}:
		return nil
	case <-timer.C:
		return fmt.Errorf("send channel full")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}
