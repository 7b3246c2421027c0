package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EternisAI/silo-portal/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakePortal accepts agent channels and hands each registered connection
// to the test.
type fakePortal struct {
	t           *testing.T
	secret      string
	connections atomic.Int32
	registered  chan *websocket.Conn
	upgrader    websocket.Upgrader
}

func newFakePortal(t *testing.T, secret string) (*fakePortal, string) {
	p := &fakePortal{t: t, secret: secret, registered: make(chan *websocket.Conn, 4)}
	ts := httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(ts.Close)
	return p, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func (p *fakePortal) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("type") != protocol.ConnTypeAgent {
		http.Error(w, "agent expected", http.StatusBadRequest)
		return
	}
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p.connections.Add(1)

	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return
	}
	env, err := protocol.Parse(data)
	if err != nil || env.Type != protocol.TypeAgentRegister {
		_ = conn.Close()
		return
	}
	var reg protocol.RegisterPayload
	_ = env.Decode(&reg)

	if reg.AgentToken != p.secret {
		p.write(conn, protocol.TypeRegistrationFailed, protocol.RegistrationPayload{Message: "Invalid agent token"}, "")
		msg := websocket.FormatCloseMessage(protocol.CloseAuthFailed, "Authentication failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	p.write(conn, protocol.TypeRegistrationSuccess, protocol.RegistrationPayload{AgentID: reg.ID, Message: "ok"}, "")
	p.registered <- conn
}

func (p *fakePortal) write(conn *websocket.Conn, msgType string, payload any, requestID string) {
	data, err := protocol.MustEnvelope(msgType, payload, requestID).Marshal()
	require.NoError(p.t, err)
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func (p *fakePortal) next(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-p.registered:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("agent did not register")
		return nil
	}
}

func readType(t *testing.T, conn *websocket.Conn, msgType string) *protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		env, err := protocol.Parse(data)
		require.NoError(t, err)
		if env.Type == msgType {
			return env
		}
	}
}

func newTestClient(t *testing.T, url, secret string, runner *MockRunner) *Client {
	t.Helper()
	c := NewClient(Config{
		ServerURL:         url,
		AgentSecret:       secret,
		ReconnectInterval: 50 * time.Millisecond,
		HeartbeatInterval: 50 * time.Millisecond,
	}, Identity{ID: "agent-00-11-22-33-44-55", Name: "PDV-TEST-LINUX", Platform: "linux"}, newTestHandler(runner))
	return c
}

func TestClient_RegistersAndAnswersInstructions(t *testing.T) {
	portal, url := newFakePortal(t, "s3cret")
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).Return("root\n", nil)
	c := newTestClient(t, url, "s3cret", runner)
	require.NoError(t, c.Start())
	defer c.Stop()

	conn := portal.next(t)
	assert.Eventually(t, func() bool { return c.State() == StateReady }, time.Second, 10*time.Millisecond)

	portal.write(conn, protocol.TypeExecuteCommand, protocol.ExecuteCommand{
		OperationRef: protocol.OperationRef{OperationID: "op-1"},
		Command:      "whoami",
		Args:         []string{},
	}, "op-1")

	env := readType(t, conn, protocol.TypeOperationResult)
	var res protocol.OperationResult
	require.NoError(t, env.Decode(&res))
	assert.Equal(t, "op-1", res.OperationID)
	assert.Equal(t, protocol.ResultCompleted, res.Status)
	assert.Equal(t, "root\n", res.Output)

	hb := readType(t, conn, protocol.TypeAgentStatus)
	var status protocol.StatusPayload
	require.NoError(t, hb.Decode(&status))
	assert.Equal(t, "agent-00-11-22-33-44-55", status.ID)
	assert.Equal(t, protocol.StatusOnline, status.Status)
}

func TestClient_ReconnectsAfterDisconnect(t *testing.T) {
	portal, url := newFakePortal(t, "s3cret")
	c := newTestClient(t, url, "s3cret", new(MockRunner))
	require.NoError(t, c.Start())
	defer c.Stop()

	first := portal.next(t)
	require.NoError(t, first.Close())

	second := portal.next(t)
	assert.NotNil(t, second)
	assert.Eventually(t, func() bool { return c.State() == StateReady }, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, portal.connections.Load(), int32(2))
}

func TestClient_RejectedRegistrationRetries(t *testing.T) {
	portal, url := newFakePortal(t, "s3cret")
	c := newTestClient(t, url, "wrong", new(MockRunner))
	require.NoError(t, c.Start())

	assert.Eventually(t, func() bool { return portal.connections.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.NotEqual(t, StateReady, c.State())
	require.NoError(t, c.Stop())
	assert.Equal(t, StateShuttingDown, c.State())
}

func TestClient_RestartSendsResultThenShutsDown(t *testing.T) {
	portal, url := newFakePortal(t, "s3cret")
	c := newTestClient(t, url, "s3cret", new(MockRunner))
	require.NoError(t, c.Start())

	conn := portal.next(t)
	portal.write(conn, protocol.TypeRestartAgent, protocol.RestartAgent{
		OperationRef: protocol.OperationRef{OperationID: "op-restart"},
	}, "op-restart")

	env := readType(t, conn, protocol.TypeOperationResult)
	var res protocol.OperationResult
	require.NoError(t, env.Decode(&res))
	assert.Equal(t, "op-restart", res.OperationID)
	assert.Equal(t, protocol.ResultCompleted, res.Status)

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("client did not shut down after restart")
	}
	assert.True(t, c.RestartRequested())
	assert.Equal(t, StateShuttingDown, c.State())

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), portal.connections.Load(), "no reconnect after restart")
}

func TestClient_StartRejectsBadURL(t *testing.T) {
	c := NewClient(Config{ServerURL: "ftp://portal"}, Identity{ID: "a"}, newTestHandler(new(MockRunner)))
	assert.Error(t, c.Start())
}

func TestClient_SendDoesNotBlock(t *testing.T) {
	c := NewClient(Config{ServerURL: "ws://127.0.0.1:1/ws"}, Identity{ID: "a"}, newTestHandler(new(MockRunner)))
	env := protocol.MustEnvelope(protocol.TypePing, nil, "")
	for i := 0; i < sendChannelBuffer; i++ {
		require.NoError(t, c.Send(env))
	}
	assert.Error(t, c.Send(env))
}

func TestEndpointAddsAgentType(t *testing.T) {
	c := NewClient(Config{ServerURL: "https://portal.example.com/ws"}, Identity{ID: "a"}, nil)
	got, err := c.endpoint()
	require.NoError(t, err)
	assert.Equal(t, "wss://portal.example.com/ws?type=agent", got)
}

func TestClient_RestartResultWaitsForQueueSpace(t *testing.T) {
	c := NewClient(Config{ServerURL: "ws://127.0.0.1:1/ws", WriteTimeout: 50 * time.Millisecond},
		Identity{ID: "a"}, newTestHandler(new(MockRunner)))
	filler := protocol.MustEnvelope(protocol.TypePing, nil, "")
	for i := 0; i < sendChannelBuffer; i++ {
		require.NoError(t, c.Send(filler))
	}
	restart := protocol.MustEnvelope(protocol.TypeRestartAgent, protocol.RestartAgent{
		OperationRef: protocol.OperationRef{OperationID: "op-restart"},
	}, "op-restart")

	c.handleInstruction(restart)
	assert.False(t, c.RestartRequested(), "result that was never queued must not flag a restart")

	<-c.sendCh
	done := make(chan struct{})
	go func() {
		c.handleInstruction(restart)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("restart result was not queued")
	}

	var final *outbound
	for len(c.sendCh) > 0 {
		out := <-c.sendCh
		if out.final {
			final = &out
		}
	}
	require.NotNil(t, final)
	assert.Contains(t, string(final.data), "op-restart")
	assert.False(t, c.RestartRequested(), "flag is raised only once the result is written")
}
