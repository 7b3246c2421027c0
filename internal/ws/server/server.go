package server

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/EternisAI/silo-portal/internal/auth"
	"github.com/EternisAI/silo-portal/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	DefaultReadTimeout         = 90 * time.Second
	DefaultWriteTimeout        = 10 * time.Second
	DefaultRegistrationTimeout = 30 * time.Second
	DefaultMaxMessageBytes     = 150 << 20
)

type Config struct {
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	RegistrationTimeout time.Duration `mapstructure:"registration_timeout"`
	MaxMessageBytes     int64         `mapstructure:"max_message_bytes"`
	AllowedOrigins      []string      `mapstructure:"-"`
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.RegistrationTimeout <= 0 {
		c.RegistrationTimeout = DefaultRegistrationTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return c
}

func (c Config) pingPeriod() time.Duration {
	return c.ReadTimeout / 2
}

type Deps struct {
	Registry  *Registry
	AgentAuth AgentAuthenticator
	Tokens    auth.TokenVerifier
	Agents    AgentTracker
	Results   ResultSink
}

// Server accepts channels on an HTTP upgrade endpoint and classifies each
// one as agent or operator before any message is read.
type Server struct {
	cfg      Config
	registry *Registry
	tokens   auth.TokenVerifier
	handler  *StreamHandler
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(cfg Config, deps Deps) *Server {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		registry: deps.Registry,
		tokens:   deps.Tokens,
		handler:  NewStreamHandler(deps.Registry, deps.AgentAuth, deps.Agents, deps.Results, cfg),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Registry() *Registry { return s.registry }

// HandleUpgrade is the gin handler for GET /ws.
func (s *Server) HandleUpgrade(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "websocket upgrade required"})
		return
	}

	var principal auth.Principal
	if c.Query("type") == protocol.ConnTypeAgent {
		principal = auth.Principal{Kind: auth.PrincipalAgent}
	} else {
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := s.tokens.Verify(token)
		if err != nil {
			slog.Warn("Rejected operator channel", "client_ip", c.ClientIP(), "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		principal = auth.OperatorPrincipal(claims)
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "client_ip", c.ClientIP(), "error", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.handler.HandleConnection(s.ctx, conn, principal, c.ClientIP())
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 || slices.Contains(s.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

// Shutdown closes every channel and waits for their handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.registry.CloseAll(websocket.CloseGoingAway, "server shutting down")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("WebSocket server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
