package systemtest

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/EternisAI/silo-portal/internal/agents"
	internalhttp "github.com/EternisAI/silo-portal/internal/api/http"
	"github.com/EternisAI/silo-portal/internal/auth"
	"github.com/EternisAI/silo-portal/internal/db"
	"github.com/EternisAI/silo-portal/internal/operations"
	"github.com/EternisAI/silo-portal/internal/users"
	wsserver "github.com/EternisAI/silo-portal/internal/ws/server"
	"github.com/EternisAI/silo-portal/systemtest/postgres"
	"github.com/EternisAI/silo-portal/systemtest/tests"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const (
	jwtSecret     = "system-test-jwt-secret"
	agentSecret   = "system-test-agent-secret"
	adminPassword = "changeme"
)

func TestSystemIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("system tests need Docker")
	}
	ctx := context.Background()

	container, dsn, err := postgres.StartPostgres(ctx, "portal", "portal", "portal")
	t.Cleanup(func() { _ = postgres.TerminatePostgres(context.Background(), container) })
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}

	dbConfig := db.Config{Url: dsn, Schema: "portal"}
	require.NoError(t, db.RunMigrations(ctx, dbConfig))
	// A second run must be a no-op.
	require.NoError(t, db.RunMigrations(ctx, dbConfig))

	pool, err := db.InitDB(ctx, dbConfig)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	tokens, err := auth.NewTokenIssuer(jwtSecret, time.Hour)
	require.NoError(t, err)

	userService := users.NewService(users.NewPostgresStore(pool))
	_, created, err := userService.EnsureDefaultAdmin(ctx, adminPassword)
	require.NoError(t, err)
	require.True(t, created)

	agentService := agents.NewService(agents.NewPostgresStore(pool))
	registry := wsserver.NewRegistry()
	correlator := operations.NewCorrelator(operations.NewPostgresStore(pool), registry, registry)
	wsSrv := wsserver.NewServer(wsserver.Config{ReadTimeout: 10 * time.Second}, wsserver.Deps{
		Registry:  registry,
		AgentAuth: auth.NewAgentAuthenticator(agentSecret),
		Tokens:    tokens,
		Agents:    agentService,
		Results:   correlator,
	})

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	internalhttp.SetupRoute(engine, &internalhttp.Services{
		Auth:       auth.NewService(userService, tokens),
		Tokens:     tokens,
		Users:      userService,
		Agents:     agentService,
		Operations: correlator,
		Presence:   registry,
		WebSocket:  wsSrv.HandleUpgrade,
		Limits:     internalhttp.Limits{AwaitTimeout: 5 * time.Second},
		StartedAt:  time.Now(),
	})

	server := httptest.NewServer(engine)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = wsSrv.Shutdown(shutdownCtx)
		server.Close()
	})

	env := &tests.Env{
		Router:        engine,
		WebSocketURL:  "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		AgentSecret:   agentSecret,
		AdminPassword: adminPassword,
		Agents:        agentService,
	}

	t.Run("HealthCheck", func(t *testing.T) { tests.TestHealthCheck(t, env) })
	t.Run("Login", func(t *testing.T) { tests.TestLogin(t, env) })
	t.Run("Register", func(t *testing.T) { tests.TestRegister(t, env) })
	t.Run("UserCRUD", func(t *testing.T) { tests.TestUserCRUD(t, env) })
	t.Run("AgentLifecycle", func(t *testing.T) { tests.TestAgentLifecycle(t, env) })
}
