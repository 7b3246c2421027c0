package http

import (
	"time"

	"github.com/EternisAI/silo-portal/internal/agents"
	"github.com/EternisAI/silo-portal/internal/api/http/handler"
	"github.com/EternisAI/silo-portal/internal/api/http/middleware"
	"github.com/EternisAI/silo-portal/internal/auth"
	"github.com/EternisAI/silo-portal/internal/operations"
	"github.com/EternisAI/silo-portal/internal/users"
	"github.com/gin-gonic/gin"
)

type Services struct {
	Auth       *auth.Service
	Tokens     auth.TokenVerifier
	Users      *users.Service
	Agents     *agents.Service
	Operations *operations.Correlator
	Presence   handler.Presence
	// WebSocket is mounted at /ws when set.
	WebSocket gin.HandlerFunc
	Limits    Limits
	StartedAt time.Time
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	if srvs.WebSocket != nil {
		engine.GET("/ws", srvs.WebSocket)
	}

	api := engine.Group("/api")

	healthHandler := handler.NewHealthHandler(srvs.StartedAt)
	api.GET("/health", healthHandler.Check)

	authHandler := handler.NewAuthHandler(srvs.Auth, srvs.Users)
	api.POST("/auth/login", authHandler.Login)

	protected := api.Group("")
	protected.Use(middleware.JWTAuth(srvs.Tokens))

	adminOnly := middleware.RequireRole(users.RoleAdmin)

	protected.GET("/auth/me", authHandler.Me)
	protected.POST("/auth/register", adminOnly, authHandler.Register)

	userHandler := handler.NewUserHandler(srvs.Users)
	userGroup := protected.Group("/users", adminOnly)
	{
		userGroup.GET("", userHandler.ListUsers)
		userGroup.DELETE("/:id", userHandler.DeleteUser)
	}

	agentsHandler := handler.NewAgentsHandler(srvs.Agents, srvs.Operations, srvs.Presence)
	agentGroup := protected.Group("/agents")
	{
		agentGroup.GET("", agentsHandler.ListAgents)
		agentGroup.GET("/online", agentsHandler.OnlineAgents)
		agentGroup.GET("/:id", agentsHandler.GetAgent)
		agentGroup.GET("/:id/stats", agentsHandler.AgentStats)
		agentGroup.DELETE("/:id", adminOnly, agentsHandler.DeleteAgent)
	}

	dispatcher := handler.NewDispatcher(srvs.Agents, srvs.Operations, srvs.Limits.AwaitTimeout)

	filesHandler := handler.NewFilesHandler(dispatcher, srvs.Operations, srvs.Limits.MaxUploadBytes)
	fileGroup := protected.Group("/files")
	{
		fileGroup.GET("/list/:agentId", filesHandler.ListFiles)
		fileGroup.POST("/upload/:agentId", filesHandler.UploadFile)
		fileGroup.DELETE("/delete/:agentId", filesHandler.DeleteFile)
		fileGroup.GET("/operations", filesHandler.ListOperations)
	}

	operationsHandler := handler.NewOperationsHandler(srvs.Operations)
	protected.GET("/operations/:id", operationsHandler.GetOperation)

	systemHandler := handler.NewSystemHandler(dispatcher)
	systemGroup := protected.Group("/system")
	{
		systemGroup.POST("/execute/:agentId", systemHandler.Execute)
		systemGroup.POST("/install/:agentId", systemHandler.Install)
		systemGroup.GET("/info/:agentId", systemHandler.Info)
		systemGroup.POST("/restart/:agentId", adminOnly, systemHandler.Restart)
	}
}
