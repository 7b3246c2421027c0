package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/EternisAI/silo-portal/internal/agents"
	internalhttp "github.com/EternisAI/silo-portal/internal/api/http"
	"github.com/EternisAI/silo-portal/internal/auth"
	"github.com/EternisAI/silo-portal/internal/db"
	"github.com/EternisAI/silo-portal/internal/operations"
	"github.com/EternisAI/silo-portal/internal/users"
	wsserver "github.com/EternisAI/silo-portal/internal/ws/server"
	wstls "github.com/EternisAI/silo-portal/internal/ws/tls"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

var AppVersion string

type stores struct {
	users      users.Store
	agents     agents.Store
	operations operations.Store
	pool       *pgxpool.Pool
}

func openStores(ctx context.Context) (*stores, error) {
	if !config.Database.Enabled() {
		slog.Warn("No database configured, state is kept in memory")
		return &stores{
			users:      users.NewMemoryStore(),
			agents:     agents.NewMemoryStore(),
			operations: operations.NewMemoryStore(),
		}, nil
	}

	if err := db.RunMigrations(ctx, config.Database); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	pool, err := db.InitDB(ctx, config.Database)
	if err != nil {
		return nil, err
	}
	return &stores{
		users:      users.NewPostgresStore(pool),
		agents:     agents.NewPostgresStore(pool),
		operations: operations.NewPostgresStore(pool),
		pool:       pool,
	}, nil
}

func main() {
	InitConfig()

	slog.Info("Silo Portal Server", "version", AppVersion)
	startedAt := time.Now()
	ctx := context.Background()

	tokens, err := auth.NewTokenIssuer(config.Auth.JwtSecret, config.Auth.TokenTTL)
	if err != nil {
		slog.Error("Invalid auth configuration", "error", err)
		os.Exit(1)
	}
	if config.Auth.AgentSecret == "" {
		slog.Warn("No agent secret configured, every agent registration will be rejected")
	}

	st, err := openStores(ctx)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	if st.pool != nil {
		defer st.pool.Close()
	}

	userService := users.NewService(st.users)
	agentService := agents.NewService(st.agents)
	authService := auth.NewService(userService, tokens)

	generated, created, err := userService.EnsureDefaultAdmin(ctx, config.Auth.DefaultAdminPassword)
	if err != nil {
		slog.Error("Failed to ensure default admin", "error", err)
		os.Exit(1)
	}
	if created {
		if generated != "" {
			announceGeneratedPassword(os.Stderr, users.DefaultAdminUsername, generated)
		} else {
			slog.Info("Default admin created", "username", users.DefaultAdminUsername)
		}
	}

	registry := wsserver.NewRegistry()
	correlator := operations.NewCorrelator(st.operations, registry, registry)

	wsSrv := wsserver.NewServer(wsserver.Config{
		ReadTimeout:         config.Portal.ReadTimeout,
		RegistrationTimeout: config.Portal.RegistrationTimeout,
		MaxMessageBytes:     config.Portal.MaxMessageBytes,
		AllowedOrigins:      config.Http.Cors.AllowOrigins,
	}, wsserver.Deps{
		Registry:  registry,
		AgentAuth: auth.NewAgentAuthenticator(config.Auth.AgentSecret),
		Tokens:    tokens,
		Agents:    agentService,
		Results:   correlator,
	})

	services := &internalhttp.Services{
		Auth:       authService,
		Tokens:     tokens,
		Users:      userService,
		Agents:     agentService,
		Operations: correlator,
		Presence:   registry,
		WebSocket:  wsSrv.HandleUpgrade,
		Limits: internalhttp.Limits{
			AwaitTimeout:   config.Portal.AwaitTimeout,
			MaxUploadBytes: config.Portal.MaxUploadBytes,
		},
		StartedAt: startedAt,
	}

	allowOrigins := config.Http.Cors.AllowOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(allowOrigins),
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	if config.Http.TLS.Enabled {
		if config.Http.TLS.AutoGenerate {
			if err := bootstrapCertificates(); err != nil {
				slog.Error("Failed to generate TLS certificates", "error", err)
				os.Exit(1)
			}
		}
		clientAuth, err := wstls.ParseClientAuthType(config.Http.TLS.ClientAuth)
		if err != nil {
			slog.Error("Invalid TLS configuration", "error", err)
			os.Exit(1)
		}
		tlsConfig, err := wstls.ServerConfig(config.Http.TLS.CertFile, config.Http.TLS.KeyFile, config.Http.TLS.CAFile, clientAuth)
		if err != nil {
			slog.Error("Failed to load TLS configuration", "error", err)
			os.Exit(1)
		}
		httpServer.TLSConfig = tlsConfig
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr, "tls", config.Http.TLS.Enabled)
		var err error
		if httpServer.TLSConfig != nil {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	sig := <-quit
	slog.Info("Received shutdown signal", "signal", sig)

	slog.Info("Shutting down servers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
	}()

	// Hijacked websocket connections are not tracked by http.Server.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := wsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("WebSocket server shutdown error", "error", err)
		}
	}()

	wg.Wait()
	slog.Info("Shutdown complete")
}

func bootstrapCertificates() error {
	var ips []net.IP
	for _, raw := range ParseCommaSeparated(config.Http.TLS.IPAddresses) {
		ip := net.ParseIP(raw)
		if ip == nil {
			return fmt.Errorf("invalid IP address %q", raw)
		}
		ips = append(ips, ip)
	}

	created, err := wstls.EnsureServerCertificate(wstls.Bootstrap{
		CertFile:    config.Http.TLS.CertFile,
		KeyFile:     config.Http.TLS.KeyFile,
		CAFile:      config.Http.TLS.CAFile,
		CAKeyFile:   config.Http.TLS.CAKeyFile,
		DomainNames: ParseCommaSeparated(config.Http.TLS.DomainNames),
		IPAddresses: ips,
	})
	if err != nil {
		return err
	}
	if created {
		slog.Info("Generated TLS certificates", "cert_path", config.Http.TLS.CertFile, "ca_path", config.Http.TLS.CAFile)
	}
	return nil
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// announceGeneratedPassword prints a generated password once to w. The
// structured log only records that one was generated.
func announceGeneratedPassword(w io.Writer, username, password string) {
	slog.Warn("Default admin created with a generated password, change it after first login",
		"username", username)
	fmt.Fprintf(w, "\nDefault admin credentials (shown once): %s / %s\n\n", username, password)
}
