package main

import (
	"context"
	"crypto/tls"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/EternisAI/silo-portal/internal/sandbox"
	"github.com/EternisAI/silo-portal/internal/ws/client"
	wstls "github.com/EternisAI/silo-portal/internal/ws/tls"
	psnet "github.com/shirou/gopsutil/v4/net"
)

var AppVersion string

// restartExitCode tells the service manager the portal asked for a restart.
const restartExitCode = 3

func main() {
	InitConfig()

	slog.Info("Silo Portal Agent", "version", AppVersion)

	identity, err := resolveIdentity(context.Background(), config.Agent, psnet.InterfacesWithContext)
	if err != nil {
		slog.Error("Failed to resolve agent identity", "error", err)
		os.Exit(1)
	}
	slog.Info("Agent identity", "agent_id", identity.ID, "name", identity.Name, "ip_address", identity.IPAddress)

	var tlsConfig *tls.Config
	if strings.HasPrefix(config.Portal.ServerURL, "wss://") || strings.HasPrefix(config.Portal.ServerURL, "https://") {
		tlsConfig, err = wstls.ClientConfig(
			config.Portal.TLS.CertFile,
			config.Portal.TLS.KeyFile,
			config.Portal.TLS.CAFile,
			config.Portal.TLS.ServerNameOverride,
			config.Portal.TLS.InsecureSkipVerify,
		)
		if err != nil {
			slog.Error("Failed to load TLS configuration", "error", err)
			os.Exit(1)
		}
	}

	sb := sandbox.New(config.Sandbox)
	wsClient := client.NewClient(client.Config{
		ServerURL:         config.Portal.ServerURL,
		AgentSecret:       config.Portal.AgentSecret,
		ReconnectInterval: config.Portal.ReconnectInterval,
		HeartbeatInterval: config.Portal.HeartbeatInterval,
		TLS:               tlsConfig,
	}, identity, client.NewRequestHandler(sb))

	if err := wsClient.Start(); err != nil {
		slog.Error("Failed to start agent client", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
		if err := wsClient.Stop(); err != nil {
			slog.Error("Agent client stop error", "error", err)
		}
	case <-wsClient.Done():
	}

	if wsClient.RestartRequested() {
		slog.Info("Exiting for restart")
		os.Exit(restartExitCode)
	}
	slog.Info("Shutdown complete")
}
