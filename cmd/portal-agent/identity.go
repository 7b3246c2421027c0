package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/EternisAI/silo-portal/internal/ws/client"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
	"gopkg.in/yaml.v3"
)

// agentState is persisted next to the agent so a generated id survives
// restarts on hosts without a usable hardware address.
type agentState struct {
	AgentID string `yaml:"agent_id"`
}

type interfaceLister func(ctx context.Context) (psnet.InterfaceStatList, error)

// resolveIdentity builds what the agent reports at registration. The id
// comes from configuration, then the first hardware address, then the
// state file.
func resolveIdentity(ctx context.Context, cfg AgentConfig, listInterfaces interfaceLister) (client.Identity, error) {
	hostname, _ := os.Hostname()
	identity := client.Identity{
		ID:       cfg.ID,
		Name:     cfg.Name,
		Hostname: hostname,
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		Version:  AppVersion,
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		if info.Hostname != "" {
			identity.Hostname = info.Hostname
		}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		identity.TotalMemory = vm.Total
	}

	ifaces, err := listInterfaces(ctx)
	if err != nil {
		slog.Warn("Failed to list network interfaces", "error", err)
	}
	mac, ip := primaryInterface(ifaces)
	identity.IPAddress = ip

	if identity.ID == "" {
		if mac != "" {
			identity.ID = "agent-" + strings.ReplaceAll(mac, ":", "-")
		} else {
			id, err := loadOrCreateAgentID(cfg.StateFile)
			if err != nil {
				return client.Identity{}, err
			}
			identity.ID = id
		}
	}

	if identity.Name == "" {
		identity.Name = strings.ToUpper(fmt.Sprintf("PDV-%s-%s", identity.Hostname, identity.Platform))
	}
	if identity.Version == "" {
		identity.Version = "dev"
	}

	return identity, nil
}

// primaryInterface returns the hardware address and first IPv4 address of
// the first non-loopback interface that has a hardware address.
func primaryInterface(ifaces psnet.InterfaceStatList) (string, string) {
	for _, iface := range ifaces {
		if iface.HardwareAddr == "" || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		var ip string
		for _, addr := range iface.Addrs {
			prefix, _, _ := strings.Cut(addr.Addr, "/")
			if parsed := net.ParseIP(prefix); parsed != nil && parsed.To4() != nil {
				ip = prefix
				break
			}
		}
		return strings.ToLower(iface.HardwareAddr), ip
	}
	return "", ""
}

func loadOrCreateAgentID(path string) (string, error) {
	if path == "" {
		return "", errors.New("no hardware address found and agent.state_file is not set")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var state agentState
		if err := yaml.Unmarshal(data, &state); err != nil {
			return "", fmt.Errorf("failed to parse state file %s: %w", path, err)
		}
		if state.AgentID != "" {
			return state.AgentID, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	state := agentState{AgentID: "agent-" + uuid.NewString()}
	out, err := yaml.Marshal(state)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return "", fmt.Errorf("failed to write state file %s: %w", path, err)
	}
	slog.Info("Generated agent id", "agent_id", state.AgentID, "state_file", path)
	return state.AgentID, nil
}
