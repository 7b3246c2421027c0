package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func interfaces(list psnet.InterfaceStatList, err error) interfaceLister {
	return func(context.Context) (psnet.InterfaceStatList, error) { return list, err }
}

func TestResolveIdentity_UsesHardwareAddress(t *testing.T) {
	list := psnet.InterfaceStatList{
		{Name: "lo", HardwareAddr: "", Flags: []string{"up", "loopback"}},
		{
			Name:         "eth0",
			HardwareAddr: "00:1A:2B:3C:4D:5E",
			Flags:        []string{"up", "broadcast"},
			Addrs:        []psnet.InterfaceAddr{{Addr: "fe80::1/64"}, {Addr: "10.0.0.7/24"}},
		},
	}

	id, err := resolveIdentity(context.Background(), AgentConfig{}, interfaces(list, nil))

	require.NoError(t, err)
	assert.Equal(t, "agent-00-1a-2b-3c-4d-5e", id.ID)
	assert.Equal(t, "10.0.0.7", id.IPAddress)
	assert.True(t, strings.HasPrefix(id.Name, "PDV-"))
	assert.Equal(t, strings.ToUpper(id.Name), id.Name)
}

func TestResolveIdentity_ConfiguredValuesWin(t *testing.T) {
	id, err := resolveIdentity(context.Background(), AgentConfig{ID: "agent-fixed", Name: "Front Desk"}, interfaces(nil, nil))

	require.NoError(t, err)
	assert.Equal(t, "agent-fixed", id.ID)
	assert.Equal(t, "Front Desk", id.Name)
}

func TestResolveIdentity_FallbackIsPersisted(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state", "agent.yaml")
	cfg := AgentConfig{StateFile: stateFile}

	first, err := resolveIdentity(context.Background(), cfg, interfaces(nil, errors.New("no netlink")))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.ID, "agent-"))

	second, err := resolveIdentity(context.Background(), cfg, interfaces(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	data, err := os.ReadFile(stateFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), first.ID)
}

func TestResolveIdentity_NoStateFile(t *testing.T) {
	_, err := resolveIdentity(context.Background(), AgentConfig{}, interfaces(nil, nil))
	assert.Error(t, err)
}
