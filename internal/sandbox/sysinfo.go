package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/EternisAI/silo-portal/internal/protocol"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

func CollectSystemInfo(ctx context.Context) (protocol.SystemInfo, error) {
	hostInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		return protocol.SystemInfo{}, fmt.Errorf("host info: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return protocol.SystemInfo{}, fmt.Errorf("memory info: %w", err)
	}

	info := protocol.SystemInfo{
		Hostname:    hostInfo.Hostname,
		Platform:    hostInfo.OS,
		Arch:        runtime.GOARCH,
		TotalMemory: vm.Total,
		FreeMemory:  vm.Available,
		Uptime:      hostInfo.Uptime,
		LoadAverage: []float64{},
		CPUs:        runtime.NumCPU(),
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		info.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	} else {
		slog.Debug("Load average unavailable", "error", err)
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		info.CPUs = n
	}

	return info, nil
}
