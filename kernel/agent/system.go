package agent

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo is display-only telemetry; the controller never feeds it into resource state.
type SystemInfo struct {
	Hostname          string  `json:"hostname"`
	UptimeSeconds     uint64  `json:"uptimeSeconds"`
	CpuPercent        float64 `json:"cpuPercent"`
	MemoryTotal       uint64  `json:"memoryTotal"`
	MemoryUsed        uint64  `json:"memoryUsed"`
	MemoryUsedPercent float64 `json:"memoryUsedPercent"`
	DiskTotal         uint64  `json:"diskTotal"`
	DiskUsedPercent   float64 `json:"diskUsedPercent"`
}

func ReadSystemInfo(ctx context.Context) (*SystemInfo, error) {
	info := &SystemInfo{}

	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "host info")
	}
	info.Hostname = hi.Hostname
	info.UptimeSeconds = hi.Uptime

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, errors.Wrap(err, "cpu usage")
	}
	if len(percents) > 0 {
		info.CpuPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "memory usage")
	}
	info.MemoryTotal = vm.Total
	info.MemoryUsed = vm.Used
	info.MemoryUsedPercent = vm.UsedPercent

	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		info.DiskTotal = usage.Total
		info.DiskUsedPercent = usage.UsedPercent
	}
	return info, nil
}
