// Package sysinfo snapshots host resources. Decoding workloads are
// memory and page-cache heavy, so the stats command and engine startup
// log what the host has to work with.
package sysinfo

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is one point-in-time view of the host.
type Snapshot struct {
	Hostname string `json:"hostname" yaml:"hostname"`
	OS       string `json:"os" yaml:"os"`
	Arch     string `json:"arch" yaml:"arch"`

	UptimeSeconds int64 `json:"uptime_seconds" yaml:"uptime_seconds"`
	CPUCores      int   `json:"cpu_cores" yaml:"cpu_cores"`

	LoadAvg1m  float64 `json:"load_avg_1m" yaml:"load_avg_1m"`
	LoadAvg5m  float64 `json:"load_avg_5m" yaml:"load_avg_5m"`
	LoadAvg15m float64 `json:"load_avg_15m" yaml:"load_avg_15m"`

	MemoryTotalBytes     uint64  `json:"memory_total_bytes" yaml:"memory_total_bytes"`
	MemoryUsedBytes      uint64  `json:"memory_used_bytes" yaml:"memory_used_bytes"`
	MemoryAvailableBytes uint64  `json:"memory_available_bytes" yaml:"memory_available_bytes"`
	MemoryPercent        float64 `json:"memory_percent" yaml:"memory_percent"`

	CollectedAt time.Time `json:"collected_at" yaml:"collected_at"`
}

// Collect gathers a snapshot. Individual probes failing leave their
// fields zero rather than failing the whole snapshot; a stats readout
// with a missing load average is still useful.
func Collect(ctx context.Context) *Snapshot {
	s := &Snapshot{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		CollectedAt: time.Now(),
	}
	s.Hostname, _ = os.Hostname()

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		s.UptimeSeconds = int64(uptime)
	}
	if counts, err := cpu.CountsWithContext(ctx, true); err == nil {
		s.CPUCores = counts
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.LoadAvg1m = avg.Load1
		s.LoadAvg5m = avg.Load5
		s.LoadAvg15m = avg.Load15
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryTotalBytes = vm.Total
		s.MemoryUsedBytes = vm.Used
		s.MemoryAvailableBytes = vm.Available
		s.MemoryPercent = vm.UsedPercent
	}
	return s
}
