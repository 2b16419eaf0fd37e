// Package sysmon samples host CPU, memory, and disk utilization.
package sysmon

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Usage is one instantaneous host utilization reading.
type Usage struct {
	CPUPct  float64 `json:"cpu_pct"`
	MemPct  float64 `json:"mem_pct"`
	DiskPct float64 `json:"disk_pct"`
}

// Sampler wraps the persistent host utilization counters. CPU and disk are
// rate counters: both are primed with a throwaway read at construction, since
// the first read after opening a rate counter is undefined. A counter that
// fails to initialize is reported once and reads 0 from then on.
type Sampler struct {
	logger *slog.Logger

	cpuOK  bool
	memOK  bool
	diskOK bool

	diskDevice string
	lastIO     map[string]disk.IOCountersStat
	lastIOAt   time.Time
}

// New primes the host counters and returns a Sampler.
func New(ctx context.Context, diskDevice string, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Sampler{
		logger:     logger.With("component", "sysmon"),
		diskDevice: diskDevice,
	}

	// Priming read; gopsutil computes subsequent interval-0 reads against it.
	if _, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		s.logger.Warn("cpu counter unavailable", "err", err)
	} else {
		s.cpuOK = true
	}

	if _, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		s.logger.Warn("memory counter unavailable", "err", err)
	} else {
		s.memOK = true
	}

	if stats, err := disk.IOCountersWithContext(ctx); err != nil {
		s.logger.Warn("disk counter unavailable", "err", err)
	} else {
		s.lastIO = stats
		s.lastIOAt = time.Now()
		s.diskOK = true
	}

	return s
}

// Sample reads each counter once. A per-read failure yields 0 for that metric
// for this pass only.
func (s *Sampler) Sample(ctx context.Context) Usage {
	return Usage{
		CPUPct:  s.sampleCPU(ctx),
		MemPct:  s.sampleMemory(ctx),
		DiskPct: s.sampleDisk(ctx),
	}
}

func (s *Sampler) sampleCPU(ctx context.Context) float64 {
	if !s.cpuOK {
		return 0
	}
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(percents) == 0 {
		s.logger.Debug("cpu read failed", "err", err)
		return 0
	}
	return percents[0]
}

func (s *Sampler) sampleMemory(ctx context.Context) float64 {
	if !s.memOK {
		return 0
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		s.logger.Debug("memory read failed", "err", err)
		return 0
	}
	return vm.UsedPercent
}

// sampleDisk derives an active-time percentage from IoTime deltas between
// passes; the busiest device wins. Values may exceed 100 on devices that
// account overlapping requests, matching raw counter behavior.
func (s *Sampler) sampleDisk(ctx context.Context) float64 {
	if !s.diskOK {
		return 0
	}
	stats, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		s.logger.Debug("disk read failed", "err", err)
		return 0
	}

	now := time.Now()
	elapsed := now.Sub(s.lastIOAt)
	previous := s.lastIO
	s.lastIO = stats
	s.lastIOAt = now

	if elapsed <= 0 {
		return 0
	}

	var busiest float64
	for name, current := range stats {
		if s.diskDevice != "" && name != s.diskDevice {
			continue
		}
		prev, ok := previous[name]
		if !ok || current.IoTime < prev.IoTime {
			continue
		}
		busy := float64(current.IoTime-prev.IoTime) / float64(elapsed.Milliseconds()+1) * 100
		if busy > busiest {
			busiest = busy
		}
	}
	return busiest
}
