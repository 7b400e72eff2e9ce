// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hostmonitor samples control-host health (CPU, memory, disk) so the
// host can participate in the object graph like any other device.
package hostmonitor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/beamline-hub/blh-core/pkg/constants"
	"github.com/beamline-hub/blh-core/pkg/env"
	"github.com/beamline-hub/blh-core/pkg/logger"
)

// Service defines the interface for the host monitor service.
type Service interface {
	// GetStatus collects and returns the current host metrics.
	GetStatus(ctx context.Context) (*HostStatus, error)

	// Warnings lists the thresholds a sample exceeds, empty when healthy.
	Warnings(status *HostStatus) []string
}

// HostMonitorService implements the Service interface on top of gopsutil.
type HostMonitorService struct {
	logger   *zap.SugaredLogger
	diskPath string

	cpuWarnPercent  float64
	memWarnPercent  float64
	diskWarnPercent float64
}

// NewHostMonitorService creates a host monitor. Thresholds and the monitored
// disk path can be overridden through BLH_HOSTMON_CPU_WARN_PERCENT,
// BLH_HOSTMON_MEM_WARN_PERCENT, BLH_HOSTMON_DISK_WARN_PERCENT and
// BLH_HOSTMON_DISK_PATH.
func NewHostMonitorService() *HostMonitorService {
	log := logger.For(logger.ComponentHostMonitor)

	cpuWarn, err := env.GetAsFloat("BLH_HOSTMON_CPU_WARN_PERCENT", false, constants.CPUWarningPercent)
	if err != nil {
		log.Warnf("Invalid CPU warning threshold override: %v", err)

		cpuWarn = constants.CPUWarningPercent
	}

	memWarn, err := env.GetAsFloat("BLH_HOSTMON_MEM_WARN_PERCENT", false, constants.MemoryWarningPercent)
	if err != nil {
		log.Warnf("Invalid memory warning threshold override: %v", err)

		memWarn = constants.MemoryWarningPercent
	}

	diskWarn, err := env.GetAsFloat("BLH_HOSTMON_DISK_WARN_PERCENT", false, constants.DiskWarningPercent)
	if err != nil {
		log.Warnf("Invalid disk warning threshold override: %v", err)

		diskWarn = constants.DiskWarningPercent
	}

	diskPath, err := env.GetAsString("BLH_HOSTMON_DISK_PATH", false, constants.HostMonitorDiskPath)
	if err != nil {
		diskPath = constants.HostMonitorDiskPath
	}

	return &HostMonitorService{
		logger:          log,
		diskPath:        diskPath,
		cpuWarnPercent:  cpuWarn,
		memWarnPercent:  memWarn,
		diskWarnPercent: diskWarn,
	}
}

// GetStatus collects and returns the current host metrics. A section that
// fails to collect is logged and left nil so one broken probe does not hide
// the others.
func (s *HostMonitorService) GetStatus(ctx context.Context) (*HostStatus, error) {
	status := &HostStatus{
		Architecture: runtime.GOARCH,
		CollectedAt:  time.Now(),
	}

	if hostname, err := os.Hostname(); err == nil {
		status.Hostname = hostname
	}

	cpuStatus, err := s.getCPUStatus(ctx)
	if err != nil {
		s.logger.Errorf("Failed to get CPU metrics: %v", err)
	} else {
		status.CPU = cpuStatus
	}

	memStatus, err := s.getMemoryStatus(ctx)
	if err != nil {
		s.logger.Errorf("Failed to get memory metrics: %v", err)
	} else {
		status.Memory = memStatus
	}

	diskStatus, err := s.getDiskStatus(ctx)
	if err != nil {
		s.logger.Errorf("Failed to get disk metrics: %v", err)
	} else {
		status.Disk = diskStatus
	}

	RecordHostMetrics(status)

	return status, nil
}

// Warnings lists the thresholds a sample exceeds. An empty slice means the
// host is healthy; nil sections are skipped, not flagged.
func (s *HostMonitorService) Warnings(status *HostStatus) []string {
	if status == nil {
		return nil
	}

	var warnings []string

	if status.CPU != nil && status.CPU.LoadPercent >= s.cpuWarnPercent {
		warnings = append(warnings, fmt.Sprintf("cpu load %.1f%% above %.1f%%", status.CPU.LoadPercent, s.cpuWarnPercent))
	}

	if status.Memory != nil && status.Memory.UsedPercent >= s.memWarnPercent {
		warnings = append(warnings, fmt.Sprintf("memory usage %.1f%% above %.1f%%", status.Memory.UsedPercent, s.memWarnPercent))
	}

	if status.Disk != nil && status.Disk.UsedPercent >= s.diskWarnPercent {
		warnings = append(warnings, fmt.Sprintf("disk usage %.1f%% on %s above %.1f%%", status.Disk.UsedPercent, status.Disk.Path, s.diskWarnPercent))
	}

	return warnings
}

// getCPUStatus samples CPU load. Interval 0 measures against the previous
// call, which fits a steady poll loop.
func (s *HostMonitorService) getCPUStatus(ctx context.Context) (*CPUStatus, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("failed to sample cpu load: %w", err)
	}

	if len(percents) == 0 {
		return nil, fmt.Errorf("cpu sampling returned no values")
	}

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		s.logger.Warnf("Failed to count CPU cores, falling back to runtime: %v", err)

		cores = runtime.NumCPU()
	}

	return &CPUStatus{
		LoadPercent: percents[0],
		CoreCount:   cores,
	}, nil
}

func (s *HostMonitorService) getMemoryStatus(ctx context.Context) (*MemoryStatus, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read virtual memory: %w", err)
	}

	return &MemoryStatus{
		UsedBytes:   vm.Used,
		TotalBytes:  vm.Total,
		UsedPercent: vm.UsedPercent,
	}, nil
}

func (s *HostMonitorService) getDiskStatus(ctx context.Context) (*DiskStatus, error) {
	usage, err := disk.UsageWithContext(ctx, s.diskPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read disk usage for %s: %w", s.diskPath, err)
	}

	return &DiskStatus{
		Path:        s.diskPath,
		UsedBytes:   usage.Used,
		TotalBytes:  usage.Total,
		UsedPercent: usage.UsedPercent,
	}, nil
}
