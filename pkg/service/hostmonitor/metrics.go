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

package hostmonitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	namespace = "blh"
	subsystem = "host"

	hostCPULoadPercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cpu_load_percent",
		Help:      "Current CPU load as percentage (0-100)",
	}, []string{"host"})

	hostCPUCoreCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cpu_core_count",
		Help:      "Number of logical CPU cores available",
	}, []string{"host"})

	hostMemoryUsedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "memory_used_bytes",
		Help:      "Current memory usage in bytes",
	}, []string{"host"})

	hostMemoryTotalBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "memory_total_bytes",
		Help:      "Total memory available in bytes",
	}, []string{"host"})

	hostMemoryUsagePercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "memory_usage_percent",
		Help:      "Memory usage as percentage of total (0-100)",
	}, []string{"host"})

	hostDiskUsedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "disk_used_bytes",
		Help:      "Current disk usage in bytes for the monitored partition",
	}, []string{"host"})

	hostDiskTotalBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "disk_total_bytes",
		Help:      "Total disk space in bytes for the monitored partition",
	}, []string{"host"})

	hostDiskUsagePercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "disk_usage_percent",
		Help:      "Disk usage as percentage of total (0-100)",
	}, []string{"host"})
)

// RecordHostMetrics updates the Prometheus gauges from a sample. Nil sections
// leave their gauges at the previous value.
func RecordHostMetrics(status *HostStatus) {
	if status == nil {
		return
	}

	host := status.Hostname
	if host == "" {
		host = "unknown"
	}

	if status.CPU != nil {
		hostCPULoadPercent.WithLabelValues(host).Set(status.CPU.LoadPercent)
		hostCPUCoreCount.WithLabelValues(host).Set(float64(status.CPU.CoreCount))
	}

	if status.Memory != nil {
		hostMemoryUsedBytes.WithLabelValues(host).Set(float64(status.Memory.UsedBytes))
		hostMemoryTotalBytes.WithLabelValues(host).Set(float64(status.Memory.TotalBytes))
		hostMemoryUsagePercent.WithLabelValues(host).Set(status.Memory.UsedPercent)
	}

	if status.Disk != nil {
		hostDiskUsedBytes.WithLabelValues(host).Set(float64(status.Disk.UsedBytes))
		hostDiskTotalBytes.WithLabelValues(host).Set(float64(status.Disk.TotalBytes))
		hostDiskUsagePercent.WithLabelValues(host).Set(status.Disk.UsedPercent)
	}
}
