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

import "time"

// HostStatus is one sample of control-host health. Sections that failed to
// collect are nil; the sample as a whole is still usable.
type HostStatus struct {
	CPU          *CPUStatus    `json:"cpu"`
	Memory       *MemoryStatus `json:"memory"`
	Disk         *DiskStatus   `json:"disk"`
	Hostname     string        `json:"hostname"`
	Architecture string        `json:"architecture"`
	CollectedAt  time.Time     `json:"collectedAt"`
}

// CPUStatus contains CPU-related metrics.
type CPUStatus struct {
	LoadPercent float64 `json:"loadPercent"` // Current CPU load as percentage (0-100)
	CoreCount   int     `json:"coreCount"`   // Number of logical cores
}

// MemoryStatus contains memory-related metrics.
type MemoryStatus struct {
	UsedBytes   uint64  `json:"usedBytes"`
	TotalBytes  uint64  `json:"totalBytes"`
	UsedPercent float64 `json:"usedPercent"`
}

// DiskStatus contains disk metrics for the monitored partition.
type DiskStatus struct {
	Path        string  `json:"path"`
	UsedBytes   uint64  `json:"usedBytes"`
	TotalBytes  uint64  `json:"totalBytes"`
	UsedPercent float64 `json:"usedPercent"`
}
