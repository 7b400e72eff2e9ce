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
	"context"
	"time"
)

// MockService is a scriptable implementation of the Service interface.
// Leave the Func fields nil to get healthy defaults.
type MockService struct {
	GetStatusFunc func(ctx context.Context) (*HostStatus, error)
	WarningsFunc  func(status *HostStatus) []string
}

// NewMockService creates a mock that reports a healthy host.
func NewMockService() *MockService {
	return &MockService{}
}

func (m *MockService) GetStatus(ctx context.Context) (*HostStatus, error) {
	if m.GetStatusFunc != nil {
		return m.GetStatusFunc(ctx)
	}

	return CreateHealthyHostStatus(), nil
}

func (m *MockService) Warnings(status *HostStatus) []string {
	if m.WarningsFunc != nil {
		return m.WarningsFunc(status)
	}

	return nil
}

// CreateHealthyHostStatus returns a sample well under every default
// threshold.
func CreateHealthyHostStatus() *HostStatus {
	return &HostStatus{
		CPU: &CPUStatus{
			LoadPercent: 12.5,
			CoreCount:   4,
		},
		Memory: &MemoryStatus{
			UsedBytes:   1073741824, // 1 GB
			TotalBytes:  4294967296, // 4 GB
			UsedPercent: 25.0,
		},
		Disk: &DiskStatus{
			Path:        "/",
			UsedBytes:   536870912,   // 512 MB
			TotalBytes:  10737418240, // 10 GB
			UsedPercent: 5.0,
		},
		Hostname:     "beamline-test",
		Architecture: "amd64",
		CollectedAt:  time.Now(),
	}
}

// CreateDegradedHostStatus returns a sample over the default CPU and memory
// thresholds.
func CreateDegradedHostStatus() *HostStatus {
	status := CreateHealthyHostStatus()
	status.CPU.LoadPercent = 97.5
	status.Memory.UsedBytes = 4123168604
	status.Memory.UsedPercent = 96.0

	return status
}
