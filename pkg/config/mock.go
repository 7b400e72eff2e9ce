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

package config

import (
	"context"
	"sync"
	"time"

	filesystem "github.com/beamline-hub/blh-core/pkg/service/filesystem"
)

// MockConfigManager is a mock implementation of ConfigManager for testing
type MockConfigManager struct {
	GetConfigCalled           bool
	AtomicSetSimulationCalled bool
	AtomicSetBeamlineCalled   bool

	Config                   CoreConfig
	ConfigError              error
	AtomicSetSimulationError error
	AtomicSetBeamlineError   error

	// ConfigDelay makes GetConfig block, for exercising caller timeouts
	ConfigDelay time.Duration

	MockFileSystem *filesystem.MockFileSystem

	mutex sync.Mutex
}

// NewMockConfigManager creates a new MockConfigManager instance
func NewMockConfigManager() *MockConfigManager {
	return &MockConfigManager{
		Config:         DefaultCoreConfig(),
		MockFileSystem: filesystem.NewMockFileSystem(),
	}
}

// WithConfig sets the config returned by GetConfig
func (m *MockConfigManager) WithConfig(cfg CoreConfig) *MockConfigManager {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.Config = cfg

	return m
}

// WithConfigError sets the error returned by GetConfig
func (m *MockConfigManager) WithConfigError(err error) *MockConfigManager {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ConfigError = err

	return m
}

// ResetCalls clears the call tracking flags
func (m *MockConfigManager) ResetCalls() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.GetConfigCalled = false
	m.AtomicSetSimulationCalled = false
	m.AtomicSetBeamlineCalled = false
}

// GetConfig implements the ConfigManager interface
func (m *MockConfigManager) GetConfig(ctx context.Context, tick uint64) (CoreConfig, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.GetConfigCalled = true

	if m.ConfigDelay > 0 {
		select {
		case <-time.After(m.ConfigDelay):
			// Delay completed
		case <-ctx.Done():
			return CoreConfig{}, ctx.Err()
		}
	}

	return m.Config, m.ConfigError
}

// GetFileSystemService returns the mock filesystem service
func (m *MockConfigManager) GetFileSystemService() filesystem.Service {
	return m.MockFileSystem
}

// AtomicSetSimulation implements the ConfigManager interface
func (m *MockConfigManager) AtomicSetSimulation(ctx context.Context, enabled bool) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.AtomicSetSimulationCalled = true

	if m.AtomicSetSimulationError != nil {
		return m.AtomicSetSimulationError
	}

	m.Config.Hardware.Simulation = enabled

	return nil
}

// AtomicSetBeamline implements the ConfigManager interface
func (m *MockConfigManager) AtomicSetBeamline(ctx context.Context, configPath, beamline string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.AtomicSetBeamlineCalled = true

	if m.AtomicSetBeamlineError != nil {
		return m.AtomicSetBeamlineError
	}

	if configPath != "" {
		m.Config.Hardware.ConfigPath = configPath
	}

	if beamline != "" {
		m.Config.Hardware.Beamline = beamline
	}

	return nil
}
