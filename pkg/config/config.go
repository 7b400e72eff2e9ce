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
	"path/filepath"

	"github.com/tiendc/go-deepcopy"

	"github.com/beamline-hub/blh-core/pkg/constants"
)

// CoreConfig is the runtime configuration of the core process. It is distinct
// from the hardware object Documents: those describe the beamline, this
// describes how the process runs.
type CoreConfig struct {
	Core     CoreSettings   `yaml:"core"`     // Process-level settings, requires restart to take effect
	Hardware HardwareConfig `yaml:"hardware"` // Which object tree to load and how to talk to it
}

// CoreSettings holds process-level settings.
type CoreSettings struct {
	MetricsPort int    `yaml:"metricsPort"`          // Port to expose Prometheus metrics on
	APIPort     int    `yaml:"apiPort"`              // Port of the HTTP control API
	JournalDir  string `yaml:"journalDir,omitempty"` // Where state transition journal segments are written
}

// HardwareConfig selects the object tree and the protocol mode.
type HardwareConfig struct {
	ConfigPath string `yaml:"configPath,omitempty"` // Directory holding hardware object documents
	Beamline   string `yaml:"beamline,omitempty"`   // Root document name, resolved relative to ConfigPath
	Simulation bool   `yaml:"simulation,omitempty"` // Route every protocol binding to the mock adapter
}

// DefaultCoreConfig returns the configuration used when no config file exists yet.
func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		Core: CoreSettings{
			MetricsPort: constants.DefaultMetricsPort,
			APIPort:     constants.DefaultAPIPort,
			JournalDir:  constants.JournalDir,
		},
		Hardware: HardwareConfig{
			ConfigPath: constants.DefaultConfigDir,
			Beamline:   constants.DefaultRootDocument,
		},
	}
}

// RootDocumentPath returns the absolute path of the root document.
func (c CoreConfig) RootDocumentPath() string {
	if filepath.IsAbs(c.Hardware.Beamline) {
		return c.Hardware.Beamline
	}

	return filepath.Join(c.Hardware.ConfigPath, c.Hardware.Beamline)
}

// Clone creates a deep copy of CoreConfig
func (c CoreConfig) Clone() CoreConfig {
	var clone CoreConfig
	deepcopy.Copy(&clone.Core, &c.Core)
	deepcopy.Copy(&clone.Hardware, &c.Hardware)

	return clone
}
