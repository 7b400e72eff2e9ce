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
	"fmt"

	"go.uber.org/zap"

	"github.com/beamline-hub/blh-core/pkg/env"
	"github.com/beamline-hub/blh-core/pkg/sentry"
)

// LoadConfigWithEnvOverrides loads the config file and applies environment variable overrides.
// This function is used during initial application startup to handle configuration from both
// the persistent config file and runtime environment variables passed via docker -e flags.
//
// Order of precedence (highest to lowest):
// 1. Environment variables (BLH_CONFIG_PATH, BLH_BEAMLINE, BLH_SIMULATION, BLH_JOURNAL_DIR, METRICS_PORT, API_PORT)
// 2. Existing config file values
// 3. Default values
//
// Only set variables override existing config values: BLH_SIMULATION is
// checked for presence first so an explicit "false" flips a previously
// enabled simulation mode back off.
//
// Important: This function has side effects! The resulting configuration is
// written back to the config file, so environment variables cause permanent
// changes that become the baseline on subsequent runs.
func LoadConfigWithEnvOverrides(ctx context.Context, configManager *FileConfigManagerWithBackoff, log *zap.SugaredLogger) (CoreConfig, error) {
	// Collect environment variables that can override config values
	configPath, err := env.GetAsString("BLH_CONFIG_PATH", false, "")
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get BLH_CONFIG_PATH: %v", err)
	}

	beamline, err := env.GetAsString("BLH_BEAMLINE", false, "")
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get BLH_BEAMLINE: %v", err)
	}

	journalDir, err := env.GetAsString("BLH_JOURNAL_DIR", false, "")
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get BLH_JOURNAL_DIR: %v", err)
	}

	metricsPort, err := env.GetAsInt("METRICS_PORT", false, 0)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get METRICS_PORT: %v", err)
	}

	apiPort, err := env.GetAsInt("API_PORT", false, 0)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get API_PORT: %v", err)
	}

	var simulation *bool
	if env.IsSet("BLH_SIMULATION") {
		enabled, err := env.GetAsBool("BLH_SIMULATION", false, false)
		if err != nil {
			sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get BLH_SIMULATION: %v", err)
		} else {
			simulation = &enabled
		}
	}

	override := Overrides{
		ConfigPath:  configPath,
		Beamline:    beamline,
		JournalDir:  journalDir,
		Simulation:  simulation,
		MetricsPort: metricsPort,
		APIPort:     apiPort,
	}

	// Apply the environment overrides to the config
	configData, err := configManager.GetConfigWithOverwritesOrCreateNew(ctx, override)
	if err != nil {
		return CoreConfig{}, fmt.Errorf("failed to load config with environment overrides: %w", err)
	}

	return configData, nil
}
