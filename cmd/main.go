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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/beamline-hub/blh-core/pkg/api"
	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/constants"
	"github.com/beamline-hub/blh-core/pkg/control"
	"github.com/beamline-hub/blh-core/pkg/env"
	"github.com/beamline-hub/blh-core/pkg/hwobj/objects"
	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/metrics"
	"github.com/beamline-hub/blh-core/pkg/registry"
	"github.com/beamline-hub/blh-core/pkg/sentry"
	"github.com/beamline-hub/blh-core/pkg/service/channel"
	"github.com/beamline-hub/blh-core/pkg/service/filesystem"
	"github.com/beamline-hub/blh-core/pkg/service/hostmonitor"
	"github.com/beamline-hub/blh-core/pkg/version"
)

func main() {
	// Initialize the global logger first thing
	logger.Initialize()

	// Initialize Sentry
	sentry.InitSentry(version.GetAppVersion(), true)

	// Get a logger for the main component
	log := logger.For(logger.ComponentCore)

	log.Info("Starting blh-core...")

	// A second signal during shutdown kills the process the default way.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load the config
	configManager, err := config.NewFileConfigManagerWithBackoff()
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to create config manager: %v", err)
		os.Exit(1)
	}

	// Load or create configuration with environment variable overrides.
	// This loads the config file if it exists, applies any environment
	// variables as overrides, and persists the result back to the config
	// file. See detailed docs in config.LoadConfigWithEnvOverrides.
	configData, err := config.LoadConfigWithEnvOverrides(ctx, configManager, log)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load config: %v", err)
		os.Exit(1)
	}

	// Start the metrics server
	metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", configData.Core.MetricsPort))
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.APIShutdownTimeout)
		defer shutdownCancel()

		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown metrics server: %v", err)
		}
	}()

	// Wire the channel adapters. The simulator always registers so mock
	// bindings and simulation mode resolve; the REST adapter joins when a
	// control endpoint is configured.
	hub := channel.NewHub()

	if err := hub.RegisterAdapter(channel.NewSimulator()); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to register simulator adapter: %v", err)
		os.Exit(1)
	}

	controlURL, err := env.GetAsString("BLH_CONTROL_URL", false, "")
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get BLH_CONTROL_URL: %v", err)
	}

	if controlURL != "" {
		if err := hub.RegisterAdapter(channel.NewRestAdapter(controlURL)); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to register rest adapter: %v", err)
			os.Exit(1)
		}

		log.Infof("REST channel adapter bound to %s", controlURL)
	}

	// Register the hardware object classes
	fsService := filesystem.NewDefaultService()

	reg := registry.New()

	err = objects.RegisterAll(reg, objects.Services{
		Hub:  hub,
		Host: hostmonitor.NewHostMonitorService(),
		FS:   fsService,
	})
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to register object classes: %v", err)
		os.Exit(1)
	}

	// Start the run loop
	loop := control.NewLoop(configManager, hub, reg, fsService)

	metrics.RegisterGraphDebugProvider("object_graph", &graphDebug{loop: loop})

	// Start the API server
	apiServer := api.NewServer(loop, fsService).Serve(configData.Core.APIPort)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.APIShutdownTimeout)
		defer shutdownCancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown API server: %v", err)
		}
	}()

	err = loop.Run(ctx)
	if err != nil {
		log.Errorf("Run loop failed: %v", err)
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Run loop failed: %v", err)
	}

	// Switch the hardware off before the HTTP surfaces go down.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), constants.GraphShutdownTimeout)
	defer stopCancel()

	if err := loop.Stop(stopCtx); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to stop run loop: %v", err)
	}

	log.Info("blh-core completed")
}

// graphDebug exposes the live object graph on the metrics debug endpoint.
type graphDebug struct {
	loop *control.Loop
}

func (g *graphDebug) GetDebugInfo() interface{} {
	graph := g.loop.GetGraph()
	if graph == nil {
		return map[string]any{"status": "no graph loaded"}
	}

	return map[string]any{
		"session":   graph.SessionID(),
		"loaded_at": graph.LoadedAt(),
		"root":      graph.RootRole(),
		"objects":   graph.Snapshot(),
	}
}
