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

package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/sentry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	// Component Labels.
	ComponentRunLoop = "run_loop"
	// Graph.
	ComponentLoader        = "loader"
	ComponentRegistry      = "registry"
	ComponentConfigManager = "config_manager"
	// Objects.
	ComponentHardwareObject = "hardware_object"
	ComponentActuator       = "actuator"
	ComponentNState         = "nstate"
	ComponentHostMonitor    = "host_monitor"
	// Services.
	ComponentChannelService = "channel_service"
	ComponentMockChannel    = "mock_channel"
	ComponentRestChannel    = "rest_channel"
	ComponentFilesystem     = "filesystem"
	ComponentJournal        = "journal"
	ComponentAPI            = "api"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "blh"
	subsystem = "core"

	// Error counters.
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	// Poll cycle timing.
	pollTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "poll_duration_milliseconds",
			Help:      "Time taken to poll an object (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01, // 50th percentile with 1% error
				0.9:  0.01, // 90th percentile with 1% error
				0.95: 0.01, // 95th percentile with 1% error
				0.99: 0.01, // 99th percentile with 1% error
			},
		},
		[]string{"component", "instance"},
	)

	// Starvation timer.
	starvationSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "poll_starved_total_seconds",
			Help:      "Total seconds the run loop was starved",
		},
	)

	// Object state metric. Values follow the device state enum.
	objectState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "object_state",
			Help:      "Current state of the hardware object (0=Unknown, 1=Warning, 2=Busy, 3=Ready, 4=Fault, 5=Off)",
		},
		[]string{"role", "class"},
	)

	// Signal fan-out metrics.
	signalEmitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "signal_emits_total",
			Help:      "Total number of signal emissions delivered to subscribers",
		},
		[]string{"role", "signal"},
	)

	signalSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "signal_suppressed_total",
			Help:      "Total number of updates suppressed because the value did not change",
		},
		[]string{"role", "signal"},
	)

	waitReadyTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "wait_ready_timeouts_total",
			Help:      "Total number of wait-ready calls that hit their deadline",
		},
		[]string{"role"},
	)

	// Loader metrics.
	loadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "load_duration_seconds",
			Help:      "Duration of hardware object document loads in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"outcome"},
	)

	// Channel operation metrics.
	channelOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "channel_ops_total",
			Help:      "Total number of channel operations by protocol and outcome",
		},
		[]string{"protocol", "operation", "outcome"},
	)

	channelOpsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "channel_ops_duration_seconds",
			Help:      "Duration of channel operations in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"protocol", "operation"},
	)

	// Journal metrics.
	journalEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "journal_entries_total",
			Help:      "Total number of transition entries written to the journal",
		},
	)

	journalDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "journal_dropped_total",
			Help:      "Total number of transition entries dropped because the queue was full",
		},
	)

	// Filesystem operation metrics.
	filesystemOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "filesystem_ops_total",
			Help:      "Total number of filesystem operations by type and path",
		},
		[]string{"operation", "path", "cached"},
	)

	filesystemOpsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "filesystem_ops_duration_seconds",
			Help:      "Duration of filesystem operations in seconds",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation", "cached"},
	)
)

// GraphDebugProvider provides loader introspection data for the debug endpoint.
// Implementations should return a JSON-serializable struct describing the
// loaded object graph.
type GraphDebugProvider interface {
	GetDebugInfo() interface{}
}

// graphDebugRegistry holds registered graph debug providers.
var graphDebugRegistry struct {
	providers map[string]GraphDebugProvider
	mu        sync.RWMutex
}

// RegisterGraphDebugProvider registers a debug provider for the /debug/graph endpoint.
// Call this after creating a loader to expose its introspection data.
func RegisterGraphDebugProvider(name string, provider GraphDebugProvider) {
	graphDebugRegistry.mu.Lock()
	defer graphDebugRegistry.mu.Unlock()

	if graphDebugRegistry.providers == nil {
		graphDebugRegistry.providers = make(map[string]GraphDebugProvider)
	}

	graphDebugRegistry.providers[name] = provider
}

// UnregisterGraphDebugProvider removes a debug provider from the registry.
func UnregisterGraphDebugProvider(name string) {
	graphDebugRegistry.mu.Lock()
	defer graphDebugRegistry.mu.Unlock()

	delete(graphDebugRegistry.providers, name)
}

// handleGraphDebug handles the /debug/graph endpoint.
func handleGraphDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)

		return
	}

	graphDebugRegistry.mu.RLock()
	defer graphDebugRegistry.mu.RUnlock()

	if len(graphDebugRegistry.providers) == 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"no_providers_registered","message":"No loaders are registered for debugging"}`))

		return
	}

	response := make(map[string]interface{}, len(graphDebugRegistry.providers))
	for name, provider := range graphDebugRegistry.providers {
		response[name] = provider.GetDebugInfo()
	}

	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(response); err != nil {
		http.Error(w, "Failed to encode debug info", http.StatusInternalServerError)
	}
}

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/graph", handleGraphDebug)

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, logger.For("metrics"))
		}
	}()

	return server
}

// printDetailedStackTrace prints a detailed stack trace with more information.
func printDetailedStackTrace() {
	// Get stack trace for all goroutines with a large buffer
	buf := make([]byte, 1024*1024) // Allocate 1MB buffer
	n := runtime.Stack(buf, true)

	// Print the full stack trace
	logger.For("stacktrace").Debugf("=== DETAILED STACK TRACE ===\n%s", string(buf[:n]))
}

// IncErrorCountAndLog increments the error counter for a component and logs a debug message if a logger is provided.
func IncErrorCountAndLog(component, instance string, err error, logger *zap.SugaredLogger) {
	IncErrorCount(component, instance)

	if logger != nil {
		// Display detailed stacktrace
		printDetailedStackTrace()
		logger.Debugf("Component %s instance %s poll failed: %v", component, instance, err)
	}
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// ObservePollTime records the time taken for one poll of an object.
func ObservePollTime(component, instance string, duration time.Duration) {
	pollTime.WithLabelValues(component, instance).Observe(float64(duration.Milliseconds()))
}

// AddStarvationTime increases the starvation counter by the specified seconds.
func AddStarvationTime(seconds float64) {
	starvationSeconds.Add(seconds)
}

// UpdateObjectState updates the state metric for a hardware object.
// The numeric value follows the device state enum, unknown strings map to -1.
func UpdateObjectState(role, class string, state string) {
	objectState.WithLabelValues(role, class).Set(getStateValue(state))
}

// getStateValue converts a state string to a numeric value for the metric.
func getStateValue(state string) float64 {
	switch state {
	case "UNKNOWN":
		return 0
	case "WARNING":
		return 1
	case "BUSY":
		return 2
	case "READY":
		return 3
	case "FAULT":
		return 4
	case "OFF":
		return 5
	default:
		return -1
	}
}

// RecordSignalEmit records a delivered signal emission.
func RecordSignalEmit(role, signal string) {
	signalEmitsTotal.WithLabelValues(role, signal).Inc()
}

// RecordSignalSuppressed records an update that was swallowed by change detection.
func RecordSignalSuppressed(role, signal string) {
	signalSuppressedTotal.WithLabelValues(role, signal).Inc()
}

// RecordWaitReadyTimeout records a wait-ready call that hit its deadline.
func RecordWaitReadyTimeout(role string) {
	waitReadyTimeoutsTotal.WithLabelValues(role).Inc()
}

// ObserveLoadDuration records the duration of a document load.
func ObserveLoadDuration(outcome string, duration time.Duration) {
	loadDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordChannelOp records a channel operation metric.
func RecordChannelOp(protocol, operation string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}

	channelOpsTotal.WithLabelValues(protocol, operation, outcome).Inc()
	channelOpsDuration.WithLabelValues(protocol, operation).Observe(duration.Seconds())
}

// RecordJournalEntry records a journal entry write.
func RecordJournalEntry() {
	journalEntriesTotal.Inc()
}

// RecordJournalDropped records a journal entry dropped due to backpressure.
func RecordJournalDropped() {
	journalDroppedTotal.Inc()
}

// RecordFilesystemOp records a filesystem operation metric.
func RecordFilesystemOp(operation, path string, cached bool, duration time.Duration) {
	cachedStr := "false"
	if cached {
		cachedStr = "true"
	}

	filesystemOpsTotal.WithLabelValues(operation, path, cachedStr).Inc()
	filesystemOpsDuration.WithLabelValues(operation, cachedStr).Observe(duration.Seconds())
}
