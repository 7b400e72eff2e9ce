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

// Package control implements the run loop of the beamline core.
//
// This package is responsible for:
// - Owning the lifecycle of the hardware object graph (load, reload, shutdown)
// - Executing the single-threaded run loop that drives the system
// - Refreshing hardware readings through each object's poller
// - Serializing reloads triggered by config changes or edited documents
// - Handling errors and ensuring system stability
// - Monitoring performance metrics and detecting starvation conditions
// - Feeding the flight recorder journal with periodic graph snapshots
//
// The main components are:
// - Loop: Coordinates the entire system's operation
// - Loader: Builds the object graph from configuration documents
// - ConfigManager: Provides the runtime configuration
// - StarvationChecker: Monitors system health and detects run loop problems
// - Journal: Maintains the flight recorder for post-mortem analysis
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/beamline-hub/blh-core/pkg/backoff"
	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/constants"
	"github.com/beamline-hub/blh-core/pkg/ctxutil"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
	"github.com/beamline-hub/blh-core/pkg/loader"
	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/metrics"
	"github.com/beamline-hub/blh-core/pkg/registry"
	"github.com/beamline-hub/blh-core/pkg/sentry"
	"github.com/beamline-hub/blh-core/pkg/service/channel"
	"github.com/beamline-hub/blh-core/pkg/service/filesystem"
	"github.com/beamline-hub/blh-core/pkg/starvationchecker"
)

// valuePoller is implemented by objects whose reading is one number, such
// as motors and other actuators.
type valuePoller interface {
	ReadValue(ctx context.Context) (float64, error)
}

// positionPoller is implemented by objects whose reading is a named
// position, such as shutters and other n-state devices.
type positionPoller interface {
	ReadPosition(ctx context.Context) (string, error)
}

// pollTarget is one object scheduled for polling in the current cycle.
type pollTarget struct {
	role string
	obj  hwobj.Object
}

// pollRecord carries the per-object bookkeeping of the poll scheduler.
type pollRecord struct {
	lastValue     float64
	lastPosition  string
	seen          bool
	changeStreak  int
	cooldownUntil uint64
}

// loadAttempt remembers the inputs of the most recent graph load so a
// failed one is not retried until something actually changed.
type loadAttempt struct {
	root       string
	simulation bool
	watchGen   uint64
}

// Loop is the central orchestration component of the beamline core. It owns
// the hardware object graph and drives the system with a fixed-interval
// tick: each tick fetches the runtime configuration, decides whether the
// graph must be rebuilt, refreshes hardware readings through the object
// pollers and feeds the flight recorder.
//
// The single-threaded design ensures deterministic behavior: configuration
// drift, watcher events and reloads are all serialized through the one Run
// goroutine, while the poll work inside a tick fans out through a bounded
// errgroup so slow objects never block each other.
type Loop struct {
	tickerTime   time.Duration
	pollInterval time.Duration
	pollEvery    uint64
	journalEvery uint64

	configManager     config.ConfigManager
	hub               *channel.Hub
	fs                filesystem.Service
	loader            *loader.Loader
	logger            *zap.SugaredLogger
	starvationChecker *starvationchecker.StarvationChecker

	currentTick uint64

	// The live graph. Swapped atomically on reload so readers on other
	// goroutines (API handlers, tests) never see a half-built graph.
	graph atomic.Pointer[loader.Graph]

	// Reload bookkeeping, confined to the Run goroutine.
	cfg             config.CoreConfig
	loadedRoot      string
	loadedSim       bool
	watchGen        uint64
	appliedWatchGen uint64
	lastAttempt     *loadAttempt
	reloadNeeded    bool

	watcher        *config.Watcher
	reloadEvents   <-chan config.ReloadEvent
	watchDir       string
	watchErrLogged bool

	journal          *Journal
	journalErrLogged bool

	pollTimes      map[string]time.Duration
	pollTimesMutex sync.RWMutex

	records      map[string]*pollRecord
	recordsMutex sync.Mutex
}

// NewLoop creates a run loop around the given configuration manager,
// channel hub and class registry. The loop runs at a fixed interval
// (DefaultTickerTime) and polls hardware readings at StatePollInterval.
func NewLoop(configManager config.ConfigManager, hub *channel.Hub, reg *registry.Registry, fsService filesystem.Service) *Loop {
	// Get a component-specific logger
	log := logger.For(logger.ComponentRunLoop)
	if log == nil {
		// If logger initialization failed somehow, create a no-op logger to avoid nil panics
		log = zap.NewNop().Sugar()
	}

	if fsService == nil {
		fsService = filesystem.NewDefaultService()
	}

	// Create a starvation checker
	starvationChecker := starvationchecker.NewStarvationChecker(constants.StarvationThreshold)

	metrics.InitErrorCounter(metrics.ComponentRunLoop, "main")

	l := &Loop{
		tickerTime:        constants.DefaultTickerTime,
		pollInterval:      constants.StatePollInterval,
		configManager:     configManager,
		hub:               hub,
		fs:                fsService,
		loader:            loader.New(reg, fsService),
		logger:            log,
		starvationChecker: starvationChecker,
		pollTimes:         make(map[string]time.Duration),
		records:           make(map[string]*pollRecord),
	}
	l.deriveCadence()

	return l
}

// WithTiming overrides the tick and poll intervals and returns the loop for
// chaining. Tests use short intervals.
func (l *Loop) WithTiming(tick, poll time.Duration) *Loop {
	l.tickerTime = tick
	l.pollInterval = poll
	l.deriveCadence()

	return l
}

// deriveCadence translates the poll and journal intervals into tick counts.
func (l *Loop) deriveCadence() {
	if l.tickerTime <= 0 {
		l.tickerTime = constants.DefaultTickerTime
	}

	l.pollEvery = uint64(l.pollInterval / l.tickerTime)
	if l.pollEvery < 1 {
		l.pollEvery = 1
	}

	l.journalEvery = uint64(constants.JournalSnapshotInterval / l.tickerTime)
	if l.journalEvery < 1 {
		l.journalEvery = 1
	}
}

// Run executes the run loop until the context is cancelled.
// This is the main entry point that starts the continuous operation.
// The loop follows a simple pattern:
// 1. Wait for the next tick interval
// 2. Fetch the latest configuration
// 3. Poll hardware readings and feed the journal
// 4. Update metrics and monitor for starvation
// 5. Perform any pending graph load outside the tick budget
//
// Critical error handling patterns:
// - Deadline exceeded: Log warning and continue (temporary slowness indicating the ticker is too fast or the pollers are slow)
// - Context cancelled: Clean shutdown
// - Other errors: Abort the loop
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.tickerTime)
	defer ticker.Stop()

	// Initialize tick counter
	l.currentTick = 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-l.reloadEvents:
			l.watchGen++
			l.logger.Infof("Documents changed on disk (%d files), scheduling reload", len(ev.Paths))
		case <-ticker.C:
			// Increment tick counter on each iteration
			l.currentTick++

			// Measure cycle time
			start := time.Now()

			// Create a timeout context for the cycle
			timeoutCtx, cancel := context.WithTimeout(ctx, l.tickerTime)
			err := l.Cycle(timeoutCtx, l.currentTick)
			cancel()

			cycleTime := time.Since(start)

			// If cycleTime is greater than tickerTime, log a warning
			if cycleTime > l.tickerTime {
				l.logger.Warnf("Run loop cycle time is greater than ticker time: %v", cycleTime)
				// If cycleTime is greater than 2*tickerTime, log an error
				if cycleTime > 2*l.tickerTime {
					l.logger.Errorf("Run loop cycle time is greater than 2*ticker time: %v", cycleTime)
				}
			}

			metrics.ObservePollTime(metrics.ComponentRunLoop, "main", cycleTime)

			// Handle errors differently based on type
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					// For timeouts, log warning but continue
					sentry.ReportIssuef(sentry.IssueTypeWarning, l.logger, "Run loop cycle timed out: %v", err)
				} else if errors.Is(err, context.Canceled) {
					// For cancellation, exit the loop
					l.logger.Infof("Run loop cancelled")

					return nil
				} else {
					metrics.IncErrorCountAndLog(metrics.ComponentRunLoop, "main", err, l.logger)
					// Any other unhandled error will result in the run loop stopping
					sentry.ReportIssuef(sentry.IssueTypeError, l.logger, "Run loop error: %v", err)

					return err
				}
			}

			// Graph loads run outside the tick budget: object initialization
			// may touch real hardware and take seconds.
			if l.reloadNeeded {
				l.reload(ctx)
			}
		}
	}
}

// Cycle performs a single run loop cycle:
// 1. Fetch the latest configuration (with backoff on filesystem trouble)
// 2. Keep the document watcher and the journal aligned with it
// 3. Decide whether the graph must be (re)built
// 4. Poll hardware readings through the object pollers
// 5. Stamp the starvation checker and feed the flight recorder
//
// Error Handling:
//   - Temporary config backoff skips the cycle
//   - Permanent config failure stops the loop, the system needs intervention
//   - Poll failures mark metrics and logs but never propagate: background
//     polling must not fault an object a caller is actively driving
func (l *Loop) Cycle(ctx context.Context, tick uint64) error {
	if l.configManager == nil {
		return fmt.Errorf("config manager is not set")
	}

	// Check if context is already cancelled
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Get the config, this can fail for example through filesystem errors
	// Therefore we need a backoff here
	// GetConfig returns a temporary backoff error or a permanent failure error
	cfg, err := l.configManager.GetConfig(ctx, tick)
	if err != nil {
		// Handle temporary backoff errors --> we want to continue cycling
		if backoff.IsTemporaryBackoffError(err) {
			l.logger.Debugf("Skipping poll cycle due to temporary config backoff: %v", err)

			return nil
		} else if backoff.IsPermanentFailureError(err) { // Handle permanent failure errors --> we want to stop the run loop
			originalErr := backoff.ExtractOriginalError(err)
			sentry.ReportIssuef(sentry.IssueTypeError, l.logger, "Config manager has permanently failed after max retries: %v (original error: %v)",
				err, originalErr)
			metrics.IncErrorCountAndLog(metrics.ComponentRunLoop, "config_permanent_failure", err, l.logger)

			// Propagate the error to the parent component so it can potentially restart the system
			return fmt.Errorf("config permanently failed, system needs intervention: %w", err)
		} else {
			// Handle other errors --> we want to continue cycling
			sentry.ReportIssuef(sentry.IssueTypeError, l.logger, "Config manager error: %v", err)

			return nil
		}
	}

	l.cfg = cfg

	l.ensureWatcher(cfg)
	l.ensureJournal(ctx, cfg)

	l.reloadNeeded = l.needsReload(cfg)

	g := l.graph.Load()
	if g == nil {
		// Nothing to poll before the first successful load. The cycle still
		// counts as completed, an unconfigured beamline is not a starved one.
		l.starvationChecker.UpdateLastCycleTime()

		return nil
	}

	var pollErr error
	if tick%l.pollEvery == 0 {
		pollErr = l.pollObjects(ctx, g, tick)
	}

	l.starvationChecker.UpdateLastCycleTime()

	if l.journal != nil && tick%l.journalEvery == 0 {
		l.journal.Append(JournalEntry{
			Time:    time.Now(),
			Tick:    tick,
			Session: g.SessionID(),
			Objects: g.Snapshot(),
		})
	}

	return pollErr
}

// needsReload decides whether the object graph has to be (re)built. A load
// is wanted when no graph is live yet, when the configured root document or
// simulation mode changed, or when documents changed on disk. A failed
// attempt is not retried until one of those inputs changes again, so a
// broken document does not trigger a doomed load every tick.
func (l *Loop) needsReload(cfg config.CoreConfig) bool {
	root := cfg.RootDocumentPath()
	sim := cfg.Hardware.Simulation

	current := l.graph.Load() != nil &&
		l.loadedRoot == root &&
		l.loadedSim == sim &&
		l.appliedWatchGen == l.watchGen
	if current {
		return false
	}

	if l.lastAttempt != nil &&
		l.lastAttempt.root == root &&
		l.lastAttempt.simulation == sim &&
		l.lastAttempt.watchGen == l.watchGen {
		return false
	}

	return true
}

// reload builds a new graph from the configured root document and swaps it
// in. The previous graph keeps serving until the replacement is fully
// initialized; on failure it stays in place untouched.
func (l *Loop) reload(ctx context.Context) {
	l.reloadNeeded = false

	if ctx.Err() != nil {
		return
	}

	cfg := l.cfg
	root := cfg.RootDocumentPath()
	sim := cfg.Hardware.Simulation

	l.lastAttempt = &loadAttempt{root: root, simulation: sim, watchGen: l.watchGen}

	l.logger.Infof("Loading object graph from %s (simulation=%v)", root, sim)

	if l.hub != nil {
		l.hub.WithSimulation(sim)
	}

	loadCtx, cancel := context.WithTimeout(ctx, constants.GraphLoadTimeout)
	defer cancel()

	g, err := l.loader.Load(loadCtx, root)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, l.logger, "Object graph load from %s failed: %v", root, err)

		return
	}

	old := l.graph.Swap(g)
	l.loadedRoot = root
	l.loadedSim = sim
	l.appliedWatchGen = l.lastAttempt.watchGen
	l.resetPollState()

	if old != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(ctx, constants.GraphShutdownTimeout)
		defer cancelShutdown()

		if err := old.Shutdown(shutdownCtx); err != nil {
			l.logger.Warnf("Shutting down replaced graph: %v", err)
		}
	}
}

// resetPollState drops the poll scheduler bookkeeping. Called after a
// reload because roles may now name different objects.
func (l *Loop) resetPollState() {
	l.recordsMutex.Lock()
	l.records = make(map[string]*pollRecord)
	l.recordsMutex.Unlock()

	l.pollTimesMutex.Lock()
	l.pollTimes = make(map[string]time.Duration)
	l.pollTimesMutex.Unlock()
}

// ensureWatcher keeps a document watcher running for the configured
// document directory, restarting it when the directory changes. A directory
// that cannot be watched yet is retried every cycle and logged once.
func (l *Loop) ensureWatcher(cfg config.CoreConfig) {
	dir := cfg.Hardware.ConfigPath
	if dir == "" {
		return
	}

	if l.watcher != nil && l.watchDir == dir {
		return
	}

	if l.watcher != nil {
		if err := l.watcher.Stop(); err != nil {
			l.logger.Warnf("Stopping document watcher: %v", err)
		}

		l.watcher = nil
		l.reloadEvents = nil
	}

	w := config.NewWatcher()
	if err := w.Start(dir); err != nil {
		if !l.watchErrLogged {
			l.logger.Warnf("Document watcher unavailable for %s: %v", dir, err)
			l.watchErrLogged = true
		}

		return
	}

	l.watchErrLogged = false
	l.watcher = w
	l.reloadEvents = w.Events()
	l.watchDir = dir
}

// ensureJournal opens the flight recorder once a journal directory is
// configured. A journal that cannot be opened disables itself rather than
// failing the loop; restarting the process retries.
func (l *Loop) ensureJournal(ctx context.Context, cfg config.CoreConfig) {
	if l.journal != nil || cfg.Core.JournalDir == "" || l.journalErrLogged {
		return
	}

	j, err := NewJournal(ctx, cfg.Core.JournalDir, l.fs)
	if err != nil {
		l.logger.Warnf("Journal unavailable at %s: %v", cfg.Core.JournalDir, err)
		l.journalErrLogged = true

		return
	}

	l.journal = j
}

// pollObjects refreshes hardware readings through the object pollers using
// parallel execution:
//   - Inner context created with LoopPollTimeFactor (80%) of remaining time
//   - Uses errgroup for coordinated parallel execution with a concurrency cap
//   - With more pollable objects than the cap, batches rotate by tick so
//     every object gets polled over time
//   - Individual pollers checked for sufficient time before execution
func (l *Loop) pollObjects(ctx context.Context, g *loader.Graph, tick uint64) error {
	// <factor>% ctx to ensure we finish in time.
	deadline, ok := ctx.Deadline()
	if !ok {
		return ctxutil.ErrNoDeadline
	}

	remainingTime := time.Until(deadline)
	timeToAdd := time.Duration(float64(remainingTime) * constants.LoopPollTimeFactor)
	innerCtx, cancel := context.WithDeadline(ctx, time.Now().Add(timeToAdd))
	defer cancel()

	pollables := l.pollables(g, tick)
	if len(pollables) == 0 {
		return nil
	}

	// Reset poll times for this cycle
	l.pollTimesMutex.Lock()
	l.pollTimes = make(map[string]time.Duration)
	l.pollTimesMutex.Unlock()

	group, _ := errgroup.WithContext(innerCtx)
	// Limit concurrent poll operations for I/O-bound workloads
	group.SetLimit(constants.MaxConcurrentPollOperations)

	// If we have more pollable objects than the concurrency limit, schedule
	// only a subset and rotate based on tick to ensure all objects get
	// scheduled over time
	startIdx := 0
	endIdx := len(pollables)

	if len(pollables) > constants.MaxConcurrentPollOperations {
		totalBatches := (len(pollables) + constants.MaxConcurrentPollOperations - 1) / constants.MaxConcurrentPollOperations
		currentBatch := int((tick / l.pollEvery) % uint64(totalBatches))

		startIdx = currentBatch * constants.MaxConcurrentPollOperations
		endIdx = startIdx + constants.MaxConcurrentPollOperations
		if endIdx > len(pollables) {
			endIdx = len(pollables)
		}

		l.logger.Debugf("Scheduling poll batch %d/%d: objects %d-%d (tick %d)",
			currentBatch+1, totalBatches, startIdx, endIdx-1, tick)
	}

	// Schedule the selected batch of pollers
	for i := startIdx; i < endIdx; i++ {
		captured := pollables[i]

		if _, sufficient, err := ctxutil.HasSufficientTime(innerCtx, constants.DefaultMinimumRemainingTimePerObject); err != nil || !sufficient {
			l.logger.Debugf("Insufficient time left in tick budget, skipping remaining pollers")

			break
		}

		started := group.TryGo(func() error {
			// It might be that TryGo is reached when the ctx is already cancelled, in that case we just return
			if innerCtx.Err() != nil {
				l.logger.Debugf("Context is already cancelled, skipping poller %s", captured.role)

				return nil
			}

			l.pollObject(innerCtx, captured, tick)

			return nil
		})
		if !started {
			l.logger.Debugf("Too many running pollers, skipping remaining")

			break
		}
	}

	waitErrorChannel := make(chan error, 1)

	go func() {
		waitErrorChannel <- group.Wait()
	}()

	var err error
	select {
	case wgErr := <-waitErrorChannel:
		err = wgErr
	case <-innerCtx.Done():
		err = innerCtx.Err()
	}

	return err
}

// pollables lists the objects worth polling this cycle: those exposing a
// poller, minus aliases of an already listed object and minus anything in a
// cooling-off period.
func (l *Loop) pollables(g *loader.Graph, tick uint64) []pollTarget {
	roles := g.Roles()
	targets := make([]pollTarget, 0, len(roles))
	seen := make(map[hwobj.Object]bool, len(roles))

	l.recordsMutex.Lock()
	defer l.recordsMutex.Unlock()

	for _, role := range roles {
		obj, ok := g.ByRole(role)
		if !ok || seen[obj] {
			continue
		}

		switch obj.(type) {
		case valuePoller, positionPoller:
		default:
			continue
		}

		seen[obj] = true

		if rec, ok := l.records[role]; ok && rec.cooldownUntil > tick {
			continue
		}

		targets = append(targets, pollTarget{role: role, obj: obj})
	}

	return targets
}

// pollObject performs one read through the object's poller and tracks the
// scheduler bookkeeping: execution time and the change streak behind the
// cooling-off rule.
func (l *Loop) pollObject(ctx context.Context, target pollTarget, tick uint64) {
	pollStart := time.Now()

	var (
		changed bool
		err     error
	)

	switch p := target.obj.(type) {
	case valuePoller:
		var v float64

		v, err = p.ReadValue(ctx)
		if err == nil {
			changed = l.noteValue(target.role, v)
		}
	case positionPoller:
		var pos string

		pos, err = p.ReadPosition(ctx)
		if err == nil {
			changed = l.notePosition(target.role, pos)
		}
	}

	executionTime := time.Since(pollStart)

	l.pollTimesMutex.Lock()
	l.pollTimes[target.role] = executionTime
	l.pollTimesMutex.Unlock()

	metrics.ObservePollTime(metrics.ComponentRunLoop, target.role, executionTime)

	if err != nil {
		// Poll failures never raise state; the object's own channel monitor
		// decides when a reading goes stale.
		metrics.IncErrorCountAndLog(metrics.ComponentRunLoop, target.role, err, l.logger)

		return
	}

	l.noteStreak(target.role, changed, tick)
}

// record returns the bookkeeping entry for role, creating it on first use.
// Callers hold recordsMutex.
func (l *Loop) record(role string) *pollRecord {
	rec, ok := l.records[role]
	if !ok {
		rec = &pollRecord{}
		l.records[role] = rec
	}

	return rec
}

func (l *Loop) noteValue(role string, v float64) bool {
	l.recordsMutex.Lock()
	defer l.recordsMutex.Unlock()

	rec := l.record(role)
	changed := !rec.seen || rec.lastValue != v
	rec.lastValue = v
	rec.seen = true

	return changed
}

func (l *Loop) notePosition(role, pos string) bool {
	l.recordsMutex.Lock()
	defer l.recordsMutex.Unlock()

	rec := l.record(role)
	changed := !rec.seen || rec.lastPosition != pos
	rec.lastPosition = pos
	rec.seen = true

	return changed
}

// noteStreak applies the cooling-off rule: an object whose reading changes
// on every scheduled poll is throttled for a few ticks so a chattering
// channel cannot monopolize the cycle budget.
func (l *Loop) noteStreak(role string, changed bool, tick uint64) {
	l.recordsMutex.Lock()
	defer l.recordsMutex.Unlock()

	rec := l.record(role)

	if !changed {
		rec.changeStreak = 0

		return
	}

	rec.changeStreak++
	if rec.changeStreak >= constants.StarvationLimit {
		rec.changeStreak = 0
		rec.cooldownUntil = tick + constants.CoolDownTicks
		l.logger.Debugf("Object %s changed %d polls in a row, cooling down for %d ticks",
			role, constants.StarvationLimit, constants.CoolDownTicks)
	}
}

// GetGraph returns the live object graph, or nil before the first
// successful load. This is thread-safe and can be called from any goroutine.
func (l *Loop) GetGraph() *loader.Graph {
	return l.graph.Load()
}

// GetConfigManager returns the config manager
// This can be used by components that need direct access to the current configuration
func (l *Loop) GetConfigManager() config.ConfigManager {
	return l.configManager
}

// GetPollTimes returns the per-object execution times of the most recent
// poll cycle.
func (l *Loop) GetPollTimes() map[string]time.Duration {
	l.pollTimesMutex.RLock()
	defer l.pollTimesMutex.RUnlock()

	times := make(map[string]time.Duration, len(l.pollTimes))
	for role, d := range l.pollTimes {
		times[role] = d
	}

	return times
}

// Stop gracefully terminates the run loop's components once Run has
// returned:
// - Stops the starvation checker background goroutine
// - Stops the document watcher
// - Flushes and closes the journal
// - Shuts down the object graph
//
// This should be called as part of system shutdown to prevent
// resource leaks and ensure clean termination.
func (l *Loop) Stop(ctx context.Context) error {
	if l.starvationChecker != nil {
		// Stop the starvation checker
		l.starvationChecker.Stop()
	} else {
		return fmt.Errorf("starvation checker is not set")
	}

	if l.watcher != nil {
		if err := l.watcher.Stop(); err != nil {
			l.logger.Warnf("Stopping document watcher: %v", err)
		}

		l.watcher = nil
	}

	if l.journal != nil {
		if err := l.journal.Close(); err != nil {
			l.logger.Warnf("Closing journal: %v", err)
		}

		l.journal = nil
	}

	if g := l.graph.Swap(nil); g != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, constants.GraphShutdownTimeout)
		defer cancel()

		if err := g.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down object graph: %w", err)
		}
	}

	return nil
}
