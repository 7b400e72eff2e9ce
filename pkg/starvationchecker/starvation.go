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

package starvationchecker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/metrics"
	"github.com/beamline-hub/blh-core/pkg/sentry"
)

// StarvationChecker monitors the run loop's health by detecting periods when
// the system is unable to complete poll cycles in a timely manner.
//
// Why it matters:
// - Detects run loop blockages or slowdowns that could affect beamline reliability
// - Provides early warning of performance issues through metrics and logs
//
// It operates in dual modes:
// - As a participant of the run loop (the loop stamps each completed cycle)
// - Through a background goroutine that checks for missed cycles every second
//
// When starvation is detected, it:
// - Increments Prometheus metrics for monitoring and alerting
// - Logs warnings with the starvation duration.
type StarvationChecker struct {
	lastCycleTime       time.Time
	ctx                 context.Context //nolint:containedctx // This is intentional for background service lifecycle
	logger              *zap.SugaredLogger
	cancel              context.CancelFunc
	wg                  sync.WaitGroup
	starvationThreshold time.Duration
	mutex               sync.RWMutex
}

// NewStarvationChecker creates a starvation checker that monitors run loop health.
// It automatically starts a background goroutine that checks for starvation every second.
//
// Parameters:
//   - threshold: The duration after which the run loop is considered starved
//     (typically several times longer than the expected poll cycle interval)
//
// Returns a StarvationChecker that must be stopped with Stop() when no longer needed.
func NewStarvationChecker(threshold time.Duration) *StarvationChecker {
	ctx, cancel := context.WithCancel(context.Background())
	checker := &StarvationChecker{
		starvationThreshold: threshold,
		lastCycleTime:       time.Now(),
		logger:              logger.For(logger.ComponentStarvationChecker),
		ctx:                 ctx,
		cancel:              cancel,
	}

	checker.wg.Add(1)

	go checker.checkStarvationLoop()

	checker.logger.Infof("Starvation checker created with threshold %s", threshold)

	return checker
}

// checkStarvationLoop continuously monitors the time since the last poll cycle
// and reports starvation events when they exceed the configured threshold.
// This background process ensures starvation is detected even if the run loop
// is completely blocked, for example by a channel adapter stuck on a dead
// connection that does not honor its context deadline.
func (s *StarvationChecker) checkStarvationLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mutex.RLock()
			timeSinceLastCycle := time.Since(s.lastCycleTime)
			s.mutex.RUnlock()

			if timeSinceLastCycle > s.starvationThreshold {
				starvationTime := timeSinceLastCycle.Seconds()
				metrics.AddStarvationTime(starvationTime)
				sentry.ReportIssuef(sentry.IssueTypeWarning, s.logger, "[StarvationChecker.checkStarvationLoop] Run loop starvation detected: %.2f seconds since last poll cycle", starvationTime)
			} else {
				s.logger.Debugf("Run loop is healthy, last poll cycle was %.2f seconds ago", timeSinceLastCycle.Seconds())
			}
		}
	}
}

// Stop gracefully terminates the background starvation checker.
// This should be called during system shutdown to prevent goroutine leaks.
func (s *StarvationChecker) Stop() {
	s.logger.Info("Stopping starvation checker")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Starvation checker stopped")
}

// UpdateLastCycleTime marks the current time as the most recent completed
// poll cycle. The run loop calls this at the end of each cycle, even when no
// object had anything new to report, so an idle beamline is not mistaken for
// a starved one.
func (s *StarvationChecker) UpdateLastCycleTime() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lastCycleTime = time.Now()
}

// GetLastCycleTime returns the timestamp of the most recent completed poll cycle.
func (s *StarvationChecker) GetLastCycleTime() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.lastCycleTime
}
