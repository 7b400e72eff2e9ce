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

package backoff

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Error message prefixes used to mark backoff-related errors. Callers check
// for these with IsTemporaryBackoffError / IsPermanentFailureError, so they
// must stay stable.
const (
	TemporaryBackoffError = "temporary backoff error"
	PermanentFailureError = "permanent failure error"
)

// Config holds the tuning knobs of a BackoffManager. Intervals are measured
// in run-loop ticks, not wall time, so a paused loop does not burn through
// the retry budget.
type Config struct {
	Logger *zap.SugaredLogger

	// ID identifies the owning object in log messages.
	ID string

	// InitialBackoffTicks is the suspension after the first transient error.
	InitialBackoffTicks uint64

	// MaxBackoffTicks caps the exponentially growing suspension.
	MaxBackoffTicks uint64

	// MaxRetries is the number of transient errors tolerated before the
	// manager escalates to permanent failure.
	MaxRetries uint16
}

// DefaultConfig returns the settings used by hardware object pollers: start
// with one tick, double up to 64 ticks, give up after ten retries.
func DefaultConfig(id string, logger *zap.SugaredLogger) Config {
	return Config{
		ID:                  id,
		Logger:              logger,
		InitialBackoffTicks: 1,
		MaxBackoffTicks:     64,
		MaxRetries:          10,
	}
}

// BackoffManager tracks error state for a single object and decides when an
// operation should be retried and when the object is beyond recovery.
// All methods are safe for concurrent use.
type BackoffManager struct {
	lastError         error
	cfg               Config
	suspendedUntil    uint64
	currentBackoff    uint64
	retryCount        uint16
	permanentlyFailed bool
	mu                sync.Mutex
}

// NewBackoffManager creates a manager in the clean state.
func NewBackoffManager(cfg Config) *BackoffManager {
	if cfg.InitialBackoffTicks == 0 {
		cfg.InitialBackoffTicks = 1
	}

	if cfg.MaxBackoffTicks < cfg.InitialBackoffTicks {
		cfg.MaxBackoffTicks = cfg.InitialBackoffTicks
	}

	return &BackoffManager{cfg: cfg}
}

// SetError records err at the given tick and returns true if the manager is
// now permanently failed. Ignored errors are recorded but trigger no backoff.
// Permanent errors escalate immediately, transient errors escalate once the
// retry budget is exhausted.
func (m *BackoffManager) SetError(err error, tick uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastError = ExtractOriginalError(err)

	if IsIgnoredError(err) {
		return m.permanentlyFailed
	}

	if IsPermanentError(err) {
		if !m.permanentlyFailed && m.cfg.Logger != nil {
			m.cfg.Logger.Errorf("%s: permanent error, giving up: %v", m.cfg.ID, m.lastError)
		}

		m.permanentlyFailed = true

		return true
	}

	if m.permanentlyFailed {
		return true
	}

	m.retryCount++
	if m.retryCount > m.cfg.MaxRetries {
		if m.cfg.Logger != nil {
			m.cfg.Logger.Errorf("%s: exceeded %d retries, marking as permanently failed: %v",
				m.cfg.ID, m.cfg.MaxRetries, m.lastError)
		}

		m.permanentlyFailed = true

		return true
	}

	if m.currentBackoff == 0 {
		m.currentBackoff = m.cfg.InitialBackoffTicks
	} else {
		m.currentBackoff *= 2
		if m.currentBackoff > m.cfg.MaxBackoffTicks {
			m.currentBackoff = m.cfg.MaxBackoffTicks
		}
	}

	m.suspendedUntil = tick + m.currentBackoff

	if m.cfg.Logger != nil {
		m.cfg.Logger.Debugf("%s: retry %d/%d, suspended for %d ticks: %v",
			m.cfg.ID, m.retryCount, m.cfg.MaxRetries, m.currentBackoff, m.lastError)
	}

	return false
}

// ShouldSkipOperation returns true while the suspension from the last error
// has not elapsed, or forever once the manager is permanently failed.
func (m *BackoffManager) ShouldSkipOperation(tick uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.permanentlyFailed {
		return true
	}

	return tick < m.suspendedUntil
}

// GetBackoffError returns a structured error describing the current backoff
// state, wrapping the last recorded error as the cause.
func (m *BackoffManager) GetBackoffError(tick uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.permanentlyFailed {
		return fmt.Errorf("%s: %w", PermanentFailureError, m.lastError)
	}

	remaining := uint64(0)
	if tick < m.suspendedUntil {
		remaining = m.suspendedUntil - tick
	}

	return fmt.Errorf("%s (retry in %d ticks): %w", TemporaryBackoffError, remaining, m.lastError)
}

// Reset clears all error state after a successful operation. A permanently
// failed manager is revived as well, a manual reset is the designated way
// out of permanent failure.
func (m *BackoffManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastError = nil
	m.retryCount = 0
	m.currentBackoff = 0
	m.suspendedUntil = 0
	m.permanentlyFailed = false
}

// IsPermanentlyFailed returns true once the retry budget is exhausted or a
// permanent error was recorded.
func (m *BackoffManager) IsPermanentlyFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.permanentlyFailed
}

// GetLastError returns the root cause of the last recorded error.
func (m *BackoffManager) GetLastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastError
}
