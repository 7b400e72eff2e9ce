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

package objects

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/constants"
	"github.com/beamline-hub/blh-core/pkg/env"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/service/hostmonitor"
)

// HostMonitor surfaces control-host health as a hardware object: READY while
// CPU, memory and disk sit below their thresholds, WARNING with the threshold
// breaches as the specific state, UNKNOWN when sampling fails. The poll
// interval comes from BLH_HOSTMON_INTERVAL.
type HostMonitor struct {
	*hwobj.Base

	service hostmonitor.Service
	log     *zap.SugaredLogger

	mu       sync.RWMutex
	status   *hostmonitor.HostStatus
	warnings []string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHostMonitor returns a monitor that is not yet polling. Init takes the
// first sample and starts the poll loop.
func NewHostMonitor(service hostmonitor.Service, role string, doc *config.Document) *HostMonitor {
	return &HostMonitor{
		Base:    hwobj.NewBase(role, ClassHostMonitor, doc),
		service: service,
		log:     logger.For(logger.ComponentHostMonitor),
	}
}

// Init samples immediately so the object leaves UNKNOWN before the loader
// hands the graph over, then polls in the background until Shutdown.
func (h *HostMonitor) Init(ctx context.Context, deps hwobj.Deps) error {
	interval, err := env.GetAsDuration("BLH_HOSTMON_INTERVAL", false, constants.HostMonitorPollInterval)
	if err != nil {
		h.log.Warnf("invalid BLH_HOSTMON_INTERVAL, using %s: %v", constants.HostMonitorPollInterval, err)

		interval = constants.HostMonitorPollInterval
	}

	h.poll(ctx)

	// The poll loop outlives the load context; Shutdown cancels it.
	pollCtx, cancel := context.WithCancel(context.Background())

	h.mu.Lock()
	h.cancel = cancel
	h.done = make(chan struct{})
	done := h.done
	h.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				h.poll(pollCtx)
			}
		}
	}()

	return nil
}

func (h *HostMonitor) poll(ctx context.Context) {
	status, err := h.service.GetStatus(ctx)
	if err != nil {
		h.log.Warnf("host status sample failed: %v", err)

		h.mu.Lock()
		h.status = nil
		h.warnings = nil
		h.mu.Unlock()

		_ = h.UpdateState(ctx, hwobj.StateUnknown)

		return
	}

	warnings := h.service.Warnings(status)

	h.mu.Lock()
	h.status = status
	h.warnings = warnings
	h.mu.Unlock()

	if len(warnings) > 0 {
		h.UpdateSpecificState(strings.Join(warnings, "; "))
		_ = h.UpdateState(ctx, hwobj.StateWarning)

		return
	}

	h.UpdateSpecificState("")
	_ = h.UpdateState(ctx, hwobj.StateReady)
}

// Status returns the latest sample, nil when the last poll failed.
func (h *HostMonitor) Status() *hostmonitor.HostStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.status
}

// Warnings returns the threshold breaches from the latest sample.
func (h *HostMonitor) Warnings() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.warnings
}

// Shutdown stops the poll loop and announces OFF.
func (h *HostMonitor) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	cancel := h.cancel
	done := h.done
	h.cancel = nil
	h.done = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return h.Base.Shutdown(ctx)
}
