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
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/constants"
	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/service/channel"
)

// MockMotor is a continuous axis driven through a "position" channel. Against
// the simulator adapter it moves with ramped motion; against a real adapter
// it is a plain single-channel motor. Documents may set username, velocity,
// GUIstep, tolerance, limits and default_value, and may bind a "home"
// command.
type MockMotor struct {
	*hwobj.Actuator

	hub *channel.Hub
	log *zap.SugaredLogger

	mu       sync.RWMutex
	username string
	velocity float64
	guiStep  float64
	homeCmd  channel.Command
}

// NewMockMotor returns an unconnected motor. Init binds the channels.
func NewMockMotor(hub *channel.Hub, role string, doc *config.Document) *MockMotor {
	return &MockMotor{
		Actuator: hwobj.NewActuator(hwobj.NewBase(role, ClassMockMotor, doc)),
		hub:      hub,
		log:      logger.For(logger.ComponentHardwareObject),
	}
}

// Init reads the document properties, binds the position channel and starts
// the value monitor. The motor reports READY even when the hardware has no
// reading yet; the first monitored update refreshes it.
func (m *MockMotor) Init(ctx context.Context, deps hwobj.Deps) error {
	doc := m.Document()

	actuatorName := m.Role()

	if doc != nil {
		actuatorName = doc.StringProperty("actuator_name", m.Role())

		m.mu.Lock()
		m.username = doc.StringProperty("username", m.Role())
		m.velocity = doc.FloatProperty("velocity", 0)
		m.guiStep = doc.FloatProperty("GUIstep", 0.1)
		m.mu.Unlock()

		m.SetTolerance(doc.FloatProperty("tolerance", constants.DefaultValueTolerance))

		if low, high, ok := limitsProperty(doc, "limits"); ok {
			m.SetLimits(low, high)
		}
	} else {
		m.mu.Lock()
		m.username = m.Role()
		m.guiStep = 0.1
		m.mu.Unlock()
	}

	spec := channelBinding(doc, "position", actuatorName+"/position")

	ch, err := m.hub.Channel(spec)
	if err != nil {
		return err
	}

	m.BindValueChannel(ch)
	m.StartMonitor(ctx)

	if doc != nil {
		if cmdSpec, ok := doc.Command("home"); ok {
			cmd, err := m.hub.Command(cmdSpec)
			if err != nil {
				return err
			}

			m.mu.Lock()
			m.homeCmd = cmd
			m.mu.Unlock()
		}

		if raw, ok := doc.Property("default_value"); ok {
			if v, numericOK := numeric(raw); numericOK {
				if err := ch.SetValue(ctx, v); err != nil {
					return err
				}
			}
		}
	}

	if _, err := m.ReadValue(ctx); err != nil {
		if hwerr.IsCommunication(err) {
			// Leave the state UNKNOWN; the monitor recovers it when the
			// hardware answers again.
			m.log.Warnf("motor %s: initial read failed: %v", m.Role(), err)

			return nil
		}

		// No reading yet is normal for a cold simulator point.
		if !hwerr.IsInvalidValue(err) {
			return err
		}
	}

	return m.UpdateState(ctx, hwobj.StateReady)
}

// Username is the presentation name, defaulting to the role.
func (m *MockMotor) Username() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.username
}

// Velocity returns the configured velocity, 0 when unset.
func (m *MockMotor) Velocity() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.velocity
}

// SetVelocity updates the configured velocity.
func (m *MockMotor) SetVelocity(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.velocity = v
}

// GUIStep is the increment a UI should use for step buttons.
func (m *MockMotor) GUIStep() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.guiStep
}

// SetValueRelative moves by delta from the current value. Without a current
// reading it reads the hardware first.
func (m *MockMotor) SetValueRelative(ctx context.Context, delta float64, timeout time.Duration) error {
	current, ok := m.Value()

	if !ok {
		read, err := m.ReadValue(ctx)
		if err != nil {
			return err
		}

		current = read
	}

	return m.SetValue(ctx, current+delta, timeout)
}

// Home executes the bound homing command. Motion progress is reported by the
// position monitor like any other move.
func (m *MockMotor) Home(ctx context.Context) error {
	m.mu.RLock()
	cmd := m.homeCmd
	m.mu.RUnlock()

	if cmd == nil {
		return hwerr.NewConfigurationError(m.Role(), "no home command bound", nil)
	}

	_, err := cmd.Execute(ctx)

	return err
}
