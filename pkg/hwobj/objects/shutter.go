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
	"time"

	"go.uber.org/zap"

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/service/channel"
)

// Standard shutter position names.
const (
	PositionOpen   = "OPEN"
	PositionClosed = "CLOSED"
)

// Shutter is a two-position discrete device on a "state" channel. Documents
// may override the position-to-wire-value map and bind an "abort" command.
type Shutter struct {
	*hwobj.NState

	hub *channel.Hub
	log *zap.SugaredLogger
}

// NewShutter returns an unconnected shutter. Init binds the channels.
func NewShutter(hub *channel.Hub, role string, doc *config.Document) *Shutter {
	return &Shutter{
		NState: hwobj.NewNState(hwobj.NewBase(role, ClassShutter, doc)),
		hub:    hub,
		log:    logger.For(logger.ComponentHardwareObject),
	}
}

// Init defines the positions, binds the state channel and starts the
// monitor. A document may seed a default_position onto a cold simulated
// point so the shutter comes up in a known state.
func (s *Shutter) Init(ctx context.Context, deps hwobj.Deps) error {
	doc := s.Document()

	positions := map[string]any{PositionOpen: 1, PositionClosed: 0}

	actuatorName := s.Role()

	if doc != nil {
		actuatorName = doc.StringProperty("actuator_name", s.Role())

		if raw, ok := doc.Property("positions"); ok {
			if declared, isMap := raw.(map[string]any); isMap && len(declared) > 0 {
				positions = declared
			}
		}
	}

	s.DefinePositions(positions)

	spec := channelBinding(doc, "state", actuatorName+"/state")

	ch, err := s.hub.Channel(spec)
	if err != nil {
		return err
	}

	s.BindValueChannel(ch)

	if doc != nil {
		if cmdSpec, ok := doc.Command("abort"); ok {
			cmd, err := s.hub.Command(cmdSpec)
			if err != nil {
				return err
			}

			s.BindAbortCommand(cmd)
		}

		if name := doc.StringProperty("default_position", ""); name != "" {
			value, ok := s.NameToValue(name)
			if !ok {
				return &hwerr.InvalidValueError{Value: name, Role: s.Role(), Reason: "default_position is not a defined position"}
			}

			if err := ch.SetValue(ctx, value); err != nil {
				return err
			}
		}
	}

	s.StartMonitor(ctx)

	if _, err := s.ReadPosition(ctx); err != nil {
		if hwerr.IsCommunication(err) {
			s.log.Warnf("shutter %s: initial read failed: %v", s.Role(), err)

			return nil
		}

		return err
	}

	return s.UpdateState(ctx, hwobj.StateReady)
}

// IsOpen reports whether the shutter currently sits at OPEN.
func (s *Shutter) IsOpen() bool {
	return s.Position() == PositionOpen
}

// Open drives the shutter to OPEN. timeout > 0 waits for the hardware to
// confirm.
func (s *Shutter) Open(ctx context.Context, timeout time.Duration) error {
	return s.SetPosition(ctx, PositionOpen, timeout)
}

// Close drives the shutter to CLOSED.
func (s *Shutter) Close(ctx context.Context, timeout time.Duration) error {
	return s.SetPosition(ctx, PositionClosed, timeout)
}
