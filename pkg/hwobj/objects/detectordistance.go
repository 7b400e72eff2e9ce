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

	"go.uber.org/zap"

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/constants"
	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/service/channel"
)

// SpecificStateMoving is announced while the distance axis reports motion on
// its dedicated moving flag.
const SpecificStateMoving = "MOVING"

// Default travel range in millimetres, overridable per document.
const (
	detectorDistanceLow  = 1.0
	detectorDistanceHigh = 2000.0
)

// DetectorDistance is the sample-to-detector translation. Besides the
// "distance" value channel it can watch a boolean "distance_is_moving"
// channel, which many detector stages report independently of the position
// stream, and it can hold a reference to the detector object it carries.
type DetectorDistance struct {
	*hwobj.Actuator

	hub *channel.Hub
	log *zap.SugaredLogger

	mu         sync.RWMutex
	username   string
	unit       string
	detector   hwobj.Object
	movingCh   channel.Channel
	movingOnce sync.Once
}

// NewDetectorDistance returns an unconnected axis. Init binds the channels.
func NewDetectorDistance(hub *channel.Hub, role string, doc *config.Document) *DetectorDistance {
	return &DetectorDistance{
		Actuator: hwobj.NewActuator(hwobj.NewBase(role, ClassDetectorDistance, doc)),
		hub:      hub,
		log:      logger.For(logger.ComponentHardwareObject),
	}
}

// Init binds the distance channel, the optional moving flag and the detector
// reference declared in the document.
func (d *DetectorDistance) Init(ctx context.Context, deps hwobj.Deps) error {
	doc := d.Document()

	d.SetLimits(detectorDistanceLow, detectorDistanceHigh)

	detectorRole := "detector"

	if doc != nil {
		d.mu.Lock()
		d.username = doc.StringProperty("username", d.Role())
		d.unit = doc.StringProperty("unit", "mm")
		d.mu.Unlock()

		d.SetTolerance(doc.FloatProperty("tolerance", constants.DefaultValueTolerance))

		if low, high, ok := limitsProperty(doc, "limits"); ok {
			d.SetLimits(low, high)
		}

		detectorRole = doc.StringProperty("detector_role", detectorRole)
	} else {
		d.mu.Lock()
		d.username = d.Role()
		d.unit = "mm"
		d.mu.Unlock()
	}

	spec := channelBinding(doc, "distance", d.Role()+"/distance")

	ch, err := d.hub.Channel(spec)
	if err != nil {
		return err
	}

	d.BindValueChannel(ch)
	d.StartMonitor(ctx)

	if doc != nil {
		if movingSpec, ok := doc.Channel("distance_is_moving"); ok {
			movingCh, err := d.hub.Channel(movingSpec)
			if err != nil {
				return err
			}

			d.mu.Lock()
			d.movingCh = movingCh
			d.mu.Unlock()

			d.startMovingMonitor(ctx)
		}
	}

	if deps != nil {
		if detector, ok := deps.ByRole(detectorRole); ok {
			d.mu.Lock()
			d.detector = detector
			d.mu.Unlock()
		}
	}

	if _, err := d.ReadValue(ctx); err != nil {
		if hwerr.IsCommunication(err) {
			d.log.Warnf("detector distance %s: initial read failed: %v", d.Role(), err)

			return nil
		}

		if !hwerr.IsInvalidValue(err) {
			return err
		}
	}

	return d.UpdateState(ctx, hwobj.StateReady)
}

// startMovingMonitor mirrors the hardware moving flag into the device state:
// true means BUSY with the MOVING specific state, false settles back to
// READY.
func (d *DetectorDistance) startMovingMonitor(ctx context.Context) {
	d.mu.RLock()
	ch := d.movingCh
	d.mu.RUnlock()

	if ch == nil {
		return
	}

	d.movingOnce.Do(func() {
		updates := ch.Subscribe()

		go func() {
			for u := range updates {
				if u.Stale {
					continue
				}

				moving, ok := asMovingFlag(u.Value)
				if !ok {
					continue
				}

				if moving {
					_ = d.UpdateState(ctx, hwobj.StateBusy)
					d.UpdateSpecificState(SpecificStateMoving)
				} else {
					d.UpdateSpecificState("")
					_ = d.UpdateState(ctx, hwobj.StateReady)
				}
			}
		}()
	})
}

// Username is the presentation name, defaulting to the role.
func (d *DetectorDistance) Username() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.username
}

// Unit is the distance unit, "mm" unless configured otherwise.
func (d *DetectorDistance) Unit() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.unit
}

// Detector returns the detector object referenced by the document, nil when
// none was declared.
func (d *DetectorDistance) Detector() hwobj.Object {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.detector
}

// Shutdown releases the moving flag channel on top of the actuator shutdown.
func (d *DetectorDistance) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	movingCh := d.movingCh
	d.movingCh = nil
	d.mu.Unlock()

	if movingCh != nil {
		movingCh.Close()
	}

	return d.Actuator.Shutdown(ctx)
}

// asMovingFlag accepts booleans and numeric flags from the wire.
func asMovingFlag(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}

	if f, ok := numeric(v); ok {
		return f != 0, true
	}

	return false, false
}
