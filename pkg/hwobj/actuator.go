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

package hwobj

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/beamline-hub/blh-core/pkg/constants"
	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/metrics"
	"github.com/beamline-hub/blh-core/pkg/service/channel"
	"github.com/beamline-hub/blh-core/pkg/signal"
)

var _ Object = (*Actuator)(nil)

// Actuator adds a settable scalar value with soft limits to the base object
// contract. A move goes BUSY on dispatch and settles into READY when the
// monitored value reaches the target within tolerance; the caller observes
// completion through the state contract, never through a return channel.
type Actuator struct {
	*Base

	mu        sync.RWMutex
	valueCh   channel.Channel
	value     float64
	hasValue  bool
	low, high float64
	bounded   bool
	readOnly  bool
	tolerance float64
	target    *float64

	monitorOnce sync.Once
}

// NewActuator wraps a Base with actuator behaviour.
func NewActuator(base *Base) *Actuator {
	return &Actuator{
		Base:      base,
		tolerance: constants.DefaultValueTolerance,
	}
}

// BindValueChannel attaches the channel moves are written to and readings
// come from. The actuator owns the channel exclusively from here on.
func (a *Actuator) BindValueChannel(ch channel.Channel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.valueCh = ch
}

// ValueChannel returns the bound value channel, if any.
func (a *Actuator) ValueChannel() channel.Channel {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.valueCh
}

// SetReadOnly marks the actuator as reporting-only.
func (a *Actuator) SetReadOnly(readOnly bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.readOnly = readOnly
}

// ReadOnly reports whether set-value operations are rejected.
func (a *Actuator) ReadOnly() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.readOnly
}

// SetTolerance sets the epsilon for both update suppression and move
// settling.
func (a *Actuator) SetTolerance(tolerance float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if tolerance > 0 {
		a.tolerance = tolerance
	}
}

// Tolerance returns the settling epsilon.
func (a *Actuator) Tolerance() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.tolerance
}

// SetLimits sets the soft limits and announces the change.
func (a *Actuator) SetLimits(low, high float64) {
	if low > high {
		low, high = high, low
	}

	a.mu.Lock()

	if a.bounded && a.low == low && a.high == high {
		a.mu.Unlock()

		return
	}

	a.low, a.high = low, high
	a.bounded = true
	a.mu.Unlock()

	a.Emitter().Emit(signal.LimitsChanged, low, high)
}

// Limits returns the soft limits, unbounded as (-Inf, +Inf).
func (a *Actuator) Limits() (low, high float64) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.bounded {
		return math.Inf(-1), math.Inf(1)
	}

	return a.low, a.high
}

// ValidateValue checks a candidate value against the soft limits without
// committing anything.
func (a *Actuator) ValidateValue(v float64) error {
	if math.IsNaN(v) {
		return &hwerr.InvalidValueError{Value: v, Role: a.Role(), Reason: "not a number"}
	}

	low, high := a.Limits()
	if v < low || v > high {
		return &hwerr.InvalidValueError{
			Value:  v,
			Role:   a.Role(),
			Reason: fmt.Sprintf("outside limits [%g, %g]", low, high),
		}
	}

	return nil
}

// Value returns the last known reading. The second return is false until
// the first reading arrives.
func (a *Actuator) Value() (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.value, a.hasValue
}

// Target returns the target of the move in progress, if any.
func (a *Actuator) Target() (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.target == nil {
		return 0, false
	}

	return *a.target, true
}

// UpdateValue feeds a new reading into the actuator. value_changed fires
// only when the reading moved by more than the tolerance; a reading within
// tolerance of the pending target settles the move into READY.
func (a *Actuator) UpdateValue(ctx context.Context, v float64) {
	a.mu.Lock()

	changed := !a.hasValue || math.Abs(v-a.value) > a.tolerance
	a.value = v
	a.hasValue = true

	settled := false

	if a.target != nil && math.Abs(v-*a.target) <= a.tolerance {
		a.target = nil
		settled = true
	}

	a.mu.Unlock()

	if changed {
		a.Emitter().Emit(signal.ValueChanged, v)
	} else {
		metrics.RecordSignalSuppressed(a.Role(), string(signal.ValueChanged))
	}

	if settled {
		_ = a.UpdateState(ctx, StateReady)
	}
}

// ReadValue reads the current value from hardware and feeds it through
// UpdateValue.
func (a *Actuator) ReadValue(ctx context.Context) (float64, error) {
	a.mu.RLock()
	ch := a.valueCh
	a.mu.RUnlock()

	if ch == nil {
		return 0, hwerr.NewConfigurationError(a.Role(), "no value channel bound", nil)
	}

	raw, err := ch.GetValue(ctx)
	if err != nil {
		return 0, err
	}

	v, ok := toFloat64(raw)
	if !ok {
		return 0, &hwerr.InvalidValueError{Value: raw, Role: a.Role(), Reason: "reading is not numeric"}
	}

	a.UpdateValue(ctx, v)

	return v, nil
}

// SetValue validates and dispatches a move. timeout == 0 returns right
// after dispatch with the motion monitored in the background; timeout > 0
// waits for the move to settle, failing with a TimeoutError or the
// FaultError the hardware reported.
func (a *Actuator) SetValue(ctx context.Context, v float64, timeout time.Duration) error {
	if a.ReadOnly() {
		return &hwerr.ReadOnlyError{Role: a.Role()}
	}

	if err := a.ValidateValue(v); err != nil {
		return err
	}

	a.mu.Lock()
	ch := a.valueCh
	a.target = &v
	a.mu.Unlock()

	if ch == nil {
		a.clearTarget()

		return hwerr.NewConfigurationError(a.Role(), "no value channel bound", nil)
	}

	if err := a.UpdateState(ctx, StateBusy); err != nil {
		a.clearTarget()

		return err
	}

	if err := ch.SetValue(ctx, v); err != nil {
		a.clearTarget()
		_ = a.UpdateState(ctx, StateFault)

		return err
	}

	// Already at the target: settle now instead of waiting for a duplicate
	// reading the channel layer would suppress.
	if cur, ok := a.Value(); ok && math.Abs(cur-v) <= a.Tolerance() {
		a.clearTarget()

		if err := a.UpdateState(ctx, StateReady); err != nil {
			return err
		}
	}

	if timeout <= 0 {
		return nil
	}

	return a.WaitReady(ctx, timeout)
}

// StartMonitor subscribes to the value channel and feeds readings into
// UpdateValue until the channel closes. A stale reading drops the object to
// UNKNOWN; the next fresh one restores it through the settle path.
func (a *Actuator) StartMonitor(ctx context.Context) {
	a.mu.RLock()
	ch := a.valueCh
	a.mu.RUnlock()

	if ch == nil {
		return
	}

	a.monitorOnce.Do(func() {
		updates := ch.Subscribe()

		go func() {
			for u := range updates {
				if u.Stale {
					_ = a.UpdateState(ctx, StateUnknown)

					continue
				}

				if v, ok := toFloat64(u.Value); ok {
					if a.State() == StateUnknown {
						if _, moving := a.Target(); moving {
							_ = a.UpdateState(ctx, StateBusy)
						} else {
							_ = a.UpdateState(ctx, StateReady)
						}
					}

					a.UpdateValue(ctx, v)
				}
			}
		}()
	})
}

// Abort clears the pending move and reports READY at the current position.
// Stopping the physical motion is up to the concrete class; this keeps the
// contract that aborting with nothing in progress never fails.
func (a *Actuator) Abort(ctx context.Context) error {
	a.clearTarget()

	if a.State() == StateBusy {
		return a.UpdateState(ctx, StateReady)
	}

	return nil
}

// Stop has abort semantics at this level.
func (a *Actuator) Stop(ctx context.Context) error {
	return a.Abort(ctx)
}

// Shutdown announces OFF and releases the value channel.
func (a *Actuator) Shutdown(ctx context.Context) error {
	_ = a.UpdateState(ctx, StateOff)

	a.mu.Lock()
	ch := a.valueCh
	a.valueCh = nil
	a.mu.Unlock()

	if ch != nil {
		ch.Close()
	}

	return nil
}

func (a *Actuator) clearTarget() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.target = nil
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}

	return 0, false
}
