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
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/service/channel"
	"github.com/beamline-hub/blh-core/pkg/signal"
)

// Position pairs a position name with the wire value the hardware reports
// for it.
type Position struct {
	Name  string
	Value any
}

var _ Object = (*NState)(nil)

// NState is the discrete-position actuator: shutters, zoom selectors, in/out
// devices. Positions form a configuration-defined enumeration; a move goes
// BUSY until the hardware reports the target position's wire value, then
// settles READY. value_changed carries the position name, or the raw wire
// value when the hardware reports something outside the enumeration.
type NState struct {
	*Base

	mu        sync.RWMutex
	valueCh   channel.Channel
	abortCmd  channel.Command
	positions []Position
	current   string
	lastRaw   any
	hasRaw    bool
	target    string
	hasTarget bool

	monitorOnce sync.Once
}

// NewNState wraps a Base with discrete-position behaviour.
func NewNState(base *Base) *NState {
	return &NState{Base: base}
}

// DefinePositions installs the position enumeration from a name → wire
// value mapping, sorted by name for a stable listing.
func (n *NState) DefinePositions(values map[string]any) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}

	sort.Strings(names)

	positions := make([]Position, 0, len(names))
	for _, name := range names {
		positions = append(positions, Position{Name: name, Value: values[name]})
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.positions = positions
}

// Positions lists the defined position names.
func (n *NState) Positions() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	names := make([]string, 0, len(n.positions))
	for _, p := range n.positions {
		names = append(names, p.Name)
	}

	return names
}

// ValueToName maps a wire value back to its position name.
func (n *NState) ValueToName(value any) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, p := range n.positions {
		if wireEqual(p.Value, value) {
			return p.Name, true
		}
	}

	return "", false
}

// NameToValue maps a position name to its wire value.
func (n *NState) NameToValue(name string) (any, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, p := range n.positions {
		if p.Name == name {
			return p.Value, true
		}
	}

	return nil, false
}

// BindValueChannel attaches the channel position values travel on.
func (n *NState) BindValueChannel(ch channel.Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.valueCh = ch
}

// BindAbortCommand attaches the hardware abort command, if the device has
// one.
func (n *NState) BindAbortCommand(cmd channel.Command) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.abortCmd = cmd
}

// Position returns the current position name, empty while the hardware
// reports a value outside the enumeration or before the first reading.
func (n *NState) Position() string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.current
}

// UpdateWireValue feeds a raw hardware reading into the object. A mapped
// value announces the position name; an unmapped one announces the raw
// value and clears the position. Reaching the pending target settles the
// move into READY.
func (n *NState) UpdateWireValue(ctx context.Context, raw any) {
	name, mapped := n.ValueToName(raw)

	n.mu.Lock()

	changed := !n.hasRaw || !wireEqual(n.lastRaw, raw)
	n.lastRaw = raw
	n.hasRaw = true
	n.current = name

	settled := false

	if n.hasTarget && mapped && name == n.target {
		n.hasTarget = false
		n.target = ""
		settled = true
	}

	n.mu.Unlock()

	if changed {
		if mapped {
			n.Emitter().Emit(signal.ValueChanged, name)
		} else {
			n.Emitter().Emit(signal.ValueChanged, raw)
		}
	}

	if settled {
		_ = n.UpdateState(ctx, StateReady)
	}
}

// ReadPosition reads the wire value from hardware and feeds it through
// UpdateWireValue.
func (n *NState) ReadPosition(ctx context.Context) (string, error) {
	n.mu.RLock()
	ch := n.valueCh
	n.mu.RUnlock()

	if ch == nil {
		return "", hwerr.NewConfigurationError(n.Role(), "no value channel bound", nil)
	}

	raw, err := ch.GetValue(ctx)
	if err != nil {
		return "", err
	}

	n.UpdateWireValue(ctx, raw)

	return n.Position(), nil
}

// SetPosition validates the name and dispatches the move. timeout == 0
// returns right after dispatch; timeout > 0 waits for the hardware to
// report the target position.
func (n *NState) SetPosition(ctx context.Context, name string, timeout time.Duration) error {
	value, ok := n.NameToValue(name)
	if !ok {
		return &hwerr.InvalidValueError{Value: name, Role: n.Role(), Reason: "not a defined position"}
	}

	n.mu.Lock()
	ch := n.valueCh
	n.target = name
	n.hasTarget = true
	alreadyThere := n.current == name
	n.mu.Unlock()

	if ch == nil {
		n.clearTarget()

		return hwerr.NewConfigurationError(n.Role(), "no value channel bound", nil)
	}

	if err := n.UpdateState(ctx, StateBusy); err != nil {
		n.clearTarget()

		return err
	}

	if err := ch.SetValue(ctx, value); err != nil {
		n.clearTarget()
		_ = n.UpdateState(ctx, StateFault)

		return err
	}

	if alreadyThere {
		n.clearTarget()

		if err := n.UpdateState(ctx, StateReady); err != nil {
			return err
		}
	}

	if timeout <= 0 {
		return nil
	}

	return n.WaitReady(ctx, timeout)
}

// StartMonitor subscribes to the value channel and feeds readings through
// UpdateWireValue until the channel closes.
func (n *NState) StartMonitor(ctx context.Context) {
	n.mu.RLock()
	ch := n.valueCh
	n.mu.RUnlock()

	if ch == nil {
		return
	}

	n.monitorOnce.Do(func() {
		updates := ch.Subscribe()

		go func() {
			for u := range updates {
				if u.Stale {
					_ = n.UpdateState(ctx, StateUnknown)

					continue
				}

				if n.State() == StateUnknown {
					n.mu.RLock()
					moving := n.hasTarget
					n.mu.RUnlock()

					if moving {
						_ = n.UpdateState(ctx, StateBusy)
					} else {
						_ = n.UpdateState(ctx, StateReady)
					}
				}

				n.UpdateWireValue(ctx, u.Value)
			}
		}()
	})
}

// Abort executes the hardware abort command when one is bound and the
// device state is known; otherwise it just clears the pending move. Either
// way an abort with nothing in progress succeeds.
func (n *NState) Abort(ctx context.Context) error {
	n.mu.Lock()
	cmd := n.abortCmd
	n.target = ""
	n.hasTarget = false
	n.mu.Unlock()

	if cmd != nil && n.State() != StateUnknown {
		if _, err := cmd.Execute(ctx); err != nil {
			return err
		}
	}

	if n.State() == StateBusy {
		return n.UpdateState(ctx, StateReady)
	}

	return nil
}

// Stop has abort semantics for discrete devices.
func (n *NState) Stop(ctx context.Context) error {
	return n.Abort(ctx)
}

// Shutdown announces OFF and releases the value channel.
func (n *NState) Shutdown(ctx context.Context) error {
	_ = n.UpdateState(ctx, StateOff)

	n.mu.Lock()
	ch := n.valueCh
	n.valueCh = nil
	n.mu.Unlock()

	if ch != nil {
		ch.Close()
	}

	return nil
}

func (n *NState) clearTarget() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.target = ""
	n.hasTarget = false
}

// wireEqual compares wire values loosely: numeric values compare as floats
// so a YAML 1 matches a hardware 1.0.
func wireEqual(a, b any) bool {
	af, aok := toFloat64(a)
	bf, bok := toFloat64(b)

	if aok && bok {
		return af == bf
	}

	return reflect.DeepEqual(a, b)
}
