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
	"github.com/looplab/fsm"
)

// DeviceState is the base operational state every hardware object reports.
//
// The state machine is a reporting contract, not a strict transition graph:
// physical hardware can fault or recover from any condition, so every
// cross-state move is permitted. What the machine buys us is a single place
// where transitions are observed, announced and counted.
type DeviceState string

const (
	// StateUnknown is the initial state of every object until its first real
	// status poll or event arrives. Objects also drop back here when their
	// readings go stale.
	StateUnknown DeviceState = "UNKNOWN"

	// StateWarning reports a usable device outside its normal envelope.
	StateWarning DeviceState = "WARNING"

	// StateBusy reports an operation in progress, typically a motion.
	StateBusy DeviceState = "BUSY"

	// StateReady reports a device idle and available.
	StateReady DeviceState = "READY"

	// StateFault reports a hardware-declared failure.
	StateFault DeviceState = "FAULT"

	// StateOff reports a device switched off or disconnected on purpose.
	StateOff DeviceState = "OFF"
)

// States returns every base state in a stable order.
func States() []DeviceState {
	return []DeviceState{StateUnknown, StateWarning, StateBusy, StateReady, StateFault, StateOff}
}

// Valid reports whether s is one of the six base states.
func (s DeviceState) Valid() bool {
	switch s {
	case StateUnknown, StateWarning, StateBusy, StateReady, StateFault, StateOff:
		return true
	}

	return false
}

func (s DeviceState) String() string {
	return string(s)
}

// transitionEvent names the machine event that enters a state.
func transitionEvent(s DeviceState) string {
	return "to_" + string(s)
}

// stateEvents builds the event table permitting every cross-state move.
func stateEvents() []fsm.EventDesc {
	all := States()
	events := make([]fsm.EventDesc, 0, len(all))

	for _, dst := range all {
		src := make([]string, 0, len(all)-1)

		for _, s := range all {
			if s != dst {
				src = append(src, string(s))
			}
		}

		events = append(events, fsm.EventDesc{Name: transitionEvent(dst), Src: src, Dst: string(dst)})
	}

	return events
}
