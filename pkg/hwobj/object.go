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

// Package hwobj defines the uniform contract every configured hardware
// object satisfies: the six-state reporting machine, signal emission,
// wait-for-ready semantics and the actuator specializations built on top.
package hwobj

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/constants"
	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/metrics"
	"github.com/beamline-hub/blh-core/pkg/signal"
)

// Deps exposes the objects already constructed when a post-initialization
// hook runs. Lookups never trigger loading: by the time Init is invoked,
// every dependency the document declares has been resolved.
type Deps interface {
	ByRole(role string) (Object, bool)
}

// Object is the contract the loader and every downstream consumer rely on.
// NewBase provides a complete implementation; concrete classes embed it and
// override what their hardware needs.
type Object interface {
	// Role is the logical name the object is registered under.
	Role() string
	// ClassName is the class identifier that constructed the object.
	ClassName() string

	// State and SpecificState are non-blocking reads. SpecificState carries
	// a free-form domain status orthogonal to the base enumeration.
	State() DeviceState
	SpecificState() string

	// Emitter is where the object announces state_changed, value_changed,
	// specific_state_changed and limits_changed.
	Emitter() *signal.Emitter

	// Init is the post-initialization hook the loader invokes after the
	// object's same-document dependencies have completed construction. This
	// is the place to resolve references and open hardware channels.
	Init(ctx context.Context, deps Deps) error

	// WaitReady blocks the caller until the object reaches READY, the
	// object declares FAULT or OFF, or the timeout elapses. A timeout of 0
	// applies the default.
	WaitReady(ctx context.Context, timeout time.Duration) error

	// ReEmitValues re-announces current state and values without touching
	// hardware, so a listener connected after the fact gets a baseline.
	ReEmitValues()

	// Abort and Stop are best-effort requests to the underlying hardware.
	// Both are safe to call in any state, including already-stopped, and
	// never fail merely because there was nothing to do.
	Abort(ctx context.Context) error
	Stop(ctx context.Context) error

	// Shutdown releases channels and background goroutines. Called once,
	// at process end or when a reload replaces the graph.
	Shutdown(ctx context.Context) error
}

var _ Object = (*Base)(nil)

// Base implements Object. Concrete hardware classes embed *Base and override
// Init, Abort, Stop and Shutdown as needed.
type Base struct {
	role  string
	class string
	doc   *config.Document

	// mu protects the machine and the specific state.
	mu       sync.RWMutex
	machine  *fsm.FSM
	specific string

	// Registered "enter_state" callbacks, purely for logging or minor side-effects.
	callbacks map[string]fsm.Callback

	emitter *signal.Emitter
	log     *zap.SugaredLogger
}

// NewBase returns a Base in state UNKNOWN for the given role. The document
// may be nil for objects constructed outside the loader.
func NewBase(role, class string, doc *config.Document) *Base {
	b := &Base{
		role:      role,
		class:     class,
		doc:       doc,
		callbacks: make(map[string]fsm.Callback),
		emitter:   signal.NewEmitter(role),
		log:       logger.For(logger.ComponentHardwareObject),
	}

	b.machine = fsm.NewFSM(
		string(StateUnknown),
		fsm.Events(stateEvents()),
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				if cb, ok := b.callbacks["enter_"+e.Dst]; ok {
					cb(ctx, e)
				}
			},
		},
	)

	metrics.UpdateObjectState(role, class, string(StateUnknown))

	return b
}

// AddCallback registers a callback for "enter_<STATE>" hooks.
func (b *Base) AddCallback(eventName string, callback fsm.Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks[eventName] = callback
}

func (b *Base) Role() string {
	return b.role
}

func (b *Base) ClassName() string {
	return b.class
}

// Document returns the configuration document the object was built from.
func (b *Base) Document() *config.Document {
	return b.doc
}

func (b *Base) Emitter() *signal.Emitter {
	return b.emitter
}

func (b *Base) State() DeviceState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return DeviceState(b.machine.Current())
}

func (b *Base) SpecificState() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.specific
}

// UpdateState moves the machine to s and announces the change. Re-reporting
// the current state is a no-op: state_changed fires only on change.
//
// Context protection mirrors the machine semantics: an expired context must
// not start a transition it cannot finish.
func (b *Base) UpdateState(ctx context.Context, s DeviceState) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if !s.Valid() {
		return &hwerr.InvalidValueError{Value: s, Role: b.role, Reason: "not a device state"}
	}

	b.mu.Lock()

	if DeviceState(b.machine.Current()) == s {
		b.mu.Unlock()

		return nil
	}

	err := b.machine.Event(ctx, transitionEvent(s))
	b.mu.Unlock()

	if err != nil {
		return err
	}

	b.log.Debugf("%s: state -> %s", b.role, s)
	metrics.UpdateObjectState(b.role, b.class, string(s))
	b.emitter.Emit(signal.StateChanged, s)

	return nil
}

// UpdateSpecificState sets the free-form domain state, announcing changes.
func (b *Base) UpdateSpecificState(s string) {
	b.mu.Lock()

	if b.specific == s {
		b.mu.Unlock()

		return
	}

	b.specific = s
	b.mu.Unlock()

	b.emitter.Emit(signal.SpecificStateChanged, s)
}

// WaitReady blocks until the object reports READY. FAULT and OFF end the
// wait immediately with a FaultError: waiting longer would never succeed.
// The deadline produces a TimeoutError distinguishable from both.
func (b *Base) WaitReady(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = constants.DefaultWaitReadyTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Subscribe before the first check so no transition can slip between
	// the check and the wait.
	states := make(chan DeviceState, 8)
	conn := b.emitter.Connect(signal.StateChanged, func(args ...any) {
		if len(args) == 0 {
			return
		}

		if s, ok := args[0].(DeviceState); ok {
			select {
			case states <- s:
			default:
			}
		}
	})
	defer conn.Disconnect()

	settled := func(s DeviceState) (bool, error) {
		switch s {
		case StateReady:
			return true, nil
		case StateFault, StateOff:
			return true, &hwerr.FaultError{Role: b.role, State: string(s)}
		}

		return false, nil
	}

	if done, err := settled(b.State()); done {
		return err
	}

	ticker := time.NewTicker(constants.WaitReadyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}

			metrics.RecordWaitReadyTimeout(b.role)

			return &hwerr.TimeoutError{Role: b.role, Op: "wait_ready", Timeout: timeout}
		case s := <-states:
			if done, err := settled(s); done {
				return err
			}
		case <-ticker.C:
			// Poll fallback in case an announcement was dropped.
			if done, err := settled(b.State()); done {
				return err
			}
		}
	}
}

// ReEmitValues re-announces the last payload of every signal the object has
// emitted. Signals never emitted stay silent.
func (b *Base) ReEmitValues() {
	b.emitter.ReEmit(signal.StateChanged, signal.ValueChanged, signal.SpecificStateChanged, signal.LimitsChanged)
}

// Init is a no-op by default. Concrete classes override it to resolve
// references and open hardware channels.
func (b *Base) Init(ctx context.Context, deps Deps) error {
	return nil
}

// Abort is a no-op by default: with no motion in progress there is nothing
// to abort, and that is not an error.
func (b *Base) Abort(ctx context.Context) error {
	return nil
}

// Stop is a no-op by default, same contract as Abort.
func (b *Base) Stop(ctx context.Context) error {
	return nil
}

// Shutdown announces OFF. Concrete classes override it to also close
// channels and stop background goroutines.
func (b *Base) Shutdown(ctx context.Context) error {
	return b.UpdateState(ctx, StateOff)
}
