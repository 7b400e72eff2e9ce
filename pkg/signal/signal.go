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

// Package signal implements the per-object publish/subscribe mechanism that
// hardware objects announce state and value changes through. Subscribers
// never poll an object, they connect a slot and get called on change.
package signal

import (
	"sync"

	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Signal names a kind of change an object can announce.
type Signal string

const (
	// StateChanged carries the new device state as its single argument.
	StateChanged Signal = "state_changed"

	// ValueChanged carries the new value as its single argument.
	ValueChanged Signal = "value_changed"

	// SpecificStateChanged carries the new hardware-specific state string.
	SpecificStateChanged Signal = "specific_state_changed"

	// LimitsChanged carries the new (low, high) limits as two arguments.
	LimitsChanged Signal = "limits_changed"
)

// Slot is a subscriber callback. Slots run on the emitting goroutine, so
// they must not block for long.
type Slot func(args ...any)

// Connection identifies one subscription. The zero value is not connected.
type Connection struct {
	emitter *Emitter
	signal  Signal
	id      uuid.UUID
}

// Disconnect removes the subscription. It returns false if the connection
// was already disconnected. Safe to call from within a slot.
func (c Connection) Disconnect() bool {
	if c.emitter == nil {
		return false
	}

	return c.emitter.disconnect(c)
}

type slotEntry struct {
	slot Slot
	id   uuid.UUID
}

type emission struct {
	signal Signal
	args   []any
}

// Emitter fans out signals of a single sender to its subscribers.
//
// Delivery is serialized per emitter: emissions are queued and drained by
// whichever goroutine currently holds the dispatcher role, so slots observe
// emissions in emission order and a slot may safely emit on its own object
// without deadlocking.
type Emitter struct {
	log         *zap.SugaredLogger
	slots       map[Signal][]slotEntry
	last        map[Signal][]any
	source      string
	queue       []emission
	mu          sync.Mutex
	dispatching bool
}

// NewEmitter creates an emitter for the named sender, typically the role of
// the owning hardware object.
func NewEmitter(source string) *Emitter {
	return &Emitter{
		source: source,
		log:    logger.For(logger.ComponentSignal),
		slots:  make(map[Signal][]slotEntry),
		last:   make(map[Signal][]any),
	}
}

// Connect subscribes slot to sig. Slots are called in connection order.
// Connecting the same function twice creates two independent subscriptions.
func (e *Emitter) Connect(sig Signal, slot Slot) Connection {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := slotEntry{id: uuid.New(), slot: slot}
	e.slots[sig] = append(e.slots[sig], entry)

	return Connection{emitter: e, signal: sig, id: entry.id}
}

func (e *Emitter) disconnect(c Connection) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.slots[c.signal]
	for i, entry := range entries {
		if entry.id == c.id {
			e.slots[c.signal] = append(entries[:i:i], entries[i+1:]...)

			return true
		}
	}

	return false
}

// Emit announces sig with the given payload. The payload is cached so late
// subscribers can be brought up to date via ReEmit. Emit never blocks on a
// subscriber being absent.
func (e *Emitter) Emit(sig Signal, args ...any) {
	e.mu.Lock()
	e.last[sig] = args
	e.queue = append(e.queue, emission{signal: sig, args: args})

	if e.dispatching {
		// The active dispatcher will drain our emission in order.
		e.mu.Unlock()

		return
	}

	e.dispatching = true
	e.drainLocked()
}

// ReEmit re-announces the cached payload of the given signals without
// touching the hardware. Unseen signals are skipped. With no arguments all
// cached signals are re-announced.
func (e *Emitter) ReEmit(sigs ...Signal) {
	e.mu.Lock()

	if len(sigs) == 0 {
		for sig := range e.last {
			sigs = append(sigs, sig)
		}
	}

	for _, sig := range sigs {
		if args, ok := e.last[sig]; ok {
			e.queue = append(e.queue, emission{signal: sig, args: args})
		}
	}

	if e.dispatching || len(e.queue) == 0 {
		e.mu.Unlock()

		return
	}

	e.dispatching = true
	e.drainLocked()
}

// drainLocked delivers queued emissions until the queue is empty. Called
// with e.mu held, returns with e.mu released.
func (e *Emitter) drainLocked() {
	for len(e.queue) > 0 {
		em := e.queue[0]
		e.queue = e.queue[1:]

		// Snapshot the subscriber list so slots can connect and disconnect
		// while we deliver.
		entries := make([]slotEntry, len(e.slots[em.signal]))
		copy(entries, e.slots[em.signal])

		e.mu.Unlock()

		for _, entry := range entries {
			e.deliver(em, entry)
		}

		e.mu.Lock()
	}

	e.dispatching = false
	e.mu.Unlock()
}

func (e *Emitter) deliver(em emission, entry slotEntry) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncErrorCount(metrics.ComponentHardwareObject, e.source)
			e.log.Errorf("%s: slot for %s panicked: %v", e.source, em.signal, r)
		}
	}()

	entry.slot(em.args...)
	metrics.RecordSignalEmit(e.source, string(em.signal))
}

// LastPayload returns the most recently emitted payload of sig.
func (e *Emitter) LastPayload(sig Signal) ([]any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	args, ok := e.last[sig]

	return args, ok
}

// SubscriberCount returns the number of active subscriptions for sig.
func (e *Emitter) SubscriberCount(sig Signal) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.slots[sig])
}
