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

// Package channel binds hardware objects to control system endpoints.
//
// A hardware object never talks to a protocol directly. Its configuration
// document declares named channels and commands, and this package turns those
// declarations into live Channel and Command instances through a protocol
// adapter registered on the Hub. The core ships two adapters: the in-process
// Simulator (protocol "mock") and a JSON-over-HTTP client (protocol "rest").
// Beamline-specific protocols plug in the same way.
package channel

import (
	"context"
)

// Protocol names of the adapters shipped with the core.
const (
	ProtocolMock = "mock"
	ProtocolRest = "rest"
)

// Update is one value notification delivered to channel subscribers.
//
// Stale marks a value that could not be confirmed recently: the endpoint
// stopped answering and the cached reading aged out. Subscribers treat a
// stale update as "last known value, currently unverifiable" and typically
// drop their object to the UNKNOWN state until a fresh update arrives.
type Update struct {
	Value any
	Stale bool
}

// Channel is one named process variable on a control system endpoint.
//
// GetValue and SetValue are synchronous and bounded by their context.
// Subscribe returns a stream of value updates; slow subscribers lose
// intermediate updates rather than blocking the producer. Close releases
// the channel and closes every subscription stream.
type Channel interface {
	Name() string
	GetValue(ctx context.Context) (any, error)
	SetValue(ctx context.Context, value any) error
	Subscribe() <-chan Update
	Close()
}

// Command is one remotely executable operation on a control system endpoint.
type Command interface {
	Name() string
	Execute(ctx context.Context, args ...any) (any, error)
}

// Adapter builds channels and commands for one protocol. Implementations own
// their transport; the binding address is opaque to everything above them.
type Adapter interface {
	Protocol() string
	Channel(name, address string) (Channel, error)
	Command(name, address string) (Command, error)
}
