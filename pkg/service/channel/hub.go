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

package channel

import (
	"fmt"
	"strings"
	"sync"

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/logger"
	"go.uber.org/zap"
)

// Hub routes binding specs to protocol adapters. The loader holds one Hub for
// the lifetime of the process and asks it for a Channel or Command for every
// binding a document declares.
//
// In simulation mode every binding is routed to the mock adapter regardless
// of the protocol it declares, so legacy configurations referencing external
// control systems load without those systems being reachable.
type Hub struct {
	mu         sync.RWMutex
	adapters   map[string]Adapter
	simulation bool
	logger     *zap.SugaredLogger
}

// NewHub returns an empty Hub. Adapters are registered explicitly at startup.
func NewHub() *Hub {
	return &Hub{
		adapters: make(map[string]Adapter),
		logger:   logger.For(logger.ComponentChannelService),
	}
}

// WithSimulation toggles simulation mode and returns the hub for chaining.
func (h *Hub) WithSimulation(simulation bool) *Hub {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.simulation = simulation

	return h
}

// RegisterAdapter adds an adapter under its protocol name. Registering two
// adapters for the same protocol is a wiring mistake and fails loudly.
func (h *Hub) RegisterAdapter(a Adapter) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	protocol := strings.ToLower(a.Protocol())
	if _, exists := h.adapters[protocol]; exists {
		return fmt.Errorf("adapter already registered for protocol %q", protocol)
	}

	h.adapters[protocol] = a
	h.logger.Infof("registered channel adapter for protocol %q", protocol)

	return nil
}

// Adapter returns the adapter registered for protocol, if any.
func (h *Hub) Adapter(protocol string) (Adapter, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	a, ok := h.adapters[strings.ToLower(protocol)]

	return a, ok
}

// Protocols returns the registered protocol names, unordered.
func (h *Hub) Protocols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	protocols := make([]string, 0, len(h.adapters))
	for p := range h.adapters {
		protocols = append(protocols, p)
	}

	return protocols
}

// Channel builds the channel a binding spec describes. An unknown protocol is
// a configuration error, not a runtime fault: the document referenced a
// control system this deployment does not speak.
func (h *Hub) Channel(spec config.BindingSpec) (Channel, error) {
	a, err := h.route(spec)
	if err != nil {
		return nil, err
	}

	return a.Channel(spec.Name, spec.Address)
}

// Command builds the command a binding spec describes.
func (h *Hub) Command(spec config.BindingSpec) (Command, error) {
	a, err := h.route(spec)
	if err != nil {
		return nil, err
	}

	return a.Command(spec.Name, spec.Address)
}

func (h *Hub) route(spec config.BindingSpec) (Adapter, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	protocol := strings.ToLower(spec.Protocol)
	if h.simulation {
		a, ok := h.adapters[ProtocolMock]
		if !ok {
			return nil, hwerr.NewConfigurationError(spec.Name,
				"simulation mode is enabled but no mock adapter is registered", nil)
		}

		if protocol != ProtocolMock {
			h.logger.Debugf("simulation mode: routing %s binding %q to the mock adapter", protocol, spec.Name)
		}

		return a, nil
	}

	a, ok := h.adapters[protocol]
	if !ok {
		return nil, hwerr.NewConfigurationError(spec.Name,
			fmt.Sprintf("unknown channel protocol %q", spec.Protocol), nil)
	}

	return a, nil
}
