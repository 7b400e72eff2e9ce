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

// Package registry maps hardware object class identifiers to factories.
//
// A Registry is an explicit instance handed to whoever loads documents; there
// is no package-level table. Registration happens once at startup, lookups
// are concurrent-safe afterwards.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
)

// Factory builds a hardware object for a role from its parsed document. The
// returned object must be in its pre-init state; the loader runs Init after
// wiring references.
type Factory func(role string, doc *config.Document) (hwobj.Object, error)

// Registry holds the class table. Safe for concurrent reads; Register should
// only be called during startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under a class identifier. Registering the same
// class twice is an error so a misassembled startup surfaces immediately.
func (r *Registry) Register(class string, factory Factory) error {
	if class == "" {
		return fmt.Errorf("class identifier must not be empty")
	}

	if factory == nil {
		return fmt.Errorf("factory for class %q must not be nil", class)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[class]; exists {
		return fmt.Errorf("factory already registered for class %q", class)
	}

	r.factories[class] = factory

	return nil
}

// Resolve returns the factory for a class identifier. Dotted identifiers fall
// back to their last segment, so legacy documents naming a full import path
// like "mxcubecore.HardwareObjects.mockup.MockMotor" still resolve once
// "MockMotor" is registered.
func (r *Registry) Resolve(class string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if f, ok := r.factories[class]; ok {
		return f, nil
	}

	if i := strings.LastIndex(class, "."); i >= 0 {
		if f, ok := r.factories[class[i+1:]]; ok {
			return f, nil
		}
	}

	return nil, &hwerr.UnknownTypeError{Class: class}
}

// Known reports whether a class identifier would resolve.
func (r *Registry) Known(class string) bool {
	_, err := r.Resolve(class)

	return err == nil
}

// Classes returns the registered class identifiers in sorted order.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	classes := make([]string, 0, len(r.factories))
	for class := range r.factories {
		classes = append(classes, class)
	}

	sort.Strings(classes)

	return classes
}
