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

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
)

// BeamlineRoot is a pure container: it owns no hardware channels and exists
// to gather the top-level objects a beamline document declares, preserving
// their declaration order for consumers that present the beamline as a tree.
type BeamlineRoot struct {
	*hwobj.Base

	mu       sync.RWMutex
	order    []string
	children map[string]hwobj.Object
}

// NewBeamlineRoot returns an empty container. Init collects the children.
func NewBeamlineRoot(role string, doc *config.Document) *BeamlineRoot {
	return &BeamlineRoot{
		Base:     hwobj.NewBase(role, ClassBeamlineRoot, doc),
		children: make(map[string]hwobj.Object),
	}
}

// Init resolves every child role the document declares. The loader
// constructs dependencies first, so a missing child is a wiring defect, not
// a race.
func (r *BeamlineRoot) Init(ctx context.Context, deps hwobj.Deps) error {
	doc := r.Document()

	if doc != nil {
		for _, spec := range doc.Objects {
			child, ok := deps.ByRole(spec.Role)
			if !ok {
				return &hwerr.UnresolvedReferenceError{Reference: spec.Role, Document: doc.Source}
			}

			r.mu.Lock()

			if _, exists := r.children[spec.Role]; !exists {
				r.order = append(r.order, spec.Role)
			}

			r.children[spec.Role] = child
			r.mu.Unlock()
		}
	}

	return r.UpdateState(ctx, hwobj.StateReady)
}

// Children returns the child objects in declaration order.
func (r *BeamlineRoot) Children() []hwobj.Object {
	r.mu.RLock()
	defer r.mu.RUnlock()

	children := make([]hwobj.Object, 0, len(r.order))
	for _, role := range r.order {
		children = append(children, r.children[role])
	}

	return children
}

// Child returns the child registered under role.
func (r *BeamlineRoot) Child(role string) (hwobj.Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	child, ok := r.children[role]

	return child, ok
}

// Roles returns the child roles in declaration order.
func (r *BeamlineRoot) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]string, len(r.order))
	copy(roles, r.order)

	return roles
}
