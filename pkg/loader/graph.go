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

package loader

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
)

// Graph is the result of one load session: the name table of live objects,
// their documents, and the root object the whole document tree hangs off.
//
// A Graph is written by a single goroutine while Load runs and is immutable
// afterwards, so every reader accesses it lock-free. During load the Graph
// doubles as the hwobj.Deps handed to each post-initialization hook.
type Graph struct {
	sessionID string
	rootRole  string
	root      hwobj.Object
	loadedAt  time.Time

	// roles preserves registration order, byRole is the name table.
	roles  []string
	byRole map[string]hwobj.Object
	docs   map[string]*config.Document
}

var _ hwobj.Deps = (*Graph)(nil)

func newGraph(sessionID string) *Graph {
	return &Graph{
		sessionID: sessionID,
		byRole:    make(map[string]hwobj.Object),
		docs:      make(map[string]*config.Document),
	}
}

// SessionID returns the correlation id of the load session that produced
// this graph.
func (g *Graph) SessionID() string {
	return g.sessionID
}

// LoadedAt returns when the load session completed.
func (g *Graph) LoadedAt() time.Time {
	return g.loadedAt
}

// Root returns the object built from the root document.
func (g *Graph) Root() hwobj.Object {
	return g.root
}

// RootRole returns the role the root object is registered under.
func (g *Graph) RootRole() string {
	return g.rootRole
}

// ByRole looks up a live object in the name table.
func (g *Graph) ByRole(role string) (hwobj.Object, bool) {
	obj, ok := g.byRole[role]

	return obj, ok
}

// Roles returns every registered role in registration order.
func (g *Graph) Roles() []string {
	return append([]string(nil), g.roles...)
}

// Len returns the number of registered roles, aliases included.
func (g *Graph) Len() int {
	return len(g.roles)
}

// Document returns the parsed document backing a role. Its property sidecar
// re-serializes byte-order faithful via MarshalProperties.
func (g *Graph) Document(role string) (*config.Document, bool) {
	doc, ok := g.docs[role]

	return doc, ok
}

// ObjectStatus is one row of a graph state snapshot. Value, Limits and
// Position are only present for objects that expose them.
type ObjectStatus struct {
	Role          string    `json:"role"`
	Class         string    `json:"class"`
	State         string    `json:"state"`
	SpecificState string    `json:"specific_state,omitempty"`
	Value         *float64  `json:"value,omitempty"`
	Limits        []float64 `json:"limits,omitempty"`
	Position      string    `json:"position,omitempty"`
}

type valueReader interface {
	Value() (float64, bool)
}

type limitHolder interface {
	Limits() (low, high float64)
}

type positionHolder interface {
	Position() string
}

// Snapshot captures the current state of every registered role in
// registration order. Aliased objects appear once per role. Unbounded
// actuator limits are omitted so the snapshot stays JSON-encodable.
func (g *Graph) Snapshot() []ObjectStatus {
	statuses := make([]ObjectStatus, 0, len(g.roles))

	for _, role := range g.roles {
		obj := g.byRole[role]

		status := ObjectStatus{
			Role:          role,
			Class:         obj.ClassName(),
			State:         string(obj.State()),
			SpecificState: obj.SpecificState(),
		}

		if reader, ok := obj.(valueReader); ok {
			if v, ok := reader.Value(); ok {
				value := v
				status.Value = &value
			}
		}

		if holder, ok := obj.(limitHolder); ok {
			low, high := holder.Limits()
			if !math.IsInf(low, 0) && !math.IsInf(high, 0) {
				status.Limits = []float64{low, high}
			}
		}

		if holder, ok := obj.(positionHolder); ok {
			status.Position = holder.Position()
		}

		statuses = append(statuses, status)
	}

	return statuses
}

// Shutdown releases every object in reverse registration order, undoing
// construction like a run of defers; the root goes down last. Aliased
// objects are shut down once. All errors are collected; one failing object
// does not keep the rest from shutting down.
func (g *Graph) Shutdown(ctx context.Context) error {
	done := make(map[hwobj.Object]bool, len(g.roles))

	var errs []error

	for i := len(g.roles) - 1; i >= 0; i-- {
		obj := g.byRole[g.roles[i]]
		if done[obj] {
			continue
		}

		done[obj] = true

		if err := obj.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
