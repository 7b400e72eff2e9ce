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

// Package loader turns hardware object documents into a wired graph of live
// objects.
//
// Loading walks the document tree strictly sequentially in declaration
// order: for each object reference the class is resolved through the
// registry, the instance constructed, registered in the name table, its own
// references resolved (name table first, then as a document path), and
// finally its post-initialization hook invoked. References are resolved
// through a path-keyed singleton cache, so a document referenced from two
// places produces one live object with two roles. A reference back into a
// document still being loaded fails with a CyclicReferenceError instead of
// recursing forever.
//
// A failed load returns no graph at all; whatever was constructed up to the
// failure is shut down again.
package loader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/constants"
	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/metrics"
	"github.com/beamline-hub/blh-core/pkg/registry"
	"github.com/beamline-hub/blh-core/pkg/service/filesystem"
)

// Loader builds object graphs from document trees. It is stateless across
// loads; every Load call runs in its own session.
type Loader struct {
	registry *registry.Registry
	fs       filesystem.Service
	log      *zap.SugaredLogger
}

// New creates a Loader resolving classes through reg and reading documents
// through fs. A nil fs falls back to the real filesystem.
func New(reg *registry.Registry, fs filesystem.Service) *Loader {
	if fs == nil {
		fs = filesystem.NewDefaultService()
	}

	return &Loader{
		registry: reg,
		fs:       fs,
		log:      logger.For(logger.ComponentLoader),
	}
}

// Load parses the document at rootPath and constructs the full object graph
// beneath it. The root object's role is the document's base name without
// extension.
//
// Any failure aborts the whole load: the error is returned, no partial graph
// escapes, and objects constructed before the failure are shut down again.
func (l *Loader) Load(ctx context.Context, rootPath string) (*Graph, error) {
	start := time.Now()
	path := filepath.Clean(rootPath)

	s := &session{
		loader:   l,
		graph:    newGraph(uuid.New().String()),
		cache:    make(map[string]cacheEntry),
		inFlight: make(map[string]bool),
	}
	s.log = l.log.With("load_session", s.graph.sessionID)

	role := roleFromPath(path)

	root, err := s.loadObject(ctx, role, path, path)
	if err != nil {
		s.abandon()
		metrics.ObserveLoadDuration("failure", time.Since(start))
		metrics.IncErrorCount(metrics.ComponentLoader, path)
		s.log.Warnf("load of %s failed: %v", path, err)

		return nil, err
	}

	s.graph.root = root
	s.graph.rootRole = role
	s.graph.loadedAt = time.Now()

	metrics.ObserveLoadDuration("success", time.Since(start))
	s.log.Infof("loaded %d objects from %s in %s",
		s.graph.Len(), path, time.Since(start).Round(time.Millisecond))

	return s.graph, nil
}

// session carries the per-load state: the graph under construction, the
// path-keyed singleton cache and the stack of documents currently mid-load.
type session struct {
	loader *Loader
	graph  *Graph
	log    *zap.SugaredLogger

	cache    map[string]cacheEntry
	stack    []string
	inFlight map[string]bool
}

type cacheEntry struct {
	obj hwobj.Object
	doc *config.Document
}

// loadObject reads, constructs, wires and initializes the document at path,
// registering the result under role. declaredIn names the document that
// declared the reference, for error context.
func (s *session) loadObject(ctx context.Context, role, path, declaredIn string) (hwobj.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.inFlight[path] {
		return nil, &hwerr.CyclicReferenceError{
			Chain: append(append([]string(nil), s.stack...), path),
		}
	}

	if _, taken := s.graph.byRole[role]; taken {
		return nil, s.duplicateRole(role, declaredIn)
	}

	s.stack = append(s.stack, path)
	s.inFlight[path] = true

	defer func() {
		s.stack = s.stack[:len(s.stack)-1]
		delete(s.inFlight, path)
	}()

	data, err := s.loader.fs.ReadFile(ctx, path)
	if err != nil {
		return nil, hwerr.NewConfigurationError(path, "reading document", err)
	}

	doc, err := config.ParseDocument(path, data)
	if err != nil {
		return nil, err
	}

	factory, err := s.loader.registry.Resolve(doc.Class)
	if err != nil {
		var unknown *hwerr.UnknownTypeError
		if errors.As(err, &unknown) && unknown.Document == "" {
			unknown.Document = path
		}

		return nil, err
	}

	obj, err := factory(role, doc)
	if err != nil {
		return nil, fmt.Errorf("constructing %q (class %s): %w", role, doc.Class, err)
	}

	if err := s.register(role, declaredIn, obj, doc); err != nil {
		return nil, err
	}

	for _, spec := range doc.Objects {
		if err := s.resolveSpec(ctx, doc, spec); err != nil {
			return nil, err
		}
	}

	if err := obj.Init(ctx, s.graph); err != nil {
		return nil, fmt.Errorf("initializing %q: %w", role, err)
	}

	// Cached only once fully loaded. A reference to a document still on the
	// stack must surface as a cycle, not resolve to a half-built object.
	s.cache[path] = cacheEntry{obj: obj, doc: doc}

	s.log.Debugf("loaded %q (class %s) from %s, state %s", role, obj.ClassName(), path, obj.State())

	return obj, nil
}

// resolveSpec resolves one `_objects` entry of parent. The reference lives
// in a single namespace tried role-first: an already registered role wins,
// anything else is treated as a document path relative to the parent.
func (s *session) resolveSpec(ctx context.Context, parent *config.Document, spec config.ObjectSpec) error {
	ref := spec.Reference
	if ref == "" {
		ref = spec.Role
	}

	if obj, ok := s.graph.byRole[ref]; ok {
		if spec.Role == ref {
			// Pure name lookup, nothing new to register.
			return nil
		}

		return s.register(spec.Role, parent.Source, obj, s.graph.docs[ref])
	}

	path := resolvePath(parent.Source, ref)

	if hit, ok := s.cache[path]; ok {
		return s.register(spec.Role, parent.Source, hit.obj, hit.doc)
	}

	exists, err := s.loader.fs.PathExists(ctx, path)
	if err != nil {
		return hwerr.NewConfigurationError(parent.Source, fmt.Sprintf("checking reference %q", ref), err)
	}

	if !exists {
		return &hwerr.UnresolvedReferenceError{Reference: ref, Document: parent.Source}
	}

	_, err = s.loadObject(ctx, spec.Role, path, parent.Source)

	return err
}

// register adds role to the name table. Re-registering the same object under
// an already held role is a no-op, so diamond references stay legal; binding
// the role to a different object is a duplicate.
func (s *session) register(role, declaredIn string, obj hwobj.Object, doc *config.Document) error {
	if existing, ok := s.graph.byRole[role]; ok {
		if existing == obj {
			return nil
		}

		return s.duplicateRole(role, declaredIn)
	}

	s.graph.byRole[role] = obj
	s.graph.roles = append(s.graph.roles, role)
	s.graph.docs[role] = doc

	return nil
}

func (s *session) duplicateRole(role, declaredIn string) error {
	first := declaredIn
	if doc, ok := s.graph.docs[role]; ok {
		first = doc.Source
	}

	return &hwerr.DuplicateRoleError{Role: role, Document: declaredIn, FirstDocument: first}
}

// abandon shuts down whatever a failed load constructed, so no channel or
// poll goroutine outlives a load that produced no graph.
func (s *session) abandon() {
	if s.graph.Len() == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.GraphShutdownTimeout)
	defer cancel()

	if err := s.graph.Shutdown(ctx); err != nil {
		s.log.Warnf("shutting down partially loaded objects: %v", err)
	}
}

// resolvePath turns a reference into a document path, relative references
// anchored at the referencing document's directory.
func resolvePath(parentSource, ref string) string {
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref)
	}

	return filepath.Clean(filepath.Join(filepath.Dir(parentSource), ref))
}

// roleFromPath derives the root object's role from its document file name.
func roleFromPath(path string) string {
	base := filepath.Base(path)

	return strings.TrimSuffix(base, filepath.Ext(base))
}
