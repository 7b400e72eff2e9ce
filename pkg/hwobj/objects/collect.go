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
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/geometry"
	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/paramschema"
	"github.com/beamline-hub/blh-core/pkg/service/filesystem"
)

// motor is the slice of the actuator surface the procedure needs from its
// referenced axes.
type motor interface {
	Value() (float64, bool)
	ValidateValue(v float64) error
	SetValue(ctx context.Context, v float64, timeout time.Duration) error
	WaitReady(ctx context.Context, timeout time.Duration) error
}

// CollectProcedure prepares a data collection: it loads the acquisition
// parameter dialog and the instrument geometry named by its document, and
// validates proposed parameter sets against both the dialog schema and the
// travel limits of the axes the document references. Parameter keys that
// match a referenced axis role are treated as target positions for that
// axis.
type CollectProcedure struct {
	*hwobj.Base

	fs  filesystem.Service
	log *zap.SugaredLogger

	mu         sync.RWMutex
	dialog     *paramschema.Dialog
	instrument *geometry.Namelist
	axes       map[string][]float64
	refs       map[string]hwobj.Object
	motors     map[string]motor
}

// NewCollectProcedure returns a procedure with nothing loaded yet.
func NewCollectProcedure(fs filesystem.Service, role string, doc *config.Document) *CollectProcedure {
	return &CollectProcedure{
		Base:   hwobj.NewBase(role, ClassCollectProcedure, doc),
		fs:     fs,
		log:    logger.For(logger.ComponentHardwareObject),
		axes:   make(map[string][]float64),
		refs:   make(map[string]hwobj.Object),
		motors: make(map[string]motor),
	}
}

// Init reads the parameter_file and instrumentation_file sidecars (paths
// relative to the document) and resolves the referenced objects.
func (c *CollectProcedure) Init(ctx context.Context, deps hwobj.Deps) error {
	doc := c.Document()

	if doc != nil {
		if rel := doc.StringProperty("parameter_file", ""); rel != "" {
			if err := c.loadDialog(ctx, c.resolvePath(rel)); err != nil {
				return err
			}
		}

		if rel := doc.StringProperty("instrumentation_file", ""); rel != "" {
			if err := c.loadInstrument(ctx, c.resolvePath(rel)); err != nil {
				return err
			}
		}

		for _, spec := range doc.Objects {
			obj, ok := deps.ByRole(spec.Role)
			if !ok {
				return &hwerr.UnresolvedReferenceError{Reference: spec.Role, Document: doc.Source}
			}

			c.mu.Lock()
			c.refs[spec.Role] = obj

			if m, isMotor := obj.(motor); isMotor {
				c.motors[spec.Role] = m
			}
			c.mu.Unlock()
		}
	}

	return c.UpdateState(ctx, hwobj.StateReady)
}

func (c *CollectProcedure) loadDialog(ctx context.Context, path string) error {
	data, err := c.fs.ReadFile(ctx, path)
	if err != nil {
		return hwerr.NewConfigurationError(path, "reading parameter dialog", err)
	}

	dialog, err := paramschema.Parse(path, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.dialog = dialog
	c.mu.Unlock()

	return nil
}

func (c *CollectProcedure) loadInstrument(ctx context.Context, path string) error {
	data, err := c.fs.ReadFile(ctx, path)
	if err != nil {
		return hwerr.NewConfigurationError(path, "reading instrument geometry", err)
	}

	nml, err := geometry.Parse(path, data)
	if err != nil {
		return err
	}

	axes := make(map[string][]float64)

	if instrument, ok := nml.Group("sdcp_instrument_list"); ok {
		for _, pair := range [][2]string{
			{"gonio_axis_names", "gonio_axis_dirs"},
			{"gonio_centring_axis_names", "gonio_centring_axis_dirs"},
		} {
			triplets, err := axisTriplets(instrument, pair[0], pair[1], path)
			if err != nil {
				return err
			}

			for name, dir := range triplets {
				axes[name] = dir
			}
		}
	}

	c.mu.Lock()
	c.instrument = nml
	c.axes = axes
	c.mu.Unlock()

	return nil
}

// axisTriplets pairs each axis name with its three direction components.
// Absent keys mean no axes of that kind, which is fine.
func axisTriplets(group *geometry.Group, namesKey, dirsKey, source string) (map[string][]float64, error) {
	names, ok := group.Strings(namesKey)
	if !ok {
		return nil, nil
	}

	dirs, ok := group.Floats(dirsKey)
	if !ok || len(dirs) != 3*len(names) {
		return nil, hwerr.NewConfigurationError(source,
			fmt.Sprintf("%s must hold 3 directions per axis in %s", dirsKey, namesKey), nil)
	}

	triplets := make(map[string][]float64, len(names))
	for i, name := range names {
		triplets[name] = dirs[i*3 : i*3+3]
	}

	return triplets, nil
}

func (c *CollectProcedure) resolvePath(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}

	doc := c.Document()
	if doc == nil || doc.Source == "" {
		return rel
	}

	return filepath.Join(filepath.Dir(doc.Source), rel)
}

// Dialog returns the loaded parameter dialog, nil when the document named
// none.
func (c *CollectProcedure) Dialog() *paramschema.Dialog {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.dialog
}

// Instrument returns the loaded geometry, nil when the document named none.
func (c *CollectProcedure) Instrument() *geometry.Namelist {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.instrument
}

// AxisDirections returns the direction triplet of a goniostat axis.
func (c *CollectProcedure) AxisDirections(name string) ([]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir, ok := c.axes[name]

	return dir, ok
}

// Reference returns an object the document references, by role.
func (c *CollectProcedure) Reference(role string) (hwobj.Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	obj, ok := c.refs[role]

	return obj, ok
}

// CurrentValues fills the dialog's parameters from the live axes, falling
// back to the schema defaults.
func (c *CollectProcedure) CurrentValues() map[string]any {
	c.mu.RLock()
	dialog := c.dialog
	motors := c.motors
	c.mu.RUnlock()

	if dialog == nil {
		return nil
	}

	return dialog.Schema.Values(func(key string) (any, bool) {
		m, ok := motors[key]
		if !ok {
			return nil, false
		}

		v, ok := m.Value()

		return v, ok
	})
}

// Validate checks a proposed parameter set against the dialog schema and,
// for parameters naming a referenced axis, against that axis's travel
// limits. It returns the typed parameter set with defaults filled in.
func (c *CollectProcedure) Validate(proposed map[string]any) (map[string]any, error) {
	c.mu.RLock()
	dialog := c.dialog
	motors := c.motors
	c.mu.RUnlock()

	if dialog == nil {
		return nil, hwerr.NewConfigurationError(c.Role(), "no parameter dialog loaded", nil)
	}

	applied, err := dialog.Schema.Apply(proposed)
	if err != nil {
		return nil, err
	}

	for key, value := range applied {
		m, ok := motors[key]
		if !ok {
			continue
		}

		v, ok := numeric(value)
		if !ok {
			continue
		}

		if err := m.ValidateValue(v); err != nil {
			return nil, err
		}
	}

	return applied, nil
}

// Prepare validates the parameter set and drives every axis-valued parameter
// to its target, waiting for each axis to settle. The procedure reports BUSY
// while axes move and returns to READY either way; a failed move surfaces as
// the returned error with the failing axis left in its own state.
func (c *CollectProcedure) Prepare(ctx context.Context, proposed map[string]any, timeout time.Duration) (map[string]any, error) {
	applied, err := c.Validate(proposed)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	motors := c.motors
	c.mu.RUnlock()

	var moves []string

	for key := range applied {
		if _, ok := motors[key]; !ok {
			continue
		}

		if _, ok := numeric(applied[key]); !ok {
			continue
		}

		moves = append(moves, key)
	}

	sort.Strings(moves)

	if len(moves) == 0 {
		return applied, nil
	}

	if err := c.UpdateState(ctx, hwobj.StateBusy); err != nil {
		return nil, err
	}

	for _, key := range moves {
		v, _ := numeric(applied[key])

		if err := motors[key].SetValue(ctx, v, 0); err != nil {
			_ = c.UpdateState(ctx, hwobj.StateReady)

			return nil, err
		}
	}

	for _, key := range moves {
		if err := motors[key].WaitReady(ctx, timeout); err != nil {
			_ = c.UpdateState(ctx, hwobj.StateReady)

			return nil, err
		}
	}

	if err := c.UpdateState(ctx, hwobj.StateReady); err != nil {
		return nil, err
	}

	return applied, nil
}
