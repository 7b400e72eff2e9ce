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

// Package objects holds the concrete hardware object classes the loader can
// construct: motors, shutters, the detector distance axis, the host monitor,
// the beamline container root and the collection procedure. Each class embeds
// one of the pkg/hwobj contracts and resolves its channel bindings through
// the channel hub during Init.
package objects

import (
	"errors"

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
	"github.com/beamline-hub/blh-core/pkg/registry"
	"github.com/beamline-hub/blh-core/pkg/service/channel"
	"github.com/beamline-hub/blh-core/pkg/service/filesystem"
	"github.com/beamline-hub/blh-core/pkg/service/hostmonitor"
)

// Class identifiers as they appear in configuration documents.
const (
	ClassMockMotor        = "MockMotor"
	ClassShutter          = "Shutter"
	ClassDetectorDistance = "DetectorDistance"
	ClassHostMonitor      = "HostMonitor"
	ClassBeamlineRoot     = "BeamlineRoot"
	ClassCollectProcedure = "CollectProcedure"
)

// Services bundles the shared infrastructure the concrete classes draw on.
// Hub is required; Host and FS fall back to their default implementations.
type Services struct {
	Hub  *channel.Hub
	Host hostmonitor.Service
	FS   filesystem.Service
}

// RegisterAll registers every built-in class on the registry. The loader
// calls this once at startup before reading any documents.
func RegisterAll(reg *registry.Registry, svcs Services) error {
	if svcs.Hub == nil {
		return errors.New("objects: a channel hub is required")
	}

	if svcs.Host == nil {
		svcs.Host = hostmonitor.NewHostMonitorService()
	}

	if svcs.FS == nil {
		svcs.FS = filesystem.NewDefaultService()
	}

	register := map[string]registry.Factory{
		ClassMockMotor: func(role string, doc *config.Document) (hwobj.Object, error) {
			return NewMockMotor(svcs.Hub, role, doc), nil
		},
		ClassShutter: func(role string, doc *config.Document) (hwobj.Object, error) {
			return NewShutter(svcs.Hub, role, doc), nil
		},
		ClassDetectorDistance: func(role string, doc *config.Document) (hwobj.Object, error) {
			return NewDetectorDistance(svcs.Hub, role, doc), nil
		},
		ClassHostMonitor: func(role string, doc *config.Document) (hwobj.Object, error) {
			return NewHostMonitor(svcs.Host, role, doc), nil
		},
		ClassBeamlineRoot: func(role string, doc *config.Document) (hwobj.Object, error) {
			return NewBeamlineRoot(role, doc), nil
		},
		ClassCollectProcedure: func(role string, doc *config.Document) (hwobj.Object, error) {
			return NewCollectProcedure(svcs.FS, role, doc), nil
		},
	}

	for class, factory := range register {
		if err := reg.Register(class, factory); err != nil {
			return err
		}
	}

	return nil
}

// channelBinding returns the named binding from the document, or a mock
// binding at the fallback address when the document declares none. Legacy
// documents for simulated hardware often omit bindings entirely.
func channelBinding(doc *config.Document, name, fallbackAddress string) config.BindingSpec {
	if doc != nil {
		if spec, ok := doc.Channel(name); ok {
			return spec
		}
	}

	return config.BindingSpec{Protocol: channel.ProtocolMock, Name: name, Address: fallbackAddress}
}

// limitsProperty reads a two-element numeric list property such as
// "limits: [0, 360]".
func limitsProperty(doc *config.Document, key string) (low, high float64, ok bool) {
	if doc == nil {
		return 0, 0, false
	}

	raw, found := doc.Property(key)
	if !found {
		return 0, 0, false
	}

	list, isList := raw.([]any)
	if !isList || len(list) != 2 {
		return 0, 0, false
	}

	low, lowOK := numeric(list[0])

	high, highOK := numeric(list[1])
	if !lowOK || !highOK {
		return 0, 0, false
	}

	return low, high, true
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}

	return 0, false
}
