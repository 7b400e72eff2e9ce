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

package loader_test

import (
	"context"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
	"github.com/beamline-hub/blh-core/pkg/loader"
	"github.com/beamline-hub/blh-core/pkg/registry"
	"github.com/beamline-hub/blh-core/pkg/service/filesystem"
)

type simpleAxis struct {
	*hwobj.Actuator
	bounded bool
}

func (a *simpleAxis) Init(ctx context.Context, deps hwobj.Deps) error {
	if a.bounded {
		a.SetLimits(0, 180)
		a.UpdateValue(ctx, 42.5)
	} else {
		a.UpdateValue(ctx, 7.0)
	}

	return a.UpdateState(ctx, hwobj.StateReady)
}

type simpleValve struct {
	*hwobj.NState
}

func (v *simpleValve) Init(ctx context.Context, deps hwobj.Deps) error {
	v.DefinePositions(map[string]any{"OPEN": 1, "CLOSED": 0})
	v.UpdateWireValue(ctx, 0)

	return v.UpdateState(ctx, hwobj.StateReady)
}

func snapshotRegistry() *registry.Registry {
	reg := registry.New()

	Expect(reg.Register("Node", func(role string, doc *config.Document) (hwobj.Object, error) {
		return hwobj.NewBase(role, "Node", doc), nil
	})).To(Succeed())

	Expect(reg.Register("Axis", func(role string, doc *config.Document) (hwobj.Object, error) {
		return &simpleAxis{Actuator: hwobj.NewActuator(hwobj.NewBase(role, "Axis", doc)), bounded: true}, nil
	})).To(Succeed())

	Expect(reg.Register("FreeAxis", func(role string, doc *config.Document) (hwobj.Object, error) {
		return &simpleAxis{Actuator: hwobj.NewActuator(hwobj.NewBase(role, "FreeAxis", doc))}, nil
	})).To(Succeed())

	Expect(reg.Register("Valve", func(role string, doc *config.Document) (hwobj.Object, error) {
		return &simpleValve{NState: hwobj.NewNState(hwobj.NewBase(role, "Valve", doc))}, nil
	})).To(Succeed())

	return reg
}

var _ = Describe("Graph", func() {
	var (
		ctx   context.Context
		graph *loader.Graph
	)

	statusFor := func(snap []loader.ObjectStatus, role string) loader.ObjectStatus {
		for _, st := range snap {
			if st.Role == role {
				return st
			}
		}

		Fail("no status for role " + role)

		return loader.ObjectStatus{}
	}

	BeforeEach(func() {
		ctx = context.Background()

		fs := filesystem.NewMockFileSystem().
			WithFile("/etc/blh/objects/beamline.yaml", []byte(`_initialise_class:
  class: Node
_objects:
  axis: axis.yaml
  free_axis: free.yaml
  valve: valve.yaml
`)).
			WithFile("/etc/blh/objects/axis.yaml", []byte("_initialise_class:\n  class: Axis\n")).
			WithFile("/etc/blh/objects/free.yaml", []byte("_initialise_class:\n  class: FreeAxis\n")).
			WithFile("/etc/blh/objects/valve.yaml", []byte("_initialise_class:\n  class: Valve\n"))

		var err error
		graph, err = loader.New(snapshotRegistry(), fs).Load(ctx, "/etc/blh/objects/beamline.yaml")
		Expect(err).NotTo(HaveOccurred())
	})

	It("captures state, value, limits and position per role", func() {
		snap := graph.Snapshot()
		Expect(snap).To(HaveLen(4))
		Expect(snap[0].Role).To(Equal("beamline"))

		// The plain container never saw a status update.
		Expect(snap[0].State).To(Equal("UNKNOWN"))
		Expect(snap[0].Value).To(BeNil())

		axis := statusFor(snap, "axis")
		Expect(axis.Class).To(Equal("Axis"))
		Expect(axis.State).To(Equal("READY"))
		Expect(axis.Value).To(HaveValue(Equal(42.5)))
		Expect(axis.Limits).To(Equal([]float64{0, 180}))

		free := statusFor(snap, "free_axis")
		Expect(free.Value).To(HaveValue(Equal(7.0)))
		Expect(free.Limits).To(BeNil())

		valve := statusFor(snap, "valve")
		Expect(valve.Position).To(Equal("CLOSED"))
		Expect(valve.Value).To(BeNil())
	})

	It("produces a JSON-encodable snapshot even with unbounded limits", func() {
		data, err := json.Marshal(graph.Snapshot())
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"role":"axis"`))
		Expect(string(data)).To(ContainSubstring(`"position":"CLOSED"`))
	})

	It("shuts every object down to OFF", func() {
		Expect(graph.Shutdown(ctx)).To(Succeed())

		for _, role := range graph.Roles() {
			obj, ok := graph.ByRole(role)
			Expect(ok).To(BeTrue())
			Expect(obj.State()).To(Equal(hwobj.StateOff), "role %s", role)
		}
	})
})
