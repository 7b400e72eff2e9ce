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
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
	"github.com/beamline-hub/blh-core/pkg/loader"
	"github.com/beamline-hub/blh-core/pkg/registry"
	"github.com/beamline-hub/blh-core/pkg/service/filesystem"
)

// recorder observes what the loader does to the test objects: construction
// and init order, which roles were visible through deps at init time, and
// the shutdown sequence.
type recorder struct {
	constructions []string
	inits         []string
	shutdowns     []string
	visible       map[string][]string
	watch         []string
}

func newRecorder(watch ...string) *recorder {
	return &recorder{visible: make(map[string][]string), watch: watch}
}

type graphNode struct {
	*hwobj.Base
	rec *recorder
}

func (n *graphNode) Init(ctx context.Context, deps hwobj.Deps) error {
	n.rec.inits = append(n.rec.inits, n.Role())

	for _, role := range n.rec.watch {
		if _, ok := deps.ByRole(role); ok {
			n.rec.visible[n.Role()] = append(n.rec.visible[n.Role()], role)
		}
	}

	return n.UpdateState(ctx, hwobj.StateReady)
}

func (n *graphNode) Shutdown(ctx context.Context) error {
	n.rec.shutdowns = append(n.rec.shutdowns, n.Role())

	return n.Base.Shutdown(ctx)
}

func nodeRegistry(rec *recorder) *registry.Registry {
	reg := registry.New()

	Expect(reg.Register("Node", func(role string, doc *config.Document) (hwobj.Object, error) {
		rec.constructions = append(rec.constructions, role)

		return &graphNode{Base: hwobj.NewBase(role, "Node", doc), rec: rec}, nil
	})).To(Succeed())

	return reg
}

const nodeDoc = `_initialise_class:
  class: Node
`

var _ = Describe("Loader", func() {
	var (
		ctx context.Context
		fs  *filesystem.MockFileSystem
		rec *recorder
		ld  *loader.Loader
	)

	BeforeEach(func() {
		ctx = context.Background()
		fs = filesystem.NewMockFileSystem()
		rec = newRecorder("a", "b", "x", "beamline")
		ld = loader.New(nodeRegistry(rec), fs)
	})

	It("builds one live object per declared role, in declaration order", func() {
		fs.WithFile("/etc/blh/objects/beamline.yaml", []byte(`_initialise_class:
  class: Node
_objects:
  a: fileA.yaml
  b: fileB.yaml
energy: 12.7
`)).
			WithFile("/etc/blh/objects/fileA.yaml", []byte(nodeDoc)).
			WithFile("/etc/blh/objects/fileB.yaml", []byte(`_initialise_class:
  class: Node
_objects:
  a: a
`))

		graph, err := ld.Load(ctx, "/etc/blh/objects/beamline.yaml")
		Expect(err).NotTo(HaveOccurred())

		Expect(graph.Roles()).To(Equal([]string{"beamline", "a", "b"}))
		Expect(graph.Len()).To(Equal(3))
		Expect(graph.RootRole()).To(Equal("beamline"))
		Expect(graph.Root()).NotTo(BeNil())
		Expect(graph.SessionID()).NotTo(BeEmpty())

		obj, ok := graph.ByRole("a")
		Expect(ok).To(BeTrue())
		Expect(obj.ClassName()).To(Equal("Node"))
		Expect(obj.State()).To(Equal(hwobj.StateReady))

		Expect(rec.constructions).To(Equal([]string{"beamline", "a", "b"}))

		// Children initialize before the document that declared them, in
		// declaration order, and a later sibling sees an earlier one.
		Expect(rec.inits).To(Equal([]string{"a", "b", "beamline"}))
		Expect(rec.visible["b"]).To(ContainElement("a"))
	})

	It("fails a forward reference and shuts the partial graph down", func() {
		fs.WithFile("/etc/blh/objects/beamline.yaml", []byte(`_initialise_class:
  class: Node
_objects:
  a: fileA.yaml
  b: fileB.yaml
`)).
			WithFile("/etc/blh/objects/fileA.yaml", []byte(`_initialise_class:
  class: Node
_objects:
  b: b
`)).
			WithFile("/etc/blh/objects/fileB.yaml", []byte(nodeDoc))

		graph, err := ld.Load(ctx, "/etc/blh/objects/beamline.yaml")
		Expect(graph).To(BeNil())
		Expect(hwerr.IsUnresolvedReference(err)).To(BeTrue())

		var unresolved *hwerr.UnresolvedReferenceError
		Expect(errors.As(err, &unresolved)).To(BeTrue())
		Expect(unresolved.Reference).To(Equal("b"))
		Expect(unresolved.Document).To(Equal("/etc/blh/objects/fileA.yaml"))

		// Whatever was constructed before the failure is torn down again,
		// most recent first.
		Expect(rec.shutdowns).To(Equal([]string{"a", "beamline"}))
	})

	It("rejects a role declared twice in one document", func() {
		fs.WithFile("/etc/blh/objects/beamline.yaml", []byte(`_initialise_class:
  class: Node
_objects:
  a: fileA.yaml
  a: fileA.yaml
`)).
			WithFile("/etc/blh/objects/fileA.yaml", []byte(nodeDoc))

		graph, err := ld.Load(ctx, "/etc/blh/objects/beamline.yaml")
		Expect(graph).To(BeNil())
		Expect(hwerr.IsDuplicateRole(err)).To(BeTrue())

		var dup *hwerr.DuplicateRoleError
		Expect(errors.As(err, &dup)).To(BeTrue())
		Expect(dup.Role).To(Equal("a"))

		Expect(rec.constructions).To(BeEmpty())
	})

	It("rejects the same role bound to two different documents", func() {
		fs.WithFile("/etc/blh/objects/beamline.yaml", []byte(`_initialise_class:
  class: Node
_objects:
  a: fileA.yaml
  b: fileB.yaml
`)).
			WithFile("/etc/blh/objects/fileA.yaml", []byte(nodeDoc)).
			WithFile("/etc/blh/objects/fileB.yaml", []byte(`_initialise_class:
  class: Node
_objects:
  a: fileC.yaml
`)).
			WithFile("/etc/blh/objects/fileC.yaml", []byte(nodeDoc))

		_, err := ld.Load(ctx, "/etc/blh/objects/beamline.yaml")
		Expect(hwerr.IsDuplicateRole(err)).To(BeTrue())

		var dup *hwerr.DuplicateRoleError
		Expect(errors.As(err, &dup)).To(BeTrue())
		Expect(dup.Role).To(Equal("a"))
		Expect(dup.Document).To(Equal("/etc/blh/objects/fileB.yaml"))
		Expect(dup.FirstDocument).To(Equal("/etc/blh/objects/fileA.yaml"))
	})

	It("treats a second role naming the same document as an alias", func() {
		fs.WithFile("/etc/blh/objects/beamline.yaml", []byte(`_initialise_class:
  class: Node
_objects:
  omega: axis.yaml
  omega_mirror: axis.yaml
`)).
			WithFile("/etc/blh/objects/axis.yaml", []byte(nodeDoc))

		graph, err := ld.Load(ctx, "/etc/blh/objects/beamline.yaml")
		Expect(err).NotTo(HaveOccurred())

		Expect(graph.Roles()).To(Equal([]string{"beamline", "omega", "omega_mirror"}))

		omega, ok := graph.ByRole("omega")
		Expect(ok).To(BeTrue())
		mirror, ok := graph.ByRole("omega_mirror")
		Expect(ok).To(BeTrue())
		Expect(mirror).To(BeIdenticalTo(omega))

		// One construction, one init, despite two roles.
		Expect(rec.constructions).To(Equal([]string{"beamline", "omega"}))
		Expect(rec.inits).To(Equal([]string{"omega", "beamline"}))

		// And one shutdown.
		Expect(graph.Shutdown(ctx)).To(Succeed())
		Expect(rec.shutdowns).To(Equal([]string{"omega", "beamline"}))
	})

	It("fails an unknown class with the document that named it", func() {
		fs.WithFile("/etc/blh/objects/beamline.yaml", []byte(`_initialise_class:
  class: Node
_objects:
  a: fileA.yaml
`)).
			WithFile("/etc/blh/objects/fileA.yaml", []byte(`_initialise_class:
  class: Cryostream
`))

		_, err := ld.Load(ctx, "/etc/blh/objects/beamline.yaml")
		Expect(hwerr.IsUnknownType(err)).To(BeTrue())

		var unknown *hwerr.UnknownTypeError
		Expect(errors.As(err, &unknown)).To(BeTrue())
		Expect(unknown.Class).To(Equal("Cryostream"))
		Expect(unknown.Document).To(Equal("/etc/blh/objects/fileA.yaml"))
	})

	It("detects document reference cycles", func() {
		fs.WithFile("/etc/blh/objects/beamline.yaml", []byte(`_initialise_class:
  class: Node
_objects:
  x: x.yaml
`)).
			WithFile("/etc/blh/objects/x.yaml", []byte(`_initialise_class:
  class: Node
_objects:
  y: y.yaml
`)).
			WithFile("/etc/blh/objects/y.yaml", []byte(`_initialise_class:
  class: Node
_objects:
  x_again: x.yaml
`))

		_, err := ld.Load(ctx, "/etc/blh/objects/beamline.yaml")
		Expect(hwerr.IsCyclicReference(err)).To(BeTrue())

		var cyclic *hwerr.CyclicReferenceError
		Expect(errors.As(err, &cyclic)).To(BeTrue())
		Expect(cyclic.Chain).To(Equal([]string{
			"/etc/blh/objects/beamline.yaml",
			"/etc/blh/objects/x.yaml",
			"/etc/blh/objects/y.yaml",
			"/etc/blh/objects/x.yaml",
		}))
	})

	It("lets a child reference its ancestor by role", func() {
		fs.WithFile("/etc/blh/objects/beamline.yaml", []byte(`_initialise_class:
  class: Node
_objects:
  x: x.yaml
`)).
			WithFile("/etc/blh/objects/x.yaml", []byte(`_initialise_class:
  class: Node
_objects:
  child: child.yaml
`)).
			WithFile("/etc/blh/objects/child.yaml", []byte(`_initialise_class:
  class: Node
_objects:
  x: x
`))

		_, err := ld.Load(ctx, "/etc/blh/objects/beamline.yaml")
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.inits).To(Equal([]string{"child", "x", "beamline"}))
		Expect(rec.visible["child"]).To(ContainElement("x"))
	})

	It("fails when the root document is missing", func() {
		_, err := ld.Load(ctx, "/etc/blh/objects/nope.yaml")
		Expect(hwerr.IsConfiguration(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("reading document"))
	})

	It("honors context cancellation", func() {
		fs.WithFile("/etc/blh/objects/beamline.yaml", []byte(nodeDoc))

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := ld.Load(cancelled, "/etc/blh/objects/beamline.yaml")
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	})

	It("passes the property sidecar through unchanged", func() {
		source := []byte(`_initialise_class:
  class: Node
energy: 12.7
flux_mode: high
limits:
  - 0
  - 180
shutterless: true
`)
		fs.WithFile("/etc/blh/objects/beamline.yaml", source)

		graph, err := ld.Load(ctx, "/etc/blh/objects/beamline.yaml")
		Expect(err).NotTo(HaveOccurred())

		doc, ok := graph.Document("beamline")
		Expect(ok).To(BeTrue())
		Expect(doc.PropertyKeys).To(Equal([]string{"energy", "flux_mode", "limits", "shutterless"}))

		out, err := doc.MarshalProperties()
		Expect(err).NotTo(HaveOccurred())

		reparsed, err := config.ParseYAML("roundtrip.yaml", out)
		Expect(err).NotTo(HaveOccurred())
		Expect(reparsed.Properties).To(Equal(doc.Properties))
		Expect(reparsed.PropertyKeys).To(Equal(doc.PropertyKeys))
	})
})
