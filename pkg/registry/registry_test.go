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

package registry_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
	"github.com/beamline-hub/blh-core/pkg/registry"
)

func motorFactory(role string, doc *config.Document) (hwobj.Object, error) {
	return hwobj.NewActuator(hwobj.NewBase(role, "MockMotor", doc)), nil
}

func shutterFactory(role string, doc *config.Document) (hwobj.Object, error) {
	return hwobj.NewNState(hwobj.NewBase(role, "Shutter", doc)), nil
}

var _ = Describe("Registry", func() {
	var reg *registry.Registry

	BeforeEach(func() {
		reg = registry.New()
	})

	Describe("Register", func() {
		It("accepts distinct classes", func() {
			Expect(reg.Register("MockMotor", motorFactory)).To(Succeed())
			Expect(reg.Register("Shutter", shutterFactory)).To(Succeed())
			Expect(reg.Classes()).To(Equal([]string{"MockMotor", "Shutter"}))
		})

		It("rejects a duplicate class", func() {
			Expect(reg.Register("MockMotor", motorFactory)).To(Succeed())

			err := reg.Register("MockMotor", shutterFactory)
			Expect(err).To(MatchError(ContainSubstring(`already registered for class "MockMotor"`)))
		})

		It("rejects an empty class and a nil factory", func() {
			Expect(reg.Register("", motorFactory)).NotTo(Succeed())
			Expect(reg.Register("MockMotor", nil)).NotTo(Succeed())
		})
	})

	Describe("Resolve", func() {
		BeforeEach(func() {
			Expect(reg.Register("MockMotor", motorFactory)).To(Succeed())
		})

		It("returns the factory for a registered class", func() {
			factory, err := reg.Resolve("MockMotor")
			Expect(err).NotTo(HaveOccurred())

			obj, err := factory("omega", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(obj.Role()).To(Equal("omega"))
			Expect(obj.ClassName()).To(Equal("MockMotor"))
		})

		It("falls back to the last segment of a dotted identifier", func() {
			factory, err := reg.Resolve("mxcubecore.HardwareObjects.mockup.MockMotor")
			Expect(err).NotTo(HaveOccurred())
			Expect(factory).NotTo(BeNil())
		})

		It("reports an unknown class by identifier", func() {
			_, err := reg.Resolve("Diffractometer")
			Expect(hwerr.IsUnknownType(err)).To(BeTrue())

			var unknownErr *hwerr.UnknownTypeError
			Expect(errors.As(err, &unknownErr)).To(BeTrue())
			Expect(unknownErr.Class).To(Equal("Diffractometer"))
			Expect(err.Error()).To(Equal(`unknown hardware object class "Diffractometer"`))
		})

		It("does not resolve a dotted identifier whose last segment is unknown", func() {
			_, err := reg.Resolve("mxcubecore.HardwareObjects.Diffractometer")
			Expect(hwerr.IsUnknownType(err)).To(BeTrue())
		})
	})

	Describe("Known", func() {
		It("mirrors Resolve", func() {
			Expect(reg.Known("MockMotor")).To(BeFalse())

			Expect(reg.Register("MockMotor", motorFactory)).To(Succeed())
			Expect(reg.Known("MockMotor")).To(BeTrue())
			Expect(reg.Known("a.b.MockMotor")).To(BeTrue())
		})
	})
})
