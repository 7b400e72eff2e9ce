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

package objects_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/beamline-hub/blh-core/pkg/hwobj/objects"
	"github.com/beamline-hub/blh-core/pkg/registry"
	"github.com/beamline-hub/blh-core/pkg/service/filesystem"
	"github.com/beamline-hub/blh-core/pkg/service/hostmonitor"
)

var _ = Describe("RegisterAll", func() {
	It("registers every built-in class", func() {
		reg := registry.New()
		hub, _ := newSimHub()

		Expect(objects.RegisterAll(reg, objects.Services{
			Hub:  hub,
			Host: hostmonitor.NewMockService(),
			FS:   filesystem.NewMockFileSystem(),
		})).To(Succeed())

		Expect(reg.Classes()).To(Equal([]string{
			objects.ClassBeamlineRoot,
			objects.ClassCollectProcedure,
			objects.ClassDetectorDistance,
			objects.ClassHostMonitor,
			objects.ClassMockMotor,
			objects.ClassShutter,
		}))
	})

	It("requires a channel hub", func() {
		Expect(objects.RegisterAll(registry.New(), objects.Services{})).NotTo(Succeed())
	})

	It("builds objects through the registry", func() {
		reg := registry.New()
		hub, _ := newSimHub()

		Expect(objects.RegisterAll(reg, objects.Services{
			Hub:  hub,
			Host: hostmonitor.NewMockService(),
			FS:   filesystem.NewMockFileSystem(),
		})).To(Succeed())

		factory, err := reg.Resolve(objects.ClassMockMotor)
		Expect(err).NotTo(HaveOccurred())

		obj, err := factory("omega", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(obj.Role()).To(Equal("omega"))
		Expect(obj.ClassName()).To(Equal(objects.ClassMockMotor))
	})
})
