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
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
	"github.com/beamline-hub/blh-core/pkg/hwobj/objects"
	"github.com/beamline-hub/blh-core/pkg/service/channel"
)

var _ = Describe("DetectorDistance", func() {
	var (
		ctx context.Context
		hub *channel.Hub
		sim *channel.Simulator
	)

	BeforeEach(func() {
		ctx = context.Background()
		hub, sim = newSimHub()
	})

	It("applies the standard travel range by default", func() {
		dist := objects.NewDetectorDistance(hub, "dtox", nil)
		Expect(dist.Init(ctx, nil)).To(Succeed())

		low, high := dist.Limits()
		Expect(low).To(Equal(1.0))
		Expect(high).To(Equal(2000.0))
		Expect(dist.Unit()).To(Equal("mm"))
		Expect(dist.State()).To(Equal(hwobj.StateReady))
	})

	It("reads the starting distance and honors document limits", func() {
		sim.SetPoint("det/distance", 300.0)

		doc := &config.Document{
			Channels: []config.BindingSpec{
				{Protocol: channel.ProtocolMock, Name: "distance", Address: "det/distance"},
			},
			Properties: map[string]any{
				"username": "Detector distance",
				"unit":     "mm",
				"limits":   []any{50.0, 1200.0},
			},
		}

		dist := objects.NewDetectorDistance(hub, "dtox", doc)
		Expect(dist.Init(ctx, nil)).To(Succeed())

		value, ok := dist.Value()
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal(300.0))

		Expect(hwerr.IsInvalidValue(dist.SetValue(ctx, 2000.0, 0))).To(BeTrue())

		Expect(dist.SetValue(ctx, 500.0, time.Second)).To(Succeed())

		value, _ = dist.Value()
		Expect(value).To(Equal(500.0))
	})

	It("mirrors the hardware moving flag into BUSY and the specific state", func() {
		sim.SetPoint("det/distance", 300.0)

		doc := &config.Document{
			Channels: []config.BindingSpec{
				{Protocol: channel.ProtocolMock, Name: "distance", Address: "det/distance"},
				{Protocol: channel.ProtocolMock, Name: "distance_is_moving", Address: "det/moving"},
			},
		}

		dist := objects.NewDetectorDistance(hub, "dtox", doc)
		Expect(dist.Init(ctx, nil)).To(Succeed())
		Expect(dist.State()).To(Equal(hwobj.StateReady))

		moving, err := sim.Channel("moving", "det/moving")
		Expect(err).NotTo(HaveOccurred())

		Expect(moving.SetValue(ctx, true)).To(Succeed())
		Eventually(dist.State, "1s", "5ms").Should(Equal(hwobj.StateBusy))
		Eventually(dist.SpecificState, "1s", "5ms").Should(Equal(objects.SpecificStateMoving))

		Expect(moving.SetValue(ctx, false)).To(Succeed())
		Eventually(dist.State, "1s", "5ms").Should(Equal(hwobj.StateReady))
		Eventually(dist.SpecificState, "1s", "5ms").Should(Equal(""))
	})

	It("resolves the detector reference from the graph", func() {
		detector := hwobj.NewBase("detector", "MockDetector", nil)

		doc := &config.Document{
			Channels: []config.BindingSpec{
				{Protocol: channel.ProtocolMock, Name: "distance", Address: "det/distance"},
			},
		}

		dist := objects.NewDetectorDistance(hub, "dtox", doc)
		Expect(dist.Init(ctx, depsMap{"detector": detector})).To(Succeed())

		Expect(dist.Detector()).To(BeIdenticalTo(detector))
	})

	It("releases the moving channel on shutdown", func() {
		doc := &config.Document{
			Channels: []config.BindingSpec{
				{Protocol: channel.ProtocolMock, Name: "distance", Address: "det/distance"},
				{Protocol: channel.ProtocolMock, Name: "distance_is_moving", Address: "det/moving"},
			},
		}

		dist := objects.NewDetectorDistance(hub, "dtox", doc)
		Expect(dist.Init(ctx, nil)).To(Succeed())

		Expect(dist.Shutdown(ctx)).To(Succeed())
		Expect(dist.State()).To(Equal(hwobj.StateOff))
	})
})
