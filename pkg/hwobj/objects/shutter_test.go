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

var _ = Describe("Shutter", func() {
	var (
		ctx context.Context
		hub *channel.Hub
		sim *channel.Simulator
	)

	BeforeEach(func() {
		ctx = context.Background()
		hub, sim = newSimHub()
	})

	It("comes up at the seeded default position", func() {
		doc := &config.Document{Properties: map[string]any{"default_position": "CLOSED"}}

		shutter := objects.NewShutter(hub, "safety_shutter", doc)
		Expect(shutter.Init(ctx, nil)).To(Succeed())

		Expect(shutter.State()).To(Equal(hwobj.StateReady))
		Expect(shutter.Position()).To(Equal(objects.PositionClosed))
		Expect(shutter.IsOpen()).To(BeFalse())
	})

	It("opens and closes", func() {
		doc := &config.Document{Properties: map[string]any{"default_position": "CLOSED"}}

		shutter := objects.NewShutter(hub, "safety_shutter", doc)
		Expect(shutter.Init(ctx, nil)).To(Succeed())

		Expect(shutter.Open(ctx, time.Second)).To(Succeed())
		Expect(shutter.IsOpen()).To(BeTrue())

		point, ok := sim.Point("safety_shutter/state")
		Expect(ok).To(BeTrue())
		Expect(point).To(Equal(1))

		Expect(shutter.Close(ctx, time.Second)).To(Succeed())
		Expect(shutter.IsOpen()).To(BeFalse())
		Expect(shutter.Position()).To(Equal(objects.PositionClosed))
	})

	It("takes its positions from the document", func() {
		doc := &config.Document{Properties: map[string]any{
			"positions":        map[string]any{"IN": 0, "OUT": 1},
			"default_position": "IN",
		}}

		shutter := objects.NewShutter(hub, "beamstop", doc)
		Expect(shutter.Init(ctx, nil)).To(Succeed())

		Expect(shutter.Positions()).To(Equal([]string{"IN", "OUT"}))
		Expect(shutter.Position()).To(Equal("IN"))

		Expect(shutter.SetPosition(ctx, "OUT", time.Second)).To(Succeed())
		Expect(shutter.Position()).To(Equal("OUT"))

		Expect(hwerr.IsInvalidValue(shutter.Open(ctx, 0))).To(BeTrue())
	})

	It("aborts through the bound command", func() {
		doc := &config.Document{
			Properties: map[string]any{"default_position": "OPEN"},
			Commands: []config.BindingSpec{
				{Protocol: channel.ProtocolMock, Name: "abort", Address: "safety_shutter/abort"},
			},
		}

		shutter := objects.NewShutter(hub, "safety_shutter", doc)
		Expect(shutter.Init(ctx, nil)).To(Succeed())

		Expect(shutter.Abort(ctx)).To(Succeed())
		Expect(sim.Invocations("safety_shutter/abort")).To(HaveLen(1))
	})

	It("rejects an unknown default position", func() {
		doc := &config.Document{Properties: map[string]any{"default_position": "HALF"}}

		shutter := objects.NewShutter(hub, "safety_shutter", doc)
		Expect(hwerr.IsInvalidValue(shutter.Init(ctx, nil))).To(BeTrue())
	})
})
