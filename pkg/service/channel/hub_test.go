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

package channel_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/service/channel"
)

var _ = Describe("Hub", func() {
	var (
		hub *channel.Hub
		sim *channel.Simulator
		ctx context.Context
	)

	BeforeEach(func() {
		hub = channel.NewHub()
		sim = channel.NewSimulator()
		ctx = context.Background()
	})

	It("routes a binding to the adapter for its protocol", func() {
		Expect(hub.RegisterAdapter(sim)).To(Succeed())
		sim.SetPoint("omega/position", 90.0)

		ch, err := hub.Channel(config.BindingSpec{Protocol: "mock", Name: "position", Address: "omega/position"})
		Expect(err).NotTo(HaveOccurred())
		defer ch.Close()

		value, err := ch.GetValue(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(value).To(Equal(90.0))
	})

	It("matches protocols case-insensitively", func() {
		Expect(hub.RegisterAdapter(sim)).To(Succeed())

		_, err := hub.Channel(config.BindingSpec{Protocol: "Mock", Name: "state", Address: "shutter/state"})
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects a second adapter for the same protocol", func() {
		Expect(hub.RegisterAdapter(sim)).To(Succeed())

		err := hub.RegisterAdapter(channel.NewSimulator())
		Expect(err).To(MatchError(ContainSubstring(`already registered for protocol "mock"`)))
	})

	It("reports an unknown protocol as a configuration error", func() {
		Expect(hub.RegisterAdapter(sim)).To(Succeed())

		_, err := hub.Channel(config.BindingSpec{Protocol: "tango", Name: "position", Address: "id13/omega/position"})
		Expect(err).To(HaveOccurred())
		Expect(hwerr.IsConfiguration(err)).To(BeTrue())
	})

	It("builds commands through the same routing", func() {
		Expect(hub.RegisterAdapter(sim)).To(Succeed())
		sim.OnCommand("shutter/open", func(args ...any) (any, error) {
			return "opened", nil
		})

		cmd, err := hub.Command(config.BindingSpec{Protocol: "mock", Name: "open", Address: "shutter/open"})
		Expect(err).NotTo(HaveOccurred())

		result, err := cmd.Execute(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("opened"))
	})

	It("lists registered protocols", func() {
		Expect(hub.RegisterAdapter(sim)).To(Succeed())
		Expect(hub.RegisterAdapter(channel.NewRestAdapter("http://beamline.local"))).To(Succeed())

		Expect(hub.Protocols()).To(ConsistOf("mock", "rest"))
	})

	Context("in simulation mode", func() {
		BeforeEach(func() {
			hub.WithSimulation(true)
		})

		It("routes every protocol to the mock adapter", func() {
			Expect(hub.RegisterAdapter(sim)).To(Succeed())
			sim.SetPoint("/motor/omega/position", 12.5)

			ch, err := hub.Channel(config.BindingSpec{Protocol: "rest", Name: "position", Address: "/motor/omega/position"})
			Expect(err).NotTo(HaveOccurred())
			defer ch.Close()

			value, err := ch.GetValue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(12.5))
		})

		It("fails when no mock adapter is registered", func() {
			_, err := hub.Channel(config.BindingSpec{Protocol: "rest", Name: "position", Address: "/motor/omega/position"})
			Expect(hwerr.IsConfiguration(err)).To(BeTrue())
		})
	})
})
