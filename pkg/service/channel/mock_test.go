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
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/service/channel"
)

var _ = Describe("Simulator", func() {
	var (
		sim *channel.Simulator
		ctx context.Context
	)

	BeforeEach(func() {
		sim = channel.NewSimulator()
		ctx = context.Background()
	})

	mustChannel := func(name, address string) channel.Channel {
		ch, err := sim.Channel(name, address)
		Expect(err).NotTo(HaveOccurred())

		return ch
	}

	Describe("GetValue", func() {
		It("returns the seeded point value", func() {
			sim.SetPoint("omega/position", 10.0)
			ch := mustChannel("position", "omega/position")
			defer ch.Close()

			value, err := ch.GetValue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(10.0))
		})

		It("returns scripted readings in order, then sticks to the last one", func() {
			sim.ScriptPoint("mach/current", 200.1, 199.9)
			ch := mustChannel("current", "mach/current")
			defer ch.Close()

			first, err := ch.GetValue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(Equal(200.1))

			second, err := ch.GetValue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(199.9))

			third, err := ch.GetValue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(third).To(Equal(199.9))
		})

		It("fails while a fault is injected and recovers once cleared", func() {
			faultErr := errors.New("axis controller offline")
			sim.SetPoint("omega/position", 10.0)
			sim.FailPoint("omega/position", faultErr)
			ch := mustChannel("position", "omega/position")
			defer ch.Close()

			_, err := ch.GetValue(ctx)
			var commErr *hwerr.CommunicationError
			Expect(errors.As(err, &commErr)).To(BeTrue())
			Expect(commErr.Channel).To(Equal("position"))
			Expect(errors.Is(err, faultErr)).To(BeTrue())

			sim.FailPoint("omega/position", nil)

			value, err := ch.GetValue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(10.0))
		})
	})

	Describe("SetValue", func() {
		It("applies the value immediately when no ramp is configured", func() {
			sim.SetPoint("shutter/state", "CLOSED")
			ch := mustChannel("state", "shutter/state")
			defer ch.Close()

			updates := ch.Subscribe()
			Expect(ch.SetValue(ctx, "OPEN")).To(Succeed())

			value, err := ch.GetValue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal("OPEN"))
			Eventually(updates).Should(Receive(Equal(channel.Update{Value: "OPEN"})))
		})

		It("ramps numeric values to the target, emitting an update per step", func() {
			sim.WithRamp(4, 2*time.Millisecond)
			sim.SetPoint("omega/position", 0.0)
			ch := mustChannel("position", "omega/position")
			defer ch.Close()

			updates := ch.Subscribe()
			Expect(ch.SetValue(ctx, 8.0)).To(Succeed())

			var seen []float64
			Eventually(func() []float64 {
				for {
					select {
					case u := <-updates:
						seen = append(seen, u.Value.(float64))
					default:
						return seen
					}
				}
			}).Should(Equal([]float64{2, 4, 6, 8}))
		})

		It("returns before the motion completes", func() {
			sim.WithRamp(10, 50*time.Millisecond)
			sim.SetPoint("omega/position", 0.0)
			ch := mustChannel("position", "omega/position")
			defer ch.Close()

			Expect(ch.SetValue(ctx, 8.0)).To(Succeed())

			value, err := ch.GetValue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(BeNumerically("<", 8.0))

			Eventually(func() (any, error) {
				return ch.GetValue(ctx)
			}, "2s").Should(Equal(8.0))
		})

		It("redirects an in-flight ramp when a new target arrives", func() {
			sim.WithRamp(10, 10*time.Millisecond)
			sim.SetPoint("omega/position", 0.0)
			ch := mustChannel("position", "omega/position")
			defer ch.Close()

			Expect(ch.SetValue(ctx, 100.0)).To(Succeed())
			time.Sleep(25 * time.Millisecond)
			Expect(ch.SetValue(ctx, 1.0)).To(Succeed())

			Eventually(func() (any, error) {
				return ch.GetValue(ctx)
			}, "2s").Should(Equal(1.0))
		})
	})

	Describe("Subscribe", func() {
		It("closes the update stream when the channel closes", func() {
			ch := mustChannel("position", "omega/position")
			updates := ch.Subscribe()

			ch.Close()
			Eventually(updates).Should(BeClosed())
		})
	})

	Describe("fault and latency injection", func() {
		It("honours context cancellation during the configured latency", func() {
			sim.WithLatency(100 * time.Millisecond)
			sim.SetPoint("omega/position", 10.0)
			ch := mustChannel("position", "omega/position")
			defer ch.Close()

			timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()

			_, err := ch.GetValue(timeoutCtx)
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})

		It("fails every operation at failure rate 1.0", func() {
			sim.WithFailureRate(1.0)
			sim.SetPoint("omega/position", 10.0)
			ch := mustChannel("position", "omega/position")
			defer ch.Close()

			_, err := ch.GetValue(ctx)
			Expect(errors.Is(err, channel.ErrSimulatedFailure)).To(BeTrue())
			Expect(ch.SetValue(ctx, 20.0)).NotTo(Succeed())
		})
	})

	Describe("commands", func() {
		It("invokes the installed handler with the call arguments", func() {
			sim.OnCommand("omega/home", func(args ...any) (any, error) {
				return "homed", nil
			})

			cmd, err := sim.Command("home", "omega/home")
			Expect(err).NotTo(HaveOccurred())

			result, err := cmd.Execute(ctx, 1.5, "fast")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal("homed"))
			Expect(sim.Invocations("omega/home")).To(Equal([][]any{{1.5, "fast"}}))
		})

		It("records executions even without a handler", func() {
			cmd, err := sim.Command("stop", "omega/stop")
			Expect(err).NotTo(HaveOccurred())

			result, err := cmd.Execute(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(BeNil())
			Expect(sim.Invocations("omega/stop")).To(HaveLen(1))
		})
	})
})
