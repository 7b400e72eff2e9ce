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

package hwobj_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
	"github.com/beamline-hub/blh-core/pkg/signal"
)

var _ = Describe("Base", func() {
	var (
		base *hwobj.Base
		ctx  context.Context
	)

	BeforeEach(func() {
		base = hwobj.NewBase("omega", "MockMotor", nil)
		ctx = context.Background()
	})

	It("starts in UNKNOWN until the first status update arrives", func() {
		Expect(base.State()).To(Equal(hwobj.StateUnknown))
		Expect(base.SpecificState()).To(BeEmpty())
	})

	It("exposes its identity", func() {
		Expect(base.Role()).To(Equal("omega"))
		Expect(base.ClassName()).To(Equal("MockMotor"))
	})

	Describe("UpdateState", func() {
		It("announces each change exactly once", func() {
			var (
				mu   sync.Mutex
				seen []hwobj.DeviceState
			)

			base.Emitter().Connect(signal.StateChanged, func(args ...any) {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, args[0].(hwobj.DeviceState))
			})

			Expect(base.UpdateState(ctx, hwobj.StateReady)).To(Succeed())
			Expect(base.UpdateState(ctx, hwobj.StateReady)).To(Succeed())
			Expect(base.UpdateState(ctx, hwobj.StateBusy)).To(Succeed())

			Eventually(func() []hwobj.DeviceState {
				mu.Lock()
				defer mu.Unlock()

				return append([]hwobj.DeviceState(nil), seen...)
			}).Should(Equal([]hwobj.DeviceState{hwobj.StateReady, hwobj.StateBusy}))
		})

		It("permits every cross-state move", func() {
			for _, from := range hwobj.States() {
				for _, to := range hwobj.States() {
					if from == to {
						continue
					}

					Expect(base.UpdateState(ctx, from)).To(Succeed())
					Expect(base.UpdateState(ctx, to)).To(Succeed())
					Expect(base.State()).To(Equal(to))
				}
			}
		})

		It("rejects a value outside the enumeration", func() {
			err := base.UpdateState(ctx, hwobj.DeviceState("EXPLODED"))
			Expect(hwerr.IsInvalidValue(err)).To(BeTrue())
		})

		It("refuses to transition on a cancelled context", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			err := base.UpdateState(cancelled, hwobj.StateReady)
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(base.State()).To(Equal(hwobj.StateUnknown))
		})

		It("runs registered enter-state callbacks", func() {
			entered := make(chan string, 1)
			base.AddCallback("enter_FAULT", func(ctx context.Context, e *fsm.Event) {
				entered <- e.Dst
			})

			Expect(base.UpdateState(ctx, hwobj.StateFault)).To(Succeed())
			Eventually(entered).Should(Receive(Equal("FAULT")))
		})
	})

	Describe("UpdateSpecificState", func() {
		It("announces changes and suppresses repeats", func() {
			var (
				mu   sync.Mutex
				seen []string
			)

			base.Emitter().Connect(signal.SpecificStateChanged, func(args ...any) {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, args[0].(string))
			})

			base.UpdateSpecificState("Moving")
			base.UpdateSpecificState("Moving")
			base.UpdateSpecificState("Ready")

			Eventually(func() []string {
				mu.Lock()
				defer mu.Unlock()

				return append([]string(nil), seen...)
			}).Should(Equal([]string{"Moving", "Ready"}))
			Expect(base.SpecificState()).To(Equal("Ready"))
		})
	})

	Describe("WaitReady", func() {
		It("returns immediately when already READY", func() {
			Expect(base.UpdateState(ctx, hwobj.StateReady)).To(Succeed())

			start := time.Now()
			Expect(base.WaitReady(ctx, time.Second)).To(Succeed())
			Expect(time.Since(start)).To(BeNumerically("<", 100*time.Millisecond))
		})

		It("unblocks when the object becomes READY", func() {
			go func() {
				defer GinkgoRecover()
				time.Sleep(50 * time.Millisecond)
				Expect(base.UpdateState(ctx, hwobj.StateReady)).To(Succeed())
			}()

			Expect(base.WaitReady(ctx, 2*time.Second)).To(Succeed())
		})

		It("fails fast with a FaultError when the object faults", func() {
			go func() {
				defer GinkgoRecover()
				time.Sleep(50 * time.Millisecond)
				Expect(base.UpdateState(ctx, hwobj.StateFault)).To(Succeed())
			}()

			err := base.WaitReady(ctx, 2*time.Second)

			var faultErr *hwerr.FaultError
			Expect(errors.As(err, &faultErr)).To(BeTrue())
			Expect(faultErr.Role).To(Equal("omega"))
			Expect(faultErr.State).To(Equal("FAULT"))
		})

		It("treats OFF as terminal for the wait", func() {
			Expect(base.UpdateState(ctx, hwobj.StateOff)).To(Succeed())

			err := base.WaitReady(ctx, 2*time.Second)
			Expect(hwerr.IsFault(err)).To(BeTrue())
		})

		It("returns a TimeoutError distinguishable from a fault", func() {
			Expect(base.UpdateState(ctx, hwobj.StateBusy)).To(Succeed())

			start := time.Now()
			err := base.WaitReady(ctx, 100*time.Millisecond)
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))

			var timeoutErr *hwerr.TimeoutError
			Expect(errors.As(err, &timeoutErr)).To(BeTrue())
			Expect(hwerr.IsFault(err)).To(BeFalse())
		})

		It("propagates caller cancellation", func() {
			waitCtx, cancel := context.WithCancel(ctx)

			go func() {
				time.Sleep(30 * time.Millisecond)
				cancel()
			}()

			err := base.WaitReady(waitCtx, 5*time.Second)
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		})
	})

	Describe("ReEmitValues", func() {
		It("gives a late subscriber the current state without a transition", func() {
			Expect(base.UpdateState(ctx, hwobj.StateReady)).To(Succeed())

			states := make(chan hwobj.DeviceState, 1)
			base.Emitter().Connect(signal.StateChanged, func(args ...any) {
				select {
				case states <- args[0].(hwobj.DeviceState):
				default:
				}
			})

			base.ReEmitValues()
			Eventually(states).Should(Receive(Equal(hwobj.StateReady)))
			Expect(base.State()).To(Equal(hwobj.StateReady))
		})
	})

	It("accepts Abort and Stop in any state without error", func() {
		Expect(base.Abort(ctx)).To(Succeed())
		Expect(base.Stop(ctx)).To(Succeed())

		Expect(base.UpdateState(ctx, hwobj.StateOff)).To(Succeed())
		Expect(base.Abort(ctx)).To(Succeed())
		Expect(base.Stop(ctx)).To(Succeed())
	})
})
