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

package starvationchecker

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("StarvationChecker", func() {
	var checker *StarvationChecker

	BeforeEach(func() {
		checker = NewStarvationChecker(100 * time.Millisecond)
	})

	AfterEach(func() {
		checker.Stop()
	})

	Describe("Background starvation check", func() {
		It("should detect starvation when no cycles happen", func() {
			// Wait for more than the starvation threshold
			time.Sleep(150 * time.Millisecond)

			// Verify the last cycle time hasn't changed
			lastCycle := checker.GetLastCycleTime()
			Expect(time.Since(lastCycle)).To(BeNumerically(">=", 150*time.Millisecond))
		})

		It("should update last cycle time when the loop stamps a cycle", func() {
			// Wait a bit
			time.Sleep(50 * time.Millisecond)

			checker.UpdateLastCycleTime()

			// Verify the last cycle time was updated
			lastCycle := checker.GetLastCycleTime()
			Expect(time.Since(lastCycle)).To(BeNumerically("<", 50*time.Millisecond))
		})
	})

	Describe("Cycle stamping", func() {
		It("should update last cycle time", func() {
			// Get initial time
			initialTime := checker.GetLastCycleTime()

			// Wait a bit
			time.Sleep(50 * time.Millisecond)

			checker.UpdateLastCycleTime()

			// Verify the time was updated
			newTime := checker.GetLastCycleTime()
			Expect(newTime).To(BeTemporally(">", initialTime))
		})

		It("should not detect starvation when cycles happen frequently", func() {
			// Stamp several cycles with small delays
			for i := 0; i < 3; i++ {
				checker.UpdateLastCycleTime()
				time.Sleep(30 * time.Millisecond)
			}

			// Verify the last cycle time is recent
			lastCycle := checker.GetLastCycleTime()
			Expect(time.Since(lastCycle)).To(BeNumerically("<", 50*time.Millisecond))
		})
	})

	Describe("Stop method", func() {
		It("should stop the background checker", func() {
			// Get initial time
			initialTime := checker.GetLastCycleTime()

			// Stop the checker
			checker.Stop()

			// Wait a bit
			time.Sleep(150 * time.Millisecond)

			// Verify the time hasn't changed
			newTime := checker.GetLastCycleTime()
			Expect(newTime).To(Equal(initialTime))
		})
	})
})
