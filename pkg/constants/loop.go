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

package constants

import "time"

const (
	// DefaultTickerTime is the interval between poll cycles of the run loop.
	// This value balances responsiveness with resource utilization:
	// - Too small: pollers do not have enough time to complete their reads
	// - Too high: delayed detection of hardware state changes
	DefaultTickerTime = 100 * time.Millisecond

	// StarvationThreshold defines when to consider the run loop starved.
	// If no poll cycle has completed for this duration, the starvation
	// detector will log warnings and record metrics.
	// Starvation happens for example when a channel adapter blocks on a
	// dead connection without honoring its context deadline.
	StarvationThreshold = 15 * time.Second

	// DefaultLoopName is the default name for a run loop.
	DefaultLoopName = "Core"

	// LoopPollTimeFactor is the share of the tick budget handed to the
	// object pollers. The remainder stays reserved for cycle bookkeeping:
	// starvation stamping, journaling and the cycle time metrics.
	LoopPollTimeFactor = 0.8

	// MaxConcurrentPollOperations caps how many object pollers run at the
	// same time within one cycle. Polling is I/O bound, so a small pool is
	// enough; when a graph has more pollable objects than this, the cycle
	// rotates through them batch by batch.
	MaxConcurrentPollOperations = 8

	// DefaultMinimumRemainingTimePerObject is the minimum slice of the tick
	// budget an object poller must have left to be scheduled this cycle.
	DefaultMinimumRemainingTimePerObject = time.Millisecond * 50

	// maximum times in a row the same object may report a value change
	// before we put its poller into a cooling-off period
	StarvationLimit = 3

	// number of run-loop ticks a poller stays in cooldown
	CoolDownTicks = 5
)
