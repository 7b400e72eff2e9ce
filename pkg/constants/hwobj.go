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
	// DefaultWaitReadyTimeout is the timeout applied by WaitReady when the
	// caller passes no explicit deadline. Long enough for a full-stroke
	// motor move, short enough to surface a stuck axis.
	DefaultWaitReadyTimeout = 60 * time.Second

	// WaitReadyPollInterval is how often WaitReady re-checks the state when
	// it cannot subscribe to state notifications.
	WaitReadyPollInterval = 10 * time.Millisecond

	// DefaultActuatorTimeout bounds a single set-value operation including
	// the travel time to the target.
	DefaultActuatorTimeout = 30 * time.Second

	// DefaultValueTolerance is the epsilon used when comparing float values
	// for update suppression. Readback noise below this never emits.
	DefaultValueTolerance = 1e-4

	// StatePollInterval is the cadence at which hardware objects without
	// push notifications are polled for state and value.
	StatePollInterval = 200 * time.Millisecond
)
