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
	// GraphLoadTimeout bounds one full load of an object graph, including
	// every Init along the way. Loads run outside the tick budget because
	// object initialization may touch real hardware.
	GraphLoadTimeout = 2 * time.Minute

	// GraphShutdownTimeout bounds the teardown of a graph's objects. It
	// applies both when a reload replaces a running graph and when a failed
	// load abandons partially constructed objects.
	GraphShutdownTimeout = 10 * time.Second
)
