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
	// DefaultAPIPort is the listen port of the HTTP control API.
	DefaultAPIPort = 8090

	// DefaultMetricsPort is the listen port of the Prometheus metrics endpoint.
	DefaultMetricsPort = 8080

	// APIReadTimeout bounds reading a request including the body.
	APIReadTimeout = 10 * time.Second

	// APIWriteTimeout bounds writing a response. Set-value requests wait
	// for the actuator to reach its target, so this must cover a move.
	APIWriteTimeout = 60 * time.Second

	// APIShutdownTimeout is how long in-flight requests get to finish
	// during graceful shutdown.
	APIShutdownTimeout = 5 * time.Second
)
