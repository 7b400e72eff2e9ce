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
	// ChannelReadTimeout bounds a single channel read against a control
	// system endpoint.
	ChannelReadTimeout = 3 * time.Second

	// ChannelWriteTimeout bounds a single channel write. Writes may involve
	// a handshake with the endpoint, so this is longer than reads.
	ChannelWriteTimeout = 5 * time.Second

	// ChannelStalenessTTL is how long a cached channel reading stays fresh.
	// A reading older than this is treated as unknown and forces a re-read.
	ChannelStalenessTTL = 2 * time.Second

	// ChannelCacheCleanupInterval is how often expired cached readings are
	// evicted.
	ChannelCacheCleanupInterval = 10 * time.Second

	// RestChannelMaxRetries is the number of retry attempts for a REST
	// channel request before the error is surfaced to the caller.
	RestChannelMaxRetries = 3

	// RestChannelInitialBackoff is the first retry delay for REST channel
	// requests. Subsequent delays grow exponentially.
	RestChannelInitialBackoff = 100 * time.Millisecond

	// RestChannelMaxBackoff caps the exponential retry delay for REST
	// channel requests.
	RestChannelMaxBackoff = 2 * time.Second
)
