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
	// JournalDir is where state and value transition journals are written.
	JournalDir = "/var/lib/blh/journal"

	// JournalSnapshotInterval is how often the run loop appends a graph
	// snapshot to the journal. Snapshots are a flight recorder, not a
	// telemetry stream; once a second is enough to reconstruct what the
	// beamline was doing before an incident.
	JournalSnapshotInterval = time.Second

	// JournalMaxSegmentBytes is the compressed size at which the active
	// journal segment is closed and a new one started.
	JournalMaxSegmentBytes = 16 * 1024 * 1024

	// JournalMaxSegments bounds how many rotated segments are kept on
	// disk. The oldest segment is deleted when a rotation would exceed it.
	JournalMaxSegments = 8

	// JournalFlushInterval is the maximum time a buffered journal entry
	// waits before it is forced to disk.
	JournalFlushInterval = time.Second

	// JournalQueueSize is the capacity of the in-memory entry queue.
	// When full, entries are dropped rather than blocking an emitter.
	JournalQueueSize = 4096
)
