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

package control

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/beamline-hub/blh-core/pkg/hwobj"
	"github.com/beamline-hub/blh-core/pkg/loader"
	"github.com/beamline-hub/blh-core/pkg/service/filesystem"
)

var _ = Describe("Journal", func() {
	var (
		ctx context.Context
		dir string
		fs  filesystem.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		fs = filesystem.NewDefaultService()
	})

	snapshotEntry := func(tick uint64) JournalEntry {
		value := 12.5

		return JournalEntry{
			Time:    time.Now().UTC(),
			Tick:    tick,
			Session: "6f1c9a4e-session",
			Objects: []loader.ObjectStatus{
				{
					Role:   "omega",
					Class:  "MockMotor",
					State:  string(hwobj.StateReady),
					Value:  &value,
					Limits: []float64{-180, 180},
				},
				{
					Role:     "safety_shutter",
					Class:    "Shutter",
					State:    string(hwobj.StateReady),
					Position: "closed",
				},
			},
		}
	}

	It("persists appended snapshots as a decodable segment", func() {
		j, err := NewJournal(ctx, dir, fs)
		Expect(err).NotTo(HaveOccurred())

		first := snapshotEntry(10)
		j.Append(first)
		j.Append(snapshotEntry(20))
		j.Append(snapshotEntry(30))

		// Close drains whatever is still queued before sealing the segment.
		Expect(j.Close()).To(Succeed())

		segments, err := j.Segments(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(segments).To(HaveLen(1))

		entries, err := ReadSegment(segments[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(3))

		Expect(entries[0].Tick).To(Equal(uint64(10)))
		Expect(entries[0].Session).To(Equal(first.Session))
		Expect(entries[0].Time).To(BeTemporally("==", first.Time))
		Expect(entries[2].Tick).To(Equal(uint64(30)))

		Expect(entries[0].Objects).To(HaveLen(2))
		Expect(entries[0].Objects[0].Role).To(Equal("omega"))
		Expect(entries[0].Objects[0].State).To(Equal(string(hwobj.StateReady)))
		Expect(entries[0].Objects[0].Value).NotTo(BeNil())
		Expect(*entries[0].Objects[0].Value).To(Equal(12.5))
		Expect(entries[0].Objects[0].Limits).To(Equal([]float64{-180, 180}))
		Expect(entries[0].Objects[1].Position).To(Equal("closed"))
	})

	It("ignores appends after close", func() {
		j, err := NewJournal(ctx, dir, fs)
		Expect(err).NotTo(HaveOccurred())

		j.Append(snapshotEntry(1))
		Expect(j.Close()).To(Succeed())

		// Nobody is consuming anymore; this must neither block nor panic.
		j.Append(snapshotEntry(2))

		segments, err := j.Segments(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(segments).To(HaveLen(1))

		entries, err := ReadSegment(segments[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Tick).To(Equal(uint64(1)))
	})

	It("names segments so lexicographic order is chronological", func() {
		j1, err := NewJournal(ctx, dir, fs)
		Expect(err).NotTo(HaveOccurred())
		j1.Append(snapshotEntry(1))
		Expect(j1.Close()).To(Succeed())

		// A fresh journal in the same directory starts its own segment.
		j2, err := NewJournal(ctx, dir, fs)
		Expect(err).NotTo(HaveOccurred())
		j2.Append(snapshotEntry(2))
		Expect(j2.Close()).To(Succeed())

		segments, err := j2.Segments(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(segments).To(HaveLen(2))
		Expect(segments[0] < segments[1]).To(BeTrue())

		older, err := ReadSegment(segments[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(older[0].Tick).To(Equal(uint64(1)))

		newer, err := ReadSegment(segments[1])
		Expect(err).NotTo(HaveOccurred())
		Expect(newer[0].Tick).To(Equal(uint64(2)))
	})

	It("fails to read a segment that does not exist", func() {
		_, err := ReadSegment(dir + "/journal-missing.jsonl.zst")
		Expect(err).To(HaveOccurred())
	})
})
